package handler

import (
	"github.com/gin-gonic/gin"
	"github.com/jecaicedo27/toppingfrozen-sub006/internal/middleware"
	"github.com/jecaicedo27/toppingfrozen-sub006/internal/oms/service"
)

// RouteConfig carries the secrets the router needs.
type RouteConfig struct {
	JWTSecret    string
	WebhookToken string
}

// SiigoTokenHeader carries the shared secret of the SIIGO webhook.
const SiigoTokenHeader = "X-Siigo-Token"

// RegisterRoutes mounts the order module under /api/v1.
func RegisterRoutes(r *gin.Engine, h *Handlers, cfg RouteConfig) {
	v1 := r.Group("/api/v1")

	webhooks := v1.Group("/webhooks")
	{
		webhooks.POST("/siigo", middleware.SharedToken(SiigoTokenHeader, cfg.WebhookToken), h.Siigo.Webhook)
	}

	authorized := v1.Group("", middleware.JWTAuth(cfg.JWTSecret))
	staff := middleware.RequireRole(service.KnownRoles...)
	adminOnly := middleware.RequireRole(service.RoleAdmin)
	billing := middleware.RequireRole(service.RoleBilling)
	credit := middleware.RequireRole(service.RoleCredit)
	logistics := middleware.RequireRole(service.RoleLogistics)
	courier := middleware.RequireRole(service.RoleCourier)
	packer := middleware.RequireRole(service.RolePacker)

	// SSE
	authorized.GET("/sse/events", h.SSE.Stream)

	// Evidence
	authorized.POST("/evidence", staff, h.Evidence.Upload)
	authorized.GET("/evidence/url", staff, h.Evidence.URL)

	orders := authorized.Group("/orders")
	{
		orders.GET("", staff, h.Order.List)
		orders.POST("", billing, h.Order.Create)
		orders.GET("/:id", staff, h.Order.Get)
		orders.GET("/:id/history", staff, h.Order.History)
		orders.POST("/:id/transition", staff, h.Order.Transition)
		orders.POST("/:id/cancel", staff, h.Order.Cancel)
		orders.POST("/:id/cancel/ack", logistics, h.Order.AcknowledgeCancellation)
		orders.PUT("/:id/items", billing, h.Order.UpdateItems)

		// Packaging
		orders.POST("/:id/packaging/begin", packer, h.Packaging.Begin)
		orders.GET("/:id/packaging", staff, h.Packaging.Progress)
		orders.POST("/:id/packaging/scan", packer, h.Packaging.Scan)
		orders.POST("/:id/packaging/complete", packer, h.Packaging.Complete)
		orders.POST("/:id/packaging/evidence", packer, h.Packaging.AddEvidence)
		orders.GET("/:id/packaging/evidence", staff, h.Packaging.ListEvidence)
		orders.GET("/:id/packaging/lock", staff, h.Packaging.LockStatus)
		orders.POST("/:id/packaging/lock", packer, h.Packaging.AcquireLock)
		orders.PUT("/:id/packaging/lock", packer, h.Packaging.Heartbeat)
		orders.DELETE("/:id/packaging/lock", packer, h.Packaging.ReleaseLock)
		orders.DELETE("/:id/packaging/lock/force", adminOnly, h.Packaging.ForceUnlock)

		// Delivery
		orders.POST("/:id/courier", logistics, h.Courier.Assign)
		orders.POST("/:id/courier/accept", courier, h.Courier.Accept)
		orders.POST("/:id/courier/reject", courier, h.Courier.Reject)
		orders.POST("/:id/courier/start", courier, h.Courier.Start)
		orders.POST("/:id/delivery", middleware.RequireRole(service.RoleCourier, service.RoleLogistics), h.Courier.Deliver)
		orders.POST("/:id/carrier", logistics, h.Courier.AssignCarrier)

		// SIIGO closure
		orders.POST("/:id/siigo-close", credit, h.Treasury.CloseOrder)
		orders.POST("/:id/siigo-close/retry", credit, h.Treasury.RetryWriteback)
	}

	cash := authorized.Group("/courier")
	{
		cash.GET("/cash/pending", middleware.RequireRole(service.RoleCourier, service.RoleCredit), h.Courier.PendingCash)
		cash.POST("/cash/declarations", courier, h.Courier.Declare)
		cash.GET("/cash/declarations", middleware.RequireRole(service.RoleCourier, service.RoleCredit), h.Courier.ListDeclarations)
		cash.GET("/cash/declarations/:id", middleware.RequireRole(service.RoleCourier, service.RoleCredit), h.Courier.GetDeclaration)
		cash.POST("/cash/declarations/:id/accept", credit, h.Courier.AcceptDeclaration)

		cash.POST("/adhoc", middleware.RequireRole(service.RoleCourier, service.RoleCredit), h.Courier.RegisterAdhoc)
		cash.GET("/adhoc", middleware.RequireRole(service.RoleCourier, service.RoleCredit), h.Courier.ListAdhoc)
		cash.POST("/adhoc/:id/accept", credit, h.Courier.AcceptAdhoc)
		cash.POST("/adhoc/:id/reject", credit, h.Courier.RejectAdhoc)
	}

	treasury := authorized.Group("/treasury", credit)
	{
		treasury.POST("/deposits", h.Treasury.CreateDeposit)
		treasury.GET("/deposits", h.Treasury.ListDeposits)
		treasury.GET("/deposits/:id", h.Treasury.GetDeposit)
		treasury.PUT("/deposits/:id/evidence", h.Treasury.AttachEvidence)
		treasury.PUT("/deposits/:id/siigo-closed", h.Treasury.SetSiigoClosed)
		treasury.GET("/deposit-candidates", h.Treasury.Candidates)

		treasury.POST("/movements", h.Treasury.CreateMovement)
		treasury.GET("/movements", h.Treasury.ListMovements)
		treasury.POST("/movements/:id/approve", adminOnly, h.Treasury.ApproveMovement)
		treasury.POST("/movements/:id/reject", adminOnly, h.Treasury.RejectMovement)
		treasury.DELETE("/movements/:id", h.Treasury.DeleteMovement)

		treasury.GET("/balance", h.Treasury.Balance)
	}

	reports := authorized.Group("/reports", credit)
	{
		reports.GET("/deposits.xlsx", h.Report.Deposits)
		reports.GET("/declarations.xlsx", h.Report.Declarations)
		reports.GET("/movements.xlsx", h.Report.Movements)
	}

	siigo := authorized.Group("/siigo", middleware.RequireRole(service.RoleBilling, service.RoleCredit))
	{
		siigo.POST("/invoices/:externalId/import", h.Siigo.Import)
		siigo.GET("/sync-logs", h.Siigo.Logs)
		siigo.POST("/sync-logs/:id/resolve", h.Siigo.Resolve)
		siigo.GET("/operator-queue", h.Siigo.Queue)
	}
}

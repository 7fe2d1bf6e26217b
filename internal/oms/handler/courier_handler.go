package handler

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jecaicedo27/toppingfrozen-sub006/internal/oms/service"
	"github.com/shopspring/decimal"
)

// CourierHandler serves delivery, courier cash and ad-hoc payments.
type CourierHandler struct {
	svc *service.CustodyService
}

func NewCourierHandler(svc *service.CustodyService) *CourierHandler {
	return &CourierHandler{svc: svc}
}

type assignCourierRequest struct {
	CourierID string `json:"courier_id" binding:"required"`
}

// Assign POST /orders/:id/courier
func (h *CourierHandler) Assign(c *gin.Context) {
	var req assignCourierRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, err)
		return
	}
	order, err := h.svc.AssignCourier(c.Request.Context(), c.Param("id"), req.CourierID, GetActor(c))
	if err != nil {
		RespondError(c, err)
		return
	}
	Success(c, order)
}

// Accept POST /orders/:id/courier/accept
func (h *CourierHandler) Accept(c *gin.Context) {
	order, err := h.svc.AcceptAssignment(c.Request.Context(), c.Param("id"), GetActor(c))
	if err != nil {
		RespondError(c, err)
		return
	}
	Success(c, order)
}

type reasonRequest struct {
	Reason string `json:"reason" binding:"required"`
}

// Reject POST /orders/:id/courier/reject
func (h *CourierHandler) Reject(c *gin.Context) {
	var req reasonRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, err)
		return
	}
	order, err := h.svc.RejectAssignment(c.Request.Context(), c.Param("id"), req.Reason, GetActor(c))
	if err != nil {
		RespondError(c, err)
		return
	}
	Success(c, order)
}

// Start POST /orders/:id/courier/start
func (h *CourierHandler) Start(c *gin.Context) {
	order, err := h.svc.StartDelivery(c.Request.Context(), c.Param("id"), GetActor(c))
	if err != nil {
		RespondError(c, err)
		return
	}
	Success(c, order)
}

// Deliver POST /orders/:id/delivery
func (h *CourierHandler) Deliver(c *gin.Context) {
	var req service.DeliveryInput
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, err)
		return
	}
	order, err := h.svc.CompleteDelivery(c.Request.Context(), c.Param("id"), GetActor(c), req)
	if err != nil {
		RespondError(c, err)
		return
	}
	Success(c, order)
}

type carrierRequest struct {
	Carrier string `json:"carrier" binding:"required"`
	Guide   string `json:"guide" binding:"required"`
}

// AssignCarrier POST /orders/:id/carrier
func (h *CourierHandler) AssignCarrier(c *gin.Context) {
	var req carrierRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, err)
		return
	}
	order, err := h.svc.AssignCarrier(c.Request.Context(), c.Param("id"), req.Carrier, req.Guide, GetActor(c))
	if err != nil {
		RespondError(c, err)
		return
	}
	Success(c, order)
}

func parseDay(v string) (time.Time, error) {
	if v == "" {
		return time.Now(), nil
	}
	return time.ParseInLocation("2006-01-02", v, time.Local)
}

// PendingCash GET /courier/cash/pending?courier_id=&date=
func (h *CourierHandler) PendingCash(c *gin.Context) {
	day, err := parseDay(c.Query("date"))
	if err != nil {
		BadRequest(c, "fecha inválida, use AAAA-MM-DD")
		return
	}
	courierID := c.DefaultQuery("courier_id", GetUserID(c))
	pending, err := h.svc.PendingCash(c.Request.Context(), courierID, day)
	if err != nil {
		RespondError(c, err)
		return
	}
	Success(c, pending)
}

type declareRequest struct {
	CourierID string          `json:"courier_id"`
	Date      string          `json:"date"`
	Amount    decimal.Decimal `json:"amount" binding:"required"`
	Notes     string          `json:"notes"`
}

// Declare POST /courier/cash/declarations
func (h *CourierHandler) Declare(c *gin.Context) {
	var req declareRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, err)
		return
	}
	day, err := parseDay(req.Date)
	if err != nil {
		BadRequest(c, "fecha inválida, use AAAA-MM-DD")
		return
	}
	actor := GetActor(c)
	if req.CourierID == "" {
		req.CourierID = actor.ID
	}
	decl, err := h.svc.DeclareCash(c.Request.Context(), req.CourierID, day, req.Amount, actor, req.Notes)
	if err != nil {
		RespondError(c, err)
		return
	}
	Created(c, decl)
}

// AcceptDeclaration POST /courier/cash/declarations/:id/accept
func (h *CourierHandler) AcceptDeclaration(c *gin.Context) {
	decl, err := h.svc.AcceptCourierCash(c.Request.Context(), c.Param("id"), GetActor(c))
	if err != nil {
		RespondError(c, err)
		return
	}
	Success(c, decl)
}

// GetDeclaration GET /courier/cash/declarations/:id
func (h *CourierHandler) GetDeclaration(c *gin.Context) {
	decl, err := h.svc.GetDeclaration(c.Request.Context(), c.Param("id"))
	if err != nil {
		RespondError(c, err)
		return
	}
	Success(c, decl)
}

// ListDeclarations GET /courier/cash/declarations
func (h *CourierHandler) ListDeclarations(c *gin.Context) {
	dates, err := GetDateRange(c)
	if err != nil {
		RespondError(c, err)
		return
	}
	rows, err := h.svc.ListDeclarations(c.Request.Context(), queryFilters(c, "courier_id", "status"), dates)
	if err != nil {
		RespondError(c, err)
		return
	}
	Success(c, gin.H{"items": rows})
}

// RegisterAdhoc POST /courier/adhoc
func (h *CourierHandler) RegisterAdhoc(c *gin.Context) {
	var req service.AdhocInput
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, err)
		return
	}
	p, err := h.svc.RegisterAdhocPayment(c.Request.Context(), req, GetActor(c))
	if err != nil {
		RespondError(c, err)
		return
	}
	Created(c, p)
}

// AcceptAdhoc POST /courier/adhoc/:id/accept
func (h *CourierHandler) AcceptAdhoc(c *gin.Context) {
	p, err := h.svc.AcceptAdhocPayment(c.Request.Context(), c.Param("id"), GetActor(c))
	if err != nil {
		RespondError(c, err)
		return
	}
	Success(c, p)
}

// RejectAdhoc POST /courier/adhoc/:id/reject
func (h *CourierHandler) RejectAdhoc(c *gin.Context) {
	p, err := h.svc.RejectAdhocPayment(c.Request.Context(), c.Param("id"), GetActor(c))
	if err != nil {
		RespondError(c, err)
		return
	}
	Success(c, p)
}

// ListAdhoc GET /courier/adhoc?courier_id=&status=
func (h *CourierHandler) ListAdhoc(c *gin.Context) {
	rows, err := h.svc.ListAdhocPayments(c.Request.Context(), c.Query("courier_id"), c.Query("status"))
	if err != nil {
		RespondError(c, err)
		return
	}
	Success(c, gin.H{"items": rows})
}

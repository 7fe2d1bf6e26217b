package handler

import (
	"github.com/gin-gonic/gin"
	"github.com/jecaicedo27/toppingfrozen-sub006/internal/oms/entity"
	"github.com/jecaicedo27/toppingfrozen-sub006/internal/oms/service"
	"github.com/jecaicedo27/toppingfrozen-sub006/internal/shared/siigo"
	"go.uber.org/zap"
)

type SiigoHandler struct {
	svc    *service.SiigoImportService
	queue  Enqueuer
	logger *zap.Logger
}

func NewSiigoHandler(svc *service.SiigoImportService, queue Enqueuer, logger *zap.Logger) *SiigoHandler {
	return &SiigoHandler{svc: svc, queue: queue, logger: logger.Named("siigo_webhook")}
}

// Webhook POST /webhooks/siigo
//
// The invoice is only queued here; the import runs on the scheduler.
func (h *SiigoHandler) Webhook(c *gin.Context) {
	var ev siigo.WebhookEvent
	if err := c.ShouldBindJSON(&ev); err != nil {
		BadRequest(c, "cuerpo de webhook inválido")
		return
	}
	id := ev.InvoiceID()
	if id == "" {
		BadRequest(c, "el webhook no trae id de factura")
		return
	}
	queued := h.queue != nil && h.queue.Enqueue(id, entity.SyncWebhook)
	h.logger.Info("webhook received",
		zap.String("topic", ev.Topic),
		zap.String("external_id", id),
		zap.Bool("queued", queued),
	)
	c.JSON(202, Response{Code: 0, Message: "accepted", Data: gin.H{"external_invoice_id": id, "queued": queued}})
}

// Import POST /siigo/invoices/:externalId/import
func (h *SiigoHandler) Import(c *gin.Context) {
	res, err := h.svc.RetryImport(c.Request.Context(), c.Param("externalId"), GetActor(c))
	if err != nil {
		RespondError(c, err)
		return
	}
	Success(c, res)
}

// Logs GET /siigo/sync-logs
func (h *SiigoHandler) Logs(c *gin.Context) {
	page, pageSize := GetPagination(c)
	rows, total, err := h.svc.ListLogs(c.Request.Context(), page, pageSize,
		queryFilters(c, "status", "sync_type", "external_invoice_id"))
	if err != nil {
		RespondError(c, err)
		return
	}
	Success(c, ListResponse{Items: rows, Pagination: NewPagination(page, pageSize, total)})
}

// Queue GET /siigo/operator-queue
func (h *SiigoHandler) Queue(c *gin.Context) {
	rows, err := h.svc.OperatorQueue(c.Request.Context())
	if err != nil {
		RespondError(c, err)
		return
	}
	Success(c, gin.H{"items": rows})
}

// Resolve POST /siigo/sync-logs/:id/resolve
func (h *SiigoHandler) Resolve(c *gin.Context) {
	l, err := h.svc.ResolveSyncLog(c.Request.Context(), c.Param("id"), GetActor(c))
	if err != nil {
		RespondError(c, err)
		return
	}
	Success(c, l)
}

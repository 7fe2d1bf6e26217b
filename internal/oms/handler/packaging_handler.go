package handler

import (
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/jecaicedo27/toppingfrozen-sub006/internal/oms/service"
)

type PackagingHandler struct {
	svc *service.PackagingService
}

func NewPackagingHandler(svc *service.PackagingService) *PackagingHandler {
	return &PackagingHandler{svc: svc}
}

// Begin POST /orders/:id/packaging/start
func (h *PackagingHandler) Begin(c *gin.Context) {
	progress, err := h.svc.BeginPackaging(c.Request.Context(), c.Param("id"), GetActor(c))
	if err != nil {
		RespondError(c, err)
		return
	}
	Success(c, progress)
}

// Progress GET /orders/:id/packaging
func (h *PackagingHandler) Progress(c *gin.Context) {
	progress, err := h.svc.Progress(c.Request.Context(), c.Param("id"))
	if err != nil {
		RespondError(c, err)
		return
	}
	Success(c, progress)
}

type scanRequest struct {
	ItemID   string `json:"item_id"`
	Barcode  string `json:"barcode"`
	Quantity int    `json:"quantity" binding:"omitempty,min=1,max=1000"`
}

// Scan POST /orders/:id/packaging/scan
func (h *PackagingHandler) Scan(c *gin.Context) {
	var req scanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, err)
		return
	}
	if req.ItemID == "" && req.Barcode == "" {
		BadRequest(c, "indique el producto o el código de barras")
		return
	}
	actor := GetActor(c)
	item, err := h.svc.Scan(c.Request.Context(), c.Param("id"), req.ItemID,
		service.ScanEvent{Barcode: req.Barcode, Quantity: req.Quantity, ScannedBy: actor.ID}, actor)
	if err != nil {
		RespondError(c, err)
		return
	}
	Success(c, item)
}

// Complete POST /orders/:id/packaging/complete
func (h *PackagingHandler) Complete(c *gin.Context) {
	order, err := h.svc.CompletePackaging(c.Request.Context(), c.Param("id"), GetActor(c))
	if err != nil {
		RespondError(c, err)
		return
	}
	Success(c, order)
}

// AddEvidence POST /orders/:id/packaging/evidence (multipart "file")
func (h *PackagingHandler) AddEvidence(c *gin.Context) {
	upload, closeFn, err := formUpload(c, "file")
	if err != nil {
		BadRequest(c, "adjunte la foto en el campo file")
		return
	}
	defer closeFn()
	ev, err := h.svc.AddEvidence(c.Request.Context(), c.Param("id"), upload, GetActor(c))
	if err != nil {
		RespondError(c, err)
		return
	}
	Created(c, ev)
}

// ListEvidence GET /orders/:id/packaging/evidence
func (h *PackagingHandler) ListEvidence(c *gin.Context) {
	rows, err := h.svc.ListEvidence(c.Request.Context(), c.Param("id"))
	if err != nil {
		RespondError(c, err)
		return
	}
	Success(c, gin.H{"items": rows})
}

// LockStatus GET /orders/:id/packaging/lock
func (h *PackagingHandler) LockStatus(c *gin.Context) {
	info, err := h.svc.LockStatus(c.Request.Context(), c.Param("id"), GetActor(c))
	if err != nil {
		RespondError(c, err)
		return
	}
	Success(c, info)
}

// AcquireLock POST /orders/:id/packaging/lock
func (h *PackagingHandler) AcquireLock(c *gin.Context) {
	info, err := h.svc.AcquireLock(c.Request.Context(), c.Param("id"), GetActor(c))
	if errors.Is(err, service.ErrPackagingLocked) && info != nil {
		ErrorWithData(c, 42300, err.Error(), info)
		return
	}
	if err != nil {
		RespondError(c, err)
		return
	}
	Success(c, info)
}

// Heartbeat PUT /orders/:id/packaging/lock
func (h *PackagingHandler) Heartbeat(c *gin.Context) {
	info, err := h.svc.Heartbeat(c.Request.Context(), c.Param("id"), GetActor(c))
	if err != nil {
		RespondError(c, err)
		return
	}
	Success(c, info)
}

// ReleaseLock DELETE /orders/:id/packaging/lock
func (h *PackagingHandler) ReleaseLock(c *gin.Context) {
	if err := h.svc.ReleaseLock(c.Request.Context(), c.Param("id"), GetActor(c)); err != nil {
		RespondError(c, err)
		return
	}
	Success(c, nil)
}

// ForceUnlock DELETE /orders/:id/packaging/lock/force
func (h *PackagingHandler) ForceUnlock(c *gin.Context) {
	if err := h.svc.ForceUnlock(c.Request.Context(), c.Param("id"), GetActor(c)); err != nil {
		RespondError(c, err)
		return
	}
	Success(c, nil)
}

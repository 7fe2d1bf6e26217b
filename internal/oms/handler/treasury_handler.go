package handler

import (
	"github.com/gin-gonic/gin"
	"github.com/jecaicedo27/toppingfrozen-sub006/internal/oms/service"
)

type TreasuryHandler struct {
	svc *service.TreasuryService
}

func NewTreasuryHandler(svc *service.TreasuryService) *TreasuryHandler {
	return &TreasuryHandler{svc: svc}
}

// CreateDeposit POST /treasury/deposits
func (h *TreasuryHandler) CreateDeposit(c *gin.Context) {
	var req service.DepositInput
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, err)
		return
	}
	d, err := h.svc.CreateDeposit(c.Request.Context(), GetActor(c), req)
	if err != nil {
		RespondError(c, err)
		return
	}
	Created(c, d)
}

// ListDeposits GET /treasury/deposits?from=&to=
func (h *TreasuryHandler) ListDeposits(c *gin.Context) {
	dates, err := GetDateRange(c)
	if err != nil {
		RespondError(c, err)
		return
	}
	rows, err := h.svc.ListDeposits(c.Request.Context(), dates)
	if err != nil {
		RespondError(c, err)
		return
	}
	Success(c, gin.H{"items": rows})
}

// GetDeposit GET /treasury/deposits/:id
func (h *TreasuryHandler) GetDeposit(c *gin.Context) {
	d, err := h.svc.GetDeposit(c.Request.Context(), c.Param("id"))
	if err != nil {
		RespondError(c, err)
		return
	}
	Success(c, d)
}

type evidenceKeyRequest struct {
	EvidenceKey string `json:"evidence_key" binding:"required"`
}

// AttachEvidence PUT /treasury/deposits/:id/evidence
func (h *TreasuryHandler) AttachEvidence(c *gin.Context) {
	var req evidenceKeyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, err)
		return
	}
	d, err := h.svc.AttachDepositEvidence(c.Request.Context(), c.Param("id"), req.EvidenceKey, GetActor(c))
	if err != nil {
		RespondError(c, err)
		return
	}
	Success(c, d)
}

type siigoClosedRequest struct {
	Closed *bool `json:"closed" binding:"required"`
}

// SetSiigoClosed PUT /treasury/deposits/:id/siigo-closed
func (h *TreasuryHandler) SetSiigoClosed(c *gin.Context) {
	var req siigoClosedRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, err)
		return
	}
	d, err := h.svc.SetSiigoClosed(c.Request.Context(), c.Param("id"), *req.Closed, GetActor(c))
	if err != nil {
		RespondError(c, err)
		return
	}
	Success(c, d)
}

// Candidates GET /treasury/deposit-candidates
func (h *TreasuryHandler) Candidates(c *gin.Context) {
	rows, err := h.svc.DepositCandidates(c.Request.Context())
	if err != nil {
		RespondError(c, err)
		return
	}
	Success(c, gin.H{"items": rows})
}

type closeOrderRequest struct {
	Method string `json:"method" binding:"required,oneof=efectivo transferencia"`
	Note   string `json:"note"`
}

// CloseOrder POST /orders/:id/siigo-close
func (h *TreasuryHandler) CloseOrder(c *gin.Context) {
	var req closeOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, err)
		return
	}
	order, err := h.svc.CloseOrderInSiigo(c.Request.Context(), c.Param("id"), req.Method, req.Note, GetActor(c))
	if err != nil {
		RespondError(c, err)
		return
	}
	Success(c, order)
}

// RetryWriteback POST /orders/:id/siigo-close/retry
func (h *TreasuryHandler) RetryWriteback(c *gin.Context) {
	order, err := h.svc.RetryClosureWriteback(c.Request.Context(), c.Param("id"), GetActor(c))
	if err != nil {
		RespondError(c, err)
		return
	}
	Success(c, order)
}

// CreateMovement POST /treasury/movements
func (h *TreasuryHandler) CreateMovement(c *gin.Context) {
	var req service.MovementInput
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, err)
		return
	}
	m, err := h.svc.CreateMovement(c.Request.Context(), GetActor(c), req)
	if err != nil {
		RespondError(c, err)
		return
	}
	Created(c, m)
}

// ListMovements GET /treasury/movements?type=&status=&order_id=&from=&to=
func (h *TreasuryHandler) ListMovements(c *gin.Context) {
	dates, err := GetDateRange(c)
	if err != nil {
		RespondError(c, err)
		return
	}
	rows, err := h.svc.ListMovements(c.Request.Context(), queryFilters(c, "type", "status", "order_id"), dates)
	if err != nil {
		RespondError(c, err)
		return
	}
	Success(c, gin.H{"items": rows})
}

// ApproveMovement POST /treasury/movements/:id/approve
func (h *TreasuryHandler) ApproveMovement(c *gin.Context) {
	m, err := h.svc.ApproveMovement(c.Request.Context(), c.Param("id"), GetActor(c))
	if err != nil {
		RespondError(c, err)
		return
	}
	Success(c, m)
}

// RejectMovement POST /treasury/movements/:id/reject
func (h *TreasuryHandler) RejectMovement(c *gin.Context) {
	m, err := h.svc.RejectMovement(c.Request.Context(), c.Param("id"), GetActor(c))
	if err != nil {
		RespondError(c, err)
		return
	}
	Success(c, m)
}

// DeleteMovement DELETE /treasury/movements/:id
func (h *TreasuryHandler) DeleteMovement(c *gin.Context) {
	if err := h.svc.DeleteMovement(c.Request.Context(), c.Param("id"), GetActor(c)); err != nil {
		RespondError(c, err)
		return
	}
	Success(c, nil)
}

// Balance GET /treasury/balance?from=&to=
func (h *TreasuryHandler) Balance(c *gin.Context) {
	dates, err := GetDateRange(c)
	if err != nil {
		RespondError(c, err)
		return
	}
	b, err := h.svc.CashBalance(c.Request.Context(), dates)
	if err != nil {
		RespondError(c, err)
		return
	}
	Success(c, b)
}

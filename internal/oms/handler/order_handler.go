package handler

import (
	"github.com/gin-gonic/gin"
	"github.com/jecaicedo27/toppingfrozen-sub006/internal/oms/service"
)

type OrderHandler struct {
	svc *service.OrderService
}

func NewOrderHandler(svc *service.OrderService) *OrderHandler {
	return &OrderHandler{svc: svc}
}

// List GET /orders
func (h *OrderHandler) List(c *gin.Context) {
	page, pageSize := GetPagination(c)
	filters := queryFilters(c, "status", "assigned_to", "order_source", "parsing_status",
		"needs_logistics_ack", "siigo_closed", "keyword")
	if c.Query("mine") == "true" {
		filters["assigned_to"] = GetUserID(c)
	}
	orders, total, err := h.svc.List(c.Request.Context(), page, pageSize, filters)
	if err != nil {
		RespondError(c, err)
		return
	}
	Success(c, ListResponse{Items: orders, Pagination: NewPagination(page, pageSize, total)})
}

// Get GET /orders/:id
func (h *OrderHandler) Get(c *gin.Context) {
	order, err := h.svc.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		RespondError(c, err)
		return
	}
	Success(c, gin.H{
		"order":            order,
		"next_statuses":    service.NextStatuses(order.Status, GetActor(c)),
		"expected_payment": order.ExpectedCollection(),
	})
}

// History GET /orders/:id/history
func (h *OrderHandler) History(c *gin.Context) {
	rows, err := h.svc.History(c.Request.Context(), c.Param("id"))
	if err != nil {
		RespondError(c, err)
		return
	}
	Success(c, gin.H{"items": rows})
}

// Create POST /orders
func (h *OrderHandler) Create(c *gin.Context) {
	var req service.CreateOrderReq
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, err)
		return
	}
	order, err := h.svc.Create(c.Request.Context(), &req, GetActor(c))
	if err != nil {
		RespondError(c, err)
		return
	}
	Created(c, order)
}

type transitionRequest struct {
	Status   string                 `json:"status" binding:"required"`
	Reason   string                 `json:"reason"`
	Metadata map[string]interface{} `json:"metadata"`
}

// Transition POST /orders/:id/transition
func (h *OrderHandler) Transition(c *gin.Context) {
	var req transitionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, err)
		return
	}
	order, err := h.svc.Transition(c.Request.Context(), c.Param("id"), req.Status, GetActor(c),
		service.TransitionMeta{Reason: req.Reason, Metadata: req.Metadata})
	if err != nil {
		RespondError(c, err)
		return
	}
	Success(c, order)
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

// Cancel POST /orders/:id/cancel
func (h *OrderHandler) Cancel(c *gin.Context) {
	var req cancelRequest
	_ = c.ShouldBindJSON(&req)
	order, err := h.svc.Transition(c.Request.Context(), c.Param("id"), "cancelado", GetActor(c),
		service.TransitionMeta{Reason: req.Reason})
	if err != nil {
		RespondError(c, err)
		return
	}
	Success(c, order)
}

// AcknowledgeCancellation POST /orders/:id/cancel/ack
func (h *OrderHandler) AcknowledgeCancellation(c *gin.Context) {
	order, err := h.svc.AcknowledgeCancellation(c.Request.Context(), c.Param("id"), GetActor(c))
	if err != nil {
		RespondError(c, err)
		return
	}
	Success(c, order)
}

// UpdateItems PUT /orders/:id/items
func (h *OrderHandler) UpdateItems(c *gin.Context) {
	var req service.UpdateItemsReq
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, err)
		return
	}
	order, err := h.svc.UpdateItems(c.Request.Context(), c.Param("id"), &req, GetActor(c))
	if err != nil {
		RespondError(c, err)
		return
	}
	Success(c, order)
}

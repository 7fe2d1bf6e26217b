package handler

import (
	"github.com/gin-gonic/gin"
	"github.com/jecaicedo27/toppingfrozen-sub006/internal/oms/service"
)

type ReportHandler struct {
	svc *service.ReportService
}

func NewReportHandler(svc *service.ReportService) *ReportHandler {
	return &ReportHandler{svc: svc}
}

// Deposits GET /reports/deposits.xlsx
func (h *ReportHandler) Deposits(c *gin.Context) {
	dates, err := GetDateRange(c)
	if err != nil {
		RespondError(c, err)
		return
	}
	f, name, err := h.svc.ExportDeposits(c.Request.Context(), dates)
	if err != nil {
		RespondError(c, err)
		return
	}
	writeExcel(c, f, name)
}

// Declarations GET /reports/declarations.xlsx
func (h *ReportHandler) Declarations(c *gin.Context) {
	dates, err := GetDateRange(c)
	if err != nil {
		RespondError(c, err)
		return
	}
	f, name, err := h.svc.ExportDeclarations(c.Request.Context(), queryFilters(c, "courier_id", "status"), dates)
	if err != nil {
		RespondError(c, err)
		return
	}
	writeExcel(c, f, name)
}

// Movements GET /reports/movements.xlsx
func (h *ReportHandler) Movements(c *gin.Context) {
	dates, err := GetDateRange(c)
	if err != nil {
		RespondError(c, err)
		return
	}
	f, name, err := h.svc.ExportMovements(c.Request.Context(), queryFilters(c, "type", "status", "order_id"), dates)
	if err != nil {
		RespondError(c, err)
		return
	}
	writeExcel(c, f, name)
}

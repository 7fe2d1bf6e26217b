package service

import (
	"context"
	"fmt"
	"time"

	"github.com/jecaicedo27/toppingfrozen-sub006/internal/oms/entity"
	"github.com/jecaicedo27/toppingfrozen-sub006/internal/oms/repository"
	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
)

// ReportService renders treasury spreadsheets.
type ReportService struct {
	custody  *repository.CustodyRepository
	treasury *repository.TreasuryRepository
}

func NewReportService(custody *repository.CustodyRepository, treasury *repository.TreasuryRepository) *ReportService {
	return &ReportService{custody: custody, treasury: treasury}
}

var depositHeaders = []string{
	"Fecha", "Banco", "Referencia", "Monto", "Motivo", "Registrado por",
	"Pedidos", "Evidencia", "Cerrado en SIIGO", "Notas",
}

var declarationHeaders = []string{
	"Fecha", "Mensajero", "Declarado", "Esperado", "Diferencia", "Estado",
	"Aceptado por", "Entregas", "Notas",
}

var movementHeaders = []string{
	"Fecha", "Tipo", "Monto", "Motivo", "Pedido", "Estado", "Registrado por", "Decidido por",
}

type sheetWriter struct {
	f     *excelize.File
	sheet string
	row   int
}

func newSheet(f *excelize.File, name string, headers []string, widths []float64) *sheetWriter {
	f.SetSheetName("Sheet1", name)
	headerStyle, _ := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true, Size: 11},
		Fill: excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{"#D9E1F2"}},
		Border: []excelize.Border{
			{Type: "bottom", Color: "000000", Style: 1},
		},
	})
	for i, h := range headers {
		col, _ := excelize.ColumnNumberToName(i + 1)
		f.SetCellValue(name, col+"1", h)
		f.SetCellStyle(name, col+"1", col+"1", headerStyle)
	}
	for i, w := range widths {
		col, _ := excelize.ColumnNumberToName(i + 1)
		f.SetColWidth(name, col, col, w)
	}
	return &sheetWriter{f: f, sheet: name, row: 1}
}

func (w *sheetWriter) append(values ...interface{}) {
	w.row++
	for i, v := range values {
		col, _ := excelize.ColumnNumberToName(i + 1)
		if d, ok := v.(decimal.Decimal); ok {
			v = d.InexactFloat64()
		}
		w.f.SetCellValue(w.sheet, fmt.Sprintf("%s%d", col, w.row), v)
	}
}

func (w *sheetWriter) total(label string, col int, amount decimal.Decimal) {
	w.row++
	style, _ := w.f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	w.f.SetCellValue(w.sheet, fmt.Sprintf("A%d", w.row), label)
	name, _ := excelize.ColumnNumberToName(col)
	w.f.SetCellValue(w.sheet, fmt.Sprintf("%s%d", name, w.row), amount.InexactFloat64())
	w.f.SetCellStyle(w.sheet, fmt.Sprintf("A%d", w.row), fmt.Sprintf("%s%d", name, w.row), style)
}

func yesNo(b bool) string {
	if b {
		return "Sí"
	}
	return "No"
}

func reportFilename(kind string, dates repository.DateRange) string {
	from, to := "inicio", time.Now().Format("20060102")
	if dates.From != nil {
		from = dates.From.Format("20060102")
	}
	if dates.To != nil {
		to = dates.To.Format("20060102")
	}
	return fmt.Sprintf("%s_%s_%s.xlsx", kind, from, to)
}

// ExportDeposits writes one row per bank deposit in the range.
func (s *ReportService) ExportDeposits(ctx context.Context, dates repository.DateRange) (*excelize.File, string, error) {
	deposits, err := s.treasury.ListDeposits(ctx, dates)
	if err != nil {
		return nil, "", fmt.Errorf("list deposits: %w", err)
	}
	f := excelize.NewFile()
	w := newSheet(f, "Consignaciones", depositHeaders, []float64{18, 16, 18, 14, 20, 16, 10, 10, 14, 30})
	sum := decimal.Zero
	for _, d := range deposits {
		w.append(
			d.DepositedAt.Format("2006-01-02 15:04"),
			d.BankName,
			d.Reference,
			d.Amount,
			firstNonEmpty(d.ReasonText, d.ReasonCode),
			d.DepositedBy,
			len(d.Refs),
			yesNo(d.HasEvidence()),
			yesNo(d.SiigoClosed),
			d.Notes,
		)
		sum = sum.Add(d.Amount)
	}
	w.total("Total", 4, sum)
	return f, reportFilename("consignaciones", dates), nil
}

// ExportDeclarations writes courier cash declarations with their difference
// against the expected amount.
func (s *ReportService) ExportDeclarations(ctx context.Context, filters map[string]string, dates repository.DateRange) (*excelize.File, string, error) {
	decls, err := s.custody.ListDeclarations(ctx, filters, dates)
	if err != nil {
		return nil, "", fmt.Errorf("list declarations: %w", err)
	}
	f := excelize.NewFile()
	w := newSheet(f, "Declaraciones", declarationHeaders, []float64{12, 16, 14, 14, 14, 12, 16, 10, 30})
	accepted := decimal.Zero
	for _, d := range decls {
		status := "Declarada"
		if d.Status == entity.DeclarationAccepted {
			status = "Aceptada"
			accepted = accepted.Add(d.DeclaredAmount)
		}
		w.append(
			d.DeclarationDate.Format("2006-01-02"),
			d.CourierID,
			d.DeclaredAmount,
			d.ExpectedAmount,
			d.DeclaredAmount.Sub(d.ExpectedAmount),
			status,
			d.AcceptedBy,
			len(d.Collections),
			d.Notes,
		)
	}
	w.total("Total aceptado", 3, accepted)
	return f, reportFilename("declaraciones", dates), nil
}

// ExportMovements writes treasury movements.
func (s *ReportService) ExportMovements(ctx context.Context, filters map[string]string, dates repository.DateRange) (*excelize.File, string, error) {
	rows, err := s.treasury.ListMovements(ctx, filters, dates)
	if err != nil {
		return nil, "", fmt.Errorf("list movements: %w", err)
	}
	f := excelize.NewFile()
	w := newSheet(f, "Movimientos", movementHeaders, []float64{18, 14, 14, 24, 14, 12, 16, 16})
	for _, m := range rows {
		kind := "Ingreso extra"
		if m.Type == entity.MovementWithdrawal {
			kind = "Retiro"
		}
		orderID := ""
		if m.OrderID != nil {
			orderID = *m.OrderID
		}
		w.append(
			m.CreatedAt.Format("2006-01-02 15:04"),
			kind,
			m.Amount,
			firstNonEmpty(m.ReasonText, m.ReasonCode),
			orderID,
			m.Status,
			m.RegisteredBy,
			m.DecidedBy,
		)
	}
	return f, reportFilename("movimientos", dates), nil
}

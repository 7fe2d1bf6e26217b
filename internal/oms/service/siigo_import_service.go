package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/jecaicedo27/toppingfrozen-sub006/internal/oms/entity"
	"github.com/jecaicedo27/toppingfrozen-sub006/internal/oms/repository"
	"github.com/jecaicedo27/toppingfrozen-sub006/internal/shared/siigo"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// SiigoAPI is the accounting system contract.
type SiigoAPI interface {
	ListInvoices(ctx context.Context, p siigo.ListParams) (*siigo.InvoiceList, error)
	GetInvoice(ctx context.Context, id string) (*siigo.Invoice, json.RawMessage, error)
	GetCustomer(ctx context.Context, id string) (*siigo.Customer, error)
	CloseInvoice(ctx context.Context, c siigo.Closure) error
}

// SiigoImportService turns invoices into orders exactly once.
type SiigoImportService struct {
	orders *OrderService
	logs   *repository.SyncLogRepository
	api    SiigoAPI
	logger *zap.Logger
}

func NewSiigoImportService(orders *OrderService, logs *repository.SyncLogRepository, api SiigoAPI) *SiigoImportService {
	return &SiigoImportService{
		orders: orders,
		logs:   logs,
		api:    api,
		logger: orders.logger.Named("siigo_import"),
	}
}

// ImportResult names the order an invoice maps to.
type ImportResult struct {
	ExternalID    string `json:"external_invoice_id"`
	OrderID       string `json:"order_id"`
	OrderNumber   string `json:"order_number"`
	ParsingStatus string `json:"parsing_status"`
	Created       bool   `json:"created"`
}

// ImportInvoice creates the order of an invoice. An invoice that already has
// a success log is a no-op returning the existing order.
func (s *SiigoImportService) ImportInvoice(ctx context.Context, externalID, trigger string) (*ImportResult, error) {
	externalID = strings.TrimSpace(externalID)
	if externalID == "" {
		return nil, validationf("se requiere el id de la factura")
	}
	if trigger == "" {
		trigger = entity.SyncManual
	}

	if res, err := s.existing(ctx, externalID); err != nil || res != nil {
		return res, err
	}
	if s.api == nil {
		return nil, &SyncError{ExternalID: externalID, Retryable: true, Err: siigo.ErrNoCredentials}
	}

	inv, raw, err := s.api.GetInvoice(ctx, externalID)
	if err != nil {
		return nil, s.recordFailure(ctx, externalID, trigger, raw, err)
	}
	var cust *siigo.Customer
	if inv.Customer.ID != "" {
		if cust, err = s.api.GetCustomer(ctx, inv.Customer.ID); err != nil {
			return nil, s.recordFailure(ctx, externalID, trigger, raw, err)
		}
	}
	parsed, err := siigo.Parse(inv, cust, raw)
	if err != nil {
		return nil, s.recordFailure(ctx, externalID, trigger, raw, err)
	}

	order := orderFromDraft(parsed)
	var batch eventBatch
	err = s.orders.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.orders.insertOrderTx(ctx, tx, order, &batch); err != nil {
			return err
		}
		return s.logs.WithTx(tx).Create(ctx, &entity.SyncLog{
			ID:                newID(),
			ExternalInvoiceID: externalID,
			SyncType:          trigger,
			Status:            entity.SyncSuccess,
			OrderID:           &order.ID,
			RawPayload:        jsonOrNil(raw),
		})
	})
	if err != nil {
		if repository.IsUniqueViolation(err) {
			// Lost a race with a concurrent import of the same invoice.
			if res, lookupErr := s.existing(ctx, externalID); lookupErr == nil && res != nil {
				return res, nil
			}
		}
		return nil, err
	}
	batch.flush(s.orders.notifier, s.logger)

	if err := s.logs.MarkResolved(ctx, externalID, trigger, "system"); err != nil {
		s.logger.Warn("resolve previous failures", zap.String("external_id", externalID), zap.Error(err))
	}
	s.logger.Info("invoice imported",
		zap.String("external_id", externalID),
		zap.String("order_number", order.OrderNumber),
		zap.String("parsing_status", order.ParsingStatus),
		zap.String("trigger", trigger),
	)
	return &ImportResult{
		ExternalID:    externalID,
		OrderID:       order.ID,
		OrderNumber:   order.OrderNumber,
		ParsingStatus: order.ParsingStatus,
		Created:       true,
	}, nil
}

// existing returns the order an invoice already produced, or nil.
func (s *SiigoImportService) existing(ctx context.Context, externalID string) (*ImportResult, error) {
	log, err := s.logs.FindImportSuccess(ctx, externalID)
	if err == nil && log.OrderID != nil {
		o, err := s.orders.orderRepo.FindByID(ctx, *log.OrderID)
		if err != nil {
			return nil, err
		}
		return &ImportResult{ExternalID: externalID, OrderID: o.ID, OrderNumber: o.OrderNumber, ParsingStatus: o.ParsingStatus}, nil
	}
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return nil, err
	}

	o, err := s.orders.orderRepo.FindBySiigoInvoiceID(ctx, externalID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &ImportResult{ExternalID: externalID, OrderID: o.ID, OrderNumber: o.OrderNumber, ParsingStatus: o.ParsingStatus}, nil
}

func (s *SiigoImportService) recordFailure(ctx context.Context, externalID, trigger string, raw json.RawMessage, cause error) error {
	retryable := siigo.IsRetryable(cause)
	if errors.Is(cause, siigo.ErrNoItems) {
		retryable = true
	}
	if errors.Is(cause, context.Canceled) {
		return cause
	}
	logRow := &entity.SyncLog{
		ID:                newID(),
		ExternalInvoiceID: externalID,
		SyncType:          trigger,
		Status:            entity.SyncError,
		RawPayload:        jsonOrNil(raw),
		ErrorMessage:      cause.Error(),
		Retryable:         retryable,
	}
	if err := s.logs.Create(ctx, logRow); err != nil {
		s.logger.Error("write sync log", zap.String("external_id", externalID), zap.Error(err))
	}
	s.logger.Warn("invoice import failed",
		zap.String("external_id", externalID),
		zap.Bool("retryable", retryable),
		zap.Error(cause),
	)
	return &SyncError{ExternalID: externalID, Retryable: retryable, Err: cause}
}

func jsonOrNil(raw json.RawMessage) []byte {
	if len(raw) == 0 || !json.Valid(raw) {
		return nil
	}
	return raw
}

func orderFromDraft(r siigo.ParseResult) *entity.Order {
	d := siigo.DraftOf(r)
	orderID := newID()
	externalID := d.ExternalID

	o := &entity.Order{
		ID:                 orderID,
		OrderNumber:        d.InvoiceNumber,
		SiigoInvoiceID:     &externalID,
		SiigoInvoiceNumber: d.InvoiceNumber,
		CustomerName:       d.CustomerName,
		CustomerPhone:      d.CustomerPhone,
		CustomerAddress:    d.CustomerAddress,
		CustomerCity:       d.CustomerCity,
		CustomerDepartment: d.CustomerDepartment,
		CustomerIdentity:   d.CustomerIdentity,
		DeliveryMethod:     d.DeliveryMethod,
		PaymentMethod:      d.PaymentMethod,
		TotalAmount:        d.Total,
		Status:             entity.StatusPendingBilling,
		PackagingStatus:    entity.PackagingNotStarted,
		OrderSource:        entity.SourceSiigoAutomatic,
		ParsingStatus:      entity.ParsingAutoSuccess,
		Notes:              d.Observations,
		CreatedBy:          "siigo",
	}
	if review, ok := r.(siigo.NeedsReview); ok {
		o.ParsingStatus = entity.ParsingNeedsReview
		o.ReviewReason = strings.Join(review.Reasons, "; ")
	}
	for i, it := range d.Items {
		o.Items = append(o.Items, entity.OrderItem{
			ID:          newID(),
			OrderID:     orderID,
			LineNumber:  i + 1,
			ProductCode: it.Code,
			Name:        it.Name,
			Description: it.Description,
			Barcode:     NormalizeBarcode(it.Code),
			Quantity:    it.Quantity,
			UnitPrice:   it.UnitPrice,
		})
	}
	return o
}

// OperatorQueue lists failures waiting for a person.
func (s *SiigoImportService) OperatorQueue(ctx context.Context) ([]entity.SyncLog, error) {
	return s.logs.OperatorQueue(ctx)
}

// ResolveSyncLog dismisses a failure after manual handling.
func (s *SiigoImportService) ResolveSyncLog(ctx context.Context, logID string, actor Actor) (*entity.SyncLog, error) {
	if !actor.HasRole(RoleAdmin, RoleBilling, RoleCredit) {
		return nil, ErrForbidden
	}
	l, err := s.logs.FindByID(ctx, logID)
	if err != nil {
		return nil, err
	}
	if l.Resolved || l.Status != entity.SyncError {
		return l, nil
	}
	l.Resolved = true
	l.ResolvedBy = actor.ID
	if err := s.logs.Update(ctx, l); err != nil {
		return nil, err
	}
	return l, nil
}

// RetryImport re-runs a failed import on demand.
func (s *SiigoImportService) RetryImport(ctx context.Context, externalID string, actor Actor) (*ImportResult, error) {
	if !actor.HasRole(RoleAdmin, RoleBilling) {
		return nil, ErrForbidden
	}
	return s.ImportInvoice(ctx, externalID, entity.SyncManual)
}

func (s *SiigoImportService) ListLogs(ctx context.Context, page, pageSize int, filters map[string]string) ([]entity.SyncLog, int64, error) {
	return s.logs.FindAll(ctx, page, pageSize, filters)
}

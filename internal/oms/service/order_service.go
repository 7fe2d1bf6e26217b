package service

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jecaicedo27/toppingfrozen-sub006/internal/oms/entity"
	"github.com/jecaicedo27/toppingfrozen-sub006/internal/oms/repository"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

func newID() string {
	return strings.ReplaceAll(uuid.New().String(), "-", "")
}

// OrderService owns the order store and the status transition engine.
type OrderService struct {
	db            *gorm.DB
	orderRepo     *repository.OrderRepository
	packagingRepo *repository.PackagingRepository
	outboxRepo    *repository.OutboxRepository
	notifier      Notifier
	policy        Policy
	logger        *zap.Logger
}

func NewOrderService(db *gorm.DB, repos *repository.Repositories, notifier Notifier, policy Policy, logger *zap.Logger) *OrderService {
	if notifier == nil {
		notifier = nopNotifier{}
	}
	return &OrderService{
		db:            db,
		orderRepo:     repos.Order,
		packagingRepo: repos.Packaging,
		outboxRepo:    repos.Outbox,
		notifier:      notifier,
		policy:        policy,
		logger:        logger.Named("orders"),
	}
}

// TransitionMeta is the caller-supplied context of a transition.
type TransitionMeta struct {
	Reason   string                 `json:"reason"`
	Metadata map[string]interface{} `json:"metadata"`
}

// Transition moves an order to target. The order row stays locked for the
// whole transaction, so concurrent callers are applied one after the other:
// the second sees the first's result and either no-ops on the same target or
// fails with InvalidTransition.
func (s *OrderService) Transition(ctx context.Context, orderID, target string, actor Actor, meta TransitionMeta) (*entity.Order, error) {
	var order *entity.Order
	var batch eventBatch
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		o, err := s.orderRepo.WithTx(tx).FindByIDForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		if _, err := s.applyTransition(ctx, tx, o, target, actor, meta, &batch, transitionOpts{}); err != nil {
			return err
		}
		order = o
		return nil
	})
	if err != nil {
		return nil, err
	}
	batch.flush(s.notifier, s.logger)
	return order, nil
}

type transitionOpts struct {
	// skipRoleCheck is set when the caller already authorised a compound
	// operation, e.g. a delivery that passes through en_reparto.
	skipRoleCheck bool
}

// applyTransition validates and applies one edge on a locked order inside tx.
// It reports false when the order was already in target.
func (s *OrderService) applyTransition(ctx context.Context, tx *gorm.DB, o *entity.Order, target string, actor Actor, meta TransitionMeta, batch *eventBatch, opts transitionOpts) (bool, error) {
	from := o.Status
	if from == target {
		return false, nil
	}

	if opts.skipRoleCheck {
		if !IsEdge(from, target) {
			return false, &TransitionError{From: from, To: target}
		}
	} else if err := CanTransition(from, target, actor); err != nil {
		return false, err
	}

	if target == entity.StatusOutForDelivery && !ownsOrder(o, actor) {
		return false, ErrOrderNotAssignedToCourier
	}
	if o.SiigoClosed && (target == entity.StatusCancelled || isBackward(from, target)) {
		return false, &TransitionError{From: from, To: target, Reason: "el pedido ya está cerrado en SIIGO"}
	}

	now := time.Now()
	reason := strings.TrimSpace(meta.Reason)

	switch target {
	case entity.StatusCancelled:
		needsAck := cancelNeedsReason(from)
		if needsAck && reason == "" {
			return false, &TransitionError{From: from, To: target, Reason: "se requiere un motivo de cancelación"}
		}
		o.CancelReason = reason
		o.CancelledBy = actor.ID
		o.CancelledAt = &now
		o.NeedsLogisticsAck = needsAck
	case entity.StatusReadyForDelivery:
		if err := s.checkPackagingGate(ctx, tx, o.ID); err != nil {
			return false, err
		}
		o.PackagingStatus = entity.PackagingCompleted
	case entity.StatusPackaging:
		if from == entity.StatusReadyForDelivery {
			o.PackagingStatus = entity.PackagingInProgress
		}
	case entity.StatusOutForDelivery:
		if o.AssignedTo != nil {
			o.CourierStatus = entity.CourierInDelivery
		}
	case entity.StatusDelivered:
		if o.AssignedTo != nil {
			o.CourierStatus = entity.CourierDelivered
		}
	}

	o.Status = target
	o.UpdatedAt = now
	if err := s.orderRepo.WithTx(tx).Update(ctx, o); err != nil {
		return false, err
	}

	var metaJSON datatypes.JSON
	if len(meta.Metadata) > 0 {
		raw, err := json.Marshal(meta.Metadata)
		if err != nil {
			return false, validationf("metadata inválida: %v", err)
		}
		metaJSON = raw
	}
	history := &entity.StatusHistory{
		ID:         newID(),
		OrderID:    o.ID,
		FromStatus: from,
		ToStatus:   target,
		ActorID:    actor.ID,
		ActorName:  actor.Name,
		ActorRole:  actor.PrimaryRole(),
		Reason:     reason,
		Metadata:   metaJSON,
		CreatedAt:  now,
	}
	if err := s.orderRepo.WithTx(tx).CreateHistory(ctx, history); err != nil {
		return false, err
	}

	payload := statusEventPayload(o, from, now)
	if err := s.writeOutbox(ctx, tx, entity.EventOrderStatusChanged, o.ID, payload); err != nil {
		return false, err
	}
	batch.add(OrderStatusTopic(o.ID), EventStatusChanged, payload)

	s.logger.Info("order transitioned",
		zap.String("order_id", o.ID),
		zap.String("order_number", o.OrderNumber),
		zap.String("from", from),
		zap.String("to", target),
		zap.String("actor", actor.ID),
	)
	return true, nil
}

func (s *OrderService) checkPackagingGate(ctx context.Context, tx *gorm.DB, orderID string) error {
	items, err := s.packagingRepo.WithTx(tx).FindItems(ctx, orderID)
	if err != nil {
		return err
	}
	if len(items) == 0 {
		return &TransitionError{From: entity.StatusPackaging, To: entity.StatusReadyForDelivery, Reason: "el pedido no tiene lista de empaque"}
	}
	cerr := &ChecklistError{Missing: EvaluateChecklist(items)}
	if s.policy.RequirePackagingEvidence {
		n, err := s.packagingRepo.WithTx(tx).CountEvidence(ctx, orderID)
		if err != nil {
			return err
		}
		cerr.NeedEvidence = n == 0
	}
	if len(cerr.Missing) > 0 || cerr.NeedEvidence {
		return cerr
	}
	return nil
}

// StatusEvent is the payload of status_changed events and outbox rows.
type StatusEvent struct {
	OrderID       string    `json:"order_id"`
	OrderNumber   string    `json:"order_number"`
	From          string    `json:"from"`
	To            string    `json:"to"`
	CustomerName  string    `json:"customer_name"`
	CustomerPhone string    `json:"customer_phone"`
	CarrierName   string    `json:"carrier_name,omitempty"`
	ShippingGuide string    `json:"shipping_guide,omitempty"`
	At            time.Time `json:"at"`
}

func statusEventPayload(o *entity.Order, from string, at time.Time) StatusEvent {
	return StatusEvent{
		OrderID:       o.ID,
		OrderNumber:   o.OrderNumber,
		From:          from,
		To:            o.Status,
		CustomerName:  o.CustomerName,
		CustomerPhone: o.CustomerPhone,
		CarrierName:   o.CarrierName,
		ShippingGuide: o.ShippingGuide,
		At:            at,
	}
}

func (s *OrderService) writeOutbox(ctx context.Context, tx *gorm.DB, eventType, aggregateID string, payload interface{}) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return s.outboxRepo.WithTx(tx).Create(ctx, &entity.OutboxEvent{
		ID:          newID(),
		EventType:   eventType,
		AggregateID: aggregateID,
		Payload:     raw,
		Status:      entity.OutboxPending,
	})
}

// AcknowledgeCancellation clears the logistics flag of a cancelled order.
func (s *OrderService) AcknowledgeCancellation(ctx context.Context, orderID string, actor Actor) (*entity.Order, error) {
	if !actor.HasRole(RoleLogistics, RoleAdmin) {
		return nil, ErrForbidden
	}
	var order *entity.Order
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		o, err := s.orderRepo.WithTx(tx).FindByIDForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		if o.Status != entity.StatusCancelled {
			return &TransitionError{From: o.Status, To: entity.StatusCancelled, Reason: "el pedido no está cancelado"}
		}
		order = o
		if !o.NeedsLogisticsAck {
			return nil
		}
		now := time.Now()
		o.NeedsLogisticsAck = false
		o.LogisticsAckBy = actor.ID
		o.LogisticsAckAt = &now
		return s.orderRepo.WithTx(tx).Update(ctx, o)
	})
	if err != nil {
		return nil, err
	}
	return order, nil
}

// CreateOrderItem is one line of a manual order.
type CreateOrderItem struct {
	ProductCode string           `json:"product_code"`
	Name        string           `json:"name" binding:"required"`
	Description string           `json:"description"`
	Barcode     string           `json:"barcode"`
	Quantity    decimal.Decimal  `json:"quantity" binding:"required"`
	UnitPrice   decimal.Decimal  `json:"unit_price"`
	Weight      *decimal.Decimal `json:"weight"`
	Flavor      string           `json:"flavor"`
}

// CreateOrderReq creates a manual order.
type CreateOrderReq struct {
	OrderNumber        string            `json:"order_number"`
	CustomerName       string            `json:"customer_name" binding:"required"`
	CustomerPhone      string            `json:"customer_phone"`
	CustomerAddress    string            `json:"customer_address"`
	CustomerCity       string            `json:"customer_city"`
	CustomerDepartment string            `json:"customer_department"`
	CustomerIdentity   string            `json:"customer_identity"`
	DeliveryMethod     string            `json:"delivery_method" binding:"required,oneof=recoge_bodega envio_nacional mensajeria_local"`
	PaymentMethod      string            `json:"payment_method" binding:"required"`
	PaymentAmount      *decimal.Decimal  `json:"payment_amount"`
	Notes              string            `json:"notes"`
	Items              []CreateOrderItem `json:"items" binding:"required,min=1,dive"`
}

func buildItems(orderID string, in []CreateOrderItem) ([]entity.OrderItem, decimal.Decimal, error) {
	items := make([]entity.OrderItem, 0, len(in))
	total := decimal.Zero
	for i, it := range in {
		if !it.Quantity.IsPositive() {
			return nil, decimal.Zero, validationf("la cantidad de %s debe ser mayor a cero", it.Name)
		}
		if it.UnitPrice.IsNegative() {
			return nil, decimal.Zero, validationf("el precio de %s no puede ser negativo", it.Name)
		}
		items = append(items, entity.OrderItem{
			ID:          newID(),
			OrderID:     orderID,
			LineNumber:  i + 1,
			ProductCode: strings.TrimSpace(it.ProductCode),
			Name:        strings.TrimSpace(it.Name),
			Description: it.Description,
			Barcode:     NormalizeBarcode(it.Barcode),
			Quantity:    it.Quantity,
			UnitPrice:   it.UnitPrice,
			Weight:      it.Weight,
			Flavor:      it.Flavor,
		})
		total = total.Add(it.Quantity.Mul(it.UnitPrice))
	}
	return items, total.Round(2), nil
}

// Create registers a manual order in pendiente_por_facturacion.
func (s *OrderService) Create(ctx context.Context, req *CreateOrderReq, actor Actor) (*entity.Order, error) {
	if !actor.HasRole(RoleBilling, RoleAdmin) {
		return nil, ErrForbidden
	}
	orderID := newID()
	items, total, err := buildItems(orderID, req.Items)
	if err != nil {
		return nil, err
	}

	order := &entity.Order{
		ID:                 orderID,
		OrderNumber:        strings.TrimSpace(req.OrderNumber),
		CustomerName:       strings.TrimSpace(req.CustomerName),
		CustomerPhone:      req.CustomerPhone,
		CustomerAddress:    req.CustomerAddress,
		CustomerCity:       req.CustomerCity,
		CustomerDepartment: req.CustomerDepartment,
		CustomerIdentity:   req.CustomerIdentity,
		DeliveryMethod:     req.DeliveryMethod,
		PaymentMethod:      req.PaymentMethod,
		TotalAmount:        total,
		PaymentAmount:      req.PaymentAmount,
		Status:             entity.StatusPendingBilling,
		PackagingStatus:    entity.PackagingNotStarted,
		OrderSource:        entity.SourceManual,
		ParsingStatus:      entity.ParsingManual,
		Notes:              req.Notes,
		CreatedBy:          actor.ID,
		Items:              items,
	}

	if err := s.insertOrder(ctx, order); err != nil {
		return nil, err
	}
	return order, nil
}

// insertOrder creates an order with its items and created event, then
// announces it. Shared with the SIIGO importer through insertOrderTx.
func (s *OrderService) insertOrder(ctx context.Context, order *entity.Order) error {
	var batch eventBatch
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return s.insertOrderTx(ctx, tx, order, &batch)
	})
	if err != nil {
		return err
	}
	batch.flush(s.notifier, s.logger)
	return nil
}

func (s *OrderService) insertOrderTx(ctx context.Context, tx *gorm.DB, order *entity.Order, batch *eventBatch) error {
	repo := s.orderRepo.WithTx(tx)
	if order.OrderNumber == "" {
		number, err := repo.GenerateNumber(ctx)
		if err != nil {
			return err
		}
		order.OrderNumber = number
	}
	if err := repo.Create(ctx, order); err != nil {
		return err
	}
	payload := map[string]interface{}{
		"order_id":      order.ID,
		"order_number":  order.OrderNumber,
		"customer_name": order.CustomerName,
		"customer_city": order.CustomerCity,
		"order_source":  order.OrderSource,
		"total_amount":  order.TotalAmount,
	}
	if err := s.writeOutbox(ctx, tx, entity.EventOrderCreated, order.ID, payload); err != nil {
		return err
	}
	batch.add(TopicOrdersCreated, EventOrderCreated, payload)
	return nil
}

// UpdateItemsReq replaces the line items of an order.
type UpdateItemsReq struct {
	Items  []CreateOrderItem `json:"items" binding:"required,min=1,dive"`
	Reopen bool              `json:"reopen"`
	Reason string            `json:"reason"`
}

// UpdateItems replaces line items. Before packaging the change is free. Once
// packaging has begun it goes through the re-open path, which rebuilds the
// checklist and sends a ready order back to en_empaque. After dispatch items
// are frozen.
func (s *OrderService) UpdateItems(ctx context.Context, orderID string, req *UpdateItemsReq, actor Actor) (*entity.Order, error) {
	if !actor.HasRole(RoleBilling, RoleAdmin) {
		return nil, ErrForbidden
	}
	var batch eventBatch
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repo := s.orderRepo.WithTx(tx)
		o, err := repo.FindByIDForUpdate(ctx, orderID)
		if err != nil {
			return err
		}

		r := rank[o.Status]
		packagingStarted := r >= rank[entity.StatusPackaging]
		if IsTerminal(o.Status) || r > rank[entity.StatusReadyForDelivery] {
			return ErrItemsFrozen
		}
		if packagingStarted && !req.Reopen {
			return ErrItemsFrozen
		}

		items, total, err := buildItems(o.ID, req.Items)
		if err != nil {
			return err
		}
		if err := repo.ReplaceItems(ctx, o.ID, items); err != nil {
			return err
		}
		o.TotalAmount = total

		if packagingStarted {
			if err := rebuildChecklist(ctx, s.packagingRepo.WithTx(tx), o.ID, items); err != nil {
				return err
			}
			o.PackagingStatus = entity.PackagingRequiresReview
			if o.Status == entity.StatusReadyForDelivery {
				meta := TransitionMeta{Reason: firstNonEmpty(req.Reason, "reapertura por cambio de productos")}
				if _, err := s.applyTransition(ctx, tx, o, entity.StatusPackaging, actor, meta, &batch, transitionOpts{skipRoleCheck: true}); err != nil {
					return err
				}
				o.PackagingStatus = entity.PackagingRequiresReview
			}
		}
		return repo.Update(ctx, o)
	})
	if err != nil {
		return nil, err
	}
	batch.flush(s.notifier, s.logger)
	return s.orderRepo.FindByID(ctx, orderID)
}

// Get returns one order with items.
func (s *OrderService) Get(ctx context.Context, id string) (*entity.Order, error) {
	return s.orderRepo.FindByID(ctx, id)
}

// List returns a page of orders.
func (s *OrderService) List(ctx context.Context, page, pageSize int, filters map[string]string) ([]entity.Order, int64, error) {
	return s.orderRepo.FindAll(ctx, page, pageSize, filters)
}

// History returns the status walk of an order.
func (s *OrderService) History(ctx context.Context, id string) ([]entity.StatusHistory, error) {
	if _, err := s.orderRepo.FindByID(ctx, id); err != nil {
		return nil, err
	}
	return s.orderRepo.ListHistory(ctx, id)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

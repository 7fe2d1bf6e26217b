package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/jecaicedo27/toppingfrozen-sub006/internal/oms/entity"
	"github.com/jecaicedo27/toppingfrozen-sub006/internal/oms/repository"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// CustodyService follows cash from the courier's hand to treasury acceptance.
type CustodyService struct {
	orders *OrderService
	repo   *repository.CustodyRepository
	logger *zap.Logger
}

func NewCustodyService(orders *OrderService, repo *repository.CustodyRepository) *CustodyService {
	return &CustodyService{
		orders: orders,
		repo:   repo,
		logger: orders.logger.Named("custody"),
	}
}

// dayOf truncates t to its calendar day in t's location.
func dayOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// DeliveryInput is what the courier reports at the door.
type DeliveryInput struct {
	PaymentCollected     decimal.Decimal `json:"payment_collected"`
	DeliveryFeeCollected decimal.Decimal `json:"delivery_fee_collected"`
	PaymentMethod        string          `json:"payment_method"`
	FeeMethod            string          `json:"fee_method"`
	TransferAmount       decimal.Decimal `json:"transfer_amount"`
	Notes                string          `json:"notes"`
	EvidenceKey          string          `json:"evidence_key"`
}

// CollectionSplit is a delivery's money tagged by how it was received.
type CollectionSplit struct {
	PaymentCash     decimal.Decimal
	PaymentTransfer decimal.Decimal
	FeeCash         decimal.Decimal
	FeeTransfer     decimal.Decimal
}

// SplitCollection tags the collected amounts as cash or transfer.
func SplitCollection(in DeliveryInput) (CollectionSplit, error) {
	var out CollectionSplit
	if in.PaymentCollected.IsNegative() || in.DeliveryFeeCollected.IsNegative() || in.TransferAmount.IsNegative() {
		return out, validationf("los montos no pueden ser negativos")
	}

	switch in.PaymentMethod {
	case entity.PaymentCash:
		out.PaymentCash = in.PaymentCollected
	case entity.PaymentTransfer:
		out.PaymentTransfer = in.PaymentCollected
	case entity.PaymentMixed:
		if in.TransferAmount.GreaterThan(in.PaymentCollected) {
			return out, validationf("la transferencia (%s) supera el total cobrado (%s)",
				FormatCOP(in.TransferAmount), FormatCOP(in.PaymentCollected))
		}
		out.PaymentTransfer = in.TransferAmount
		out.PaymentCash = in.PaymentCollected.Sub(in.TransferAmount)
	case entity.PaymentCredit, entity.PaymentReposition, entity.PaymentElectronic:
		if in.PaymentCollected.IsPositive() {
			return out, validationf("el método %s no admite cobro del producto en la entrega", in.PaymentMethod)
		}
	default:
		return out, validationf("método de pago desconocido: %s", in.PaymentMethod)
	}

	switch in.FeeMethod {
	case "", entity.PaymentCash:
		out.FeeCash = in.DeliveryFeeCollected
	case entity.PaymentTransfer:
		out.FeeTransfer = in.DeliveryFeeCollected
	default:
		return out, validationf("método de pago del domicilio desconocido: %s", in.FeeMethod)
	}
	return out, nil
}

// ownsOrder reports whether a courier actor is the order's assignee. Other
// roles act on behalf of whoever is assigned.
func ownsOrder(o *entity.Order, actor Actor) bool {
	if actor.HasRole(RoleAdmin, RoleLogistics, RoleCredit) {
		return true
	}
	return o.AssignedTo != nil && *o.AssignedTo == actor.ID
}

// CompleteDelivery records the collection of an order and moves it to
// entregado_cliente. An order still in listo_para_entrega passes through
// en_reparto first.
func (s *CustodyService) CompleteDelivery(ctx context.Context, orderID string, actor Actor, in DeliveryInput) (*entity.Order, error) {
	if !actor.HasRole(RoleCourier, RoleLogistics, RoleCredit, RoleAdmin) {
		return nil, ErrForbidden
	}

	var order *entity.Order
	var batch eventBatch
	err := s.orders.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		o, err := s.orders.orderRepo.WithTx(tx).FindByIDForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		if o.AssignedTo == nil || !ownsOrder(o, actor) {
			return ErrOrderNotAssignedToCourier
		}
		if o.Status == entity.StatusDelivered {
			return ErrAlreadyDelivered
		}
		if o.Status != entity.StatusReadyForDelivery && o.Status != entity.StatusOutForDelivery {
			return &TransitionError{From: o.Status, To: entity.StatusDelivered}
		}

		if in.PaymentMethod == "" {
			in.PaymentMethod = o.PaymentMethod
		}
		split, err := SplitCollection(in)
		if err != nil {
			return err
		}

		opts := transitionOpts{skipRoleCheck: true}
		if o.Status == entity.StatusReadyForDelivery {
			if _, err := s.orders.applyTransition(ctx, tx, o, entity.StatusOutForDelivery, actor, TransitionMeta{Reason: "inicio automático al entregar"}, &batch, opts); err != nil {
				return err
			}
		}

		now := time.Now()
		day, err := openCollectionDay(ctx, s.repo.WithTx(tx), *o.AssignedTo, dayOf(now))
		if err != nil {
			return err
		}
		collection := &entity.DeliveryCollection{
			ID:              newID(),
			OrderID:         o.ID,
			CourierID:       *o.AssignedTo,
			CollectionDate:  day,
			PaymentMethod:   in.PaymentMethod,
			PaymentCash:     split.PaymentCash,
			PaymentTransfer: split.PaymentTransfer,
			FeeCash:         split.FeeCash,
			FeeTransfer:     split.FeeTransfer,
			EvidenceKey:     in.EvidenceKey,
			Notes:           in.Notes,
			DeliveredAt:     now,
		}
		if err := s.repo.WithTx(tx).CreateCollection(ctx, collection); err != nil {
			if repository.IsUniqueViolation(err) {
				return ErrAlreadyDelivered
			}
			return err
		}

		meta := TransitionMeta{Metadata: map[string]interface{}{
			"payment_cash":     split.PaymentCash,
			"payment_transfer": split.PaymentTransfer,
			"fee_cash":         split.FeeCash,
			"fee_transfer":     split.FeeTransfer,
		}}
		if _, err := s.orders.applyTransition(ctx, tx, o, entity.StatusDelivered, actor, meta, &batch, opts); err != nil {
			return err
		}
		order = o
		return nil
	})
	if err != nil {
		return nil, err
	}
	batch.flush(s.orders.notifier, s.logger)
	return order, nil
}

const maxRollForwardDays = 31

// openCollectionDay returns the first day from day on whose declaration is
// not yet accepted. Cash collected after a day was closed rolls into the next
// one. The day lock is held until the transaction ends, so an acceptance
// cannot slip in between.
func openCollectionDay(ctx context.Context, repo *repository.CustodyRepository, courierID string, day time.Time) (time.Time, error) {
	for i := 0; i < maxRollForwardDays; i++ {
		if err := repo.LockCourierDay(ctx, courierID, day); err != nil {
			return time.Time{}, err
		}
		d, err := repo.FindDeclarationByCourierDay(ctx, courierID, day)
		if errors.Is(err, repository.ErrNotFound) {
			return day, nil
		}
		if err != nil {
			return time.Time{}, err
		}
		if d.Status != entity.DeclarationAccepted {
			return day, nil
		}
		day = day.AddDate(0, 0, 1)
	}
	return time.Time{}, validationf("no hay un día abierto para declarar el recaudo")
}

// AssignCourier hands a local delivery to a courier.
func (s *CustodyService) AssignCourier(ctx context.Context, orderID, courierID string, actor Actor) (*entity.Order, error) {
	if !actor.HasRole(RoleLogistics, RoleAdmin) {
		return nil, ErrForbidden
	}
	courierID = strings.TrimSpace(courierID)
	if courierID == "" {
		return nil, validationf("se requiere el mensajero")
	}
	return s.mutateOrder(ctx, orderID, func(o *entity.Order) error {
		if o.DeliveryMethod != entity.DeliveryLocalCourier {
			return validationf("solo los pedidos de mensajería local se asignan a un mensajero")
		}
		if o.Status != entity.StatusReadyForDelivery {
			return &TransitionError{From: o.Status, To: o.Status, Reason: "solo se asignan pedidos listos para entrega"}
		}
		o.AssignedTo = &courierID
		o.CourierStatus = entity.CourierAssigned
		return nil
	})
}

// AcceptAssignment confirms the courier took the order.
func (s *CustodyService) AcceptAssignment(ctx context.Context, orderID string, actor Actor) (*entity.Order, error) {
	return s.mutateOrder(ctx, orderID, func(o *entity.Order) error {
		if o.AssignedTo == nil || *o.AssignedTo != actor.ID {
			return ErrOrderNotAssignedToCourier
		}
		if o.CourierStatus == entity.CourierAssigned {
			o.CourierStatus = entity.CourierAccepted
		}
		return nil
	})
}

// RejectAssignment returns the order to the unassigned pool.
func (s *CustodyService) RejectAssignment(ctx context.Context, orderID, reason string, actor Actor) (*entity.Order, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, validationf("se requiere un motivo para rechazar el pedido")
	}
	return s.mutateOrder(ctx, orderID, func(o *entity.Order) error {
		if o.AssignedTo == nil || *o.AssignedTo != actor.ID {
			return ErrOrderNotAssignedToCourier
		}
		if o.Status != entity.StatusReadyForDelivery {
			return &TransitionError{From: o.Status, To: o.Status, Reason: "el pedido ya salió a reparto"}
		}
		o.AssignedTo = nil
		o.CourierStatus = ""
		o.Notes = strings.TrimSpace(o.Notes + "\nRechazado por mensajero: " + reason)
		return nil
	})
}

func (s *CustodyService) mutateOrder(ctx context.Context, orderID string, fn func(o *entity.Order) error) (*entity.Order, error) {
	var order *entity.Order
	err := s.orders.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repo := s.orders.orderRepo.WithTx(tx)
		o, err := repo.FindByIDForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		if err := fn(o); err != nil {
			return err
		}
		order = o
		return repo.Update(ctx, o)
	})
	if err != nil {
		return nil, err
	}
	return order, nil
}

// StartDelivery moves an assigned order to en_reparto.
func (s *CustodyService) StartDelivery(ctx context.Context, orderID string, actor Actor) (*entity.Order, error) {
	var order *entity.Order
	var batch eventBatch
	err := s.orders.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		o, err := s.orders.orderRepo.WithTx(tx).FindByIDForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		if o.AssignedTo == nil || !ownsOrder(o, actor) {
			return ErrOrderNotAssignedToCourier
		}
		if _, err := s.orders.applyTransition(ctx, tx, o, entity.StatusOutForDelivery, actor, TransitionMeta{}, &batch, transitionOpts{}); err != nil {
			return err
		}
		order = o
		return nil
	})
	if err != nil {
		return nil, err
	}
	batch.flush(s.orders.notifier, s.logger)
	return order, nil
}

// AssignCarrier records the carrier and tracking guide of a national shipment
// and marks it handed over.
func (s *CustodyService) AssignCarrier(ctx context.Context, orderID, carrier, guide string, actor Actor) (*entity.Order, error) {
	carrier, guide = strings.TrimSpace(carrier), strings.TrimSpace(guide)
	if carrier == "" {
		return nil, validationf("se requiere la transportadora")
	}
	var order *entity.Order
	var batch eventBatch
	err := s.orders.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		o, err := s.orders.orderRepo.WithTx(tx).FindByIDForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		if o.DeliveryMethod != entity.DeliveryNational {
			return validationf("solo los envíos nacionales usan transportadora")
		}
		if o.Status == entity.StatusReadyForDelivery {
			o.CarrierName = carrier
			o.ShippingGuide = guide
		}
		meta := TransitionMeta{Metadata: map[string]interface{}{"carrier": carrier, "guide": guide}}
		if _, err := s.orders.applyTransition(ctx, tx, o, entity.StatusHandedToCarrier, actor, meta, &batch, transitionOpts{}); err != nil {
			return err
		}
		order = o
		return nil
	})
	if err != nil {
		return nil, err
	}
	batch.flush(s.orders.notifier, s.logger)
	return order, nil
}

// PendingCash is what a courier owes for one day.
type PendingCash struct {
	CourierID   string                      `json:"courier_id"`
	Date        string                      `json:"date"`
	Expected    decimal.Decimal             `json:"expected"`
	Collections []entity.DeliveryCollection `json:"collections"`
	Declaration *entity.CashDeclaration     `json:"declaration,omitempty"`
}

func sumCash(rows []entity.DeliveryCollection) decimal.Decimal {
	total := decimal.Zero
	for i := range rows {
		total = total.Add(rows[i].CashTotal())
	}
	return total
}

// PendingCash previews the collections a declaration for that day would cover.
func (s *CustodyService) PendingCash(ctx context.Context, courierID string, day time.Time) (*PendingCash, error) {
	day = dayOf(day)
	out := &PendingCash{CourierID: courierID, Date: day.Format("2006-01-02")}
	declID := ""
	if d, err := s.repo.FindDeclarationByCourierDay(ctx, courierID, day); err == nil {
		out.Declaration = d
		if d.Status == entity.DeclarationDeclared {
			declID = d.ID
		}
	} else if !errors.Is(err, repository.ErrNotFound) {
		return nil, err
	}
	rows, err := s.repo.ListOpenCollections(ctx, courierID, day, declID)
	if err != nil {
		return nil, err
	}
	out.Collections = rows
	out.Expected = sumCash(rows)
	return out, nil
}

// DeclareCash aggregates a courier's cash-tagged collections for a day into
// a declaration. Re-declaring an unaccepted day replaces it.
func (s *CustodyService) DeclareCash(ctx context.Context, courierID string, date time.Time, amount decimal.Decimal, actor Actor, notes string) (*entity.CashDeclaration, error) {
	if actor.ID != courierID && !actor.HasRole(RoleCredit, RoleAdmin) {
		return nil, ErrForbidden
	}
	if amount.IsNegative() {
		return nil, validationf("el monto declarado no puede ser negativo")
	}
	day := dayOf(date)
	tol := s.orders.policy.CashTolerance

	var decl *entity.CashDeclaration
	err := s.orders.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		if err := repo.LockCourierDay(ctx, courierID, day); err != nil {
			return err
		}

		existing, err := repo.FindDeclarationByCourierDay(ctx, courierID, day)
		if err != nil && !errors.Is(err, repository.ErrNotFound) {
			return err
		}
		declID := ""
		if existing != nil {
			if existing.Status == entity.DeclarationAccepted {
				return ErrDeclarationLocked
			}
			declID = existing.ID
		}

		rows, err := repo.ListOpenCollections(ctx, courierID, day, declID)
		if err != nil {
			return err
		}
		if len(rows) == 0 {
			return validationf("no hay recaudos pendientes para %s", day.Format("2006-01-02"))
		}
		expected := sumCash(rows)
		if !withinTolerance(amount, expected, tol) {
			return &AmountError{Kind: ErrAmountMismatch, Expected: expected, Actual: amount, Tolerance: tol}
		}

		if existing == nil {
			existing = &entity.CashDeclaration{
				ID:              newID(),
				CourierID:       courierID,
				DeclarationDate: day,
			}
		}
		existing.DeclaredAmount = amount
		existing.ExpectedAmount = expected
		existing.Status = entity.DeclarationDeclared
		existing.DeclaredBy = actor.ID
		existing.Notes = notes
		if declID == "" {
			if err := repo.CreateDeclaration(ctx, existing); err != nil {
				if repository.IsUniqueViolation(err) {
					return ErrDeclarationLocked
				}
				return err
			}
		} else if err := repo.UpdateDeclaration(ctx, existing); err != nil {
			return err
		}

		ids := make([]string, 0, len(rows))
		for _, r := range rows {
			ids = append(ids, r.ID)
		}
		if err := repo.AttachCollections(ctx, existing.ID, ids); err != nil {
			return err
		}
		decl = existing
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("cash declared",
		zap.String("courier_id", courierID),
		zap.String("date", day.Format("2006-01-02")),
		zap.String("amount", amount.String()),
	)
	return s.repo.FindDeclaration(ctx, decl.ID)
}

// AcceptCourierCash moves a declared day into treasury custody. The sum is
// checked again under lock.
func (s *CustodyService) AcceptCourierCash(ctx context.Context, declarationID string, actor Actor) (*entity.CashDeclaration, error) {
	if !actor.HasRole(RoleCredit, RoleAdmin) {
		return nil, ErrForbidden
	}
	head, err := s.repo.FindDeclaration(ctx, declarationID)
	if err != nil {
		return nil, err
	}
	if head.Status == entity.DeclarationAccepted {
		return head, nil
	}
	tol := s.orders.policy.CashTolerance

	err = s.orders.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		if err := repo.LockCourierDay(ctx, head.CourierID, head.DeclarationDate); err != nil {
			return err
		}
		d, err := repo.FindDeclarationForUpdate(ctx, declarationID)
		if err != nil {
			return err
		}
		if d.Status == entity.DeclarationAccepted {
			return nil
		}
		rows, err := repo.ListCollectionsByDeclaration(ctx, d.ID)
		if err != nil {
			return err
		}
		sum := sumCash(rows)
		if !withinTolerance(d.DeclaredAmount, sum, tol) {
			return &AmountError{Kind: ErrAmountMismatch, Expected: sum, Actual: d.DeclaredAmount, Tolerance: tol}
		}
		now := time.Now()
		d.Status = entity.DeclarationAccepted
		d.ExpectedAmount = sum
		d.AcceptedBy = actor.ID
		d.AcceptedAt = &now
		return repo.UpdateDeclaration(ctx, d)
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("courier cash accepted", zap.String("declaration_id", declarationID), zap.String("by", actor.ID))
	return s.repo.FindDeclaration(ctx, declarationID)
}

func (s *CustodyService) GetDeclaration(ctx context.Context, id string) (*entity.CashDeclaration, error) {
	return s.repo.FindDeclaration(ctx, id)
}

func (s *CustodyService) ListDeclarations(ctx context.Context, filters map[string]string, dates repository.DateRange) ([]entity.CashDeclaration, error) {
	return s.repo.ListDeclarations(ctx, filters, dates)
}

// AdhocInput registers cash received outside a delivery.
type AdhocInput struct {
	CourierID   string          `json:"courier_id"`
	Amount      decimal.Decimal `json:"amount" binding:"required"`
	Description string          `json:"description" binding:"required"`
	EvidenceKey string          `json:"evidence_key"`
	Notes       string          `json:"notes"`
}

func (s *CustodyService) RegisterAdhocPayment(ctx context.Context, in AdhocInput, actor Actor) (*entity.AdhocPayment, error) {
	if in.CourierID == "" {
		in.CourierID = actor.ID
	}
	if in.CourierID != actor.ID && !actor.HasRole(RoleCredit, RoleAdmin) {
		return nil, ErrForbidden
	}
	if !in.Amount.IsPositive() {
		return nil, validationf("el monto debe ser mayor a cero")
	}
	if strings.TrimSpace(in.Description) == "" {
		return nil, validationf("se requiere una descripción")
	}
	p := &entity.AdhocPayment{
		ID:          newID(),
		CourierID:   in.CourierID,
		Amount:      in.Amount,
		Description: strings.TrimSpace(in.Description),
		EvidenceKey: in.EvidenceKey,
		Notes:       in.Notes,
		Status:      entity.AdhocPending,
	}
	if err := s.repo.CreateAdhoc(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

func (s *CustodyService) AcceptAdhocPayment(ctx context.Context, id string, actor Actor) (*entity.AdhocPayment, error) {
	return s.decideAdhoc(ctx, id, entity.AdhocAccepted, actor)
}

func (s *CustodyService) RejectAdhocPayment(ctx context.Context, id string, actor Actor) (*entity.AdhocPayment, error) {
	return s.decideAdhoc(ctx, id, entity.AdhocRejected, actor)
}

func (s *CustodyService) decideAdhoc(ctx context.Context, id, target string, actor Actor) (*entity.AdhocPayment, error) {
	if !actor.HasRole(RoleCredit, RoleAdmin) {
		return nil, ErrForbidden
	}
	var out *entity.AdhocPayment
	err := s.orders.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		p, err := repo.FindAdhocForUpdate(ctx, id)
		if err != nil {
			return err
		}
		out = p
		if p.Status == target {
			return nil
		}
		if p.Status != entity.AdhocPending {
			return validationf("el pago ya fue %s", adhocLabel(p.Status))
		}
		now := time.Now()
		p.Status = target
		p.DecidedBy = actor.ID
		p.DecidedAt = &now
		return repo.UpdateAdhoc(ctx, p)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func adhocLabel(status string) string {
	if status == entity.AdhocAccepted {
		return "aceptado"
	}
	return "rechazado"
}

func (s *CustodyService) ListAdhocPayments(ctx context.Context, courierID, status string) ([]entity.AdhocPayment, error) {
	return s.repo.ListAdhoc(ctx, courierID, status)
}

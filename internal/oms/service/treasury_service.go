package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jecaicedo27/toppingfrozen-sub006/internal/oms/entity"
	"github.com/jecaicedo27/toppingfrozen-sub006/internal/oms/repository"
	"github.com/jecaicedo27/toppingfrozen-sub006/internal/shared/siigo"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const duplicateDepositWindow = 2 * time.Minute

// TreasuryService reconciles deposits, movements and the SIIGO closure of
// orders.
type TreasuryService struct {
	orders   *OrderService
	custody  *repository.CustodyRepository
	repo     *repository.TreasuryRepository
	syncLogs *repository.SyncLogRepository
	api      SiigoAPI
	cache    ValueCache
	logger   *zap.Logger
}

func NewTreasuryService(orders *OrderService, custody *repository.CustodyRepository, repo *repository.TreasuryRepository, syncLogs *repository.SyncLogRepository, api SiigoAPI, cache ValueCache) *TreasuryService {
	return &TreasuryService{
		orders:   orders,
		custody:  custody,
		repo:     repo,
		syncLogs: syncLogs,
		api:      api,
		cache:    cache,
		logger:   orders.logger.Named("treasury"),
	}
}

// CrossRef assigns part of a deposit to an order.
type CrossRef struct {
	OrderID        string          `json:"order_id" binding:"required"`
	AssignedAmount decimal.Decimal `json:"assigned_amount" binding:"required"`
}

// DepositInput registers a bank deposit.
type DepositInput struct {
	Amount      decimal.Decimal `json:"amount" binding:"required"`
	BankName    string          `json:"bank_name" binding:"required"`
	Reference   string          `json:"reference"`
	ReasonCode  string          `json:"reason_code"`
	ReasonText  string          `json:"reason_text"`
	DepositedAt *time.Time      `json:"deposited_at"`
	Notes       string          `json:"notes"`
	EvidenceKey string          `json:"evidence_key"`
	CrossRefs   []CrossRef      `json:"cross_refs" binding:"dive"`
}

// CheckCrossRefs verifies the assigned amounts add up to the deposit.
// A deposit without refs is not checked.
func CheckCrossRefs(amount decimal.Decimal, refs []CrossRef, tol decimal.Decimal) error {
	if len(refs) == 0 {
		return nil
	}
	sum := decimal.Zero
	seen := make(map[string]bool, len(refs))
	for _, r := range refs {
		if !r.AssignedAmount.IsPositive() {
			return validationf("el monto asignado al pedido %s debe ser mayor a cero", r.OrderID)
		}
		if seen[r.OrderID] {
			return validationf("el pedido %s aparece más de una vez", r.OrderID)
		}
		seen[r.OrderID] = true
		sum = sum.Add(r.AssignedAmount)
	}
	if !withinTolerance(sum, amount, tol) {
		return &AmountError{Kind: ErrAmountImbalance, Expected: amount, Actual: sum, Tolerance: tol}
	}
	return nil
}

// CreateDeposit records cash moved to the bank.
func (s *TreasuryService) CreateDeposit(ctx context.Context, actor Actor, in DepositInput) (*entity.BankDeposit, error) {
	if !actor.HasRole(RoleCredit, RoleAdmin) {
		return nil, ErrForbidden
	}
	if !in.Amount.IsPositive() {
		return nil, validationf("el monto de la consignación debe ser mayor a cero")
	}
	if !actor.IsAdmin() && strings.TrimSpace(in.EvidenceKey) == "" {
		return nil, ErrEvidenceRequired
	}
	if err := CheckCrossRefs(in.Amount, in.CrossRefs, s.orders.policy.DepositTolerance); err != nil {
		return nil, err
	}

	depositedAt := time.Now()
	if in.DepositedAt != nil {
		depositedAt = *in.DepositedAt
	}
	d := &entity.BankDeposit{
		ID:          newID(),
		Amount:      in.Amount,
		BankName:    strings.TrimSpace(in.BankName),
		Reference:   strings.TrimSpace(in.Reference),
		ReasonCode:  in.ReasonCode,
		ReasonText:  in.ReasonText,
		EvidenceKey: in.EvidenceKey,
		Notes:       in.Notes,
		DepositedBy: actor.ID,
		DepositedAt: depositedAt,
	}
	ids := make([]string, 0, len(in.CrossRefs))
	for _, r := range in.CrossRefs {
		ids = append(ids, r.OrderID)
		d.Refs = append(d.Refs, entity.BankDepositRef{
			ID:             newID(),
			DepositID:      d.ID,
			OrderID:        r.OrderID,
			AssignedAmount: r.AssignedAmount,
		})
	}

	err := s.orders.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		if err := repo.LockDepositor(ctx, actor.ID); err != nil {
			return err
		}
		if len(ids) > 0 {
			n, err := s.orders.orderRepo.WithTx(tx).CountByIDs(ctx, ids)
			if err != nil {
				return err
			}
			if int(n) != len(ids) {
				return validationf("uno o más pedidos referenciados no existen")
			}
		}
		_, err := repo.FindRecentDuplicate(ctx, d.Amount, d.BankName, d.Reference, actor.ID, time.Now().Add(-duplicateDepositWindow))
		if err == nil {
			return ErrDuplicateDeposit
		}
		if !errors.Is(err, repository.ErrNotFound) {
			return err
		}
		return repo.CreateDeposit(ctx, d)
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("deposit registered",
		zap.String("deposit_id", d.ID),
		zap.String("amount", d.Amount.String()),
		zap.Int("refs", len(d.Refs)),
		zap.String("by", actor.ID),
	)
	return d, nil
}

// AttachDepositEvidence sets or replaces the receipt of a deposit. Admins
// may amend; others may only fill a missing one on their own deposit.
func (s *TreasuryService) AttachDepositEvidence(ctx context.Context, depositID, key string, actor Actor) (*entity.BankDeposit, error) {
	if strings.TrimSpace(key) == "" {
		return nil, ErrEvidenceRequired
	}
	err := s.orders.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		d, err := repo.FindDepositForUpdate(ctx, depositID)
		if err != nil {
			return err
		}
		if !actor.IsAdmin() && (d.DepositedBy != actor.ID || d.HasEvidence()) {
			return ErrForbidden
		}
		d.EvidenceKey = key
		return repo.UpdateDeposit(ctx, d)
	})
	if err != nil {
		return nil, err
	}
	return s.repo.FindDeposit(ctx, depositID)
}

// SetSiigoClosed toggles the accounting acknowledgement of a deposit.
func (s *TreasuryService) SetSiigoClosed(ctx context.Context, depositID string, closed bool, actor Actor) (*entity.BankDeposit, error) {
	if !actor.HasRole(RoleCredit, RoleAdmin) {
		return nil, ErrForbidden
	}
	err := s.orders.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		d, err := repo.FindDepositForUpdate(ctx, depositID)
		if err != nil {
			return err
		}
		if d.SiigoClosed == closed {
			return nil
		}
		if closed && !d.HasEvidence() {
			return ErrEvidenceRequired
		}
		d.SiigoClosed = closed
		if closed {
			now := time.Now()
			d.SiigoClosedAt = &now
			d.SiigoClosedBy = actor.ID
		} else {
			d.SiigoClosedAt = nil
			d.SiigoClosedBy = ""
		}
		return repo.UpdateDeposit(ctx, d)
	})
	if err != nil {
		return nil, err
	}
	return s.repo.FindDeposit(ctx, depositID)
}

func (s *TreasuryService) GetDeposit(ctx context.Context, id string) (*entity.BankDeposit, error) {
	return s.repo.FindDeposit(ctx, id)
}

func (s *TreasuryService) ListDeposits(ctx context.Context, dates repository.DateRange) ([]entity.BankDeposit, error) {
	return s.repo.ListDeposits(ctx, dates)
}

// DepositCandidates lists orders with accepted cash not yet covered by
// deposit cross-references.
func (s *TreasuryService) DepositCandidates(ctx context.Context) ([]repository.DepositCandidate, error) {
	return s.repo.DepositCandidates(ctx)
}

// CloseOrderInSiigo marks an order settled and writes the closure back to
// SIIGO once. A failed write-back leaves the local closure in place, flags
// the order and queues a non-retryable sync log for an operator.
func (s *TreasuryService) CloseOrderInSiigo(ctx context.Context, orderID, method, note string, actor Actor) (*entity.Order, error) {
	if !actor.HasRole(RoleCredit, RoleAdmin) {
		return nil, ErrForbidden
	}
	if method != entity.PaymentCash && method != entity.PaymentTransfer {
		return nil, validationf("el método de cierre debe ser efectivo o transferencia")
	}

	var order *entity.Order
	err := s.orders.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repo := s.orders.orderRepo.WithTx(tx)
		o, err := repo.FindByIDForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		if o.SiigoClosed {
			return ErrAlreadyClosed
		}
		if o.Status == entity.StatusCancelled {
			return &TransitionError{From: o.Status, To: o.Status, Reason: "no se puede cerrar un pedido cancelado"}
		}
		now := time.Now()
		o.SiigoClosed = true
		o.SiigoClosedAt = &now
		o.SiigoClosedBy = actor.ID
		o.SiigoClosureMethod = method
		o.SiigoClosureNote = strings.TrimSpace(note)
		if o.SiigoInvoiceID != nil {
			o.SiigoWritebackStatus = entity.WritebackPending
		}
		order = o
		return repo.Update(ctx, o)
	})
	if err != nil {
		return nil, err
	}
	if order.SiigoInvoiceID == nil {
		return order, nil
	}
	return s.writeBack(ctx, order)
}

// RetryClosureWriteback repeats a failed write-back on operator request.
func (s *TreasuryService) RetryClosureWriteback(ctx context.Context, orderID string, actor Actor) (*entity.Order, error) {
	if !actor.HasRole(RoleCredit, RoleAdmin) {
		return nil, ErrForbidden
	}
	o, err := s.orders.orderRepo.FindByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !o.SiigoClosed || o.SiigoInvoiceID == nil || o.SiigoWritebackStatus != entity.WritebackFailed {
		return nil, ErrNothingToWriteBack
	}
	return s.writeBack(ctx, o)
}

func (s *TreasuryService) writeBack(ctx context.Context, o *entity.Order) (*entity.Order, error) {
	externalID := *o.SiigoInvoiceID
	var callErr error
	if s.api == nil {
		callErr = siigo.ErrNoCredentials
	} else {
		callErr = s.api.CloseInvoice(ctx, siigo.Closure{
			InvoiceID:              externalID,
			InvoiceName:            o.SiigoInvoiceNumber,
			CustomerIdentification: o.CustomerIdentity,
			Amount:                 o.ExpectedCollection(),
			Method:                 o.SiigoClosureMethod,
			Note:                   o.SiigoClosureNote,
		})
	}

	status := entity.WritebackOK
	if callErr != nil {
		status = entity.WritebackFailed
		logRow := &entity.SyncLog{
			ID:                newID(),
			ExternalInvoiceID: externalID,
			SyncType:          entity.SyncClosure,
			Status:            entity.SyncError,
			OrderID:           &o.ID,
			ErrorMessage:      callErr.Error(),
			Retryable:         false,
		}
		if err := s.syncLogs.Create(ctx, logRow); err != nil {
			s.logger.Error("write closure sync log", zap.String("order_id", o.ID), zap.Error(err))
		}
		s.logger.Warn("siigo closure write-back failed",
			zap.String("order_id", o.ID),
			zap.String("external_id", externalID),
			zap.Error(callErr),
		)
	} else if err := s.syncLogs.MarkResolved(ctx, externalID, entity.SyncClosure, o.SiigoClosedBy); err != nil {
		s.logger.Warn("resolve closure failures", zap.String("order_id", o.ID), zap.Error(err))
	}

	var order *entity.Order
	err := s.orders.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repo := s.orders.orderRepo.WithTx(tx)
		locked, err := repo.FindByIDForUpdate(ctx, o.ID)
		if err != nil {
			return err
		}
		locked.SiigoWritebackStatus = status
		order = locked
		return repo.Update(ctx, locked)
	})
	if err != nil {
		return nil, fmt.Errorf("record write-back status: %w", err)
	}
	return order, nil
}

// MovementInput registers extra income or a withdrawal.
type MovementInput struct {
	Type        string          `json:"type" binding:"required,oneof=extra_income withdrawal"`
	Amount      decimal.Decimal `json:"amount" binding:"required"`
	ReasonCode  string          `json:"reason_code"`
	ReasonText  string          `json:"reason_text"`
	OrderID     *string         `json:"order_id"`
	EvidenceKey string          `json:"evidence_key"`
	Notes       string          `json:"notes"`
}

func (s *TreasuryService) CreateMovement(ctx context.Context, actor Actor, in MovementInput) (*entity.Movement, error) {
	if !actor.HasRole(RoleCredit, RoleAdmin) {
		return nil, ErrForbidden
	}
	if in.Type != entity.MovementExtraIncome && in.Type != entity.MovementWithdrawal {
		return nil, validationf("tipo de movimiento desconocido: %s", in.Type)
	}
	if !in.Amount.IsPositive() {
		return nil, validationf("el monto debe ser mayor a cero")
	}
	if in.OrderID != nil && *in.OrderID != "" {
		if _, err := s.orders.orderRepo.FindByID(ctx, *in.OrderID); err != nil {
			return nil, err
		}
	} else {
		in.OrderID = nil
	}
	m := &entity.Movement{
		ID:           newID(),
		Type:         in.Type,
		Amount:       in.Amount,
		ReasonCode:   in.ReasonCode,
		ReasonText:   in.ReasonText,
		OrderID:      in.OrderID,
		EvidenceKey:  in.EvidenceKey,
		Notes:        in.Notes,
		Status:       entity.MovementPending,
		RegisteredBy: actor.ID,
	}
	if err := s.repo.CreateMovement(ctx, m); err != nil {
		return nil, err
	}
	return m, nil
}

// ApproveMovement makes a movement count toward the balance. Admin only.
func (s *TreasuryService) ApproveMovement(ctx context.Context, id string, actor Actor) (*entity.Movement, error) {
	return s.decideMovement(ctx, id, entity.MovementApproved, actor)
}

func (s *TreasuryService) RejectMovement(ctx context.Context, id string, actor Actor) (*entity.Movement, error) {
	return s.decideMovement(ctx, id, entity.MovementRejected, actor)
}

func (s *TreasuryService) decideMovement(ctx context.Context, id, target string, actor Actor) (*entity.Movement, error) {
	if !actor.IsAdmin() {
		return nil, ErrForbidden
	}
	var out *entity.Movement
	err := s.orders.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		m, err := repo.FindMovementForUpdate(ctx, id)
		if err != nil {
			return err
		}
		out = m
		if m.Status == target {
			return nil
		}
		if m.Status != entity.MovementPending {
			return ErrMovementImmutable
		}
		now := time.Now()
		m.Status = target
		m.DecidedBy = actor.ID
		m.DecidedAt = &now
		return repo.UpdateMovement(ctx, m)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// DeleteMovement removes a movement that is still pending.
func (s *TreasuryService) DeleteMovement(ctx context.Context, id string, actor Actor) error {
	if !actor.HasRole(RoleCredit, RoleAdmin) {
		return ErrForbidden
	}
	return s.orders.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		m, err := repo.FindMovementForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if m.Status != entity.MovementPending {
			return ErrMovementImmutable
		}
		return repo.DeleteMovement(ctx, id)
	})
}

func (s *TreasuryService) ListMovements(ctx context.Context, filters map[string]string, dates repository.DateRange) ([]entity.Movement, error) {
	return s.repo.ListMovements(ctx, filters, dates)
}

// Balance is the treasury cash position derived from the ledger.
type Balance struct {
	Base                 decimal.Decimal `json:"base"`
	AcceptedDeclarations decimal.Decimal `json:"accepted_declarations"`
	AcceptedAdhoc        decimal.Decimal `json:"accepted_adhoc"`
	ExtraIncome          decimal.Decimal `json:"extra_income"`
	Deposits             decimal.Decimal `json:"deposits"`
	Withdrawals          decimal.Decimal `json:"withdrawals"`
	Available            decimal.Decimal `json:"available"`
	ComputedAt           time.Time       `json:"computed_at"`
	Stale                bool            `json:"stale"`
}

// Compute fills Available from the other figures.
func (b *Balance) Compute() {
	b.Available = b.Base.
		Add(b.AcceptedDeclarations).
		Add(b.AcceptedAdhoc).
		Add(b.ExtraIncome).
		Sub(b.Deposits).
		Sub(b.Withdrawals)
}

func balanceCacheKey(dates repository.DateRange) string {
	f := func(t *time.Time) string {
		if t == nil {
			return "-"
		}
		return t.Format("2006-01-02")
	}
	return "oms:cash_balance:" + f(dates.From) + ":" + f(dates.To)
}

// CashBalance recomputes the balance. When the store is unavailable the last
// cached figure is returned marked stale.
func (s *TreasuryService) CashBalance(ctx context.Context, dates repository.DateRange) (*Balance, error) {
	b, err := s.computeBalance(ctx, dates)
	key := balanceCacheKey(dates)
	if err != nil {
		if s.cache != nil {
			var cached Balance
			if ok, cerr := s.cache.GetJSON(ctx, key, &cached); cerr == nil && ok {
				s.logger.Warn("serving stale cash balance", zap.Error(err))
				cached.Stale = true
				return &cached, nil
			}
		}
		return nil, err
	}
	if s.cache != nil {
		if err := s.cache.SetJSON(ctx, key, b, s.orders.policy.BalanceCacheTTL); err != nil {
			s.logger.Warn("cache cash balance", zap.Error(err))
		}
	}
	return b, nil
}

func (s *TreasuryService) computeBalance(ctx context.Context, dates repository.DateRange) (*Balance, error) {
	b := &Balance{Base: s.orders.policy.BaseBalance, ComputedAt: time.Now()}
	var err error
	if b.AcceptedDeclarations, err = s.custody.SumAcceptedDeclarations(ctx, dates); err != nil {
		return nil, err
	}
	if b.AcceptedAdhoc, err = s.custody.SumAcceptedAdhoc(ctx, dates); err != nil {
		return nil, err
	}
	if b.ExtraIncome, err = s.repo.SumApprovedMovements(ctx, entity.MovementExtraIncome, dates); err != nil {
		return nil, err
	}
	if b.Withdrawals, err = s.repo.SumApprovedMovements(ctx, entity.MovementWithdrawal, dates); err != nil {
		return nil, err
	}
	if b.Deposits, err = s.repo.SumDeposits(ctx, dates); err != nil {
		return nil, err
	}
	b.Compute()
	return b, nil
}

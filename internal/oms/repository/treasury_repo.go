package repository

import (
	"context"
	"time"

	"github.com/jecaicedo27/toppingfrozen-sub006/internal/oms/entity"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// TreasuryRepository stores bank deposits, their order cross-references and
// manual movements.
type TreasuryRepository struct {
	db *gorm.DB
}

func NewTreasuryRepository(db *gorm.DB) *TreasuryRepository {
	return &TreasuryRepository{db: db}
}

func (r *TreasuryRepository) WithTx(tx *gorm.DB) *TreasuryRepository {
	return &TreasuryRepository{db: tx}
}

// CreateDeposit inserts the deposit header and its refs.
func (r *TreasuryRepository) CreateDeposit(ctx context.Context, d *entity.BankDeposit) error {
	return r.db.WithContext(ctx).Create(d).Error
}

func (r *TreasuryRepository) UpdateDeposit(ctx context.Context, d *entity.BankDeposit) error {
	return r.db.WithContext(ctx).Omit(clause.Associations).Save(d).Error
}

func (r *TreasuryRepository) FindDeposit(ctx context.Context, id string) (*entity.BankDeposit, error) {
	var d entity.BankDeposit
	if err := r.db.WithContext(ctx).Preload("Refs").Where("id = ?", id).First(&d).Error; err != nil {
		return nil, notFound(err)
	}
	return &d, nil
}

func (r *TreasuryRepository) FindDepositForUpdate(ctx context.Context, id string) (*entity.BankDeposit, error) {
	var d entity.BankDeposit
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).
		First(&d).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &d, nil
}

// LockDepositor serializes deposit creation per user for the rest of the
// transaction.
func (r *TreasuryRepository) LockDepositor(ctx context.Context, userID string) error {
	return r.db.WithContext(ctx).Exec("SELECT pg_advisory_xact_lock(hashtext(?))", "bank_deposit:"+userID).Error
}

// FindRecentDuplicate finds an identical deposit registered after since.
func (r *TreasuryRepository) FindRecentDuplicate(ctx context.Context, amount decimal.Decimal, bank, reference, by string, since time.Time) (*entity.BankDeposit, error) {
	var d entity.BankDeposit
	err := r.db.WithContext(ctx).
		Where("amount = ? AND bank_name = ? AND reference = ? AND deposited_by = ? AND created_at >= ?",
			amount, bank, reference, by, since).
		First(&d).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &d, nil
}

func (r *TreasuryRepository) ListDeposits(ctx context.Context, dates DateRange) ([]entity.BankDeposit, error) {
	var rows []entity.BankDeposit
	q := dates.apply(r.db.WithContext(ctx).Model(&entity.BankDeposit{}), "deposited_at")
	err := q.Preload("Refs").Order("deposited_at DESC, id DESC").Find(&rows).Error
	return rows, err
}

func (r *TreasuryRepository) SumDeposits(ctx context.Context, dates DateRange) (decimal.Decimal, error) {
	q := dates.apply(r.db.WithContext(ctx).Model(&entity.BankDeposit{}), "deposited_at")
	return sumColumn(q, "amount")
}

// DepositCandidate is an order whose accepted cash is not fully deposited.
type DepositCandidate struct {
	OrderID     string          `json:"order_id"`
	OrderNumber string          `json:"order_number"`
	CourierID   string          `json:"courier_id"`
	CashTotal   decimal.Decimal `json:"cash_total"`
	Deposited   decimal.Decimal `json:"deposited"`
	Pending     decimal.Decimal `json:"pending"`
}

// DepositCandidates lists orders whose accepted cash exceeds what deposits
// already cross-reference.
func (r *TreasuryRepository) DepositCandidates(ctx context.Context) ([]DepositCandidate, error) {
	var rows []DepositCandidate
	err := r.db.WithContext(ctx).Raw(`
		SELECT c.order_id, o.order_number, c.courier_id,
		       (c.payment_cash + c.fee_cash) AS cash_total,
		       COALESCE(r.deposited, 0) AS deposited,
		       (c.payment_cash + c.fee_cash) - COALESCE(r.deposited, 0) AS pending
		FROM delivery_collections c
		JOIN cash_declarations d ON d.id = c.declaration_id AND d.status = ?
		JOIN orders o ON o.id = c.order_id
		LEFT JOIN (
			SELECT order_id, SUM(assigned_amount) AS deposited
			FROM bank_deposit_refs GROUP BY order_id
		) r ON r.order_id = c.order_id
		WHERE (c.payment_cash + c.fee_cash) - COALESCE(r.deposited, 0) > 0
		ORDER BY c.delivered_at ASC`, entity.DeclarationAccepted).
		Scan(&rows).Error
	return rows, err
}

func (r *TreasuryRepository) CreateMovement(ctx context.Context, m *entity.Movement) error {
	return r.db.WithContext(ctx).Create(m).Error
}

func (r *TreasuryRepository) UpdateMovement(ctx context.Context, m *entity.Movement) error {
	return r.db.WithContext(ctx).Save(m).Error
}

func (r *TreasuryRepository) DeleteMovement(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Where("id = ?", id).Delete(&entity.Movement{}).Error
}

func (r *TreasuryRepository) FindMovementForUpdate(ctx context.Context, id string) (*entity.Movement, error) {
	var m entity.Movement
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).
		First(&m).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &m, nil
}

// ListMovements lists movements with filters
func (r *TreasuryRepository) ListMovements(ctx context.Context, filters map[string]string, dates DateRange) ([]entity.Movement, error) {
	var rows []entity.Movement
	q := r.db.WithContext(ctx).Model(&entity.Movement{})
	if t := filters["type"]; t != "" {
		q = q.Where("type = ?", t)
	}
	if status := filters["status"]; status != "" {
		q = q.Where("status = ?", status)
	}
	if orderID := filters["order_id"]; orderID != "" {
		q = q.Where("order_id = ?", orderID)
	}
	q = dates.apply(q, "created_at")
	err := q.Order("created_at DESC").Find(&rows).Error
	return rows, err
}

// SumApprovedMovements totals approved movements of one type.
func (r *TreasuryRepository) SumApprovedMovements(ctx context.Context, movementType string, dates DateRange) (decimal.Decimal, error) {
	q := r.db.WithContext(ctx).Model(&entity.Movement{}).
		Where("type = ? AND status = ?", movementType, entity.MovementApproved)
	return sumColumn(dates.apply(q, "decided_at"), "amount")
}

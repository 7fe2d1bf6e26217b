package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jecaicedo27/toppingfrozen-sub006/internal/oms/entity"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// CustodyRepository stores delivery collections, courier declarations and
// ad-hoc payments.
type CustodyRepository struct {
	db *gorm.DB
}

func NewCustodyRepository(db *gorm.DB) *CustodyRepository {
	return &CustodyRepository{db: db}
}

func (r *CustodyRepository) WithTx(tx *gorm.DB) *CustodyRepository {
	return &CustodyRepository{db: tx}
}

// LockCourierDay takes a transaction-scoped advisory lock for one courier and day.
func (r *CustodyRepository) LockCourierDay(ctx context.Context, courierID string, day time.Time) error {
	key := fmt.Sprintf("cash_declaration:%s:%s", courierID, day.Format("2006-01-02"))
	return r.db.WithContext(ctx).Exec("SELECT pg_advisory_xact_lock(hashtext(?))", key).Error
}

func (r *CustodyRepository) CreateCollection(ctx context.Context, c *entity.DeliveryCollection) error {
	return r.db.WithContext(ctx).Create(c).Error
}

func (r *CustodyRepository) FindCollectionByOrder(ctx context.Context, orderID string) (*entity.DeliveryCollection, error) {
	var c entity.DeliveryCollection
	if err := r.db.WithContext(ctx).Where("order_id = ?", orderID).First(&c).Error; err != nil {
		return nil, notFound(err)
	}
	return &c, nil
}

// ListOpenCollections returns a courier's collections for a day that are not
// yet attached to a declaration, or attached to declarationID.
func (r *CustodyRepository) ListOpenCollections(ctx context.Context, courierID string, day time.Time, declarationID string) ([]entity.DeliveryCollection, error) {
	var rows []entity.DeliveryCollection
	q := r.db.WithContext(ctx).
		Where("courier_id = ? AND collection_date = ?", courierID, day.Format("2006-01-02"))
	if declarationID != "" {
		q = q.Where("(declaration_id IS NULL OR declaration_id = ?)", declarationID)
	} else {
		q = q.Where("declaration_id IS NULL")
	}
	err := q.Order("delivered_at ASC").Find(&rows).Error
	return rows, err
}

func (r *CustodyRepository) ListCollectionsByDeclaration(ctx context.Context, declarationID string) ([]entity.DeliveryCollection, error) {
	var rows []entity.DeliveryCollection
	err := r.db.WithContext(ctx).Where("declaration_id = ?", declarationID).Order("delivered_at ASC").Find(&rows).Error
	return rows, err
}

// AttachCollections points the given collections at a declaration and
// releases any others previously attached to it.
func (r *CustodyRepository) AttachCollections(ctx context.Context, declarationID string, ids []string) error {
	db := r.db.WithContext(ctx).Model(&entity.DeliveryCollection{})
	if err := db.Where("declaration_id = ?", declarationID).Update("declaration_id", nil).Error; err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Model(&entity.DeliveryCollection{}).
		Where("id IN ?", ids).
		Update("declaration_id", declarationID).Error
}

func (r *CustodyRepository) CreateDeclaration(ctx context.Context, d *entity.CashDeclaration) error {
	return r.db.WithContext(ctx).Create(d).Error
}

func (r *CustodyRepository) UpdateDeclaration(ctx context.Context, d *entity.CashDeclaration) error {
	return r.db.WithContext(ctx).Omit(clause.Associations).Save(d).Error
}

func (r *CustodyRepository) FindDeclaration(ctx context.Context, id string) (*entity.CashDeclaration, error) {
	var d entity.CashDeclaration
	err := r.db.WithContext(ctx).Preload("Collections").Where("id = ?", id).First(&d).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &d, nil
}

func (r *CustodyRepository) FindDeclarationForUpdate(ctx context.Context, id string) (*entity.CashDeclaration, error) {
	var d entity.CashDeclaration
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).
		First(&d).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &d, nil
}

func (r *CustodyRepository) FindDeclarationByCourierDay(ctx context.Context, courierID string, day time.Time) (*entity.CashDeclaration, error) {
	var d entity.CashDeclaration
	err := r.db.WithContext(ctx).
		Where("courier_id = ? AND declaration_date = ?", courierID, day.Format("2006-01-02")).
		First(&d).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &d, nil
}

// ListDeclarations lists declarations with filters
func (r *CustodyRepository) ListDeclarations(ctx context.Context, filters map[string]string, dates DateRange) ([]entity.CashDeclaration, error) {
	var rows []entity.CashDeclaration
	q := r.db.WithContext(ctx).Model(&entity.CashDeclaration{})
	if courier := filters["courier_id"]; courier != "" {
		q = q.Where("courier_id = ?", courier)
	}
	if status := filters["status"]; status != "" {
		q = q.Where("status = ?", status)
	}
	q = dates.apply(q, "declaration_date")
	err := q.Order("declaration_date DESC, created_at DESC").Find(&rows).Error
	return rows, err
}

// SumAcceptedDeclarations totals accepted declarations by acceptance time.
func (r *CustodyRepository) SumAcceptedDeclarations(ctx context.Context, dates DateRange) (decimal.Decimal, error) {
	q := r.db.WithContext(ctx).Model(&entity.CashDeclaration{}).Where("status = ?", entity.DeclarationAccepted)
	return sumColumn(dates.apply(q, "accepted_at"), "declared_amount")
}

func (r *CustodyRepository) CreateAdhoc(ctx context.Context, p *entity.AdhocPayment) error {
	return r.db.WithContext(ctx).Create(p).Error
}

func (r *CustodyRepository) UpdateAdhoc(ctx context.Context, p *entity.AdhocPayment) error {
	return r.db.WithContext(ctx).Save(p).Error
}

func (r *CustodyRepository) FindAdhocForUpdate(ctx context.Context, id string) (*entity.AdhocPayment, error) {
	var p entity.AdhocPayment
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).
		First(&p).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &p, nil
}

func (r *CustodyRepository) ListAdhoc(ctx context.Context, courierID, status string) ([]entity.AdhocPayment, error) {
	var rows []entity.AdhocPayment
	q := r.db.WithContext(ctx).Model(&entity.AdhocPayment{})
	if courierID != "" {
		q = q.Where("courier_id = ?", courierID)
	}
	if status != "" {
		q = q.Where("status = ?", status)
	}
	err := q.Order("created_at DESC").Find(&rows).Error
	return rows, err
}

// SumAcceptedAdhoc totals accepted ad-hoc payments by decision time.
func (r *CustodyRepository) SumAcceptedAdhoc(ctx context.Context, dates DateRange) (decimal.Decimal, error) {
	q := r.db.WithContext(ctx).Model(&entity.AdhocPayment{}).Where("status = ?", entity.AdhocAccepted)
	return sumColumn(dates.apply(q, "decided_at"), "amount")
}

func sumColumn(q *gorm.DB, column string) (decimal.Decimal, error) {
	var out struct {
		Total decimal.Decimal
	}
	if err := q.Select("COALESCE(SUM(" + column + "), 0) AS total").Scan(&out).Error; err != nil {
		return decimal.Zero, err
	}
	return out.Total, nil
}

package repository

import (
	"context"
	"time"

	"github.com/jecaicedo27/toppingfrozen-sub006/internal/oms/entity"
	"gorm.io/gorm"
)

// PackagingRepository stores checklist items, scans and evidence photos.
type PackagingRepository struct {
	db *gorm.DB
}

func NewPackagingRepository(db *gorm.DB) *PackagingRepository {
	return &PackagingRepository{db: db}
}

func (r *PackagingRepository) WithTx(tx *gorm.DB) *PackagingRepository {
	return &PackagingRepository{db: tx}
}

func (r *PackagingRepository) CreateItems(ctx context.Context, items []entity.PackagingItem) error {
	if len(items) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Create(&items).Error
}

func (r *PackagingRepository) DeleteItems(ctx context.Context, orderID string) error {
	return r.db.WithContext(ctx).Where("order_id = ?", orderID).Delete(&entity.PackagingItem{}).Error
}

func (r *PackagingRepository) FindItems(ctx context.Context, orderID string) ([]entity.PackagingItem, error) {
	var items []entity.PackagingItem
	err := r.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("created_at ASC, id ASC").
		Find(&items).Error
	return items, err
}

func (r *PackagingRepository) FindItem(ctx context.Context, orderID, itemID string) (*entity.PackagingItem, error) {
	var item entity.PackagingItem
	err := r.db.WithContext(ctx).Where("id = ? AND order_id = ?", itemID, orderID).First(&item).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &item, nil
}

// FindItemByCode matches a normalised barcode or product code. Unverified
// items win so repeated products keep filling the next open line.
func (r *PackagingRepository) FindItemByCode(ctx context.Context, orderID, code string) (*entity.PackagingItem, error) {
	var item entity.PackagingItem
	err := r.db.WithContext(ctx).
		Where("order_id = ? AND (barcode = ? OR product_code = ?)", orderID, code, code).
		Order("is_verified ASC, created_at ASC").
		First(&item).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &item, nil
}

// IncrementScan adds qty to the scanned count in a single statement, capped at
// the required count, so concurrent scans on one row never lose an update.
func (r *PackagingRepository) IncrementScan(ctx context.Context, orderID, itemID string, qty int, by string) (*entity.PackagingItem, error) {
	now := time.Now()
	next := gorm.Expr("LEAST(scanned_count + ?, required_count)", qty)
	res := r.db.WithContext(ctx).
		Model(&entity.PackagingItem{}).
		Where("id = ? AND order_id = ?", itemID, orderID).
		Updates(map[string]interface{}{
			"scanned_count": next,
			"is_verified":   gorm.Expr("LEAST(scanned_count + ?, required_count) >= required_count", qty),
			"verified_by":   gorm.Expr("CASE WHEN NOT is_verified AND scanned_count + ? >= required_count THEN ? ELSE verified_by END", qty, by),
			"verified_at":   gorm.Expr("CASE WHEN NOT is_verified AND scanned_count + ? >= required_count THEN ?::timestamptz ELSE verified_at END", qty, now),
			"updated_at":    now,
		})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, ErrNotFound
	}
	return r.FindItem(ctx, orderID, itemID)
}

func (r *PackagingRepository) UpdateItem(ctx context.Context, item *entity.PackagingItem) error {
	return r.db.WithContext(ctx).Save(item).Error
}

func (r *PackagingRepository) CreateScan(ctx context.Context, scan *entity.PackagingScan) error {
	return r.db.WithContext(ctx).Create(scan).Error
}

func (r *PackagingRepository) CreateEvidence(ctx context.Context, ev *entity.PackagingEvidence) error {
	return r.db.WithContext(ctx).Create(ev).Error
}

func (r *PackagingRepository) ListEvidence(ctx context.Context, orderID string) ([]entity.PackagingEvidence, error) {
	var rows []entity.PackagingEvidence
	err := r.db.WithContext(ctx).Where("order_id = ?", orderID).Order("created_at ASC").Find(&rows).Error
	return rows, err
}

func (r *PackagingRepository) CountEvidence(ctx context.Context, orderID string) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&entity.PackagingEvidence{}).Where("order_id = ?", orderID).Count(&n).Error
	return n, err
}

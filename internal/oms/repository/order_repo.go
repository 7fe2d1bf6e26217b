package repository

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jecaicedo27/toppingfrozen-sub006/internal/oms/entity"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// OrderRepository stores orders, their line items and status history.
type OrderRepository struct {
	db *gorm.DB
}

func NewOrderRepository(db *gorm.DB) *OrderRepository {
	return &OrderRepository{db: db}
}

// WithTx returns a copy bound to tx.
func (r *OrderRepository) WithTx(tx *gorm.DB) *OrderRepository {
	return &OrderRepository{db: tx}
}

// FindAll lists orders with filters
func (r *OrderRepository) FindAll(ctx context.Context, page, pageSize int, filters map[string]string) ([]entity.Order, int64, error) {
	var items []entity.Order
	var total int64

	query := r.db.WithContext(ctx).Model(&entity.Order{})

	if status := filters["status"]; status != "" {
		query = query.Where("status = ?", status)
	}
	if assigned := filters["assigned_to"]; assigned != "" {
		query = query.Where("assigned_to = ?", assigned)
	}
	if source := filters["order_source"]; source != "" {
		query = query.Where("order_source = ?", source)
	}
	if parsing := filters["parsing_status"]; parsing != "" {
		query = query.Where("parsing_status = ?", parsing)
	}
	if filters["needs_logistics_ack"] == "true" {
		query = query.Where("needs_logistics_ack = ?", true)
	}
	if filters["siigo_closed"] != "" {
		query = query.Where("siigo_closed = ?", filters["siigo_closed"] == "true")
	}
	if keyword := filters["keyword"]; keyword != "" {
		like := "%" + keyword + "%"
		query = query.Where("(order_number ILIKE ? OR customer_name ILIKE ? OR customer_phone ILIKE ?)", like, like, like)
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	offset := (page - 1) * pageSize
	err := query.
		Order("created_at DESC").
		Offset(offset).
		Limit(pageSize).
		Find(&items).Error

	return items, total, err
}

// FindByID loads an order with its items.
func (r *OrderRepository) FindByID(ctx context.Context, id string) (*entity.Order, error) {
	var o entity.Order
	err := r.db.WithContext(ctx).
		Preload("Items", func(db *gorm.DB) *gorm.DB { return db.Order("line_number ASC") }).
		Where("id = ?", id).
		First(&o).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &o, nil
}

// FindByIDForUpdate locks the order row until the surrounding transaction ends.
func (r *OrderRepository) FindByIDForUpdate(ctx context.Context, id string) (*entity.Order, error) {
	var o entity.Order
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).
		First(&o).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &o, nil
}

func (r *OrderRepository) FindByNumber(ctx context.Context, number string) (*entity.Order, error) {
	var o entity.Order
	if err := r.db.WithContext(ctx).Where("order_number = ?", number).First(&o).Error; err != nil {
		return nil, notFound(err)
	}
	return &o, nil
}

func (r *OrderRepository) FindBySiigoInvoiceID(ctx context.Context, externalID string) (*entity.Order, error) {
	var o entity.Order
	if err := r.db.WithContext(ctx).Where("siigo_invoice_id = ?", externalID).First(&o).Error; err != nil {
		return nil, notFound(err)
	}
	return &o, nil
}

// CountByIDs counts how many of ids name existing orders.
func (r *OrderRepository) CountByIDs(ctx context.Context, ids []string) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&entity.Order{}).Where("id IN ?", ids).Count(&n).Error
	return n, err
}

// Create inserts the order and its items.
func (r *OrderRepository) Create(ctx context.Context, o *entity.Order) error {
	return r.db.WithContext(ctx).Create(o).Error
}

// Update saves the order row only.
func (r *OrderRepository) Update(ctx context.Context, o *entity.Order) error {
	return r.db.WithContext(ctx).Omit(clause.Associations).Save(o).Error
}

// ReplaceItems swaps the item set of an order.
func (r *OrderRepository) ReplaceItems(ctx context.Context, orderID string, items []entity.OrderItem) error {
	db := r.db.WithContext(ctx)
	if err := db.Where("order_id = ?", orderID).Delete(&entity.OrderItem{}).Error; err != nil {
		return err
	}
	if len(items) == 0 {
		return nil
	}
	return db.Create(&items).Error
}

func (r *OrderRepository) FindItems(ctx context.Context, orderID string) ([]entity.OrderItem, error) {
	var items []entity.OrderItem
	err := r.db.WithContext(ctx).Where("order_id = ?", orderID).Order("line_number ASC").Find(&items).Error
	return items, err
}

// CreateHistory appends a status history row.
func (r *OrderRepository) CreateHistory(ctx context.Context, h *entity.StatusHistory) error {
	return r.db.WithContext(ctx).Create(h).Error
}

func (r *OrderRepository) ListHistory(ctx context.Context, orderID string) ([]entity.StatusHistory, error) {
	var rows []entity.StatusHistory
	err := r.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("created_at ASC, id ASC").
		Find(&rows).Error
	return rows, err
}

// GenerateNumber returns the next manual order number, PED-YYYYMM-XXXX.
// It takes a transaction-scoped advisory lock on the month prefix, so it must
// run inside the transaction that inserts the order: concurrent creators then
// wait for each other and never draw the same number.
func (r *OrderRepository) GenerateNumber(ctx context.Context) (string, error) {
	prefix := fmt.Sprintf("PED-%s", time.Now().Format("200601"))
	db := r.db.WithContext(ctx)
	if err := db.Exec("SELECT pg_advisory_xact_lock(hashtext(?))", "order_number:"+prefix).Error; err != nil {
		return "", err
	}
	var last []string
	err := db.Unscoped().Model(&entity.Order{}).
		Where("order_number ~ ?", "^"+prefix+"-[0-9]+$").
		Order("LENGTH(order_number) DESC, order_number DESC").
		Limit(1).
		Pluck("order_number", &last).Error
	if err != nil {
		return "", err
	}
	next := 1
	if len(last) > 0 {
		n, err := strconv.Atoi(strings.TrimPrefix(last[0], prefix+"-"))
		if err != nil {
			return "", fmt.Errorf("parse order number %q: %w", last[0], err)
		}
		next = n + 1
	}
	return fmt.Sprintf("%s-%04d", prefix, next), nil
}

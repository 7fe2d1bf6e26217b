package repository

import (
	"context"
	"time"

	"github.com/jecaicedo27/toppingfrozen-sub006/internal/oms/entity"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SyncLogRepository stores SIIGO sync logs.
type SyncLogRepository struct {
	db *gorm.DB
}

func NewSyncLogRepository(db *gorm.DB) *SyncLogRepository {
	return &SyncLogRepository{db: db}
}

func (r *SyncLogRepository) WithTx(tx *gorm.DB) *SyncLogRepository {
	return &SyncLogRepository{db: tx}
}

func (r *SyncLogRepository) Create(ctx context.Context, l *entity.SyncLog) error {
	return r.db.WithContext(ctx).Create(l).Error
}

func (r *SyncLogRepository) Update(ctx context.Context, l *entity.SyncLog) error {
	return r.db.WithContext(ctx).Save(l).Error
}

func (r *SyncLogRepository) FindByID(ctx context.Context, id string) (*entity.SyncLog, error) {
	var l entity.SyncLog
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&l).Error; err != nil {
		return nil, notFound(err)
	}
	return &l, nil
}

// FindImportSuccess returns the success log of an imported invoice.
func (r *SyncLogRepository) FindImportSuccess(ctx context.Context, externalID string) (*entity.SyncLog, error) {
	var l entity.SyncLog
	err := r.db.WithContext(ctx).
		Where("external_invoice_id = ? AND status = ? AND sync_type <> ?", externalID, entity.SyncSuccess, entity.SyncClosure).
		First(&l).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &l, nil
}

// SettledIDs returns which of ids the poller must leave alone: imported
// invoices and invoices with an unresolved permanent failure. The latter wait
// for an operator.
func (r *SyncLogRepository) SettledIDs(ctx context.Context, ids []string) (map[string]bool, error) {
	known := make(map[string]bool, len(ids))
	if len(ids) == 0 {
		return known, nil
	}
	var found []string
	err := r.db.WithContext(ctx).Model(&entity.SyncLog{}).
		Where("external_invoice_id IN ? AND sync_type <> ?", ids, entity.SyncClosure).
		Where("(status = ? OR (status = ? AND retryable = ? AND resolved = ?))",
			entity.SyncSuccess, entity.SyncError, false, false).
		Pluck("external_invoice_id", &found).Error
	if err != nil {
		return nil, err
	}
	for _, id := range found {
		known[id] = true
	}
	return known, nil
}

// RetryableIDs returns invoice ids that failed with a retryable error since
// the given time and are neither imported nor parked for an operator.
func (r *SyncLogRepository) RetryableIDs(ctx context.Context, since time.Time, limit int) ([]string, error) {
	var ids []string
	err := r.db.WithContext(ctx).Model(&entity.SyncLog{}).
		Distinct("external_invoice_id").
		Where("status = ? AND retryable = ? AND resolved = ? AND sync_type <> ? AND created_at >= ?",
			entity.SyncError, true, false, entity.SyncClosure, since).
		Where("external_invoice_id NOT IN (?)",
			r.db.Model(&entity.SyncLog{}).Select("external_invoice_id").
				Where("sync_type <> ?", entity.SyncClosure).
				Where("(status = ? OR (status = ? AND retryable = ? AND resolved = ?))",
					entity.SyncSuccess, entity.SyncError, false, false)).
		Limit(limit).
		Pluck("external_invoice_id", &ids).Error
	return ids, err
}

// OperatorQueue lists unresolved failures that need a human.
func (r *SyncLogRepository) OperatorQueue(ctx context.Context) ([]entity.SyncLog, error) {
	var rows []entity.SyncLog
	err := r.db.WithContext(ctx).
		Where("status = ? AND retryable = ? AND resolved = ?", entity.SyncError, false, false).
		Order("created_at DESC").
		Find(&rows).Error
	return rows, err
}

// MarkResolved closes every open failure of an invoice for one sync type.
func (r *SyncLogRepository) MarkResolved(ctx context.Context, externalID, syncType, by string) error {
	q := r.db.WithContext(ctx).Model(&entity.SyncLog{}).
		Where("external_invoice_id = ? AND status = ? AND resolved = ?", externalID, entity.SyncError, false)
	if syncType == entity.SyncClosure {
		q = q.Where("sync_type = ?", entity.SyncClosure)
	} else {
		q = q.Where("sync_type <> ?", entity.SyncClosure)
	}
	return q.Updates(map[string]interface{}{"resolved": true, "resolved_by": by}).Error
}

// FindAll lists sync logs with filters
func (r *SyncLogRepository) FindAll(ctx context.Context, page, pageSize int, filters map[string]string) ([]entity.SyncLog, int64, error) {
	var items []entity.SyncLog
	var total int64

	query := r.db.WithContext(ctx).Model(&entity.SyncLog{})
	if status := filters["status"]; status != "" {
		query = query.Where("status = ?", status)
	}
	if t := filters["sync_type"]; t != "" {
		query = query.Where("sync_type = ?", t)
	}
	if ext := filters["external_invoice_id"]; ext != "" {
		query = query.Where("external_invoice_id = ?", ext)
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	err := query.Omit("raw_payload").
		Order("created_at DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&items).Error
	return items, total, err
}

// OutboxRepository stores outbox events.
type OutboxRepository struct {
	db *gorm.DB
}

func NewOutboxRepository(db *gorm.DB) *OutboxRepository {
	return &OutboxRepository{db: db}
}

func (r *OutboxRepository) WithTx(tx *gorm.DB) *OutboxRepository {
	return &OutboxRepository{db: tx}
}

func (r *OutboxRepository) Create(ctx context.Context, e *entity.OutboxEvent) error {
	return r.db.WithContext(ctx).Create(e).Error
}

// ClaimPending locks up to limit pending events, skipping rows other relays hold.
func (r *OutboxRepository) ClaimPending(ctx context.Context, limit int) ([]entity.OutboxEvent, error) {
	var rows []entity.OutboxEvent
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
		Where("status = ?", entity.OutboxPending).
		Order("created_at ASC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

func (r *OutboxRepository) MarkDone(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Model(&entity.OutboxEvent{}).
		Where("id IN ?", ids).
		Updates(map[string]interface{}{"status": entity.OutboxDone, "updated_at": time.Now()}).Error
}

// MarkAttemptFailed records an error and gives up after maxAttempts.
func (r *OutboxRepository) MarkAttemptFailed(ctx context.Context, id, msg string, maxAttempts int) error {
	return r.db.WithContext(ctx).Model(&entity.OutboxEvent{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"attempts":   gorm.Expr("attempts + 1"),
			"last_error": msg,
			"status":     gorm.Expr("CASE WHEN attempts + 1 >= ? THEN ? ELSE status END", maxAttempts, entity.OutboxFailed),
			"updated_at": time.Now(),
		}).Error
}

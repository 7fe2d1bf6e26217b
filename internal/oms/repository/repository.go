package repository

import (
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

var (
	ErrNotFound = errors.New("record not found")
)

// PgErrUniqueViolation is the Postgres code for a unique index conflict.
const PgErrUniqueViolation = "23505"

// IsUniqueViolation reports whether err is a unique constraint conflict.
func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == PgErrUniqueViolation
	}
	return errors.Is(err, gorm.ErrDuplicatedKey)
}

// DateRange bounds list and sum queries. Nil ends are open.
type DateRange struct {
	From *time.Time
	To   *time.Time
}

func (d DateRange) apply(q *gorm.DB, column string) *gorm.DB {
	if d.From != nil {
		q = q.Where(column+" >= ?", *d.From)
	}
	if d.To != nil {
		q = q.Where(column+" < ?", d.To.AddDate(0, 0, 1))
	}
	return q
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}

// Repositories groups every store of the order module.
type Repositories struct {
	Order     *OrderRepository
	Packaging *PackagingRepository
	Custody   *CustodyRepository
	Treasury  *TreasuryRepository
	SyncLog   *SyncLogRepository
	Outbox    *OutboxRepository
}

func NewRepositories(db *gorm.DB) *Repositories {
	return &Repositories{
		Order:     NewOrderRepository(db),
		Packaging: NewPackagingRepository(db),
		Custody:   NewCustodyRepository(db),
		Treasury:  NewTreasuryRepository(db),
		SyncLog:   NewSyncLogRepository(db),
		Outbox:    NewOutboxRepository(db),
	}
}

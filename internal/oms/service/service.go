package service

import (
	"context"
	"io"
	"time"

	"github.com/jecaicedo27/toppingfrozen-sub006/internal/oms/repository"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Policy holds the business knobs loaded from configuration.
type Policy struct {
	CashTolerance            decimal.Decimal
	DepositTolerance         decimal.Decimal
	BaseBalance              decimal.Decimal
	RequirePackagingEvidence bool
	EnforcePackagingLock     bool
	PackagingLockTTL         time.Duration
	BalanceCacheTTL          time.Duration
}

// DefaultPolicy is strict reconciliation with optional packaging controls off.
func DefaultPolicy() Policy {
	return Policy{
		CashTolerance:    decimal.Zero,
		DepositTolerance: decimal.Zero,
		BaseBalance:      decimal.Zero,
		PackagingLockTTL: 10 * time.Minute,
		BalanceCacheTTL:  10 * time.Minute,
	}
}

// LockStore is a TTL lease keyed by name.
type LockStore interface {
	Acquire(ctx context.Context, key, owner string, ttl time.Duration) (holder string, acquired bool, err error)
	Refresh(ctx context.Context, key, owner string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key, owner string) (bool, error)
	ForceRelease(ctx context.Context, key string) error
	Holder(ctx context.Context, key string) (holder string, ttl time.Duration, err error)
}

// ValueCache stores JSON snapshots served when the source is unavailable.
type ValueCache interface {
	SetJSON(ctx context.Context, key string, v interface{}, ttl time.Duration) error
	GetJSON(ctx context.Context, key string, dst interface{}) (bool, error)
}

// ObjectStore keeps evidence files.
type ObjectStore interface {
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	PresignedURL(ctx context.Context, key string, expiry time.Duration) (string, error)
}

// Deps are the collaborators the services are built from. Optional ones may
// be nil.
type Deps struct {
	DB       *gorm.DB
	Repos    *repository.Repositories
	Notifier Notifier
	Policy   Policy
	Locks    LockStore
	Cache    ValueCache
	Objects  ObjectStore
	Siigo    SiigoAPI
	Logger   *zap.Logger
}

// Services groups every order-module service.
type Services struct {
	Order     *OrderService
	Packaging *PackagingService
	Custody   *CustodyService
	Treasury  *TreasuryService
	Siigo     *SiigoImportService
	Evidence  *EvidenceService
	Report    *ReportService
}

func NewServices(d Deps) *Services {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	orders := NewOrderService(d.DB, d.Repos, d.Notifier, d.Policy, d.Logger)
	return &Services{
		Order:     orders,
		Packaging: NewPackagingService(orders, d.Locks, d.Objects),
		Custody:   NewCustodyService(orders, d.Repos.Custody),
		Treasury:  NewTreasuryService(orders, d.Repos.Custody, d.Repos.Treasury, d.Repos.SyncLog, d.Siigo, d.Cache),
		Siigo:     NewSiigoImportService(orders, d.Repos.SyncLog, d.Siigo),
		Evidence:  NewEvidenceService(d.Objects),
		Report:    NewReportService(d.Repos.Custody, d.Repos.Treasury),
	}
}

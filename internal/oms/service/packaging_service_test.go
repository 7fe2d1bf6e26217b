package service

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jecaicedo27/toppingfrozen-sub006/internal/oms/entity"
	"github.com/jecaicedo27/toppingfrozen-sub006/internal/oms/repository"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNormalizeBarcode(t *testing.T) {
	cases := map[string]string{
		"7701234567890":    "7701234567890",
		"  7701234567890 ": "7701234567890",
		"7701234567890,0":  "7701234567890",
		"7701234567890.00": "7701234567890",
		"770 1234 567":     "7701234567",
		"SKU-FRESA.1":      "SKU-FRESA.1",
		"":                 "",
		"\t12,5\n":         "12",
		"ABC 12,0":         "ABC12.0",
	}
	for in, want := range cases {
		assert.Equal(t, want, NormalizeBarcode(in), "input %q", in)
	}
}

func TestRequiredCount(t *testing.T) {
	assert.Equal(t, 3, RequiredCount(decimal.NewFromInt(3)))
	assert.Equal(t, 2, RequiredCount(decimal.RequireFromString("2.5")))
	assert.Equal(t, 1, RequiredCount(decimal.RequireFromString("0.5")))
	assert.Equal(t, 1, RequiredCount(decimal.Zero))
}

func TestEvaluateChecklist(t *testing.T) {
	items := []entity.PackagingItem{
		{ID: "1", ProductName: "Topping chocolate", RequiredCount: 2, ScannedCount: 2},
		{ID: "2", ProductName: "Sirope fresa", RequiredCount: 3, ScannedCount: 1},
		{ID: "3", ProductName: "Vasos", RequiredCount: 1},
	}
	missing := EvaluateChecklist(items)
	require.Len(t, missing, 2)
	assert.Equal(t, MissingItem{ItemID: "2", Product: "Sirope fresa", Required: 3, Scanned: 1}, missing[0])
	assert.Equal(t, "3", missing[1].ItemID)

	items[1].ScannedCount = 3
	items[2].ScannedCount = 1
	assert.Empty(t, EvaluateChecklist(items))
}

func TestChecklistFromItems(t *testing.T) {
	lines := []entity.OrderItem{
		{ID: "l1", Name: "Sirope fresa", ProductCode: "SF1", Barcode: "7701,0", Quantity: decimal.NewFromInt(4)},
		{ID: "l2", Name: "Granola", Quantity: decimal.RequireFromString("0.25")},
	}
	items := checklistFromItems("o1", lines)
	require.Len(t, items, 2)
	assert.Equal(t, "o1", items[0].OrderID)
	assert.Equal(t, "l1", items[0].OrderItemID)
	assert.Equal(t, "7701", items[0].Barcode)
	assert.Equal(t, 4, items[0].RequiredCount)
	assert.Equal(t, 1, items[1].RequiredCount)
	assert.Len(t, items[0].ID, 32)
	assert.NotEqual(t, items[0].ID, items[1].ID)
}

func TestBuildProgress(t *testing.T) {
	p := buildProgress("o1", []entity.PackagingItem{
		{RequiredCount: 2, ScannedCount: 2},
		{RequiredCount: 3, ScannedCount: 1},
	})
	assert.Equal(t, 2, p.TotalItems)
	assert.Equal(t, 1, p.VerifiedItems)
	assert.Equal(t, 3, p.ScannedUnits)
	assert.Equal(t, 5, p.RequiredUnits)
	assert.False(t, p.Complete)

	assert.False(t, buildProgress("o1", nil).Complete)
}

func TestEvidenceKey(t *testing.T) {
	key := evidenceKey("packaging", "o1", "Foto.JPG")
	assert.True(t, strings.HasPrefix(key, "packaging/"))
	assert.True(t, strings.HasSuffix(key, ".jpg"))
	assert.Contains(t, key, "/o1/")
}

// memLocks is an in-memory LockStore.
type memLocks struct {
	mu     sync.Mutex
	holder map[string]string
}

func newMemLocks() *memLocks {
	return &memLocks{holder: map[string]string{}}
}

func (m *memLocks) Acquire(_ context.Context, key, owner string, _ time.Duration) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if h, ok := m.holder[key]; ok && h != owner {
		return h, false, nil
	}
	m.holder[key] = owner
	return owner, true, nil
}

func (m *memLocks) Refresh(_ context.Context, key, owner string, _ time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.holder[key] == owner, nil
}

func (m *memLocks) Release(_ context.Context, key, owner string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.holder[key] != owner {
		return false, nil
	}
	delete(m.holder, key)
	return true, nil
}

func (m *memLocks) ForceRelease(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.holder, key)
	return nil
}

func (m *memLocks) Holder(_ context.Context, key string) (string, time.Duration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if h, ok := m.holder[key]; ok {
		return h, time.Minute, nil
	}
	return "", 0, nil
}

func newTestPackaging(policy Policy, locks LockStore) *PackagingService {
	orders := NewOrderService(nil, repository.NewRepositories(nil), nil, policy, zap.NewNop())
	return NewPackagingService(orders, locks, nil)
}

func TestPackagingLock_EnforcedForOthers(t *testing.T) {
	locks := newMemLocks()
	policy := DefaultPolicy()
	policy.EnforcePackagingLock = true
	svc := newTestPackaging(policy, locks)
	ctx := context.Background()

	ana := Actor{ID: "ana", Roles: []string{RolePacker}}
	luis := Actor{ID: "luis", Roles: []string{RolePacker}}

	_, _, err := locks.Acquire(ctx, lockKey("o1"), ana.ID, time.Minute)
	require.NoError(t, err)

	assert.NoError(t, svc.checkLock(ctx, "o1", ana))
	assert.ErrorIs(t, svc.checkLock(ctx, "o1", luis), ErrPackagingLocked)
	assert.NoError(t, svc.checkLock(ctx, "o2", luis))

	info, err := svc.LockStatus(ctx, "o1", luis)
	require.NoError(t, err)
	assert.True(t, info.Enabled)
	assert.Equal(t, "ana", info.Holder)
	assert.False(t, info.Mine)

	_, err = svc.Heartbeat(ctx, "o1", luis)
	assert.ErrorIs(t, err, ErrPackagingLocked)

	assert.ErrorIs(t, svc.ForceUnlock(ctx, "o1", luis), ErrForbidden)
	require.NoError(t, svc.ForceUnlock(ctx, "o1", Actor{ID: "boss", Roles: []string{RoleAdmin}}))
	assert.NoError(t, svc.checkLock(ctx, "o1", luis))
}

func TestPackagingLock_AdvisoryByDefault(t *testing.T) {
	locks := newMemLocks()
	svc := newTestPackaging(DefaultPolicy(), locks)
	ctx := context.Background()

	_, _, _ = locks.Acquire(ctx, lockKey("o1"), "ana", time.Minute)
	assert.NoError(t, svc.checkLock(ctx, "o1", Actor{ID: "luis", Roles: []string{RolePacker}}))
}

func TestPackagingLock_DisabledWithoutStore(t *testing.T) {
	svc := newTestPackaging(DefaultPolicy(), nil)
	ctx := context.Background()
	actor := Actor{ID: "ana", Roles: []string{RolePacker}}

	info, err := svc.LockStatus(ctx, "o1", actor)
	require.NoError(t, err)
	assert.False(t, info.Enabled)

	info, err = svc.AcquireLock(ctx, "o1", actor)
	require.NoError(t, err)
	assert.Equal(t, "o1", info.OrderID)
	assert.NoError(t, svc.ReleaseLock(ctx, "o1", actor))
}

func TestPackagingLockTTL(t *testing.T) {
	p := DefaultPolicy()
	p.PackagingLockTTL = 0
	assert.Equal(t, 10*time.Minute, newTestPackaging(p, nil).lockTTL())
	p.PackagingLockTTL = time.Minute
	assert.Equal(t, time.Minute, newTestPackaging(p, nil).lockTTL())
}

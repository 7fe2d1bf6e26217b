package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"regexp"
	"strings"
	"time"

	"github.com/jecaicedo27/toppingfrozen-sub006/internal/oms/entity"
	"github.com/jecaicedo27/toppingfrozen-sub006/internal/oms/repository"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// PackagingService runs the scan checklist that gates listo_para_entrega.
type PackagingService struct {
	orders  *OrderService
	repo    *repository.PackagingRepository
	locks   LockStore
	objects ObjectStore
	logger  *zap.Logger
}

func NewPackagingService(orders *OrderService, locks LockStore, objects ObjectStore) *PackagingService {
	return &PackagingService{
		orders:  orders,
		repo:    orders.packagingRepo,
		locks:   locks,
		objects: objects,
		logger:  orders.logger.Named("packaging"),
	}
}

var decimalSuffix = regexp.MustCompile(`^(\d+)\.\d+$`)

// NormalizeBarcode makes scanner and spreadsheet codes comparable: trims,
// removes inner whitespace, treats a comma as decimal point and drops the
// decimal part of purely numeric codes ("7701234,0" -> "7701234").
func NormalizeBarcode(raw string) string {
	s := strings.ReplaceAll(strings.TrimSpace(raw), ",", ".")
	s = strings.Join(strings.Fields(s), "")
	if m := decimalSuffix.FindStringSubmatch(s); m != nil {
		return m[1]
	}
	return s
}

// RequiredCount is the number of scans a line needs: its whole units, at
// least one.
func RequiredCount(qty decimal.Decimal) int {
	n := qty.Floor().IntPart()
	if n < 1 {
		return 1
	}
	return int(n)
}

// EvaluateChecklist lists every item below its required count.
func EvaluateChecklist(items []entity.PackagingItem) []MissingItem {
	var missing []MissingItem
	for _, it := range items {
		if it.ScannedCount < it.RequiredCount {
			missing = append(missing, MissingItem{
				ItemID:   it.ID,
				Product:  it.ProductName,
				Required: it.RequiredCount,
				Scanned:  it.ScannedCount,
			})
		}
	}
	return missing
}

func checklistFromItems(orderID string, lines []entity.OrderItem) []entity.PackagingItem {
	items := make([]entity.PackagingItem, 0, len(lines))
	for _, l := range lines {
		items = append(items, entity.PackagingItem{
			ID:             newID(),
			OrderID:        orderID,
			OrderItemID:    l.ID,
			ProductCode:    l.ProductCode,
			ProductName:    l.Name,
			Barcode:        NormalizeBarcode(l.Barcode),
			RequiredCount:  RequiredCount(l.Quantity),
			RequiredWeight: l.Weight,
			Flavor:         l.Flavor,
		})
	}
	return items
}

func checklistKey(code, barcode, name string) string {
	return code + "|" + barcode + "|" + strings.ToLower(name)
}

// rebuildChecklist regenerates the checklist after items change, carrying
// over scans of matching products up to the new required counts.
func rebuildChecklist(ctx context.Context, repo *repository.PackagingRepository, orderID string, lines []entity.OrderItem) error {
	old, err := repo.FindItems(ctx, orderID)
	if err != nil {
		return err
	}
	scanned := make(map[string]int, len(old))
	for _, it := range old {
		scanned[checklistKey(it.ProductCode, it.Barcode, it.ProductName)] += it.ScannedCount
	}
	items := checklistFromItems(orderID, lines)
	for i := range items {
		k := checklistKey(items[i].ProductCode, items[i].Barcode, items[i].ProductName)
		carry := scanned[k]
		if carry > items[i].RequiredCount {
			carry = items[i].RequiredCount
		}
		scanned[k] -= carry
		items[i].ScannedCount = carry
		items[i].IsVerified = carry >= items[i].RequiredCount
	}
	if err := repo.DeleteItems(ctx, orderID); err != nil {
		return err
	}
	return repo.CreateItems(ctx, items)
}

// Progress is a read-only snapshot of an order's checklist.
type Progress struct {
	OrderID       string                 `json:"order_id"`
	VerifiedItems int                    `json:"verified_items"`
	TotalItems    int                    `json:"total_items"`
	ScannedUnits  int                    `json:"scanned_units"`
	RequiredUnits int                    `json:"required_units"`
	Complete      bool                   `json:"complete"`
	Items         []entity.PackagingItem `json:"items"`
}

func buildProgress(orderID string, items []entity.PackagingItem) *Progress {
	p := &Progress{OrderID: orderID, TotalItems: len(items), Items: items}
	for _, it := range items {
		if it.ScannedCount >= it.RequiredCount {
			p.VerifiedItems++
		}
		p.ScannedUnits += it.ScannedCount
		p.RequiredUnits += it.RequiredCount
	}
	p.Complete = p.TotalItems > 0 && p.VerifiedItems == p.TotalItems
	return p
}

// BeginPackaging moves the order into en_empaque and builds its checklist.
// Calling it again returns the existing checklist.
func (s *PackagingService) BeginPackaging(ctx context.Context, orderID string, actor Actor) (*Progress, error) {
	var batch eventBatch
	var items []entity.PackagingItem
	err := s.orders.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		o, err := s.orders.orderRepo.WithTx(tx).FindByIDForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		if o.Status != entity.StatusPackaging {
			if o.Status != entity.StatusPendingPackaging {
				return &TransitionError{From: o.Status, To: entity.StatusPackaging}
			}
			if _, err := s.orders.applyTransition(ctx, tx, o, entity.StatusPackaging, actor, TransitionMeta{}, &batch, transitionOpts{}); err != nil {
				return err
			}
		}

		repo := s.repo.WithTx(tx)
		items, err = repo.FindItems(ctx, orderID)
		if err != nil {
			return err
		}
		if len(items) > 0 {
			return nil
		}
		lines, err := s.orders.orderRepo.WithTx(tx).FindItems(ctx, orderID)
		if err != nil {
			return err
		}
		items = checklistFromItems(orderID, lines)
		if err := repo.CreateItems(ctx, items); err != nil {
			return err
		}
		o.PackagingStatus = entity.PackagingInProgress
		return s.orders.orderRepo.WithTx(tx).Update(ctx, o)
	})
	if err != nil {
		return nil, err
	}
	batch.flush(s.orders.notifier, s.logger)
	if s.locks != nil {
		if _, _, err := s.locks.Acquire(ctx, lockKey(orderID), actor.ID, s.lockTTL()); err != nil {
			s.logger.Warn("packaging lock acquire failed", zap.String("order_id", orderID), zap.Error(err))
		}
	}
	return buildProgress(orderID, items), nil
}

// ScanEvent is one scanner read.
type ScanEvent struct {
	Barcode   string `json:"barcode"`
	Quantity  int    `json:"quantity"`
	ScannedBy string `json:"-"`
}

// Scan adds a scan to one checklist item. When itemID is empty the item is
// resolved from the barcode. The count is additive and capped at the
// required count.
func (s *PackagingService) Scan(ctx context.Context, orderID, itemID string, ev ScanEvent, actor Actor) (*entity.PackagingItem, error) {
	if !actor.HasRole(RolePacker, RoleLogistics, RoleAdmin) {
		return nil, ErrForbidden
	}
	if ev.Quantity == 0 {
		ev.Quantity = 1
	}
	if ev.Quantity < 0 {
		return nil, validationf("la cantidad escaneada debe ser positiva")
	}
	if ev.ScannedBy == "" {
		ev.ScannedBy = actor.ID
	}
	if err := s.checkLock(ctx, orderID, actor); err != nil {
		return nil, err
	}

	var item *entity.PackagingItem
	var progress *Progress
	err := s.orders.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		o, err := s.orders.orderRepo.WithTx(tx).FindByID(ctx, orderID)
		if err != nil {
			return err
		}
		if o.Status != entity.StatusPackaging {
			return &TransitionError{From: o.Status, To: o.Status, Reason: "el pedido no está en empaque"}
		}

		repo := s.repo.WithTx(tx)
		code := NormalizeBarcode(ev.Barcode)
		if itemID == "" {
			if code == "" {
				return validationf("se requiere el item o el código de barras")
			}
			found, err := repo.FindItemByCode(ctx, orderID, code)
			if err != nil {
				if errors.Is(err, repository.ErrNotFound) {
					return validationf("el código %s no pertenece a este pedido", code)
				}
				return err
			}
			itemID = found.ID
		}

		item, err = repo.IncrementScan(ctx, orderID, itemID, ev.Quantity, ev.ScannedBy)
		if err != nil {
			return err
		}
		if err := repo.CreateScan(ctx, &entity.PackagingScan{
			ID:              newID(),
			OrderID:         orderID,
			PackagingItemID: item.ID,
			Barcode:         code,
			Quantity:        ev.Quantity,
			ResultingCount:  item.ScannedCount,
			ScannedBy:       ev.ScannedBy,
		}); err != nil {
			return err
		}
		items, err := repo.FindItems(ctx, orderID)
		if err != nil {
			return err
		}
		progress = buildProgress(orderID, items)
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.orders.notifier.Publish(PackagingTopic(orderID), EventPackagingProgress, progress)
	if s.locks != nil {
		s.locks.Refresh(ctx, lockKey(orderID), actor.ID, s.lockTTL())
	}
	return item, nil
}

// CompletePackaging moves a fully scanned order to listo_para_entrega.
func (s *PackagingService) CompletePackaging(ctx context.Context, orderID string, actor Actor) (*entity.Order, error) {
	if err := s.checkLock(ctx, orderID, actor); err != nil {
		return nil, err
	}
	o, err := s.orders.Transition(ctx, orderID, entity.StatusReadyForDelivery, actor, TransitionMeta{})
	if err != nil {
		return nil, err
	}
	if s.locks != nil {
		if err := s.locks.ForceRelease(ctx, lockKey(orderID)); err != nil {
			s.logger.Warn("packaging lock release failed", zap.String("order_id", orderID), zap.Error(err))
		}
	}
	return o, nil
}

// Progress returns the checklist snapshot of an order.
func (s *PackagingService) Progress(ctx context.Context, orderID string) (*Progress, error) {
	if _, err := s.orders.orderRepo.FindByID(ctx, orderID); err != nil {
		return nil, err
	}
	items, err := s.repo.FindItems(ctx, orderID)
	if err != nil {
		return nil, err
	}
	return buildProgress(orderID, items), nil
}

// Upload is a file received from a client.
type Upload struct {
	Filename    string
	ContentType string
	Size        int64
	Body        io.Reader
}

// AddEvidence stores a packaging photo.
func (s *PackagingService) AddEvidence(ctx context.Context, orderID string, file Upload, actor Actor) (*entity.PackagingEvidence, error) {
	if s.objects == nil {
		return nil, validationf("el almacenamiento de evidencias no está configurado")
	}
	if _, err := s.orders.orderRepo.FindByID(ctx, orderID); err != nil {
		return nil, err
	}
	key := evidenceKey("packaging", orderID, file.Filename)
	if err := s.objects.Put(ctx, key, file.Body, file.Size, file.ContentType); err != nil {
		return nil, fmt.Errorf("upload evidence: %w", err)
	}
	ev := &entity.PackagingEvidence{
		ID:          newID(),
		OrderID:     orderID,
		ObjectKey:   key,
		ContentType: file.ContentType,
		UploadedBy:  actor.ID,
	}
	if err := s.repo.CreateEvidence(ctx, ev); err != nil {
		return nil, err
	}
	return ev, nil
}

func (s *PackagingService) ListEvidence(ctx context.Context, orderID string) ([]entity.PackagingEvidence, error) {
	return s.repo.ListEvidence(ctx, orderID)
}

func evidenceKey(kind, owner, filename string) string {
	ext := strings.ToLower(path.Ext(filename))
	return fmt.Sprintf("%s/%s/%s/%s%s", kind, time.Now().Format("2006/01"), owner, newID(), ext)
}

// LockInfo describes the packaging lease of an order.
type LockInfo struct {
	OrderID   string `json:"order_id"`
	Enabled   bool   `json:"enabled"`
	Holder    string `json:"holder,omitempty"`
	ExpiresIn int    `json:"expires_in"`
	Mine      bool   `json:"mine"`
}

func lockKey(orderID string) string {
	return "oms:packaging_lock:" + orderID
}

func (s *PackagingService) lockTTL() time.Duration {
	if ttl := s.orders.policy.PackagingLockTTL; ttl > 0 {
		return ttl
	}
	return 10 * time.Minute
}

func (s *PackagingService) checkLock(ctx context.Context, orderID string, actor Actor) error {
	if s.locks == nil || !s.orders.policy.EnforcePackagingLock {
		return nil
	}
	holder, _, err := s.locks.Holder(ctx, lockKey(orderID))
	if err != nil {
		s.logger.Warn("packaging lock lookup failed", zap.String("order_id", orderID), zap.Error(err))
		return nil
	}
	if holder != "" && holder != actor.ID {
		return ErrPackagingLocked
	}
	return nil
}

func (s *PackagingService) LockStatus(ctx context.Context, orderID string, actor Actor) (*LockInfo, error) {
	info := &LockInfo{OrderID: orderID, Enabled: s.locks != nil}
	if s.locks == nil {
		return info, nil
	}
	holder, ttl, err := s.locks.Holder(ctx, lockKey(orderID))
	if err != nil {
		return nil, err
	}
	info.Holder = holder
	info.ExpiresIn = int(ttl.Seconds())
	info.Mine = holder != "" && holder == actor.ID
	return info, nil
}

// AcquireLock takes the lease or fails with ErrPackagingLocked.
func (s *PackagingService) AcquireLock(ctx context.Context, orderID string, actor Actor) (*LockInfo, error) {
	if s.locks == nil {
		return &LockInfo{OrderID: orderID}, nil
	}
	if _, err := s.orders.orderRepo.FindByID(ctx, orderID); err != nil {
		return nil, err
	}
	holder, ok, err := s.locks.Acquire(ctx, lockKey(orderID), actor.ID, s.lockTTL())
	if err != nil {
		return nil, err
	}
	if !ok {
		return &LockInfo{OrderID: orderID, Enabled: true, Holder: holder}, ErrPackagingLocked
	}
	return s.LockStatus(ctx, orderID, actor)
}

// Heartbeat extends the caller's lease.
func (s *PackagingService) Heartbeat(ctx context.Context, orderID string, actor Actor) (*LockInfo, error) {
	if s.locks == nil {
		return &LockInfo{OrderID: orderID}, nil
	}
	ok, err := s.locks.Refresh(ctx, lockKey(orderID), actor.ID, s.lockTTL())
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrPackagingLocked
	}
	return s.LockStatus(ctx, orderID, actor)
}

func (s *PackagingService) ReleaseLock(ctx context.Context, orderID string, actor Actor) error {
	if s.locks == nil {
		return nil
	}
	_, err := s.locks.Release(ctx, lockKey(orderID), actor.ID)
	return err
}

// ForceUnlock drops any lease. Admin only.
func (s *PackagingService) ForceUnlock(ctx context.Context, orderID string, actor Actor) error {
	if !actor.IsAdmin() {
		return ErrForbidden
	}
	if s.locks == nil {
		return nil
	}
	s.logger.Info("packaging lock forced open", zap.String("order_id", orderID), zap.String("by", actor.ID))
	return s.locks.ForceRelease(ctx, lockKey(orderID))
}

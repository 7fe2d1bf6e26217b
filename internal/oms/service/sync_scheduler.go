package service

import (
	"context"
	"sync"
	"time"

	"github.com/jecaicedo27/toppingfrozen-sub006/internal/oms/entity"
	"github.com/jecaicedo27/toppingfrozen-sub006/internal/shared/siigo"
	"go.uber.org/zap"
)

// SchedulerConfig tunes the SIIGO background loop.
type SchedulerConfig struct {
	PollInterval time.Duration
	MaxBackoff   time.Duration
	Lookback     time.Duration
	PageSize     int
	RetryLimit   int
	QueueSize    int
	Workers      int
}

func (c *SchedulerConfig) defaults() {
	if c.PollInterval <= 0 {
		c.PollInterval = 5 * time.Minute
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 30 * time.Minute
	}
	if c.Lookback <= 0 {
		c.Lookback = 72 * time.Hour
	}
	if c.PageSize <= 0 {
		c.PageSize = 50
	}
	if c.RetryLimit <= 0 {
		c.RetryLimit = 20
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 256
	}
	if c.Workers <= 0 {
		c.Workers = 2
	}
}

// importLedger is the part of the sync log the poller consults.
type importLedger interface {
	SettledIDs(ctx context.Context, ids []string) (map[string]bool, error)
	RetryableIDs(ctx context.Context, since time.Time, limit int) ([]string, error)
}

type importJob struct {
	externalID string
	trigger    string
}

// Scheduler feeds invoice ids from polling, webhooks and the retry queue
// into ImportInvoice. All imports run on its own workers.
type Scheduler struct {
	imports *SiigoImportService
	ledger  importLedger
	cfg     SchedulerConfig
	logger  *zap.Logger

	jobs     chan importJob
	mu       sync.Mutex
	inFlight map[string]bool
	failures int
	wg       sync.WaitGroup
}

func NewScheduler(imports *SiigoImportService, cfg SchedulerConfig) *Scheduler {
	cfg.defaults()
	return &Scheduler{
		imports:  imports,
		ledger:   imports.logs,
		cfg:      cfg,
		logger:   imports.logger.Named("scheduler"),
		jobs:     make(chan importJob, cfg.QueueSize),
		inFlight: make(map[string]bool),
	}
}

// Enqueue schedules an import. It never blocks; a full queue drops the id,
// which the next poll picks up again.
func (s *Scheduler) Enqueue(externalID, trigger string) bool {
	if externalID == "" {
		return false
	}
	s.mu.Lock()
	if s.inFlight[externalID] {
		s.mu.Unlock()
		return true
	}
	s.inFlight[externalID] = true
	s.mu.Unlock()

	select {
	case s.jobs <- importJob{externalID: externalID, trigger: trigger}:
		return true
	default:
		s.done(externalID)
		s.logger.Warn("import queue full, dropping", zap.String("external_id", externalID))
		return false
	}
}

func (s *Scheduler) done(externalID string) {
	s.mu.Lock()
	delete(s.inFlight, externalID)
	s.mu.Unlock()
}

// Run blocks until ctx is cancelled, then waits for workers to drain.
func (s *Scheduler) Run(ctx context.Context) {
	for i := 0; i < s.cfg.Workers; i++ {
		s.wg.Add(1)
		go s.worker(ctx)
	}

	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			s.wg.Wait()
			s.logger.Info("scheduler stopped")
			return
		case <-timer.C:
			timer.Reset(s.tick(ctx))
		}
	}
}

func (s *Scheduler) worker(ctx context.Context) {
	defer s.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-s.jobs:
			if _, err := s.imports.ImportInvoice(ctx, job.externalID, job.trigger); err != nil {
				s.logger.Debug("import attempt failed",
					zap.String("external_id", job.externalID),
					zap.String("trigger", job.trigger),
					zap.Error(err),
				)
			}
			s.done(job.externalID)
		}
	}
}

// tick runs one poll plus the retry sweep and returns the next delay.
func (s *Scheduler) tick(ctx context.Context) time.Duration {
	if err := s.Poll(ctx); err != nil {
		s.failures++
		wait := NextPollDelay(s.cfg.PollInterval, s.cfg.MaxBackoff, s.failures)
		s.logger.Warn("siigo poll failed",
			zap.Int("consecutive_failures", s.failures),
			zap.Duration("next_in", wait),
			zap.Error(err),
		)
		return wait
	}
	s.failures = 0
	s.retryFailed(ctx)
	return s.cfg.PollInterval
}

// NextPollDelay doubles the interval per consecutive failure up to max.
func NextPollDelay(interval, max time.Duration, failures int) time.Duration {
	d := interval
	for i := 0; i < failures; i++ {
		d *= 2
		if d >= max {
			return max
		}
	}
	return d
}

// Poll lists recent invoices and enqueues the ones not yet imported. Invoices
// parked with a permanent failure are skipped until an operator resolves them.
func (s *Scheduler) Poll(ctx context.Context) error {
	if s.imports.api == nil {
		return siigo.ErrNoCredentials
	}
	since := time.Now().Add(-s.cfg.Lookback)
	queued := 0
	for page := 1; ; page++ {
		list, err := s.imports.api.ListInvoices(ctx, siigo.ListParams{
			CreatedStart: since,
			Page:         page,
			PageSize:     s.cfg.PageSize,
		})
		if err != nil {
			return err
		}
		ids := make([]string, 0, len(list.Results))
		for _, inv := range list.Results {
			ids = append(ids, inv.ID)
		}
		settled, err := s.ledger.SettledIDs(ctx, ids)
		if err != nil {
			return err
		}
		for _, id := range ids {
			if !settled[id] && s.Enqueue(id, entity.SyncPoll) {
				queued++
			}
		}
		if len(list.Results) < s.cfg.PageSize || page*s.cfg.PageSize >= list.Pagination.TotalResults {
			break
		}
	}
	if queued > 0 {
		s.logger.Info("siigo poll queued invoices", zap.Int("count", queued))
	}
	return nil
}

func (s *Scheduler) retryFailed(ctx context.Context) {
	ids, err := s.ledger.RetryableIDs(ctx, time.Now().Add(-s.cfg.Lookback), s.cfg.RetryLimit)
	if err != nil {
		s.logger.Warn("list retryable imports", zap.Error(err))
		return
	}
	for _, id := range ids {
		s.Enqueue(id, entity.SyncPoll)
	}
}

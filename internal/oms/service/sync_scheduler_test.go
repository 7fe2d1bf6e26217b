package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jecaicedo27/toppingfrozen-sub006/internal/oms/entity"
	"github.com/jecaicedo27/toppingfrozen-sub006/internal/oms/repository"
	"github.com/jecaicedo27/toppingfrozen-sub006/internal/shared/siigo"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestNextPollDelay(t *testing.T) {
	interval := 5 * time.Minute
	max := 30 * time.Minute

	assert.Equal(t, 5*time.Minute, NextPollDelay(interval, max, 0))
	assert.Equal(t, 10*time.Minute, NextPollDelay(interval, max, 1))
	assert.Equal(t, 20*time.Minute, NextPollDelay(interval, max, 2))
	assert.Equal(t, 30*time.Minute, NextPollDelay(interval, max, 3))
	assert.Equal(t, 30*time.Minute, NextPollDelay(interval, max, 50))
}

func newTestScheduler(cfg SchedulerConfig) *Scheduler {
	orders := NewOrderService(nil, repository.NewRepositories(nil), nil, DefaultPolicy(), zap.NewNop())
	imports := NewSiigoImportService(orders, nil, nil)
	return NewScheduler(imports, cfg)
}

func TestSchedulerDefaults(t *testing.T) {
	s := newTestScheduler(SchedulerConfig{})
	assert.Equal(t, 5*time.Minute, s.cfg.PollInterval)
	assert.Equal(t, 30*time.Minute, s.cfg.MaxBackoff)
	assert.Equal(t, 256, cap(s.jobs))
}

func TestSchedulerEnqueue(t *testing.T) {
	s := newTestScheduler(SchedulerConfig{QueueSize: 1})

	assert.False(t, s.Enqueue("", entity.SyncWebhook))
	assert.True(t, s.Enqueue("inv-1", entity.SyncWebhook))
	// already queued: not queued twice
	assert.True(t, s.Enqueue("inv-1", entity.SyncPoll))
	assert.Len(t, s.jobs, 1)

	// queue full: dropped and forgotten so a later poll can retry it
	assert.False(t, s.Enqueue("inv-2", entity.SyncPoll))
	s.mu.Lock()
	assert.False(t, s.inFlight["inv-2"])
	s.mu.Unlock()

	job := <-s.jobs
	assert.Equal(t, "inv-1", job.externalID)
	assert.Equal(t, entity.SyncWebhook, job.trigger)
	s.done(job.externalID)
	assert.True(t, s.Enqueue("inv-1", entity.SyncManual))
}

func TestSchedulerPollWithoutCredentials(t *testing.T) {
	s := newTestScheduler(SchedulerConfig{PollInterval: time.Minute, MaxBackoff: 4 * time.Minute})
	assert.ErrorIs(t, s.Poll(context.Background()), siigo.ErrNoCredentials)

	assert.Equal(t, 2*time.Minute, s.tick(context.Background()))
	assert.Equal(t, 4*time.Minute, s.tick(context.Background()))
	assert.Equal(t, 4*time.Minute, s.tick(context.Background()))
}

type fakeLedger struct {
	settled   map[string]bool
	retryable []string
	err       error
}

func (f *fakeLedger) SettledIDs(_ context.Context, ids []string) (map[string]bool, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make(map[string]bool, len(ids))
	for _, id := range ids {
		if f.settled[id] {
			out[id] = true
		}
	}
	return out, nil
}

func (f *fakeLedger) RetryableIDs(context.Context, time.Time, int) ([]string, error) {
	return f.retryable, f.err
}

func newPollingScheduler(api SiigoAPI, ledger importLedger) *Scheduler {
	orders := NewOrderService(nil, repository.NewRepositories(nil), nil, DefaultPolicy(), zap.NewNop())
	s := NewScheduler(NewSiigoImportService(orders, nil, api), SchedulerConfig{})
	s.ledger = ledger
	return s
}

func queuedIDs(s *Scheduler) []string {
	var out []string
	for {
		select {
		case job := <-s.jobs:
			out = append(out, job.externalID)
		default:
			return out
		}
	}
}

func TestSchedulerPollSkipsSettledInvoices(t *testing.T) {
	api := newFakeSiigoAPI()
	api.listed = []string{"ok-1", "bad-1", "new-1"}
	// ok-1 is imported, bad-1 holds an unresolved permanent failure.
	s := newPollingScheduler(api, &fakeLedger{settled: map[string]bool{"ok-1": true, "bad-1": true}})

	assert.NoError(t, s.Poll(context.Background()))
	assert.Equal(t, []string{"new-1"}, queuedIDs(s))
	assert.Zero(t, api.getCount())
}

func TestSchedulerRetrySweep(t *testing.T) {
	api := newFakeSiigoAPI()
	s := newPollingScheduler(api, &fakeLedger{retryable: []string{"slow-1", "slow-2"}})

	assert.Equal(t, s.cfg.PollInterval, s.tick(context.Background()))
	assert.ElementsMatch(t, []string{"slow-1", "slow-2"}, queuedIDs(s))
}

func TestSchedulerPollLedgerError(t *testing.T) {
	api := newFakeSiigoAPI()
	api.listed = []string{"a"}
	s := newPollingScheduler(api, &fakeLedger{err: errors.New("db down")})

	assert.EqualError(t, s.Poll(context.Background()), "db down")
	assert.Empty(t, queuedIDs(s))
}

package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jecaicedo27/toppingfrozen-sub006/internal/oms/entity"
	"github.com/jecaicedo27/toppingfrozen-sub006/internal/oms/repository"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// OutboxSink receives committed outbox events. Deliver must be safe to
// repeat for the same event.
type OutboxSink interface {
	Name() string
	Deliver(ctx context.Context, evt entity.OutboxEvent) error
}

// MessageProducer publishes raw bytes to a broker topic.
type MessageProducer interface {
	Send(ctx context.Context, topic, key string, value []byte, headers map[string]string) error
}

// TemplateSender sends a pre-approved chat template to a phone number.
type TemplateSender interface {
	SendTemplate(ctx context.Context, phone, template string, params []string) error
}

// BrokerSink forwards every event to one broker topic keyed by aggregate.
type BrokerSink struct {
	producer MessageProducer
	topic    string
}

func NewBrokerSink(p MessageProducer, topic string) *BrokerSink {
	return &BrokerSink{producer: p, topic: topic}
}

func (b *BrokerSink) Name() string { return "broker" }

func (b *BrokerSink) Deliver(ctx context.Context, evt entity.OutboxEvent) error {
	return b.producer.Send(ctx, b.topic, evt.AggregateID, evt.Payload, map[string]string{
		"event_type": evt.EventType,
		"event_id":   evt.ID,
	})
}

// CustomerMessageSink notifies customers of the statuses listed in templates.
type CustomerMessageSink struct {
	sender    TemplateSender
	templates map[string]string
}

// DefaultStatusTemplates maps statuses to message templates.
var DefaultStatusTemplates = map[string]string{
	entity.StatusOutForDelivery:  "pedido_en_reparto",
	entity.StatusHandedToCarrier: "pedido_entregado_transportadora",
	entity.StatusDelivered:       "pedido_entregado",
}

func NewCustomerMessageSink(sender TemplateSender, templates map[string]string) *CustomerMessageSink {
	if len(templates) == 0 {
		templates = DefaultStatusTemplates
	}
	return &CustomerMessageSink{sender: sender, templates: templates}
}

func (w *CustomerMessageSink) Name() string { return "whatsapp" }

func (w *CustomerMessageSink) Deliver(ctx context.Context, evt entity.OutboxEvent) error {
	if evt.EventType != entity.EventOrderStatusChanged {
		return nil
	}
	var ev StatusEvent
	if err := json.Unmarshal(evt.Payload, &ev); err != nil {
		return fmt.Errorf("decode status event: %w", err)
	}
	tpl, ok := w.templates[ev.To]
	if !ok || ev.CustomerPhone == "" {
		return nil
	}
	params := []string{ev.CustomerName, ev.OrderNumber}
	if ev.To == entity.StatusHandedToCarrier {
		params = append(params, ev.CarrierName, ev.ShippingGuide)
	}
	return w.sender.SendTemplate(ctx, ev.CustomerPhone, tpl, params)
}

// OutboxRelay drains pending outbox rows into the configured sinks.
type OutboxRelay struct {
	db          *gorm.DB
	repo        *repository.OutboxRepository
	sinks       []OutboxSink
	interval    time.Duration
	batchSize   int
	maxAttempts int
	logger      *zap.Logger
}

func NewOutboxRelay(db *gorm.DB, repo *repository.OutboxRepository, logger *zap.Logger, sinks ...OutboxSink) *OutboxRelay {
	return &OutboxRelay{
		db:          db,
		repo:        repo,
		sinks:       sinks,
		interval:    5 * time.Second,
		batchSize:   50,
		maxAttempts: 8,
		logger:      logger.Named("outbox"),
	}
}

// Run relays until ctx is cancelled.
func (r *OutboxRelay) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := r.RelayOnce(ctx); err != nil {
				r.logger.Warn("outbox relay pass failed", zap.Error(err))
			}
		}
	}
}

// RelayOnce claims one batch and returns how many events were delivered.
func (r *OutboxRelay) RelayOnce(ctx context.Context) (int, error) {
	delivered := 0
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repo := r.repo.WithTx(tx)
		events, err := repo.ClaimPending(ctx, r.batchSize)
		if err != nil {
			return err
		}
		var done []string
		for _, evt := range events {
			if err := r.deliver(ctx, evt); err != nil {
				r.logger.Warn("outbox delivery failed",
					zap.String("event_id", evt.ID),
					zap.String("event_type", evt.EventType),
					zap.Int("attempts", evt.Attempts+1),
					zap.Error(err),
				)
				if err := repo.MarkAttemptFailed(ctx, evt.ID, err.Error(), r.maxAttempts); err != nil {
					return err
				}
				continue
			}
			done = append(done, evt.ID)
		}
		delivered = len(done)
		return repo.MarkDone(ctx, done)
	})
	return delivered, err
}

func (r *OutboxRelay) deliver(ctx context.Context, evt entity.OutboxEvent) error {
	for _, s := range r.sinks {
		if err := s.Deliver(ctx, evt); err != nil {
			return fmt.Errorf("%s: %w", s.Name(), err)
		}
	}
	return nil
}

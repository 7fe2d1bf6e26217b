package service

import (
	"go.uber.org/zap"
)

// Real-time topics
const (
	TopicOrdersCreated = "orders:created"

	EventStatusChanged     = "status_changed"
	EventPackagingProgress = "packaging_progress"
	EventOrderCreated      = "order_created"
)

// OrderStatusTopic carries status changes of one order.
func OrderStatusTopic(orderID string) string {
	return "order:" + orderID + ":status"
}

// PackagingTopic carries scan progress of one order.
func PackagingTopic(orderID string) string {
	return "order:" + orderID + ":packaging"
}

// Notifier fans events out to real-time subscribers. Delivery is best effort.
type Notifier interface {
	Publish(topic, eventType string, payload interface{})
}

type nopNotifier struct{}

func (nopNotifier) Publish(string, string, interface{}) {}

type pendingEvent struct {
	topic     string
	eventType string
	payload   interface{}
}

// eventBatch collects events inside a transaction so they are only published
// once it commits.
type eventBatch struct {
	events []pendingEvent
}

func (b *eventBatch) add(topic, eventType string, payload interface{}) {
	b.events = append(b.events, pendingEvent{topic: topic, eventType: eventType, payload: payload})
}

func (b *eventBatch) flush(n Notifier, logger *zap.Logger) {
	for _, ev := range b.events {
		func() {
			defer func() {
				if r := recover(); r != nil {
					logger.Warn("realtime publish failed", zap.String("topic", ev.topic), zap.Any("panic", r))
				}
			}()
			n.Publish(ev.topic, ev.eventType, ev.payload)
		}()
	}
	b.events = nil
}

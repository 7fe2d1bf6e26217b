package service

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/jecaicedo27/toppingfrozen-sub006/internal/oms/entity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sentTemplate struct {
	phone    string
	template string
	params   []string
}

type fakeSender struct {
	sent []sentTemplate
	err  error
}

func (f *fakeSender) SendTemplate(_ context.Context, phone, template string, params []string) error {
	f.sent = append(f.sent, sentTemplate{phone, template, params})
	return f.err
}

type fakeProducer struct {
	topic   string
	key     string
	value   []byte
	headers map[string]string
}

func (f *fakeProducer) Send(_ context.Context, topic, key string, value []byte, headers map[string]string) error {
	f.topic, f.key, f.value, f.headers = topic, key, value, headers
	return nil
}

func statusOutboxEvent(t *testing.T, ev StatusEvent) entity.OutboxEvent {
	t.Helper()
	raw, err := json.Marshal(ev)
	require.NoError(t, err)
	return entity.OutboxEvent{ID: "evt-1", EventType: entity.EventOrderStatusChanged, AggregateID: ev.OrderID, Payload: raw}
}

func TestCustomerMessageSink_SendsForNotifiedStatuses(t *testing.T) {
	sender := &fakeSender{}
	sink := NewCustomerMessageSink(sender, nil)

	err := sink.Deliver(context.Background(), statusOutboxEvent(t, StatusEvent{
		OrderID: "o1", OrderNumber: "FV-1001", From: entity.StatusReadyForDelivery, To: entity.StatusOutForDelivery,
		CustomerName: "Heladería Luna", CustomerPhone: "3001234567", At: time.Now(),
	}))
	require.NoError(t, err)
	require.Len(t, sender.sent, 1)
	assert.Equal(t, "3001234567", sender.sent[0].phone)
	assert.Equal(t, DefaultStatusTemplates[entity.StatusOutForDelivery], sender.sent[0].template)
	assert.Equal(t, []string{"Heladería Luna", "FV-1001"}, sender.sent[0].params)
}

func TestCustomerMessageSink_CarrierIncludesGuide(t *testing.T) {
	sender := &fakeSender{}
	sink := NewCustomerMessageSink(sender, map[string]string{entity.StatusHandedToCarrier: "guia"})

	err := sink.Deliver(context.Background(), statusOutboxEvent(t, StatusEvent{
		OrderID: "o1", OrderNumber: "FV-1002", To: entity.StatusHandedToCarrier,
		CustomerName: "Cliente", CustomerPhone: "3001234567", CarrierName: "Servientrega", ShippingGuide: "G123",
	}))
	require.NoError(t, err)
	require.Len(t, sender.sent, 1)
	assert.Equal(t, "guia", sender.sent[0].template)
	assert.Equal(t, []string{"Cliente", "FV-1002", "Servientrega", "G123"}, sender.sent[0].params)
}

func TestCustomerMessageSink_Skips(t *testing.T) {
	sender := &fakeSender{}
	sink := NewCustomerMessageSink(sender, nil)
	ctx := context.Background()

	// status without template
	require.NoError(t, sink.Deliver(ctx, statusOutboxEvent(t, StatusEvent{OrderID: "o1", To: entity.StatusPackaging, CustomerPhone: "300"})))
	// no phone
	require.NoError(t, sink.Deliver(ctx, statusOutboxEvent(t, StatusEvent{OrderID: "o1", To: entity.StatusDelivered})))
	// other event types
	require.NoError(t, sink.Deliver(ctx, entity.OutboxEvent{EventType: "order.created", Payload: []byte(`{}`)}))
	assert.Empty(t, sender.sent)

	err := sink.Deliver(ctx, entity.OutboxEvent{EventType: entity.EventOrderStatusChanged, Payload: []byte(`{`)})
	assert.Error(t, err)
}

func TestCustomerMessageSink_PropagatesSendError(t *testing.T) {
	sender := &fakeSender{err: errors.New("rate limited")}
	sink := NewCustomerMessageSink(sender, nil)
	err := sink.Deliver(context.Background(), statusOutboxEvent(t, StatusEvent{
		OrderID: "o1", To: entity.StatusDelivered, CustomerPhone: "3001234567",
	}))
	assert.EqualError(t, err, "rate limited")
}

func TestBrokerSink(t *testing.T) {
	p := &fakeProducer{}
	sink := NewBrokerSink(p, "oms.order-events")
	evt := entity.OutboxEvent{ID: "evt-9", EventType: entity.EventOrderStatusChanged, AggregateID: "o1", Payload: []byte(`{"to":"en_reparto"}`)}

	require.NoError(t, sink.Deliver(context.Background(), evt))
	assert.Equal(t, "broker", sink.Name())
	assert.Equal(t, "oms.order-events", p.topic)
	assert.Equal(t, "o1", p.key)
	assert.JSONEq(t, `{"to":"en_reparto"}`, string(p.value))
	assert.Equal(t, "evt-9", p.headers["event_id"])
	assert.Equal(t, entity.EventOrderStatusChanged, p.headers["event_type"])
}

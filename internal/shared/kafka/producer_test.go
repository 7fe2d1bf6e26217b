package kafka

import (
	"context"
	"errors"
	"testing"

	"github.com/Shopify/sarama"
	"github.com/Shopify/sarama/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProducer_Send(t *testing.T) {
	mock := mocks.NewSyncProducer(t, nil)
	mock.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
		if string(val) != `{"to":"entregado_cliente"}` {
			return errors.New("unexpected payload " + string(val))
		}
		return nil
	})
	p := NewProducerFrom(mock)

	err := p.Send(context.Background(), "oms.order-events", "o1", []byte(`{"to":"entregado_cliente"}`), map[string]string{"event_id": "e1"})
	require.NoError(t, err)
	require.NoError(t, p.Close())
}

func TestProducer_SendFails(t *testing.T) {
	mock := mocks.NewSyncProducer(t, nil)
	mock.ExpectSendMessageAndFail(sarama.ErrNotEnoughReplicas)
	p := NewProducerFrom(mock)

	err := p.Send(context.Background(), "oms.order-events", "o1", []byte(`{}`), nil)
	assert.ErrorIs(t, err, sarama.ErrNotEnoughReplicas)
	require.NoError(t, p.Close())
}

func TestProducer_SendCancelled(t *testing.T) {
	mock := mocks.NewSyncProducer(t, nil)
	p := NewProducerFrom(mock)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, p.Send(ctx, "t", "k", nil, nil), context.Canceled)
	require.NoError(t, p.Close())
}

func TestToKafkaMessage(t *testing.T) {
	msg := toKafkaMessage("oms.order-events", "o1", []byte("v"), map[string]string{"event_type": "order.status_changed"})
	assert.Equal(t, "oms.order-events", msg.Topic)
	key, err := msg.Key.Encode()
	require.NoError(t, err)
	assert.Equal(t, "o1", string(key))
	require.Len(t, msg.Headers, 1)
	assert.Equal(t, "event_type", string(msg.Headers[0].Key))
	assert.Equal(t, "order.status_changed", string(msg.Headers[0].Value))

	assert.Nil(t, toKafkaMessage("t", "", nil, nil).Key)
}

func TestNewProducer_NoBrokers(t *testing.T) {
	_, err := NewProducer(Config{})
	assert.Error(t, err)
}

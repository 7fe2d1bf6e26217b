package sse

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestHub_PublishRoutesByTopic(t *testing.T) {
	hub := NewHub(zap.NewNop())
	packer := NewClient("c1", "u1", []string{"orders", " packaging "}, 4)
	treasury := NewClient("c2", "u2", []string{"treasury"}, 4)
	hub.Register(packer)
	hub.Register(treasury)

	assert.Equal(t, 1, hub.Subscribers("packaging"))
	hub.Publish("packaging", "order.status_changed", map[string]string{"order_id": "o1"})

	require.Len(t, packer.Events, 1)
	assert.Empty(t, treasury.Events)
	ev := <-packer.Events
	assert.Equal(t, "packaging", ev.Topic)
	assert.Equal(t, "order.status_changed", ev.EventType)
	var payload map[string]string
	require.NoError(t, json.Unmarshal([]byte(ev.Data), &payload))
	assert.Equal(t, "o1", payload["order_id"])
}

func TestHub_FullBufferDrops(t *testing.T) {
	hub := NewHub(zap.NewNop())
	c := NewClient("c1", "u1", []string{"orders"}, 1)
	hub.Register(c)

	hub.Publish("orders", "a", 1)
	hub.Publish("orders", "b", 2)

	require.Len(t, c.Events, 1)
	assert.Equal(t, "a", (<-c.Events).EventType)
}

func TestHub_Unregister(t *testing.T) {
	hub := NewHub(zap.NewNop())
	c := NewClient("c1", "u1", []string{"orders", ""}, 1)
	assert.Len(t, c.Topics, 1)
	hub.Register(c)
	hub.Unregister("c1")
	hub.Unregister("c1")

	assert.Equal(t, 0, hub.Subscribers("orders"))
	_, open := <-c.Events
	assert.False(t, open)

	// publishing to a topic nobody listens to is a no-op
	hub.Publish("orders", "a", 1)
}

func TestHub_PublishUnencodable(t *testing.T) {
	hub := NewHub(zap.NewNop())
	c := NewClient("c1", "u1", []string{"orders"}, 1)
	hub.Register(c)
	hub.Publish("orders", "bad", make(chan int))
	assert.Empty(t, c.Events)
}

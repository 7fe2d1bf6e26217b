package entity

import (
	"time"

	"gorm.io/datatypes"
)

// StatusHistory is an append-only audit row written for every applied transition.
type StatusHistory struct {
	ID         string         `json:"id" gorm:"primaryKey;size:32"`
	OrderID    string         `json:"order_id" gorm:"size:32;not null;index:idx_history_order"`
	FromStatus string         `json:"from_status" gorm:"size:40"`
	ToStatus   string         `json:"to_status" gorm:"size:40;not null"`
	ActorID    string         `json:"actor_id" gorm:"size:32"`
	ActorName  string         `json:"actor_name" gorm:"size:100"`
	ActorRole  string         `json:"actor_role" gorm:"size:20"`
	Reason     string         `json:"reason,omitempty" gorm:"type:text"`
	Metadata   datatypes.JSON `json:"metadata,omitempty" gorm:"type:jsonb"`
	CreatedAt  time.Time      `json:"created_at" gorm:"index:idx_history_order"`
}

func (StatusHistory) TableName() string {
	return "order_status_history"
}

// Outbox statuses
const (
	OutboxPending = "pending"
	OutboxDone    = "done"
	OutboxFailed  = "failed"
)

// Outbox event types
const (
	EventOrderCreated       = "order.created"
	EventOrderStatusChanged = "order.status_changed"
)

// OutboxEvent is written in the same transaction as the change it describes
// and relayed to downstream consumers afterwards.
type OutboxEvent struct {
	ID          string         `json:"id" gorm:"primaryKey;size:32"`
	EventType   string         `json:"event_type" gorm:"size:50;not null"`
	AggregateID string         `json:"aggregate_id" gorm:"size:32;not null;index"`
	Payload     datatypes.JSON `json:"payload" gorm:"type:jsonb"`
	Status      string         `json:"status" gorm:"size:20;not null;default:pending;index"`
	Attempts    int            `json:"attempts" gorm:"default:0"`
	LastError   string         `json:"last_error,omitempty" gorm:"type:text"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

func (OutboxEvent) TableName() string {
	return "outbox_events"
}

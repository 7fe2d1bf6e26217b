package entity

import (
	"time"

	"gorm.io/datatypes"
)

// Sync types
const (
	SyncWebhook = "webhook"
	SyncPoll    = "poll"
	SyncManual  = "manual"
	SyncClosure = "closure"
)

// Sync statuses
const (
	SyncPending = "pending"
	SyncSuccess = "success"
	SyncError   = "error"
)

// SyncLog is the idempotency and audit record of one SIIGO interaction.
// At most one success row exists per imported invoice.
type SyncLog struct {
	ID                string         `json:"id" gorm:"primaryKey;size:32"`
	ExternalInvoiceID string         `json:"external_invoice_id" gorm:"size:64;not null;index"`
	SyncType          string         `json:"sync_type" gorm:"size:20;not null"`
	Status            string         `json:"status" gorm:"size:20;not null;index"`
	OrderID           *string        `json:"order_id" gorm:"size:32;index"`
	RawPayload        datatypes.JSON `json:"raw_payload,omitempty" gorm:"type:jsonb"`
	ErrorMessage      string         `json:"error_message,omitempty" gorm:"type:text"`
	Retryable         bool           `json:"retryable" gorm:"default:false"`
	Resolved          bool           `json:"resolved" gorm:"default:false"`
	ResolvedBy        string         `json:"resolved_by,omitempty" gorm:"size:32"`
	CreatedAt         time.Time      `json:"created_at"`
	UpdatedAt         time.Time      `json:"updated_at"`
}

func (SyncLog) TableName() string {
	return "siigo_sync_logs"
}

// AllModels is the migration set in dependency order.
func AllModels() []interface{} {
	return []interface{}{
		&Order{},
		&OrderItem{},
		&StatusHistory{},
		&OutboxEvent{},
		&PackagingItem{},
		&PackagingScan{},
		&PackagingEvidence{},
		&DeliveryCollection{},
		&CashDeclaration{},
		&AdhocPayment{},
		&BankDeposit{},
		&BankDepositRef{},
		&Movement{},
		&SyncLog{},
	}
}

// PostMigrations are statements AutoMigrate cannot express.
var PostMigrations = []string{
	"CREATE UNIQUE INDEX IF NOT EXISTS uk_sync_logs_import_success ON siigo_sync_logs (external_invoice_id) WHERE status = 'success' AND sync_type <> 'closure'",
	"ALTER TABLE orders DROP CONSTRAINT IF EXISTS orders_status_check",
	"ALTER TABLE orders ADD CONSTRAINT orders_status_check CHECK (status IN ('pendiente_por_facturacion','revision_cartera','en_logistica','pendiente_empaque','en_empaque','listo_para_entrega','en_reparto','entregado_transportadora','entregado_cliente','cancelado'))",
	"ALTER TABLE packaging_items DROP CONSTRAINT IF EXISTS packaging_items_scanned_check",
	"ALTER TABLE packaging_items ADD CONSTRAINT packaging_items_scanned_check CHECK (scanned_count >= 0 AND scanned_count <= required_count)",
}

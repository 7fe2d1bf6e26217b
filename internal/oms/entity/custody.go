package entity

import (
	"time"

	"github.com/shopspring/decimal"
)

// Declaration statuses
const (
	DeclarationDeclared = "declared"
	DeclarationAccepted = "accepted"
)

// Ad-hoc payment statuses
const (
	AdhocPending  = "pending"
	AdhocAccepted = "accepted"
	AdhocRejected = "rejected"
)

// DeliveryCollection is the money a courier took in on one delivered order.
// Amounts are split by tag so the cash portion can be reconciled on its own.
type DeliveryCollection struct {
	ID              string          `json:"id" gorm:"primaryKey;size:32"`
	OrderID         string          `json:"order_id" gorm:"size:32;not null;uniqueIndex"`
	CourierID       string          `json:"courier_id" gorm:"size:32;not null;index:idx_collection_courier_date"`
	CollectionDate  time.Time       `json:"collection_date" gorm:"type:date;not null;index:idx_collection_courier_date"`
	PaymentMethod   string          `json:"payment_method" gorm:"size:30"`
	PaymentCash     decimal.Decimal `json:"payment_cash" gorm:"type:decimal(15,2);not null;default:0"`
	PaymentTransfer decimal.Decimal `json:"payment_transfer" gorm:"type:decimal(15,2);not null;default:0"`
	FeeCash         decimal.Decimal `json:"fee_cash" gorm:"type:decimal(15,2);not null;default:0"`
	FeeTransfer     decimal.Decimal `json:"fee_transfer" gorm:"type:decimal(15,2);not null;default:0"`
	DeclarationID   *string         `json:"declaration_id" gorm:"size:32;index"`
	EvidenceKey     string          `json:"evidence_key,omitempty" gorm:"size:300"`
	Notes           string          `json:"notes" gorm:"type:text"`
	DeliveredAt     time.Time       `json:"delivered_at"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

func (DeliveryCollection) TableName() string {
	return "delivery_collections"
}

// CashTotal is the cash-tagged part of the collection.
func (d *DeliveryCollection) CashTotal() decimal.Decimal {
	return d.PaymentCash.Add(d.FeeCash)
}

// CashDeclaration aggregates one courier's cash for one day.
type CashDeclaration struct {
	ID              string          `json:"id" gorm:"primaryKey;size:32"`
	CourierID       string          `json:"courier_id" gorm:"size:32;not null;uniqueIndex:uk_declaration_courier_date"`
	DeclarationDate time.Time       `json:"declaration_date" gorm:"type:date;not null;uniqueIndex:uk_declaration_courier_date"`
	DeclaredAmount  decimal.Decimal `json:"declared_amount" gorm:"type:decimal(15,2);not null"`
	ExpectedAmount  decimal.Decimal `json:"expected_amount" gorm:"type:decimal(15,2);not null"`
	Status          string          `json:"status" gorm:"size:20;not null;default:declared;index"`
	DeclaredBy      string          `json:"declared_by" gorm:"size:32"`
	AcceptedBy      string          `json:"accepted_by,omitempty" gorm:"size:32"`
	AcceptedAt      *time.Time      `json:"accepted_at,omitempty"`
	Notes           string          `json:"notes" gorm:"type:text"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`

	Collections []DeliveryCollection `json:"collections,omitempty" gorm:"foreignKey:DeclarationID"`
}

func (CashDeclaration) TableName() string {
	return "cash_declarations"
}

// AdhocPayment is cash received outside a delivery. It waits for treasury
// acceptance like a declaration.
type AdhocPayment struct {
	ID          string          `json:"id" gorm:"primaryKey;size:32"`
	CourierID   string          `json:"courier_id" gorm:"size:32;not null;index"`
	Amount      decimal.Decimal `json:"amount" gorm:"type:decimal(15,2);not null"`
	Description string          `json:"description" gorm:"type:text;not null"`
	EvidenceKey string          `json:"evidence_key,omitempty" gorm:"size:300"`
	Notes       string          `json:"notes" gorm:"type:text"`
	Status      string          `json:"status" gorm:"size:20;not null;default:pending;index"`
	DecidedBy   string          `json:"decided_by,omitempty" gorm:"size:32"`
	DecidedAt   *time.Time      `json:"decided_at,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

func (AdhocPayment) TableName() string {
	return "adhoc_payments"
}

package entity

import (
	"time"

	"github.com/shopspring/decimal"
)

// BankDeposit is cash moved from treasury to the bank.
type BankDeposit struct {
	ID            string          `json:"id" gorm:"primaryKey;size:32"`
	Amount        decimal.Decimal `json:"amount" gorm:"type:decimal(15,2);not null"`
	BankName      string          `json:"bank_name" gorm:"size:100"`
	Reference     string          `json:"reference" gorm:"size:100"`
	ReasonCode    string          `json:"reason_code" gorm:"size:50"`
	ReasonText    string          `json:"reason_text" gorm:"type:text"`
	EvidenceKey   string          `json:"evidence_key,omitempty" gorm:"size:300"`
	Notes         string          `json:"notes" gorm:"type:text"`
	DepositedBy   string          `json:"deposited_by" gorm:"size:32;index"`
	DepositedAt   time.Time       `json:"deposited_at" gorm:"index"`
	SiigoClosed   bool            `json:"siigo_closed" gorm:"default:false"`
	SiigoClosedAt *time.Time      `json:"siigo_closed_at,omitempty"`
	SiigoClosedBy string          `json:"siigo_closed_by,omitempty" gorm:"size:32"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`

	Refs []BankDepositRef `json:"refs,omitempty" gorm:"foreignKey:DepositID;constraint:OnDelete:CASCADE"`
}

func (BankDeposit) TableName() string {
	return "bank_deposits"
}

// HasEvidence reports whether a file is attached.
func (d *BankDeposit) HasEvidence() bool {
	return d.EvidenceKey != ""
}

// BankDepositRef maps part of a deposit to the order it settles.
type BankDepositRef struct {
	ID             string          `json:"id" gorm:"primaryKey;size:32"`
	DepositID      string          `json:"deposit_id" gorm:"size:32;not null;index"`
	OrderID        string          `json:"order_id" gorm:"size:32;not null;index"`
	AssignedAmount decimal.Decimal `json:"assigned_amount" gorm:"type:decimal(15,2);not null"`
	CreatedAt      time.Time       `json:"created_at"`
}

func (BankDepositRef) TableName() string {
	return "bank_deposit_refs"
}

// Movement types and statuses
const (
	MovementExtraIncome = "extra_income"
	MovementWithdrawal  = "withdrawal"

	MovementPending  = "pending"
	MovementApproved = "approved"
	MovementRejected = "rejected"
)

// Movement is a manual treasury entry outside the delivery flow.
type Movement struct {
	ID           string          `json:"id" gorm:"primaryKey;size:32"`
	Type         string          `json:"type" gorm:"size:20;not null;index"`
	Amount       decimal.Decimal `json:"amount" gorm:"type:decimal(15,2);not null"`
	ReasonCode   string          `json:"reason_code" gorm:"size:50"`
	ReasonText   string          `json:"reason_text" gorm:"type:text"`
	OrderID      *string         `json:"order_id" gorm:"size:32;index"`
	EvidenceKey  string          `json:"evidence_key,omitempty" gorm:"size:300"`
	Notes        string          `json:"notes" gorm:"type:text"`
	Status       string          `json:"status" gorm:"size:20;not null;default:pending;index"`
	RegisteredBy string          `json:"registered_by" gorm:"size:32"`
	DecidedBy    string          `json:"decided_by,omitempty" gorm:"size:32"`
	DecidedAt    *time.Time      `json:"decided_at,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

func (Movement) TableName() string {
	return "treasury_movements"
}

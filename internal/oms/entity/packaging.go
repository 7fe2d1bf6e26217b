package entity

import (
	"time"

	"github.com/shopspring/decimal"
)

// PackagingItem is one required product line of an order's packaging checklist.
type PackagingItem struct {
	ID             string           `json:"id" gorm:"primaryKey;size:32"`
	OrderID        string           `json:"order_id" gorm:"size:32;not null;index"`
	OrderItemID    string           `json:"order_item_id" gorm:"size:32;not null"`
	ProductCode    string           `json:"product_code" gorm:"size:64"`
	ProductName    string           `json:"product_name" gorm:"size:200"`
	Barcode        string           `json:"barcode" gorm:"size:64;index"`
	RequiredCount  int              `json:"required_count" gorm:"not null"`
	RequiredWeight *decimal.Decimal `json:"required_weight,omitempty" gorm:"type:decimal(12,3)"`
	Flavor         string           `json:"flavor,omitempty" gorm:"size:100"`
	ScannedCount   int              `json:"scanned_count" gorm:"not null;default:0"`
	IsVerified     bool             `json:"is_verified" gorm:"default:false"`
	Notes          string           `json:"notes" gorm:"type:text"`
	VerifiedBy     string           `json:"verified_by,omitempty" gorm:"size:32"`
	VerifiedAt     *time.Time       `json:"verified_at,omitempty"`
	CreatedAt      time.Time        `json:"created_at"`
	UpdatedAt      time.Time        `json:"updated_at"`
}

func (PackagingItem) TableName() string {
	return "packaging_items"
}

// Missing returns how many units are still unscanned.
func (p *PackagingItem) Missing() int {
	if p.ScannedCount >= p.RequiredCount {
		return 0
	}
	return p.RequiredCount - p.ScannedCount
}

// PackagingScan records one scan event.
type PackagingScan struct {
	ID              string    `json:"id" gorm:"primaryKey;size:32"`
	OrderID         string    `json:"order_id" gorm:"size:32;not null;index"`
	PackagingItemID string    `json:"packaging_item_id" gorm:"size:32;not null;index"`
	Barcode         string    `json:"barcode" gorm:"size:64"`
	Quantity        int       `json:"quantity" gorm:"not null;default:1"`
	ResultingCount  int       `json:"resulting_count"`
	ScannedBy       string    `json:"scanned_by" gorm:"size:32"`
	CreatedAt       time.Time `json:"created_at"`
}

func (PackagingScan) TableName() string {
	return "packaging_scans"
}

// PackagingEvidence is a photo stored in object storage.
type PackagingEvidence struct {
	ID          string    `json:"id" gorm:"primaryKey;size:32"`
	OrderID     string    `json:"order_id" gorm:"size:32;not null;index"`
	ObjectKey   string    `json:"object_key" gorm:"size:300;not null"`
	ContentType string    `json:"content_type" gorm:"size:100"`
	UploadedBy  string    `json:"uploaded_by" gorm:"size:32"`
	CreatedAt   time.Time `json:"created_at"`
}

func (PackagingEvidence) TableName() string {
	return "packaging_evidence"
}

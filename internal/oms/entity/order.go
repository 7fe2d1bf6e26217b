package entity

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Order statuses
const (
	StatusPendingBilling   = "pendiente_por_facturacion"
	StatusCreditReview     = "revision_cartera"
	StatusLogistics        = "en_logistica"
	StatusPendingPackaging = "pendiente_empaque"
	StatusPackaging        = "en_empaque"
	StatusReadyForDelivery = "listo_para_entrega"
	StatusOutForDelivery   = "en_reparto"
	StatusHandedToCarrier  = "entregado_transportadora"
	StatusDelivered        = "entregado_cliente"
	StatusCancelled        = "cancelado"
)

// AllStatuses lists the status set in pipeline order.
var AllStatuses = []string{
	StatusPendingBilling,
	StatusCreditReview,
	StatusLogistics,
	StatusPendingPackaging,
	StatusPackaging,
	StatusReadyForDelivery,
	StatusOutForDelivery,
	StatusHandedToCarrier,
	StatusDelivered,
	StatusCancelled,
}

// Delivery methods
const (
	DeliveryWarehousePickup = "recoge_bodega"
	DeliveryNational        = "envio_nacional"
	DeliveryLocalCourier    = "mensajeria_local"
)

// Payment methods
const (
	PaymentCash       = "efectivo"
	PaymentTransfer   = "transferencia"
	PaymentMixed      = "mixto"
	PaymentCredit     = "credito"
	PaymentReposition = "reposicion"
	PaymentElectronic = "pago_electronico"
)

// Order sources and parsing statuses
const (
	SourceManual         = "manual"
	SourceSiigoAutomatic = "siigo_automatic"

	ParsingManual      = "manual"
	ParsingAutoSuccess = "auto_success"
	ParsingNeedsReview = "needs_review"
)

// Packaging statuses
const (
	PackagingNotStarted     = "not_started"
	PackagingInProgress     = "in_progress"
	PackagingRequiresReview = "requires_review"
	PackagingCompleted      = "completed"
)

// Courier sub-statuses
const (
	CourierAssigned   = "assigned"
	CourierAccepted   = "accepted"
	CourierInDelivery = "in_delivery"
	CourierDelivered  = "delivered"
)

// SIIGO write-back statuses
const (
	WritebackPending = "pending"
	WritebackOK      = "ok"
	WritebackFailed  = "failed"
)

// Order is a customer purchase tracked from invoicing to delivery.
type Order struct {
	ID                 string  `json:"id" gorm:"primaryKey;size:32"`
	OrderNumber        string  `json:"order_number" gorm:"size:50;uniqueIndex;not null"`
	SiigoInvoiceID     *string `json:"siigo_invoice_id" gorm:"size:64;uniqueIndex"`
	SiigoInvoiceNumber string  `json:"siigo_invoice_number" gorm:"size:50"`

	CustomerName       string `json:"customer_name" gorm:"size:200;not null"`
	CustomerPhone      string `json:"customer_phone" gorm:"size:50"`
	CustomerAddress    string `json:"customer_address" gorm:"size:300"`
	CustomerCity       string `json:"customer_city" gorm:"size:100"`
	CustomerDepartment string `json:"customer_department" gorm:"size:100"`
	CustomerIdentity   string `json:"customer_identity" gorm:"size:50"`

	DeliveryMethod string           `json:"delivery_method" gorm:"size:30;not null"`
	PaymentMethod  string           `json:"payment_method" gorm:"size:30"`
	TotalAmount    decimal.Decimal  `json:"total_amount" gorm:"type:decimal(15,2);not null;default:0"`
	PaymentAmount  *decimal.Decimal `json:"payment_amount" gorm:"type:decimal(15,2)"`

	// Courier and carrier
	AssignedTo    *string `json:"assigned_to" gorm:"size:32;index"`
	CourierStatus string  `json:"courier_status" gorm:"size:20"`
	CarrierName   string  `json:"carrier_name" gorm:"size:100"`
	ShippingGuide string  `json:"shipping_guide" gorm:"size:100"`

	Status          string `json:"status" gorm:"size:40;not null;index"`
	PackagingStatus string `json:"packaging_status" gorm:"size:20;default:not_started"`
	OrderSource     string `json:"order_source" gorm:"size:20;not null;default:manual"`
	ParsingStatus   string `json:"parsing_status" gorm:"size:20;default:manual"`
	ReviewReason    string `json:"review_reason,omitempty" gorm:"type:text"`

	// Cancellation
	CancelReason      string     `json:"cancel_reason,omitempty" gorm:"type:text"`
	CancelledBy       string     `json:"cancelled_by,omitempty" gorm:"size:32"`
	CancelledAt       *time.Time `json:"cancelled_at,omitempty"`
	NeedsLogisticsAck bool       `json:"needs_logistics_ack" gorm:"default:false;index"`
	LogisticsAckBy    string     `json:"logistics_ack_by,omitempty" gorm:"size:32"`
	LogisticsAckAt    *time.Time `json:"logistics_ack_at,omitempty"`

	// SIIGO closure
	SiigoClosed          bool       `json:"siigo_closed" gorm:"default:false;index"`
	SiigoClosedAt        *time.Time `json:"siigo_closed_at,omitempty"`
	SiigoClosedBy        string     `json:"siigo_closed_by,omitempty" gorm:"size:32"`
	SiigoClosureMethod   string     `json:"siigo_closure_method,omitempty" gorm:"size:20"`
	SiigoClosureNote     string     `json:"siigo_closure_note,omitempty" gorm:"type:text"`
	SiigoWritebackStatus string     `json:"siigo_writeback_status,omitempty" gorm:"size:20"`

	Notes     string         `json:"notes" gorm:"type:text"`
	CreatedBy string         `json:"created_by" gorm:"size:32"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `json:"-" gorm:"index"`

	Items []OrderItem `json:"items,omitempty" gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE"`
}

func (Order) TableName() string {
	return "orders"
}

// ExpectedCollection is the amount a courier must collect for the product.
func (o *Order) ExpectedCollection() decimal.Decimal {
	if o.PaymentAmount != nil {
		return *o.PaymentAmount
	}
	return o.TotalAmount
}

// OrderItem is one invoiced product line. Quantity and price freeze once packaging starts.
type OrderItem struct {
	ID          string           `json:"id" gorm:"primaryKey;size:32"`
	OrderID     string           `json:"order_id" gorm:"size:32;not null;index"`
	LineNumber  int              `json:"line_number" gorm:"not null;default:0"`
	ProductCode string           `json:"product_code" gorm:"size:64"`
	Name        string           `json:"name" gorm:"size:200;not null"`
	Description string           `json:"description" gorm:"type:text"`
	Barcode     string           `json:"barcode" gorm:"size:64"`
	Quantity    decimal.Decimal  `json:"quantity" gorm:"type:decimal(12,3);not null"`
	UnitPrice   decimal.Decimal  `json:"unit_price" gorm:"type:decimal(15,2);not null;default:0"`
	Weight      *decimal.Decimal `json:"weight,omitempty" gorm:"type:decimal(12,3)"`
	Flavor      string           `json:"flavor,omitempty" gorm:"size:100"`
	CreatedAt   time.Time        `json:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at"`
}

func (OrderItem) TableName() string {
	return "order_items"
}

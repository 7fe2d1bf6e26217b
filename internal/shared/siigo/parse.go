package siigo

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	// ErrMalformed marks a payload that will never import without a human.
	ErrMalformed = errors.New("siigo: factura con datos inválidos")
	// ErrNoItems is returned while SIIGO still reports the invoice without
	// lines; it usually fills them in a few seconds later.
	ErrNoItems = errors.New("siigo: la factura aún no tiene productos")
)

// Delivery and payment values produced by the parser. They match the order
// module's stored values.
const (
	DeliveryPickup   = "recoge_bodega"
	DeliveryNational = "envio_nacional"
	DeliveryLocal    = "mensajeria_local"

	PaymentCash     = "efectivo"
	PaymentTransfer = "transferencia"
	PaymentCredit   = "credito"
)

// DraftItem is one validated invoice line.
type DraftItem struct {
	Code        string
	Name        string
	Description string
	Quantity    decimal.Decimal
	UnitPrice   decimal.Decimal
}

// Draft is an order built from an invoice.
type Draft struct {
	ExternalID         string
	InvoiceNumber      string
	InvoiceDate        string
	CustomerName       string
	CustomerPhone      string
	CustomerAddress    string
	CustomerCity       string
	CustomerDepartment string
	CustomerIdentity   string
	CustomerEmail      string
	DeliveryMethod     string
	PaymentMethod      string
	Total              decimal.Decimal
	Observations       string
	Items              []DraftItem
}

// ParseResult is either ParsedOk or NeedsReview.
type ParseResult interface {
	draft() *Draft
}

// ParsedOk is an invoice whose lines mapped without ambiguity.
type ParsedOk struct {
	Draft Draft
}

// NeedsReview is an importable invoice a person has to check.
type NeedsReview struct {
	Draft   Draft
	Raw     json.RawMessage
	Reasons []string
}

func (p ParsedOk) draft() *Draft    { return &p.Draft }
func (p NeedsReview) draft() *Draft { return &p.Draft }

// DraftOf returns the draft carried by either variant.
func DraftOf(r ParseResult) *Draft {
	return r.draft()
}

// Parse validates an invoice and its customer. Missing identity fields fail
// with ErrMalformed, an invoice without lines with ErrNoItems.
func Parse(inv *Invoice, cust *Customer, raw json.RawMessage) (ParseResult, error) {
	if inv == nil || strings.TrimSpace(inv.ID) == "" {
		return nil, fmt.Errorf("%w: falta el id de la factura", ErrMalformed)
	}
	if strings.TrimSpace(inv.Name) == "" {
		return nil, fmt.Errorf("%w: la factura %s no tiene número", ErrMalformed, inv.ID)
	}
	if inv.Customer.ID == "" && inv.Customer.Identification == "" {
		return nil, fmt.Errorf("%w: la factura %s no tiene cliente", ErrMalformed, inv.Name)
	}
	if len(inv.Items) == 0 {
		return nil, ErrNoItems
	}

	var reasons []string
	d := Draft{
		ExternalID:       inv.ID,
		InvoiceNumber:    strings.TrimSpace(inv.Name),
		InvoiceDate:      inv.Date,
		CustomerIdentity: firstNonEmpty(inv.Customer.Identification, customerField(cust, func(c *Customer) string { return c.Identification })),
		Total:            inv.Total,
		Observations:     strings.TrimSpace(inv.Observations),
	}

	if cust != nil {
		d.CustomerName = CustomerName(cust)
		if len(cust.Phones) > 0 {
			d.CustomerPhone = strings.TrimSpace(cust.Phones[0].Number)
		}
		d.CustomerAddress = strings.TrimSpace(cust.Address.Address)
		d.CustomerCity = strings.TrimSpace(cust.Address.City.CityName)
		d.CustomerDepartment = strings.TrimSpace(cust.Address.City.StateName)
		if len(cust.Contacts) > 0 {
			d.CustomerEmail = strings.TrimSpace(cust.Contacts[0].Email)
		}
	}
	if d.CustomerName == "" {
		d.CustomerName = d.CustomerIdentity
		reasons = append(reasons, "cliente sin nombre")
	}

	d.DeliveryMethod = DeliveryMethodFrom(d.Observations)
	d.PaymentMethod = PaymentMethodFrom(inv.Payments)

	sum := decimal.Zero
	for i, it := range inv.Items {
		name := strings.TrimSpace(it.Description)
		code := strings.TrimSpace(it.Code)
		if code == "" {
			reasons = append(reasons, fmt.Sprintf("línea %d sin código de producto", i+1))
		}
		if name == "" {
			name = code
			reasons = append(reasons, fmt.Sprintf("línea %d sin descripción", i+1))
		}
		if !it.Quantity.IsPositive() {
			reasons = append(reasons, fmt.Sprintf("línea %d con cantidad %s", i+1, it.Quantity.String()))
		}
		if it.Price.IsNegative() {
			reasons = append(reasons, fmt.Sprintf("línea %d con precio negativo", i+1))
		}
		d.Items = append(d.Items, DraftItem{
			Code:        code,
			Name:        name,
			Description: it.Description,
			Quantity:    it.Quantity,
			UnitPrice:   it.Price,
		})
		sum = sum.Add(it.Quantity.Mul(it.Price))
	}
	if d.Total.IsZero() {
		d.Total = sum.Round(2)
	}
	if d.DeliveryMethod != DeliveryPickup && d.CustomerAddress == "" {
		reasons = append(reasons, "cliente sin dirección de entrega")
	}
	if d.CustomerPhone == "" {
		reasons = append(reasons, "cliente sin teléfono")
	}

	if len(reasons) > 0 {
		return NeedsReview{Draft: d, Raw: raw, Reasons: reasons}, nil
	}
	return ParsedOk{Draft: d}, nil
}

// CustomerName picks the display name: commercial name, company name, then
// person name.
func CustomerName(c *Customer) string {
	if c == nil {
		return ""
	}
	if cn := strings.TrimSpace(c.CommercialName); cn != "" && !strings.EqualFold(cn, "No aplica") {
		return cn
	}
	if c.PersonType == "Company" && len(c.Name) > 0 {
		return strings.TrimSpace(c.Name[0])
	}
	return strings.TrimSpace(strings.Join(c.Name, " "))
}

var (
	pickupPattern   = regexp.MustCompile(`(?i)recoge(r)?\s+(en\s+)?bodega`)
	nationalPattern = regexp.MustCompile(`(?i)(env[ií]o\s+nacional|transportadora)`)
)

// DeliveryMethodFrom reads the delivery hint sellers type into observations.
func DeliveryMethodFrom(observations string) string {
	switch {
	case pickupPattern.MatchString(observations):
		return DeliveryPickup
	case nationalPattern.MatchString(observations):
		return DeliveryNational
	default:
		return DeliveryLocal
	}
}

// PaymentMethodFrom maps the first invoice payment name.
func PaymentMethodFrom(payments []Payment) string {
	if len(payments) == 0 {
		return PaymentTransfer
	}
	name := strings.ToLower(payments[0].Name)
	switch {
	case strings.Contains(name, "efectivo"):
		return PaymentCash
	case strings.Contains(name, "crédito"), strings.Contains(name, "credito"):
		return PaymentCredit
	default:
		return PaymentTransfer
	}
}

func customerField(c *Customer, get func(*Customer) string) string {
	if c == nil {
		return ""
	}
	return strings.TrimSpace(get(c))
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

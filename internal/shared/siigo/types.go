package siigo

import (
	"github.com/shopspring/decimal"
)

// Invoice is the subset of a SIIGO sales invoice the order module reads.
type Invoice struct {
	ID           string          `json:"id"`
	Name         string          `json:"name"`
	Date         string          `json:"date"`
	Customer     InvoiceCustomer `json:"customer"`
	Items        []InvoiceItem   `json:"items"`
	Payments     []Payment       `json:"payments"`
	Total        decimal.Decimal `json:"total"`
	Balance      decimal.Decimal `json:"balance"`
	Observations string          `json:"observations"`
	PublicURL    string          `json:"public_url"`
	Metadata     struct {
		Created string `json:"created"`
	} `json:"metadata"`
}

type InvoiceCustomer struct {
	ID             string `json:"id"`
	Identification string `json:"identification"`
	BranchOffice   int    `json:"branch_office"`
}

type InvoiceItem struct {
	ID          string          `json:"id"`
	Code        string          `json:"code"`
	Description string          `json:"description"`
	Quantity    decimal.Decimal `json:"quantity"`
	Price       decimal.Decimal `json:"price"`
	Total       decimal.Decimal `json:"total"`
}

type Payment struct {
	ID    int             `json:"id"`
	Name  string          `json:"name"`
	Value decimal.Decimal `json:"value"`
}

// InvoiceList is one page of ListInvoices.
type InvoiceList struct {
	Results    []Invoice `json:"results"`
	Pagination struct {
		Page         int `json:"page"`
		PageSize     int `json:"page_size"`
		TotalResults int `json:"total_results"`
	} `json:"pagination"`
}

// Customer is a SIIGO third party.
type Customer struct {
	ID             string   `json:"id"`
	PersonType     string   `json:"person_type"`
	Identification string   `json:"identification"`
	Name           []string `json:"name"`
	CommercialName string   `json:"commercial_name"`
	Address        struct {
		Address string `json:"address"`
		City    struct {
			CityName  string `json:"city_name"`
			StateName string `json:"state_name"`
		} `json:"city"`
	} `json:"address"`
	Phones []struct {
		Indicative string `json:"indicative"`
		Number     string `json:"number"`
	} `json:"phones"`
	Contacts []struct {
		FirstName string `json:"first_name"`
		LastName  string `json:"last_name"`
		Email     string `json:"email"`
	} `json:"contacts"`
}

// Closure settles an invoice with a cash receipt voucher.
type Closure struct {
	InvoiceID              string
	InvoiceName            string
	CustomerIdentification string
	Amount                 decimal.Decimal
	Method                 string
	Note                   string
	Date                   string
}

// WebhookEvent is the push notification body.
type WebhookEvent struct {
	Topic      string `json:"topic"`
	CompanyKey string `json:"company_key"`
	ID         string `json:"id"`
	Data       struct {
		ID string `json:"id"`
	} `json:"data"`
}

// InvoiceID returns the invoice the event refers to.
func (e WebhookEvent) InvoiceID() string {
	if e.ID != "" {
		return e.ID
	}
	return e.Data.ID
}

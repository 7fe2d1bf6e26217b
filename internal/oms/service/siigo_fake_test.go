package service

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/jecaicedo27/toppingfrozen-sub006/internal/shared/siigo"
)

// fakeSiigoAPI serves invoices from memory and counts fetches.
type fakeSiigoAPI struct {
	mu        sync.Mutex
	invoices  map[string]*siigo.Invoice
	customers map[string]*siigo.Customer
	listed    []string
	getErr    error
	closeErr  error
	gets      int
	closures  []siigo.Closure
}

func newFakeSiigoAPI() *fakeSiigoAPI {
	return &fakeSiigoAPI{
		invoices:  make(map[string]*siigo.Invoice),
		customers: make(map[string]*siigo.Customer),
	}
}

func (f *fakeSiigoAPI) ListInvoices(_ context.Context, _ siigo.ListParams) (*siigo.InvoiceList, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := &siigo.InvoiceList{}
	for _, id := range f.listed {
		out.Results = append(out.Results, siigo.Invoice{ID: id})
	}
	out.Pagination.Page = 1
	out.Pagination.TotalResults = len(f.listed)
	return out, nil
}

func (f *fakeSiigoAPI) GetInvoice(_ context.Context, id string) (*siigo.Invoice, json.RawMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gets++
	if f.getErr != nil {
		return nil, nil, f.getErr
	}
	inv, ok := f.invoices[id]
	if !ok {
		return nil, nil, &siigo.APIError{StatusCode: 404}
	}
	raw, _ := json.Marshal(inv)
	return inv, raw, nil
}

func (f *fakeSiigoAPI) GetCustomer(_ context.Context, id string) (*siigo.Customer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.customers[id], nil
}

func (f *fakeSiigoAPI) CloseInvoice(_ context.Context, c siigo.Closure) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closures = append(f.closures, c)
	return f.closeErr
}

func (f *fakeSiigoAPI) getCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.gets
}

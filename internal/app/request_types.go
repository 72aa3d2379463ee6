package app

import "invoicing-service/internal/core"

// PostInvoiceRequest is the body of an invoice posting. Quantity and price on each
// item may be numbers or numeric strings.
type PostInvoiceRequest struct {
	Type          core.InvoiceType `json:"type" jsonschema:"required,enum=revenue,enum=expense"`
	Items         []core.RawLine   `json:"items" jsonschema:"required,minItems=1"`
	InvoiceNumber string           `json:"invoiceNumber,omitempty" jsonschema:"description=Unique per tenant. Generated as INV-<timestamp> when absent."`
	Status        string           `json:"status,omitempty"`
	Notes         string           `json:"notes,omitempty"`
	Metadata      map[string]any   `json:"metadata,omitempty"`
}

// ListInvoicesRequest narrows ListInvoices. Zero paging values take defaults.
type ListInvoicesRequest struct {
	Type     core.InvoiceType
	Page     int
	PageSize int
}

// ListProductsRequest narrows ListProducts.
type ListProductsRequest struct {
	StoreID      string
	Search       string
	NegativeOnly bool
	Page         int
	PageSize     int
}

// ListMovementsRequest selects the movement ledger of one product.
type ListMovementsRequest struct {
	ProductID string
	Page      int
	PageSize  int
}

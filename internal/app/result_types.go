package app

import "invoicing-service/internal/core"

// PostingResult is returned by PostInvoice.
type PostingResult struct {
	Invoice *core.Invoice `json:"invoice"`
	PostingDetails
}

// PostingDetails is the stock side of a posting: every product as the invoice
// left it, the movements it wrote and the ids of products it created.
type PostingDetails struct {
	Products        []core.Product       `json:"products"`
	Movements       []core.StockMovement `json:"movements"`
	CreatedProducts []string             `json:"createdProducts"`
}

// PageInfo describes the window a list result covers.
type PageInfo struct {
	Page     int `json:"page"`
	PageSize int `json:"pageSize"`
	Total    int `json:"total"`
}

// InvoiceResult is returned by GetInvoice.
type InvoiceResult struct {
	Invoice *core.Invoice `json:"invoice"`
}

// InvoiceListResult is returned by ListInvoices.
type InvoiceListResult struct {
	Invoices []core.Invoice `json:"invoices"`
	PageInfo
}

// ProductListResult is returned by ListProducts.
type ProductListResult struct {
	Products []core.Product `json:"products"`
	PageInfo
}

// MovementListResult is returned by ListMovements.
type MovementListResult struct {
	Movements []core.StockMovement `json:"movements"`
	PageInfo
}

// NegativeStockResult is returned by NegativeStock.
type NegativeStockResult struct {
	Products []core.Product `json:"products"`
}

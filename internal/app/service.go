package app

import (
	"context"

	"github.com/invopop/jsonschema"
)

// Session identifies the acting user. Adapters build it from an already-verified
// credential; the service never reads tenant scope from request bodies.
type Session struct {
	TenantID string
	BranchID string
	UserID   string
}

// ApplicationService is the single interface all adapters (CLI, Web, Kafka) call.
// Implementations must contain no display logic of any kind.
type ApplicationService interface {
	// PostInvoice posts a revenue or expense invoice and applies its stock effect.
	PostInvoice(ctx context.Context, s Session, req PostInvoiceRequest) (*PostingResult, error)

	// GetInvoice returns one invoice by id within the session's branch.
	GetInvoice(ctx context.Context, s Session, id string) (*InvoiceResult, error)

	// ListInvoices returns a page of invoices, newest first.
	ListInvoices(ctx context.Context, s Session, req ListInvoicesRequest) (*InvoiceListResult, error)

	// ListProducts returns a page of products with their stock state.
	ListProducts(ctx context.Context, s Session, req ListProductsRequest) (*ProductListResult, error)

	// ListMovements returns the stock movement ledger of one product, newest first.
	ListMovements(ctx context.Context, s Session, req ListMovementsRequest) (*MovementListResult, error)

	// NegativeStock returns products across all tenants whose quantity is below zero.
	NegativeStock(ctx context.Context, limit int) (*NegativeStockResult, error)

	// InvoicePostingSchema returns the JSON Schema of PostInvoiceRequest.
	InvoicePostingSchema() *jsonschema.Schema
}

var _ ApplicationService = (*appService)(nil)

package core

import "context"

// Store is the persistence port of the core. Implementations must run WithinTx
// callbacks atomically: either every write made through the Tx lands, or none does.
type Store interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error

	GetInvoice(ctx context.Context, tenantID, branchID, id string) (*Invoice, error)
	ListInvoices(ctx context.Context, filter InvoiceFilter) ([]Invoice, int, error)
	ListProducts(ctx context.Context, filter ProductFilter) ([]Product, int, error)
	GetProductsByIDs(ctx context.Context, tenantID, branchID string, ids []string) ([]Product, error)
	ListMovements(ctx context.Context, filter MovementFilter) ([]StockMovement, int, error)
	// ListNegativeStock returns products with quantity < 0 across all tenants.
	ListNegativeStock(ctx context.Context, limit int) ([]Product, error)
}

// Tx is the transactional view used while posting an invoice.
type Tx interface {
	// FindProductForUpdate returns the product identified by key and locks it for the
	// rest of the transaction. Returns ErrProductNotFound when absent.
	FindProductForUpdate(ctx context.Context, key ProductKey) (*Product, error)
	// InsertProduct inserts p, or returns the existing locked row when a concurrent
	// transaction created the same key first.
	InsertProduct(ctx context.Context, p *Product) (*Product, error)
	UpdateProduct(ctx context.Context, p *Product) error
	InsertMovement(ctx context.Context, m *StockMovement) error
	InvoiceNumberExists(ctx context.Context, tenantID, number string) (bool, error)
	// InsertInvoice returns ErrDuplicateInvoiceNumber on a tenant-level number clash.
	InsertInvoice(ctx context.Context, inv *Invoice) error
}

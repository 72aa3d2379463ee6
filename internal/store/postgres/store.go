// Package postgres implements core.Store on PostgreSQL through pgx.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"invoicing-service/internal/core"
)

const uniqueViolation = "23505"

const productColumns = `id::text, tenant_id, branch_id, store_id, name, sku, category, unit, quantity,
	average_cost, price, selling_price, inventory_value, auto_created, created_at, updated_at`

const movementColumns = `id::text, tenant_id, branch_id, product_id::text, invoice_id::text, invoice_number,
	movement_type, quantity_change, quantity_before, quantity_after, unit_price,
	average_cost_before, average_cost_after, created_at`

const invoiceColumns = `id::text, tenant_id, branch_id, type, invoice_number, status, notes, metadata,
	total_amount, created_by, created_at`

type Store struct {
	pool *pgxpool.Pool
}

var _ core.Store = (*Store)(nil)

func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// WithinTx runs fn inside one database transaction. Product rows are locked with
// SELECT ... FOR UPDATE as they are resolved, so concurrent postings against the
// same product serialize on the row instead of losing updates.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx core.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(ctx, &pgTx{tx: tx}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (s *Store) GetInvoice(ctx context.Context, tenantID, branchID, id string) (*core.Invoice, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+invoiceColumns+` FROM invoices
		WHERE tenant_id = $1 AND branch_id = $2 AND id::text = $3`, tenantID, branchID, id)
	inv, err := scanInvoice(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, core.ErrInvoiceNotFound
		}
		return nil, fmt.Errorf("failed to get invoice: %w", err)
	}

	byInvoice, err := s.loadLines(ctx, []string{inv.ID})
	if err != nil {
		return nil, err
	}
	inv.Lines = byInvoice[inv.ID]
	return inv, nil
}

func (s *Store) ListInvoices(ctx context.Context, filter core.InvoiceFilter) ([]core.Invoice, int, error) {
	where := []string{"tenant_id = $1", "branch_id = $2"}
	args := []any{filter.TenantID, filter.BranchID}
	if filter.Type != "" {
		args = append(args, string(filter.Type))
		where = append(where, fmt.Sprintf("type = $%d", len(args)))
	}
	cond := strings.Join(where, " AND ")

	var total int
	if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM invoices WHERE "+cond, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count invoices: %w", err)
	}

	args = append(args, filter.PageSize, (filter.Page-1)*filter.PageSize)
	rows, err := s.pool.Query(ctx, fmt.Sprintf(`SELECT %s FROM invoices WHERE %s
		ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d`, invoiceColumns, cond, len(args)-1, len(args)), args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query invoices: %w", err)
	}
	defer rows.Close()

	var invoices []core.Invoice
	var ids []string
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan invoice: %w", err)
		}
		invoices = append(invoices, *inv)
		ids = append(ids, inv.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("failed to iterate invoices: %w", err)
	}

	if len(ids) > 0 {
		byInvoice, err := s.loadLines(ctx, ids)
		if err != nil {
			return nil, 0, err
		}
		for i := range invoices {
			invoices[i].Lines = byInvoice[invoices[i].ID]
		}
	}
	return invoices, total, nil
}

func (s *Store) loadLines(ctx context.Context, invoiceIDs []string) (map[string][]core.InvoiceLine, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT invoice_id::text, product_id::text, name, store_id, unit, quantity, price, line_total
		FROM invoice_lines
		WHERE invoice_id::text = ANY($1)
		ORDER BY invoice_id, line_no
	`, invoiceIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to query invoice lines: %w", err)
	}
	defer rows.Close()

	out := make(map[string][]core.InvoiceLine, len(invoiceIDs))
	for rows.Next() {
		var invoiceID string
		var l core.InvoiceLine
		if err := rows.Scan(&invoiceID, &l.ProductID, &l.Name, &l.StoreID, &l.Unit, &l.Quantity, &l.Price, &l.LineTotal); err != nil {
			return nil, fmt.Errorf("failed to scan invoice line: %w", err)
		}
		out[invoiceID] = append(out[invoiceID], l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate invoice lines: %w", err)
	}
	return out, nil
}

func (s *Store) ListProducts(ctx context.Context, filter core.ProductFilter) ([]core.Product, int, error) {
	where := []string{"tenant_id = $1", "branch_id = $2"}
	args := []any{filter.TenantID, filter.BranchID}
	if filter.StoreID != "" {
		args = append(args, filter.StoreID)
		where = append(where, fmt.Sprintf("store_id = $%d", len(args)))
	}
	if filter.Search != "" {
		args = append(args, "%"+filter.Search+"%")
		where = append(where, fmt.Sprintf("(name ILIKE $%d OR sku ILIKE $%d)", len(args), len(args)))
	}
	if filter.NegativeOnly {
		where = append(where, "quantity < 0")
	}
	cond := strings.Join(where, " AND ")

	var total int
	if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM products WHERE "+cond, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count products: %w", err)
	}

	args = append(args, filter.PageSize, (filter.Page-1)*filter.PageSize)
	rows, err := s.pool.Query(ctx, fmt.Sprintf(`SELECT %s FROM products WHERE %s
		ORDER BY store_id, name LIMIT $%d OFFSET $%d`, productColumns, cond, len(args)-1, len(args)), args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query products: %w", err)
	}
	products, err := collectProducts(rows)
	if err != nil {
		return nil, 0, err
	}
	return products, total, nil
}

func (s *Store) GetProductsByIDs(ctx context.Context, tenantID, branchID string, ids []string) ([]core.Product, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+productColumns+` FROM products
		WHERE tenant_id = $1 AND branch_id = $2 AND id::text = ANY($3)`, tenantID, branchID, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to query products by id: %w", err)
	}
	return collectProducts(rows)
}

func (s *Store) ListMovements(ctx context.Context, filter core.MovementFilter) ([]core.StockMovement, int, error) {
	where := []string{"tenant_id = $1", "branch_id = $2"}
	args := []any{filter.TenantID, filter.BranchID}
	if filter.ProductID != "" {
		args = append(args, filter.ProductID)
		where = append(where, fmt.Sprintf("product_id::text = $%d", len(args)))
	}
	cond := strings.Join(where, " AND ")

	var total int
	if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM stock_movements WHERE "+cond, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count stock movements: %w", err)
	}

	args = append(args, filter.PageSize, (filter.Page-1)*filter.PageSize)
	rows, err := s.pool.Query(ctx, fmt.Sprintf(`SELECT %s FROM stock_movements WHERE %s
		ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d`, movementColumns, cond, len(args)-1, len(args)), args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query stock movements: %w", err)
	}
	defer rows.Close()

	var movements []core.StockMovement
	for rows.Next() {
		var m core.StockMovement
		if err := rows.Scan(&m.ID, &m.TenantID, &m.BranchID, &m.ProductID, &m.InvoiceID, &m.InvoiceNumber,
			&m.MovementType, &m.QuantityChange, &m.QuantityBefore, &m.QuantityAfter, &m.UnitPrice,
			&m.AverageCostBefore, &m.AverageCostAfter, &m.CreatedAt); err != nil {
			return nil, 0, fmt.Errorf("failed to scan stock movement: %w", err)
		}
		movements = append(movements, m)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("failed to iterate stock movements: %w", err)
	}
	return movements, total, nil
}

func (s *Store) ListNegativeStock(ctx context.Context, limit int) ([]core.Product, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+productColumns+` FROM products
		WHERE quantity < 0 ORDER BY quantity ASC, id LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query negative stock: %w", err)
	}
	return collectProducts(rows)
}

// pgTx adapts a pgx.Tx to core.Tx.
type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) FindProductForUpdate(ctx context.Context, key core.ProductKey) (*core.Product, error) {
	row := t.tx.QueryRow(ctx, `SELECT `+productColumns+` FROM products
		WHERE tenant_id = $1 AND branch_id = $2 AND store_id = $3 AND name = $4
		FOR UPDATE`, key.TenantID, key.BranchID, key.StoreID, key.Name)
	p, err := scanProduct(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, core.ErrProductNotFound
		}
		return nil, fmt.Errorf("failed to lock product: %w", err)
	}
	return p, nil
}

func (t *pgTx) InsertProduct(ctx context.Context, p *core.Product) (*core.Product, error) {
	tag, err := t.tx.Exec(ctx, `
		INSERT INTO products (id, tenant_id, branch_id, store_id, name, sku, category, unit, quantity,
			average_cost, price, selling_price, inventory_value, auto_created, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		ON CONFLICT (tenant_id, branch_id, store_id, name) DO NOTHING
	`, p.ID, p.TenantID, p.BranchID, p.StoreID, p.Name, p.SKU, p.Category, p.Unit, p.Quantity,
		p.AverageCost, p.Price, p.SellingPrice, p.InventoryValue, p.AutoCreated, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to insert product: %w", err)
	}
	if tag.RowsAffected() == 1 {
		out := *p
		return &out, nil
	}

	// A concurrent posting created the same product first; lock and use it.
	return t.FindProductForUpdate(ctx, p.Key())
}

func (t *pgTx) UpdateProduct(ctx context.Context, p *core.Product) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE products
		SET quantity = $1, average_cost = $2, inventory_value = $3, updated_at = $4
		WHERE id::text = $5
	`, p.Quantity, p.AverageCost, p.InventoryValue, p.UpdatedAt, p.ID)
	if err != nil {
		return fmt.Errorf("failed to update product: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return core.ErrProductNotFound
	}
	return nil
}

func (t *pgTx) InsertMovement(ctx context.Context, m *core.StockMovement) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO stock_movements (id, tenant_id, branch_id, product_id, invoice_id, invoice_number,
			movement_type, quantity_change, quantity_before, quantity_after, unit_price,
			average_cost_before, average_cost_after, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`, m.ID, m.TenantID, m.BranchID, m.ProductID, m.InvoiceID, m.InvoiceNumber,
		string(m.MovementType), m.QuantityChange, m.QuantityBefore, m.QuantityAfter, m.UnitPrice,
		m.AverageCostBefore, m.AverageCostAfter, m.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert stock movement: %w", err)
	}
	return nil
}

func (t *pgTx) InvoiceNumberExists(ctx context.Context, tenantID, number string) (bool, error) {
	var exists bool
	err := t.tx.QueryRow(ctx,
		"SELECT EXISTS (SELECT 1 FROM invoices WHERE tenant_id = $1 AND invoice_number = $2)",
		tenantID, number,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check invoice number: %w", err)
	}
	return exists, nil
}

func (t *pgTx) InsertInvoice(ctx context.Context, inv *core.Invoice) error {
	// The savepoint keeps the outer transaction usable after a unique violation.
	sp, err := t.tx.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to open savepoint: %w", err)
	}
	defer sp.Rollback(ctx)

	_, err = sp.Exec(ctx, `
		INSERT INTO invoices (id, tenant_id, branch_id, type, invoice_number, status, notes, metadata,
			total_amount, created_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, inv.ID, inv.TenantID, inv.BranchID, string(inv.Type), inv.InvoiceNumber, inv.Status, inv.Notes,
		inv.Metadata, inv.TotalAmount, inv.CreatedBy, inv.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return core.ErrDuplicateInvoiceNumber
		}
		return fmt.Errorf("failed to insert invoice: %w", err)
	}

	batch := &pgx.Batch{}
	for i, l := range inv.Lines {
		batch.Queue(`
			INSERT INTO invoice_lines (invoice_id, line_no, product_id, name, store_id, unit, quantity, price, line_total)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		`, inv.ID, i+1, l.ProductID, l.Name, l.StoreID, l.Unit, l.Quantity, l.Price, l.LineTotal)
	}
	if err := sp.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("failed to insert invoice lines: %w", err)
	}

	if err := sp.Commit(ctx); err != nil {
		return fmt.Errorf("failed to release savepoint: %w", err)
	}
	return nil
}

func scanProduct(row pgx.Row) (*core.Product, error) {
	var p core.Product
	err := row.Scan(&p.ID, &p.TenantID, &p.BranchID, &p.StoreID, &p.Name, &p.SKU, &p.Category, &p.Unit,
		&p.Quantity, &p.AverageCost, &p.Price, &p.SellingPrice, &p.InventoryValue, &p.AutoCreated,
		&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func collectProducts(rows pgx.Rows) ([]core.Product, error) {
	defer rows.Close()
	var products []core.Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan product: %w", err)
		}
		products = append(products, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate products: %w", err)
	}
	return products, nil
}

func scanInvoice(row pgx.Row) (*core.Invoice, error) {
	var inv core.Invoice
	var typ string
	err := row.Scan(&inv.ID, &inv.TenantID, &inv.BranchID, &typ, &inv.InvoiceNumber, &inv.Status, &inv.Notes,
		&inv.Metadata, &inv.TotalAmount, &inv.CreatedBy, &inv.CreatedAt)
	if err != nil {
		return nil, err
	}
	inv.Type = core.InvoiceType(typ)
	return &inv, nil
}

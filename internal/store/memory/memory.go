// Package memory is an in-process core.Store used for local runs and tests.
package memory

import (
	"context"
	"slices"
	"sort"
	"strings"
	"sync"

	"invoicing-service/internal/core"
)

// Store keeps every record in maps guarded by one mutex. WithinTx holds the
// write lock for the whole callback, so postings are fully serialized.
type Store struct {
	mu          sync.RWMutex
	products    map[string]core.Product
	productKeys map[core.ProductKey]string
	invoices    map[string]core.Invoice
	invoiceIDs  []string
	numbers     map[numberKey]string
	movements   []core.StockMovement
}

type numberKey struct {
	tenantID string
	number   string
}

var _ core.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		products:    make(map[string]core.Product),
		productKeys: make(map[core.ProductKey]string),
		invoices:    make(map[string]core.Invoice),
		numbers:     make(map[numberKey]string),
		movements:   make([]core.StockMovement, 0, 128),
	}
}

// WithinTx stages writes made through tx and applies them only when fn succeeds.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx core.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memTx{
		store:       s,
		products:    make(map[string]core.Product),
		productKeys: make(map[core.ProductKey]string),
	}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	tx.commit()
	return nil
}

func (s *Store) GetInvoice(_ context.Context, tenantID, branchID, id string) (*core.Invoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	inv, ok := s.invoices[id]
	if !ok || inv.TenantID != tenantID || inv.BranchID != branchID {
		return nil, core.ErrInvoiceNotFound
	}
	out := cloneInvoice(inv)
	return &out, nil
}

func (s *Store) ListInvoices(_ context.Context, filter core.InvoiceFilter) ([]core.Invoice, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	matched := make([]core.Invoice, 0)
	// Newest first.
	for i := len(s.invoiceIDs) - 1; i >= 0; i-- {
		inv := s.invoices[s.invoiceIDs[i]]
		if inv.TenantID != filter.TenantID || inv.BranchID != filter.BranchID {
			continue
		}
		if filter.Type != "" && inv.Type != filter.Type {
			continue
		}
		matched = append(matched, cloneInvoice(inv))
	}
	return paginate(matched, filter.Page, filter.PageSize), len(matched), nil
}

func (s *Store) ListProducts(_ context.Context, filter core.ProductFilter) ([]core.Product, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	search := strings.ToLower(filter.Search)
	matched := make([]core.Product, 0)
	for _, p := range s.products {
		if p.TenantID != filter.TenantID || p.BranchID != filter.BranchID {
			continue
		}
		if filter.StoreID != "" && p.StoreID != filter.StoreID {
			continue
		}
		if filter.NegativeOnly && p.Quantity >= 0 {
			continue
		}
		if search != "" && !strings.Contains(strings.ToLower(p.Name), search) && !strings.Contains(strings.ToLower(p.SKU), search) {
			continue
		}
		matched = append(matched, p)
	}
	sortProducts(matched)
	return paginate(matched, filter.Page, filter.PageSize), len(matched), nil
}

func (s *Store) GetProductsByIDs(_ context.Context, tenantID, branchID string, ids []string) ([]core.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]core.Product, 0, len(ids))
	for _, id := range ids {
		p, ok := s.products[id]
		if !ok || p.TenantID != tenantID || p.BranchID != branchID {
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

func (s *Store) ListMovements(_ context.Context, filter core.MovementFilter) ([]core.StockMovement, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	matched := make([]core.StockMovement, 0)
	for i := len(s.movements) - 1; i >= 0; i-- {
		m := s.movements[i]
		if m.TenantID != filter.TenantID || m.BranchID != filter.BranchID {
			continue
		}
		if filter.ProductID != "" && m.ProductID != filter.ProductID {
			continue
		}
		matched = append(matched, m)
	}
	return paginate(matched, filter.Page, filter.PageSize), len(matched), nil
}

func (s *Store) ListNegativeStock(_ context.Context, limit int) ([]core.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]core.Product, 0)
	for _, p := range s.products {
		if p.Quantity < 0 {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Quantity != out[j].Quantity {
			return out[i].Quantity < out[j].Quantity
		}
		return out[i].ID < out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// memTx reads through its own staged writes before falling back to the store.
type memTx struct {
	store       *Store
	products    map[string]core.Product
	productKeys map[core.ProductKey]string
	movements   []core.StockMovement
	invoices    []core.Invoice
}

func (tx *memTx) FindProductForUpdate(_ context.Context, key core.ProductKey) (*core.Product, error) {
	id, ok := tx.productKeys[key]
	if !ok {
		id, ok = tx.store.productKeys[key]
	}
	if !ok {
		return nil, core.ErrProductNotFound
	}
	p, ok := tx.product(id)
	if !ok {
		return nil, core.ErrProductNotFound
	}
	return &p, nil
}

func (tx *memTx) InsertProduct(ctx context.Context, p *core.Product) (*core.Product, error) {
	if existing, err := tx.FindProductForUpdate(ctx, p.Key()); err == nil {
		return existing, nil
	}
	tx.products[p.ID] = *p
	tx.productKeys[p.Key()] = p.ID
	out := *p
	return &out, nil
}

func (tx *memTx) UpdateProduct(_ context.Context, p *core.Product) error {
	if _, ok := tx.product(p.ID); !ok {
		return core.ErrProductNotFound
	}
	tx.products[p.ID] = *p
	return nil
}

func (tx *memTx) InsertMovement(_ context.Context, m *core.StockMovement) error {
	tx.movements = append(tx.movements, *m)
	return nil
}

func (tx *memTx) InvoiceNumberExists(_ context.Context, tenantID, number string) (bool, error) {
	if _, ok := tx.store.numbers[numberKey{tenantID, number}]; ok {
		return true, nil
	}
	return slices.ContainsFunc(tx.invoices, func(inv core.Invoice) bool {
		return inv.TenantID == tenantID && inv.InvoiceNumber == number
	}), nil
}

func (tx *memTx) InsertInvoice(ctx context.Context, inv *core.Invoice) error {
	exists, _ := tx.InvoiceNumberExists(ctx, inv.TenantID, inv.InvoiceNumber)
	if exists {
		return core.ErrDuplicateInvoiceNumber
	}
	tx.invoices = append(tx.invoices, cloneInvoice(*inv))
	return nil
}

func (tx *memTx) product(id string) (core.Product, bool) {
	if p, ok := tx.products[id]; ok {
		return p, true
	}
	p, ok := tx.store.products[id]
	return p, ok
}

// commit runs with the store write lock held by WithinTx.
func (tx *memTx) commit() {
	s := tx.store
	for id, p := range tx.products {
		s.products[id] = p
	}
	for key, id := range tx.productKeys {
		s.productKeys[key] = id
	}
	s.movements = append(s.movements, tx.movements...)
	for _, inv := range tx.invoices {
		s.invoices[inv.ID] = inv
		s.invoiceIDs = append(s.invoiceIDs, inv.ID)
		s.numbers[numberKey{inv.TenantID, inv.InvoiceNumber}] = inv.ID
	}
}

func cloneInvoice(inv core.Invoice) core.Invoice {
	inv.Lines = slices.Clone(inv.Lines)
	return inv
}

func sortProducts(products []core.Product) {
	sort.Slice(products, func(i, j int) bool {
		if products[i].StoreID != products[j].StoreID {
			return products[i].StoreID < products[j].StoreID
		}
		return products[i].Name < products[j].Name
	})
}

func paginate[T any](items []T, page, size int) []T {
	if size <= 0 {
		return items
	}
	if page < 1 {
		page = 1
	}
	start := (page - 1) * size
	if start >= len(items) {
		return []T{}
	}
	end := min(start+size, len(items))
	return items[start:end]
}

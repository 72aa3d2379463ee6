package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	defaultPageSize = 50
	maxPageSize     = 500
	// maxNumberAttempts bounds suffix retries for auto-generated invoice numbers.
	maxNumberAttempts = 10
)

// PostingHook receives the result of a committed posting. Hooks run after commit
// and must not assume they can influence the posting outcome.
type PostingHook interface {
	AfterPost(ctx context.Context, res *PostingResult)
}

// Dispatcher schedules a post-commit task. It returns an error when the task
// could not be scheduled.
type Dispatcher func(task func()) error

// InvoiceService posts invoices and answers invoice queries.
type InvoiceService interface {
	// PostInvoice resolves and values every line in order and persists the invoice,
	// all inside one store transaction.
	PostInvoice(ctx context.Context, in PostInvoiceInput) (*PostingResult, error)
	GetInvoice(ctx context.Context, tenantID, branchID, id string) (*Invoice, error)
	ListInvoices(ctx context.Context, filter InvoiceFilter) ([]Invoice, int, error)
}

type invoiceService struct {
	store    Store
	resolver *ProductResolver
	engine   *ValuationEngine
	logger   *zap.Logger
	hooks    []PostingHook
	dispatch Dispatcher
	now      func() time.Time
}

// Option customises an InvoiceService.
type Option func(*invoiceService)

// WithHooks registers post-commit hooks.
func WithHooks(hooks ...PostingHook) Option {
	return func(s *invoiceService) { s.hooks = append(s.hooks, hooks...) }
}

// WithDispatcher sets how hooks are scheduled. The default runs them inline.
func WithDispatcher(d Dispatcher) Option {
	return func(s *invoiceService) { s.dispatch = d }
}

// WithClock overrides the time source used for invoice numbers and timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *invoiceService) { s.now = now }
}

func NewInvoiceService(store Store, resolver *ProductResolver, engine *ValuationEngine, logger *zap.Logger, opts ...Option) InvoiceService {
	s := &invoiceService{
		store:    store,
		resolver: resolver,
		engine:   engine,
		logger:   logger,
		dispatch: func(task func()) error { task(); return nil },
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	return s
}

func (s *invoiceService) PostInvoice(ctx context.Context, in PostInvoiceInput) (*PostingResult, error) {
	if strings.TrimSpace(in.TenantID) == "" || strings.TrimSpace(in.BranchID) == "" {
		return nil, unauthorized("unauthorized")
	}
	if !in.Type.IsValid() {
		return nil, validationf("invoice type must be %q or %q, got %q", InvoiceTypeRevenue, InvoiceTypeExpense, in.Type)
	}
	if len(in.Items) == 0 {
		return nil, validationf("invoice must contain at least one item")
	}

	// Coerce every line before touching the store so malformed input never opens a transaction.
	lines := make([]InvoiceLine, len(in.Items))
	total := decimal.Zero
	for i, raw := range in.Items {
		line, err := normalizeLine(i, raw)
		if err != nil {
			return nil, err
		}
		lines[i] = line
		total = total.Add(line.LineTotal)
	}

	now := s.now().UTC()
	inv := &Invoice{
		ID:            uuid.NewString(),
		TenantID:      in.TenantID,
		BranchID:      in.BranchID,
		Type:          in.Type,
		InvoiceNumber: strings.TrimSpace(in.InvoiceNumber),
		Status:        in.Status,
		Notes:         in.Notes,
		Metadata:      in.Metadata,
		TotalAmount:   total,
		CreatedBy:     in.CreatedBy,
		CreatedAt:     now,
	}
	autoNumber := inv.InvoiceNumber == ""
	base := inv.InvoiceNumber
	if autoNumber {
		base = fmt.Sprintf("INV-%d", now.UnixMilli())
	}

	// A concurrent posting can take an auto number between the existence check
	// and the insert. The transaction is then rolled back and replayed with the
	// next suffix so movements never reference a number the invoice lost.
	var res *PostingResult
	var err error
	for next := 0; ; {
		res, err = s.postLines(ctx, inv, lines, base, autoNumber, next)
		var taken *numberTaken
		if !errors.As(err, &taken) {
			break
		}
		if !autoNumber {
			err = duplicateNumber(taken.number)
			break
		}
		s.logger.Debug("invoice number taken at insert, retrying",
			zap.String("tenant_id", inv.TenantID),
			zap.String("invoice_number", taken.number),
		)
		next = taken.attempt + 1
		if next >= maxNumberAttempts {
			err = validationf("could not allocate a unique invoice number from %s", base)
			break
		}
	}
	if err != nil {
		s.logger.Warn("invoice posting aborted",
			zap.String("tenant_id", in.TenantID),
			zap.String("branch_id", in.BranchID),
			zap.String("type", in.Type.String()),
			zap.String("kind", string(KindOf(err))),
			zap.Error(err),
		)
		return nil, persistence("failed to post invoice", err)
	}

	s.logger.Info("invoice posted",
		zap.String("invoice_id", inv.ID),
		zap.String("invoice_number", inv.InvoiceNumber),
		zap.String("tenant_id", inv.TenantID),
		zap.String("branch_id", inv.BranchID),
		zap.String("type", inv.Type.String()),
		zap.Int("lines", len(inv.Lines)),
		zap.Int("products_created", len(res.CreatedProducts)),
	)
	s.runHooks(res)
	return res, nil
}

// numberTaken reports that InsertInvoice lost the race for a number that
// passed the existence check.
type numberTaken struct {
	number  string
	attempt int
}

func (e *numberTaken) Error() string {
	return fmt.Sprintf("invoice number %s taken at insert", e.number)
}

// postLines runs one posting transaction, reserving a number from attempt on.
func (s *invoiceService) postLines(ctx context.Context, inv *Invoice, lines []InvoiceLine, base string, auto bool, from int) (*PostingResult, error) {
	var res *PostingResult
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		number, attempt, err := s.reserveNumber(ctx, tx, inv.TenantID, base, auto, from)
		if err != nil {
			return err
		}
		inv.InvoiceNumber = number

		res = &PostingResult{Invoice: inv}
		touched := map[string]int{}
		inv.Lines = make([]InvoiceLine, 0, len(lines))

		// Lines apply strictly in order. Lines sharing a product see each other's
		// effect through the locked re-read in Resolve.
		for _, line := range lines {
			p, created, err := s.resolver.Resolve(ctx, tx, ResolveRequest{
				TenantID:    inv.TenantID,
				BranchID:    inv.BranchID,
				StoreID:     line.StoreID,
				Name:        line.Name,
				Unit:        line.Unit,
				UnitPrice:   line.Price,
				InvoiceType: inv.Type,
			})
			if err != nil {
				return err
			}
			if created {
				res.CreatedProducts = append(res.CreatedProducts, p.ID)
			}

			m, err := s.engine.Post(ctx, tx, p, inv, line)
			if err != nil {
				return err
			}

			line.ProductID = p.ID
			inv.Lines = append(inv.Lines, line)
			res.Movements = append(res.Movements, *m)
			if idx, ok := touched[p.ID]; ok {
				res.Products[idx] = *p
			} else {
				touched[p.ID] = len(res.Products)
				res.Products = append(res.Products, *p)
			}
		}

		if err := tx.InsertInvoice(ctx, inv); err != nil {
			if errors.Is(err, ErrDuplicateInvoiceNumber) {
				return &numberTaken{number: number, attempt: attempt}
			}
			return persistence("failed to save invoice", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

func numberCandidate(base string, attempt int) string {
	if attempt == 0 {
		return base
	}
	return fmt.Sprintf("%s-%d", base, attempt+1)
}

// reserveNumber checks candidates for uniqueness within the tenant, starting at
// attempt from. Auto-generated numbers get a -N suffix on collision; caller
// supplied ones are rejected.
func (s *invoiceService) reserveNumber(ctx context.Context, tx Tx, tenantID, base string, auto bool, from int) (string, int, error) {
	for attempt := from; attempt < maxNumberAttempts; attempt++ {
		candidate := numberCandidate(base, attempt)
		exists, err := tx.InvoiceNumberExists(ctx, tenantID, candidate)
		if err != nil {
			return "", attempt, persistence("failed to check invoice number", err)
		}
		if !exists {
			return candidate, attempt, nil
		}
		if !auto {
			return "", attempt, duplicateNumber(candidate)
		}
	}
	return "", maxNumberAttempts, validationf("could not allocate a unique invoice number from %s", base)
}

func (s *invoiceService) runHooks(res *PostingResult) {
	for _, h := range s.hooks {
		hook := h
		if err := s.dispatch(func() { hook.AfterPost(context.Background(), res) }); err != nil {
			s.logger.Warn("failed to schedule posting hook",
				zap.String("invoice_id", res.Invoice.ID),
				zap.Error(err),
			)
		}
	}
}

func (s *invoiceService) GetInvoice(ctx context.Context, tenantID, branchID, id string) (*Invoice, error) {
	if tenantID == "" || branchID == "" {
		return nil, unauthorized("unauthorized")
	}
	inv, err := s.store.GetInvoice(ctx, tenantID, branchID, id)
	if err != nil {
		if errors.Is(err, ErrInvoiceNotFound) {
			return nil, notFound(ErrInvoiceNotFound, "invoice %s not found", id)
		}
		return nil, persistence("failed to load invoice", err)
	}
	return inv, nil
}

func (s *invoiceService) ListInvoices(ctx context.Context, filter InvoiceFilter) ([]Invoice, int, error) {
	if filter.TenantID == "" || filter.BranchID == "" {
		return nil, 0, unauthorized("unauthorized")
	}
	if filter.Type != "" && !filter.Type.IsValid() {
		return nil, 0, validationf("unknown invoice type %q", filter.Type)
	}
	filter.Page, filter.PageSize = NormalizePage(filter.Page, filter.PageSize)
	invoices, total, err := s.store.ListInvoices(ctx, filter)
	if err != nil {
		return nil, 0, persistence("failed to list invoices", err)
	}
	return invoices, total, nil
}

// normalizeLine trims and coerces one raw line. Product resolution happens later.
func normalizeLine(index int, raw RawLine) (InvoiceLine, error) {
	name := strings.TrimSpace(raw.Name)
	if name == "" {
		return InvoiceLine{}, validationf("item %d: name is required", index+1)
	}
	storeID := strings.TrimSpace(raw.StoreID)
	if storeID == "" {
		return InvoiceLine{}, validationf("storeId is required for item %q", name)
	}
	qty, err := coerceQuantity(name, raw.Quantity)
	if err != nil {
		return InvoiceLine{}, err
	}
	price, err := coercePrice(name, raw.Price)
	if err != nil {
		return InvoiceLine{}, err
	}
	return InvoiceLine{
		Name:      name,
		Quantity:  qty,
		Price:     price,
		StoreID:   storeID,
		Unit:      strings.TrimSpace(raw.Unit),
		LineTotal: decimal.NewFromInt(qty).Mul(price),
	}, nil
}

// NormalizePage applies the default page size and caps it at the maximum.
func NormalizePage(page, size int) (int, int) {
	if page < 1 {
		page = 1
	}
	if size <= 0 {
		size = defaultPageSize
	}
	if size > maxPageSize {
		size = maxPageSize
	}
	return page, size
}

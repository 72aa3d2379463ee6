package app

import (
	"context"
	"sync"

	"invoicing-service/internal/core"

	"github.com/invopop/jsonschema"
)

type appService struct {
	invoices core.InvoiceService
	stock    core.StockService

	schemaOnce sync.Once
	schema     *jsonschema.Schema
}

// NewAppService constructs an appService that satisfies ApplicationService.
func NewAppService(invoices core.InvoiceService, stock core.StockService) ApplicationService {
	return &appService{
		invoices: invoices,
		stock:    stock,
	}
}

// PostInvoice hands the request to the invoice assembler under the session's scope.
func (s *appService) PostInvoice(ctx context.Context, sess Session, req PostInvoiceRequest) (*PostingResult, error) {
	res, err := s.invoices.PostInvoice(ctx, core.PostInvoiceInput{
		TenantID:      sess.TenantID,
		BranchID:      sess.BranchID,
		Type:          req.Type,
		Items:         req.Items,
		InvoiceNumber: req.InvoiceNumber,
		Status:        req.Status,
		Notes:         req.Notes,
		Metadata:      req.Metadata,
		CreatedBy:     sess.UserID,
	})
	if err != nil {
		return nil, err
	}
	out := &PostingResult{
		Invoice: res.Invoice,
		PostingDetails: PostingDetails{
			Products:        res.Products,
			Movements:       res.Movements,
			CreatedProducts: res.CreatedProducts,
		},
	}
	if out.CreatedProducts == nil {
		out.CreatedProducts = []string{}
	}
	return out, nil
}

func (s *appService) GetInvoice(ctx context.Context, sess Session, id string) (*InvoiceResult, error) {
	inv, err := s.invoices.GetInvoice(ctx, sess.TenantID, sess.BranchID, id)
	if err != nil {
		return nil, err
	}
	return &InvoiceResult{Invoice: inv}, nil
}

func (s *appService) ListInvoices(ctx context.Context, sess Session, req ListInvoicesRequest) (*InvoiceListResult, error) {
	page, size := core.NormalizePage(req.Page, req.PageSize)
	invoices, total, err := s.invoices.ListInvoices(ctx, core.InvoiceFilter{
		TenantID: sess.TenantID,
		BranchID: sess.BranchID,
		Type:     req.Type,
		Page:     page,
		PageSize: size,
	})
	if err != nil {
		return nil, err
	}
	if invoices == nil {
		invoices = []core.Invoice{}
	}
	return &InvoiceListResult{
		Invoices: invoices,
		PageInfo: PageInfo{Page: page, PageSize: size, Total: total},
	}, nil
}

func (s *appService) ListProducts(ctx context.Context, sess Session, req ListProductsRequest) (*ProductListResult, error) {
	page, size := core.NormalizePage(req.Page, req.PageSize)
	res, err := s.stock.ListProducts(ctx, core.ProductFilter{
		TenantID:     sess.TenantID,
		BranchID:     sess.BranchID,
		StoreID:      req.StoreID,
		Search:       req.Search,
		NegativeOnly: req.NegativeOnly,
		Page:         page,
		PageSize:     size,
	})
	if err != nil {
		return nil, err
	}
	products := res.Products
	if products == nil {
		products = []core.Product{}
	}
	return &ProductListResult{
		Products: products,
		PageInfo: PageInfo{Page: page, PageSize: size, Total: res.Total},
	}, nil
}

func (s *appService) ListMovements(ctx context.Context, sess Session, req ListMovementsRequest) (*MovementListResult, error) {
	page, size := core.NormalizePage(req.Page, req.PageSize)
	movements, total, err := s.stock.ListMovements(ctx, core.MovementFilter{
		TenantID:  sess.TenantID,
		BranchID:  sess.BranchID,
		ProductID: req.ProductID,
		Page:      page,
		PageSize:  size,
	})
	if err != nil {
		return nil, err
	}
	if movements == nil {
		movements = []core.StockMovement{}
	}
	return &MovementListResult{
		Movements: movements,
		PageInfo:  PageInfo{Page: page, PageSize: size, Total: total},
	}, nil
}

func (s *appService) NegativeStock(ctx context.Context, limit int) (*NegativeStockResult, error) {
	products, err := s.stock.NegativeStock(ctx, limit)
	if err != nil {
		return nil, err
	}
	if products == nil {
		products = []core.Product{}
	}
	return &NegativeStockResult{Products: products}, nil
}

// InvoicePostingSchema reflects PostInvoiceRequest once and reuses the result.
func (s *appService) InvoicePostingSchema() *jsonschema.Schema {
	s.schemaOnce.Do(func() {
		reflector := jsonschema.Reflector{
			AllowAdditionalProperties: false,
			DoNotReference:            true,
		}
		s.schema = reflector.Reflect(&PostInvoiceRequest{})
		s.schema.Title = "Invoice posting request"
	})
	return s.schema
}

// Package search indexes products in Elasticsearch and answers free-text lookups.
package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"go.uber.org/zap"

	"invoicing-service/config"
	"invoicing-service/internal/core"
)

const productMapping = `{
	"mappings": {
		"properties": {
			"tenant_id":       { "type": "keyword" },
			"branch_id":       { "type": "keyword" },
			"store_id":        { "type": "keyword" },
			"name":            { "type": "text", "fields": { "raw": { "type": "keyword" } } },
			"sku":             { "type": "keyword" },
			"category":        { "type": "keyword" },
			"quantity":        { "type": "long" },
			"average_cost":    { "type": "double" },
			"inventory_value": { "type": "double" },
			"auto_created":    { "type": "boolean" },
			"updated_at":      { "type": "date" }
		}
	}
}`

// NewClient builds an Elasticsearch client from cfg.
func NewClient(cfg config.ElasticsearchConfig) (*elasticsearch.Client, error) {
	es, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: cfg.Addresses,
		Username:  cfg.Username,
		Password:  cfg.Password,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create elasticsearch client: %w", err)
	}
	return es, nil
}

// ProductIndex mirrors product stock state into one index. Documents are keyed
// by product id so the store stays the source of truth.
type ProductIndex struct {
	es     *elasticsearch.Client
	index  string
	logger *zap.Logger
}

var (
	_ core.ProductSearcher = (*ProductIndex)(nil)
	_ core.PostingHook     = (*ProductIndex)(nil)
)

func NewProductIndex(es *elasticsearch.Client, index string, logger *zap.Logger) *ProductIndex {
	if index == "" {
		index = "products"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ProductIndex{es: es, index: index, logger: logger}
}

type productDocument struct {
	TenantID       string    `json:"tenant_id"`
	BranchID       string    `json:"branch_id"`
	StoreID        string    `json:"store_id"`
	Name           string    `json:"name"`
	SKU            string    `json:"sku"`
	Category       string    `json:"category"`
	Quantity       int64     `json:"quantity"`
	AverageCost    float64   `json:"average_cost"`
	InventoryValue float64   `json:"inventory_value"`
	AutoCreated    bool      `json:"auto_created"`
	UpdatedAt      time.Time `json:"updated_at"`
}

func toDocument(p core.Product) productDocument {
	return productDocument{
		TenantID:       p.TenantID,
		BranchID:       p.BranchID,
		StoreID:        p.StoreID,
		Name:           p.Name,
		SKU:            p.SKU,
		Category:       p.Category,
		Quantity:       p.Quantity,
		AverageCost:    p.AverageCost.InexactFloat64(),
		InventoryValue: p.InventoryValue.InexactFloat64(),
		AutoCreated:    p.AutoCreated,
		UpdatedAt:      p.UpdatedAt,
	}
}

// EnsureIndex creates the index with its mapping when missing.
func (x *ProductIndex) EnsureIndex(ctx context.Context) error {
	res, err := x.es.Indices.Exists([]string{x.index}, x.es.Indices.Exists.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("failed to check index %s: %w", x.index, err)
	}
	res.Body.Close()
	if res.StatusCode == http.StatusOK {
		return nil
	}

	res, err = x.es.Indices.Create(x.index,
		x.es.Indices.Create.WithBody(strings.NewReader(productMapping)),
		x.es.Indices.Create.WithContext(ctx),
	)
	if err != nil {
		return fmt.Errorf("failed to create index %s: %w", x.index, err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("failed to create index %s: %s", x.index, res.String())
	}
	return nil
}

// IndexProducts upserts products through one bulk request.
func (x *ProductIndex) IndexProducts(ctx context.Context, products []core.Product) error {
	if len(products) == 0 {
		return nil
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, p := range products {
		meta := map[string]any{"index": map[string]any{"_index": x.index, "_id": p.ID}}
		if err := enc.Encode(meta); err != nil {
			return fmt.Errorf("failed to encode bulk meta: %w", err)
		}
		if err := enc.Encode(toDocument(p)); err != nil {
			return fmt.Errorf("failed to encode product %s: %w", p.ID, err)
		}
	}

	res, err := x.es.Bulk(bytes.NewReader(buf.Bytes()), x.es.Bulk.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("failed to bulk index products: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("bulk index rejected: %s", res.String())
	}

	var body struct {
		Errors bool `json:"errors"`
	}
	if err := json.NewDecoder(res.Body).Decode(&body); err != nil {
		return fmt.Errorf("failed to decode bulk response: %w", err)
	}
	if body.Errors {
		return fmt.Errorf("bulk index reported item errors")
	}
	return nil
}

// AfterPost re-indexes the products touched by a posting.
func (x *ProductIndex) AfterPost(ctx context.Context, res *core.PostingResult) {
	if err := x.IndexProducts(ctx, res.Products); err != nil {
		x.logger.Error("failed to index products",
			zap.String("invoice_id", res.Invoice.ID),
			zap.Int("products", len(res.Products)),
			zap.Error(err),
		)
	}
}

// Search returns product ids ranked by relevance plus the total hit count.
func (x *ProductIndex) Search(ctx context.Context, filter core.ProductFilter) ([]string, int, error) {
	filters := []map[string]any{
		{"term": map[string]any{"tenant_id": filter.TenantID}},
		{"term": map[string]any{"branch_id": filter.BranchID}},
	}
	if filter.StoreID != "" {
		filters = append(filters, map[string]any{"term": map[string]any{"store_id": filter.StoreID}})
	}
	if filter.NegativeOnly {
		filters = append(filters, map[string]any{"range": map[string]any{"quantity": map[string]any{"lt": 0}}})
	}

	q := map[string]any{
		"query": map[string]any{
			"bool": map[string]any{
				"must": []map[string]any{
					{
						"query_string": map[string]any{
							"query":  fmt.Sprintf("*%s*", escapeQuery(filter.Search)),
							"fields": []string{"name^3", "sku", "category"},
						},
					},
				},
				"filter": filters,
			},
		},
		"from":    (filter.Page - 1) * filter.PageSize,
		"size":    filter.PageSize,
		"_source": false,
	}
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(q); err != nil {
		return nil, 0, fmt.Errorf("failed to encode search query: %w", err)
	}

	res, err := x.es.Search(
		x.es.Search.WithContext(ctx),
		x.es.Search.WithIndex(x.index),
		x.es.Search.WithBody(&buf),
		x.es.Search.WithTrackTotalHits(true),
	)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to search products: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		body, _ := io.ReadAll(res.Body)
		return nil, 0, fmt.Errorf("product search failed: %s: %s", res.Status(), body)
	}

	var out struct {
		Hits struct {
			Total struct {
				Value int `json:"value"`
			} `json:"total"`
			Hits []struct {
				ID string `json:"_id"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return nil, 0, fmt.Errorf("failed to decode search response: %w", err)
	}

	ids := make([]string, 0, len(out.Hits.Hits))
	for _, h := range out.Hits.Hits {
		ids = append(ids, h.ID)
	}
	return ids, out.Hits.Total.Value, nil
}

var queryEscaper = strings.NewReplacer(
	`\`, `\\`, `+`, `\+`, `-`, `\-`, `=`, `\=`, `&`, `\&`, `|`, `\|`, `>`, `\>`, `<`, `\<`,
	`!`, `\!`, `(`, `\(`, `)`, `\)`, `{`, `\{`, `}`, `\}`, `[`, `\[`, `]`, `\]`, `^`, `\^`,
	`"`, `\"`, `~`, `\~`, `*`, `\*`, `?`, `\?`, `:`, `\:`, `/`, `\/`,
)

// escapeQuery neutralises query_string operators in user input.
func escapeQuery(s string) string {
	return queryEscaper.Replace(strings.TrimSpace(s))
}

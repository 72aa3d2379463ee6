package search

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"invoicing-service/config"
	"invoicing-service/internal/core"
)

type recorded struct {
	method string
	path   string
	body   string
}

func fakeElastic(t *testing.T, handle func(w http.ResponseWriter, r *http.Request)) (*ProductIndex, *[]recorded) {
	t.Helper()
	var (
		mu   sync.Mutex
		reqs []recorded
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		reqs = append(reqs, recorded{method: r.Method, path: r.URL.Path, body: string(body)})
		mu.Unlock()
		w.Header().Set("X-Elastic-Product", "Elasticsearch")
		w.Header().Set("Content-Type", "application/json")
		handle(w, r)
	}))
	t.Cleanup(srv.Close)

	es, err := NewClient(config.ElasticsearchConfig{Addresses: []string{srv.URL}})
	require.NoError(t, err)
	return NewProductIndex(es, "products-test", nil), &reqs
}

func TestSearch_BuildsScopedQueryAndReturnsIDs(t *testing.T) {
	idx, reqs := fakeElastic(t, func(w http.ResponseWriter, _ *http.Request) {
		io.WriteString(w, `{"hits":{"total":{"value":7},"hits":[{"_id":"p2"},{"_id":"p1"}]}}`)
	})

	ids, total, err := idx.Search(context.Background(), core.ProductFilter{
		TenantID: "t1", BranchID: "b1", StoreID: "S1", Search: "wid", NegativeOnly: true, Page: 2, PageSize: 5,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"p2", "p1"}, ids)
	assert.Equal(t, 7, total)

	require.Len(t, *reqs, 1)
	req := (*reqs)[0]
	assert.Equal(t, "/products-test/_search", req.path)

	var q map[string]any
	require.NoError(t, json.Unmarshal([]byte(req.body), &q))
	assert.EqualValues(t, 5, q["from"])
	assert.EqualValues(t, 5, q["size"])
	assert.Contains(t, req.body, `"tenant_id":"t1"`)
	assert.Contains(t, req.body, `"store_id":"S1"`)
	assert.Contains(t, req.body, `"*wid*"`)
	assert.Contains(t, req.body, `"lt":0`)
}

func TestSearch_ErrorStatus(t *testing.T) {
	idx, _ := fakeElastic(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		io.WriteString(w, `{"error":"boom"}`)
	})

	_, _, err := idx.Search(context.Background(), core.ProductFilter{TenantID: "t1", BranchID: "b1", Search: "x", Page: 1, PageSize: 10})
	assert.Error(t, err)
}

func TestIndexProducts_SendsBulkBody(t *testing.T) {
	idx, reqs := fakeElastic(t, func(w http.ResponseWriter, _ *http.Request) {
		io.WriteString(w, `{"took":1,"errors":false,"items":[]}`)
	})

	res := &core.PostingResult{
		Invoice: &core.Invoice{ID: "inv-1"},
		Products: []core.Product{
			{ID: "p1", TenantID: "t1", BranchID: "b1", StoreID: "S1", Name: "Widget", Quantity: 4, AverageCost: decimal.NewFromInt(3), InventoryValue: decimal.NewFromInt(12)},
		},
	}
	idx.AfterPost(context.Background(), res)

	require.Len(t, *reqs, 1)
	req := (*reqs)[0]
	assert.True(t, strings.HasSuffix(req.path, "/_bulk"))
	lines := strings.Split(strings.TrimSpace(req.body), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], `"_id":"p1"`)
	assert.Contains(t, lines[1], `"inventory_value":12`)
}

func TestIndexProducts_ItemErrors(t *testing.T) {
	idx, _ := fakeElastic(t, func(w http.ResponseWriter, _ *http.Request) {
		io.WriteString(w, `{"took":1,"errors":true,"items":[]}`)
	})
	err := idx.IndexProducts(context.Background(), []core.Product{{ID: "p1"}})
	assert.Error(t, err)
}

func TestEnsureIndex_CreatesWhenMissing(t *testing.T) {
	idx, reqs := fakeElastic(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		io.WriteString(w, `{"acknowledged":true}`)
	})

	require.NoError(t, idx.EnsureIndex(context.Background()))
	require.Len(t, *reqs, 2)
	assert.Equal(t, http.MethodPut, (*reqs)[1].method)
	assert.Contains(t, (*reqs)[1].body, `"tenant_id"`)
}

func TestEscapeQuery(t *testing.T) {
	assert.Equal(t, `a\:b \(c\)`, escapeQuery(" a:b (c) "))
}

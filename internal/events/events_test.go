package events

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"invoicing-service/internal/core"
	"invoicing-service/internal/idgen"
	"invoicing-service/internal/store/memory"
)

type fakeWriter struct {
	mu   sync.Mutex
	msgs []kafka.Message
	err  error
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error { return nil }

type fakeReader struct {
	msgs chan kafka.Message

	mu        sync.Mutex
	committed []int64
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	select {
	case m := <-r.msgs:
		return m, nil
	case <-ctx.Done():
		return kafka.Message{}, ctx.Err()
	}
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}
	return nil
}

func (r *fakeReader) commits() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int64(nil), r.committed...)
}

func (r *fakeReader) Close() error { return nil }

// flakyStore fails the next n transactions before reaching the database.
type flakyStore struct {
	*memory.Store

	mu       sync.Mutex
	failures int
	attempts int
}

func (s *flakyStore) WithinTx(ctx context.Context, fn func(ctx context.Context, tx core.Tx) error) error {
	s.mu.Lock()
	s.attempts++
	if s.failures > 0 {
		s.failures--
		s.mu.Unlock()
		return errors.New("connection reset by peer")
	}
	s.mu.Unlock()
	return s.Store.WithinTx(ctx, fn)
}

func (s *flakyStore) attemptCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempts
}

// runListener starts l and returns a func that stops it and waits for exit.
func runListener(t *testing.T, l *OrderListener) func() {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		l.Start(ctx)
		close(done)
	}()
	return func() {
		cancel()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("listener did not stop")
		}
	}
}

func countInvoices(store core.Store) int {
	_, total, _ := store.ListInvoices(context.Background(), core.InvoiceFilter{TenantID: "t1", BranchID: "b1"})
	return total
}

func newInvoices(t *testing.T, store core.Store, hooks ...core.PostingHook) core.InvoiceService {
	t.Helper()
	gen, err := idgen.New(3)
	require.NoError(t, err)
	return core.NewInvoiceService(store, core.NewProductResolver(gen, nil), core.NewValuationEngine(nil), nil, core.WithHooks(hooks...))
}

func orderEvent(t *testing.T, orderID string, items ...OrderItemPayload) []byte {
	t.Helper()
	payload, err := json.Marshal(OrderPlacedPayload{OrderID: orderID, TenantID: "t1", BranchID: "b1", Items: items})
	require.NoError(t, err)
	value, err := json.Marshal(Envelope{EventID: "evt-" + orderID, EventType: EventOrderPlaced, Payload: payload, Timestamp: time.Now()})
	require.NoError(t, err)
	return value
}

func TestPublisher_AfterPostWritesEnvelope(t *testing.T) {
	w := &fakeWriter{}
	pub := NewPublisher(w, nil)
	svc := newInvoices(t, memory.New(), pub)

	res, err := svc.PostInvoice(context.Background(), core.PostInvoiceInput{
		TenantID: "t1", BranchID: "b1", Type: core.InvoiceTypeExpense,
		Items: []core.RawLine{{Name: "Widget", Quantity: 10, Price: 5, StoreID: "S1"}},
	})
	require.NoError(t, err)

	require.Len(t, w.msgs, 1)
	assert.Equal(t, "t1", string(w.msgs[0].Key))

	var env Envelope
	require.NoError(t, json.Unmarshal(w.msgs[0].Value, &env))
	assert.Equal(t, EventInvoicePosted, env.EventType)
	assert.NotEmpty(t, env.EventID)

	var payload InvoicePostedPayload
	require.NoError(t, json.Unmarshal(env.Payload, &payload))
	assert.Equal(t, res.Invoice.ID, payload.InvoiceID)
	assert.Equal(t, "expense", payload.Type)
	require.Len(t, payload.Products, 1)
	assert.Equal(t, int64(10), payload.Products[0].Quantity)
	assert.Equal(t, "50", payload.Products[0].InventoryValue.String())
	assert.True(t, payload.Products[0].AutoCreated)
}

func TestPublisher_WriteFailureDoesNotFailPosting(t *testing.T) {
	w := &fakeWriter{err: errors.New("broker down")}
	svc := newInvoices(t, memory.New(), NewPublisher(w, nil))

	_, err := svc.PostInvoice(context.Background(), core.PostInvoiceInput{
		TenantID: "t1", BranchID: "b1", Type: core.InvoiceTypeRevenue,
		Items: []core.RawLine{{Name: "Widget", Quantity: 1, StoreID: "S1"}},
	})
	require.NoError(t, err)
	assert.Empty(t, w.msgs)
}

func TestOrderListener_PostsRevenueInvoiceOnce(t *testing.T) {
	store := memory.New()
	l := NewOrderListener(&fakeReader{}, newInvoices(t, store), nil)
	ctx := context.Background()

	event := orderEvent(t, "1001",
		OrderItemPayload{Name: "Widget", Quantity: 2, Price: "9.50", StoreID: "S1"},
		OrderItemPayload{Name: "Gadget", Quantity: "1", Price: 20, StoreID: "S1"},
	)
	require.NoError(t, l.Handle(ctx, event))
	// Redelivery is skipped.
	require.NoError(t, l.Handle(ctx, event))

	invoices, total, err := store.ListInvoices(ctx, core.InvoiceFilter{TenantID: "t1", BranchID: "b1"})
	require.NoError(t, err)
	require.Equal(t, 1, total)
	assert.Equal(t, "SHOP-1001", invoices[0].InvoiceNumber)
	assert.Equal(t, core.InvoiceTypeRevenue, invoices[0].Type)
	assert.Equal(t, "39", invoices[0].TotalAmount.String())

	products, _, err := store.ListProducts(ctx, core.ProductFilter{TenantID: "t1", BranchID: "b1", Search: "Widget"})
	require.NoError(t, err)
	require.Len(t, products, 1)
	assert.Equal(t, int64(-2), products[0].Quantity)
}

func TestOrderListener_IgnoresAndRejects(t *testing.T) {
	l := NewOrderListener(&fakeReader{}, newInvoices(t, memory.New()), nil)
	ctx := context.Background()

	other, err := json.Marshal(Envelope{EventType: "OrderCancelled", Payload: json.RawMessage(`{}`)})
	require.NoError(t, err)
	assert.NoError(t, l.Handle(ctx, other))

	assert.Error(t, l.Handle(ctx, []byte("not json")))
	assert.Error(t, l.Handle(ctx, orderEvent(t, "")))

	err = l.Handle(ctx, orderEvent(t, "2002", OrderItemPayload{Name: "Widget", Quantity: 0, StoreID: "S1"}))
	require.Error(t, err)
	assert.Equal(t, core.KindValidation, core.KindOf(err))
}

func TestOrderListener_StartStopsOnCancel(t *testing.T) {
	store := memory.New()
	reader := &fakeReader{msgs: make(chan kafka.Message, 1)}
	l := NewOrderListener(reader, newInvoices(t, store), nil)

	reader.msgs <- kafka.Message{Offset: 4, Value: orderEvent(t, "3003", OrderItemPayload{Name: "Widget", Quantity: 1, Price: 1, StoreID: "S1"})}

	stop := runListener(t, l)
	require.Eventually(t, func() bool {
		return countInvoices(store) == 1
	}, 2*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool {
		return len(reader.commits()) == 1
	}, 2*time.Second, 10*time.Millisecond)
	stop()

	assert.Equal(t, []int64{4}, reader.commits())
}

func TestOrderListener_StoreFailureIsRetriedBeforeCommit(t *testing.T) {
	store := &flakyStore{Store: memory.New(), failures: 3}
	reader := &fakeReader{msgs: make(chan kafka.Message, 1)}
	l := NewOrderListener(reader, newInvoices(t, store), nil)
	l.retryBackoff = time.Millisecond

	reader.msgs <- kafka.Message{Offset: 7, Value: orderEvent(t, "4004", OrderItemPayload{Name: "Widget", Quantity: 2, Price: 3, StoreID: "S1"})}

	stop := runListener(t, l)
	defer stop()

	require.Eventually(t, func() bool {
		return len(reader.commits()) == 1
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []int64{7}, reader.commits())
	assert.Equal(t, 1, countInvoices(store))
	assert.Equal(t, 4, store.attemptCount())
}

func TestOrderListener_UnavailableStoreNeverCommits(t *testing.T) {
	store := &flakyStore{Store: memory.New(), failures: 1 << 30}
	reader := &fakeReader{msgs: make(chan kafka.Message, 1)}
	l := NewOrderListener(reader, newInvoices(t, store), nil)
	l.retryBackoff = time.Millisecond

	reader.msgs <- kafka.Message{Offset: 9, Value: orderEvent(t, "5005", OrderItemPayload{Name: "Widget", Quantity: 1, StoreID: "S1"})}

	stop := runListener(t, l)
	require.Eventually(t, func() bool {
		return store.attemptCount() >= 3
	}, 2*time.Second, 5*time.Millisecond)
	stop()

	assert.Empty(t, reader.commits())
	assert.Zero(t, countInvoices(store))
}

func TestOrderListener_CommitsRejectedOrders(t *testing.T) {
	store := memory.New()
	reader := &fakeReader{msgs: make(chan kafka.Message, 3)}
	l := NewOrderListener(reader, newInvoices(t, store), nil)
	l.retryBackoff = time.Millisecond

	reader.msgs <- kafka.Message{Offset: 1, Value: []byte("not json")}
	reader.msgs <- kafka.Message{Offset: 2, Value: orderEvent(t, "6006", OrderItemPayload{Name: "Widget", Quantity: 0, StoreID: "S1"})}
	reader.msgs <- kafka.Message{Offset: 3, Value: orderEvent(t, "6007", OrderItemPayload{Name: "Widget", Quantity: 1, StoreID: "S1"})}

	stop := runListener(t, l)
	defer stop()

	require.Eventually(t, func() bool {
		return len(reader.commits()) == 3
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []int64{1, 2, 3}, reader.commits())
	assert.Equal(t, 1, countInvoices(store))
}

func TestOrderListener_LargeQuantitiesStayExact(t *testing.T) {
	store := memory.New()
	l := NewOrderListener(&fakeReader{}, newInvoices(t, store), nil)
	ctx := context.Background()

	event := orderEvent(t, "7007", OrderItemPayload{Name: "Bolt", Quantity: json.Number("9007199254740993"), Price: 1, StoreID: "S1"})
	require.NoError(t, l.Handle(ctx, event))

	products, _, err := store.ListProducts(ctx, core.ProductFilter{TenantID: "t1", BranchID: "b1", Search: "Bolt"})
	require.NoError(t, err)
	require.Len(t, products, 1)
	assert.Equal(t, int64(-9007199254740993), products[0].Quantity)
}

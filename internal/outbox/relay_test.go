package outbox_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/safar/electronics-store/internal/memstore"
	"github.com/safar/electronics-store/internal/models"
	"github.com/safar/electronics-store/internal/order"
	"github.com/safar/electronics-store/internal/outbox"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []models.OutboxEvent
	fail   error
}

func (p *recordingPublisher) Publish(_ context.Context, event models.OutboxEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail != nil {
		return p.fail
	}
	p.events = append(p.events, event)
	return nil
}

func (p *recordingPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.events)
}

func commitOrders(t *testing.T, store *memstore.Store, n int) {
	t.Helper()
	ctx := context.Background()
	product, err := store.CreateProduct(ctx, models.NewProduct{Name: "Mouse", Price: decimal.NewFromInt(1500), StockQuantity: 100})
	require.NoError(t, err)

	svc := order.NewService(store, store, zaptest.NewLogger(t), noop.NewTracerProvider().Tracer("test"))
	for i := 0; i < n; i++ {
		_, err := svc.Commit(ctx, models.OrderRequest{
			ClientName:  "Client",
			ClientEmail: "client@example.com",
			Items:       []models.LineItem{{ProductID: product.ID, Quantity: 1}},
		})
		require.NoError(t, err)
	}
}

func TestRunOncePublishesInBatches(t *testing.T) {
	store := memstore.New()
	commitOrders(t, store, 5)

	publisher := &recordingPublisher{}
	relay := outbox.NewRelay(store, publisher, zaptest.NewLogger(t), time.Hour, 3)

	n, err := relay.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	n, err = relay.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = relay.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)

	require.Equal(t, 5, publisher.count())
	for i, event := range publisher.events {
		assert.Equal(t, models.EventTypeOrderCreated, event.EventType)
		assert.Equal(t, int64(i+1), event.AggregateID)
	}
}

func TestRunOnceKeepsFailedEventsPending(t *testing.T) {
	store := memstore.New()
	commitOrders(t, store, 2)

	publisher := &recordingPublisher{fail: errors.New("broker down")}
	relay := outbox.NewRelay(store, publisher, zaptest.NewLogger(t), time.Hour, 10)

	n, err := relay.RunOnce(context.Background())
	assert.Error(t, err)
	assert.Zero(t, n)

	publisher.fail = nil
	n, err = relay.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestStartRelaysUntilCancelled(t *testing.T) {
	store := memstore.New()
	commitOrders(t, store, 3)

	publisher := &recordingPublisher{}
	relay := outbox.NewRelay(store, publisher, zaptest.NewLogger(t), 10*time.Millisecond, 10)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		relay.Start(ctx)
	}()

	assert.Eventually(t, func() bool { return publisher.count() == 3 }, time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("relay did not stop after cancel")
	}
}

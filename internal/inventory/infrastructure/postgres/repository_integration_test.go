//go:build integration

package postgres_test

import (
	"context"
	"sync"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/dmehra2102/order-inventory-choreography/internal/inventory/application"
	"github.com/dmehra2102/order-inventory-choreography/internal/inventory/domain"
	"github.com/dmehra2102/order-inventory-choreography/internal/inventory/infrastructure/postgres"
	"github.com/dmehra2102/order-inventory-choreography/pkg/messages"
	"github.com/dmehra2102/order-inventory-choreography/pkg/metrics"
	"github.com/dmehra2102/order-inventory-choreography/test/integration"
)

func setup(t *testing.T) (*pgxpool.Pool, *postgres.Repository, *application.Service) {
	t.Helper()
	pool := integration.Postgres(t)
	require.NoError(t, postgres.Migrate(context.Background(), pool))
	repo := postgres.NewRepository(zaptest.NewLogger(t), pool)
	svc := application.NewService(zap.NewNop(), repo, repo, metrics.New(prometheus.NewRegistry()))
	return pool, repo, svc
}

func seed(t *testing.T, svc *application.Service, name string, stock int32) int64 {
	t.Helper()
	p, err := svc.CreateProduct(context.Background(), name, decimal.RequireFromString("10"), stock)
	require.NoError(t, err)
	return p.ID
}

func stockOf(t *testing.T, svc *application.Service, id int64) int32 {
	t.Helper()
	p, err := svc.GetProduct(context.Background(), id)
	require.NoError(t, err)
	return p.Stock
}

func outboxRows(t *testing.T, pool *pgxpool.Pool) int {
	t.Helper()
	var n int
	require.NoError(t, pool.QueryRow(context.Background(), `SELECT count(*) FROM outbox`).Scan(&n))
	return n
}

func TestReserveAllOrNothing(t *testing.T) {
	pool, _, svc := setup(t)
	ctx := context.Background()
	a := seed(t, svc, "A", 5)
	b := seed(t, svc, "B", 1)

	out, err := svc.Reserve(ctx, messages.ReservationRequest{OrderID: 1, Items: []messages.ReservationItem{
		{ProductID: a, Quantity: 2},
		{ProductID: b, Quantity: 3},
	}})
	require.NoError(t, err)
	assert.Equal(t, messages.StatusFailedStock, out.Status)
	assert.Contains(t, out.Message, "B")
	assert.Equal(t, int32(5), stockOf(t, svc, a))
	assert.Equal(t, int32(1), stockOf(t, svc, b))

	out, err = svc.Reserve(ctx, messages.ReservationRequest{OrderID: 2, Items: []messages.ReservationItem{
		{ProductID: a, Quantity: 2},
		{ProductID: b, Quantity: 1},
	}})
	require.NoError(t, err)
	assert.Equal(t, messages.StatusConfirmed, out.Status)
	assert.Equal(t, messages.MessageConfirmed, out.Message)
	assert.Equal(t, int32(3), stockOf(t, svc, a))
	assert.Equal(t, int32(0), stockOf(t, svc, b))
	assert.Equal(t, 2, outboxRows(t, pool))
}

func TestReserveRedeliveryReplaysOutcome(t *testing.T) {
	pool, _, svc := setup(t)
	ctx := context.Background()
	id := seed(t, svc, "Monitor", 4)
	req := messages.ReservationRequest{OrderID: 7, Items: []messages.ReservationItem{{ProductID: id, Quantity: 3}}}

	first, err := svc.Reserve(ctx, req)
	require.NoError(t, err)
	second, err := svc.Reserve(ctx, req)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, int32(1), stockOf(t, svc, id))
	// every delivery re-emits the stored outcome
	assert.Equal(t, 2, outboxRows(t, pool))
}

func TestConcurrentDuplicateDeliveriesDecrementOnce(t *testing.T) {
	_, _, svc := setup(t)
	id := seed(t, svc, "Cadeira", 10)
	req := messages.ReservationRequest{OrderID: 11, Items: []messages.ReservationItem{{ProductID: id, Quantity: 4}}}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out, err := svc.Reserve(context.Background(), req)
			assert.NoError(t, err)
			assert.Equal(t, messages.StatusConfirmed, out.Status)
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(6), stockOf(t, svc, id))
}

func TestConcurrentOrdersNeverOversell(t *testing.T) {
	_, _, svc := setup(t)
	id := seed(t, svc, "Headset", 5)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		confirmed int
	)
	for i := 1; i <= 10; i++ {
		wg.Add(1)
		go func(orderID int64) {
			defer wg.Done()
			out, err := svc.Reserve(context.Background(), messages.ReservationRequest{
				OrderID: orderID,
				Items:   []messages.ReservationItem{{ProductID: id, Quantity: 1}},
			})
			assert.NoError(t, err)
			if out.Status == messages.StatusConfirmed {
				mu.Lock()
				confirmed++
				mu.Unlock()
			}
		}(int64(i))
	}
	wg.Wait()
	assert.Equal(t, 5, confirmed)
	assert.Equal(t, int32(0), stockOf(t, svc, id))
}

func TestReserveNow(t *testing.T) {
	_, _, svc := setup(t)
	ctx := context.Background()
	id := seed(t, svc, "Cabo", 2)

	ok, err := svc.ReserveNow(ctx, id, 2)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = svc.ReserveNow(ctx, id, 1)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = svc.ReserveNow(ctx, 999, 1)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestProductCRUD(t *testing.T) {
	_, repo, _ := setup(t)
	ctx := context.Background()

	p, err := domain.NewProduct("Webcam", decimal.RequireFromString("199.90"), 3)
	require.NoError(t, err)
	p, err = repo.Create(ctx, p)
	require.NoError(t, err)

	got, err := repo.Get(ctx, p.ID)
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("199.90").Equal(got.Price))

	got.Stock = 9
	_, err = repo.Update(ctx, got)
	require.NoError(t, err)

	all, err := repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, int32(9), all[0].Stock)

	require.NoError(t, repo.Delete(ctx, p.ID))
	_, err = repo.Get(ctx, p.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

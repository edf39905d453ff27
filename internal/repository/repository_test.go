package repository

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"busline/backend/internal/db"
	"busline/backend/internal/ledger"
	"busline/backend/internal/models"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRepository(t *testing.T) (*Repository, *pgxpool.Pool) {
	t.Helper()
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL not set")
	}
	ctx := context.Background()
	pool, err := db.NewPool(ctx, dsn)
	require.NoError(t, err, "db connection")
	t.Cleanup(pool.Close)
	require.NoError(t, db.Migrate(ctx, pool), "migrate")
	return New(pool), pool
}

func insertTestRoute(t *testing.T, repo *Repository, pool *pgxpool.Pool, seats int) models.Route {
	t.Helper()
	ctx := context.Background()
	route, err := repo.CreateRoute(ctx, models.Route{
		ID:            uuid.NewString(),
		RouteCode:     "TEST-" + uuid.NewString()[:8],
		From:          "Ha Noi",
		To:            "Hai Phong",
		DepartureTime: time.Now().Add(24 * time.Hour).UTC(),
		Price:         180000,
		TotalSeats:    seats,
		IsActive:      true,
	})
	require.NoError(t, err, "create route")
	t.Cleanup(func() {
		_, _ = pool.Exec(ctx, `DELETE FROM booked_seats WHERE route_id = $1`, route.ID)
		_, _ = pool.Exec(ctx, `DELETE FROM orders WHERE route_id = $1`, route.ID)
		_, _ = pool.Exec(ctx, `DELETE FROM routes WHERE id = $1`, route.ID)
	})
	return route
}

func testOrder(routeID string) models.Order {
	now := time.Now().UTC()
	return models.Order{
		ID:            uuid.NewString(),
		RouteID:       routeID,
		UserID:        "user-1",
		FullName:      "Nguyen Van A",
		Phone:         "0912 345 678",
		Email:         "a@example.com",
		PaymentMethod: models.PaymentMethodVNPay,
		PaymentStatus: models.PaymentStatusPending,
		BasePrice:     200000,
		Fees:          20000,
		Total:         220000,
		Status:        models.OrderStatusPending,
		TicketStatus:  models.TicketStatusNone,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

func TestConcurrentReserveLastSeat(t *testing.T) {
	repo, pool := testRepository(t)
	ctx := context.Background()
	route := insertTestRoute(t, repo, pool, 1)

	const workers = 8
	orders := make([]models.Order, workers)
	for i := range orders {
		orders[i] = testOrder(route.ID)
		require.NoError(t, repo.InsertOrder(ctx, orders[i]))
	}

	var wg sync.WaitGroup
	results := make(chan error, workers)
	for _, o := range orders {
		wg.Add(1)
		go func(orderID string) {
			defer wg.Done()
			results <- repo.ReserveSeat(ctx, route.ID, orderID, nil, time.Now().UTC())
		}(o.ID)
	}
	wg.Wait()
	close(results)

	success, exhausted := 0, 0
	for err := range results {
		switch {
		case err == nil:
			success++
		case errors.Is(err, models.ErrSeatsExhausted):
			exhausted++
		default:
			t.Fatalf("unexpected reserve error: %v", err)
		}
	}
	assert.Equal(t, 1, success)
	assert.Equal(t, workers-1, exhausted)

	stored, err := repo.GetRoute(ctx, route.ID)
	require.NoError(t, err)
	require.NoError(t, ledger.CheckInvariant(stored))
}

func TestSeatNumberUniqueAndRelease(t *testing.T) {
	repo, pool := testRepository(t)
	ctx := context.Background()
	route := insertTestRoute(t, repo, pool, 3)

	first := testOrder(route.ID)
	second := testOrder(route.ID)
	for _, o := range []models.Order{first, second} {
		require.NoError(t, repo.InsertOrder(ctx, o))
	}
	seat := 2
	require.NoError(t, repo.ReserveSeat(ctx, route.ID, first.ID, &seat, time.Now().UTC()))
	require.ErrorIs(t, repo.ReserveSeat(ctx, route.ID, second.ID, &seat, time.Now().UTC()), models.ErrSeatTaken)

	released, err := repo.ReleaseSeat(ctx, route.ID, first.ID)
	require.NoError(t, err)
	assert.True(t, released)
	released, err = repo.ReleaseSeat(ctx, route.ID, first.ID)
	require.NoError(t, err)
	assert.False(t, released, "second release should be a no-op")

	stored, err := repo.GetRoute(ctx, route.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, stored.AvailableSeats)
	assert.Empty(t, stored.BookedSeats)
}

func TestUpdateOrderGuardsStatus(t *testing.T) {
	repo, pool := testRepository(t)
	ctx := context.Background()
	route := insertTestRoute(t, repo, pool, 3)
	order := testOrder(route.ID)
	require.NoError(t, repo.InsertOrder(ctx, order))

	now := time.Now().UTC()
	updated, err := repo.UpdateOrder(ctx, order.ID, []string{models.OrderStatusPending}, models.OrderPatch{
		Status:      lo.ToPtr(models.OrderStatusConfirmed),
		ConfirmedAt: &now,
	})
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusConfirmed, updated.Status)
	assert.NotNil(t, updated.ConfirmedAt)

	_, err = repo.UpdateOrder(ctx, order.ID, []string{models.OrderStatusPending}, models.OrderPatch{Status: lo.ToPtr(models.OrderStatusConfirmed)})
	var transition *models.TransitionError
	require.ErrorAs(t, err, &transition)
	assert.Equal(t, models.OrderStatusConfirmed, transition.Current)

	_, err = repo.UpdateOrder(ctx, uuid.NewString(), []string{models.OrderStatusPending}, models.OrderPatch{})
	require.ErrorIs(t, err, models.ErrOrderNotFound)
}

func TestLockRouteOrdersHoldsRowsUntilCommit(t *testing.T) {
	repo, pool := testRepository(t)
	ctx := context.Background()
	route := insertTestRoute(t, repo, pool, 3)
	order := testOrder(route.ID)
	order.Status = models.OrderStatusConfirmed
	require.NoError(t, repo.InsertOrder(ctx, order))

	listed := make(chan struct{})
	proceed := make(chan struct{})
	checkout := make(chan error, 1)
	go func() {
		checkout <- repo.WithTx(ctx, func(ctx context.Context) error {
			if err := repo.LockRoute(ctx, route.ID); err != nil {
				return err
			}
			orders, err := repo.LockRouteOrders(ctx, route.ID)
			if err != nil {
				return err
			}
			if len(orders) != 1 || orders[0].Status != models.OrderStatusConfirmed {
				return fmt.Errorf("unexpected orders: %#v", orders)
			}
			close(listed)
			<-proceed
			_, err = repo.UpdateOrder(ctx, order.ID,
				[]string{models.OrderStatusConfirmed, models.OrderStatusPaid, models.OrderStatusPrepaid},
				models.OrderPatch{Status: lo.ToPtr(models.OrderStatusFinished)})
			return err
		})
	}()
	select {
	case <-listed:
	case err := <-checkout:
		t.Fatalf("checkout transaction ended early: %v", err)
	}

	paid := make(chan error, 1)
	go func() {
		_, err := repo.UpdateOrder(ctx, order.ID, []string{models.OrderStatusConfirmed}, models.OrderPatch{
			Status:        lo.ToPtr(models.OrderStatusPaid),
			PaymentStatus: lo.ToPtr(models.PaymentStatusCompleted),
		})
		paid <- err
	}()
	select {
	case err := <-paid:
		close(proceed)
		t.Fatalf("payment update did not wait for the checkout lock: %v", err)
	case <-time.After(200 * time.Millisecond):
	}

	close(proceed)
	require.NoError(t, <-checkout)

	var transition *models.TransitionError
	require.ErrorAs(t, <-paid, &transition)
	assert.Equal(t, models.OrderStatusFinished, transition.Current)

	stored, err := repo.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusFinished, stored.Status)
	assert.Equal(t, models.PaymentStatusPending, stored.PaymentStatus)
}

func TestTicketClaimIsExclusive(t *testing.T) {
	repo, pool := testRepository(t)
	ctx := context.Background()
	route := insertTestRoute(t, repo, pool, 3)
	order := testOrder(route.ID)
	order.Status = models.OrderStatusConfirmed
	require.NoError(t, repo.InsertOrder(ctx, order))

	staleBefore := time.Now().Add(-5 * time.Minute)
	claimed, ok, err := repo.ClaimTicketIssuance(ctx, order.ID, staleBefore)
	require.NoError(t, err)
	require.True(t, ok, "first claim")
	assert.Equal(t, 1, claimed.TicketAttempts)
	assert.Equal(t, models.TicketStatusIssuing, claimed.TicketStatus)

	_, ok, err = repo.ClaimTicketIssuance(ctx, order.ID, staleBefore)
	require.NoError(t, err)
	assert.False(t, ok, "second claim should be refused")

	issued, err := repo.CompleteTicketIssuance(ctx, order.ID, models.TicketInfo{TicketID: "T-1", URL: "https://tickets.example.com/T-1"})
	require.NoError(t, err)
	assert.Equal(t, models.TicketStatusIssued, issued.TicketStatus)
	assert.Equal(t, "T-1", issued.TicketRef)

	backlog, err := repo.ListTicketBacklog(ctx, 5, staleBefore, 100)
	require.NoError(t, err)
	for _, o := range backlog {
		assert.NotEqual(t, order.ID, o.ID, "issued order should not be in backlog")
	}
}

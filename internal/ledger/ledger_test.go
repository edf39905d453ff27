package ledger_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"busline/backend/internal/ledger"
	"busline/backend/internal/models"
	"busline/backend/internal/repository/memory"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newLedger(t *testing.T, seats int) (*ledger.Ledger, *memory.Store) {
	t.Helper()
	store := memory.New()
	store.AddRoute(models.Route{ID: "route-1", RouteCode: "HN-HP-01", TotalSeats: seats, IsActive: true})
	return ledger.New(store, nil), store
}

func assertInvariant(t *testing.T, l *ledger.Ledger) models.Route {
	t.Helper()
	route, err := l.Snapshot(context.Background(), "route-1")
	require.NoError(t, err, "snapshot")
	return route
}

func TestReserveAndRelease(t *testing.T) {
	ctx := context.Background()
	l, _ := newLedger(t, 2)

	require.NoError(t, l.Reserve(ctx, "route-1", "order-1", nil))
	seat := 2
	require.NoError(t, l.Reserve(ctx, "route-1", "order-2", &seat))
	route := assertInvariant(t, l)
	assert.Equal(t, 0, route.AvailableSeats)
	assert.Len(t, route.BookedSeats, 2)

	require.ErrorIs(t, l.Reserve(ctx, "route-1", "order-3", nil), models.ErrSeatsExhausted)

	released, err := l.Release(ctx, "route-1", "order-1")
	require.NoError(t, err)
	assert.True(t, released)
	released, err = l.Release(ctx, "route-1", "order-1")
	require.NoError(t, err)
	assert.False(t, released, "second release should be a no-op")

	route = assertInvariant(t, l)
	assert.Equal(t, 1, route.AvailableSeats)
}

func TestReserveSeatNumberRules(t *testing.T) {
	ctx := context.Background()
	l, _ := newLedger(t, 3)

	seat := 1
	require.NoError(t, l.Reserve(ctx, "route-1", "order-1", &seat))
	require.ErrorIs(t, l.Reserve(ctx, "route-1", "order-2", &seat), models.ErrSeatTaken)

	outOfRange := 4
	assert.True(t, models.IsValidation(l.Reserve(ctx, "route-1", "order-3", &outOfRange)))
	require.ErrorIs(t, l.Reserve(ctx, "missing", "order-4", nil), models.ErrRouteNotFound)
	assertInvariant(t, l)
}

func TestResetForCheckout(t *testing.T) {
	ctx := context.Background()
	l, _ := newLedger(t, 40)
	for i := 0; i < 3; i++ {
		require.NoError(t, l.Reserve(ctx, "route-1", fmt.Sprintf("order-%d", i), nil))
	}
	require.NoError(t, l.ResetForCheckout(ctx, "route-1"))

	route := assertInvariant(t, l)
	assert.Equal(t, 40, route.AvailableSeats)
	assert.Empty(t, route.BookedSeats)
}

func TestConcurrentReserveLastSeat(t *testing.T) {
	ctx := context.Background()
	l, _ := newLedger(t, 1)

	const workers = 32
	var wg sync.WaitGroup
	results := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results <- l.Reserve(ctx, "route-1", fmt.Sprintf("order-%d", i), nil)
		}(i)
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
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, success)
	assert.Equal(t, workers-1, exhausted)
	assert.Equal(t, 0, assertInvariant(t, l).AvailableSeats)
}

func TestAuditReportsViolations(t *testing.T) {
	store := memory.New()
	store.AddRoute(models.Route{ID: "ok", TotalSeats: 2, IsActive: true})
	store.AddRoute(models.Route{ID: "broken", TotalSeats: 5, AvailableSeats: 4, BookedSeats: []models.BookedSeat{}, IsActive: true})
	l := ledger.New(store, nil)

	violations, err := l.Audit(context.Background())
	require.NoError(t, err)
	require.Len(t, violations, 1)
	assert.Equal(t, "broken", violations[0].RouteID)
}

package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"busline/backend/internal/metrics"
	"busline/backend/internal/models"
)

// Inventory is the storage contract behind the ledger. ReserveSeat must be a single
// conditional decrement; LockRoute serializes route-wide work inside a transaction.
type Inventory interface {
	GetRoute(ctx context.Context, routeID string) (models.Route, error)
	ListRoutes(ctx context.Context, activeOnly bool) ([]models.Route, error)
	LockRoute(ctx context.Context, routeID string) error
	ReserveSeat(ctx context.Context, routeID, orderID string, seatNumber *int, at time.Time) error
	ReleaseSeat(ctx context.Context, routeID, orderID string) (bool, error)
	ResetRouteSeats(ctx context.Context, routeID string) error
}

// Ledger is the only mutator of route seat inventory.
type Ledger struct {
	inv    Inventory
	logger *slog.Logger
	now    func() time.Time
}

func New(inv Inventory, logger *slog.Logger) *Ledger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ledger{inv: inv, logger: logger, now: time.Now}
}

// WithClock replaces the booking timestamp source.
func (l *Ledger) WithClock(now func() time.Time) *Ledger {
	if now != nil {
		l.now = now
	}
	return l
}

func (l *Ledger) Route(ctx context.Context, routeID string) (models.Route, error) {
	return l.inv.GetRoute(ctx, routeID)
}

// Lock takes the route lock for the surrounding transaction.
func (l *Ledger) Lock(ctx context.Context, routeID string) error {
	return l.inv.LockRoute(ctx, routeID)
}

// Reserve books one seat for orderID. ErrSeatsExhausted is an expected outcome.
func (l *Ledger) Reserve(ctx context.Context, routeID, orderID string, seatNumber *int) error {
	if strings.TrimSpace(routeID) == "" {
		return models.NewValidationError("routeId", "is required")
	}
	if strings.TrimSpace(orderID) == "" {
		return models.NewValidationError("orderId", "is required")
	}
	if seatNumber != nil {
		route, err := l.inv.GetRoute(ctx, routeID)
		if err != nil {
			return err
		}
		if *seatNumber < 1 || *seatNumber > route.TotalSeats {
			return models.NewValidationError("seatNumber", fmt.Sprintf("must be between 1 and %d", route.TotalSeats))
		}
	}

	err := l.inv.ReserveSeat(ctx, routeID, orderID, seatNumber, l.now().UTC())
	switch {
	case err == nil:
		metrics.SeatOperations.WithLabelValues("reserve", "ok").Inc()
		l.logger.Debug("seat_reserve", "status", "ok", "route_id", routeID, "order_id", orderID)
	case errors.Is(err, models.ErrSeatsExhausted), errors.Is(err, models.ErrSeatTaken):
		metrics.SeatOperations.WithLabelValues("reserve", "rejected").Inc()
		l.logger.Info("seat_reserve", "status", "rejected", "route_id", routeID, "order_id", orderID, "reason", err.Error())
	default:
		metrics.SeatOperations.WithLabelValues("reserve", "error").Inc()
		l.logger.Warn("seat_reserve", "status", "error", "route_id", routeID, "order_id", orderID, "error", err)
	}
	return err
}

// Release frees the seat held by orderID. Releasing an order without a seat is a no-op.
func (l *Ledger) Release(ctx context.Context, routeID, orderID string) (bool, error) {
	released, err := l.inv.ReleaseSeat(ctx, routeID, orderID)
	if err != nil {
		metrics.SeatOperations.WithLabelValues("release", "error").Inc()
		l.logger.Warn("seat_release", "status", "error", "route_id", routeID, "order_id", orderID, "error", err)
		return false, err
	}
	result := "noop"
	if released {
		result = "ok"
	}
	metrics.SeatOperations.WithLabelValues("release", result).Inc()
	l.logger.Debug("seat_release", "status", result, "route_id", routeID, "order_id", orderID)
	return released, nil
}

// ResetForCheckout clears every booking of the route. Callers hold the route lock.
func (l *Ledger) ResetForCheckout(ctx context.Context, routeID string) error {
	if err := l.inv.ResetRouteSeats(ctx, routeID); err != nil {
		metrics.SeatOperations.WithLabelValues("reset", "error").Inc()
		return err
	}
	metrics.SeatOperations.WithLabelValues("reset", "ok").Inc()
	l.logger.Info("seat_reset", "status", "ok", "route_id", routeID)
	return nil
}

// Snapshot returns the route inventory and fails if its counters disagree.
func (l *Ledger) Snapshot(ctx context.Context, routeID string) (models.Route, error) {
	route, err := l.inv.GetRoute(ctx, routeID)
	if err != nil {
		return route, err
	}
	return route, CheckInvariant(route)
}

// Violation is a route whose counters disagree.
type Violation struct {
	RouteID string
	Err     error
}

// Audit checks the seat invariant on every active route.
func (l *Ledger) Audit(ctx context.Context) ([]Violation, error) {
	routes, err := l.inv.ListRoutes(ctx, true)
	if err != nil {
		return nil, err
	}
	var out []Violation
	for _, route := range routes {
		if err := CheckInvariant(route); err != nil {
			out = append(out, Violation{RouteID: route.ID, Err: err})
		}
	}
	return out, nil
}

// CheckInvariant verifies availableSeats + len(bookedSeats) == totalSeats.
func CheckInvariant(route models.Route) error {
	if route.AvailableSeats < 0 {
		return fmt.Errorf("route %s: negative available seats %d", route.ID, route.AvailableSeats)
	}
	if route.AvailableSeats+len(route.BookedSeats) != route.TotalSeats {
		return fmt.Errorf("route %s: available %d + booked %d != total %d", route.ID, route.AvailableSeats, len(route.BookedSeats), route.TotalSeats)
	}
	return nil
}

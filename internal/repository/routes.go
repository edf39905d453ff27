package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"busline/backend/internal/models"

	"github.com/jackc/pgx/v5"
	"github.com/samber/lo"
)

const routeColumns = `id, route_code, COALESCE(partner_id, ''), origin, destination, departure_time, duration,
	price, total_seats, available_seats, bus_type, license_plate, is_active, created_at`

// CreateRoute inserts a route with all of its seats available.
func (r *Repository) CreateRoute(ctx context.Context, route models.Route) (models.Route, error) {
	var partnerID interface{}
	if route.PartnerID != "" {
		partnerID = route.PartnerID
	}
	row := r.q(ctx).QueryRow(ctx, `
INSERT INTO routes (id, route_code, partner_id, origin, destination, departure_time, duration, price, total_seats, available_seats, bus_type, license_plate, is_active)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9, $10, $11, $12)
RETURNING `+routeColumns+`;`,
		route.ID,
		route.RouteCode,
		partnerID,
		route.From,
		route.To,
		route.DepartureTime,
		route.Duration,
		route.Price,
		route.TotalSeats,
		route.BusType,
		route.LicensePlate,
		route.IsActive,
	)
	out, err := scanRoute(row)
	if err != nil {
		return models.Route{}, err
	}
	out.BookedSeats = []models.BookedSeat{}
	return out, nil
}

func (r *Repository) GetRoute(ctx context.Context, routeID string) (models.Route, error) {
	q := r.q(ctx)
	route, err := scanRoute(q.QueryRow(ctx, `SELECT `+routeColumns+` FROM routes WHERE id = $1`, routeID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Route{}, models.ErrRouteNotFound
		}
		return models.Route{}, err
	}
	seats, err := r.bookedSeats(ctx, q, []string{routeID})
	if err != nil {
		return models.Route{}, err
	}
	route.BookedSeats = seats[routeID]
	if route.BookedSeats == nil {
		route.BookedSeats = []models.BookedSeat{}
	}
	return route, nil
}

func (r *Repository) ListRoutes(ctx context.Context, activeOnly bool) ([]models.Route, error) {
	q := r.q(ctx)
	rows, err := q.Query(ctx, `
SELECT `+routeColumns+`
FROM routes
WHERE (NOT $1 OR is_active)
ORDER BY id ASC;`, activeOnly)
	if err != nil {
		return nil, err
	}
	routes := make([]models.Route, 0)
	for rows.Next() {
		route, err := scanRoute(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		routes = append(routes, route)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	seats, err := r.bookedSeats(ctx, q, lo.Map(routes, func(route models.Route, _ int) string { return route.ID }))
	if err != nil {
		return nil, err
	}
	for i := range routes {
		routes[i].BookedSeats = seats[routes[i].ID]
		if routes[i].BookedSeats == nil {
			routes[i].BookedSeats = []models.BookedSeat{}
		}
	}
	return routes, nil
}

// LockRoute takes the route row lock for the surrounding transaction.
func (r *Repository) LockRoute(ctx context.Context, routeID string) error {
	var id string
	if err := r.q(ctx).QueryRow(ctx, `SELECT id FROM routes WHERE id = $1 FOR UPDATE`, routeID).Scan(&id); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.ErrRouteNotFound
		}
		return err
	}
	return nil
}

// ReserveSeat decrements available_seats only while it is positive and records the
// booking in the same transaction.
func (r *Repository) ReserveSeat(ctx context.Context, routeID, orderID string, seatNumber *int, at time.Time) error {
	return r.WithTx(ctx, func(ctx context.Context) error {
		q := r.q(ctx)
		cmd, err := q.Exec(ctx, `
UPDATE routes
SET available_seats = available_seats - 1
WHERE id = $1
	AND available_seats > 0;`, routeID)
		if err != nil {
			return err
		}
		if cmd.RowsAffected() == 0 {
			exists, err := routeExists(ctx, q, routeID)
			if err != nil {
				return err
			}
			if !exists {
				return models.ErrRouteNotFound
			}
			return models.ErrSeatsExhausted
		}
		if _, err := q.Exec(ctx, `
INSERT INTO booked_seats (route_id, order_id, seat_number, booked_at)
VALUES ($1, $2, $3, $4);`, routeID, orderID, nullIntPtr(seatNumber), at); err != nil {
			if isUniqueViolation(err, "booked_seats_route_seat_uniq") {
				return models.ErrSeatTaken
			}
			if isUniqueViolation(err, "") {
				return fmt.Errorf("order %s already holds a seat on route %s", orderID, routeID)
			}
			return err
		}
		return nil
	})
}

// ReleaseSeat removes the booking of orderID and gives the seat back when one existed.
func (r *Repository) ReleaseSeat(ctx context.Context, routeID, orderID string) (bool, error) {
	released := false
	err := r.WithTx(ctx, func(ctx context.Context) error {
		q := r.q(ctx)
		cmd, err := q.Exec(ctx, `DELETE FROM booked_seats WHERE route_id = $1 AND order_id = $2`, routeID, orderID)
		if err != nil {
			return err
		}
		if cmd.RowsAffected() == 0 {
			exists, err := routeExists(ctx, q, routeID)
			if err != nil {
				return err
			}
			if !exists {
				return models.ErrRouteNotFound
			}
			return nil
		}
		if _, err := q.Exec(ctx, `
UPDATE routes
SET available_seats = available_seats + 1
WHERE id = $1;`, routeID); err != nil {
			return err
		}
		released = true
		return nil
	})
	return released, err
}

func (r *Repository) ResetRouteSeats(ctx context.Context, routeID string) error {
	return r.WithTx(ctx, func(ctx context.Context) error {
		q := r.q(ctx)
		if _, err := q.Exec(ctx, `DELETE FROM booked_seats WHERE route_id = $1`, routeID); err != nil {
			return err
		}
		cmd, err := q.Exec(ctx, `UPDATE routes SET available_seats = total_seats WHERE id = $1`, routeID)
		if err != nil {
			return err
		}
		if cmd.RowsAffected() == 0 {
			return models.ErrRouteNotFound
		}
		return nil
	})
}

// PopularRoutes ranks routes by their non-cancelled orders.
func (r *Repository) PopularRoutes(ctx context.Context, limit int) ([]models.RouteStat, error) {
	rows, err := r.q(ctx).Query(ctx, `
SELECT r.id, r.route_code, r.origin, r.destination, r.departure_time, r.bus_type, r.license_plate, r.price,
	count(o.id), COALESCE(sum(o.total), 0)::bigint, COALESCE(avg(o.total), 0)::float8
FROM orders o
JOIN routes r ON r.id = o.route_id
WHERE o.status <> $1
GROUP BY r.id
ORDER BY count(o.id) DESC, r.id ASC
LIMIT $2;`, models.OrderStatusCancelled, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]models.RouteStat, 0)
	for rows.Next() {
		var st models.RouteStat
		if err := rows.Scan(
			&st.Route.ID,
			&st.Route.RouteCode,
			&st.Route.From,
			&st.Route.To,
			&st.Route.DepartureTime,
			&st.Route.BusType,
			&st.Route.LicensePlate,
			&st.Price,
			&st.OrderCount,
			&st.TotalRevenue,
			&st.AvgOrderValue,
		); err != nil {
			return nil, err
		}
		items = append(items, st)
	}
	return items, rows.Err()
}

func (r *Repository) bookedSeats(ctx context.Context, q queryRunner, routeIDs []string) (map[string][]models.BookedSeat, error) {
	if len(routeIDs) == 0 {
		return map[string][]models.BookedSeat{}, nil
	}
	rows, err := q.Query(ctx, `
SELECT route_id, order_id, seat_number, booked_at
FROM booked_seats
WHERE route_id = ANY($1)
ORDER BY booked_at ASC, order_id ASC;`, routeIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	type routeSeat struct {
		routeID string
		seat    models.BookedSeat
	}
	var all []routeSeat
	for rows.Next() {
		var item routeSeat
		if err := rows.Scan(&item.routeID, &item.seat.OrderID, &item.seat.SeatNumber, &item.seat.BookedAt); err != nil {
			return nil, err
		}
		all = append(all, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	grouped := lo.GroupBy(all, func(item routeSeat) string { return item.routeID })
	return lo.MapValues(grouped, func(items []routeSeat, _ string) []models.BookedSeat {
		return lo.Map(items, func(item routeSeat, _ int) models.BookedSeat { return item.seat })
	}), nil
}

func routeExists(ctx context.Context, q queryRunner, routeID string) (bool, error) {
	var exists bool
	err := q.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM routes WHERE id = $1)`, routeID).Scan(&exists)
	return exists, err
}

func scanRoute(row pgx.Row) (models.Route, error) {
	var out models.Route
	err := row.Scan(
		&out.ID,
		&out.RouteCode,
		&out.PartnerID,
		&out.From,
		&out.To,
		&out.DepartureTime,
		&out.Duration,
		&out.Price,
		&out.TotalSeats,
		&out.AvailableSeats,
		&out.BusType,
		&out.LicensePlate,
		&out.IsActive,
		&out.CreatedAt,
	)
	return out, err
}

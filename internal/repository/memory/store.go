package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"busline/backend/internal/models"

	"github.com/samber/lo"
)

type txKey struct{}

// Store keeps routes, orders and partners in process memory. One mutex guards
// everything; WithTx holds it for the whole callback and restores a snapshot on error.
type Store struct {
	mu       sync.Mutex
	routes   map[string]*models.Route
	orders   map[string]*models.Order
	partners map[string]models.PartnerContact
	now      func() time.Time
}

func New() *Store {
	return &Store{
		routes:   make(map[string]*models.Route),
		orders:   make(map[string]*models.Order),
		partners: make(map[string]models.PartnerContact),
		now:      time.Now,
	}
}

// SetClock replaces the timestamp source for UpdatedAt and claims.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// AddRoute seeds a route. BookedSeats and AvailableSeats are derived from TotalSeats when empty.
func (s *Store) AddRoute(route models.Route) models.Route {
	s.mu.Lock()
	defer s.mu.Unlock()
	if route.BookedSeats == nil {
		route.BookedSeats = []models.BookedSeat{}
		route.AvailableSeats = route.TotalSeats
	}
	if route.CreatedAt.IsZero() {
		route.CreatedAt = s.now().UTC()
	}
	stored := cloneRoute(route)
	s.routes[route.ID] = &stored
	return cloneRoute(stored)
}

func (s *Store) AddPartner(p models.PartnerContact) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.partners[p.ID] = p
}

func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if s.inTx(ctx) {
		return fn(ctx)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	routes, orders := s.snapshotLocked()
	if err := fn(context.WithValue(ctx, txKey{}, s)); err != nil {
		s.routes = routes
		s.orders = orders
		return err
	}
	return nil
}

func (s *Store) inTx(ctx context.Context) bool {
	owner, _ := ctx.Value(txKey{}).(*Store)
	return owner == s
}

func (s *Store) lock(ctx context.Context) func() {
	if s.inTx(ctx) {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

func (s *Store) snapshotLocked() (map[string]*models.Route, map[string]*models.Order) {
	routes := make(map[string]*models.Route, len(s.routes))
	for id, r := range s.routes {
		copied := cloneRoute(*r)
		routes[id] = &copied
	}
	orders := make(map[string]*models.Order, len(s.orders))
	for id, o := range s.orders {
		copied := *o
		orders[id] = &copied
	}
	return routes, orders
}

func (s *Store) GetRoute(ctx context.Context, routeID string) (models.Route, error) {
	defer s.lock(ctx)()
	r, ok := s.routes[routeID]
	if !ok {
		return models.Route{}, models.ErrRouteNotFound
	}
	return cloneRoute(*r), nil
}

func (s *Store) ListRoutes(ctx context.Context, activeOnly bool) ([]models.Route, error) {
	defer s.lock(ctx)()
	out := make([]models.Route, 0, len(s.routes))
	for _, r := range s.routes {
		if activeOnly && !r.IsActive {
			continue
		}
		out = append(out, cloneRoute(*r))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// LockRoute only checks existence; the store mutex already serializes transactions.
func (s *Store) LockRoute(ctx context.Context, routeID string) error {
	defer s.lock(ctx)()
	if _, ok := s.routes[routeID]; !ok {
		return models.ErrRouteNotFound
	}
	return nil
}

func (s *Store) ReserveSeat(ctx context.Context, routeID, orderID string, seatNumber *int, at time.Time) error {
	defer s.lock(ctx)()
	r, ok := s.routes[routeID]
	if !ok {
		return models.ErrRouteNotFound
	}
	for _, seat := range r.BookedSeats {
		if seat.OrderID == orderID {
			return fmt.Errorf("order %s already holds a seat on route %s", orderID, routeID)
		}
		if seatNumber != nil && seat.SeatNumber != nil && *seat.SeatNumber == *seatNumber {
			return models.ErrSeatTaken
		}
	}
	if r.AvailableSeats <= 0 {
		return models.ErrSeatsExhausted
	}
	booked := models.BookedSeat{OrderID: orderID, BookedAt: at}
	if seatNumber != nil {
		n := *seatNumber
		booked.SeatNumber = &n
	}
	r.BookedSeats = append(r.BookedSeats, booked)
	r.AvailableSeats--
	return nil
}

func (s *Store) ReleaseSeat(ctx context.Context, routeID, orderID string) (bool, error) {
	defer s.lock(ctx)()
	r, ok := s.routes[routeID]
	if !ok {
		return false, models.ErrRouteNotFound
	}
	_, idx, found := lo.FindIndexOf(r.BookedSeats, func(seat models.BookedSeat) bool {
		return seat.OrderID == orderID
	})
	if !found {
		return false, nil
	}
	r.BookedSeats = append(r.BookedSeats[:idx], r.BookedSeats[idx+1:]...)
	r.AvailableSeats++
	return true, nil
}

func (s *Store) ResetRouteSeats(ctx context.Context, routeID string) error {
	defer s.lock(ctx)()
	r, ok := s.routes[routeID]
	if !ok {
		return models.ErrRouteNotFound
	}
	r.BookedSeats = []models.BookedSeat{}
	r.AvailableSeats = r.TotalSeats
	return nil
}

func (s *Store) InsertOrder(ctx context.Context, order models.Order) error {
	defer s.lock(ctx)()
	if _, exists := s.orders[order.ID]; exists {
		return fmt.Errorf("order %s already exists", order.ID)
	}
	copied := order
	s.orders[order.ID] = &copied
	return nil
}

func (s *Store) GetOrder(ctx context.Context, id string) (models.Order, error) {
	defer s.lock(ctx)()
	o, ok := s.orders[id]
	if !ok {
		return models.Order{}, models.ErrOrderNotFound
	}
	return *o, nil
}

// UpdateOrder applies patch only when the stored status is one of from.
func (s *Store) UpdateOrder(ctx context.Context, id string, from []string, patch models.OrderPatch) (models.Order, error) {
	defer s.lock(ctx)()
	o, ok := s.orders[id]
	if !ok {
		return models.Order{}, models.ErrOrderNotFound
	}
	if !lo.Contains(from, o.Status) {
		return models.Order{}, &models.TransitionError{OrderID: id, Current: o.Status, Want: from}
	}
	patch.Apply(o)
	o.UpdatedAt = s.now().UTC()
	return *o, nil
}

func (s *Store) ListOrdersByRoute(ctx context.Context, routeID string) ([]models.Order, error) {
	defer s.lock(ctx)()
	out := s.filterLocked(func(o *models.Order) bool { return o.RouteID == routeID })
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// LockRouteOrders is ListOrdersByRoute; the store mutex already serializes writers.
func (s *Store) LockRouteOrders(ctx context.Context, routeID string) ([]models.Order, error) {
	return s.ListOrdersByRoute(ctx, routeID)
}

func (s *Store) ListOrdersByUser(ctx context.Context, userID string) ([]models.Order, error) {
	defer s.lock(ctx)()
	out := s.filterLocked(func(o *models.Order) bool { return o.UserID == userID })
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// SearchOrdersByPhone matches orders whose phone digits contain digits as a subsequence.
func (s *Store) SearchOrdersByPhone(ctx context.Context, digits string, limit int) ([]models.Order, error) {
	defer s.lock(ctx)()
	out := s.filterLocked(func(o *models.Order) bool {
		return isSubsequence(digits, onlyDigits(o.Phone))
	})
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) PopularRoutes(ctx context.Context, limit int) ([]models.RouteStat, error) {
	defer s.lock(ctx)()
	stats := make(map[string]*models.RouteStat)
	for _, o := range s.orders {
		if o.Status == models.OrderStatusCancelled {
			continue
		}
		r, ok := s.routes[o.RouteID]
		if !ok {
			continue
		}
		st, ok := stats[o.RouteID]
		if !ok {
			st = &models.RouteStat{Route: r.Summary(), Price: r.Price}
			stats[o.RouteID] = st
		}
		st.OrderCount++
		st.TotalRevenue += o.Total
	}
	out := make([]models.RouteStat, 0, len(stats))
	for _, st := range stats {
		st.AvgOrderValue = float64(st.TotalRevenue) / float64(st.OrderCount)
		out = append(out, *st)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].OrderCount != out[j].OrderCount {
			return out[i].OrderCount > out[j].OrderCount
		}
		return out[i].Route.ID < out[j].Route.ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ClaimTicketIssuance marks the order as issuing when no live claim exists.
func (s *Store) ClaimTicketIssuance(ctx context.Context, orderID string, staleBefore time.Time) (models.Order, bool, error) {
	defer s.lock(ctx)()
	o, ok := s.orders[orderID]
	if !ok {
		return models.Order{}, false, models.ErrOrderNotFound
	}
	if !ticketEligibleStatus(o.Status) {
		return *o, false, nil
	}
	switch o.TicketStatus {
	case models.TicketStatusNone, models.TicketStatusFailed, "":
	case models.TicketStatusIssuing:
		if o.TicketClaimedAt != nil && !o.TicketClaimedAt.Before(staleBefore) {
			return *o, false, nil
		}
	default:
		return *o, false, nil
	}
	now := s.now().UTC()
	o.TicketStatus = models.TicketStatusIssuing
	o.TicketAttempts++
	o.TicketClaimedAt = &now
	o.UpdatedAt = now
	return *o, true, nil
}

func (s *Store) CompleteTicketIssuance(ctx context.Context, orderID string, ticket models.TicketInfo) (models.Order, error) {
	defer s.lock(ctx)()
	o, ok := s.orders[orderID]
	if !ok {
		return models.Order{}, models.ErrOrderNotFound
	}
	now := s.now().UTC()
	o.TicketStatus = models.TicketStatusIssued
	o.TicketRef = ticket.TicketID
	o.TicketURL = ticket.URL
	o.TicketError = ""
	o.TicketIssuedAt = &now
	o.UpdatedAt = now
	return *o, nil
}

func (s *Store) FailTicketIssuance(ctx context.Context, orderID, reason string) error {
	defer s.lock(ctx)()
	o, ok := s.orders[orderID]
	if !ok {
		return models.ErrOrderNotFound
	}
	o.TicketStatus = models.TicketStatusFailed
	o.TicketError = reason
	o.UpdatedAt = s.now().UTC()
	return nil
}

// ListTicketBacklog returns orders whose ticket still needs issuing.
func (s *Store) ListTicketBacklog(ctx context.Context, maxAttempts int, staleBefore time.Time, limit int) ([]models.Order, error) {
	defer s.lock(ctx)()
	out := s.filterLocked(func(o *models.Order) bool {
		if !ticketEligibleStatus(o.Status) || o.TicketAttempts >= maxAttempts {
			return false
		}
		switch o.TicketStatus {
		case models.TicketStatusNone, models.TicketStatusFailed, "":
			return true
		case models.TicketStatusIssuing:
			return o.TicketClaimedAt == nil || o.TicketClaimedAt.Before(staleBefore)
		}
		return false
	})
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) PartnerContact(ctx context.Context, partnerID string) (models.PartnerContact, error) {
	defer s.lock(ctx)()
	p, ok := s.partners[partnerID]
	if !ok {
		return models.PartnerContact{}, fmt.Errorf("partner %s not found", partnerID)
	}
	return p, nil
}

func (s *Store) filterLocked(keep func(*models.Order) bool) []models.Order {
	out := make([]models.Order, 0)
	for _, o := range s.orders {
		if keep(o) {
			out = append(out, *o)
		}
	}
	return out
}

func ticketEligibleStatus(status string) bool {
	switch status {
	case models.OrderStatusConfirmed, models.OrderStatusPaid, models.OrderStatusPrepaid:
		return true
	}
	return false
}

func cloneRoute(r models.Route) models.Route {
	seats := make([]models.BookedSeat, len(r.BookedSeats))
	copy(seats, r.BookedSeats)
	r.BookedSeats = seats
	return r
}

func onlyDigits(s string) string {
	var b strings.Builder
	for _, c := range s {
		if c >= '0' && c <= '9' {
			b.WriteRune(c)
		}
	}
	return b.String()
}

func isSubsequence(needle, haystack string) bool {
	if needle == "" {
		return false
	}
	i := 0
	for j := 0; j < len(haystack) && i < len(needle); j++ {
		if haystack[j] == needle[i] {
			i++
		}
	}
	return i == len(needle)
}

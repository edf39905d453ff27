package lifecycle

import (
	"context"
	"strings"

	"busline/backend/internal/ledger"
	"busline/backend/internal/models"
)

const (
	minPhoneDigits     = 3
	phoneSearchLimit   = 50
	defaultPopularSize = 4
	maxPopularSize     = 50
)

func (m *Manager) GetOrder(ctx context.Context, orderID string) (models.Order, error) {
	return m.store.GetOrder(ctx, orderID)
}

// ListRouteOrders returns the orders of a route, oldest first.
func (m *Manager) ListRouteOrders(ctx context.Context, routeID string) ([]models.Order, error) {
	if _, err := m.ledger.Route(ctx, routeID); err != nil {
		return nil, err
	}
	return m.store.ListOrdersByRoute(ctx, routeID)
}

// ListUserOrders returns the caller's orders enriched with route and partner data.
// Enrichment failures are reported as warnings.
func (m *Manager) ListUserOrders(ctx context.Context, userID string) ([]models.UserOrder, []string, error) {
	orders, err := m.store.ListOrdersByUser(ctx, userID)
	if err != nil {
		return nil, nil, err
	}
	routes := make(map[string]*models.RouteSummary)
	partners := make(map[string]*models.PartnerContact)
	var warnings []string

	out := make([]models.UserOrder, 0, len(orders))
	for _, o := range orders {
		item := models.UserOrder{Order: o}
		summary, seen := routes[o.RouteID]
		if !seen {
			if route, err := m.ledger.Route(ctx, o.RouteID); err == nil {
				s := route.Summary()
				summary = &s
			} else {
				m.logger.Warn("list_user_orders", "status", "route_lookup_failed", "route_id", o.RouteID, "error", err)
				warnings = append(warnings, "route "+o.RouteID+" unavailable")
			}
			routes[o.RouteID] = summary
		}
		item.Route = summary

		if m.partners != nil && o.PartnerID != "" {
			contact, seen := partners[o.PartnerID]
			if !seen {
				if p, err := m.partners.PartnerContact(ctx, o.PartnerID); err == nil {
					contact = &p
				} else {
					m.logger.Warn("list_user_orders", "status", "partner_lookup_failed", "partner_id", o.PartnerID, "error", err)
					warnings = append(warnings, "partner "+o.PartnerID+" unavailable")
				}
				partners[o.PartnerID] = contact
			}
			item.Partner = contact
		}
		out = append(out, item)
	}
	return out, warnings, nil
}

// FindOrdersByPhone matches orders whose phone digits contain the query digits in order.
func (m *Manager) FindOrdersByPhone(ctx context.Context, phone string) ([]models.Order, error) {
	digits := onlyDigits(phone)
	if len(digits) < minPhoneDigits {
		return nil, models.NewValidationError("phone", "must contain at least 3 digits")
	}
	return m.store.SearchOrdersByPhone(ctx, digits, phoneSearchLimit)
}

// PopularRoutes ranks routes by their non-cancelled orders.
func (m *Manager) PopularRoutes(ctx context.Context, limit int) ([]models.RouteStat, error) {
	if limit <= 0 {
		limit = defaultPopularSize
	}
	if limit > maxPopularSize {
		limit = maxPopularSize
	}
	return m.store.PopularRoutes(ctx, limit)
}

// RouteInventory returns the seat inventory of a route. An invariant violation is
// logged and the inventory still returned.
func (m *Manager) RouteInventory(ctx context.Context, routeID string) (models.Route, error) {
	route, err := m.ledger.Route(ctx, routeID)
	if err != nil {
		return models.Route{}, err
	}
	if err := ledger.CheckInvariant(route); err != nil {
		m.logger.Error("route_inventory", "status", "invariant_violation", "route_id", routeID, "error", err)
	}
	return route, nil
}

// AuditInventory checks the seat invariant of every active route.
func (m *Manager) AuditInventory(ctx context.Context) ([]ledger.Violation, error) {
	violations, err := m.ledger.Audit(ctx)
	if err != nil {
		return nil, err
	}
	for _, v := range violations {
		m.logger.Error("inventory_audit", "status", "violation", "route_id", v.RouteID, "error", v.Err)
	}
	return violations, nil
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

package handlers

import (
	"context"
	"net"
	"net/http"
	"strings"

	"busline/backend/internal/auth"
	authmw "busline/backend/internal/http/middleware"
	"busline/backend/internal/models"
)

type caller struct {
	userID    string
	role      string
	partnerID string
}

func callerFromContext(ctx context.Context) (caller, bool) {
	userID, ok := authmw.UserIDFromContext(ctx)
	if !ok {
		return caller{}, false
	}
	role, _ := authmw.RoleFromContext(ctx)
	partnerID, _ := authmw.PartnerIDFromContext(ctx)
	return caller{userID: userID, role: role, partnerID: partnerID}, true
}

// manages reports whether the caller operates the given partner's routes.
// A partner token without a partner id is not scoped to one operator.
func (c caller) manages(partnerID string) bool {
	switch c.role {
	case auth.RoleAdmin:
		return true
	case auth.RolePartner:
		return c.partnerID == "" || c.partnerID == partnerID
	default:
		return false
	}
}

func (c caller) canSee(order models.Order) bool {
	return order.UserID == c.userID || c.manages(order.PartnerID)
}

// loadOrder returns the order when the caller may see it (or manage it when manage is set).
// Orders outside the caller's reach are reported as missing.
func (h *Handler) loadOrder(ctx context.Context, c caller, orderID string, manage bool) (models.Order, error) {
	order, err := h.orders.GetOrder(ctx, orderID)
	if err != nil {
		return order, err
	}
	allowed := c.canSee(order)
	if manage {
		allowed = c.manages(order.PartnerID)
	}
	if !allowed {
		return models.Order{}, models.ErrOrderNotFound
	}
	return order, nil
}

func (h *Handler) loadRoute(ctx context.Context, c caller, routeID string) (models.Route, error) {
	route, err := h.orders.RouteInventory(ctx, routeID)
	if err != nil {
		return route, err
	}
	if !c.manages(route.PartnerID) {
		return models.Route{}, models.ErrRouteNotFound
	}
	return route, nil
}

func clientIP(r *http.Request) string {
	addr := strings.TrimSpace(r.RemoteAddr)
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}

package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"busline/backend/internal/models"

	"github.com/go-chi/chi/v5"
)

type popularRoutesResponse struct {
	Items []models.RouteStat `json:"items"`
}

type routeOrdersResponse struct {
	RouteID string         `json:"routeId"`
	Items   []models.Order `json:"items"`
	Total   int            `json:"total"`
}

func (h *Handler) PopularRoutes(w http.ResponseWriter, r *http.Request) {
	logger := h.loggerForRequest(r)
	limit := 0
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = parsed
	}
	ctx, cancel := h.withTimeout(r.Context())
	defer cancel()
	items, err := h.orders.PopularRoutes(ctx, limit)
	if err != nil {
		h.handleLifecycleError(logger, w, "popular_routes", err)
		return
	}
	if items == nil {
		items = []models.RouteStat{}
	}
	writeJSON(w, http.StatusOK, popularRoutesResponse{Items: items})
}

func (h *Handler) ListRouteOrders(w http.ResponseWriter, r *http.Request) {
	logger := h.loggerForRequest(r)
	c, ok := callerFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	ctx, cancel := h.withTimeout(r.Context())
	defer cancel()
	route, err := h.loadRoute(ctx, c, chi.URLParam(r, "id"))
	if err != nil {
		h.handleLifecycleError(logger, w, "list_route_orders", err)
		return
	}
	items, err := h.orders.ListRouteOrders(ctx, route.ID)
	if err != nil {
		h.handleLifecycleError(logger, w, "list_route_orders", err)
		return
	}
	if items == nil {
		items = []models.Order{}
	}
	writeJSON(w, http.StatusOK, routeOrdersResponse{RouteID: route.ID, Items: items, Total: len(items)})
}

func (h *Handler) RouteInventory(w http.ResponseWriter, r *http.Request) {
	logger := h.loggerForRequest(r)
	c, ok := callerFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	ctx, cancel := h.withTimeout(r.Context())
	defer cancel()
	route, err := h.loadRoute(ctx, c, chi.URLParam(r, "id"))
	if err != nil {
		h.handleLifecycleError(logger, w, "route_inventory", err)
		return
	}
	writeJSON(w, http.StatusOK, route)
}

func (h *Handler) CheckoutRoute(w http.ResponseWriter, r *http.Request) {
	logger := h.loggerForRequest(r)
	c, ok := callerFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	ctx, cancel := h.withTimeout(r.Context())
	defer cancel()
	route, err := h.loadRoute(ctx, c, chi.URLParam(r, "id"))
	if err != nil {
		h.handleLifecycleError(logger, w, "checkout_route", err)
		return
	}
	res, err := h.orders.CheckoutRoute(ctx, route.ID)
	if err != nil {
		h.handleLifecycleError(logger, w, "checkout_route", err)
		return
	}
	logger.Info("checkout_route", "status", "ok", "route_id", route.ID, "finished", len(res.Finished), "cancelled", len(res.Cancelled))
	writeJSON(w, http.StatusOK, res)
}

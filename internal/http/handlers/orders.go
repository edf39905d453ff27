package handlers

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"busline/backend/internal/lifecycle"
	"busline/backend/internal/models"

	"github.com/go-chi/chi/v5"
	"github.com/samber/lo"
)

type createOrderRequest struct {
	RouteID       string `json:"routeId"`
	SeatNumber    *int   `json:"seatNumber"`
	FullName      string `json:"fullName"`
	Phone         string `json:"phone"`
	Email         string `json:"email"`
	DateOfBirth   string `json:"dateOfBirth"`
	Gender        string `json:"gender"`
	PaymentMethod string `json:"paymentMethod"`
	BasePrice     int64  `json:"basePrice"`
	Fees          int64  `json:"fees"`
}

type declineOrderRequest struct {
	Reason string `json:"reason"`
}

type listOrdersResponse struct {
	Items []models.Order `json:"items"`
	Total int            `json:"total"`
}

type userOrdersResponse struct {
	Items    []models.UserOrder `json:"items"`
	Total    int                `json:"total"`
	Warnings []string           `json:"warnings,omitempty"`
}

func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	logger := h.loggerForRequest(r)
	c, ok := callerFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req createOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logger.Warn("create_order", "status", "invalid_json")
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	dob, err := parseDate(req.DateOfBirth)
	if err != nil {
		writeError(w, http.StatusBadRequest, "dateOfBirth: must be YYYY-MM-DD")
		return
	}

	ctx, cancel := h.withTimeout(r.Context())
	defer cancel()
	order, err := h.orders.CreateOrder(ctx, lifecycle.CreateOrderInput{
		RouteID:       strings.TrimSpace(req.RouteID),
		UserID:        c.userID,
		SeatNumber:    req.SeatNumber,
		FullName:      req.FullName,
		Phone:         req.Phone,
		Email:         req.Email,
		DateOfBirth:   dob,
		Gender:        req.Gender,
		PaymentMethod: req.PaymentMethod,
		BasePrice:     req.BasePrice,
		Fees:          req.Fees,
	})
	if err != nil {
		h.handleLifecycleError(logger, w, "create_order", err)
		return
	}
	logger.Info("create_order", "status", "ok", "order_id", order.ID, "route_id", order.RouteID)
	writeJSON(w, http.StatusCreated, order)
}

func (h *Handler) ListMyOrders(w http.ResponseWriter, r *http.Request) {
	logger := h.loggerForRequest(r)
	c, ok := callerFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	ctx, cancel := h.withTimeout(r.Context())
	defer cancel()
	items, warnings, err := h.orders.ListUserOrders(ctx, c.userID)
	if err != nil {
		h.handleLifecycleError(logger, w, "list_my_orders", err)
		return
	}
	writeJSON(w, http.StatusOK, userOrdersResponse{Items: items, Total: len(items), Warnings: warnings})
}

// SearchOrders finds orders by phone. Purchasers only see their own matches.
func (h *Handler) SearchOrders(w http.ResponseWriter, r *http.Request) {
	logger := h.loggerForRequest(r)
	c, ok := callerFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	ctx, cancel := h.withTimeout(r.Context())
	defer cancel()
	items, err := h.orders.FindOrdersByPhone(ctx, r.URL.Query().Get("phone"))
	if err != nil {
		h.handleLifecycleError(logger, w, "search_orders", err)
		return
	}
	items = lo.Filter(items, func(o models.Order, _ int) bool { return c.canSee(o) })
	writeJSON(w, http.StatusOK, listOrdersResponse{Items: items, Total: len(items)})
}

func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	logger := h.loggerForRequest(r)
	c, ok := callerFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	ctx, cancel := h.withTimeout(r.Context())
	defer cancel()
	order, err := h.loadOrder(ctx, c, chi.URLParam(r, "id"), false)
	if err != nil {
		h.handleLifecycleError(logger, w, "get_order", err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

func (h *Handler) AcceptOrder(w http.ResponseWriter, r *http.Request) {
	logger := h.loggerForRequest(r)
	c, ok := callerFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	ctx, cancel := h.withTimeout(r.Context())
	defer cancel()
	order, err := h.loadOrder(ctx, c, chi.URLParam(r, "id"), true)
	if err != nil {
		h.handleLifecycleError(logger, w, "accept_order", err)
		return
	}
	res, err := h.orders.Accept(ctx, order.ID)
	if err != nil {
		h.handleLifecycleError(logger, w, "accept_order", err)
		return
	}
	if res.Warning != "" {
		logger.Warn("accept_order", "status", "ticket_pending", "order_id", order.ID, "warning", res.Warning)
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) DeclineOrder(w http.ResponseWriter, r *http.Request) {
	logger := h.loggerForRequest(r)
	c, ok := callerFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	var req declineOrderRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid json")
			return
		}
	}
	ctx, cancel := h.withTimeout(r.Context())
	defer cancel()
	order, err := h.loadOrder(ctx, c, chi.URLParam(r, "id"), true)
	if err != nil {
		h.handleLifecycleError(logger, w, "decline_order", err)
		return
	}
	declined, err := h.orders.Decline(ctx, order.ID, strings.TrimSpace(req.Reason))
	if err != nil {
		h.handleLifecycleError(logger, w, "decline_order", err)
		return
	}
	writeJSON(w, http.StatusOK, declined)
}

func (h *Handler) SetPrepaid(w http.ResponseWriter, r *http.Request) {
	logger := h.loggerForRequest(r)
	c, ok := callerFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	ctx, cancel := h.withTimeout(r.Context())
	defer cancel()
	order, err := h.loadOrder(ctx, c, chi.URLParam(r, "id"), true)
	if err != nil {
		h.handleLifecycleError(logger, w, "set_prepaid", err)
		return
	}
	prepaid, err := h.orders.SetPrepaid(ctx, order.ID)
	if err != nil {
		h.handleLifecycleError(logger, w, "set_prepaid", err)
		return
	}
	writeJSON(w, http.StatusOK, prepaid)
}

func parseDate(raw string) (*time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	if t, err := time.Parse("2006-01-02", raw); err == nil {
		return &t, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, err
	}
	t = t.UTC()
	return &t, nil
}

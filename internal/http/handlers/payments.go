package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"busline/backend/internal/lifecycle"
	"busline/backend/internal/models"

	"github.com/go-chi/chi/v5"
)

const maxCallbackBody = 64 << 10

type paymentRequest struct {
	Amount        int64  `json:"amount"`
	OrderInfo     string `json:"orderInfo"`
	BankCode      string `json:"bankCode"`
	Locale        string `json:"locale"`
	ExpiryMinutes int    `json:"expiryMinutes"`
}

// ipnResponse is the acknowledgement body the gateway expects from the IPN endpoint.
type ipnResponse struct {
	RspCode string `json:"RspCode"`
	Message string `json:"Message"`
}

func (h *Handler) CreateVNPayPayment(w http.ResponseWriter, r *http.Request) {
	logger := h.loggerForRequest(r)
	req, c, ok := h.preparePayment(w, r, "create_vnpay_payment")
	if !ok {
		return
	}
	ctx, cancel := h.withTimeout(r.Context())
	defer cancel()
	order, err := h.loadOrder(ctx, c, chi.URLParam(r, "id"), false)
	if err != nil {
		h.handleLifecycleError(logger, w, "create_vnpay_payment", err)
		return
	}
	res, err := h.orders.CreatePaymentURL(ctx, lifecycle.PaymentURLInput{
		OrderID:   order.ID,
		Amount:    req.Amount,
		OrderInfo: req.OrderInfo,
		BankCode:  req.BankCode,
		Locale:    req.Locale,
		ClientIP:  clientIP(r),
	})
	if err != nil {
		h.handleLifecycleError(logger, w, "create_vnpay_payment", err)
		return
	}
	logger.Info("create_vnpay_payment", "status", "ok", "order_id", order.ID)
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) CreateVNPayQR(w http.ResponseWriter, r *http.Request) {
	logger := h.loggerForRequest(r)
	req, c, ok := h.preparePayment(w, r, "create_vnpay_qr")
	if !ok {
		return
	}
	ctx, cancel := h.withTimeout(r.Context())
	defer cancel()
	order, err := h.loadOrder(ctx, c, chi.URLParam(r, "id"), false)
	if err != nil {
		h.handleLifecycleError(logger, w, "create_vnpay_qr", err)
		return
	}
	res, err := h.orders.CreateQRSession(ctx, lifecycle.QRSessionInput{
		OrderID:       order.ID,
		Amount:        req.Amount,
		OrderInfo:     req.OrderInfo,
		BankCode:      req.BankCode,
		Locale:        req.Locale,
		ExpiryMinutes: req.ExpiryMinutes,
		ClientIP:      clientIP(r),
	})
	if err != nil {
		h.handleLifecycleError(logger, w, "create_vnpay_qr", err)
		return
	}
	logger.Info("create_vnpay_qr", "status", "ok", "order_id", order.ID, "expires_at", res.ExpiresAt)
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) VNPayQRStatus(w http.ResponseWriter, r *http.Request) {
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
		h.handleLifecycleError(logger, w, "vnpay_qr_status", err)
		return
	}
	report, err := h.orders.CheckQRStatus(ctx, order.ID)
	if err != nil {
		h.handleLifecycleError(logger, w, "vnpay_qr_status", err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// preparePayment authenticates, throttles and decodes a payment creation request.
func (h *Handler) preparePayment(w http.ResponseWriter, r *http.Request, action string) (paymentRequest, caller, bool) {
	var req paymentRequest
	c, ok := callerFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return req, c, false
	}
	if !h.paymentLimiter.Allow(clientIP(r)) {
		h.loggerForRequest(r).Warn(action, "status", "rate_limited", "ip", clientIP(r))
		writeError(w, http.StatusTooManyRequests, "too many requests")
		return req, c, false
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return req, c, false
	}
	return req, c, true
}

// VNPayReturn handles the purchaser's browser coming back from the gateway.
func (h *Handler) VNPayReturn(w http.ResponseWriter, r *http.Request) {
	logger := h.loggerForRequest(r)
	ctx, cancel := h.withTimeout(r.Context())
	defer cancel()
	res, err := h.orders.HandlePaymentReturn(ctx, queryParams(r))
	h.writeCallbackResult(logger, w, "vnpay_return", res, err)
}

// VNPayIPN acknowledges server-to-server payment notifications in the gateway's format.
func (h *Handler) VNPayIPN(w http.ResponseWriter, r *http.Request) {
	logger := h.loggerForRequest(r)
	ctx, cancel := h.withTimeout(r.Context())
	defer cancel()
	res, err := h.orders.HandlePaymentReturn(ctx, queryParams(r))
	ack := ipnAck(res, err)
	switch ack.RspCode {
	case "00", "02":
		logger.Info("vnpay_ipn", "status", "ok", "rsp_code", ack.RspCode, "order_id", res.Order.ID)
	case "99":
		logger.Error("vnpay_ipn", "status", "error", "rsp_code", ack.RspCode, "error", err)
	default:
		logger.Warn("vnpay_ipn", "status", "rejected", "rsp_code", ack.RspCode, "error", err)
	}
	writeJSON(w, http.StatusOK, ack)
}

// VerifyVNPayQR processes the QR flow callback.
func (h *Handler) VerifyVNPayQR(w http.ResponseWriter, r *http.Request) {
	logger := h.loggerForRequest(r)
	params, err := callbackParams(r)
	if err != nil {
		logger.Warn("verify_vnpay_qr", "status", "invalid_params", "error", err)
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ctx, cancel := h.withTimeout(r.Context())
	defer cancel()
	res, err := h.orders.VerifyQRPayment(ctx, params)
	h.writeCallbackResult(logger, w, "verify_vnpay_qr", res, err)
}

func (h *Handler) writeCallbackResult(logger interface {
	Error(string, ...any)
	Warn(string, ...any)
}, w http.ResponseWriter, action string, res lifecycle.CallbackResult, err error) {
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, res)
	case errors.Is(err, models.ErrGatewayBusinessFailure):
		writeJSON(w, http.StatusOK, res)
	default:
		h.handleLifecycleError(logger, w, action, err)
	}
}

func ipnAck(res lifecycle.CallbackResult, err error) ipnResponse {
	switch {
	case err == nil && res.Duplicate:
		return ipnResponse{RspCode: "02", Message: "Order already confirmed"}
	case err == nil, errors.Is(err, models.ErrGatewayBusinessFailure):
		return ipnResponse{RspCode: "00", Message: "Confirm Success"}
	case errors.Is(err, models.ErrGatewaySignatureInvalid):
		return ipnResponse{RspCode: "97", Message: "Invalid signature"}
	case errors.Is(err, models.ErrOrderNotFound):
		return ipnResponse{RspCode: "01", Message: "Order not found"}
	case errors.Is(err, models.ErrAmountMismatch):
		return ipnResponse{RspCode: "04", Message: "Invalid amount"}
	case errors.Is(err, models.ErrInvalidTransition):
		return ipnResponse{RspCode: "02", Message: "Order already confirmed"}
	default:
		return ipnResponse{RspCode: "99", Message: "Unknown error"}
	}
}

func queryParams(r *http.Request) map[string]string {
	params := make(map[string]string)
	for key, values := range r.URL.Query() {
		if len(values) > 0 {
			params[key] = values[0]
		}
	}
	return params
}

// callbackParams collects gateway fields from the query string, a vnp_Params JSON
// query parameter, or a POST body (JSON object, optionally wrapped in vnp_Params, or form).
func callbackParams(r *http.Request) (map[string]string, error) {
	params := queryParams(r)
	if raw, ok := params["vnp_Params"]; ok {
		delete(params, "vnp_Params")
		if err := mergeJSONParams(params, []byte(raw)); err != nil {
			return nil, err
		}
	}
	if r.Method != http.MethodPost || r.Body == nil {
		return params, nil
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxCallbackBody))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if len(strings.TrimSpace(string(body))) == 0 {
		return params, nil
	}
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "application/x-www-form-urlencoded" {
		values, err := parseForm(body)
		if err != nil {
			return nil, err
		}
		for key, value := range values {
			params[key] = value
		}
		return params, nil
	}
	if err := mergeJSONParams(params, body); err != nil {
		return nil, err
	}
	return params, nil
}

func mergeJSONParams(dst map[string]string, raw []byte) error {
	decoder := json.NewDecoder(strings.NewReader(string(raw)))
	decoder.UseNumber()
	var payload map[string]any
	if err := decoder.Decode(&payload); err != nil {
		return errors.New("invalid vnp_Params")
	}
	if nested, ok := payload["vnp_Params"].(map[string]any); ok {
		payload = nested
	}
	for key, value := range payload {
		switch v := value.(type) {
		case string:
			dst[key] = v
		case json.Number:
			dst[key] = v.String()
		case bool:
			dst[key] = strconv.FormatBool(v)
		case nil:
			dst[key] = ""
		default:
			return fmt.Errorf("invalid vnp_Params: %s must be a scalar", key)
		}
	}
	return nil
}

func parseForm(body []byte) (map[string]string, error) {
	values, err := url.ParseQuery(string(body))
	if err != nil {
		return nil, errors.New("invalid form body")
	}
	out := make(map[string]string, len(values))
	for key, vals := range values {
		if len(vals) > 0 {
			out[key] = vals[0]
		}
	}
	return out, nil
}

package lifecycle

import (
	"context"
	"fmt"
	"strings"
	"time"

	"busline/backend/internal/metrics"
	"busline/backend/internal/models"
	"busline/backend/internal/qrsession"
	"busline/backend/internal/vnpay"

	"github.com/samber/lo"
)

const (
	flowRedirect = "redirect"
	flowQR       = "qr"
)

// PaymentURLInput asks for a redirect payment of Amount VND for an order.
type PaymentURLInput struct {
	OrderID   string `json:"orderId" validate:"required"`
	Amount    int64  `json:"amount"`
	OrderInfo string `json:"orderInfo,omitempty" validate:"max=255"`
	BankCode  string `json:"bankCode,omitempty" validate:"omitempty,alphanum,max=20"`
	Locale    string `json:"locale,omitempty" validate:"omitempty,oneof=vn en"`
	ClientIP  string `json:"-"`
}

type PaymentURLResult struct {
	OrderID   string    `json:"orderId"`
	Amount    int64     `json:"amount"`
	URL       string    `json:"paymentUrl"`
	CreatedAt time.Time `json:"createdAt"`
}

// CreatePaymentURL signs a redirect payment request for a confirmed order.
func (m *Manager) CreatePaymentURL(ctx context.Context, in PaymentURLInput) (PaymentURLResult, error) {
	if err := m.validateInput(in); err != nil {
		return PaymentURLResult{}, err
	}
	order, err := m.payableOrder(ctx, in.OrderID, in.Amount)
	if err != nil {
		return PaymentURLResult{}, err
	}

	signed, err := m.gateway.CreateRedirectPaymentRequest(vnpay.RedirectRequest{
		OrderID:   order.ID,
		Amount:    order.Total,
		OrderInfo: in.OrderInfo,
		ClientIP:  in.ClientIP,
		Locale:    in.Locale,
		BankCode:  in.BankCode,
	})
	if err != nil {
		return PaymentURLResult{}, err
	}

	now := m.now().UTC()
	if _, err := m.store.UpdateOrder(ctx, order.ID, []string{models.OrderStatusConfirmed}, models.OrderPatch{
		PaymentMethod:    lo.ToPtr(models.PaymentMethodVNPay),
		PaymentStatus:    lo.ToPtr(models.PaymentStatusPending),
		PaymentAttemptAt: &now,
	}); err != nil {
		return PaymentURLResult{}, err
	}
	metrics.GatewayRequests.WithLabelValues(flowRedirect).Inc()
	m.logger.Info("create_payment_url", "status", "ok", "order_id", order.ID, "amount", order.Total)
	return PaymentURLResult{OrderID: order.ID, Amount: order.Total, URL: signed.URL, CreatedAt: signed.CreatedAt}, nil
}

// QRSessionInput asks for a time-boxed QR payment of Amount VND.
type QRSessionInput struct {
	OrderID       string `json:"orderId" validate:"required"`
	Amount        int64  `json:"amount"`
	OrderInfo     string `json:"orderInfo,omitempty" validate:"max=255"`
	BankCode      string `json:"bankCode,omitempty" validate:"omitempty,alphanum,max=20"`
	Locale        string `json:"locale,omitempty" validate:"omitempty,oneof=vn en"`
	ExpiryMinutes int    `json:"expiryMinutes,omitempty"`
	ClientIP      string `json:"-"`
}

type QRSessionResult struct {
	OrderID       string    `json:"orderId"`
	Amount        int64     `json:"amount"`
	URL           string    `json:"paymentUrl"`
	QRPayload     string    `json:"qrPayload"`
	QRImageURL    string    `json:"qrImageUrl,omitempty"`
	ExpiryMinutes int       `json:"expiryMinutes"`
	ExpiresAt     time.Time `json:"expiresAt"`
	Warning       string    `json:"warning,omitempty"`
}

// CreateQRSession starts a QR payment attempt for a confirmed order.
func (m *Manager) CreateQRSession(ctx context.Context, in QRSessionInput) (QRSessionResult, error) {
	if err := m.validateInput(in); err != nil {
		return QRSessionResult{}, err
	}
	if in.ExpiryMinutes == 0 {
		in.ExpiryMinutes = m.cfg.DefaultQRExpiry
	}
	order, err := m.payableOrder(ctx, in.OrderID, in.Amount)
	if err != nil {
		return QRSessionResult{}, err
	}
	session, err := m.tracker.Start(order.ID, in.ExpiryMinutes)
	if err != nil {
		return QRSessionResult{}, err
	}

	signed, err := m.gateway.CreateQrPaymentSession(vnpay.QRRequest{
		RedirectRequest: vnpay.RedirectRequest{
			OrderID:   order.ID,
			Amount:    order.Total,
			OrderInfo: in.OrderInfo,
			ClientIP:  in.ClientIP,
			Locale:    in.Locale,
			BankCode:  in.BankCode,
		},
		ExpiryMinutes: in.ExpiryMinutes,
	})
	if err != nil {
		return QRSessionResult{}, err
	}

	res := QRSessionResult{
		OrderID:       order.ID,
		Amount:        order.Total,
		URL:           signed.URL,
		QRPayload:     signed.QRPayload,
		ExpiryMinutes: in.ExpiryMinutes,
		ExpiresAt:     session.ExpiresAt,
	}
	if m.images != nil {
		imageURL, err := m.uploadQRImage(ctx, order.ID, signed.QRPayload, session.StartedAt)
		if err != nil {
			m.logger.Warn("create_qr_session", "status", "image_upload_failed", "order_id", order.ID, "error", err)
			res.Warning = "QR image could not be stored"
		}
		res.QRImageURL = imageURL
	}

	if _, err := m.store.UpdateOrder(ctx, order.ID, []string{models.OrderStatusConfirmed}, models.OrderPatch{
		PaymentMethod:    lo.ToPtr(models.PaymentMethodVNPayQR),
		PaymentStatus:    lo.ToPtr(models.PaymentStatusPending),
		PaymentAttemptAt: &session.StartedAt,
		QRAttemptAt:      &session.StartedAt,
		QRExpiresAt:      &session.ExpiresAt,
		QRPayload:        &res.QRPayload,
		QRImageURL:       &res.QRImageURL,
	}); err != nil {
		return QRSessionResult{}, err
	}
	metrics.GatewayRequests.WithLabelValues(flowQR).Inc()
	m.logger.Info("create_qr_session", "status", "ok", "order_id", order.ID, "expires_at", session.ExpiresAt)
	return res, nil
}

func (m *Manager) uploadQRImage(ctx context.Context, orderID, payload string, at time.Time) (string, error) {
	png, err := qrsession.RenderPNG(payload, m.cfg.QRImageSize)
	if err != nil {
		return "", err
	}
	return m.images.UploadQRImage(ctx, orderID, png, at)
}

// CheckQRStatus reports the QR session of an order, evaluating expiry now.
func (m *Manager) CheckQRStatus(ctx context.Context, orderID string) (qrsession.Report, error) {
	order, err := m.store.GetOrder(ctx, orderID)
	if err != nil {
		return qrsession.Report{}, err
	}
	return m.tracker.Status(order)
}

// payableOrder loads a confirmed order and checks the requested amount against its total.
func (m *Manager) payableOrder(ctx context.Context, orderID string, amount int64) (models.Order, error) {
	if amount <= 0 {
		return models.Order{}, vnpay.ErrInvalidAmount
	}
	order, err := m.store.GetOrder(ctx, orderID)
	if err != nil {
		return models.Order{}, err
	}
	if order.Status != models.OrderStatusConfirmed {
		return models.Order{}, &models.TransitionError{OrderID: order.ID, Current: order.Status, Want: []string{models.OrderStatusConfirmed}}
	}
	if amount != order.Total {
		return models.Order{}, fmt.Errorf("%w: got %d, order total is %d", models.ErrAmountMismatch, amount, order.Total)
	}
	return order, nil
}

// CallbackResult is the outcome of a verified gateway callback.
type CallbackResult struct {
	Order        models.Order       `json:"order"`
	Success      bool               `json:"success"`
	Duplicate    bool               `json:"duplicate,omitempty"`
	ResponseCode string             `json:"responseCode"`
	Message      string             `json:"message"`
	Ticket       *models.TicketInfo `json:"ticket,omitempty"`
	Warning      string             `json:"warning,omitempty"`
}

// HandlePaymentReturn processes a redirect flow callback (browser return or IPN).
func (m *Manager) HandlePaymentReturn(ctx context.Context, params map[string]string) (CallbackResult, error) {
	return m.processCallback(ctx, flowRedirect, params)
}

// VerifyQRPayment processes a QR flow callback. A failed payment cancels the order.
func (m *Manager) VerifyQRPayment(ctx context.Context, params map[string]string) (CallbackResult, error) {
	return m.processCallback(ctx, flowQR, params)
}

func (m *Manager) processCallback(ctx context.Context, flow string, params map[string]string) (CallbackResult, error) {
	if !m.gateway.VerifyCallback(params) {
		metrics.GatewayCallbacks.WithLabelValues(flow, "invalid_signature").Inc()
		m.logger.Warn("payment_callback", "status", "invalid_signature", "security_event", true, "flow", flow, "txn_ref", params["vnp_TxnRef"])
		return CallbackResult{}, models.ErrGatewaySignatureInvalid
	}
	cb, err := m.gateway.ParseCallback(params)
	if err != nil {
		metrics.GatewayCallbacks.WithLabelValues(flow, "malformed").Inc()
		return CallbackResult{}, models.NewValidationError("callback", err.Error())
	}
	order, err := m.store.GetOrder(ctx, cb.TxnRef)
	if err != nil {
		metrics.GatewayCallbacks.WithLabelValues(flow, "unknown_order").Inc()
		return CallbackResult{}, err
	}

	res := CallbackResult{Order: order, ResponseCode: cb.ResponseCode, Message: cb.Message()}
	if cb.Success() && settledBy(order, cb) {
		return m.duplicateCallback(flow, res), nil
	}
	if models.IsPaidStatus(order.Status) && !cb.Success() {
		metrics.GatewayCallbacks.WithLabelValues(flow, "stale_failure").Inc()
		return res, &models.TransitionError{OrderID: order.ID, Current: order.Status, Want: []string{models.OrderStatusConfirmed}}
	}
	if cb.Amount != order.Total {
		metrics.GatewayCallbacks.WithLabelValues(flow, "amount_mismatch").Inc()
		m.logger.Warn("payment_callback", "status", "amount_mismatch", "flow", flow, "order_id", order.ID, "amount", cb.Amount, "total", order.Total)
		return res, fmt.Errorf("%w: gateway reported %d, order total is %d", models.ErrAmountMismatch, cb.Amount, order.Total)
	}
	switch {
	case order.Status == models.OrderStatusPaid:
		// paid through another gateway transaction
		metrics.GatewayCallbacks.WithLabelValues(flow, "settlement_anomaly").Inc()
		m.logger.Warn("payment_callback", "status", "settlement_anomaly", "flow", flow, "order_id", order.ID,
			"recorded_transaction_no", order.GatewayTransactionNo, "transaction_no", cb.TransactionNo)
		return m.duplicateCallback(flow, res), nil
	case models.IsPaidStatus(order.Status):
		return m.recordLateSettlement(ctx, flow, res, cb)
	case cb.Success():
		return m.applyPaymentSuccess(ctx, flow, res, cb)
	default:
		return m.applyPaymentFailure(ctx, flow, res, cb)
	}
}

// settledBy reports whether cb was already recorded as the order's completed payment.
func settledBy(order models.Order, cb vnpay.Callback) bool {
	return order.PaymentStatus == models.PaymentStatusCompleted &&
		order.GatewayResponseCode != "" &&
		order.GatewayTransactionNo == cb.TransactionNo
}

// recordLateSettlement stores the gateway payment of an order that was already
// prepaid or finished without it. The order status does not change.
func (m *Manager) recordLateSettlement(ctx context.Context, flow string, res CallbackResult, cb vnpay.Callback) (CallbackResult, error) {
	order := res.Order
	method := models.PaymentMethodVNPay
	if flow == flowQR {
		method = models.PaymentMethodVNPayQR
	}
	patch := models.OrderPatch{
		PaymentMethod:        &method,
		PaymentStatus:        lo.ToPtr(models.PaymentStatusCompleted),
		GatewayTransactionNo: &cb.TransactionNo,
		GatewayBankCode:      &cb.BankCode,
		GatewayResponseCode:  &cb.ResponseCode,
		GatewayPayDate:       cb.PayDate,
	}
	if order.PaidAt == nil {
		now := m.now().UTC()
		patch.PaidAt = &now
	}
	updated, err := m.store.UpdateOrder(ctx, order.ID, []string{order.Status}, patch)
	if err != nil {
		if isTransition(err) {
			if current, gerr := m.store.GetOrder(ctx, order.ID); gerr == nil && settledBy(current, cb) {
				res.Order = current
				return m.duplicateCallback(flow, res), nil
			}
		}
		return res, err
	}
	metrics.GatewayCallbacks.WithLabelValues(flow, "settlement_anomaly").Inc()
	m.logger.Warn("payment_callback", "status", "settlement_anomaly", "flow", flow, "order_id", updated.ID,
		"order_status", updated.Status, "transaction_no", cb.TransactionNo)
	res.Order = updated
	res.Success = true
	return res, nil
}

func (m *Manager) duplicateCallback(flow string, res CallbackResult) CallbackResult {
	metrics.GatewayCallbacks.WithLabelValues(flow, "duplicate").Inc()
	m.logger.Info("payment_callback", "status", "duplicate", "flow", flow, "order_id", res.Order.ID)
	res.Success = true
	res.Duplicate = true
	return res
}

func (m *Manager) applyPaymentSuccess(ctx context.Context, flow string, res CallbackResult, cb vnpay.Callback) (CallbackResult, error) {
	now := m.now().UTC()
	method := models.PaymentMethodVNPay
	if flow == flowQR {
		method = models.PaymentMethodVNPayQR
	}
	paid, err := m.store.UpdateOrder(ctx, cb.TxnRef, []string{models.OrderStatusConfirmed}, models.OrderPatch{
		Status:               lo.ToPtr(models.OrderStatusPaid),
		PaymentMethod:        &method,
		PaymentStatus:        lo.ToPtr(models.PaymentStatusCompleted),
		PaidAt:               &now,
		GatewayTransactionNo: &cb.TransactionNo,
		GatewayBankCode:      &cb.BankCode,
		GatewayResponseCode:  &cb.ResponseCode,
		GatewayPayDate:       cb.PayDate,
	})
	if err != nil {
		if isTransition(err) {
			// a concurrent delivery of the same callback won the guard
			if current, gerr := m.store.GetOrder(ctx, cb.TxnRef); gerr == nil && models.IsPaidStatus(current.Status) {
				res.Order = current
				if settledBy(current, cb) || current.Status == models.OrderStatusPaid {
					return m.duplicateCallback(flow, res), nil
				}
				return m.recordLateSettlement(ctx, flow, res, cb)
			}
		}
		return res, err
	}
	metrics.GatewayCallbacks.WithLabelValues(flow, "paid").Inc()
	m.logger.Info("payment_callback", "status", "paid", "flow", flow, "order_id", paid.ID, "transaction_no", cb.TransactionNo)
	m.publish(ctx, models.EventOrderPaid, paid)

	res.Order = paid
	res.Success = true
	issued := m.issueTicket(ctx, paid.ID)
	res.Ticket = issued.ticket
	res.Warning = issued.warning
	if issued.order != nil {
		res.Order = *issued.order
	}
	return res, nil
}

// applyPaymentFailure records a rejected payment. The redirect flow keeps the order
// confirmed so the purchaser can retry; the QR flow cancels it and frees the seat.
func (m *Manager) applyPaymentFailure(ctx context.Context, flow string, res CallbackResult, cb vnpay.Callback) (CallbackResult, error) {
	now := m.now().UTC()
	reason := cb.Message()
	patch := models.OrderPatch{
		PaymentStatus:        lo.ToPtr(models.PaymentStatusFailed),
		PaymentFailureReason: &reason,
		PaymentFailedAt:      &now,
		GatewayTransactionNo: &cb.TransactionNo,
		GatewayBankCode:      &cb.BankCode,
		GatewayResponseCode:  &cb.ResponseCode,
	}

	var failed models.Order
	var err error
	if flow == flowQR {
		patch.Status = lo.ToPtr(models.OrderStatusCancelled)
		patch.CancelledAt = &now
		patch.CancelReason = &reason
		err = m.store.WithTx(ctx, func(ctx context.Context) error {
			current, err := m.store.GetOrder(ctx, cb.TxnRef)
			if err != nil {
				return err
			}
			if err := m.ledger.Lock(ctx, current.RouteID); err != nil {
				return err
			}
			failed, err = m.store.UpdateOrder(ctx, cb.TxnRef, []string{models.OrderStatusConfirmed}, patch)
			if err != nil {
				return err
			}
			_, err = m.ledger.Release(ctx, failed.RouteID, failed.ID)
			return err
		})
	} else {
		failed, err = m.store.UpdateOrder(ctx, cb.TxnRef, []string{models.OrderStatusConfirmed}, patch)
	}
	if err != nil {
		return res, err
	}

	metrics.GatewayCallbacks.WithLabelValues(flow, "failed").Inc()
	m.logger.Info("payment_callback", "status", "failed", "flow", flow, "order_id", failed.ID, "response_code", cb.ResponseCode, "reason", reason)
	m.publish(ctx, models.EventOrderPaymentFailed, failed)
	if failed.Status == models.OrderStatusCancelled {
		m.publish(ctx, models.EventOrderCancelled, failed)
	}
	res.Order = failed
	return res, fmt.Errorf("%w: %s", models.ErrGatewayBusinessFailure, strings.TrimSpace(reason))
}

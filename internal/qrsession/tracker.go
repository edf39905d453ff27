package qrsession

import (
	"errors"
	"time"

	"busline/backend/internal/models"
	"busline/backend/internal/vnpay"

	qrcode "github.com/skip2/go-qrcode"
)

const (
	StatusPending = "pending"
	StatusSuccess = "success"
	StatusFailed  = "failed"
	StatusExpired = "expired"
)

var ErrNoSession = errors.New("order has no qr payment session")

// Session is one time-boxed QR payment attempt.
type Session struct {
	OrderID   string    `json:"orderId"`
	StartedAt time.Time `json:"startedAt"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Report is the status of a QR payment attempt at read time.
type Report struct {
	OrderID     string     `json:"orderId"`
	Status      string     `json:"status"`
	OrderStatus string     `json:"orderStatus"`
	Message     string     `json:"message"`
	ExpiresAt   *time.Time `json:"expiresAt,omitempty"`
	PaidAt      *time.Time `json:"paidAt,omitempty"`
}

// Tracker evaluates QR session expiry lazily; nothing runs in the background.
type Tracker struct {
	now func() time.Time
}

func NewTracker(now func() time.Time) *Tracker {
	if now == nil {
		now = time.Now
	}
	return &Tracker{now: now}
}

// Start stamps the attempt time and computes the expiry.
func (t *Tracker) Start(orderID string, expiryMinutes int) (Session, error) {
	minutes, err := vnpay.NormalizeExpiry(expiryMinutes)
	if err != nil {
		return Session{}, err
	}
	started := t.now().UTC()
	return Session{
		OrderID:   orderID,
		StartedAt: started,
		ExpiresAt: started.Add(time.Duration(minutes) * time.Minute),
	}, nil
}

// Status reports expired once the expiry has passed, whatever the order state.
func (t *Tracker) Status(order models.Order) (Report, error) {
	if order.QRExpiresAt == nil {
		return Report{}, ErrNoSession
	}
	report := Report{
		OrderID:     order.ID,
		OrderStatus: order.Status,
		ExpiresAt:   order.QRExpiresAt,
		PaidAt:      order.PaidAt,
	}
	switch {
	case t.now().After(*order.QRExpiresAt):
		report.Status = StatusExpired
		report.Message = "QR payment session has expired"
	case models.IsPaidStatus(order.Status):
		report.Status = StatusSuccess
		report.Message = "Payment completed"
	case order.Status == models.OrderStatusCancelled:
		report.Status = StatusFailed
		report.Message = "Payment failed"
		if order.PaymentFailureReason != "" {
			report.Message = order.PaymentFailureReason
		}
	default:
		report.Status = StatusPending
		report.Message = "Waiting for payment"
	}
	return report, nil
}

// RenderPNG encodes a QR payload as a PNG image.
func RenderPNG(payload string, size int) ([]byte, error) {
	if size <= 0 {
		size = 256
	}
	return qrcode.Encode(payload, qrcode.Medium, size)
}

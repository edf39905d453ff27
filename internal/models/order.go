package models

import "time"

const (
	OrderStatusPending   = "pending"
	OrderStatusConfirmed = "confirmed"
	OrderStatusCancelled = "cancelled"
	OrderStatusPaid      = "paid"
	OrderStatusPrepaid   = "prepaid"
	OrderStatusFinished  = "finished"
)

const (
	PaymentStatusPending   = "pending"
	PaymentStatusCompleted = "completed"
	PaymentStatusFailed    = "failed"
	PaymentStatusRefunded  = "refunded"
)

const (
	PaymentMethodBankTransfer = "bank_transfer"
	PaymentMethodEWallet      = "e_wallet"
	PaymentMethodCash         = "cash"
	PaymentMethodVNPay        = "vnpay"
	PaymentMethodVNPayQR      = "vnpay_qr"
)

const (
	TicketStatusNone    = "none"
	TicketStatusIssuing = "issuing"
	TicketStatusIssued  = "issued"
	TicketStatusFailed  = "failed"
)

var PaymentMethods = []string{
	PaymentMethodBankTransfer,
	PaymentMethodEWallet,
	PaymentMethodCash,
	PaymentMethodVNPay,
	PaymentMethodVNPayQR,
}

// Order is one passenger's reservation and payment record for one route.
type Order struct {
	ID         string `json:"id"`
	RouteID    string `json:"routeId"`
	UserID     string `json:"userId"`
	PartnerID  string `json:"partnerId"`
	SeatNumber *int   `json:"seatNumber,omitempty"`

	FullName    string     `json:"fullName"`
	Phone       string     `json:"phone"`
	Email       string     `json:"email"`
	DateOfBirth *time.Time `json:"dateOfBirth,omitempty"`
	Gender      string     `json:"gender,omitempty"`

	PaymentMethod        string     `json:"paymentMethod"`
	PaymentStatus        string     `json:"paymentStatus"`
	PaymentAttemptAt     *time.Time `json:"paymentAttemptAt,omitempty"`
	PaymentFailureReason string     `json:"paymentFailureReason,omitempty"`
	PaymentFailedAt      *time.Time `json:"paymentFailedAt,omitempty"`
	PaidAt               *time.Time `json:"paidAt,omitempty"`

	GatewayTransactionNo string     `json:"gatewayTransactionNo,omitempty"`
	GatewayBankCode      string     `json:"gatewayBankCode,omitempty"`
	GatewayResponseCode  string     `json:"gatewayResponseCode,omitempty"`
	GatewayPayDate       *time.Time `json:"gatewayPayDate,omitempty"`

	QRAttemptAt *time.Time `json:"qrAttemptAt,omitempty"`
	QRExpiresAt *time.Time `json:"qrExpiresAt,omitempty"`
	QRPayload   string     `json:"qrPayload,omitempty"`
	QRImageURL  string     `json:"qrImageUrl,omitempty"`

	BasePrice int64 `json:"basePrice"`
	Fees      int64 `json:"fees"`
	Total     int64 `json:"total"`

	Status       string     `json:"status"`
	ConfirmedAt  *time.Time `json:"confirmedAt,omitempty"`
	CancelledAt  *time.Time `json:"cancelledAt,omitempty"`
	CancelReason string     `json:"cancelReason,omitempty"`
	FinishedAt   *time.Time `json:"finishedAt,omitempty"`

	TicketStatus    string     `json:"ticketStatus"`
	TicketRef       string     `json:"ticketRef,omitempty"`
	TicketURL       string     `json:"ticketUrl,omitempty"`
	TicketAttempts  int        `json:"ticketAttempts"`
	TicketError     string     `json:"ticketError,omitempty"`
	TicketIssuedAt  *time.Time `json:"ticketIssuedAt,omitempty"`
	TicketClaimedAt *time.Time `json:"-"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// OrderPatch lists the fields a transition may set. Nil fields are left unchanged.
type OrderPatch struct {
	Status               *string
	PaymentMethod        *string
	PaymentStatus        *string
	PaymentAttemptAt     *time.Time
	PaymentFailureReason *string
	PaymentFailedAt      *time.Time
	PaidAt               *time.Time
	GatewayTransactionNo *string
	GatewayBankCode      *string
	GatewayResponseCode  *string
	GatewayPayDate       *time.Time
	QRAttemptAt          *time.Time
	QRExpiresAt          *time.Time
	QRPayload            *string
	QRImageURL           *string
	ConfirmedAt          *time.Time
	CancelledAt          *time.Time
	CancelReason         *string
	FinishedAt           *time.Time
}

// Apply copies the non-nil fields of p onto o.
func (p OrderPatch) Apply(o *Order) {
	setString(&o.Status, p.Status)
	setString(&o.PaymentMethod, p.PaymentMethod)
	setString(&o.PaymentStatus, p.PaymentStatus)
	setTime(&o.PaymentAttemptAt, p.PaymentAttemptAt)
	setString(&o.PaymentFailureReason, p.PaymentFailureReason)
	setTime(&o.PaymentFailedAt, p.PaymentFailedAt)
	setTime(&o.PaidAt, p.PaidAt)
	setString(&o.GatewayTransactionNo, p.GatewayTransactionNo)
	setString(&o.GatewayBankCode, p.GatewayBankCode)
	setString(&o.GatewayResponseCode, p.GatewayResponseCode)
	setTime(&o.GatewayPayDate, p.GatewayPayDate)
	setTime(&o.QRAttemptAt, p.QRAttemptAt)
	setTime(&o.QRExpiresAt, p.QRExpiresAt)
	setString(&o.QRPayload, p.QRPayload)
	setString(&o.QRImageURL, p.QRImageURL)
	setTime(&o.ConfirmedAt, p.ConfirmedAt)
	setTime(&o.CancelledAt, p.CancelledAt)
	setString(&o.CancelReason, p.CancelReason)
	setTime(&o.FinishedAt, p.FinishedAt)
}

// TicketInfo is what the ticket issuance service returns for an order.
type TicketInfo struct {
	TicketID string `json:"ticketId"`
	URL      string `json:"url,omitempty"`
}

// UserOrder is an order enriched for the purchaser's listing.
type UserOrder struct {
	Order
	Route   *RouteSummary   `json:"route,omitempty"`
	Partner *PartnerContact `json:"partner,omitempty"`
}

const (
	EventOrderCreated       = "order.created"
	EventOrderConfirmed     = "order.confirmed"
	EventOrderCancelled     = "order.cancelled"
	EventOrderPaid          = "order.paid"
	EventOrderPrepaid       = "order.prepaid"
	EventOrderPaymentFailed = "order.payment_failed"
	EventOrderFinished      = "order.finished"
	EventOrderTicketIssued  = "order.ticket_issued"
)

// OrderEvent is published after every applied transition.
type OrderEvent struct {
	Type          string    `json:"type"`
	OrderID       string    `json:"orderId"`
	RouteID       string    `json:"routeId"`
	UserID        string    `json:"userId"`
	Status        string    `json:"status"`
	PaymentStatus string    `json:"paymentStatus"`
	At            time.Time `json:"at"`
}

func NewOrderEvent(kind string, o Order, at time.Time) OrderEvent {
	return OrderEvent{
		Type:          kind,
		OrderID:       o.ID,
		RouteID:       o.RouteID,
		UserID:        o.UserID,
		Status:        o.Status,
		PaymentStatus: o.PaymentStatus,
		At:            at.UTC(),
	}
}

func IsPaidStatus(status string) bool {
	switch status {
	case OrderStatusPaid, OrderStatusPrepaid, OrderStatusFinished:
		return true
	default:
		return false
	}
}

func setString(dst *string, v *string) {
	if v != nil {
		*dst = *v
	}
}

func setTime(dst **time.Time, v *time.Time) {
	if v != nil {
		t := *v
		*dst = &t
	}
}

package lifecycle

import (
	"context"
	"time"

	"busline/backend/internal/ledger"
	"busline/backend/internal/models"
)

// Store is the persistence contract of the manager. UpdateOrder applies the patch
// only when the stored status is one of from and returns *models.TransitionError otherwise.
type Store interface {
	ledger.Inventory

	WithTx(ctx context.Context, fn func(ctx context.Context) error) error

	InsertOrder(ctx context.Context, order models.Order) error
	GetOrder(ctx context.Context, id string) (models.Order, error)
	UpdateOrder(ctx context.Context, id string, from []string, patch models.OrderPatch) (models.Order, error)

	ListOrdersByRoute(ctx context.Context, routeID string) ([]models.Order, error)
	// LockRouteOrders lists the route's orders and locks them until the surrounding
	// transaction ends.
	LockRouteOrders(ctx context.Context, routeID string) ([]models.Order, error)
	ListOrdersByUser(ctx context.Context, userID string) ([]models.Order, error)
	SearchOrdersByPhone(ctx context.Context, digits string, limit int) ([]models.Order, error)
	PopularRoutes(ctx context.Context, limit int) ([]models.RouteStat, error)

	ClaimTicketIssuance(ctx context.Context, orderID string, staleBefore time.Time) (models.Order, bool, error)
	CompleteTicketIssuance(ctx context.Context, orderID string, ticket models.TicketInfo) (models.Order, error)
	FailTicketIssuance(ctx context.Context, orderID, reason string) error
	ListTicketBacklog(ctx context.Context, maxAttempts int, staleBefore time.Time, limit int) ([]models.Order, error)
}

// TicketIssuer produces the passenger ticket for an order.
type TicketIssuer interface {
	IssueTicket(ctx context.Context, order models.Order) (models.TicketInfo, error)
}

// PartnerDirectory resolves bus operators for display.
type PartnerDirectory interface {
	PartnerContact(ctx context.Context, partnerID string) (models.PartnerContact, error)
}

// Notifier receives every applied order transition.
type Notifier interface {
	Publish(ctx context.Context, event models.OrderEvent) error
}

// QRImageStore persists rendered QR images and returns their public URL.
type QRImageStore interface {
	UploadQRImage(ctx context.Context, orderID string, png []byte, at time.Time) (string, error)
}

type unavailableIssuer struct{}

func (unavailableIssuer) IssueTicket(context.Context, models.Order) (models.TicketInfo, error) {
	return models.TicketInfo{}, models.ErrDownstreamUnavailable
}

type nopNotifier struct{}

func (nopNotifier) Publish(context.Context, models.OrderEvent) error { return nil }

package lifecycle

import (
	"context"
	"errors"
	"strings"
	"time"

	"busline/backend/internal/models"

	"github.com/samber/lo"
)

const defaultDeclineReason = "declined by operator"

// CreateOrderInput is a booking request. UserID comes from the authenticated caller.
type CreateOrderInput struct {
	RouteID       string     `json:"routeId" validate:"required"`
	UserID        string     `json:"-" validate:"required"`
	SeatNumber    *int       `json:"seatNumber,omitempty" validate:"omitempty,min=1"`
	FullName      string     `json:"fullName" validate:"required,min=2,max=100"`
	Phone         string     `json:"phone" validate:"required,min=8,max=20,phone"`
	Email         string     `json:"email" validate:"required,email"`
	DateOfBirth   *time.Time `json:"dateOfBirth,omitempty"`
	Gender        string     `json:"gender,omitempty" validate:"omitempty,oneof=male female other"`
	PaymentMethod string     `json:"paymentMethod" validate:"required,oneof=bank_transfer e_wallet cash vnpay vnpay_qr"`
	BasePrice     int64      `json:"basePrice" validate:"gte=0"`
	Fees          int64      `json:"fees" validate:"gte=0"`
}

func (in *CreateOrderInput) normalize() {
	in.RouteID = strings.TrimSpace(in.RouteID)
	in.FullName = strings.TrimSpace(in.FullName)
	in.Phone = strings.TrimSpace(in.Phone)
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	in.Gender = strings.ToLower(strings.TrimSpace(in.Gender))
	if in.PaymentMethod == "" {
		in.PaymentMethod = models.PaymentMethodVNPay
	}
}

// CreateOrder inserts a pending order and reserves its seat in one transaction.
func (m *Manager) CreateOrder(ctx context.Context, in CreateOrderInput) (models.Order, error) {
	in.normalize()
	if err := m.validateInput(in); err != nil {
		return models.Order{}, err
	}

	var created models.Order
	err := m.store.WithTx(ctx, func(ctx context.Context) error {
		route, err := m.ledger.Route(ctx, in.RouteID)
		if err != nil {
			return err
		}
		if !route.IsActive {
			return models.ErrRouteInactive
		}
		base := in.BasePrice
		if base == 0 {
			base = route.Price
		}
		now := m.now().UTC()
		order := models.Order{
			ID:            m.newID(),
			RouteID:       route.ID,
			UserID:        in.UserID,
			PartnerID:     route.PartnerID,
			SeatNumber:    in.SeatNumber,
			FullName:      in.FullName,
			Phone:         in.Phone,
			Email:         in.Email,
			DateOfBirth:   in.DateOfBirth,
			Gender:        in.Gender,
			PaymentMethod: in.PaymentMethod,
			PaymentStatus: models.PaymentStatusPending,
			BasePrice:     base,
			Fees:          in.Fees,
			Total:         base + in.Fees,
			Status:        models.OrderStatusPending,
			TicketStatus:  models.TicketStatusNone,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		if err := m.store.InsertOrder(ctx, order); err != nil {
			return err
		}
		if err := m.ledger.Reserve(ctx, route.ID, order.ID, in.SeatNumber); err != nil {
			return err
		}
		created = order
		return nil
	})
	if err != nil {
		return models.Order{}, err
	}

	m.logger.Info("create_order", "status", "ok", "order_id", created.ID, "route_id", created.RouteID, "total", created.Total)
	m.publish(ctx, models.EventOrderCreated, created)
	return created, nil
}

// AcceptResult carries the confirmed order and the outcome of ticket issuance.
type AcceptResult struct {
	Order   models.Order       `json:"order"`
	Ticket  *models.TicketInfo `json:"ticket,omitempty"`
	Warning string             `json:"warning,omitempty"`
}

// Accept confirms a pending order. Ticket issuance failures surface as a warning only.
func (m *Manager) Accept(ctx context.Context, orderID string) (AcceptResult, error) {
	now := m.now().UTC()
	order, err := m.store.UpdateOrder(ctx, orderID, []string{models.OrderStatusPending}, models.OrderPatch{
		Status:      lo.ToPtr(models.OrderStatusConfirmed),
		ConfirmedAt: &now,
	})
	if err != nil {
		return AcceptResult{}, err
	}
	m.logger.Info("accept_order", "status", "ok", "order_id", order.ID)
	m.publish(ctx, models.EventOrderConfirmed, order)

	res := AcceptResult{Order: order}
	issued := m.issueTicket(ctx, order.ID)
	res.Ticket = issued.ticket
	res.Warning = issued.warning
	if issued.order != nil {
		res.Order = *issued.order
	}
	return res, nil
}

// Decline cancels a pending order and frees its seat under the route lock.
func (m *Manager) Decline(ctx context.Context, orderID, reason string) (models.Order, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = defaultDeclineReason
	}
	var declined models.Order
	err := m.store.WithTx(ctx, func(ctx context.Context) error {
		current, err := m.store.GetOrder(ctx, orderID)
		if err != nil {
			return err
		}
		if err := m.ledger.Lock(ctx, current.RouteID); err != nil {
			return err
		}
		now := m.now().UTC()
		declined, err = m.store.UpdateOrder(ctx, orderID, []string{models.OrderStatusPending}, models.OrderPatch{
			Status:       lo.ToPtr(models.OrderStatusCancelled),
			CancelledAt:  &now,
			CancelReason: &reason,
		})
		if err != nil {
			return err
		}
		_, err = m.ledger.Release(ctx, declined.RouteID, declined.ID)
		return err
	})
	if err != nil {
		return models.Order{}, err
	}
	m.logger.Info("decline_order", "status", "ok", "order_id", declined.ID, "reason", reason)
	m.publish(ctx, models.EventOrderCancelled, declined)
	return declined, nil
}

// SetPrepaid records an operator-confirmed offline payment.
func (m *Manager) SetPrepaid(ctx context.Context, orderID string) (models.Order, error) {
	now := m.now().UTC()
	order, err := m.store.UpdateOrder(ctx, orderID, []string{models.OrderStatusConfirmed}, models.OrderPatch{
		Status:        lo.ToPtr(models.OrderStatusPrepaid),
		PaymentStatus: lo.ToPtr(models.PaymentStatusCompleted),
		PaidAt:        &now,
	})
	if err != nil {
		return models.Order{}, err
	}
	m.logger.Info("set_prepaid", "status", "ok", "order_id", order.ID)
	m.publish(ctx, models.EventOrderPrepaid, order)
	return order, nil
}

// CheckoutResult lists what a route checkout did. Confirmed, paid and prepaid orders
// are finished. Orders still pending at departure are cancelled as no-shows so that
// none keeps a seat after the reset; they appear in Cancelled. Besides Decline and a
// failed QR payment this is the only way a pending order becomes cancelled.
type CheckoutResult struct {
	RouteID   string       `json:"routeId"`
	Finished  []string     `json:"finished"`
	Cancelled []string     `json:"cancelled"`
	Route     models.Route `json:"route"`
}

var finishableStatuses = []string{models.OrderStatusConfirmed, models.OrderStatusPaid, models.OrderStatusPrepaid}

// CheckoutRoute finalizes every order of a departed route and resets its seats.
// The route and all its order rows stay locked until the batch commits.
func (m *Manager) CheckoutRoute(ctx context.Context, routeID string) (CheckoutResult, error) {
	res := CheckoutResult{RouteID: routeID, Finished: []string{}, Cancelled: []string{}}
	var changed []models.Order
	err := m.store.WithTx(ctx, func(ctx context.Context) error {
		if err := m.ledger.Lock(ctx, routeID); err != nil {
			return err
		}
		orders, err := m.store.LockRouteOrders(ctx, routeID)
		if err != nil {
			return err
		}
		now := m.now().UTC()
		finish := func(id string) error {
			updated, err := m.store.UpdateOrder(ctx, id, finishableStatuses, models.OrderPatch{
				Status:     lo.ToPtr(models.OrderStatusFinished),
				FinishedAt: &now,
			})
			if err != nil {
				return err
			}
			res.Finished = append(res.Finished, updated.ID)
			changed = append(changed, updated)
			return nil
		}
		for _, o := range orders {
			switch o.Status {
			case models.OrderStatusConfirmed, models.OrderStatusPaid, models.OrderStatusPrepaid:
				if err := finish(o.ID); err != nil {
					return err
				}
			case models.OrderStatusPending:
				updated, err := m.store.UpdateOrder(ctx, o.ID, []string{models.OrderStatusPending}, models.OrderPatch{
					Status:       lo.ToPtr(models.OrderStatusCancelled),
					CancelledAt:  &now,
					CancelReason: lo.ToPtr("no-show at departure"),
				})
				if isTransition(err) {
					// accepted or declined after the listing
					current, gerr := m.store.GetOrder(ctx, o.ID)
					if gerr != nil {
						return gerr
					}
					if !lo.Contains(finishableStatuses, current.Status) {
						continue
					}
					if err := finish(o.ID); err != nil {
						return err
					}
					continue
				}
				if err != nil {
					return err
				}
				res.Cancelled = append(res.Cancelled, updated.ID)
				changed = append(changed, updated)
			}
		}
		if err := m.ledger.ResetForCheckout(ctx, routeID); err != nil {
			return err
		}
		res.Route, err = m.ledger.Snapshot(ctx, routeID)
		return err
	})
	if err != nil {
		return CheckoutResult{}, err
	}

	m.logger.Info("checkout_route", "status", "ok", "route_id", routeID, "finished", len(res.Finished), "cancelled", len(res.Cancelled))
	for _, o := range changed {
		kind := models.EventOrderFinished
		if o.Status == models.OrderStatusCancelled {
			kind = models.EventOrderCancelled
		}
		m.publish(ctx, kind, o)
	}
	return res, nil
}

func isTransition(err error) bool {
	return errors.Is(err, models.ErrInvalidTransition)
}

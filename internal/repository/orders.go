package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"busline/backend/internal/models"

	"github.com/jackc/pgx/v5"
)

const orderColumns = `id, route_id, user_id, partner_id, seat_number, full_name, phone, email, date_of_birth, gender,
	payment_method, payment_status, payment_attempt_at, payment_failure_reason, payment_failed_at, paid_at,
	gateway_transaction_no, gateway_bank_code, gateway_response_code, gateway_pay_date,
	qr_attempt_at, qr_expires_at, qr_payload, qr_image_url,
	base_price, fees, total, status, confirmed_at, cancelled_at, cancel_reason, finished_at,
	ticket_status, ticket_ref, ticket_url, ticket_attempts, ticket_error, ticket_issued_at, ticket_claimed_at,
	created_at, updated_at`

var ticketEligibleStatuses = []string{
	models.OrderStatusConfirmed,
	models.OrderStatusPaid,
	models.OrderStatusPrepaid,
}

func (r *Repository) InsertOrder(ctx context.Context, order models.Order) error {
	_, err := r.q(ctx).Exec(ctx, `
INSERT INTO orders (
	id, route_id, user_id, partner_id, seat_number, full_name, phone, email, date_of_birth, gender,
	payment_method, payment_status, base_price, fees, total, status, ticket_status, created_at, updated_at
) VALUES (
	$1, $2, $3, $4, $5, $6, $7, $8, $9, $10,
	$11, $12, $13, $14, $15, $16, $17, $18, $19
);`,
		order.ID,
		order.RouteID,
		order.UserID,
		order.PartnerID,
		nullIntPtr(order.SeatNumber),
		order.FullName,
		order.Phone,
		order.Email,
		order.DateOfBirth,
		order.Gender,
		order.PaymentMethod,
		order.PaymentStatus,
		order.BasePrice,
		order.Fees,
		order.Total,
		order.Status,
		order.TicketStatus,
		order.CreatedAt,
		order.UpdatedAt,
	)
	return err
}

func (r *Repository) GetOrder(ctx context.Context, id string) (models.Order, error) {
	order, err := scanOrder(r.q(ctx).QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Order{}, models.ErrOrderNotFound
		}
		return models.Order{}, err
	}
	return order, nil
}

// UpdateOrder applies patch only while the order status is one of from.
func (r *Repository) UpdateOrder(ctx context.Context, id string, from []string, patch models.OrderPatch) (models.Order, error) {
	q := r.q(ctx)
	order, err := scanOrder(q.QueryRow(ctx, `
UPDATE orders
SET status = COALESCE($3::text, status),
	payment_method = COALESCE($4::text, payment_method),
	payment_status = COALESCE($5::text, payment_status),
	payment_attempt_at = COALESCE($6::timestamptz, payment_attempt_at),
	payment_failure_reason = COALESCE($7::text, payment_failure_reason),
	payment_failed_at = COALESCE($8::timestamptz, payment_failed_at),
	paid_at = COALESCE($9::timestamptz, paid_at),
	gateway_transaction_no = COALESCE($10::text, gateway_transaction_no),
	gateway_bank_code = COALESCE($11::text, gateway_bank_code),
	gateway_response_code = COALESCE($12::text, gateway_response_code),
	gateway_pay_date = COALESCE($13::timestamptz, gateway_pay_date),
	qr_attempt_at = COALESCE($14::timestamptz, qr_attempt_at),
	qr_expires_at = COALESCE($15::timestamptz, qr_expires_at),
	qr_payload = COALESCE($16::text, qr_payload),
	qr_image_url = COALESCE($17::text, qr_image_url),
	confirmed_at = COALESCE($18::timestamptz, confirmed_at),
	cancelled_at = COALESCE($19::timestamptz, cancelled_at),
	cancel_reason = COALESCE($20::text, cancel_reason),
	finished_at = COALESCE($21::timestamptz, finished_at),
	updated_at = now()
WHERE id = $1
	AND status = ANY($2)
RETURNING `+orderColumns+`;`,
		id,
		from,
		patch.Status,
		patch.PaymentMethod,
		patch.PaymentStatus,
		patch.PaymentAttemptAt,
		patch.PaymentFailureReason,
		patch.PaymentFailedAt,
		patch.PaidAt,
		patch.GatewayTransactionNo,
		patch.GatewayBankCode,
		patch.GatewayResponseCode,
		patch.GatewayPayDate,
		patch.QRAttemptAt,
		patch.QRExpiresAt,
		patch.QRPayload,
		patch.QRImageURL,
		patch.ConfirmedAt,
		patch.CancelledAt,
		patch.CancelReason,
		patch.FinishedAt,
	))
	if err == nil {
		return order, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return models.Order{}, err
	}
	var current string
	if err := q.QueryRow(ctx, `SELECT status FROM orders WHERE id = $1`, id).Scan(&current); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Order{}, models.ErrOrderNotFound
		}
		return models.Order{}, err
	}
	return models.Order{}, &models.TransitionError{OrderID: id, Current: current, Want: from}
}

func (r *Repository) ListOrdersByRoute(ctx context.Context, routeID string) ([]models.Order, error) {
	return r.listOrders(ctx, `SELECT `+orderColumns+` FROM orders WHERE route_id = $1 ORDER BY created_at ASC, id ASC`, routeID)
}

// LockRouteOrders takes row locks on every order of the route in a stable order.
// Outside a transaction the locks are released as soon as the query returns.
func (r *Repository) LockRouteOrders(ctx context.Context, routeID string) ([]models.Order, error) {
	return r.listOrders(ctx, `SELECT `+orderColumns+` FROM orders WHERE route_id = $1 ORDER BY created_at ASC, id ASC FOR UPDATE`, routeID)
}

func (r *Repository) ListOrdersByUser(ctx context.Context, userID string) ([]models.Order, error) {
	return r.listOrders(ctx, `SELECT `+orderColumns+` FROM orders WHERE user_id = $1 ORDER BY created_at DESC, id ASC`, userID)
}

// SearchOrdersByPhone matches orders whose phone digits contain digits as a subsequence.
func (r *Repository) SearchOrdersByPhone(ctx context.Context, digits string, limit int) ([]models.Order, error) {
	pattern := "%" + strings.Join(strings.Split(digits, ""), "%") + "%"
	return r.listOrders(ctx, `
SELECT `+orderColumns+`
FROM orders
WHERE regexp_replace(phone, '\D', '', 'g') LIKE $1
ORDER BY created_at DESC
LIMIT $2;`, pattern, limit)
}

// ClaimTicketIssuance marks the order as issuing when no live claim exists.
func (r *Repository) ClaimTicketIssuance(ctx context.Context, orderID string, staleBefore time.Time) (models.Order, bool, error) {
	order, err := scanOrder(r.q(ctx).QueryRow(ctx, `
UPDATE orders
SET ticket_status = $4,
	ticket_attempts = ticket_attempts + 1,
	ticket_claimed_at = now(),
	updated_at = now()
WHERE id = $1
	AND status = ANY($2)
	AND (
		ticket_status IN ($5, $6)
		OR (ticket_status = $4 AND (ticket_claimed_at IS NULL OR ticket_claimed_at < $3))
	)
RETURNING `+orderColumns+`;`,
		orderID,
		ticketEligibleStatuses,
		staleBefore,
		models.TicketStatusIssuing,
		models.TicketStatusNone,
		models.TicketStatusFailed,
	))
	if err == nil {
		return order, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return models.Order{}, false, err
	}
	current, err := r.GetOrder(ctx, orderID)
	if err != nil {
		return models.Order{}, false, err
	}
	return current, false, nil
}

func (r *Repository) CompleteTicketIssuance(ctx context.Context, orderID string, ticket models.TicketInfo) (models.Order, error) {
	order, err := scanOrder(r.q(ctx).QueryRow(ctx, `
UPDATE orders
SET ticket_status = $2,
	ticket_ref = $3,
	ticket_url = $4,
	ticket_error = '',
	ticket_issued_at = now(),
	updated_at = now()
WHERE id = $1
RETURNING `+orderColumns+`;`, orderID, models.TicketStatusIssued, ticket.TicketID, ticket.URL))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Order{}, models.ErrOrderNotFound
	}
	return order, err
}

func (r *Repository) FailTicketIssuance(ctx context.Context, orderID, reason string) error {
	cmd, err := r.q(ctx).Exec(ctx, `
UPDATE orders
SET ticket_status = $2,
	ticket_error = $3,
	updated_at = now()
WHERE id = $1;`, orderID, models.TicketStatusFailed, reason)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return models.ErrOrderNotFound
	}
	return nil
}

// ListTicketBacklog returns orders whose ticket still needs issuing.
func (r *Repository) ListTicketBacklog(ctx context.Context, maxAttempts int, staleBefore time.Time, limit int) ([]models.Order, error) {
	return r.listOrders(ctx, `
SELECT `+orderColumns+`
FROM orders
WHERE status = ANY($1)
	AND ticket_attempts < $2
	AND (
		ticket_status IN ($4, $5)
		OR (ticket_status = $6 AND (ticket_claimed_at IS NULL OR ticket_claimed_at < $3))
	)
ORDER BY created_at ASC
LIMIT $7;`,
		ticketEligibleStatuses,
		maxAttempts,
		staleBefore,
		models.TicketStatusNone,
		models.TicketStatusFailed,
		models.TicketStatusIssuing,
		limit,
	)
}

func (r *Repository) listOrders(ctx context.Context, query string, args ...interface{}) ([]models.Order, error) {
	rows, err := r.q(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]models.Order, 0)
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, order)
	}
	return items, rows.Err()
}

func scanOrder(row pgx.Row) (models.Order, error) {
	var out models.Order
	var dateOfBirth sql.NullTime
	var paymentAttemptAt sql.NullTime
	var paymentFailedAt sql.NullTime
	var paidAt sql.NullTime
	var gatewayPayDate sql.NullTime
	var qrAttemptAt sql.NullTime
	var qrExpiresAt sql.NullTime
	var confirmedAt sql.NullTime
	var cancelledAt sql.NullTime
	var finishedAt sql.NullTime
	var ticketIssuedAt sql.NullTime
	var ticketClaimedAt sql.NullTime
	if err := row.Scan(
		&out.ID,
		&out.RouteID,
		&out.UserID,
		&out.PartnerID,
		&out.SeatNumber,
		&out.FullName,
		&out.Phone,
		&out.Email,
		&dateOfBirth,
		&out.Gender,
		&out.PaymentMethod,
		&out.PaymentStatus,
		&paymentAttemptAt,
		&out.PaymentFailureReason,
		&paymentFailedAt,
		&paidAt,
		&out.GatewayTransactionNo,
		&out.GatewayBankCode,
		&out.GatewayResponseCode,
		&gatewayPayDate,
		&qrAttemptAt,
		&qrExpiresAt,
		&out.QRPayload,
		&out.QRImageURL,
		&out.BasePrice,
		&out.Fees,
		&out.Total,
		&out.Status,
		&confirmedAt,
		&cancelledAt,
		&out.CancelReason,
		&finishedAt,
		&out.TicketStatus,
		&out.TicketRef,
		&out.TicketURL,
		&out.TicketAttempts,
		&out.TicketError,
		&ticketIssuedAt,
		&ticketClaimedAt,
		&out.CreatedAt,
		&out.UpdatedAt,
	); err != nil {
		return out, err
	}
	out.DateOfBirth = nullTimeToPtr(dateOfBirth)
	out.PaymentAttemptAt = nullTimeToPtr(paymentAttemptAt)
	out.PaymentFailedAt = nullTimeToPtr(paymentFailedAt)
	out.PaidAt = nullTimeToPtr(paidAt)
	out.GatewayPayDate = nullTimeToPtr(gatewayPayDate)
	out.QRAttemptAt = nullTimeToPtr(qrAttemptAt)
	out.QRExpiresAt = nullTimeToPtr(qrExpiresAt)
	out.ConfirmedAt = nullTimeToPtr(confirmedAt)
	out.CancelledAt = nullTimeToPtr(cancelledAt)
	out.FinishedAt = nullTimeToPtr(finishedAt)
	out.TicketIssuedAt = nullTimeToPtr(ticketIssuedAt)
	out.TicketClaimedAt = nullTimeToPtr(ticketClaimedAt)
	return out, nil
}

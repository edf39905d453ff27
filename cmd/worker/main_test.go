package main

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"busline/backend/internal/lifecycle"
	"busline/backend/internal/models"
	"busline/backend/internal/repository/memory"
	"busline/backend/internal/vnpay"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubIssuer struct{ calls int }

func (s *stubIssuer) IssueTicket(_ context.Context, order models.Order) (models.TicketInfo, error) {
	s.calls++
	return models.TicketInfo{TicketID: "T-" + order.ID}, nil
}

func newWorkerManager(t *testing.T) (*lifecycle.Manager, *memory.Store, *stubIssuer) {
	t.Helper()
	store := memory.New()
	store.AddRoute(models.Route{ID: "route-1", PartnerID: "partner-1", Price: 180000, TotalSeats: 10, IsActive: true})
	gateway := vnpay.New(vnpay.Config{
		TmnCode:    "DEMO1234",
		HashSecret: "TESTSECRET",
		PaymentURL: "https://sandbox.vnpayment.vn/paymentv2/vpcpay.html",
		ReturnURL:  "https://example.com/return",
	})
	issuer := &stubIssuer{}
	manager := lifecycle.New(store, gateway, nil, lifecycle.WithTicketIssuer(issuer))
	t.Cleanup(func() { _ = manager.Drain(context.Background()) })
	return manager, store, issuer
}

func TestRunTicketRetryIssuesBacklog(t *testing.T) {
	manager, store, issuer := newWorkerManager(t)
	ctx := context.Background()
	now := time.Now().UTC()
	require.NoError(t, store.InsertOrder(ctx, models.Order{
		ID:           "order-1",
		UserID:       "user-1",
		RouteID:      "route-1",
		Status:       models.OrderStatusConfirmed,
		TicketStatus: models.TicketStatusFailed,
		Total:        180000,
		CreatedAt:    now,
		UpdatedAt:    now,
	}))

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	runTicketRetry(ctx, manager, time.Second, logger)

	order, err := store.GetOrder(ctx, "order-1")
	require.NoError(t, err)
	assert.Equal(t, models.TicketStatusIssued, order.TicketStatus)
	assert.Equal(t, "T-order-1", order.TicketRef)
	assert.Equal(t, 1, issuer.calls)

	runTicketRetry(ctx, manager, time.Second, logger)
	assert.Equal(t, 1, issuer.calls)
}

func TestRunInventoryAuditHealthyRoutes(t *testing.T) {
	manager, _, _ := newWorkerManager(t)
	violations, err := manager.AuditInventory(context.Background())
	require.NoError(t, err)
	assert.Empty(t, violations)

	runInventoryAudit(context.Background(), manager, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

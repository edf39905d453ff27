package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SeatOperations counts ledger operations by kind and result.
	SeatOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "busline",
			Name:      "seat_operations_total",
			Help:      "Seat ledger operations by operation and result",
		},
		[]string{"operation", "result"},
	)

	OrderTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "busline",
			Name:      "order_transitions_total",
			Help:      "Applied order state transitions by target status",
		},
		[]string{"to"},
	)

	// GatewayCallbacks counts payment callbacks by flow (redirect, qr) and outcome.
	GatewayCallbacks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "busline",
			Name:      "gateway_callbacks_total",
			Help:      "Payment gateway callbacks by flow and outcome",
		},
		[]string{"flow", "outcome"},
	)

	GatewayRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "busline",
			Name:      "gateway_requests_total",
			Help:      "Signed payment requests created by flow",
		},
		[]string{"flow"},
	)

	TicketIssuance = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "busline",
			Name:      "ticket_issuance_total",
			Help:      "Ticket issuance attempts by result",
		},
		[]string{"result"},
	)

	TicketIssuanceDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "busline",
			Name:      "ticket_issuance_duration_seconds",
			Help:      "Time spent calling the ticket issuance service",
			Buckets:   prometheus.DefBuckets,
		},
	)
)

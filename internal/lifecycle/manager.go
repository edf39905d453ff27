package lifecycle

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"busline/backend/internal/ledger"
	"busline/backend/internal/metrics"
	"busline/backend/internal/models"
	"busline/backend/internal/qrsession"
	"busline/backend/internal/vnpay"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

type Config struct {
	// TicketWait bounds how long a transition waits for ticket issuance before answering.
	TicketWait        time.Duration
	TicketCallTimeout time.Duration
	TicketStaleAfter  time.Duration
	TicketMaxAttempts int
	DefaultQRExpiry   int
	QRImageSize       int
}

func (c Config) withDefaults() Config {
	if c.TicketWait <= 0 {
		c.TicketWait = 3 * time.Second
	}
	if c.TicketCallTimeout <= 0 {
		c.TicketCallTimeout = 20 * time.Second
	}
	if c.TicketStaleAfter <= 0 {
		c.TicketStaleAfter = 5 * time.Minute
	}
	if c.TicketMaxAttempts <= 0 {
		c.TicketMaxAttempts = 5
	}
	if c.DefaultQRExpiry == 0 {
		c.DefaultQRExpiry = vnpay.DefaultExpiryMinutes
	}
	if c.QRImageSize <= 0 {
		c.QRImageSize = 320
	}
	return c
}

// Manager owns the order state machine and coordinates the ledger, the gateway and
// the downstream collaborators.
type Manager struct {
	store    Store
	ledger   *ledger.Ledger
	gateway  *vnpay.Gateway
	tracker  *qrsession.Tracker
	tickets  TicketIssuer
	partners PartnerDirectory
	notifier Notifier
	images   QRImageStore
	validate *validator.Validate
	cfg      Config
	logger   *slog.Logger
	now      func() time.Time
	newID    func() string
	inflight sync.WaitGroup
}

type Option func(*Manager)

func WithConfig(cfg Config) Option {
	return func(m *Manager) { m.cfg = cfg }
}

func WithTicketIssuer(issuer TicketIssuer) Option {
	return func(m *Manager) {
		if issuer != nil {
			m.tickets = issuer
		}
	}
}

func WithPartnerDirectory(dir PartnerDirectory) Option {
	return func(m *Manager) { m.partners = dir }
}

func WithNotifier(n Notifier) Option {
	return func(m *Manager) {
		if n != nil {
			m.notifier = n
		}
	}
}

func WithQRImageStore(s QRImageStore) Option {
	return func(m *Manager) { m.images = s }
}

func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

func WithIDGenerator(gen func() string) Option {
	return func(m *Manager) {
		if gen != nil {
			m.newID = gen
		}
	}
}

// New creates a manager over store using gateway for payment requests.
func New(store Store, gateway *vnpay.Gateway, logger *slog.Logger, opts ...Option) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Manager{
		store:    store,
		gateway:  gateway,
		tickets:  unavailableIssuer{},
		notifier: nopNotifier{},
		validate: newValidator(),
		logger:   logger,
		now:      time.Now,
		newID:    uuid.NewString,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.cfg = m.cfg.withDefaults()
	m.ledger = ledger.New(store, logger).WithClock(m.now)
	m.tracker = qrsession.NewTracker(m.now)
	return m
}

// Ledger exposes the seat ledger for inventory reads and audits.
func (m *Manager) Ledger() *ledger.Ledger {
	return m.ledger
}

// Drain waits for detached ticket issuance calls to finish.
func (m *Manager) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		m.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// publish records an applied transition and forwards it to the notifier.
func (m *Manager) publish(ctx context.Context, kind string, order models.Order) {
	if kind != models.EventOrderCreated && kind != models.EventOrderTicketIssued && kind != models.EventOrderPaymentFailed {
		metrics.OrderTransitions.WithLabelValues(order.Status).Inc()
	}
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()
	if err := m.notifier.Publish(pubCtx, models.NewOrderEvent(kind, order, m.now())); err != nil {
		m.logger.Warn("publish_order_event", "status", "failed", "event", kind, "order_id", order.ID, "error", err)
	}
}

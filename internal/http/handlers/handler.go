package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"busline/backend/internal/config"
	authmw "busline/backend/internal/http/middleware"
	"busline/backend/internal/lifecycle"
	"busline/backend/internal/rate"

	chimw "github.com/go-chi/chi/v5/middleware"
)

type Handler struct {
	orders         *lifecycle.Manager
	cfg            *config.Config
	logger         *slog.Logger
	paymentLimiter *rate.WindowLimiter
	timeout        time.Duration
}

func New(orders *lifecycle.Manager, cfg *config.Config, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg == nil {
		cfg = &config.Config{}
	}
	timeout := 5 * time.Second
	// transitions that issue a ticket wait for it before answering
	if wait := cfg.Tickets.IssueWait + 2*time.Second; wait > timeout {
		timeout = wait
	}
	return &Handler{
		orders:         orders,
		cfg:            cfg,
		logger:         logger,
		paymentLimiter: rate.NewWindowLimiter(cfg.PaymentRate.Limit, cfg.PaymentRate.Window),
		timeout:        timeout,
	}
}

func (h *Handler) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, h.timeout)
}

func (h *Handler) loggerForRequest(r *http.Request) *slog.Logger {
	logger := h.logger
	if logger == nil {
		return slog.Default()
	}
	if reqID := chimw.GetReqID(r.Context()); reqID != "" {
		logger = logger.With("request_id", reqID)
	}
	if userID, ok := authmw.UserIDFromContext(r.Context()); ok {
		logger = logger.With("user_id", userID)
	}
	return logger
}

func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

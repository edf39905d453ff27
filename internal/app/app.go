package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"busline/backend/internal/config"
	"busline/backend/internal/directory"
	"busline/backend/internal/integrations"
	"busline/backend/internal/lifecycle"
	"busline/backend/internal/notify"
	"busline/backend/internal/repository"
	"busline/backend/internal/ticketing"
	"busline/backend/internal/vnpay"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

// Services are the long-lived dependencies shared by the api and worker processes.
type Services struct {
	Repo    *repository.Repository
	Manager *lifecycle.Manager
	redis   *redis.Client
}

// New wires the order manager from configuration. Redis, S3 and the ticket service
// are optional; missing settings fall back to no-op collaborators.
func New(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool, logger *slog.Logger) (*Services, error) {
	repo := repository.New(pool)
	svc := &Services{Repo: repo}

	var cache redis.Cmdable
	if strings.TrimSpace(cfg.Redis.URL) != "" {
		opts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			return nil, fmt.Errorf("parse REDIS_URL: %w", err)
		}
		svc.redis = redis.NewClient(opts)
		if err := svc.redis.Ping(ctx).Err(); err != nil {
			logger.Warn("redis_ping", "status", "failed", "error", err)
		}
		cache = svc.redis
	}

	gateway := vnpay.New(vnpay.Config{
		TmnCode:    cfg.VNPay.TmnCode,
		HashSecret: cfg.VNPay.HashSecret,
		PaymentURL: cfg.VNPay.PaymentURL,
		ReturnURL:  cfg.VNPay.ReturnURL,
		Locale:     cfg.VNPay.Locale,
	})

	opts := []lifecycle.Option{
		lifecycle.WithConfig(lifecycle.Config{
			TicketWait:        cfg.Tickets.IssueWait,
			TicketStaleAfter:  cfg.Worker.ClaimStaleAfter,
			TicketMaxAttempts: cfg.Tickets.MaxAttempts,
			DefaultQRExpiry:   cfg.VNPay.DefaultExpiry,
		}),
		lifecycle.WithPartnerDirectory(directory.New(repo, cache, cfg.Redis.DirectoryTTL, logger)),
		lifecycle.WithNotifier(notify.NewPublisher(cache, cfg.Redis.EventsChannel)),
	}

	if strings.TrimSpace(cfg.Tickets.ServiceURL) != "" {
		var tokens *ticketing.TokenManager
		if cfg.Tickets.ClientID != "" {
			tokens = ticketing.NewTokenManager(ticketing.TokenManagerConfig{
				ClientID:     cfg.Tickets.ClientID,
				ClientSecret: cfg.Tickets.ClientSecret,
				Scope:        cfg.Tickets.Scope,
				TokenURL:     cfg.Tickets.TokenURL,
			}, nil)
		}
		client := ticketing.NewClient(ticketing.Config{BaseURL: cfg.Tickets.ServiceURL, RPS: cfg.Tickets.RPS}, tokens, nil, logger)
		opts = append(opts, lifecycle.WithTicketIssuer(client))
	} else {
		logger.Warn("ticket_service", "status", "not_configured")
	}

	if cfg.S3.Bucket != "" {
		s3Client, err := integrations.NewS3(cfg.S3)
		if err != nil {
			return nil, err
		}
		opts = append(opts, lifecycle.WithQRImageStore(s3Client))
	}

	svc.Manager = lifecycle.New(repo, gateway, logger, opts...)
	return svc, nil
}

// Close waits for in-flight ticket issuance and releases connections.
func (s *Services) Close(ctx context.Context) error {
	err := s.Manager.Drain(ctx)
	if s.redis != nil {
		if cerr := s.redis.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

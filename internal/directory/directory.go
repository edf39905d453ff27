package directory

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	"busline/backend/internal/models"

	"github.com/redis/go-redis/v9"
)

const defaultTTL = 10 * time.Minute

// Source loads partner contacts from the system of record.
type Source interface {
	PartnerContact(ctx context.Context, partnerID string) (models.PartnerContact, error)
}

// Cache is a read-through Redis cache in front of Source. A nil redis client disables caching.
type Cache struct {
	source Source
	rdb    redis.Cmdable
	ttl    time.Duration
	prefix string
	logger *slog.Logger
}

func New(source Source, rdb redis.Cmdable, ttl time.Duration, logger *slog.Logger) *Cache {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{source: source, rdb: rdb, ttl: ttl, prefix: "busline:partner:", logger: logger}
}

func (c *Cache) PartnerContact(ctx context.Context, partnerID string) (models.PartnerContact, error) {
	partnerID = strings.TrimSpace(partnerID)
	if c.rdb == nil || partnerID == "" {
		return c.source.PartnerContact(ctx, partnerID)
	}

	key := c.prefix + partnerID
	raw, err := c.rdb.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var contact models.PartnerContact
		if err := json.Unmarshal(raw, &contact); err == nil {
			return contact, nil
		}
		c.logger.Warn("partner_cache", "status", "decode_failed", "partner_id", partnerID)
	case errors.Is(err, redis.Nil):
	default:
		c.logger.Warn("partner_cache", "status", "get_failed", "partner_id", partnerID, "error", err)
	}

	contact, err := c.source.PartnerContact(ctx, partnerID)
	if err != nil {
		return contact, err
	}
	if payload, err := json.Marshal(contact); err == nil {
		if err := c.rdb.Set(ctx, key, payload, c.ttl).Err(); err != nil {
			c.logger.Warn("partner_cache", "status", "set_failed", "partner_id", partnerID, "error", err)
		}
	}
	return contact, nil
}

// Invalidate drops a cached contact after the partner record changes.
func (c *Cache) Invalidate(ctx context.Context, partnerID string) error {
	if c.rdb == nil {
		return nil
	}
	return c.rdb.Del(ctx, c.prefix+strings.TrimSpace(partnerID)).Err()
}

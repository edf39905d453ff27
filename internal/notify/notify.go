package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"busline/backend/internal/models"

	"github.com/redis/go-redis/v9"
)

const DefaultChannel = "busline:orders"

// Publisher fans order events out over Redis pub/sub: once on the shared channel and
// once on the purchaser's channel.
type Publisher struct {
	rdb     redis.Cmdable
	channel string
}

func NewPublisher(rdb redis.Cmdable, channel string) *Publisher {
	channel = strings.TrimSpace(channel)
	if channel == "" {
		channel = DefaultChannel
	}
	return &Publisher{rdb: rdb, channel: channel}
}

// UserChannel is the per-user channel name for userID.
func (p *Publisher) UserChannel(userID string) string {
	return p.channel + ":user:" + userID
}

func (p *Publisher) Publish(ctx context.Context, event models.OrderEvent) error {
	if p == nil || p.rdb == nil {
		return nil
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	if err := p.rdb.Publish(ctx, p.channel, payload).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", p.channel, err)
	}
	if strings.TrimSpace(event.UserID) == "" {
		return nil
	}
	userChannel := p.UserChannel(event.UserID)
	if err := p.rdb.Publish(ctx, userChannel, payload).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", userChannel, err)
	}
	return nil
}

package directory

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"busline/backend/internal/models"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingSource struct {
	calls    int
	contacts map[string]models.PartnerContact
}

func (s *countingSource) PartnerContact(_ context.Context, id string) (models.PartnerContact, error) {
	s.calls++
	contact, ok := s.contacts[id]
	if !ok {
		return models.PartnerContact{}, errors.New("partner not found")
	}
	return contact, nil
}

func newSource() *countingSource {
	return &countingSource{contacts: map[string]models.PartnerContact{
		"partner-1": {ID: "partner-1", CompanyName: "Hoang Long", Phone: "1900 1234"},
	}}
}

func TestCacheWithoutRedisPassesThrough(t *testing.T) {
	t.Parallel()

	src := newSource()
	cache := New(src, nil, 0, nil)
	for i := 0; i < 2; i++ {
		contact, err := cache.PartnerContact(context.Background(), "partner-1")
		require.NoError(t, err)
		assert.Equal(t, "Hoang Long", contact.CompanyName)
	}
	assert.Equal(t, 2, src.calls)
	assert.NoError(t, cache.Invalidate(context.Background(), "partner-1"))
}

func TestCacheFallsBackWhenRedisUnreachable(t *testing.T) {
	t.Parallel()

	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", DialTimeout: 50 * time.Millisecond, MaxRetries: -1})
	defer rdb.Close()

	src := newSource()
	cache := New(src, rdb, time.Minute, nil)
	contact, err := cache.PartnerContact(context.Background(), "partner-1")
	require.NoError(t, err)
	assert.Equal(t, "partner-1", contact.ID)

	_, err = cache.PartnerContact(context.Background(), "missing")
	assert.Error(t, err)
}

func TestCacheReadThrough(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	defer rdb.Close()

	ctx := context.Background()
	src := newSource()
	cache := New(src, rdb, time.Minute, nil)
	cache.prefix = "busline:test:partner:" + time.Now().Format("150405.000000") + ":"
	defer func() { _ = cache.Invalidate(ctx, "partner-1") }()

	for i := 0; i < 3; i++ {
		contact, err := cache.PartnerContact(ctx, "partner-1")
		require.NoError(t, err)
		assert.Equal(t, "Hoang Long", contact.CompanyName)
	}
	assert.Equal(t, 1, src.calls)

	require.NoError(t, cache.Invalidate(ctx, "partner-1"))
	_, err := cache.PartnerContact(ctx, "partner-1")
	require.NoError(t, err)
	assert.Equal(t, 2, src.calls)
}

package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// SentCache keeps a short-lived correlator -> message id mapping so webhook
// handling can resolve callbacks without hitting the database. Entries expire
// after the configured TTL; a miss just falls through to the store.
type SentCache struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewSentCache(rdb *redis.Client, ttl time.Duration) *SentCache {
	return &SentCache{rdb: rdb, ttl: ttl}
}

func key(correlator string) string {
	return fmt.Sprintf("sms:sent:%s", correlator)
}

func (c *SentCache) StoreSent(ctx context.Context, correlator string, messageID uuid.UUID) error {
	return c.rdb.Set(ctx, key(correlator), messageID.String(), c.ttl).Err()
}

func (c *SentCache) LookupSent(ctx context.Context, correlator string) (uuid.UUID, bool, error) {
	val, err := c.rdb.Get(ctx, key(correlator)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return uuid.Nil, false, nil
		}
		return uuid.Nil, false, err
	}

	id, err := uuid.Parse(val)
	if err != nil {
		return uuid.Nil, false, err
	}
	return id, true, nil
}

package replay

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "planhub:nonce:"

// RedisNonceStore keeps nonces in Redis using SET NX with a TTL. Redis
// expires the keys itself, so DeleteExpired has nothing to do. The security
// event log stays in the primary database.
type RedisNonceStore struct {
	client  *redis.Client
	events  *SecurityEventStore
	maxSkew time.Duration
	now     func() time.Time
}

// NewRedisNonceStore connects to Redis at the given URL and verifies the
// connection before returning.
func NewRedisNonceStore(redisURL string, events *SecurityEventStore, maxSkew time.Duration) (*RedisNonceStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	if maxSkew <= 0 {
		maxSkew = DefaultMaxSkew
	}
	return &RedisNonceStore{client: client, events: events, maxSkew: maxSkew, now: time.Now}, nil
}

// CheckAndRecord implements NonceStore.
func (s *RedisNonceStore) CheckAndRecord(ctx context.Context, signature string, requestTime time.Time, ttl time.Duration) error {
	now := s.now()
	if skew := now.Sub(requestTime); skew > s.maxSkew || skew < -s.maxSkew {
		s.events.Emit(ctx, EventTimestampSkew, SeveritySkew, map[string]any{
			"signature":        truncateSignature(signature),
			"requestTimestamp": requestTime.Format(time.RFC3339),
			"skewSeconds":      int(skew.Seconds()),
			"maxSkewSeconds":   int(s.maxSkew.Seconds()),
		})
		return ErrTimestampSkew
	}
	if ttl <= 0 {
		ttl = DefaultNonceTTL
	}

	ok, err := s.client.SetNX(ctx, redisKeyPrefix+signature, requestTime.Format(time.RFC3339Nano), ttl).Result()
	if err != nil {
		return fmt.Errorf("record nonce: %w", err)
	}
	if !ok {
		s.events.Emit(ctx, EventReplayAttack, SeverityReplay, map[string]any{
			"signature":        truncateSignature(signature),
			"requestTimestamp": requestTime.Format(time.RFC3339),
		})
		return ErrReplayDetected
	}
	return nil
}

// DeleteExpired implements NonceStore. Redis TTLs handle expiry.
func (s *RedisNonceStore) DeleteExpired(ctx context.Context, limit int) (int64, error) {
	return 0, nil
}

// Close releases the Redis connection.
func (s *RedisNonceStore) Close() error {
	return s.client.Close()
}

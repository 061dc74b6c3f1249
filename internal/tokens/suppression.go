package tokens

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const suppressionKeyPrefix = "doorbell:revoked:"

// redisAPI is the part of redis.Cmdable the suppressor uses.
type redisAPI interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	MGet(ctx context.Context, keys ...string) *redis.SliceCmd
}

// Suppressor remembers recently revoked tokens so they are not dispatched to
// while the store update is still in flight or replicating.
type Suppressor struct {
	client redisAPI
	ttl    time.Duration
}

func NewSuppressor(client redisAPI, ttl time.Duration) *Suppressor {
	return &Suppressor{client: client, ttl: ttl}
}

// NewRedisClient connects to url, which is either a redis:// URL or host:port.
func NewRedisClient(ctx context.Context, url, password string, db int) (*redis.Client, error) {
	var opts *redis.Options
	if strings.HasPrefix(url, "redis://") || strings.HasPrefix(url, "rediss://") {
		parsed, err := redis.ParseURL(url)
		if err != nil {
			return nil, fmt.Errorf("invalid redis url: %w", err)
		}
		opts = parsed
	} else {
		opts = &redis.Options{Addr: url, Password: password, DB: db}
	}

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return client, nil
}

// Suppress marks token as revoked for the configured TTL.
func (s *Suppressor) Suppress(ctx context.Context, token string) error {
	return s.client.Set(ctx, suppressionKeyPrefix+token, "1", s.ttl).Err()
}

// FilterSuppressed returns tokens minus the suppressed ones, preserving
// order and duplicates, and the number removed. On a cache error the input
// is returned unchanged along with the error.
func (s *Suppressor) FilterSuppressed(ctx context.Context, tokens []string) ([]string, int, error) {
	if len(tokens) == 0 {
		return tokens, 0, nil
	}

	keys := make([]string, len(tokens))
	for i, token := range tokens {
		keys[i] = suppressionKeyPrefix + token
	}

	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return tokens, 0, fmt.Errorf("failed to read suppression cache: %w", err)
	}

	kept := make([]string, 0, len(tokens))
	for i, token := range tokens {
		if i < len(values) && values[i] != nil {
			continue
		}
		kept = append(kept, token)
	}
	return kept, len(tokens) - len(kept), nil
}

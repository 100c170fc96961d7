package gateway

import (
	"context"
	"fmt"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"

	"zakai/pkg"
)

// RedisStore keeps conversation history in Redis under conversation:<token>
// keys with a rolling TTL. It implements HistoryStore only; auth state stays
// with the user service.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisStore connects to Redis using the given URL and verifies the
// connection.
func NewRedisStore(ctx context.Context, redisURL string, ttl time.Duration) (*RedisStore, error) {
	if redisURL == "" {
		return nil, fmt.Errorf("REDIS_URL is required for redis history storage")
	}

	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse REDIS_URL: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisStore{client: client, ttl: ttl}, nil
}

// Load returns the stored history for the token, refreshing its TTL. A
// missing key yields an empty history, not an error.
func (s *RedisStore) Load(ctx context.Context, token string) ([]pkg.HistoryMessage, error) {
	key := historyKey(token)
	data, err := s.client.Get(ctx, key).Result()
	if err != nil {
		if err == redis.Nil {
			return []pkg.HistoryMessage{}, nil
		}
		return nil, err
	}

	var history []pkg.HistoryMessage
	if err := sonic.Unmarshal([]byte(data), &history); err != nil {
		return nil, fmt.Errorf("failed to decode stored history: %w", err)
	}

	s.client.Expire(ctx, key, s.ttl)
	return history, nil
}

// Save overwrites the stored history for the token.
func (s *RedisStore) Save(ctx context.Context, token string, history []pkg.HistoryMessage) error {
	data, err := sonic.Marshal(history)
	if err != nil {
		return fmt.Errorf("failed to marshal history: %w", err)
	}
	return s.client.Set(ctx, historyKey(token), data, s.ttl).Err()
}

// Close closes the underlying Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

func historyKey(token string) string {
	return "conversation:" + token
}

package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/evogenom/ephemeral-auth/internal/logger"
	"github.com/evogenom/ephemeral-auth/internal/models"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	redisKeyPrefix = "ephemeral_token:"

	// redisExpiryGrace keeps entries past their expiry so a late redemption
	// still finds, and destroys, the token before rejecting it.
	redisExpiryGrace = time.Minute
)

// RedisStore keeps tokens as Redis keys. Consumption uses GETDEL, which is
// atomic, and Redis expires abandoned tokens on its own.
type RedisStore struct {
	client *redis.Client
}

var _ Store = (*RedisStore)(nil)

type redisRecord struct {
	ID        uuid.UUID     `json:"id"`
	Claims    models.Claims `json:"claims"`
	ExpiresAt time.Time     `json:"expires_at"`
	CreatedAt time.Time     `json:"created_at"`
}

// OpenRedisStore connects to the redis:// URL in dsn and checks the
// connection.
func OpenRedisStore(dsn string) (*RedisStore, error) {
	opts, err := redis.ParseURL(dsn)
	if err != nil {
		return nil, fmt.Errorf("invalid redis dsn: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to reach redis at %s: %w", opts.Addr, err)
	}

	logger.Info("Token store ready", zap.String("driver", "redis"), zap.String("addr", opts.Addr))
	return NewRedisStore(client), nil
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (r *RedisStore) key(value string) string {
	return redisKeyPrefix + value
}

func (r *RedisStore) Insert(ctx context.Context, token *models.EphemeralToken) error {
	now := time.Now().UTC()
	if token.CreatedAt.IsZero() {
		token.CreatedAt = now
	}
	token.UpdatedAt = now

	data, err := json.Marshal(redisRecord{
		ID:        token.ID,
		Claims:    token.Claims,
		ExpiresAt: token.ExpiresAt,
		CreatedAt: token.CreatedAt,
	})
	if err != nil {
		return fmt.Errorf("marshal ephemeral token: %w", err)
	}

	ttl := time.Until(token.ExpiresAt)
	if ttl < 0 {
		ttl = 0
	}
	ttl += redisExpiryGrace

	ok, err := r.client.SetNX(ctx, r.key(token.Value), data, ttl).Result()
	if err != nil {
		return fmt.Errorf("insert ephemeral token: %w", err)
	}
	if !ok {
		return ErrConflict
	}
	return nil
}

func (r *RedisStore) TakeByValue(ctx context.Context, value string) (*models.EphemeralToken, error) {
	data, err := r.client.GetDel(ctx, r.key(value)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("take ephemeral token: %w", err)
	}

	var rec redisRecord
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&rec); err != nil {
		return nil, fmt.Errorf("unmarshal ephemeral token: %w", err)
	}
	return &models.EphemeralToken{
		ID:        rec.ID,
		Value:     value,
		Claims:    rec.Claims,
		ExpiresAt: rec.ExpiresAt,
		CreatedAt: rec.CreatedAt,
		UpdatedAt: rec.CreatedAt,
	}, nil
}

// DeleteExpired is a no-op; Redis evicts keys once their TTL lapses.
func (r *RedisStore) DeleteExpired(context.Context, time.Time) (int64, error) {
	return 0, nil
}

func (r *RedisStore) Count(ctx context.Context) (int64, error) {
	var n int64
	iter := r.client.Scan(ctx, 0, redisKeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		n++
	}
	if err := iter.Err(); err != nil {
		return 0, fmt.Errorf("count tokens: %w", err)
	}
	return n, nil
}

func (r *RedisStore) Close() error {
	return r.client.Close()
}

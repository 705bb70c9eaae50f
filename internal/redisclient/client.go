package redisclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"trade-ledger/internal/models"

	"github.com/go-redis/redis/v8"
	"github.com/shopspring/decimal"
)

const statsKey = "ledger:stats"

type Client struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewClient creates a new Redis client and checks connectivity
func NewClient(addr, password string, db int, ttl time.Duration) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return NewWithClient(rdb, ttl), nil
}

// NewWithClient wraps an existing redis client
func NewWithClient(rdb *redis.Client, ttl time.Duration) *Client {
	return &Client{rdb: rdb, ttl: ttl}
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Ping checks Redis connectivity
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

func balanceKey(ownerID, role string) string {
	return fmt.Sprintf("wallet:balance:%s:%s", role, ownerID)
}

// GetBalance returns a cached wallet balance. ok is false on a cache miss.
func (c *Client) GetBalance(ctx context.Context, ownerID, role string) (balance decimal.Decimal, ok bool, err error) {
	val, err := c.rdb.Get(ctx, balanceKey(ownerID, role)).Result()
	if errors.Is(err, redis.Nil) {
		return decimal.Zero, false, nil
	}
	if err != nil {
		return decimal.Zero, false, err
	}
	balance, err = decimal.NewFromString(val)
	if err != nil {
		return decimal.Zero, false, fmt.Errorf("corrupt cached balance: %w", err)
	}
	return balance, true, nil
}

// SetBalance caches a wallet balance for the configured TTL
func (c *Client) SetBalance(ctx context.Context, ownerID, role string, balance decimal.Decimal) error {
	return c.rdb.Set(ctx, balanceKey(ownerID, role), balance.String(), c.ttl).Err()
}

// InvalidateBalance drops a cached wallet balance
func (c *Client) InvalidateBalance(ctx context.Context, ownerID, role string) error {
	return c.rdb.Del(ctx, balanceKey(ownerID, role)).Err()
}

// GetStats returns the cached dashboard counters. ok is false on a cache miss.
func (c *Client) GetStats(ctx context.Context) (*models.DashboardStats, bool, error) {
	val, err := c.rdb.Get(ctx, statsKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var stats models.DashboardStats
	if err := json.Unmarshal(val, &stats); err != nil {
		return nil, false, fmt.Errorf("corrupt cached stats: %w", err)
	}
	return &stats, true, nil
}

// SetStats caches the dashboard counters for the configured TTL
func (c *Client) SetStats(ctx context.Context, stats *models.DashboardStats) error {
	val, err := json.Marshal(stats)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, statsKey, val, c.ttl).Err()
}

// InvalidateStats drops the cached dashboard counters
func (c *Client) InvalidateStats(ctx context.Context) error {
	return c.rdb.Del(ctx, statsKey).Err()
}

// ClaimIdempotencyKey records key if it is unused. It reports false when the
// key was already claimed and has not expired.
func (c *Client) ClaimIdempotencyKey(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return c.rdb.SetNX(ctx, "idempotency:"+key, "1", ttl).Result()
}

// ReleaseIdempotencyKey frees a claimed key so the request can be retried
func (c *Client) ReleaseIdempotencyKey(ctx context.Context, key string) error {
	return c.rdb.Del(ctx, "idempotency:"+key).Err()
}

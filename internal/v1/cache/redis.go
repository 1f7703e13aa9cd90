package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/driftroom/driftroom/internal/v1/logging"
	"github.com/driftroom/driftroom/internal/v1/metrics"
)

// Client handles all interaction with the cache. Room reservations and
// rate-limit budgets both live here, so every round trip goes through a
// circuit breaker: a dead cache degrades into fast failures instead of
// piled-up timeouts on the request path.
type Client struct {
	rdb *redis.Client
	cb  *gobreaker.CircuitBreaker
}

// Raw returns the underlying Redis client.
func (c *Client) Raw() *redis.Client {
	if c == nil {
		return nil
	}
	return c.rdb
}

// New connects to the cache at the given DSN (redis://host:port/db) and
// verifies the connection immediately with a bounded ping.
func New(redisURL string) (*Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid cache DSN: %w", err)
	}

	opts.DialTimeout = 10 * time.Second
	opts.ReadTimeout = 30 * time.Second
	opts.WriteTimeout = 30 * time.Second
	opts.PoolSize = 10
	opts.MinIdleConns = 2

	rdb := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to cache: %w", err)
	}

	st := gobreaker.Settings{
		Name:        "cache",
		MaxRequests: 5,
		Interval:    1 * time.Minute,
		Timeout:     15 * time.Second,
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			var stateVal float64
			switch to {
			case gobreaker.StateClosed:
				stateVal = 0
			case gobreaker.StateHalfOpen:
				stateVal = 1
			case gobreaker.StateOpen:
				stateVal = 2
			}
			metrics.CacheBreakerState.Set(stateVal)
			logging.Warn(context.Background(), "cache circuit breaker state changed",
				zap.String("from", from.String()), zap.String("to", to.String()))
		},
	}

	logging.Info(context.Background(), "connected to cache", zap.String("addr", opts.Addr))
	return &Client{
		rdb: rdb,
		cb:  gobreaker.NewCircuitBreaker(st),
	}, nil
}

// Get returns the value stored at key. A missing key is not an error; it is
// reported through the second return value.
func (c *Client) Get(ctx context.Context, key string) (string, bool, error) {
	res, err := c.cb.Execute(func() (interface{}, error) {
		val, err := c.rdb.Get(ctx, key).Result()
		if errors.Is(err, redis.Nil) {
			// Miss, not a failure. Must not trip the breaker.
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		return val, nil
	})
	if err != nil {
		logging.Error(ctx, "cache get failed", zap.String("key", key), zap.Error(err))
		return "", false, fmt.Errorf("cache get: %w", err)
	}
	if res == nil {
		return "", false, nil
	}
	return res.(string), true, nil
}

// SetWithTTL stores value at key with the given expiry.
func (c *Client) SetWithTTL(ctx context.Context, key, value string, ttl time.Duration) error {
	_, err := c.cb.Execute(func() (interface{}, error) {
		return nil, c.rdb.Set(ctx, key, value, ttl).Err()
	})
	if err != nil {
		logging.Error(ctx, "cache set failed", zap.String("key", key), zap.Error(err))
		return fmt.Errorf("cache set: %w", err)
	}
	return nil
}

// Delete removes key. Deleting a missing key succeeds.
func (c *Client) Delete(ctx context.Context, key string) error {
	_, err := c.cb.Execute(func() (interface{}, error) {
		return nil, c.rdb.Del(ctx, key).Err()
	})
	if err != nil {
		logging.Error(ctx, "cache delete failed", zap.String("key", key), zap.Error(err))
		return fmt.Errorf("cache delete: %w", err)
	}
	return nil
}

// Exists reports whether key is present.
func (c *Client) Exists(ctx context.Context, key string) (bool, error) {
	res, err := c.cb.Execute(func() (interface{}, error) {
		return c.rdb.Exists(ctx, key).Result()
	})
	if err != nil {
		logging.Error(ctx, "cache exists failed", zap.String("key", key), zap.Error(err))
		return false, fmt.Errorf("cache exists: %w", err)
	}
	return res.(int64) > 0, nil
}

// Decrement decreases the integer at key by the given amount and returns the
// new value.
func (c *Client) Decrement(ctx context.Context, key string, by int64) (int64, error) {
	res, err := c.cb.Execute(func() (interface{}, error) {
		return c.rdb.DecrBy(ctx, key, by).Result()
	})
	if err != nil {
		logging.Error(ctx, "cache decrement failed", zap.String("key", key), zap.Error(err))
		return 0, fmt.Errorf("cache decrement: %w", err)
	}
	return res.(int64), nil
}

// Ping checks cache connectivity. Used by the readiness probe.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.cb.Execute(func() (interface{}, error) {
		return nil, c.rdb.Ping(ctx).Err()
	})
	if err != nil {
		return fmt.Errorf("cache ping: %w", err)
	}
	return nil
}

// Close releases the connection pool.
func (c *Client) Close() error {
	if c == nil || c.rdb == nil {
		return nil
	}
	return c.rdb.Close()
}

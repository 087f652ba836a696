// Package redis provides rate limiting, the run status cache and the live
// action feed.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/testforge/trackingtester/internal/config"
	"github.com/testforge/trackingtester/internal/domain"
)

// Cache provides Redis caching functionality
type Cache struct {
	client    *redis.Client
	statusTTL time.Duration
}

// Key prefixes for different cache types
const (
	PrefixRun       = "run:"
	PrefixRateLimit = "ratelimit:"
)

// Default TTLs
const (
	DefaultStatusTTL = 24 * time.Hour
	RateLimitWindow  = 1 * time.Minute
)

// FeedClosed is published on a run's action channel when the session ends.
const FeedClosed = "\x00done"

// New creates a new Redis cache client
func New(cfg config.RedisConfig) (*Cache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr(),
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}

	return NewFromClient(client, cfg.StatusTTL), nil
}

// NewFromClient wraps an existing client.
func NewFromClient(client *redis.Client, statusTTL time.Duration) *Cache {
	if statusTTL <= 0 {
		statusTTL = DefaultStatusTTL
	}
	return &Cache{client: client, statusTTL: statusTTL}
}

// Close closes the Redis connection
func (c *Cache) Close() error {
	return c.client.Close()
}

// Health checks Redis connectivity
func (c *Cache) Health(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func statusKey(id uuid.UUID) string {
	return PrefixRun + id.String() + ":status"
}

func runKey(id uuid.UUID) string {
	return PrefixRun + id.String()
}

// ActionsChannel is the Pub/Sub channel carrying a run's action lines.
func ActionsChannel(id uuid.UUID) string {
	return PrefixRun + id.String() + ":actions"
}

// Run status caching

// GetRunStatus returns the cached status, or "" when none is cached.
func (c *Cache) GetRunStatus(ctx context.Context, id uuid.UUID) (domain.RunStatus, error) {
	status, err := c.client.Get(ctx, statusKey(id)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", nil
		}
		return "", err
	}

	return domain.RunStatus(status), nil
}

// SetRunStatus caches run status
func (c *Cache) SetRunStatus(ctx context.Context, id uuid.UUID, status domain.RunStatus) error {
	return c.client.Set(ctx, statusKey(id), string(status), c.statusTTL).Err()
}

// GetRun returns a cached run, or nil when none is cached.
func (c *Cache) GetRun(ctx context.Context, id uuid.UUID) (*domain.TrackingRun, error) {
	data, err := c.client.Get(ctx, runKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}

	var run domain.TrackingRun
	if err := json.Unmarshal(data, &run); err != nil {
		return nil, err
	}

	return &run, nil
}

// SetRun caches a run together with its status. Only terminal runs are
// cached in full since running ones change underneath the cache.
func (c *Cache) SetRun(ctx context.Context, run *domain.TrackingRun) error {
	if !run.Status.IsTerminal() {
		return c.SetRunStatus(ctx, run.ID, run.Status)
	}

	data, err := json.Marshal(run)
	if err != nil {
		return err
	}

	pipe := c.client.TxPipeline()
	pipe.Set(ctx, runKey(run.ID), data, c.statusTTL)
	pipe.Set(ctx, statusKey(run.ID), string(run.Status), c.statusTTL)
	_, err = pipe.Exec(ctx)
	return err
}

// Rate limiting

// CheckRateLimit increments the counter for key in the current window and
// reports whether the request is within limit. A non-positive window means
// RateLimitWindow.
func (c *Cache) CheckRateLimit(ctx context.Context, key string, limit int, window time.Duration) (bool, int, error) {
	if window <= 0 {
		window = RateLimitWindow
	}
	fullKey := PrefixRateLimit + key

	pipe := c.client.Pipeline()
	incr := pipe.Incr(ctx, fullKey)
	pipe.ExpireNX(ctx, fullKey, window)

	if _, err := pipe.Exec(ctx); err != nil {
		return false, 0, err
	}

	count := int(incr.Val())
	return count <= limit, count, nil
}

// GetRateLimitRemaining returns remaining rate limit
func (c *Cache) GetRateLimitRemaining(ctx context.Context, key string, limit int) (int, error) {
	count, err := c.client.Get(ctx, PrefixRateLimit+key).Int()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return limit, nil
		}
		return 0, err
	}

	return max(limit-count, 0), nil
}

// Live action feed

// PublishAction sends one action line to the run's feed.
func (c *Cache) PublishAction(ctx context.Context, id uuid.UUID, line string) error {
	return c.client.Publish(ctx, ActionsChannel(id), line).Err()
}

// CloseFeed tells subscribers that no more lines will follow.
func (c *Cache) CloseFeed(ctx context.Context, id uuid.UUID) error {
	return c.PublishAction(ctx, id, FeedClosed)
}

// SubscribeActions streams a run's action lines. The channel closes when the
// feed is closed or ctx is done.
func (c *Cache) SubscribeActions(ctx context.Context, id uuid.UUID) (<-chan string, error) {
	sub := c.client.Subscribe(ctx, ActionsChannel(id))
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("subscribing to actions: %w", err)
	}

	out := make(chan string)
	go func() {
		defer close(out)
		defer sub.Close()

		msgs := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok || msg.Payload == FeedClosed {
					return
				}
				select {
				case out <- msg.Payload:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, nil
}

// ActionPublisher returns a hook that forwards action lines to the run's
// feed. Publish errors are passed to onErr, which may be nil.
func (c *Cache) ActionPublisher(ctx context.Context, id uuid.UUID, onErr func(error)) func(string) {
	return func(line string) {
		if err := c.PublishAction(ctx, id, line); err != nil && onErr != nil {
			onErr(err)
		}
	}
}

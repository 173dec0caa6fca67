// Package cache provides a read-through redis cache for change detail
// snapshots. The cache is best effort: a miss or a redis failure falls back
// to the database, and every write path invalidates the affected change.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	changeModel "github.com/castingclouds/gerrit-sub002/internal/change/model"
)

// DefaultTTL bounds snapshot staleness when an invalidation is lost.
const DefaultTTL = 5 * time.Minute

// Client caches change detail snapshots in redis.
type Client struct {
	rdb    *redis.Client
	ttl    time.Duration
	logger *zap.SugaredLogger
}

// New connects to redis at addr. ttl <= 0 selects DefaultTTL.
func New(ctx context.Context, addr string, ttl time.Duration, logger *zap.SugaredLogger) (*Client, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis at %s: %w", addr, err)
	}
	return &Client{rdb: rdb, ttl: ttl, logger: logger}, nil
}

func detailKey(number int64) string {
	return fmt.Sprintf("change:detail:%d", number)
}

// GetDetail returns the cached snapshot of a change, if any.
func (c *Client) GetDetail(ctx context.Context, number int64) (*changeModel.ChangeDetailResponse, bool) {
	data, err := c.rdb.Get(ctx, detailKey(number)).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.logger.Warnw("cache read failed", "change", number, "error", err)
		}
		return nil, false
	}

	var detail changeModel.ChangeDetailResponse
	if err := json.Unmarshal(data, &detail); err != nil {
		c.logger.Warnw("cache entry corrupt, dropping", "change", number, "error", err)
		c.Invalidate(ctx, number)
		return nil, false
	}
	return &detail, true
}

// SetDetail stores a snapshot of a change.
func (c *Client) SetDetail(ctx context.Context, number int64, detail *changeModel.ChangeDetailResponse) {
	data, err := json.Marshal(detail)
	if err != nil {
		c.logger.Warnw("cache encode failed", "change", number, "error", err)
		return
	}
	if err := c.rdb.Set(ctx, detailKey(number), data, c.ttl).Err(); err != nil {
		c.logger.Warnw("cache write failed", "change", number, "error", err)
	}
}

// Invalidate drops the snapshot of a change.
func (c *Client) Invalidate(ctx context.Context, number int64) {
	if err := c.rdb.Del(ctx, detailKey(number)).Err(); err != nil {
		c.logger.Warnw("cache invalidation failed", "change", number, "error", err)
	}
}

// Close releases the redis connection.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Package rediscache は終端スナップショットのRedisキャッシュを提供します。
// キーは job:status:<id>、値はStatusSnapshotのJSON。
package rediscache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/VolodymyrStetsenko/rukh/internal/core/analysis"
)

// DefaultTTL は終端スナップショットの既定保持期間
const DefaultTTL = time.Hour

// Cache はanalysis.StatusCacheのRedis実装です
type Cache struct {
	client *redis.Client
	ttl    time.Duration
}

// New はRedisに接続してCacheを作成します
func New(ctx context.Context, url string, ttl time.Duration) (*Cache, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	return &Cache{client: client, ttl: ttl}, nil
}

// コンパイル時の型チェック
var _ analysis.StatusCache = (*Cache)(nil)

func statusKey(jobID uuid.UUID) string {
	return fmt.Sprintf("job:status:%s", jobID)
}

// GetStatus はキャッシュ済みスナップショットを返す。ミス時は (nil, nil)。
func (c *Cache) GetStatus(ctx context.Context, jobID uuid.UUID) (*analysis.StatusSnapshot, error) {
	data, err := c.client.Get(ctx, statusKey(jobID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get cached status: %w", err)
	}

	var snap analysis.StatusSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("failed to unmarshal cached status: %w", err)
	}
	return &snap, nil
}

// SetStatus は終端スナップショットをTTL付きで保存する
func (c *Cache) SetStatus(ctx context.Context, snap analysis.StatusSnapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to marshal status: %w", err)
	}
	if err := c.client.Set(ctx, statusKey(snap.JobID), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to cache status: %w", err)
	}
	return nil
}

// Close はRedis接続を閉じます
func (c *Cache) Close() error {
	return c.client.Close()
}

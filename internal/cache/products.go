// Package cache keeps product listing pages in Redis.
package cache

import (
	"context"
	"crypto/md5"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"invoicing-service/config"
	"invoicing-service/internal/core"
)

const (
	keyPrefix        = "products:list"
	generationPrefix = "products:gen"
)

// NewRedisClient connects and pings Redis.
func NewRedisClient(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to ping redis at %s: %w", cfg.Addr, err)
	}
	return client, nil
}

// ProductCache stores JSON-encoded product pages keyed by tenant, branch,
// branch generation and a hash of the filter. Invalidation bumps the generation;
// pages of older generations are never read again and expire with the TTL.
type ProductCache struct {
	client redis.UniversalClient
	ttl    time.Duration
	logger *zap.Logger
}

var _ core.ProductCache = (*ProductCache)(nil)

func NewProductCache(client redis.UniversalClient, ttl time.Duration, logger *zap.Logger) *ProductCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ProductCache{client: client, ttl: ttl, logger: logger}
}

func (c *ProductCache) Get(ctx context.Context, filter core.ProductFilter) (*core.ProductPage, int64, error) {
	gen, err := c.generation(ctx, filter.TenantID, filter.BranchID)
	if err != nil {
		return nil, 0, err
	}
	key, err := Key(filter, gen)
	if err != nil {
		return nil, 0, err
	}
	val, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, gen, nil
	}
	if err != nil {
		return nil, 0, fmt.Errorf("failed to read %s: %w", key, err)
	}

	var page core.ProductPage
	if err := json.Unmarshal(val, &page); err != nil {
		// Drop entries written by an incompatible version.
		c.client.Del(ctx, key)
		return nil, gen, nil
	}
	return &page, gen, nil
}

func (c *ProductCache) Set(ctx context.Context, filter core.ProductFilter, generation int64, page *core.ProductPage) error {
	key, err := Key(filter, generation)
	if err != nil {
		return err
	}
	data, err := json.Marshal(page)
	if err != nil {
		return fmt.Errorf("failed to encode product page: %w", err)
	}
	if err := c.client.Set(ctx, key, data, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to write %s: %w", key, err)
	}
	return nil
}

// Invalidate retires every cached page of one tenant branch.
func (c *ProductCache) Invalidate(ctx context.Context, tenantID, branchID string) error {
	key := generationKey(tenantID, branchID)
	if err := c.client.Incr(ctx, key).Err(); err != nil {
		return fmt.Errorf("failed to bump %s: %w", key, err)
	}
	return nil
}

func (c *ProductCache) generation(ctx context.Context, tenantID, branchID string) (int64, error) {
	key := generationKey(tenantID, branchID)
	gen, err := c.client.Get(ctx, key).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read %s: %w", key, err)
	}
	return gen, nil
}

// AfterPost invalidates the branch whose stock just changed.
func (c *ProductCache) AfterPost(ctx context.Context, res *core.PostingResult) {
	inv := res.Invoice
	if err := c.Invalidate(ctx, inv.TenantID, inv.BranchID); err != nil {
		c.logger.Warn("failed to invalidate product cache",
			zap.String("tenant_id", inv.TenantID),
			zap.String("branch_id", inv.BranchID),
			zap.Error(err),
		)
	}
}

func generationKey(tenantID, branchID string) string {
	return fmt.Sprintf("%s:%s:%s", generationPrefix, tenantID, branchID)
}

// Key derives the cache key of a listing filter at one branch generation.
func Key(filter core.ProductFilter, generation int64) (string, error) {
	data, err := json.Marshal(filter)
	if err != nil {
		return "", fmt.Errorf("failed to encode filter: %w", err)
	}
	return fmt.Sprintf("%s:%s:%s:%d:%x", keyPrefix, filter.TenantID, filter.BranchID, generation, md5.Sum(data)), nil
}

package accounting

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	reportVersionKey = "ledger:reports:version:%d"
	// BumpChannel carries "<tenant>:<version>" whenever posted data changes.
	BumpChannel = "ledger.bump"
)

// ReportCache wraps Redis based report caching with per-tenant versioning.
// Posting bumps the tenant version, which orphans every cached report of
// that tenant; orphaned keys expire through the TTL.
//
// A bump that fails marks the tenant stale in this process. Stale tenants
// bypass the cache, and the bump is retried on the next key lookup.
type ReportCache struct {
	client *redis.Client
	ttl    time.Duration

	mu    sync.Mutex
	stale map[int64]struct{}
}

// NewReportCache instantiates the cache helper. A nil client disables caching.
func NewReportCache(client *redis.Client, ttl time.Duration) *ReportCache {
	return &ReportCache{client: client, ttl: ttl, stale: make(map[int64]struct{})}
}

func (c *ReportCache) enabled() bool {
	return c != nil && c.client != nil
}

// Version returns the tenant's cache version, initialising when missing.
func (c *ReportCache) Version(ctx context.Context, tenantID int64) (int64, error) {
	if !c.enabled() {
		return 0, nil
	}
	key := fmt.Sprintf(reportVersionKey, tenantID)
	ver, err := c.client.Get(ctx, key).Int64()
	if errors.Is(err, redis.Nil) {
		// SETNX keeps a concurrent Bump from being overwritten.
		if err := c.client.SetNX(ctx, key, 1, 0).Err(); err != nil {
			return 0, err
		}
		return c.client.Get(ctx, key).Int64()
	}
	if err != nil {
		return 0, err
	}
	return ver, nil
}

// BuildKey composes the cache key with the tenant's current version.
func (c *ReportCache) BuildKey(ctx context.Context, tenantID int64, parts ...string) (string, error) {
	base := "ledger:reports:" + strconv.FormatInt(tenantID, 10) + ":" + strings.Join(parts, ":")
	if !c.enabled() {
		return base, nil
	}
	if c.isStale(tenantID) {
		if err := c.Bump(ctx, tenantID); err != nil {
			return "", fmt.Errorf("cache: retry invalidation: %w", err)
		}
	}
	ver, err := c.Version(ctx, tenantID)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s:v%d", base, ver), nil
}

// FetchJSON returns the cached payload for key, or runs loader and stores its
// JSON encoding.
func (c *ReportCache) FetchJSON(ctx context.Context, key string, loader func(context.Context) (any, error)) ([]byte, error) {
	if loader == nil {
		return nil, errors.New("cache: loader required")
	}
	if c.enabled() {
		payload, err := c.client.Get(ctx, key).Bytes()
		if err == nil {
			return payload, nil
		}
		if !errors.Is(err, redis.Nil) {
			return nil, err
		}
	}
	value, err := loader(ctx)
	if err != nil {
		return nil, err
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}
	if c.enabled() {
		if err := c.client.Set(ctx, key, raw, c.ttl).Err(); err != nil {
			return raw, err
		}
	}
	return raw, nil
}

// Bump invalidates a tenant's reports and publishes the new version.
func (c *ReportCache) Bump(ctx context.Context, tenantID int64) error {
	if !c.enabled() {
		return nil
	}
	ver, err := c.client.Incr(ctx, fmt.Sprintf(reportVersionKey, tenantID)).Result()
	if err != nil {
		c.setStale(tenantID, true)
		return err
	}
	c.setStale(tenantID, false)
	return c.client.Publish(ctx, BumpChannel, fmt.Sprintf("%d:%d", tenantID, ver)).Err()
}

func (c *ReportCache) isStale(tenantID int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.stale[tenantID]
	return ok
}

func (c *ReportCache) setStale(tenantID int64, stale bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stale == nil {
		c.stale = make(map[int64]struct{})
	}
	if stale {
		c.stale[tenantID] = struct{}{}
		return
	}
	delete(c.stale, tenantID)
}

func dateToken(t *time.Time) string {
	if t == nil {
		return "latest"
	}
	return t.Format("2006-01-02")
}

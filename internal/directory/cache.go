package directory

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/paulmach/orb"
	"github.com/redis/go-redis/v9"

	"github.com/joeblew999/plat-atlas/internal/atlas"
	"github.com/joeblew999/plat-atlas/internal/business"
	"github.com/joeblew999/plat-atlas/internal/metrics"
)

// KV is the part of a Redis client the cache needs.
type KV interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
}

// Cache is an atlas.Searcher that memoises another one in Redis. Redis
// errors fall through to the wrapped searcher.
type Cache struct {
	next   atlas.Searcher
	kv     KV
	ttl    time.Duration
	logger *slog.Logger
}

var _ atlas.Searcher = (*Cache)(nil)

// OpenRedis returns a client for addr, or nil when addr is empty.
func OpenRedis(addr, password string, db int) *redis.Client {
	if addr == "" {
		return nil
	}
	return redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
}

// NewCache wraps next. A ttl of zero means one hour.
func NewCache(next atlas.Searcher, kv KV, ttl time.Duration, logger *slog.Logger) *Cache {
	if ttl <= 0 {
		ttl = time.Hour
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{next: next, kv: kv, ttl: ttl, logger: logger.With("component", "search-cache")}
}

// Search returns a cached response for the query and rounded location.
func (c *Cache) Search(ctx context.Context, query string, loc *orb.Point) (atlas.SearchResponse, error) {
	var resp atlas.SearchResponse
	key := "atlas:search:" + cacheQuery(query) + ":" + cacheLocation(loc)
	if c.get(ctx, key, &resp) {
		return resp, nil
	}
	resp, err := c.next.Search(ctx, query, loc)
	if err != nil {
		return resp, err
	}
	c.set(ctx, key, resp)
	return resp, nil
}

// SearchDetails returns cached records for the query and limit.
func (c *Cache) SearchDetails(ctx context.Context, query string, limit int) ([]business.Business, error) {
	var list []business.Business
	key := fmt.Sprintf("atlas:details:%s:%d", cacheQuery(query), limit)
	if c.get(ctx, key, &list) {
		return list, nil
	}
	list, err := c.next.SearchDetails(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	c.set(ctx, key, list)
	return list, nil
}

func (c *Cache) get(ctx context.Context, key string, out any) bool {
	s, err := c.kv.Get(ctx, key).Result()
	switch {
	case err == redis.Nil:
		metrics.SearchCacheTotal.WithLabelValues("miss").Inc()
		return false
	case err != nil:
		metrics.SearchCacheTotal.WithLabelValues("error").Inc()
		c.logger.Warn("cache read failed", "key", key, "error", err)
		return false
	}
	if err := json.Unmarshal([]byte(s), out); err != nil {
		metrics.SearchCacheTotal.WithLabelValues("error").Inc()
		c.logger.Warn("cache entry corrupt", "key", key, "error", err)
		return false
	}
	metrics.SearchCacheTotal.WithLabelValues("hit").Inc()
	return true
}

func (c *Cache) set(ctx context.Context, key string, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		return
	}
	if err := c.kv.Set(ctx, key, string(b), c.ttl).Err(); err != nil {
		c.logger.Warn("cache write failed", "key", key, "error", err)
	}
}

func cacheQuery(q string) string {
	return strings.Join(strings.Fields(strings.ToLower(q)), "+")
}

// cacheLocation rounds to three decimals, roughly 100 m.
func cacheLocation(loc *orb.Point) string {
	if loc == nil {
		return "-"
	}
	return fmt.Sprintf("%.3f,%.3f", loc[1], loc[0])
}

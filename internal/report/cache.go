package report

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"github.com/victornm/levelup/internal/domain"
	"github.com/victornm/levelup/internal/platform"
	"github.com/victornm/levelup/internal/telemetry"
)

const DefaultCacheTTL = 24 * time.Hour

type RawFetcher interface {
	FetchRaw(ctx context.Context, id string) ([]byte, error)
}

type CacheConfig struct {
	Fetcher RawFetcher
	Redis   redis.UniversalClient
	Prefix  string
	TTL     time.Duration
}

// Cache keeps raw report bodies in Redis. Finished reports never change,
// and concurrent misses for one report share a single fetch.
type Cache struct {
	next   RawFetcher
	redis  redis.UniversalClient
	prefix string
	ttl    time.Duration
	sf     singleflight.Group
}

var _ platform.ReportFetcher = (*Cache)(nil)

func NewCache(c CacheConfig) *Cache {
	ttl := c.TTL
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}

	return &Cache{
		next:   c.Fetcher,
		redis:  c.Redis,
		prefix: c.Prefix,
		ttl:    ttl,
	}
}

func (c *Cache) FetchQuizReport(ctx context.Context, id string) (domain.QuizReport, error) {
	key := c.key(id)

	raw, err := c.redis.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		telemetry.ReportCache.WithLabelValues("hit").Inc()
		return Decode(id, raw)
	case !stderrors.Is(err, redis.Nil):
		// degrade to a direct fetch
		slog.WarnContext(ctx, "report: cache get failed", "report", id, "error", err)
	}
	telemetry.ReportCache.WithLabelValues("miss").Inc()

	v, err, _ := c.sf.Do(id, func() (any, error) {
		body, err := c.next.FetchRaw(ctx, id)
		if err != nil {
			return nil, err
		}

		// only cache what decodes
		if _, err := Decode(id, body); err != nil {
			return nil, err
		}

		if err := c.redis.Set(ctx, key, body, c.ttl).Err(); err != nil {
			slog.WarnContext(ctx, "report: cache set failed", "report", id, "error", err)
		}
		return body, nil
	})
	if err != nil {
		return domain.QuizReport{}, err
	}

	return Decode(id, v.([]byte))
}

func (c *Cache) key(id string) string {
	return fmt.Sprintf("%s:report:%s", c.prefix, id)
}

package enrich

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	DefaultCacheTTL = 24 * time.Hour
	cacheKeyPrefix  = "bookcatalog:volume:"
)

// Lookup resolves an ISBN to a volume.
type Lookup interface {
	LookupISBN(ctx context.Context, isbn string) (*Volume, error)
}

// NewRedisClient connects to addr and verifies the connection.
func NewRedisClient(ctx context.Context, addr, password string, db int) (*goredis.Client, error) {
	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		Password:    password,
		DB:          db,
		DialTimeout: 5 * time.Second,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return rdb, nil
}

// CachedLookup keeps successful lookups in redis. Not-found answers and
// failures are never cached. A broken cache degrades to direct lookups.
type CachedLookup struct {
	next Lookup
	rdb  goredis.Cmdable
	ttl  time.Duration
	log  *zap.Logger
}

// NewCachedLookup decorates next. ttl <= 0 selects DefaultCacheTTL.
func NewCachedLookup(next Lookup, rdb goredis.Cmdable, ttl time.Duration, log *zap.Logger) *CachedLookup {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &CachedLookup{next: next, rdb: rdb, ttl: ttl, log: log}
}

func (c *CachedLookup) LookupISBN(ctx context.Context, isbn string) (*Volume, error) {
	key := cacheKeyPrefix + isbn

	raw, err := c.rdb.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var vol Volume
		if err := json.Unmarshal(raw, &vol); err == nil {
			return &vol, nil
		}
		c.log.Warn("Discarding unreadable cached volume", zap.String("isbn", isbn))
	case !errors.Is(err, goredis.Nil):
		c.log.Warn("Volume cache read failed", zap.String("isbn", isbn), zap.Error(err))
	}

	vol, err := c.next.LookupISBN(ctx, isbn)
	if err != nil {
		return nil, err
	}

	if b, err := json.Marshal(vol); err == nil {
		if err := c.rdb.Set(ctx, key, b, c.ttl).Err(); err != nil {
			c.log.Warn("Volume cache write failed", zap.String("isbn", isbn), zap.Error(err))
		}
	}
	return vol, nil
}

// Package cache keeps per-movie rating aggregates out of the database's hot
// path. The source of truth is always the ratings table: entries expire
// after a TTL and are replaced whenever a rating for the movie changes.
//
// Writers race. An entry is only ever replaced by an aggregate of the same
// or a higher RatingAggregate.Version, so a value computed before a rating
// landed loses to the one computed after it, whichever is written last.
package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
	"github.com/sakif/movie-catalog/internal/model"
)

// DefaultTTL bounds how stale a cached aggregate can get if an
// invalidation is ever lost.
const DefaultTTL = 15 * time.Minute

// AggregateCache is the contract the catalog service reads aggregates
// through. Get reports a miss with ok=false and a nil error. Set must keep
// a stored entry whose Version is higher than agg.Version.
type AggregateCache interface {
	Get(ctx context.Context, movieID string) (agg model.RatingAggregate, ok bool, err error)
	Set(ctx context.Context, movieID string, agg model.RatingAggregate) error
	Invalidate(ctx context.Context, movieID string) error
}

// Noop is used when no Redis address is configured: every read misses.
type Noop struct{}

func (Noop) Get(context.Context, string) (model.RatingAggregate, bool, error) {
	return model.RatingAggregate{}, false, nil
}

func (Noop) Set(context.Context, string, model.RatingAggregate) error {
	return nil
}

func (Noop) Invalidate(context.Context, string) error {
	return nil
}

// Redis stores aggregates as JSON strings under "rating:agg:<movie id>".
type Redis struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewRedis connects to addr and pings it once so a bad address fails at
// startup rather than on the first request.
func NewRedis(ctx context.Context, addr, password string, db int, ttl time.Duration) (*Redis, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		ReadTimeout:  time.Second,
		WriteTimeout: time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("cache: connecting to redis at %s: %w", addr, err)
	}

	return &Redis{rdb: rdb, ttl: ttl}, nil
}

// Close releases the connection pool.
func (c *Redis) Close() error {
	return c.rdb.Close()
}

// Ping is used by the health check.
func (c *Redis) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

func key(movieID string) string {
	return "rating:agg:" + movieID
}

func (c *Redis) Get(ctx context.Context, movieID string) (model.RatingAggregate, bool, error) {
	raw, err := c.rdb.Get(ctx, key(movieID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return model.RatingAggregate{}, false, nil
		}
		return model.RatingAggregate{}, false, fmt.Errorf("cache: reading %s: %w", key(movieID), err)
	}

	var agg model.RatingAggregate
	if err := json.Unmarshal(raw, &agg); err != nil {
		return model.RatingAggregate{}, false, fmt.Errorf("cache: decoding %s: %w", key(movieID), err)
	}
	return agg, true, nil
}

// setIfNotOlder writes ARGV[1] unless the stored entry carries a higher
// version than ARGV[2]. The compare and the write run as one script, so no
// other client can slip in between them. It returns 1 when it wrote.
var setIfNotOlder = redis.NewScript(`
local cur = redis.call('GET', KEYS[1])
if cur then
	local ok, stored = pcall(cjson.decode, cur)
	if ok and type(stored) == 'table' and tonumber(stored.version)
		and tonumber(stored.version) > tonumber(ARGV[2]) then
		return 0
	end
end
redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[3])
return 1
`)

func (c *Redis) Set(ctx context.Context, movieID string, agg model.RatingAggregate) error {
	raw, err := json.Marshal(agg)
	if err != nil {
		return fmt.Errorf("cache: encoding aggregate: %w", err)
	}
	err = setIfNotOlder.Run(ctx, c.rdb, []string{key(movieID)}, raw, agg.Version, c.ttl.Milliseconds()).Err()
	if err != nil {
		return fmt.Errorf("cache: writing %s: %w", key(movieID), err)
	}
	return nil
}

func (c *Redis) Invalidate(ctx context.Context, movieID string) error {
	if err := c.rdb.Del(ctx, key(movieID)).Err(); err != nil {
		return fmt.Errorf("cache: deleting %s: %w", key(movieID), err)
	}
	return nil
}

package redis

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/charmbracelet/log"
	"github.com/clark-center/change-object-author/internal/config"
	registrylock "github.com/clark-center/change-object-author/internal/registry/lock"
	goredis "github.com/redis/go-redis/v9"
)

const (
	defaultTTL = 2 * time.Minute
	keyPrefix  = "coa-lock:"
)

func init() {
	registrylock.Register(registrylock.Plugin{
		Name:   "redis",
		Loader: load,
	})
}

func load(ctx context.Context) (registrylock.TransferLock, error) {
	cfg := config.FromContext(ctx)
	if cfg == nil || cfg.RedisURL == "" {
		return nil, fmt.Errorf("redis lock: redis url is required")
	}
	return LoadFromURL(ctx, cfg.RedisURL, cfg.LockTTL)
}

// LoadFromURL creates a TransferLock from a Redis-compatible URL.
func LoadFromURL(ctx context.Context, redisURL string, ttl time.Duration) (*Lock, error) {
	opts, err := goredis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("redis lock: invalid URL: %w", err)
	}
	client := goredis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis lock: ping failed: %w", err)
	}
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &Lock{client: client, ttl: ttl}, nil
}

// Lock holds one redis key per learning object for the duration of a transfer.
type Lock struct {
	client *goredis.Client
	ttl    time.Duration
}

// acquireScript sets every key to the owner or none of them.
var acquireScript = goredis.NewScript(`
for _, k in ipairs(KEYS) do
	if redis.call('EXISTS', k) == 1 then
		return 0
	end
end
for _, k in ipairs(KEYS) do
	redis.call('SET', k, ARGV[1], 'PX', ARGV[2])
end
return 1
`)

// releaseScript deletes only the keys still held by the owner.
var releaseScript = goredis.NewScript(`
local n = 0
for _, k in ipairs(KEYS) do
	if redis.call('GET', k) == ARGV[1] then
		n = n + redis.call('DEL', k)
	end
end
return n
`)

func (l *Lock) Acquire(ctx context.Context, owner string, keys ...string) (registrylock.Release, error) {
	if owner == "" {
		return nil, errors.New("redis lock: owner is required")
	}
	redisKeys := lockKeys(keys)
	if len(redisKeys) == 0 {
		return func(context.Context) error { return nil }, nil
	}

	ok, err := acquireScript.Run(ctx, l.client, redisKeys, owner, l.ttl.Milliseconds()).Int()
	if err != nil {
		return nil, fmt.Errorf("redis lock: acquire: %w", err)
	}
	if ok != 1 {
		return nil, registrylock.ErrHeld
	}

	return func(ctx context.Context) error {
		n, err := releaseScript.Run(ctx, l.client, redisKeys, owner).Int()
		if err != nil {
			return fmt.Errorf("redis lock: release: %w", err)
		}
		if n != len(redisKeys) {
			log.Warn("Transfer lock expired before release", "owner", owner, "held", n, "keys", len(redisKeys))
		}
		return nil
	}, nil
}

// Close releases the redis connection pool.
func (l *Lock) Close() error {
	return l.client.Close()
}

func lockKeys(keys []string) []string {
	seen := make(map[string]struct{}, len(keys))
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		if k == "" {
			continue
		}
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, keyPrefix+k)
	}
	sort.Strings(out)
	return out
}

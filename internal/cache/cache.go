package cache

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const balanceTTL = 5 * time.Minute

// BalanceCache caches user credit balances in Redis. A nil *BalanceCache is
// valid and behaves as an always-missing cache, so Redis stays optional.
type BalanceCache struct {
	client *redis.Client
}

func New(ctx context.Context, redisURL string) (*BalanceCache, error) {
	const op = "cache.New"
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &BalanceCache{client: client}, nil
}

// NewWithClient wraps an existing client.
func NewWithClient(client *redis.Client) *BalanceCache {
	return &BalanceCache{client: client}
}

func balanceKey(clerkID string) string {
	return "snapfuse:credits:" + clerkID
}

func (c *BalanceCache) GetBalance(ctx context.Context, clerkID string) (int, bool, error) {
	if c == nil {
		return 0, false, nil
	}
	const op = "cache.GetBalance"
	val, err := c.client.Get(ctx, balanceKey(clerkID)).Result()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("%s: %w", op, err)
	}
	_, credits, err := parseEntry(val)
	if err != nil {
		return 0, false, fmt.Errorf("%s: %w", op, err)
	}
	return credits, true, nil
}

// setIfNewer stores "version:credits" unless the key already holds an entry
// with the same or a higher version.
var setIfNewer = redis.NewScript(`
local cur = redis.call('GET', KEYS[1])
if cur then
	local sep = string.find(cur, ':', 1, true)
	if sep and tonumber(string.sub(cur, 1, sep - 1)) >= tonumber(ARGV[1]) then
		return 0
	end
end
redis.call('SET', KEYS[1], ARGV[1] .. ':' .. ARGV[2], 'PX', ARGV[3])
return 1
`)

// SetBalance caches credits as of ledger version, the seq of the user's newest
// ledger row. A write carrying an older version than the cached one is dropped
// and reported as false, so a slow reader cannot overwrite a newer balance.
func (c *BalanceCache) SetBalance(ctx context.Context, clerkID string, version int64, credits int) (bool, error) {
	if c == nil {
		return false, nil
	}
	const op = "cache.SetBalance"
	stored, err := setIfNewer.Run(ctx, c.client, []string{balanceKey(clerkID)},
		version, credits, balanceTTL.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	return stored == 1, nil
}

func parseEntry(val string) (version int64, credits int, err error) {
	v, c, ok := strings.Cut(val, ":")
	if !ok {
		return 0, 0, fmt.Errorf("malformed balance entry %q", val)
	}
	if version, err = strconv.ParseInt(v, 10, 64); err != nil {
		return 0, 0, err
	}
	if credits, err = strconv.Atoi(c); err != nil {
		return 0, 0, err
	}
	return version, credits, nil
}

// Invalidate drops cached balances.
func (c *BalanceCache) Invalidate(ctx context.Context, clerkIDs ...string) error {
	if c == nil || len(clerkIDs) == 0 {
		return nil
	}
	keys := make([]string, len(clerkIDs))
	for i, id := range clerkIDs {
		keys[i] = balanceKey(id)
	}
	return c.client.Del(ctx, keys...).Err()
}

func (c *BalanceCache) Close() error {
	if c == nil {
		return nil
	}
	return c.client.Close()
}

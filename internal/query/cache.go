package query

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"FlashLedger/internal/core"
	"FlashLedger/internal/state"

	"github.com/redis/go-redis/v9"
)

// AccountCache is a Redis read-through cache in front of
// ledger.trader_accounts. Entries are dropped by the persistence worker
// after every flush that touched the account, and expire after ttl.
type AccountCache struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

func NewAccountCache(client redis.UniversalClient, ttl time.Duration) *AccountCache {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &AccountCache{
		client: client,
		prefix: "flash:account:",
		ttl:    ttl,
	}
}

// Get returns the cached account, or nil on a miss.
func (c *AccountCache) Get(ctx context.Context, owner state.Principal) (*TraderAccountResponse, error) {
	data, err := c.client.Get(ctx, c.key(owner)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var acct TraderAccountResponse
	if err := json.Unmarshal(data, &acct); err != nil {
		return nil, err
	}
	return &acct, nil
}

func (c *AccountCache) Set(ctx context.Context, acct *TraderAccountResponse) error {
	data, err := json.Marshal(acct)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, c.key(acct.Owner), data, c.ttl).Err()
}

// Invalidate drops the entries for owners.
func (c *AccountCache) Invalidate(ctx context.Context, owners ...state.Principal) error {
	if len(owners) == 0 {
		return nil
	}
	keys := make([]string, len(owners))
	for i, o := range owners {
		keys[i] = c.key(o)
	}
	return c.client.Del(ctx, keys...).Err()
}

// InvalidateOutputs drops the entries of every account a persisted batch
// touched. It has the shape of a persistence flush hook.
func (c *AccountCache) InvalidateOutputs(ctx context.Context, batch []core.CoreOutput) error {
	seen := make(map[state.Principal]struct{})
	var owners []state.Principal
	for _, out := range batch {
		if out.Account == nil {
			continue
		}
		if _, ok := seen[out.Account.Owner]; ok {
			continue
		}
		seen[out.Account.Owner] = struct{}{}
		owners = append(owners, out.Account.Owner)
	}
	return c.Invalidate(ctx, owners...)
}

// Ping checks the Redis connection.
func (c *AccountCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *AccountCache) key(owner state.Principal) string {
	return c.prefix + owner.String()
}

package query_test

import (
	"context"
	"testing"
	"time"

	"FlashLedger/internal/query"
	"FlashLedger/internal/testutil"

	"github.com/redis/go-redis/v9"
)

func setupCache(t *testing.T) *query.AccountCache {
	t.Helper()
	testutil.RequireIntegration(t)
	client := redis.NewClient(&redis.Options{Addr: testutil.TestRedisAddr()})
	t.Cleanup(func() { client.Close() })

	cache := query.NewAccountCache(client, time.Minute)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := cache.Ping(ctx); err != nil {
		t.Skipf("test redis not available: %v", err)
	}
	return cache
}

func TestAccountCache_SetGetInvalidate(t *testing.T) {
	cache := setupCache(t)
	ctx := context.Background()
	owner := testutil.Principal(42)

	if err := cache.Invalidate(ctx, owner); err != nil {
		t.Fatalf("Invalidate: %v", err)
	}
	got, err := cache.Get(ctx, owner)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got != nil {
		t.Fatalf("expected miss, got %+v", got)
	}

	want := &query.TraderAccountResponse{
		Owner:          owner,
		StakedAmount:   1 << 63,
		OpenPosition:   12,
		StakeTimestamp: 1_700_000_000,
		LastSequence:   9,
	}
	if err := cache.Set(ctx, want); err != nil {
		t.Fatalf("Set: %v", err)
	}
	got, err = cache.Get(ctx, owner)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got == nil || *got != *want {
		t.Fatalf("expected %+v, got %+v", want, got)
	}

	if err := cache.Invalidate(ctx, owner); err != nil {
		t.Fatalf("Invalidate: %v", err)
	}
	if got, _ = cache.Get(ctx, owner); got != nil {
		t.Errorf("expected miss after invalidate, got %+v", got)
	}
}

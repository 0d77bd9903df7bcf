package jwtx

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis run failed: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = rdb.Close()
		mr.Close()
	})
	return mr, rdb
}

func newTestStore(t *testing.T, rdb *redis.Client) *RedisStore {
	t.Helper()
	store, err := NewRedisStore(rdb, "", "bot")
	if err != nil {
		t.Fatalf("NewRedisStore: %v", err)
	}
	return store
}

func TestRedisStoreRoundTrip(t *testing.T) {
	mr, rdb := newTestRedis(t)
	clock := newFakeClock()
	store := newTestStore(t, rdb)
	ctx := context.Background()

	if _, ok, err := store.Load(ctx); err != nil || ok {
		t.Fatalf("empty store Load = %v, %v", ok, err)
	}

	want := Token{Value: "tok-1", ExpiresAt: clock.Now().Add(time.Hour)}
	if err := store.Save(ctx, want, time.Hour); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if ttl := mr.TTL("wxo:token:bot"); ttl != time.Hour {
		t.Fatalf("ttl = %s, want 1h", ttl)
	}

	got, ok, err := store.Load(ctx)
	if err != nil || !ok {
		t.Fatalf("Load = %v, %v", ok, err)
	}
	if got.Value != want.Value || !got.ExpiresAt.Equal(want.ExpiresAt) {
		t.Fatalf("Load = %+v, want %+v", got, want)
	}

	if err := store.Delete(ctx); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, ok, _ := store.Load(ctx); ok {
		t.Fatal("expected empty store after Delete")
	}
	if err := store.Delete(ctx); err != nil {
		t.Fatalf("second Delete: %v", err)
	}
}

func TestRedisStoreSkipsExpiredTokens(t *testing.T) {
	mr, rdb := newTestRedis(t)
	clock := newFakeClock()
	store := newTestStore(t, rdb)

	if err := store.Save(context.Background(), Token{Value: "old", ExpiresAt: clock.Now().Add(-time.Second)}, -time.Second); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if mr.Exists("wxo:token:bot") {
		t.Fatal("expired token should not be written")
	}
}

func TestRedisStoreCorruptValue(t *testing.T) {
	mr, rdb := newTestRedis(t)
	store := newTestStore(t, rdb)
	if err := mr.Set("wxo:token:bot", "not json"); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if _, _, err := store.Load(context.Background()); err == nil {
		t.Fatal("expected decode error")
	}
}

func TestNewRedisStoreValidation(t *testing.T) {
	if _, err := NewRedisStore(nil, "", "bot"); CodeOf(err) != ErrCodeInvalidArgument {
		t.Fatalf("nil client: %v", err)
	}
	_, rdb := newTestRedis(t)
	if _, err := NewRedisStore(rdb, "", " "); CodeOf(err) != ErrCodeInvalidArgument {
		t.Fatalf("empty name: %v", err)
	}
}

func TestTokenCacheSharesThroughStore(t *testing.T) {
	_, rdb := newTestRedis(t)
	clock := newFakeClock()
	ctx := context.Background()

	newCache := func(src *countingIssue) *TokenCache {
		cache, err := NewTokenCache(CacheConfig{
			Issue: src.issue,
			Clock: clock.Now,
			Store: newTestStore(t, rdb),
		})
		if err != nil {
			t.Fatalf("NewTokenCache: %v", err)
		}
		return cache
	}
	srcA := &countingIssue{clock: clock, lifetime: time.Hour}
	srcB := &countingIssue{clock: clock, lifetime: time.Hour}
	a, b := newCache(srcA), newCache(srcB)

	first, err := a.Current(ctx)
	if err != nil {
		t.Fatalf("a.Current: %v", err)
	}
	second, err := b.Current(ctx)
	if err != nil {
		t.Fatalf("b.Current: %v", err)
	}
	if first.Value != second.Value || !first.ExpiresAt.Equal(second.ExpiresAt) {
		t.Fatalf("replicas disagree: %+v vs %+v", first, second)
	}
	if srcB.count != 0 {
		t.Fatalf("second replica issued %d tokens, want 0", srcB.count)
	}

	// Inside the refresh window the stored token is not reused.
	clock.Advance(56 * time.Minute)
	third, err := b.Current(ctx)
	if err != nil {
		t.Fatalf("b.Current after advance: %v", err)
	}
	if third.ExpiresAt.Equal(first.ExpiresAt) || srcB.count != 1 {
		t.Fatalf("expected a fresh token from b, got %+v (issued %d)", third, srcB.count)
	}

	// a's slot is stale too, so it picks up b's token from the store.
	fourth, err := a.Current(ctx)
	if err != nil {
		t.Fatalf("a.Current after advance: %v", err)
	}
	if fourth.Value != third.Value || !fourth.ExpiresAt.Equal(third.ExpiresAt) || srcA.count != 1 {
		t.Fatalf("a = %+v (issued %d), want %+v from store", fourth, srcA.count, third)
	}
}

type brokenStore struct{}

func (brokenStore) Load(context.Context) (Token, bool, error) {
	return Token{}, false, errors.New("store down")
}
func (brokenStore) Save(context.Context, Token, time.Duration) error {
	return errors.New("store down")
}
func (brokenStore) Delete(context.Context) error { return errors.New("store down") }

func TestTokenCacheStoreFailuresFallBackToIssue(t *testing.T) {
	clock := newFakeClock()
	src := &countingIssue{clock: clock, lifetime: time.Hour}
	cache, err := NewTokenCache(CacheConfig{Issue: src.issue, Clock: clock.Now, Store: brokenStore{}})
	if err != nil {
		t.Fatalf("NewTokenCache: %v", err)
	}
	tok, err := cache.Token(context.Background())
	if err != nil {
		t.Fatalf("Token: %v", err)
	}
	if tok != "tok-1" {
		t.Fatalf("Token = %q", tok)
	}
	cache.Invalidate()
	if tok, _ = cache.Token(context.Background()); tok != "tok-2" {
		t.Fatalf("after Invalidate Token = %q", tok)
	}
}

func TestProviderRedisStores(t *testing.T) {
	mr, rdb := newTestRedis(t)
	clock := newFakeClock()
	src := &countingIssue{clock: clock, lifetime: time.Hour}

	provider, err := NewProvider(ProviderConfig{
		Factory: func(string) IssueFunc { return src.issue },
		Stores:  RedisStores(rdb, "bot"),
		Clock:   clock.Now,
	})
	if err != nil {
		t.Fatalf("NewProvider: %v", err)
	}
	if _, err := provider.Token(context.Background(), "telegram-7"); err != nil {
		t.Fatalf("Token: %v", err)
	}
	if !mr.Exists("bot:telegram-7") {
		t.Fatalf("expected token under bot:telegram-7, keys %v", mr.Keys())
	}

	provider.Invalidate("telegram-7")
	if mr.Exists("bot:telegram-7") {
		t.Fatal("Invalidate should delete the shared token")
	}
}

func TestTokenCacheStoreTTLFollowsCacheClock(t *testing.T) {
	mr, rdb := newTestRedis(t)
	clock := &fakeClock{now: time.Date(2001, 3, 4, 5, 6, 7, 0, time.UTC)}
	src := &countingIssue{clock: clock, lifetime: 90 * time.Minute}
	cache, err := NewTokenCache(CacheConfig{Issue: src.issue, Clock: clock.Now, Store: newTestStore(t, rdb)})
	if err != nil {
		t.Fatalf("NewTokenCache: %v", err)
	}
	if _, err := cache.Token(context.Background()); err != nil {
		t.Fatalf("Token: %v", err)
	}
	if ttl := mr.TTL("wxo:token:bot"); ttl != 90*time.Minute {
		t.Fatalf("ttl = %s, want 1h30m from the cache clock", ttl)
	}
}

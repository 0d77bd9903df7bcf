package jwtx

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/oauth2"
)

// Token is an issued bearer token and the instant it stops being valid.
type Token struct {
	Value     string
	ExpiresAt time.Time
}

// IssueFunc obtains a fresh token, locally signed or fetched from a remote
// authority. It should honour ctx for timeouts.
type IssueFunc func(ctx context.Context) (Token, error)

// CacheConfig defines how a TokenCache refreshes.
type CacheConfig struct {
	Issue IssueFunc
	// RefreshSkew is how long before expiry a token stops being served.
	RefreshSkew time.Duration
	Clock       func() time.Time
	Logger      *slog.Logger
	// Store, when set, shares the slot with other processes.
	Store TokenStore
}

func (c *CacheConfig) normalize() {
	if c.RefreshSkew <= 0 {
		c.RefreshSkew = defaultRefreshSkew
	}
	if c.Clock == nil {
		c.Clock = time.Now
	}
	if c.Logger == nil {
		c.Logger = discardLogger()
	}
}

// TokenCache holds the most recent token in a single slot. The mutex covers
// the whole check-and-refresh sequence, so concurrent callers never issue
// twice for one expiry.
type TokenCache struct {
	mu     sync.Mutex
	issue  IssueFunc
	skew   time.Duration
	clock  func() time.Time
	logger *slog.Logger
	store  TokenStore
	slot   *Token
}

// NewTokenCache constructs an empty cache.
func NewTokenCache(cfg CacheConfig) (*TokenCache, error) {
	if cfg.Issue == nil {
		return nil, newError(ErrCodeInvalidArgument, errors.New("issue func is required"))
	}
	cfg.normalize()
	return &TokenCache{
		issue:  cfg.Issue,
		skew:   cfg.RefreshSkew,
		clock:  cfg.Clock,
		logger: cfg.Logger,
		store:  cfg.Store,
	}, nil
}

// Token returns the cached token while now < expiresAt - skew, otherwise
// issues a new one and overwrites the slot. When issuance fails the previous
// slot is kept and ErrCodeTokenUnavailable is returned.
func (c *TokenCache) Token(ctx context.Context) (string, error) {
	tok, err := c.Current(ctx)
	if err != nil {
		return "", err
	}
	return tok.Value, nil
}

// Current is Token returning the expiry as well.
func (c *TokenCache) Current(ctx context.Context) (Token, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock()
	if c.slot != nil && c.fresh(*c.slot, now) {
		return *c.slot, nil
	}
	if shared, ok := c.loadShared(ctx, now); ok {
		c.slot = &shared
		return shared, nil
	}

	fresh, err := c.issue(ctx)
	if err != nil {
		c.logger.Warn("token refresh failed", slog.Any("error", err), slog.Bool("stale_kept", c.slot != nil))
		return Token{}, newError(ErrCodeTokenUnavailable, err)
	}
	if fresh.Value == "" {
		return Token{}, newError(ErrCodeTokenUnavailable, errors.New("issuer returned an empty token"))
	}
	c.slot = &fresh
	c.logger.Info("token refreshed", slog.Time("expires_at", fresh.ExpiresAt))
	if c.store != nil {
		if err := c.store.Save(ctx, fresh, fresh.ExpiresAt.Sub(now)); err != nil {
			c.logger.Warn("token store save failed", slog.Any("error", err))
		}
	}
	return fresh, nil
}

func (c *TokenCache) fresh(tok Token, now time.Time) bool {
	return now.Before(tok.ExpiresAt.Add(-c.skew))
}

// loadShared returns the store's token when it is still outside the refresh
// window. Store errors fall through to issuance.
func (c *TokenCache) loadShared(ctx context.Context, now time.Time) (Token, bool) {
	if c.store == nil {
		return Token{}, false
	}
	tok, ok, err := c.store.Load(ctx)
	if err != nil {
		c.logger.Warn("token store load failed", slog.Any("error", err))
		return Token{}, false
	}
	if !ok || !c.fresh(tok, now) {
		return Token{}, false
	}
	c.logger.Debug("token loaded from store", slog.Time("expires_at", tok.ExpiresAt))
	return tok, true
}

// Invalidate empties the slot so the next call issues a new token, e.g.
// after the downstream API rejected the cached one.
func (c *TokenCache) Invalidate() {
	c.mu.Lock()
	c.slot = nil
	c.mu.Unlock()
	if c.store != nil {
		if err := c.store.Delete(context.Background()); err != nil {
			c.logger.Warn("token store delete failed", slog.Any("error", err))
		}
	}
}

// TokenSource adapts the cache to oauth2.TokenSource. The context is used
// for every refresh triggered through the source.
func (c *TokenCache) TokenSource(ctx context.Context) oauth2.TokenSource {
	if ctx == nil {
		ctx = context.Background()
	}
	return &cacheTokenSource{ctx: ctx, cache: c}
}

type cacheTokenSource struct {
	ctx   context.Context
	cache *TokenCache
}

func (s *cacheTokenSource) Token() (*oauth2.Token, error) {
	tok, err := s.cache.Current(s.ctx)
	if err != nil {
		return nil, err
	}
	return &oauth2.Token{
		AccessToken: tok.Value,
		TokenType:   "Bearer",
		Expiry:      tok.ExpiresAt,
	}, nil
}

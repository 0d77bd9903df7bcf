package jwtx

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// StoreFactory returns the shared store for one subject, or nil to keep the
// subject's token in memory only.
type StoreFactory func(subject string) TokenStore

// IssueFactory returns the IssueFunc for one subject, e.g. a chat user.
type IssueFactory func(subject string) IssueFunc

// ProviderConfig defines how per-subject caches are created.
type ProviderConfig struct {
	Factory     IssueFactory
	Stores      StoreFactory
	RefreshSkew time.Duration
	Clock       func() time.Time
	Logger      *slog.Logger
}

// Provider hands out bearer tokens for many subjects, keeping one
// TokenCache per subject.
type Provider struct {
	mu       sync.RWMutex
	factory  IssueFactory
	stores   StoreFactory
	entries  map[string]*TokenCache
	defaults CacheConfig
}

// NewProvider constructs a Provider using the supplied defaults.
func NewProvider(cfg ProviderConfig) (*Provider, error) {
	if cfg.Factory == nil {
		return nil, newError(ErrCodeInvalidArgument, errors.New("issue factory is required"))
	}
	return &Provider{
		factory: cfg.Factory,
		stores:  cfg.Stores,
		entries: make(map[string]*TokenCache),
		defaults: CacheConfig{
			RefreshSkew: cfg.RefreshSkew,
			Clock:       cfg.Clock,
			Logger:      cfg.Logger,
		},
	}, nil
}

// IssuerFactory issues locally for every subject with the same options.
func IssuerFactory(issuer *Issuer, opts ...IssueOption) IssueFactory {
	return func(subject string) IssueFunc {
		return issuer.IssueFunc(subject, opts...)
	}
}

// Token returns a valid token for subject.
func (p *Provider) Token(ctx context.Context, subject string) (string, error) {
	if strings.TrimSpace(subject) == "" {
		return "", newError(ErrCodeInvalidArgument, errors.New("subject is required"))
	}
	cache, err := p.getOrCreate(subject)
	if err != nil {
		return "", err
	}
	return cache.Token(ctx)
}

// Invalidate drops the cached token for subject, if any.
func (p *Provider) Invalidate(subject string) {
	p.mu.RLock()
	cache, ok := p.entries[subject]
	p.mu.RUnlock()
	if ok {
		cache.Invalidate()
	}
}

// Cache returns the TokenCache backing subject, creating it if needed.
func (p *Provider) Cache(subject string) (*TokenCache, error) {
	return p.getOrCreate(subject)
}

// RedisStores keys each subject's token under prefix:subject in client.
func RedisStores(client redis.UniversalClient, prefix string) StoreFactory {
	return func(subject string) TokenStore {
		store, err := NewRedisStore(client, prefix, subject)
		if err != nil {
			return nil
		}
		return store
	}
}

func (p *Provider) getOrCreate(subject string) (*TokenCache, error) {
	p.mu.RLock()
	cache, ok := p.entries[subject]
	p.mu.RUnlock()
	if ok {
		return cache, nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if cache, ok = p.entries[subject]; ok {
		return cache, nil
	}

	cfg := p.defaults
	cfg.Issue = p.factory(subject)
	if p.stores != nil {
		cfg.Store = p.stores(subject)
	}
	cache, err := NewTokenCache(cfg)
	if err != nil {
		return nil, err
	}
	p.entries[subject] = cache
	return cache, nil
}

package jwtx

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
)

// TokenStore keeps the cache slot outside the process, so replicas of a
// service share one token instead of issuing one each.
type TokenStore interface {
	Load(ctx context.Context) (Token, bool, error)
	// Save keeps tok for ttl, the token's remaining lifetime on the
	// caller's clock.
	Save(ctx context.Context, tok Token, ttl time.Duration) error
	Delete(ctx context.Context) error
}

const defaultStorePrefix = "wxo:token"

// RedisStore stores one token under a single key whose TTL follows the
// token's expiry.
type RedisStore struct {
	client redis.UniversalClient
	key    string
}

// NewRedisStore returns a store writing to prefix:name. An empty prefix uses
// "wxo:token".
func NewRedisStore(client redis.UniversalClient, prefix, name string) (*RedisStore, error) {
	if client == nil {
		return nil, newError(ErrCodeInvalidArgument, errors.New("redis client is required"))
	}
	if strings.TrimSpace(name) == "" {
		return nil, newError(ErrCodeInvalidArgument, errors.New("store name is required"))
	}
	if prefix == "" {
		prefix = defaultStorePrefix
	}
	return &RedisStore{client: client, key: prefix + ":" + name}, nil
}

type storedToken struct {
	Value     string `json:"token"`
	ExpiresAt int64  `json:"expires_at"`
}

// Load returns the stored token. A missing key reports false without error.
func (s *RedisStore) Load(ctx context.Context) (Token, bool, error) {
	raw, err := s.client.Get(ctx, s.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return Token{}, false, nil
	}
	if err != nil {
		return Token{}, false, fmt.Errorf("load %s: %w", s.key, err)
	}
	var st storedToken
	if err := json.Unmarshal(raw, &st); err != nil {
		return Token{}, false, fmt.Errorf("decode %s: %w", s.key, err)
	}
	if st.Value == "" {
		return Token{}, false, nil
	}
	return Token{Value: st.Value, ExpiresAt: time.Unix(st.ExpiresAt, 0)}, true, nil
}

// Save writes tok with the given TTL. A non-positive TTL writes nothing.
func (s *RedisStore) Save(ctx context.Context, tok Token, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	raw, err := json.Marshal(storedToken{Value: tok.Value, ExpiresAt: tok.ExpiresAt.Unix()})
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, s.key, raw, ttl).Err(); err != nil {
		return fmt.Errorf("save %s: %w", s.key, err)
	}
	return nil
}

// Delete removes the stored token. Deleting a missing key is not an error.
func (s *RedisStore) Delete(ctx context.Context) error {
	if err := s.client.Del(ctx, s.key).Err(); err != nil {
		return fmt.Errorf("delete %s: %w", s.key, err)
	}
	return nil
}

// Package session persists TOP access tokens so that short-lived processes
// such as topctl can share one authorised session per app key.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/birbparty/taobao-top/sdk"
)

var (
	// ErrNotFound is returned when no token is stored for an app key
	ErrNotFound = errors.New("session: token not found")
	// ErrExpired is returned when saving a token that has already expired
	ErrExpired = errors.New("session: token already expired")
)

// Token is a stored access token
type Token struct {
	Value     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Expired reports whether the token is expired at now
func (t Token) Expired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}

// Store persists tokens by app key
type Store interface {
	Save(ctx context.Context, appKey string, token Token) error
	Load(ctx context.Context, appKey string) (Token, error)
	Delete(ctx context.Context, appKey string) error
}

// RedisStore implements Store on Redis. Keys expire together with their
// token.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
	now    func() time.Time
}

// NewRedisStore connects to Redis and checks the connection
func NewRedisStore(ctx context.Context, cfg *Config) (*RedisStore, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Address(),
		Password:     cfg.Password,
		DB:           cfg.DB,
		MaxRetries:   cfg.MaxRetries,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		PoolSize:     cfg.PoolSize,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return NewRedisStoreFromClient(client, cfg.KeyPrefix), nil
}

// NewRedisStoreFromClient wraps an existing client
func NewRedisStoreFromClient(client redis.UniversalClient, prefix string) *RedisStore {
	return &RedisStore{client: client, prefix: prefix, now: time.Now}
}

func (s *RedisStore) key(appKey string) string {
	return s.prefix + appKey
}

// Save stores token under appKey. A zero expiry means sdk.DefaultTokenExpiry.
func (s *RedisStore) Save(ctx context.Context, appKey string, token Token) error {
	if token.ExpiresAt.IsZero() {
		token.ExpiresAt = sdk.DefaultTokenExpiry
	}
	now := s.now()
	if token.Expired(now) {
		return ErrExpired
	}

	data, err := json.Marshal(token)
	if err != nil {
		return fmt.Errorf("failed to encode token: %w", err)
	}

	var ttl time.Duration
	if !token.ExpiresAt.Equal(sdk.DefaultTokenExpiry) {
		ttl = token.ExpiresAt.Sub(now)
	}
	if err := s.client.Set(ctx, s.key(appKey), data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to save token: %w", err)
	}
	return nil
}

// Load returns the token stored under appKey
func (s *RedisStore) Load(ctx context.Context, appKey string) (Token, error) {
	data, err := s.client.Get(ctx, s.key(appKey)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Token{}, ErrNotFound
		}
		return Token{}, fmt.Errorf("failed to load token: %w", err)
	}

	var token Token
	if err := json.Unmarshal(data, &token); err != nil {
		return Token{}, fmt.Errorf("failed to decode token: %w", err)
	}
	return token, nil
}

// Delete removes the token stored under appKey
func (s *RedisStore) Delete(ctx context.Context, appKey string) error {
	result := s.client.Del(ctx, s.key(appKey))
	if err := result.Err(); err != nil {
		return fmt.Errorf("failed to delete token: %w", err)
	}
	if result.Val() == 0 {
		return ErrNotFound
	}
	return nil
}

// Ping checks if Redis is reachable
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the Redis connection
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// TokenSetter is the part of sdk.Client that Apply needs
type TokenSetter interface {
	SetAccessToken(token string, expiresAt time.Time)
	ClearAccessToken()
}

// Apply loads the token for appKey into client. A missing or expired token
// clears the client's token and is not an error. A zero expiry means the
// default expiry.
func Apply(ctx context.Context, store Store, appKey string, client TokenSetter) error {
	token, err := store.Load(ctx, appKey)
	if errors.Is(err, ErrNotFound) {
		client.ClearAccessToken()
		return nil
	}
	if err != nil {
		return err
	}
	if !token.ExpiresAt.IsZero() && token.Expired(time.Now()) {
		client.ClearAccessToken()
		return nil
	}
	client.SetAccessToken(token.Value, token.ExpiresAt)
	return nil
}

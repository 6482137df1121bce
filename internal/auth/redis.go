package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/kode4food/flowsession/internal/config"
	"github.com/kode4food/flowsession/pkg/log"
)

// RedisTokenProvider reads a shared bearer token from Redis, where a separate
// login process keeps it fresh. The token is cached locally until its
// remaining TTL falls below the configured minimum
type RedisTokenProvider struct {
	client *redis.Client
	key    string
	minTTL time.Duration

	mu      sync.Mutex
	token   string
	expires time.Time
	now     func() time.Time
}

var ErrTokenExpiring = errors.New("access token about to expire")

// NewRedisTokenProvider connects to the configured token store
func NewRedisTokenProvider(cfg *config.TokenStoreConfig) *RedisTokenProvider {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	return &RedisTokenProvider{
		client: client,
		key:    cfg.Key,
		minTTL: cfg.MinTTL,
		now:    time.Now,
	}
}

// GetValidToken returns the cached token while it is still comfortably valid,
// otherwise it fetches the current one from Redis
func (p *RedisTokenProvider) GetValidToken(
	ctx context.Context,
) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.token != "" && p.expires.Sub(p.now()) >= p.minTTL {
		return p.token, nil
	}

	pipe := p.client.Pipeline()
	get := pipe.Get(ctx, p.key)
	ttl := pipe.PTTL(ctx, p.key)
	if _, err := pipe.Exec(ctx); err != nil {
		p.token = ""
		if errors.Is(err, redis.Nil) {
			return "", ErrNoToken
		}
		return "", fmt.Errorf("token store: %w", err)
	}

	token := get.Val()
	if token == "" {
		p.token = ""
		return "", ErrNoToken
	}

	remaining := ttl.Val()
	if remaining < 0 {
		// no expiry on the key
		p.token = token
		p.expires = p.now().Add(24 * time.Hour)
		return token, nil
	}
	if remaining < p.minTTL {
		p.token = ""
		slog.Warn("Access token near expiry",
			slog.Duration("remaining", remaining))
		return "", ErrTokenExpiring
	}

	p.token = token
	p.expires = p.now().Add(remaining)
	slog.Debug("Access token refreshed",
		slog.Duration("ttl", remaining))
	return token, nil
}

// Close releases the Redis client
func (p *RedisTokenProvider) Close() error {
	if err := p.client.Close(); err != nil {
		slog.Warn("Failed to close token store", log.Error(err))
		return err
	}
	return nil
}

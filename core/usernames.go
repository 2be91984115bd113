package core

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisClientRaw exposes the minimal redis subset used by the username cache.
type RedisClientRaw interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
}

// NewRedisClient returns a configured go-redis client from URL (e.g., redis://localhost:6379/0).
func NewRedisClient(redisURL string) (*redis.Client, error) {
	if redisURL == "" {
		return nil, errors.New("empty redis url")
	}
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	return client, nil
}

// UsernameResolver resolves account identifiers to usernames for leaderboard
// enrichment, with a read-through redis cache in front of the record store.
// Usernames are immutable once created, so cached entries never go stale; the
// TTL just bounds memory. Cache errors degrade to a store lookup — redis being
// down must never fail a leaderboard response.
type UsernameResolver struct {
	accounts AccountRepository
	cache    RedisClientRaw
	ttl      time.Duration
}

func NewUsernameResolver(accounts AccountRepository, cache RedisClientRaw, ttl time.Duration) *UsernameResolver {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &UsernameResolver{accounts: accounts, cache: cache, ttl: ttl}
}

func usernameCacheKey(accountID int64) string {
	return fmt.Sprintf("username:%d", accountID)
}

// Resolve returns the username for accountID. A miss in the store is reported
// as ok=false with a nil error; only store failures surface as errors.
func (r *UsernameResolver) Resolve(ctx context.Context, accountID int64) (string, bool, error) {
	key := usernameCacheKey(accountID)
	if r.cache != nil {
		if cached, err := r.cache.Get(ctx, key).Result(); err == nil && cached != "" {
			return cached, true, nil
		} else if err != nil && !errors.Is(err, redis.Nil) {
			log.Printf("username cache read failed for id=%d: %v", accountID, err)
		}
	}

	username, err := r.accounts.FindUsernameByID(ctx, accountID)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return "", false, nil
		}
		return "", false, err
	}

	if r.cache != nil {
		if err := r.cache.Set(ctx, key, username, r.ttl).Err(); err != nil {
			log.Printf("username cache write failed for id=%d: %v", accountID, err)
		}
	}
	return username, true, nil
}

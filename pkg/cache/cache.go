// Package cache implements an exact-match Redis response cache for dispatch
// results. Entries are keyed by a digest of provider, model, and prompt so a
// cached answer is only ever replayed for the identical question to the
// identical model.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Key derives the cache key for one provider/model/prompt triple.
func Key(providerID, model, prompt string) string {
	sum := sha256.Sum256([]byte(providerID + "\x00" + model + "\x00" + prompt))
	return "gw:resp:" + hex.EncodeToString(sum[:])
}

type entry struct {
	Text     string    `json:"text"`
	CachedAt time.Time `json:"cached_at"`
}

// Redis wraps a Redis client for storing and retrieving answer texts.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedis creates a Redis-backed response cache.
func NewRedis(addr, password string, db int, ttl time.Duration) *Redis {
	return &Redis{
		client: redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: password,
			DB:       db,
		}),
		ttl: ttl,
	}
}

// Get retrieves a cached answer by key. The second return is false on a miss.
func (r *Redis) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := r.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("cache: get: %w", err)
	}

	var e entry
	if err := json.Unmarshal([]byte(val), &e); err != nil {
		return "", false, fmt.Errorf("cache: unmarshal: %w", err)
	}

	return e.Text, true, nil
}

// Set stores an answer under key with the configured TTL.
func (r *Redis) Set(ctx context.Context, key, text string) error {
	data, err := json.Marshal(entry{Text: text, CachedAt: time.Now().UTC()})
	if err != nil {
		return fmt.Errorf("cache: marshal: %w", err)
	}

	if err := r.client.Set(ctx, key, data, r.ttl).Err(); err != nil {
		return fmt.Errorf("cache: set: %w", err)
	}

	return nil
}

// Ping checks the Redis connection.
func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close closes the Redis connection.
func (r *Redis) Close() error {
	return r.client.Close()
}

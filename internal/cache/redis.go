package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"policyrag/internal/domain"
)

// RedisConfig points the cache at a redis server.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
	TTL      time.Duration
}

// Redis stores entries as JSON strings under Prefix+Key.
type Redis struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func NewRedis(cfg RedisConfig) (*Redis, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("%w: redis addr is empty", domain.ErrConfig)
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return &Redis{client: rdb, prefix: cfg.Prefix, ttl: cfg.TTL}, nil
}

func (r *Redis) key(question, context string) string {
	return r.prefix + Key(question, context)
}

func (r *Redis) Get(ctx context.Context, question, context string) (domain.CacheEntry, bool, error) {
	var entry domain.CacheEntry
	val, err := r.client.Get(ctx, r.key(question, context)).Result()
	if errors.Is(err, redis.Nil) {
		return entry, false, nil
	}
	if err != nil {
		return entry, false, fmt.Errorf("redis get: %w", err)
	}
	if err := json.Unmarshal([]byte(val), &entry); err != nil {
		return entry, false, fmt.Errorf("decode cache entry: %w", err)
	}
	return entry, true, nil
}

// Put stores entry. A zero TTL keeps it until redis evicts it.
func (r *Redis) Put(ctx context.Context, entry domain.CacheEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	if err := r.client.Set(ctx, r.key(entry.Question, entry.Context), data, r.ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *Redis) Close() error {
	return r.client.Close()
}

package identity

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// NicknameCache remembers the nickname for a user id.
type NicknameCache interface {
	GetNickname(ctx context.Context, userID int64) (string, bool, error)
	SetNickname(ctx context.Context, userID int64, nickname string) error
}

// RedisCache implements NicknameCache using Redis
type RedisCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisCache connects to redisURL and verifies the connection.
func NewRedisCache(ctx context.Context, redisURL string, ttl time.Duration) (*RedisCache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewRedisCacheWithClient(client, ttl), nil
}

// NewRedisCacheWithClient creates a cache from an existing Redis client
func NewRedisCacheWithClient(client *redis.Client, ttl time.Duration) *RedisCache {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &RedisCache{
		client: client,
		prefix: "nickname:",
		ttl:    ttl,
	}
}

func (c *RedisCache) key(userID int64) string {
	return c.prefix + strconv.FormatInt(userID, 10)
}

func (c *RedisCache) GetNickname(ctx context.Context, userID int64) (string, bool, error) {
	nickname, err := c.client.Get(ctx, c.key(userID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get cached nickname: %w", err)
	}
	return nickname, true, nil
}

func (c *RedisCache) SetNickname(ctx context.Context, userID int64, nickname string) error {
	if err := c.client.Set(ctx, c.key(userID), nickname, c.ttl).Err(); err != nil {
		return fmt.Errorf("cache nickname: %w", err)
	}
	return nil
}

// Close closes the Redis connection
func (c *RedisCache) Close() error {
	return c.client.Close()
}

// Ping checks if Redis is reachable
func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

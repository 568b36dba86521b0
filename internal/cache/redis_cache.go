package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/corvid-labs/relaychat/internal/domain"
)

type RedisChatListCache struct {
	client *redis.Client
	prefix string
}

// NewRedisChatListCache connects to redis and returns a chat-list cache.
func NewRedisChatListCache(addr, password string, db int, prefix string) (*RedisChatListCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisChatListCache{
		client: client,
		prefix: prefix,
	}, nil
}

func (c *RedisChatListCache) key(userID string) string {
	return fmt.Sprintf("%s:user:%s:chats", c.prefix, userID)
}

func (c *RedisChatListCache) Get(ctx context.Context, userID string) ([]domain.Chat, error) {
	data, err := c.client.Get(ctx, c.key(userID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrCacheMiss
		}
		return nil, fmt.Errorf("failed to get from redis: %w", err)
	}

	var chats []domain.Chat
	if err := json.Unmarshal(data, &chats); err != nil {
		return nil, fmt.Errorf("failed to unmarshal cache data: %w", err)
	}

	return chats, nil
}

func (c *RedisChatListCache) Set(ctx context.Context, userID string, chats []domain.Chat, ttl time.Duration) error {
	data, err := json.Marshal(chats)
	if err != nil {
		return fmt.Errorf("failed to marshal cache data: %w", err)
	}

	if err := c.client.Set(ctx, c.key(userID), data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set in redis: %w", err)
	}

	return nil
}

func (c *RedisChatListCache) Invalidate(ctx context.Context, userID string) error {
	if err := c.client.Del(ctx, c.key(userID)).Err(); err != nil {
		return fmt.Errorf("failed to invalidate cache: %w", err)
	}
	return nil
}

func (c *RedisChatListCache) Close() error {
	return c.client.Close()
}

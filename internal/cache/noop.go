package cache

import (
	"context"
	"time"

	"github.com/corvid-labs/relaychat/internal/domain"
)

// NoopChatListCache is used when no redis address is configured; every read
// is a miss and writes are discarded.
type NoopChatListCache struct{}

func (NoopChatListCache) Get(ctx context.Context, userID string) ([]domain.Chat, error) {
	return nil, ErrCacheMiss
}

func (NoopChatListCache) Set(ctx context.Context, userID string, chats []domain.Chat, ttl time.Duration) error {
	return nil
}

func (NoopChatListCache) Invalidate(ctx context.Context, userID string) error {
	return nil
}

func (NoopChatListCache) Close() error {
	return nil
}

package cache

import (
	"context"
	"errors"
	"time"

	"github.com/corvid-labs/relaychat/internal/domain"
)

var ErrCacheMiss = errors.New("cache miss")

// ChatListCache caches per-user chat lists for the read side. Entries are
// invalidated on any chat mutation, so a short TTL is only a safety net.
type ChatListCache interface {
	Get(ctx context.Context, userID string) ([]domain.Chat, error)
	Set(ctx context.Context, userID string, chats []domain.Chat, ttl time.Duration) error
	Invalidate(ctx context.Context, userID string) error
	Close() error
}

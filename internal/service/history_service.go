package service

import (
	"context"
	"errors"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/corvid-labs/relaychat/internal/cache"
	"github.com/corvid-labs/relaychat/internal/domain"
	"github.com/corvid-labs/relaychat/internal/repository"
	"github.com/corvid-labs/relaychat/pkg/log"
)

// HistoryService is the read side over chats and messages. Chat lists are
// served from cache when possible; concurrent misses for the same user are
// collapsed into a single repository query.
type HistoryService struct {
	chats    repository.ChatRepository
	messages repository.MessageRepository
	cache    cache.ChatListCache
	cacheTTL time.Duration
	sf       singleflight.Group
}

func NewHistoryService(chats repository.ChatRepository, messages repository.MessageRepository, chatCache cache.ChatListCache, cacheTTL time.Duration) *HistoryService {
	return &HistoryService{
		chats:    chats,
		messages: messages,
		cache:    chatCache,
		cacheTTL: cacheTTL,
	}
}

// ListChats returns the user's chats, most recently updated first.
func (s *HistoryService) ListChats(ctx context.Context, userID string) ([]domain.Chat, error) {
	cached, err := s.cache.Get(ctx, userID)
	if err == nil {
		return cached, nil
	}
	if !errors.Is(err, cache.ErrCacheMiss) {
		l := log.Ctx(ctx)
		l.Warn().Str(log.FieldUserID, userID).Err(err).Msg("chat list cache read failed")
	}

	result, err, _ := s.sf.Do(userID, func() (interface{}, error) {
		chats, err := s.chats.ListChats(ctx, userID)
		if err != nil {
			return nil, err
		}
		if err := s.cache.Set(ctx, userID, chats, s.cacheTTL); err != nil {
			l := log.Ctx(ctx)
			l.Warn().Str(log.FieldUserID, userID).Err(err).Msg("chat list cache write failed")
		}
		return chats, nil
	})
	if err != nil {
		return nil, err
	}
	return result.([]domain.Chat), nil
}

// ListMessages pages through one chat's messages by message-id cursor.
func (s *HistoryService) ListMessages(ctx context.Context, userID, chatID, cursor string, limit int, direction repository.Direction) ([]domain.Message, string, bool, error) {
	return s.messages.ListMessages(ctx, userID, chatID, cursor, limit, direction)
}

// InvalidateChats drops the user's cached chat list after a mutation.
func (s *HistoryService) InvalidateChats(ctx context.Context, userID string) {
	if err := s.cache.Invalidate(ctx, userID); err != nil {
		l := log.Ctx(ctx)
		l.Warn().Str(log.FieldUserID, userID).Err(err).Msg("chat list cache invalidation failed")
	}
}

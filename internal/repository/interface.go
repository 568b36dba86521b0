package repository

import (
	"context"
	"errors"

	"github.com/corvid-labs/relaychat/internal/domain"
)

var (
	ErrChatNotFound       = errors.New("chat not found")
	ErrInvalidCursor      = errors.New("invalid cursor")
	ErrStorageUnavailable = errors.New("storage unavailable")
)

type Direction string

const (
	DirectionBackward Direction = "backward" // DESC - from newest to oldest
	DirectionForward  Direction = "forward"  // ASC - from oldest to newest
)

func ParseDirection(s string) Direction {
	if s == "forward" {
		return DirectionForward
	}
	return DirectionBackward
}

// MessageRepository is the append-only history store. Messages are written
// once with a server-assigned, monotonically increasing id and are never
// mutated; they disappear only when their parent chat is deleted.
type MessageRepository interface {
	// Append persists one role-tagged message. Content longer than the
	// configured maximum is truncated, never rejected. chatID may be empty
	// for messages not attached to a chat container.
	Append(ctx context.Context, userID, chatID string, role domain.Role, content string) (*domain.Message, error)

	// RecentContext returns the most recent limit messages for the user in
	// chronological (oldest-first) order. The snapshot is atomic with
	// respect to concurrent appends.
	RecentContext(ctx context.Context, userID string, limit int) ([]domain.Message, error)

	// ListMessages pages through one chat's messages by message-id cursor.
	ListMessages(ctx context.Context, userID, chatID, cursor string, limit int, direction Direction) (messages []domain.Message, nextCursor string, hasMore bool, err error)
}

// ChatRepository manages chat containers.
type ChatRepository interface {
	CreateChat(ctx context.Context, userID, title string) (*domain.Chat, error)
	GetChat(ctx context.Context, userID, chatID string) (*domain.Chat, error)
	ListChats(ctx context.Context, userID string) ([]domain.Chat, error)
	RenameChat(ctx context.Context, userID, chatID, newTitle string) (*domain.Chat, error)
	// DeleteChat removes the chat and cascades to its messages.
	DeleteChat(ctx context.Context, userID, chatID string) error
}

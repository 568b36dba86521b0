package repository

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/corvid-labs/relaychat/internal/domain"
)

// GormHistoryRepository implements MessageRepository and ChatRepository
// using GORM.
type GormHistoryRepository struct {
	db            *gorm.DB
	maxContentLen int
}

// NewGormHistoryRepository creates a new GORM-based history repository.
// maxContentLen bounds stored message content in runes; longer content is
// truncated at write time.
func NewGormHistoryRepository(db *gorm.DB, maxContentLen int) *GormHistoryRepository {
	return &GormHistoryRepository{db: db, maxContentLen: maxContentLen}
}

// Migrate creates the messages and chats tables.
func (r *GormHistoryRepository) Migrate() error {
	return r.db.AutoMigrate(&domain.MessageModel{}, &domain.ChatModel{})
}

func (r *GormHistoryRepository) Append(ctx context.Context, userID, chatID string, role domain.Role, content string) (*domain.Message, error) {
	if r.maxContentLen > 0 {
		if runes := []rune(content); len(runes) > r.maxContentLen {
			content = string(runes[:r.maxContentLen])
		}
	}

	model := &domain.MessageModel{
		UserID:  userID,
		ChatID:  chatID,
		Role:    string(role),
		Content: content,
	}

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(model).Error; err != nil {
			return err
		}
		if chatID != "" {
			// Denormalised pointer for chat list views; also bumps
			// updated_at so the chat sorts to the top.
			return tx.Model(&domain.ChatModel{}).
				Where("id = ? AND user_id = ?", chatID, userID).
				Update("last_message_id", model.ID).Error
		}
		return nil
	})
	if err != nil {
		return nil, storageErr("append message", err)
	}

	return model.ToDomain(), nil
}

func (r *GormHistoryRepository) RecentContext(ctx context.Context, userID string, limit int) ([]domain.Message, error) {
	var models []domain.MessageModel
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("id DESC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, storageErr("load recent context", err)
	}

	// Reverse into chronological (oldest-first) order.
	messages := make([]domain.Message, len(models))
	for i, m := range models {
		messages[len(models)-1-i] = *m.ToDomain()
	}
	return messages, nil
}

func (r *GormHistoryRepository) ListMessages(ctx context.Context, userID, chatID, cursor string, limit int, direction Direction) ([]domain.Message, string, bool, error) {
	// Query limit + 1 to determine if there are more results.
	queryLimit := limit + 1

	q := r.db.WithContext(ctx).Where("user_id = ? AND chat_id = ?", userID, chatID)

	var cursorID int64
	if cursor != "" {
		id, err := strconv.ParseInt(cursor, 10, 64)
		if err != nil {
			return nil, "", false, fmt.Errorf("%w: %q", ErrInvalidCursor, cursor)
		}
		cursorID = id
	}

	if direction == DirectionBackward {
		if cursor != "" {
			q = q.Where("id < ?", cursorID)
		}
		q = q.Order("id DESC")
	} else {
		if cursor != "" {
			q = q.Where("id > ?", cursorID)
		}
		q = q.Order("id ASC")
	}

	var models []domain.MessageModel
	if err := q.Limit(queryLimit).Find(&models).Error; err != nil {
		return nil, "", false, storageErr("list messages", err)
	}

	hasMore := len(models) > limit
	if hasMore {
		models = models[:limit]
	}

	messages := make([]domain.Message, len(models))
	for i, m := range models {
		messages[i] = *m.ToDomain()
	}

	nextCursor := ""
	if hasMore && len(messages) > 0 {
		nextCursor = strconv.FormatInt(messages[len(messages)-1].ID, 10)
	}

	return messages, nextCursor, hasMore, nil
}

func (r *GormHistoryRepository) CreateChat(ctx context.Context, userID, title string) (*domain.Chat, error) {
	if title == "" {
		title = domain.DefaultChatTitle
	}

	model := &domain.ChatModel{
		ID:     uuid.New().String(),
		UserID: userID,
		Title:  title,
	}
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return nil, storageErr("create chat", err)
	}

	return model.ToDomain(), nil
}

func (r *GormHistoryRepository) GetChat(ctx context.Context, userID, chatID string) (*domain.Chat, error) {
	var model domain.ChatModel
	err := r.db.WithContext(ctx).First(&model, "id = ? AND user_id = ?", chatID, userID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrChatNotFound
		}
		return nil, storageErr("get chat", err)
	}
	return model.ToDomain(), nil
}

func (r *GormHistoryRepository) ListChats(ctx context.Context, userID string) ([]domain.Chat, error) {
	var models []domain.ChatModel
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("updated_at DESC").
		Find(&models).Error
	if err != nil {
		return nil, storageErr("list chats", err)
	}

	chats := make([]domain.Chat, len(models))
	for i, m := range models {
		chats[i] = *m.ToDomain()
	}
	return chats, nil
}

func (r *GormHistoryRepository) RenameChat(ctx context.Context, userID, chatID, newTitle string) (*domain.Chat, error) {
	result := r.db.WithContext(ctx).Model(&domain.ChatModel{}).
		Where("id = ? AND user_id = ?", chatID, userID).
		Update("title", newTitle)
	if result.Error != nil {
		return nil, storageErr("rename chat", result.Error)
	}
	if result.RowsAffected == 0 {
		return nil, ErrChatNotFound
	}

	return r.GetChat(ctx, userID, chatID)
}

func (r *GormHistoryRepository) DeleteChat(ctx context.Context, userID, chatID string) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Where("id = ? AND user_id = ?", chatID, userID).Delete(&domain.ChatModel{})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return ErrChatNotFound
		}
		// Cascade to the chat's messages.
		return tx.Where("chat_id = ? AND user_id = ?", chatID, userID).Delete(&domain.MessageModel{}).Error
	})
	if err != nil {
		if errors.Is(err, ErrChatNotFound) {
			return ErrChatNotFound
		}
		return storageErr("delete chat", err)
	}
	return nil
}

func storageErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrStorageUnavailable, op, err)
}

package domain

import "time"

// MessageModel is the GORM model for the messages table. The autoincrement
// primary key doubles as the per-user ordering sequence: ids are assigned at
// write time and strictly increase, so ordering by id is ordering by
// append time.
type MessageModel struct {
	ID        int64     `gorm:"primaryKey;autoIncrement"`
	UserID    string    `gorm:"type:varchar(36);index;not null"`
	ChatID    string    `gorm:"type:varchar(36);index"`
	Role      string    `gorm:"type:varchar(16);not null"`
	Content   string    `gorm:"type:text;not null"`
	CreatedAt time.Time `gorm:"autoCreateTime"`
}

// TableName specifies the table name for MessageModel.
func (MessageModel) TableName() string {
	return "messages"
}

// ToDomain converts MessageModel to domain Message.
func (m *MessageModel) ToDomain() *Message {
	return &Message{
		ID:        m.ID,
		UserID:    m.UserID,
		ChatID:    m.ChatID,
		Role:      Role(m.Role),
		Content:   m.Content,
		CreatedAt: m.CreatedAt,
	}
}

// ChatModel is the GORM model for the chats table.
type ChatModel struct {
	ID            string    `gorm:"type:varchar(36);primaryKey"`
	UserID        string    `gorm:"type:varchar(36);index;not null"`
	Title         string    `gorm:"type:varchar(255);not null"`
	LastMessageID *int64
	CreatedAt     time.Time `gorm:"autoCreateTime"`
	UpdatedAt     time.Time `gorm:"autoUpdateTime"`
}

// TableName specifies the table name for ChatModel.
func (ChatModel) TableName() string {
	return "chats"
}

// ToDomain converts ChatModel to domain Chat.
func (m *ChatModel) ToDomain() *Chat {
	return &Chat{
		ID:            m.ID,
		UserID:        m.UserID,
		Title:         m.Title,
		LastMessageID: m.LastMessageID,
		CreatedAt:     m.CreatedAt,
		UpdatedAt:     m.UpdatedAt,
	}
}

package domain

import "time"

// Role identifies who authored a persisted message. It is set explicitly at
// write time, never inferred.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// DefaultChatTitle is assigned to chats created without an explicit title.
const DefaultChatTitle = "New Chat"

// Message is an immutable, persisted chat turn fragment. Messages are only
// ever appended; they are removed in bulk when their parent chat is deleted.
type Message struct {
	ID        int64     `json:"id"`
	UserID    string    `json:"user_id"`
	ChatID    string    `json:"chat_id,omitempty"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// Chat is a persisted container of messages owned by one user.
type Chat struct {
	ID            string    `json:"id"`
	UserID        string    `json:"user_id"`
	Title         string    `json:"title"`
	LastMessageID *int64    `json:"last_message_id,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

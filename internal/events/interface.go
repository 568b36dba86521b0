package events

import (
	"context"
	"time"
)

// TurnEvent is emitted once per finalized turn for downstream analytics.
type TurnEvent struct {
	UserID             string    `json:"user_id"`
	ChatID             string    `json:"chat_id,omitempty"`
	UserMessageID      int64     `json:"user_message_id"`
	AssistantMessageID int64     `json:"assistant_message_id,omitempty"`
	TerminalState      string    `json:"terminal_state"`
	Model              string    `json:"model"`
	DurationMS         int64     `json:"duration_ms"`
	CompletedAt        time.Time `json:"completed_at"`
}

type TurnEventProducer interface {
	ProduceTurnEvent(ctx context.Context, evt *TurnEvent) error
	Close() error
}

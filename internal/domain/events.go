package domain

// WebSocket event types from client.
const (
	EvtUserMessage     = "user-message"
	EvtGetChatHistory  = "get-chat-history"
	EvtCreateChat      = "create-chat"
	EvtDeleteChat      = "delete-chat"
	EvtUpdateChatTitle = "update-chat-title"
)

// WebSocket event types to client.
const (
	EvtBotResponseChunk    = "bot-response-chunk"
	EvtBotResponseComplete = "bot-response-complete"
	EvtError               = "error"
	EvtChatHistory         = "chat-history"
	EvtNewChat             = "new-chat"
	EvtChatDeleted         = "chat-deleted"
	EvtChatUpdated         = "chat-updated"
)

// Error codes
const (
	ErrCodeUnauthorized  = "UNAUTHORIZED"
	ErrCodeBadRequest    = "BAD_REQUEST"
	ErrCodeInvalidInput  = "INVALID_INPUT"
	ErrCodeTurnInFlight  = "TURN_IN_FLIGHT"
	ErrCodeNotFound      = "NOT_FOUND"
	ErrCodeInternalError = "INTERNAL_ERROR"
)

// BaseEvent is the envelope shared by all WebSocket events.
type BaseEvent struct {
	Type string `json:"type"`
}

// Client -> Server events

type UserMessageEvent struct {
	Type    string `json:"type"`
	Content string `json:"content"`
}

type CreateChatEvent struct {
	Type  string `json:"type"`
	Title string `json:"title"`
}

type DeleteChatEvent struct {
	Type   string `json:"type"`
	ChatID string `json:"chat_id"`
}

type UpdateChatTitleEvent struct {
	Type     string `json:"type"`
	ChatID   string `json:"chat_id"`
	NewTitle string `json:"new_title"`
}

// Server -> Client events

type BotResponseChunkEvent struct {
	Type    string `json:"type"`
	Content string `json:"content"`
}

type BotResponseCompleteEvent struct {
	Type string `json:"type"`
}

type ChatHistoryEvent struct {
	Type  string `json:"type"`
	Chats []Chat `json:"chats"`
}

type ChatEvent struct {
	Type string `json:"type"`
	Chat *Chat  `json:"chat"`
}

type ChatDeletedEvent struct {
	Type   string `json:"type"`
	ChatID string `json:"chat_id"`
}

type ErrorEvent struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func NewErrorEvent(code, message string) *ErrorEvent {
	return &ErrorEvent{
		Type:    EvtError,
		Code:    code,
		Message: message,
	}
}

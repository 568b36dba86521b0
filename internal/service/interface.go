package service

import (
	"context"

	"github.com/corvid-labs/relaychat/internal/hub"
	"github.com/corvid-labs/relaychat/internal/upstream"
)

// CompletionStreamer is the upstream provider surface the relay needs.
// *upstream.Client satisfies it.
type CompletionStreamer interface {
	StreamCompletion(ctx context.Context, messages []upstream.ChatMessage, onDelta func(delta string)) *upstream.StreamResult
	Complete(ctx context.Context, messages []upstream.ChatMessage, maxTokens int) (string, error)
}

// RelayService owns the lifecycle of every client-originated operation on a
// live connection: turn relay, chat management, and the read side.
type RelayService interface {
	// HandleConnect runs after the connection is authenticated and
	// registered with the hub.
	HandleConnect(ctx context.Context, c *hub.Client)

	// HandleUserMessage persists the user turn, dispatches the upstream
	// streaming call, and relays deltas back on c. It returns as soon as
	// the turn is dispatched; streaming continues on its own goroutine.
	HandleUserMessage(ctx context.Context, c *hub.Client, content string)

	HandleGetChatHistory(ctx context.Context, c *hub.Client)
	HandleCreateChat(ctx context.Context, c *hub.Client, title string)
	HandleDeleteChat(ctx context.Context, c *hub.Client, chatID string)
	HandleUpdateChatTitle(ctx context.Context, c *hub.Client, chatID, newTitle string)

	// HandleDisconnect runs once per connection teardown, after the
	// connection context has been cancelled.
	HandleDisconnect(c *hub.Client)
}

package service

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/corvid-labs/relaychat/internal/audit"
	"github.com/corvid-labs/relaychat/internal/domain"
	"github.com/corvid-labs/relaychat/internal/events"
	"github.com/corvid-labs/relaychat/internal/hub"
	"github.com/corvid-labs/relaychat/internal/registry"
	"github.com/corvid-labs/relaychat/internal/repository"
	"github.com/corvid-labs/relaychat/internal/upstream"
	"github.com/corvid-labs/relaychat/pkg/log"
)

// Client-facing failure messages. Provider details never leak to the client;
// they go to the log instead.
const (
	msgGenericFailure = "Sorry, something went wrong while generating a response. Please try again."
	msgEmptyResponse  = "The assistant did not return a response. Please try again."
	msgTurnInFlight   = "A response is still being generated. Wait for it to finish before sending another message."
	msgSaveFailure    = "Your message could not be saved. Please try again."
)

const maxChatTitleRunes = 128

// Config carries the turn-relay tunables.
type Config struct {
	ContextWindow  int
	SystemPrompt   string
	Model          string
	PersistTimeout time.Duration
}

type relayService struct {
	cfg      Config
	hub      *hub.Hub
	messages repository.MessageRepository
	chats    repository.ChatRepository
	history  *HistoryService
	streamer CompletionStreamer
	registry registry.Registry
	producer events.TurnEventProducer
}

func NewRelayService(
	cfg Config,
	h *hub.Hub,
	messages repository.MessageRepository,
	chats repository.ChatRepository,
	history *HistoryService,
	streamer CompletionStreamer,
	reg registry.Registry,
	producer events.TurnEventProducer,
) RelayService {
	if cfg.PersistTimeout <= 0 {
		cfg.PersistTimeout = 10 * time.Second
	}
	return &relayService{
		cfg:      cfg,
		hub:      h,
		messages: messages,
		chats:    chats,
		history:  history,
		streamer: streamer,
		registry: reg,
		producer: producer,
	}
}

func (s *relayService) HandleConnect(ctx context.Context, c *hub.Client) {
	if err := s.registry.Register(ctx, c.Session.UserID, c.ID); err != nil {
		l := log.Ctx(ctx)
		l.Warn().Str(log.FieldUserID, c.Session.UserID).Err(err).Msg("presence registration failed")
	}
	audit.Log(ctx, audit.ActionConnect, c.Session.UserID, "client connected")
}

func (s *relayService) HandleDisconnect(c *hub.Client) {
	// The connection context is already cancelled here; deregistration
	// gets its own deadline.
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.PersistTimeout)
	defer cancel()

	if err := s.registry.Deregister(ctx, c.Session.UserID, c.ID); err != nil {
		l := log.L()
		l.Warn().Str(log.FieldUserID, c.Session.UserID).Err(err).Msg("presence deregistration failed")
	}
	audit.Log(ctx, audit.ActionDisconnect, c.Session.UserID, "client disconnected")
}

// HandleUserMessage runs the write half of a turn inline, then hands the
// streaming half to its own goroutine. The user message is durable before
// the upstream call is dispatched.
func (s *relayService) HandleUserMessage(ctx context.Context, c *hub.Client, content string) {
	content = strings.TrimSpace(content)
	if content == "" {
		c.SendError(domain.ErrCodeInvalidInput, "message content must not be empty")
		return
	}

	sess := c.Session
	if !sess.BeginTurn() {
		c.SendError(domain.ErrCodeTurnInFlight, msgTurnInFlight)
		return
	}

	l := log.Ctx(ctx)

	// Snapshot the context window before appending so the new turn appears
	// in the prompt exactly once.
	window, err := s.messages.RecentContext(ctx, sess.UserID, s.cfg.ContextWindow)
	if err != nil {
		sess.EndTurn()
		l.Error().Str(log.FieldUserID, sess.UserID).Err(err).Msg("failed to load context window")
		c.SendError(domain.ErrCodeInternalError, msgSaveFailure)
		return
	}

	chatID := sess.ActiveChat()
	userMsg, err := s.messages.Append(ctx, sess.UserID, chatID, domain.RoleUser, content)
	if err != nil {
		sess.EndTurn()
		l.Error().Str(log.FieldUserID, sess.UserID).Err(err).Msg("failed to persist user message")
		c.SendError(domain.ErrCodeInternalError, msgSaveFailure)
		return
	}

	audit.LogWithDetail(ctx, audit.ActionTurnStart, sess.UserID, chatID, "turn dispatched")
	go s.runTurn(c, userMsg, chatID, s.buildPrompt(window, content), content)
}

// runTurn owns one streaming turn end to end. It terminates in exactly one
// state, persists whatever content accumulated, and always clears the
// in-flight marker.
func (s *relayService) runTurn(c *hub.Client, userMsg *domain.Message, chatID string, prompt []upstream.ChatMessage, userContent string) {
	sess := c.Session
	defer sess.EndTurn()

	l := log.L()
	start := time.Now()

	result := s.streamer.StreamCompletion(c.Context(), prompt, func(delta string) {
		c.SendEvent(&domain.BotResponseChunkEvent{Type: domain.EvtBotResponseChunk, Content: delta})
	})

	// Persistence must survive the connection, so it never rides the
	// connection context.
	persistCtx, cancel := context.WithTimeout(context.Background(), s.cfg.PersistTimeout)
	defer cancel()

	var assistantID int64
	if result.Content != "" {
		botMsg, err := s.messages.Append(persistCtx, sess.UserID, chatID, domain.RoleAssistant, result.Content)
		if err != nil {
			l.Error().
				Str(log.FieldUserID, sess.UserID).
				Str(log.FieldTurnState, result.State.String()).
				Err(err).
				Msg("failed to persist assistant message")
		} else {
			assistantID = botMsg.ID
		}
	}

	switch result.State {
	case upstream.StateCompleted, upstream.StateTimedOut:
		if result.State == upstream.StateTimedOut {
			l.Warn().
				Str(log.FieldUserID, sess.UserID).
				Str(log.FieldModel, s.cfg.Model).
				Msg("upstream stream idle timeout, finalizing with partial content")
		}
		if result.Content == "" {
			c.SendError(domain.ErrCodeInternalError, msgEmptyResponse)
			break
		}
		c.SendEvent(&domain.BotResponseCompleteEvent{Type: domain.EvtBotResponseComplete})

	case upstream.StateErrored:
		l.Error().
			Str(log.FieldUserID, sess.UserID).
			Str(log.FieldModel, s.cfg.Model).
			Err(result.Err).
			Msg("upstream stream failed")
		// A cancelled connection has nobody left to notify.
		if c.Context().Err() == nil && !errors.Is(result.Err, context.Canceled) {
			c.SendError(domain.ErrCodeInternalError, msgGenericFailure)
		}
	}

	audit.LogWithDetail(persistCtx, audit.ActionTurnComplete, sess.UserID, result.State.String(), "turn finished")

	if err := s.producer.ProduceTurnEvent(persistCtx, &events.TurnEvent{
		UserID:             sess.UserID,
		ChatID:             chatID,
		UserMessageID:      userMsg.ID,
		AssistantMessageID: assistantID,
		TerminalState:      result.State.String(),
		Model:              s.cfg.Model,
		DurationMS:         time.Since(start).Milliseconds(),
		CompletedAt:        time.Now().UTC(),
	}); err != nil {
		l.Warn().Str(log.FieldUserID, sess.UserID).Err(err).Msg("failed to produce turn event")
	}

	if chatID != "" && result.Content != "" && result.State != upstream.StateErrored {
		s.maybeGenerateTitle(persistCtx, c, chatID, userContent)
	}
}

// buildPrompt assembles the completion request: system prompt, the recent
// window oldest first, then the new turn.
func (s *relayService) buildPrompt(window []domain.Message, content string) []upstream.ChatMessage {
	prompt := make([]upstream.ChatMessage, 0, len(window)+2)
	if s.cfg.SystemPrompt != "" {
		prompt = append(prompt, upstream.ChatMessage{Role: string(domain.RoleSystem), Content: s.cfg.SystemPrompt})
	}
	for _, m := range window {
		prompt = append(prompt, upstream.ChatMessage{Role: string(m.Role), Content: m.Content})
	}
	return append(prompt, upstream.ChatMessage{Role: string(domain.RoleUser), Content: content})
}

func (s *relayService) HandleGetChatHistory(ctx context.Context, c *hub.Client) {
	chats, err := s.history.ListChats(ctx, c.Session.UserID)
	if err != nil {
		l := log.Ctx(ctx)
		l.Error().Str(log.FieldUserID, c.Session.UserID).Err(err).Msg("failed to list chats")
		c.SendError(domain.ErrCodeInternalError, "failed to load chat history")
		return
	}
	if chats == nil {
		chats = []domain.Chat{}
	}
	c.SendEvent(&domain.ChatHistoryEvent{Type: domain.EvtChatHistory, Chats: chats})
}

func (s *relayService) HandleCreateChat(ctx context.Context, c *hub.Client, title string) {
	title = strings.TrimSpace(title)
	if utf8.RuneCountInString(title) > maxChatTitleRunes {
		title = string([]rune(title)[:maxChatTitleRunes])
	}

	chat, err := s.chats.CreateChat(ctx, c.Session.UserID, title)
	if err != nil {
		l := log.Ctx(ctx)
		l.Error().Str(log.FieldUserID, c.Session.UserID).Err(err).Msg("failed to create chat")
		c.SendError(domain.ErrCodeInternalError, "failed to create chat")
		return
	}

	c.Session.SetActiveChat(chat.ID)
	s.history.InvalidateChats(ctx, c.Session.UserID)
	audit.LogWithDetail(ctx, audit.ActionCreateChat, c.Session.UserID, chat.ID, "chat created")
	s.hub.SendToUser(c.Session.UserID, &domain.ChatEvent{Type: domain.EvtNewChat, Chat: chat})
}

func (s *relayService) HandleDeleteChat(ctx context.Context, c *hub.Client, chatID string) {
	if chatID == "" {
		c.SendError(domain.ErrCodeInvalidInput, "chat_id must not be empty")
		return
	}

	if err := s.chats.DeleteChat(ctx, c.Session.UserID, chatID); err != nil {
		if errors.Is(err, repository.ErrChatNotFound) {
			c.SendError(domain.ErrCodeNotFound, "chat not found")
			return
		}
		l := log.Ctx(ctx)
		l.Error().Str(log.FieldChatID, chatID).Err(err).Msg("failed to delete chat")
		c.SendError(domain.ErrCodeInternalError, "failed to delete chat")
		return
	}

	c.Session.ClearActiveChatIf(chatID)
	s.history.InvalidateChats(ctx, c.Session.UserID)
	audit.LogWithDetail(ctx, audit.ActionDeleteChat, c.Session.UserID, chatID, "chat deleted")
	s.hub.SendToUser(c.Session.UserID, &domain.ChatDeletedEvent{Type: domain.EvtChatDeleted, ChatID: chatID})
}

func (s *relayService) HandleUpdateChatTitle(ctx context.Context, c *hub.Client, chatID, newTitle string) {
	newTitle = strings.TrimSpace(newTitle)
	if chatID == "" || newTitle == "" {
		c.SendError(domain.ErrCodeInvalidInput, "chat_id and new_title must not be empty")
		return
	}
	if utf8.RuneCountInString(newTitle) > maxChatTitleRunes {
		newTitle = string([]rune(newTitle)[:maxChatTitleRunes])
	}

	chat, err := s.chats.RenameChat(ctx, c.Session.UserID, chatID, newTitle)
	if err != nil {
		if errors.Is(err, repository.ErrChatNotFound) {
			c.SendError(domain.ErrCodeNotFound, "chat not found")
			return
		}
		l := log.Ctx(ctx)
		l.Error().Str(log.FieldChatID, chatID).Err(err).Msg("failed to rename chat")
		c.SendError(domain.ErrCodeInternalError, "failed to rename chat")
		return
	}

	s.history.InvalidateChats(ctx, c.Session.UserID)
	audit.LogWithDetail(ctx, audit.ActionRenameChat, c.Session.UserID, chatID, "chat renamed")
	s.hub.SendToUser(c.Session.UserID, &domain.ChatEvent{Type: domain.EvtChatUpdated, Chat: chat})
}

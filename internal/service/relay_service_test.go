package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corvid-labs/relaychat/internal/cache"
	"github.com/corvid-labs/relaychat/internal/config"
	"github.com/corvid-labs/relaychat/internal/domain"
	"github.com/corvid-labs/relaychat/internal/events"
	"github.com/corvid-labs/relaychat/internal/hub"
	"github.com/corvid-labs/relaychat/internal/registry"
	"github.com/corvid-labs/relaychat/internal/repository"
	"github.com/corvid-labs/relaychat/internal/upstream"
)

// fakeStreamer answers completion calls from canned data, or from streamFn
// when a test needs full control of the call.
type fakeStreamer struct {
	mu       sync.Mutex
	deltas   []string
	state    upstream.TerminalState
	err      error
	streamFn func(ctx context.Context, onDelta func(string)) *upstream.StreamResult

	completeReply string
	completeErr   error

	prompts [][]upstream.ChatMessage
}

func (f *fakeStreamer) StreamCompletion(ctx context.Context, messages []upstream.ChatMessage, onDelta func(string)) *upstream.StreamResult {
	f.mu.Lock()
	f.prompts = append(f.prompts, messages)
	f.mu.Unlock()

	if f.streamFn != nil {
		return f.streamFn(ctx, onDelta)
	}

	var content strings.Builder
	for _, d := range f.deltas {
		content.WriteString(d)
		onDelta(d)
	}
	return &upstream.StreamResult{Content: content.String(), State: f.state, Err: f.err}
}

func (f *fakeStreamer) Complete(ctx context.Context, messages []upstream.ChatMessage, maxTokens int) (string, error) {
	return f.completeReply, f.completeErr
}

func (f *fakeStreamer) lastPrompt() []upstream.ChatMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.prompts) == 0 {
		return nil
	}
	return f.prompts[len(f.prompts)-1]
}

// memStore is an in-memory MessageRepository and ChatRepository.
type memStore struct {
	mu         sync.Mutex
	nextMsgID  int64
	nextChatID int
	messages   []domain.Message
	chats      map[string]*domain.Chat
	failAppend bool
}

func newMemStore() *memStore {
	return &memStore{chats: make(map[string]*domain.Chat)}
}

func (s *memStore) Append(ctx context.Context, userID, chatID string, role domain.Role, content string) (*domain.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failAppend {
		return nil, repository.ErrStorageUnavailable
	}
	s.nextMsgID++
	msg := domain.Message{
		ID:        s.nextMsgID,
		UserID:    userID,
		ChatID:    chatID,
		Role:      role,
		Content:   content,
		CreatedAt: time.Now(),
	}
	s.messages = append(s.messages, msg)
	return &msg, nil
}

func (s *memStore) RecentContext(ctx context.Context, userID string, limit int) ([]domain.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failAppend {
		return nil, repository.ErrStorageUnavailable
	}
	var out []domain.Message
	for _, m := range s.messages {
		if m.UserID == userID {
			out = append(out, m)
		}
	}
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (s *memStore) ListMessages(ctx context.Context, userID, chatID, cursor string, limit int, direction repository.Direction) ([]domain.Message, string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Message
	for _, m := range s.messages {
		if m.UserID == userID && m.ChatID == chatID {
			out = append(out, m)
		}
	}
	return out, "", false, nil
}

func (s *memStore) CreateChat(ctx context.Context, userID, title string) (*domain.Chat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if title == "" {
		title = domain.DefaultChatTitle
	}
	s.nextChatID++
	chat := &domain.Chat{
		ID:        fmt.Sprintf("chat-%d", s.nextChatID),
		UserID:    userID,
		Title:     title,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	s.chats[chat.ID] = chat
	return chat, nil
}

func (s *memStore) GetChat(ctx context.Context, userID, chatID string) (*domain.Chat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	chat, ok := s.chats[chatID]
	if !ok || chat.UserID != userID {
		return nil, repository.ErrChatNotFound
	}
	copied := *chat
	return &copied, nil
}

func (s *memStore) ListChats(ctx context.Context, userID string) ([]domain.Chat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Chat
	for _, c := range s.chats {
		if c.UserID == userID {
			out = append(out, *c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *memStore) RenameChat(ctx context.Context, userID, chatID, newTitle string) (*domain.Chat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	chat, ok := s.chats[chatID]
	if !ok || chat.UserID != userID {
		return nil, repository.ErrChatNotFound
	}
	chat.Title = newTitle
	chat.UpdatedAt = time.Now()
	copied := *chat
	return &copied, nil
}

func (s *memStore) DeleteChat(ctx context.Context, userID, chatID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	chat, ok := s.chats[chatID]
	if !ok || chat.UserID != userID {
		return repository.ErrChatNotFound
	}
	delete(s.chats, chatID)
	var kept []domain.Message
	for _, m := range s.messages {
		if m.ChatID != chatID {
			kept = append(kept, m)
		}
	}
	s.messages = kept
	return nil
}

func (s *memStore) messagesByRole(role domain.Role) []domain.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Message
	for _, m := range s.messages {
		if m.Role == role {
			out = append(out, m)
		}
	}
	return out
}

type fixture struct {
	svc      RelayService
	hub      *hub.Hub
	store    *memStore
	streamer *fakeStreamer
	client   *hub.Client
}

func newFixture(t *testing.T, streamer *fakeStreamer) *fixture {
	t.Helper()

	store := newMemStore()
	wsCfg := config.WebSocketConfig{
		PingInterval:   30 * time.Second,
		PongWait:       60 * time.Second,
		WriteWait:      10 * time.Second,
		MaxMessageSize: 65536,
	}
	h := hub.NewHub(wsCfg)
	go h.Run()

	history := NewHistoryService(store, store, cache.NoopChatListCache{}, time.Minute)
	svc := NewRelayService(
		Config{ContextWindow: 10, SystemPrompt: "You are a helpful assistant.", Model: "test-model", PersistTimeout: time.Second},
		h, store, store, history, streamer,
		registry.NoopRegistry{}, events.NoopProducer{},
	)

	sess := domain.NewSession("sess-1", "user-1", "tester", "tester@example.com")
	client := hub.NewClient("client-1", h, nil, sess, wsCfg)
	h.Register(client)
	require.Eventually(t, func() bool { return h.UserConnectionCount("user-1") == 1 }, time.Second, 5*time.Millisecond)

	return &fixture{svc: svc, hub: h, store: store, streamer: streamer, client: client}
}

func (f *fixture) nextEvent(t *testing.T) map[string]interface{} {
	t.Helper()
	select {
	case data := <-f.client.Send:
		var m map[string]interface{}
		require.NoError(t, json.Unmarshal(data, &m))
		return m
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return nil
	}
}

func (f *fixture) waitTurnDone(t *testing.T) {
	t.Helper()
	require.Eventually(t, func() bool { return !f.client.Session.TurnInFlight() }, time.Second, 5*time.Millisecond)
}

func TestHandleUserMessage_StreamsAndPersists(t *testing.T) {
	streamer := &fakeStreamer{deltas: []string{"Hi", " there"}, state: upstream.StateCompleted}
	f := newFixture(t, streamer)

	f.svc.HandleUserMessage(context.Background(), f.client, "hello")
	f.waitTurnDone(t)

	evt := f.nextEvent(t)
	assert.Equal(t, domain.EvtBotResponseChunk, evt["type"])
	assert.Equal(t, "Hi", evt["content"])

	evt = f.nextEvent(t)
	assert.Equal(t, domain.EvtBotResponseChunk, evt["type"])
	assert.Equal(t, " there", evt["content"])

	evt = f.nextEvent(t)
	assert.Equal(t, domain.EvtBotResponseComplete, evt["type"])

	userMsgs := f.store.messagesByRole(domain.RoleUser)
	botMsgs := f.store.messagesByRole(domain.RoleAssistant)
	require.Len(t, userMsgs, 1)
	require.Len(t, botMsgs, 1)
	assert.Equal(t, "hello", userMsgs[0].Content)
	assert.Equal(t, "Hi there", botMsgs[0].Content)
	assert.Greater(t, botMsgs[0].ID, userMsgs[0].ID)
}

func TestHandleUserMessage_PromptContainsWindowAndSystem(t *testing.T) {
	streamer := &fakeStreamer{deltas: []string{"first"}, state: upstream.StateCompleted}
	f := newFixture(t, streamer)

	f.svc.HandleUserMessage(context.Background(), f.client, "question one")
	f.waitTurnDone(t)
	f.svc.HandleUserMessage(context.Background(), f.client, "question two")
	f.waitTurnDone(t)

	prompt := f.streamer.lastPrompt()
	require.NotEmpty(t, prompt)
	assert.Equal(t, "system", prompt[0].Role)

	// The window holds the previous exchange exactly once, then the new turn.
	assert.Equal(t, "question one", prompt[1].Content)
	assert.Equal(t, "first", prompt[2].Content)
	assert.Equal(t, "question two", prompt[len(prompt)-1].Content)
}

func TestHandleUserMessage_EmptyContent(t *testing.T) {
	streamer := &fakeStreamer{}
	f := newFixture(t, streamer)

	f.svc.HandleUserMessage(context.Background(), f.client, "   \n\t ")

	evt := f.nextEvent(t)
	assert.Equal(t, domain.EvtError, evt["type"])
	assert.Equal(t, domain.ErrCodeInvalidInput, evt["code"])
	assert.Empty(t, f.store.messagesByRole(domain.RoleUser))
	assert.False(t, f.client.Session.TurnInFlight())
}

func TestHandleUserMessage_UpstreamError(t *testing.T) {
	streamer := &fakeStreamer{state: upstream.StateErrored, err: fmt.Errorf("upstream returned status 500")}
	f := newFixture(t, streamer)

	f.svc.HandleUserMessage(context.Background(), f.client, "hello")
	f.waitTurnDone(t)

	evt := f.nextEvent(t)
	assert.Equal(t, domain.EvtError, evt["type"])
	assert.Equal(t, domain.ErrCodeInternalError, evt["code"])
	// Provider detail stays server side.
	assert.NotContains(t, evt["message"], "500")

	assert.Len(t, f.store.messagesByRole(domain.RoleUser), 1)
	assert.Empty(t, f.store.messagesByRole(domain.RoleAssistant))
}

func TestHandleUserMessage_EmptyCompletion(t *testing.T) {
	streamer := &fakeStreamer{state: upstream.StateCompleted}
	f := newFixture(t, streamer)

	f.svc.HandleUserMessage(context.Background(), f.client, "hello")
	f.waitTurnDone(t)

	evt := f.nextEvent(t)
	assert.Equal(t, domain.EvtError, evt["type"])
	assert.Equal(t, domain.ErrCodeInternalError, evt["code"])
	assert.Empty(t, f.store.messagesByRole(domain.RoleAssistant))
}

func TestHandleUserMessage_TimedOutKeepsPartial(t *testing.T) {
	streamer := &fakeStreamer{deltas: []string{"partial"}, state: upstream.StateTimedOut}
	f := newFixture(t, streamer)

	f.svc.HandleUserMessage(context.Background(), f.client, "hello")
	f.waitTurnDone(t)

	evt := f.nextEvent(t)
	assert.Equal(t, domain.EvtBotResponseChunk, evt["type"])
	evt = f.nextEvent(t)
	assert.Equal(t, domain.EvtBotResponseComplete, evt["type"])

	botMsgs := f.store.messagesByRole(domain.RoleAssistant)
	require.Len(t, botMsgs, 1)
	assert.Equal(t, "partial", botMsgs[0].Content)
}

func TestHandleUserMessage_RejectsOverlappingTurn(t *testing.T) {
	release := make(chan struct{})
	streamer := &fakeStreamer{}
	streamer.streamFn = func(ctx context.Context, onDelta func(string)) *upstream.StreamResult {
		<-release
		onDelta("done")
		return &upstream.StreamResult{Content: "done", State: upstream.StateCompleted}
	}
	f := newFixture(t, streamer)

	f.svc.HandleUserMessage(context.Background(), f.client, "first")
	require.Eventually(t, func() bool { return f.client.Session.TurnInFlight() }, time.Second, time.Millisecond)

	f.svc.HandleUserMessage(context.Background(), f.client, "second")
	evt := f.nextEvent(t)
	assert.Equal(t, domain.EvtError, evt["type"])
	assert.Equal(t, domain.ErrCodeTurnInFlight, evt["code"])
	assert.Len(t, f.store.messagesByRole(domain.RoleUser), 1)

	close(release)
	f.waitTurnDone(t)

	// The rejected turn changed nothing; the first one finished normally.
	assert.Len(t, f.store.messagesByRole(domain.RoleUser), 1)
	assert.Len(t, f.store.messagesByRole(domain.RoleAssistant), 1)
}

func TestHandleUserMessage_PersistFailure(t *testing.T) {
	streamer := &fakeStreamer{}
	f := newFixture(t, streamer)
	f.store.failAppend = true

	f.svc.HandleUserMessage(context.Background(), f.client, "hello")

	evt := f.nextEvent(t)
	assert.Equal(t, domain.EvtError, evt["type"])
	assert.Equal(t, domain.ErrCodeInternalError, evt["code"])
	assert.False(t, f.client.Session.TurnInFlight())
	assert.Empty(t, f.streamer.lastPrompt())
}

func TestHandleUserMessage_DisconnectPersistsPartial(t *testing.T) {
	streamer := &fakeStreamer{}
	f := newFixture(t, streamer)

	streamer.streamFn = func(ctx context.Context, onDelta func(string)) *upstream.StreamResult {
		onDelta("partial ")
		f.client.Close()
		<-ctx.Done()
		return &upstream.StreamResult{Content: "partial answer", State: upstream.StateErrored, Err: ctx.Err()}
	}

	f.svc.HandleUserMessage(context.Background(), f.client, "hello")
	f.waitTurnDone(t)

	// Partial content survives the connection.
	botMsgs := f.store.messagesByRole(domain.RoleAssistant)
	require.Len(t, botMsgs, 1)
	assert.Equal(t, "partial answer", botMsgs[0].Content)
}

func TestHandleUserMessage_SlowConsumerClosed(t *testing.T) {
	streamer := &fakeStreamer{}
	f := newFixture(t, streamer)

	// Nothing drains the client's send buffer, so a long stream overflows
	// it mid-turn.
	var generated strings.Builder
	streamer.streamFn = func(ctx context.Context, onDelta func(string)) *upstream.StreamResult {
		for i := 0; i < 300; i++ {
			if ctx.Err() != nil {
				return &upstream.StreamResult{Content: generated.String(), State: upstream.StateErrored, Err: ctx.Err()}
			}
			d := fmt.Sprintf("d%d ", i)
			generated.WriteString(d)
			onDelta(d)
		}
		return &upstream.StreamResult{Content: generated.String(), State: upstream.StateCompleted}
	}

	f.svc.HandleUserMessage(context.Background(), f.client, "hello")
	f.waitTurnDone(t)

	// Overflow must kill the connection rather than hand the client a
	// silently truncated stream.
	require.Error(t, f.client.Context().Err())

	// What the provider produced before the abort is still durable.
	botMsgs := f.store.messagesByRole(domain.RoleAssistant)
	require.Len(t, botMsgs, 1)
	assert.Equal(t, generated.String(), botMsgs[0].Content)
}

func TestHandleCreateChat(t *testing.T) {
	streamer := &fakeStreamer{}
	f := newFixture(t, streamer)

	f.svc.HandleCreateChat(context.Background(), f.client, "")

	evt := f.nextEvent(t)
	assert.Equal(t, domain.EvtNewChat, evt["type"])
	chat := evt["chat"].(map[string]interface{})
	assert.Equal(t, domain.DefaultChatTitle, chat["title"])
	assert.Equal(t, chat["id"], f.client.Session.ActiveChat())
}

func TestHandleDeleteChat(t *testing.T) {
	streamer := &fakeStreamer{}
	f := newFixture(t, streamer)

	chat, err := f.store.CreateChat(context.Background(), "user-1", "to delete")
	require.NoError(t, err)
	f.client.Session.SetActiveChat(chat.ID)

	f.svc.HandleDeleteChat(context.Background(), f.client, chat.ID)

	evt := f.nextEvent(t)
	assert.Equal(t, domain.EvtChatDeleted, evt["type"])
	assert.Equal(t, chat.ID, evt["chat_id"])
	assert.Empty(t, f.client.Session.ActiveChat())

	f.svc.HandleDeleteChat(context.Background(), f.client, chat.ID)
	evt = f.nextEvent(t)
	assert.Equal(t, domain.EvtError, evt["type"])
	assert.Equal(t, domain.ErrCodeNotFound, evt["code"])
}

func TestHandleUpdateChatTitle(t *testing.T) {
	streamer := &fakeStreamer{}
	f := newFixture(t, streamer)

	chat, err := f.store.CreateChat(context.Background(), "user-1", "old title")
	require.NoError(t, err)

	f.svc.HandleUpdateChatTitle(context.Background(), f.client, chat.ID, "new title")

	evt := f.nextEvent(t)
	assert.Equal(t, domain.EvtChatUpdated, evt["type"])
	updated := evt["chat"].(map[string]interface{})
	assert.Equal(t, "new title", updated["title"])

	f.svc.HandleUpdateChatTitle(context.Background(), f.client, chat.ID, "  ")
	evt = f.nextEvent(t)
	assert.Equal(t, domain.EvtError, evt["type"])
	assert.Equal(t, domain.ErrCodeInvalidInput, evt["code"])
}

func TestHandleGetChatHistory(t *testing.T) {
	streamer := &fakeStreamer{}
	f := newFixture(t, streamer)

	f.svc.HandleGetChatHistory(context.Background(), f.client)
	evt := f.nextEvent(t)
	assert.Equal(t, domain.EvtChatHistory, evt["type"])
	assert.Empty(t, evt["chats"])

	_, err := f.store.CreateChat(context.Background(), "user-1", "a chat")
	require.NoError(t, err)
	_, err = f.store.CreateChat(context.Background(), "someone-else", "not mine")
	require.NoError(t, err)

	f.svc.HandleGetChatHistory(context.Background(), f.client)
	evt = f.nextEvent(t)
	chats := evt["chats"].([]interface{})
	require.Len(t, chats, 1)
	assert.Equal(t, "a chat", chats[0].(map[string]interface{})["title"])
}

func TestTurnGeneratesChatTitle(t *testing.T) {
	streamer := &fakeStreamer{deltas: []string{"answer"}, state: upstream.StateCompleted, completeReply: `"Go Questions"`}
	f := newFixture(t, streamer)

	chat, err := f.store.CreateChat(context.Background(), "user-1", "")
	require.NoError(t, err)
	f.client.Session.SetActiveChat(chat.ID)

	f.svc.HandleUserMessage(context.Background(), f.client, "how do goroutines work?")
	f.waitTurnDone(t)

	require.Eventually(t, func() bool {
		got, err := f.store.GetChat(context.Background(), "user-1", chat.ID)
		return err == nil && got.Title == "Go Questions"
	}, time.Second, 5*time.Millisecond)
}

func TestTurnTitleFallbackOnProviderError(t *testing.T) {
	streamer := &fakeStreamer{deltas: []string{"answer"}, state: upstream.StateCompleted, completeErr: fmt.Errorf("provider down")}
	f := newFixture(t, streamer)

	chat, err := f.store.CreateChat(context.Background(), "user-1", "")
	require.NoError(t, err)
	f.client.Session.SetActiveChat(chat.ID)

	f.svc.HandleUserMessage(context.Background(), f.client, "please explain channel select semantics in detail")
	f.waitTurnDone(t)

	require.Eventually(t, func() bool {
		got, err := f.store.GetChat(context.Background(), "user-1", chat.ID)
		return err == nil && got.Title == "please explain chann..."
	}, time.Second, 5*time.Millisecond)
}

func TestTurnKeepsCustomTitle(t *testing.T) {
	streamer := &fakeStreamer{deltas: []string{"answer"}, state: upstream.StateCompleted, completeReply: "Should Not Apply"}
	f := newFixture(t, streamer)

	chat, err := f.store.CreateChat(context.Background(), "user-1", "my own title")
	require.NoError(t, err)
	f.client.Session.SetActiveChat(chat.ID)

	f.svc.HandleUserMessage(context.Background(), f.client, "hello")
	f.waitTurnDone(t)

	time.Sleep(50 * time.Millisecond)
	got, err := f.store.GetChat(context.Background(), "user-1", chat.ID)
	require.NoError(t, err)
	assert.Equal(t, "my own title", got.Title)
}

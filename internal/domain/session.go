package domain

import (
	"sync"
	"time"
)

// Session holds per-connection state. It is created only after the
// connection credential has been verified, so a Session always carries a
// user identity, and that identity never changes for the connection's
// lifetime.
type Session struct {
	ID           string
	UserID       string
	Username     string
	Email        string
	ActiveChatID string
	CreatedAt    time.Time
	LastActiveAt time.Time

	turnInFlight bool
	mu           sync.RWMutex
}

func NewSession(id, userID, username, email string) *Session {
	now := time.Now()
	return &Session{
		ID:           id,
		UserID:       userID,
		Username:     username,
		Email:        email,
		CreatedAt:    now,
		LastActiveAt: now,
	}
}

// BeginTurn marks a turn as in flight. It returns false if another turn is
// already running on this connection; at most one turn may be awaiting or
// streaming at a time.
func (s *Session) BeginTurn() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.turnInFlight {
		return false
	}
	s.turnInFlight = true
	s.LastActiveAt = time.Now()
	return true
}

// EndTurn clears the in-flight marker.
func (s *Session) EndTurn() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.turnInFlight = false
}

// TurnInFlight reports whether a turn is currently awaiting or streaming.
func (s *Session) TurnInFlight() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.turnInFlight
}

// SetActiveChat records the chat new turns will be attached to.
func (s *Session) SetActiveChat(chatID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ActiveChatID = chatID
}

// ActiveChat returns the chat id new turns are attached to, if any.
func (s *Session) ActiveChat() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ActiveChatID
}

// ClearActiveChatIf resets the active chat when it matches chatID.
func (s *Session) ClearActiveChatIf(chatID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ActiveChatID == chatID {
		s.ActiveChatID = ""
	}
}

func (s *Session) UpdateActivity() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.LastActiveAt = time.Now()
}

package hub

import (
	"encoding/json"
	"sync"

	"github.com/corvid-labs/relaychat/internal/config"
	"github.com/corvid-labs/relaychat/pkg/log"
)

// Hub tracks live connections. Each connection belongs to exactly one user;
// a user may hold several connections (tabs), so clients are indexed both by
// client id and by user id.
type Hub struct {
	clients     map[string]*Client            // clientID -> client
	userClients map[string]map[string]*Client // userID -> clientID -> client
	register    chan *Client
	unregister  chan *Client
	mu          sync.RWMutex
	config      config.WebSocketConfig
}

func NewHub(cfg config.WebSocketConfig) *Hub {
	return &Hub{
		clients:     make(map[string]*Client),
		userClients: make(map[string]map[string]*Client),
		register:    make(chan *Client),
		unregister:  make(chan *Client),
		config:      cfg,
	}
}

func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client.ID] = client
			userID := client.Session.UserID
			if _, ok := h.userClients[userID]; !ok {
				h.userClients[userID] = make(map[string]*Client)
			}
			h.userClients[userID][client.ID] = client
			h.mu.Unlock()
			l := log.L()
			l.Debug().Str(log.FieldClientID, client.ID).Str(log.FieldUserID, userID).Msg("client registered")

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client.ID]; ok {
				userID := client.Session.UserID
				if ucs, ok := h.userClients[userID]; ok {
					delete(ucs, client.ID)
					if len(ucs) == 0 {
						delete(h.userClients, userID)
					}
				}
				delete(h.clients, client.ID)
			}
			h.mu.Unlock()
			l := log.L()
			l.Debug().Str(log.FieldClientID, client.ID).Msg("client unregistered")
		}
	}
}

func (h *Hub) Register(client *Client) {
	h.register <- client
}

func (h *Hub) Unregister(client *Client) {
	h.unregister <- client
}

// SendToUser fans an event out to every open connection of one user.
// Streaming events never go through here; they are sent directly on the
// originating client so another tab never receives a foreign turn's deltas.
func (h *Hub) SendToUser(userID string, message interface{}) error {
	data, err := json.Marshal(message)
	if err != nil {
		return err
	}

	h.mu.RLock()
	clients := make([]*Client, 0, len(h.userClients[userID]))
	for _, c := range h.userClients[userID] {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		select {
		case c.Send <- data:
		default:
			// Same policy as SendEvent: a consumer this far behind has
			// already lost stream events, so cut it loose.
			l := log.L()
			l.Warn().Str(log.FieldClientID, c.ID).Msg("send buffer full, closing slow connection")
			c.Close()
		}
	}
	return nil
}

// UserConnectionCount reports how many connections a user currently holds.
func (h *Hub) UserConnectionCount(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.userClients[userID])
}

package hub

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/gorilla/websocket"

	"github.com/corvid-labs/relaychat/internal/config"
	"github.com/corvid-labs/relaychat/internal/domain"
	"github.com/corvid-labs/relaychat/pkg/log"
)

// Client is one live WebSocket connection. Its context is cancelled when the
// connection goes away, which aborts any in-flight upstream call owned by
// this connection.
type Client struct {
	ID      string
	Hub     *Hub
	Conn    *websocket.Conn
	Send    chan []byte
	Session *domain.Session
	config  config.WebSocketConfig
	ctx     context.Context
	cancel  context.CancelFunc
}

func NewClient(id string, hub *Hub, conn *websocket.Conn, session *domain.Session, cfg config.WebSocketConfig) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		ID:      id,
		Hub:     hub,
		Conn:    conn,
		Send:    make(chan []byte, 256),
		Session: session,
		config:  cfg,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Context is cancelled when the connection closes.
func (c *Client) Context() context.Context {
	return c.ctx
}

// Close cancels the connection context and tears down the socket. It is
// safe to call more than once.
func (c *Client) Close() {
	c.cancel()
	if c.Conn != nil {
		c.Conn.Close()
	}
}

func (c *Client) ReadPump(handler func(*Client, []byte), onClose func(*Client)) {
	defer func() {
		c.cancel()
		if onClose != nil {
			onClose(c)
		}
		c.Hub.Unregister(c)
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(c.config.MaxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(c.config.PongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(c.config.PongWait))
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				l := log.L()
				l.Warn().Str(log.FieldClientID, c.ID).Err(err).Msg("websocket read error")
			}
			break
		}

		c.Session.UpdateActivity()
		handler(c, message)
	}
}

func (c *Client) WritePump() {
	ticker := time.NewTicker(c.config.PingInterval)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case <-c.ctx.Done():
			c.Conn.SetWriteDeadline(time.Now().Add(c.config.WriteWait))
			c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
			return

		case message := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(c.config.WriteWait))
			w, err := c.Conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(c.config.WriteWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// ErrSlowConsumer reports that a connection's send buffer overflowed and
// the connection was closed.
var ErrSlowConsumer = errors.New("send buffer full, connection closed")

// SendEvent marshals and queues one event for this connection. Events are
// written in queueing order, which preserves delta ordering for a turn.
// A full buffer closes the connection: the relayed stream must reach the
// client gap-free, so a consumer that cannot keep up is disconnected rather
// than handed a silently truncated response. Closing cancels the connection
// context, which aborts the in-flight upstream call.
func (c *Client) SendEvent(event interface{}) error {
	if c.ctx.Err() != nil {
		return c.ctx.Err()
	}

	data, err := json.Marshal(event)
	if err != nil {
		return err
	}

	select {
	case c.Send <- data:
		return nil
	default:
		l := log.L()
		l.Warn().Str(log.FieldClientID, c.ID).Msg("send buffer full, closing slow connection")
		c.Close()
		return ErrSlowConsumer
	}
}

// SendError is a convenience wrapper for error events.
func (c *Client) SendError(code, message string) {
	c.SendEvent(domain.NewErrorEvent(code, message))
}

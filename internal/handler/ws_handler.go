package handler

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/corvid-labs/relaychat/internal/audit"
	"github.com/corvid-labs/relaychat/internal/config"
	"github.com/corvid-labs/relaychat/internal/domain"
	"github.com/corvid-labs/relaychat/internal/hub"
	"github.com/corvid-labs/relaychat/internal/service"
	"github.com/corvid-labs/relaychat/pkg/jwt"
	"github.com/corvid-labs/relaychat/pkg/log"
	"github.com/corvid-labs/relaychat/pkg/response"
)

// WSHandler upgrades authenticated requests to WebSocket connections and
// dispatches inbound events to the relay service.
type WSHandler struct {
	hub        *hub.Hub
	svc        service.RelayService
	jwtManager *jwt.Manager
	wsCfg      config.WebSocketConfig
	upgrader   websocket.Upgrader
}

func NewWSHandler(h *hub.Hub, svc service.RelayService, jwtManager *jwt.Manager, wsCfg config.WebSocketConfig) *WSHandler {
	return &WSHandler{
		hub:        h,
		svc:        svc,
		jwtManager: jwtManager,
		wsCfg:      wsCfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

// HandleWebSocket verifies the connection credential before upgrading; a
// missing or invalid token is rejected with 401 and no WebSocket is opened.
func (h *WSHandler) HandleWebSocket(c *gin.Context) {
	token := extractToken(c)
	if token == "" {
		response.Unauthorized(c, "missing token")
		return
	}

	claims, err := h.jwtManager.ValidateToken(token)
	if err != nil {
		audit.Log(c.Request.Context(), audit.ActionAuthFailed, "", "websocket token rejected")
		response.Unauthorized(c, "invalid or expired token")
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		l := log.L()
		l.Warn().Str(log.FieldUserID, claims.UserID).Err(err).Msg("websocket upgrade failed")
		return
	}

	clientID := uuid.New().String()
	session := domain.NewSession(clientID, claims.UserID, claims.Username, claims.Email)
	client := hub.NewClient(clientID, h.hub, conn, session, h.wsCfg)

	h.hub.Register(client)
	h.svc.HandleConnect(client.Context(), client)

	go client.WritePump()
	go client.ReadPump(h.dispatch, h.svc.HandleDisconnect)

	// Seed the client with its chat list so the UI can render immediately.
	h.svc.HandleGetChatHistory(client.Context(), client)
}

// extractToken reads the credential from the token query parameter or the
// Authorization header.
func extractToken(c *gin.Context) string {
	if token := c.Query("token"); token != "" {
		return token
	}
	auth := c.GetHeader("Authorization")
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return ""
}

func (h *WSHandler) dispatch(c *hub.Client, raw []byte) {
	var base domain.BaseEvent
	if err := json.Unmarshal(raw, &base); err != nil {
		c.SendError(domain.ErrCodeBadRequest, "malformed event")
		return
	}

	ctx := c.Context()

	switch base.Type {
	case domain.EvtUserMessage:
		var evt domain.UserMessageEvent
		if err := json.Unmarshal(raw, &evt); err != nil {
			c.SendError(domain.ErrCodeBadRequest, "malformed user-message event")
			return
		}
		h.svc.HandleUserMessage(ctx, c, evt.Content)

	case domain.EvtGetChatHistory:
		h.svc.HandleGetChatHistory(ctx, c)

	case domain.EvtCreateChat:
		var evt domain.CreateChatEvent
		if err := json.Unmarshal(raw, &evt); err != nil {
			c.SendError(domain.ErrCodeBadRequest, "malformed create-chat event")
			return
		}
		h.svc.HandleCreateChat(ctx, c, evt.Title)

	case domain.EvtDeleteChat:
		var evt domain.DeleteChatEvent
		if err := json.Unmarshal(raw, &evt); err != nil {
			c.SendError(domain.ErrCodeBadRequest, "malformed delete-chat event")
			return
		}
		h.svc.HandleDeleteChat(ctx, c, evt.ChatID)

	case domain.EvtUpdateChatTitle:
		var evt domain.UpdateChatTitleEvent
		if err := json.Unmarshal(raw, &evt); err != nil {
			c.SendError(domain.ErrCodeBadRequest, "malformed update-chat-title event")
			return
		}
		h.svc.HandleUpdateChatTitle(ctx, c, evt.ChatID, evt.NewTitle)

	default:
		c.SendError(domain.ErrCodeBadRequest, "unknown event type: "+base.Type)
	}
}

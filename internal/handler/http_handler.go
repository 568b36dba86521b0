package handler

import (
	"errors"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/corvid-labs/relaychat/internal/domain"
	"github.com/corvid-labs/relaychat/internal/repository"
	"github.com/corvid-labs/relaychat/internal/service"
	"github.com/corvid-labs/relaychat/pkg/jwt"
	"github.com/corvid-labs/relaychat/pkg/log"
	"github.com/corvid-labs/relaychat/pkg/response"
)

const (
	defaultPageSize = 50
	maxPageSize     = 100
)

// HTTPHandler serves the REST read side: chat lists and message pages.
type HTTPHandler struct {
	history    *service.HistoryService
	jwtManager *jwt.Manager
}

func NewHTTPHandler(history *service.HistoryService, jwtManager *jwt.Manager) *HTTPHandler {
	return &HTTPHandler{history: history, jwtManager: jwtManager}
}

func (h *HTTPHandler) RegisterRoutes(r *gin.Engine) {
	r.GET("/health", h.Health)

	api := r.Group("/api/v1")
	api.Use(h.authMiddleware())
	api.GET("/chats", h.ListChats)
	api.GET("/chats/:chat_id/messages", h.ListMessages)
}

func (h *HTTPHandler) Health(c *gin.Context) {
	response.Success(c, gin.H{"status": "healthy"})
}

func (h *HTTPHandler) authMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		auth := c.GetHeader("Authorization")
		if !strings.HasPrefix(auth, "Bearer ") {
			response.Unauthorized(c, "missing bearer token")
			c.Abort()
			return
		}

		claims, err := h.jwtManager.ValidateToken(strings.TrimPrefix(auth, "Bearer "))
		if err != nil {
			response.Unauthorized(c, "invalid or expired token")
			c.Abort()
			return
		}

		c.Set("user_id", claims.UserID)
		c.Next()
	}
}

func (h *HTTPHandler) ListChats(c *gin.Context) {
	userID := c.GetString("user_id")

	chats, err := h.history.ListChats(c.Request.Context(), userID)
	if err != nil {
		l := log.Ctx(c.Request.Context())
		l.Error().Str(log.FieldUserID, userID).Err(err).Msg("failed to list chats")
		response.InternalError(c, "failed to list chats")
		return
	}
	if chats == nil {
		chats = []domain.Chat{}
	}

	response.Success(c, gin.H{"chats": chats})
}

func (h *HTTPHandler) ListMessages(c *gin.Context) {
	userID := c.GetString("user_id")
	chatID := c.Param("chat_id")

	limit := defaultPageSize
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			response.BadRequest(c, "limit must be a positive integer")
			return
		}
		limit = parsed
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}

	direction := repository.ParseDirection(c.Query("direction"))
	messages, nextCursor, hasMore, err := h.history.ListMessages(c.Request.Context(), userID, chatID, c.Query("cursor"), limit, direction)
	if err != nil {
		if errors.Is(err, repository.ErrInvalidCursor) {
			response.BadRequest(c, "invalid cursor")
			return
		}
		if errors.Is(err, repository.ErrChatNotFound) {
			response.NotFound(c, "chat not found")
			return
		}
		l := log.Ctx(c.Request.Context())
		l.Error().Str(log.FieldChatID, chatID).Err(err).Msg("failed to list messages")
		response.InternalError(c, "failed to list messages")
		return
	}
	if messages == nil {
		messages = []domain.Message{}
	}

	response.Success(c, gin.H{
		"messages":    messages,
		"next_cursor": nextCursor,
		"has_more":    hasMore,
	})
}

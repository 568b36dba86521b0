package service

import (
	"context"
	"strings"
	"unicode/utf8"

	"github.com/corvid-labs/relaychat/internal/domain"
	"github.com/corvid-labs/relaychat/internal/hub"
	"github.com/corvid-labs/relaychat/internal/upstream"
	"github.com/corvid-labs/relaychat/pkg/log"
)

const (
	titleMaxTokens     = 20
	titleFallbackRunes = 20
)

// maybeGenerateTitle replaces a still-default chat title after the first
// finished turn. Failures fall back to a truncated form of the user's
// message; only a rename that actually happens is announced.
func (s *relayService) maybeGenerateTitle(ctx context.Context, c *hub.Client, chatID, userContent string) {
	chat, err := s.chats.GetChat(ctx, c.Session.UserID, chatID)
	if err != nil || chat.Title != domain.DefaultChatTitle {
		return
	}

	title := s.generateTitle(ctx, userContent)
	if title == "" || title == domain.DefaultChatTitle {
		return
	}

	updated, err := s.chats.RenameChat(ctx, c.Session.UserID, chatID, title)
	if err != nil {
		l := log.L()
		l.Warn().Str(log.FieldChatID, chatID).Err(err).Msg("failed to store generated chat title")
		return
	}

	s.history.InvalidateChats(ctx, c.Session.UserID)
	s.hub.SendToUser(c.Session.UserID, &domain.ChatEvent{Type: domain.EvtChatUpdated, Chat: updated})
}

func (s *relayService) generateTitle(ctx context.Context, userContent string) string {
	prompt := []upstream.ChatMessage{
		{
			Role:    string(domain.RoleSystem),
			Content: "Generate a short, descriptive conversation title of at most six words. Reply with the title only, no quotes.",
		},
		{Role: string(domain.RoleUser), Content: userContent},
	}

	raw, err := s.streamer.Complete(ctx, prompt, titleMaxTokens)
	if err != nil {
		l := log.L()
		l.Warn().Str(log.FieldModel, s.cfg.Model).Err(err).Msg("title generation failed, using fallback")
		return fallbackTitle(userContent)
	}

	title := strings.TrimSpace(strings.Trim(strings.TrimSpace(raw), `"'`))
	if title == "" {
		return fallbackTitle(userContent)
	}
	if utf8.RuneCountInString(title) > maxChatTitleRunes {
		title = string([]rune(title)[:maxChatTitleRunes])
	}
	return title
}

// fallbackTitle derives a title from the message itself when the provider
// cannot supply one.
func fallbackTitle(userContent string) string {
	content := strings.Join(strings.Fields(userContent), " ")
	if content == "" {
		return ""
	}
	if utf8.RuneCountInString(content) <= titleFallbackRunes {
		return content
	}
	return string([]rune(content)[:titleFallbackRunes]) + "..."
}

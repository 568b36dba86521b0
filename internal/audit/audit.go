package audit

import (
	"context"

	"github.com/corvid-labs/relaychat/pkg/log"
)

// Audit actions for the relay server.
const (
	ActionConnect      = "chat.connect"
	ActionDisconnect   = "chat.disconnect"
	ActionAuthFailed   = "chat.auth_failed"
	ActionTurnStart    = "chat.turn_start"
	ActionTurnComplete = "chat.turn_complete"
	ActionCreateChat   = "chat.create"
	ActionDeleteChat   = "chat.delete"
	ActionRenameChat   = "chat.rename"
)

// Field constants for audit entries.
const (
	FieldAction = "action"
	FieldDetail = "detail"
)

// Log emits a structured audit log entry via the context logger.
func Log(ctx context.Context, action string, userID string, msg string) {
	l := log.Ctx(ctx)
	l.Info().
		Str(log.FieldLogType, log.LogTypeAudit).
		Str(FieldAction, action).
		Str(log.FieldUserID, userID).
		Msg(msg)
}

// LogWithDetail emits an audit log with extra detail field.
func LogWithDetail(ctx context.Context, action string, userID string, detail string, msg string) {
	l := log.Ctx(ctx)
	l.Info().
		Str(log.FieldLogType, log.LogTypeAudit).
		Str(FieldAction, action).
		Str(log.FieldUserID, userID).
		Str(FieldDetail, detail).
		Msg(msg)
}

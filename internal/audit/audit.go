package audit

import (
	"context"

	"github.com/weiawesome/roomchat/pkg/log"
)

// Audit actions for the chat gateway.
const (
	ActionJoinRoom     = "chat.join_room"
	ActionLeaveRoom    = "chat.leave_room"
	ActionSendMessage  = "chat.send_message"
	ActionClearHistory = "chat.clear_history"
	ActionDisconnect   = "chat.disconnect"
)

// Field constants for audit entries.
const (
	FieldAction = "action"
	FieldDetail = "detail"
)

// Log emits a structured audit log entry via the context logger.
func Log(ctx context.Context, action, room, name, msg string) {
	l := log.Ctx(ctx)
	l.Info().
		Str(log.FieldLogType, log.LogTypeAudit).
		Str(FieldAction, action).
		Str(log.FieldRoom, room).
		Str(log.FieldName, name).
		Msg(msg)
}

// LogWithDetail emits an audit log with extra detail field.
func LogWithDetail(ctx context.Context, action, room, name, detail, msg string) {
	l := log.Ctx(ctx)
	l.Info().
		Str(log.FieldLogType, log.LogTypeAudit).
		Str(FieldAction, action).
		Str(log.FieldRoom, room).
		Str(log.FieldName, name).
		Str(FieldDetail, detail).
		Msg(msg)
}

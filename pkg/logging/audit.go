package logging

import (
	"context"
	"log/slog"
)

// AuditEvent describes a security relevant operation on credentials.
// Token values must never be placed in any field.
type AuditEvent struct {
	// Action is what happened, e.g. "token_stored", "token_cleared", "authorization_failed".
	Action string
	// Outcome is "success" or "failure".
	Outcome string
	// Target is the resource server the action applies to.
	Target string
	// Detail carries an optional non-sensitive explanation.
	Detail string
}

// Audit writes an audit line at INFO level with an [AUDIT] prefix.
func Audit(event AuditEvent) {
	attrs := []slog.Attr{
		slog.String("subsystem", "Audit"),
		slog.String("action", event.Action),
		slog.String("outcome", event.Outcome),
	}
	if event.Target != "" {
		attrs = append(attrs, slog.String("target", event.Target))
	}
	if event.Detail != "" {
		attrs = append(attrs, slog.String("detail", event.Detail))
	}

	Logger().LogAttrs(context.Background(), slog.LevelInfo, "[AUDIT] "+event.Action, attrs...)
}

package observability

import (
	"context"
	"log/slog"
)

// AuditMirror writes a structured copy of every committed audit entry to the
// service log. The durable record is the audit table.
func AuditMirror(ctx context.Context, sequence uint64, actor, action, targetType, targetID, outcome, reason string) {
	slog.InfoContext(ctx, "audit",
		"sequence", sequence,
		"actor", actor,
		"action", action,
		"target_type", targetType,
		"target_id", targetID,
		"outcome", outcome,
		"reason", reason,
	)
}

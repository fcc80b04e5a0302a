package tracing

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
)

// TraceAgentEvent records a zero-duration span for a normalized agent event.
// No-op when tracing is disabled.
func TraceAgentEvent(ctx context.Context, sessionID, eventKind string) {
	_, span := Tracer("agent").Start(ctx, "agent.event")
	span.SetAttributes(
		attribute.String("session.id", sessionID),
		attribute.String("event.kind", eventKind),
	)
	span.End()
}

// TraceTeleport records a span for a teleport ingress.
func TraceTeleport(ctx context.Context, terminalID, claudeSessionID string) {
	_, span := Tracer("teleport").Start(ctx, "teleport.ingress")
	span.SetAttributes(
		attribute.String("terminal.id", terminalID),
		attribute.String("claude.session_id", claudeSessionID),
	)
	span.End()
}

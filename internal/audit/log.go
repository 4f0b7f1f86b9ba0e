// Package audit records append-only audit entries for state-changing operations.
package audit

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/benjaminmugangu/NEW-VERSION-AYLF-APP-sub003/internal/auth"
	"github.com/benjaminmugangu/NEW-VERSION-AYLF-APP-sub003/internal/ids"
	"github.com/benjaminmugangu/NEW-VERSION-AYLF-APP-sub003/internal/obs"
)

type ctxKey string

const requestIDKey ctxKey = "audit_request_id"

// WithRequestID attaches the request identifier to the context for audit logging.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, requestID)
}

func requestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}

// Entry is one audit record. ActorID is empty for system actors, which are
// named by ActorLabel instead.
type Entry struct {
	ID         string         `json:"id"`
	ActorID    string         `json:"actor_id,omitempty"`
	ActorLabel string         `json:"actor_label,omitempty"`
	Action     string         `json:"action"`
	EntityType string         `json:"entity_type"`
	EntityID   string         `json:"entity_id"`
	Metadata   map[string]any `json:"metadata"`
	OccurredAt time.Time      `json:"occurred_at"`
}

type Filter struct {
	ActorID    string
	EntityType string
	EntityID   string
	Limit      int
}

// Store appends and lists entries. Entries are never updated or deleted.
type Store interface {
	Append(ctx context.Context, e Entry) error
	List(ctx context.Context, f Filter) ([]Entry, error)
}

// Record appends an entry attributed to the principal in ctx and mirrors it
// to the structured log. The write shares the caller's transaction, so a
// rolled-back operation leaves no audit trace.
func Record(ctx context.Context, s Store, action, entityType, entityID string, metadata map[string]any) error {
	action = strings.TrimSpace(action)
	if action == "" {
		return errors.New("audit: action is required")
	}
	e := Entry{
		ID:         ids.New(),
		Action:     action,
		EntityType: entityType,
		EntityID:   entityID,
		Metadata:   metadata,
		OccurredAt: time.Now().UTC(),
	}
	if p, ok := auth.PrincipalFromContext(ctx); ok {
		e.ActorID = p.ID
	}
	if e.Metadata == nil {
		e.Metadata = map[string]any{}
	}
	if err := s.Append(ctx, e); err != nil {
		return err
	}
	LogEvent(ctx, e)
	return nil
}

// LogEvent writes the entry as a structured log line enriched with the request id.
func LogEvent(ctx context.Context, e Entry) {
	attrs := []any{
		"type", "audit",
		"event", e.Action,
		"entity_type", e.EntityType,
		"entity_id", e.EntityID,
	}
	if rid := requestIDFromContext(ctx); rid != "" {
		attrs = append(attrs, "request_id", rid)
	}
	if e.ActorID != "" {
		attrs = append(attrs, "actor_id", e.ActorID)
	}
	if e.ActorLabel != "" {
		attrs = append(attrs, "actor_label", e.ActorLabel)
	}
	obs.Logger().InfoContext(ctx, "audit", attrs...)
}

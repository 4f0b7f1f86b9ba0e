package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/benjaminmugangu/NEW-VERSION-AYLF-APP-sub003/internal/audit"
)

type auditLog struct{ s *scopedTx }

var _ audit.Store = auditLog{}

func (r auditLog) Append(ctx context.Context, e audit.Entry) error {
	meta := []byte("{}")
	if len(e.Metadata) > 0 {
		b, err := json.Marshal(e.Metadata)
		if err != nil {
			return fmt.Errorf("encode audit metadata: %w", err)
		}
		meta = b
	}
	_, err := r.s.exec(ctx, `
		insert into audit_log (id, actor_id, actor_label, action, entity_type, entity_id, metadata, occurred_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8)`,
		e.ID, nullIfEmpty(e.ActorID), e.ActorLabel, e.Action, e.EntityType, e.EntityID, string(meta), e.OccurredAt)
	return err
}

func (r auditLog) List(ctx context.Context, f audit.Filter) ([]audit.Entry, error) {
	var w where
	if f.ActorID != "" {
		w.add("actor_id::text = %s", f.ActorID)
	}
	w.eq("entity_type", f.EntityType)
	w.eq("entity_id", f.EntityID)
	q := `select id, coalesce(actor_id::text, ''), actor_label, action, entity_type, entity_id, metadata, occurred_at
	        from audit_log` + w.String() + ` order by occurred_at desc, id desc`
	q += w.limit(f.Limit)

	out := []audit.Entry{}
	err := r.s.query(ctx, q, w.args, func(rows *sql.Rows) error {
		var (
			e   audit.Entry
			raw []byte
		)
		if err := rows.Scan(&e.ID, &e.ActorID, &e.ActorLabel, &e.Action, &e.EntityType, &e.EntityID, &raw, &e.OccurredAt); err != nil {
			return err
		}
		e.Metadata = map[string]any{}
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &e.Metadata); err != nil {
				return fmt.Errorf("decode audit metadata: %w", err)
			}
		}
		out = append(out, e)
		return nil
	})
	return out, err
}

package pg

import (
	"context"
	"database/sql"

	"github.com/benjaminmugangu/NEW-VERSION-AYLF-APP-sub003/internal/activity"
)

const activityColumns = `id, title, description, level, coalesce(site_id, ''), coalesce(small_group_id, ''), scheduled_at, status, created_by::text, created_at`

type activities struct{ s *scopedTx }

var _ activity.Store = activities{}

func (r activities) Create(ctx context.Context, a activity.Activity) (activity.Activity, error) {
	err := r.s.queryRow(ctx, `
		insert into activities (id, title, description, level, site_id, small_group_id, scheduled_at, status, created_by)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		returning created_at`,
		[]any{a.ID, a.Title, a.Description, string(a.Level), nullIfEmpty(a.SiteID), nullIfEmpty(a.SmallGroupID),
			a.ScheduledAt, string(a.Status), a.CreatedBy},
		&a.CreatedAt)
	return a, err
}

func (r activities) Get(ctx context.Context, id string) (activity.Activity, error) {
	var a activity.Activity
	err := r.s.queryRow(ctx, `select `+activityColumns+` from activities where id = $1`, []any{id},
		&a.ID, &a.Title, &a.Description, &a.Level, &a.SiteID, &a.SmallGroupID, &a.ScheduledAt, &a.Status, &a.CreatedBy, &a.CreatedAt)
	return a, err
}

func (r activities) List(ctx context.Context, f activity.Filter) ([]activity.Activity, error) {
	var w where
	w.eq("site_id", f.SiteID)
	w.eq("small_group_id", f.SmallGroupID)
	w.eq("status", string(f.Status))
	q := `select ` + activityColumns + ` from activities` + w.String() + ` order by scheduled_at desc, id`
	q += w.limit(f.Limit)

	out := []activity.Activity{}
	err := r.s.query(ctx, q, w.args, func(rows *sql.Rows) error {
		var a activity.Activity
		if err := rows.Scan(&a.ID, &a.Title, &a.Description, &a.Level, &a.SiteID, &a.SmallGroupID,
			&a.ScheduledAt, &a.Status, &a.CreatedBy, &a.CreatedAt); err != nil {
			return err
		}
		out = append(out, a)
		return nil
	})
	return out, err
}

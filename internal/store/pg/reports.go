package pg

import (
	"context"
	"database/sql"

	"github.com/benjaminmugangu/NEW-VERSION-AYLF-APP-sub003/internal/report"
)

type reports struct{ s *scopedTx }

var _ report.Store = reports{}

func (r reports) Create(ctx context.Context, rep report.Report) (report.Report, error) {
	err := r.s.queryRow(ctx, `
		insert into reports (id, activity_id, title, content, participants, site_id, small_group_id, submitted_by, status)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		returning created_at`,
		[]any{rep.ID, rep.ActivityID, rep.Title, rep.Content, rep.Participants,
			nullIfEmpty(rep.SiteID), nullIfEmpty(rep.SmallGroupID), rep.SubmittedBy, string(rep.Status)},
		&rep.CreatedAt)
	return rep, err
}

func (r reports) List(ctx context.Context, f report.Filter) ([]report.Report, error) {
	var w where
	w.eq("activity_id", f.ActivityID)
	w.eq("site_id", f.SiteID)
	q := `select id, activity_id, title, content, participants, coalesce(site_id, ''), coalesce(small_group_id, ''),
	             submitted_by::text, status, created_at
	        from reports` + w.String() + ` order by created_at desc, id`
	q += w.limit(f.Limit)

	out := []report.Report{}
	err := r.s.query(ctx, q, w.args, func(rows *sql.Rows) error {
		var rep report.Report
		if err := rows.Scan(&rep.ID, &rep.ActivityID, &rep.Title, &rep.Content, &rep.Participants,
			&rep.SiteID, &rep.SmallGroupID, &rep.SubmittedBy, &rep.Status, &rep.CreatedAt); err != nil {
			return err
		}
		out = append(out, rep)
		return nil
	})
	return out, err
}

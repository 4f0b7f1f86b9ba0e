package pg

import (
	"context"
	"database/sql"

	"github.com/benjaminmugangu/NEW-VERSION-AYLF-APP-sub003/internal/org"
)

type orgs struct{ s *scopedTx }

var _ org.Store = orgs{}

func (r orgs) CreateSite(ctx context.Context, site org.Site) (org.Site, error) {
	err := r.s.queryRow(ctx, `insert into sites (id, name) values ($1, $2) returning created_at`,
		[]any{site.ID, site.Name}, &site.CreatedAt)
	return site, err
}

func (r orgs) ListSites(ctx context.Context) ([]org.Site, error) {
	out := []org.Site{}
	err := r.s.query(ctx, `select id, name, created_at from sites order by name, id`, nil, func(rows *sql.Rows) error {
		var s org.Site
		if err := rows.Scan(&s.ID, &s.Name, &s.CreatedAt); err != nil {
			return err
		}
		out = append(out, s)
		return nil
	})
	return out, err
}

func (r orgs) CreateGroup(ctx context.Context, g org.SmallGroup) (org.SmallGroup, error) {
	err := r.s.queryRow(ctx, `insert into small_groups (id, site_id, name) values ($1, $2, $3) returning created_at`,
		[]any{g.ID, g.SiteID, g.Name}, &g.CreatedAt)
	return g, err
}

func (r orgs) ListGroups(ctx context.Context, siteID string) ([]org.SmallGroup, error) {
	var w where
	w.eq("site_id", siteID)
	out := []org.SmallGroup{}
	err := r.s.query(ctx, `select id, site_id, name, created_at from small_groups`+w.String()+` order by name, id`, w.args,
		func(rows *sql.Rows) error {
			var g org.SmallGroup
			if err := rows.Scan(&g.ID, &g.SiteID, &g.Name, &g.CreatedAt); err != nil {
				return err
			}
			out = append(out, g)
			return nil
		})
	return out, err
}

func (r orgs) GroupSite(ctx context.Context, groupID string) (string, error) {
	var siteID string
	err := r.s.queryRow(ctx, `select site_id from small_groups where id = $1`, []any{groupID}, &siteID)
	return siteID, err
}

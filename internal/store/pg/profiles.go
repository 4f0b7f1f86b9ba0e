package pg

import (
	"context"
	"database/sql"

	"github.com/google/uuid"

	"github.com/benjaminmugangu/NEW-VERSION-AYLF-APP-sub003/internal/apperr"
	"github.com/benjaminmugangu/NEW-VERSION-AYLF-APP-sub003/internal/profile"
)

const profileColumns = `id::text, email, name, role, coalesce(site_id, ''), coalesce(small_group_id, ''), status, created_at, updated_at`

type profiles struct{ s *scopedTx }

var _ profile.Store = profiles{}

func scanProfile(scan func(...any) error) (profile.Profile, error) {
	var p profile.Profile
	err := scan(&p.ID, &p.Email, &p.Name, &p.Role, &p.SiteID, &p.SmallGroupID, &p.Status, &p.CreatedAt, &p.UpdatedAt)
	return p, err
}

func (r profiles) one(ctx context.Context, query string, args ...any) (profile.Profile, error) {
	var p profile.Profile
	err := r.s.queryRow(ctx, query, args,
		&p.ID, &p.Email, &p.Name, &p.Role, &p.SiteID, &p.SmallGroupID, &p.Status, &p.CreatedAt, &p.UpdatedAt)
	return p, err
}

func (r profiles) Self(ctx context.Context) (profile.Profile, error) {
	return r.one(ctx, `select `+profileColumns+` from profiles where id = app.current_principal_id()`)
}

// Ensure goes through app.ensure_profile: a principal without a profile
// cannot see or insert profile rows under the policies. The stored email is
// the one bound to the session, not the argument.
func (r profiles) Ensure(ctx context.Context, _ string, name string) (profile.Profile, error) {
	return r.one(ctx, `select `+profileColumns+` from app.ensure_profile($1)`, name)
}

func (r profiles) Get(ctx context.Context, id string) (profile.Profile, error) {
	if _, err := uuid.Parse(id); err != nil {
		return profile.Profile{}, apperr.ErrNotFound
	}
	return r.one(ctx, `select `+profileColumns+` from profiles where id = $1`, id)
}

func (r profiles) List(ctx context.Context, f profile.Filter) ([]profile.Profile, error) {
	var w where
	w.eq("role", string(f.Role))
	w.eq("site_id", f.SiteID)
	w.eq("small_group_id", f.SmallGroupID)
	w.eq("status", string(f.Status))
	q := `select ` + profileColumns + ` from profiles` + w.String() + ` order by name, id`
	q += w.limit(f.Limit)

	out := []profile.Profile{}
	err := r.s.query(ctx, q, w.args, func(rows *sql.Rows) error {
		p, err := scanProfile(rows.Scan)
		if err != nil {
			return err
		}
		out = append(out, p)
		return nil
	})
	return out, err
}

// Update writes role, scope, name and status. A row the policies hide yields
// not found; a change the policies reject yields forbidden.
func (r profiles) Update(ctx context.Context, p profile.Profile) (profile.Profile, error) {
	if _, err := uuid.Parse(p.ID); err != nil {
		return profile.Profile{}, apperr.ErrNotFound
	}
	return r.one(ctx, `
		update profiles
		   set name = $2, role = $3, site_id = $4, small_group_id = $5, status = $6
		 where id = $1
		returning `+profileColumns,
		p.ID, p.Name, string(p.Role), nullIfEmpty(p.SiteID), nullIfEmpty(p.SmallGroupID), string(p.Status))
}

func (r profiles) Delete(ctx context.Context, id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return apperr.ErrNotFound
	}
	res, err := r.s.exec(ctx, `delete from profiles where id = $1`, id)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return apperr.ErrNotFound
	}
	return nil
}

func (r profiles) Dependents(ctx context.Context, id string) (map[string]int, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, apperr.ErrNotFound
	}
	counts := map[string]int{}
	err := r.s.query(ctx, `select entity_type, n from app.profile_dependents($1)`, []any{id}, func(rows *sql.Rows) error {
		var (
			entity string
			n      int64
		)
		if err := rows.Scan(&entity, &n); err != nil {
			return err
		}
		counts[entity] = int(n)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return counts, nil
}

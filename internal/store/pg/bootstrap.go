package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/benjaminmugangu/NEW-VERSION-AYLF-APP-sub003/internal/auth"
	"github.com/benjaminmugangu/NEW-VERSION-AYLF-APP-sub003/internal/ids"
	"github.com/benjaminmugangu/NEW-VERSION-AYLF-APP-sub003/internal/profile"
)

// BootstrapActor labels audit entries written by BootstrapNational.
const BootstrapActor = "system:bootstrap"

// BootstrapNational makes p an active national coordinator, creating the
// profile if needed. It needs an owner connection: no principal exists yet
// that the policies would let do this.
func BootstrapNational(ctx context.Context, db *sql.DB, p auth.Principal) (profile.Profile, error) {
	if !p.Valid() {
		return profile.Profile{}, errors.New("bootstrap: principal needs a uuid id and an email")
	}
	name := strings.TrimSpace(p.Name)
	if name == "" {
		name = strings.SplitN(p.Email, "@", 2)[0]
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return profile.Profile{}, err
	}
	defer func() { _ = tx.Rollback() }()

	out, err := scanProfile(tx.QueryRowContext(ctx, `
		insert into profiles (id, email, name, role, site_id, small_group_id, status)
		values ($1, lower($2), $3, 'national_coordinator', null, null, 'active')
		on conflict (id) do update
		   set role = 'national_coordinator', site_id = null, small_group_id = null, status = 'active'
		returning `+profileColumns, p.ID, p.Email, name).Scan)
	if err != nil {
		return profile.Profile{}, mapError(err)
	}

	meta, _ := json.Marshal(map[string]any{"role": out.Role, "email": out.Email})
	if _, err := tx.ExecContext(ctx, `
		insert into audit_log (id, actor_id, actor_label, action, entity_type, entity_id, metadata, occurred_at)
		values ($1, null, $2, 'profile.bootstrap_national', 'profile', $3, $4, $5)`,
		ids.New(), BootstrapActor, out.ID, string(meta), time.Now().UTC()); err != nil {
		return profile.Profile{}, mapError(err)
	}
	if err := tx.Commit(); err != nil {
		return profile.Profile{}, err
	}
	return out, nil
}

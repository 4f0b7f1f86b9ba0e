package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/benjaminmugangu/NEW-VERSION-AYLF-APP-sub003/internal/apperr"
	"github.com/benjaminmugangu/NEW-VERSION-AYLF-APP-sub003/internal/invite"
	"github.com/benjaminmugangu/NEW-VERSION-AYLF-APP-sub003/internal/profile"
)

const invitationColumns = `id, email, role, coalesce(site_id, ''), coalesce(small_group_id, ''), status,
	coalesce(invited_by::text, ''), expires_at, coalesce(accepted_by::text, ''), accepted_at, created_at`

type invitations struct{ s *scopedTx }

var _ invite.Store = invitations{}

func invitationDest(inv *invite.Invitation, acceptedAt *sql.NullTime) []any {
	return []any{&inv.ID, &inv.Email, &inv.Role, &inv.Scope.SiteID, &inv.Scope.SmallGroupID, &inv.Status,
		&inv.InvitedBy, &inv.ExpiresAt, &inv.AcceptedBy, acceptedAt, &inv.CreatedAt}
}

func finishInvitation(inv *invite.Invitation, acceptedAt sql.NullTime) {
	if acceptedAt.Valid {
		t := acceptedAt.Time
		inv.AcceptedAt = &t
	}
}

func (r invitations) Create(ctx context.Context, inv invite.Invitation) (invite.Invitation, error) {
	if inv.Status == "" {
		inv.Status = invite.StatusPending
	}
	err := r.s.queryRow(ctx, `
		insert into invitations (id, email, role, site_id, small_group_id, token_hash, status, invited_by, expires_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		returning created_at`,
		[]any{inv.ID, inv.Email, string(inv.Role), nullIfEmpty(inv.Scope.SiteID), nullIfEmpty(inv.Scope.SmallGroupID),
			inv.TokenHash, string(inv.Status), nullIfEmpty(inv.InvitedBy), inv.ExpiresAt},
		&inv.CreatedAt)
	return inv, err
}

func (r invitations) List(ctx context.Context, status invite.Status, limit int) ([]invite.Invitation, error) {
	var w where
	w.eq("status", string(status))
	q := `select ` + invitationColumns + ` from invitations` + w.String() + ` order by created_at desc, id`
	q += w.limit(limit)

	out := []invite.Invitation{}
	err := r.s.query(ctx, q, w.args, func(rows *sql.Rows) error {
		var (
			inv        invite.Invitation
			acceptedAt sql.NullTime
		)
		if err := rows.Scan(invitationDest(&inv, &acceptedAt)...); err != nil {
			return err
		}
		finishInvitation(&inv, acceptedAt)
		out = append(out, inv)
		return nil
	})
	return out, err
}

// Revoke cancels a pending invitation. Revoking one in any other state is a
// conflict.
func (r invitations) Revoke(ctx context.Context, id string) (invite.Invitation, error) {
	var (
		inv        invite.Invitation
		acceptedAt sql.NullTime
	)
	err := r.s.queryRow(ctx, `
		update invitations set status = 'revoked'
		 where id = $1 and status = 'pending'
		returning `+invitationColumns, []any{id}, invitationDest(&inv, &acceptedAt)...)
	if err == nil {
		finishInvitation(&inv, acceptedAt)
		return inv, nil
	}
	if !errors.Is(err, apperr.ErrNotFound) {
		return invite.Invitation{}, err
	}
	var status string
	if err := r.s.queryRow(ctx, `select status from invitations where id = $1`, []any{id}, &status); err != nil {
		return invite.Invitation{}, err
	}
	return invite.Invitation{}, fmt.Errorf("%w: invitation is %s", apperr.ErrConflict, status)
}

// Accept delegates to app.accept_invitation, which matches the invitation
// email against the address bound to the session.
func (r invitations) Accept(ctx context.Context, tokenHash string) (profile.Profile, error) {
	return profiles(r).one(ctx, `select `+profileColumns+` from app.accept_invitation($1, '')`, tokenHash)
}

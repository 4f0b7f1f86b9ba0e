package httpapi

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/benjaminmugangu/NEW-VERSION-AYLF-APP-sub003/internal/apperr"
	"github.com/benjaminmugangu/NEW-VERSION-AYLF-APP-sub003/internal/audit"
	"github.com/benjaminmugangu/NEW-VERSION-AYLF-APP-sub003/internal/ids"
	"github.com/benjaminmugangu/NEW-VERSION-AYLF-APP-sub003/internal/invite"
	"github.com/benjaminmugangu/NEW-VERSION-AYLF-APP-sub003/internal/policy"
	"github.com/benjaminmugangu/NEW-VERSION-AYLF-APP-sub003/internal/profile"
)

type createInvitationRequest struct {
	Email        string       `json:"email"`
	Role         profile.Role `json:"role"`
	SiteID       string       `json:"site_id"`
	SmallGroupID string       `json:"small_group_id"`
}

type acceptInvitationRequest struct {
	Token string `json:"token"`
}

func (a *API) listInvitations(r *http.Request, s *Session) (Response, error) {
	q := r.URL.Query()
	limit, err := parseLimit(q.Get("limit"))
	if err != nil {
		return Response{}, err
	}
	var status invite.Status
	switch raw := invite.Status(q.Get("status")); raw {
	case "", invite.StatusPending, invite.StatusAccepted, invite.StatusExpired, invite.StatusRevoked:
		status = raw
	default:
		return Response{}, apperr.Invalid("status", "must be pending, accepted, expired or revoked")
	}
	out, err := s.Tx.Invitations().List(r.Context(), status, limit)
	if err != nil {
		return Response{}, err
	}
	return ok(list(out)), nil
}

// createInvitation issues an invitation and returns its token once. Replays
// under the same Idempotency-Key return the same token.
func (a *API) createInvitation(r *http.Request, s *Session) (Response, error) {
	if !a.deps.Policy.Permits("invitations", policy.OpInsert, string(s.Profile.Role)) {
		return Response{}, forbidden("role may not invite")
	}
	var req createInvitationRequest
	body, err := readJSON(r, &req)
	if err != nil {
		return Response{}, err
	}
	return a.idempotent(r, s, body, func(ctx context.Context) (Response, error) {
		inv := invite.Invitation{
			ID:        ids.New(),
			Email:     req.Email,
			Role:      req.Role,
			Scope:     profile.Scope{SiteID: req.SiteID, SmallGroupID: req.SmallGroupID},
			Status:    invite.StatusPending,
			InvitedBy: s.Principal.ID,
			ExpiresAt: time.Now().UTC().Add(a.deps.InvitationTTL),
		}
		if err := inv.Validate(); err != nil {
			return Response{}, err
		}
		if inv.Role == profile.RoleNationalCoordinator && s.Profile.Role != profile.RoleNationalCoordinator {
			return Response{}, forbidden("only national coordinators invite national coordinators")
		}
		row := policy.Row{SiteID: inv.Scope.SiteID, GroupID: inv.Scope.SmallGroupID, OwnerID: inv.InvitedBy}
		if inv.Role != profile.RoleNationalCoordinator && !a.deps.Policy.Allows("invitations", policy.OpInsert, s.Actor(), row) {
			return Response{}, forbidden("invitation scope is outside the caller's scope")
		}

		token, hash, err := invite.NewToken()
		if err != nil {
			return Response{}, err
		}
		inv.TokenHash = hash
		stored, err := s.Tx.Invitations().Create(ctx, inv)
		if err != nil {
			return Response{}, err
		}
		if err := audit.Record(ctx, s.Tx.Audit(), "invitation.create", "invitation", stored.ID, map[string]any{
			"role":           string(stored.Role),
			"site_id":        stored.Scope.SiteID,
			"small_group_id": stored.Scope.SmallGroupID,
		}); err != nil {
			return Response{}, err
		}
		return created(invite.Issued{Invitation: stored, Token: token}), nil
	})
}

// acceptInvitation runs for principals without an active profile; the
// database function activates the caller's profile in the same transaction.
func (a *API) acceptInvitation(r *http.Request, s *Session) (Response, error) {
	var req acceptInvitationRequest
	body, err := readJSON(r, &req)
	if err != nil {
		return Response{}, err
	}
	if strings.TrimSpace(req.Token) == "" {
		return Response{}, apperr.Invalid("token", "required")
	}
	return a.idempotent(r, s, body, func(ctx context.Context) (Response, error) {
		p, err := s.Tx.Invitations().Accept(ctx, invite.HashToken(req.Token))
		if err != nil {
			return Response{}, err
		}
		if err := audit.Record(ctx, s.Tx.Audit(), "invitation.accept", "profile", p.ID, map[string]any{
			"role":           string(p.Role),
			"site_id":        p.SiteID,
			"small_group_id": p.SmallGroupID,
		}); err != nil {
			return Response{}, err
		}
		return ok(p), nil
	})
}

func (a *API) revokeInvitation(r *http.Request, s *Session) (Response, error) {
	ctx := r.Context()
	inv, err := s.Tx.Invitations().Revoke(ctx, chi.URLParam(r, "id"))
	if err != nil {
		return Response{}, err
	}
	if err := audit.Record(ctx, s.Tx.Audit(), "invitation.revoke", "invitation", inv.ID, nil); err != nil {
		return Response{}, err
	}
	return ok(inv), nil
}

package httpapi

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/benjaminmugangu/NEW-VERSION-AYLF-APP-sub003/internal/apperr"
	"github.com/benjaminmugangu/NEW-VERSION-AYLF-APP-sub003/internal/audit"
	"github.com/benjaminmugangu/NEW-VERSION-AYLF-APP-sub003/internal/policy"
	"github.com/benjaminmugangu/NEW-VERSION-AYLF-APP-sub003/internal/profile"
)

func (a *API) listProfiles(r *http.Request, s *Session) (Response, error) {
	q := r.URL.Query()
	f := profile.Filter{
		SiteID:       q.Get("site_id"),
		SmallGroupID: q.Get("small_group_id"),
	}
	if raw := q.Get("role"); raw != "" {
		role, err := profile.ParseRole(raw)
		if err != nil {
			return Response{}, err
		}
		f.Role = role
	}
	if raw := q.Get("status"); raw != "" {
		st, err := profile.ParseStatus(raw)
		if err != nil {
			return Response{}, err
		}
		f.Status = st
	}
	limit, err := parseLimit(q.Get("limit"))
	if err != nil {
		return Response{}, err
	}
	f.Limit = limit

	out, err := s.Tx.Profiles().List(r.Context(), f)
	if err != nil {
		return Response{}, err
	}
	return ok(list(out)), nil
}

func (a *API) getProfile(r *http.Request, s *Session) (Response, error) {
	p, err := s.Tx.Profiles().Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		return Response{}, err
	}
	return ok(p), nil
}

func (a *API) patchProfile(r *http.Request, s *Session) (Response, error) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")
	if !a.deps.Policy.Permits("profiles", policy.OpUpdate, string(s.Profile.Role)) {
		return Response{}, forbidden("role may not edit profiles")
	}

	var patch profile.Patch
	if _, err := readJSON(r, &patch); err != nil {
		return Response{}, err
	}
	if patch.Role != nil {
		role, err := profile.ParseRole(string(*patch.Role))
		if err != nil {
			return Response{}, err
		}
		patch.Role = &role
		if role == profile.RoleNationalCoordinator && s.Profile.Role != profile.RoleNationalCoordinator {
			return Response{}, forbidden("only national coordinators grant the national role")
		}
	}
	if patch.Status != nil {
		st, err := profile.ParseStatus(string(*patch.Status))
		if err != nil {
			return Response{}, err
		}
		patch.Status = &st
	}

	current, err := s.Tx.Profiles().Get(ctx, id)
	if err != nil {
		return Response{}, err
	}
	next, err := patch.Apply(current)
	if err != nil {
		return Response{}, err
	}
	row := policy.Row{SiteID: next.SiteID, GroupID: next.SmallGroupID, OwnerID: next.ID}
	if !a.deps.Policy.Allows("profiles", policy.OpUpdate, s.Actor(), row) {
		return Response{}, forbidden("target scope is outside the caller's scope")
	}

	updated, err := s.Tx.Profiles().Update(ctx, next)
	if err != nil {
		return Response{}, err
	}
	if err := audit.Record(ctx, s.Tx.Audit(), "profile.update", "profile", updated.ID, profileChanges(current, updated)); err != nil {
		return Response{}, err
	}
	return ok(updated), nil
}

func profileChanges(before, after profile.Profile) map[string]any {
	changes := map[string]any{}
	diff := func(field string, from, to any) {
		if from != to {
			changes[field] = map[string]any{"from": from, "to": to}
		}
	}
	diff("role", string(before.Role), string(after.Role))
	diff("site_id", before.SiteID, after.SiteID)
	diff("small_group_id", before.SmallGroupID, after.SmallGroupID)
	diff("status", string(before.Status), string(after.Status))
	if before.Name != after.Name {
		changes["name"] = "changed"
	}
	return changes
}

func (a *API) profileDeletionEligibility(r *http.Request, s *Session) (Response, error) {
	ctx := r.Context()
	if !a.deps.Policy.Permits("profiles", policy.OpDelete, string(s.Profile.Role)) {
		return Response{}, forbidden("role may not delete profiles")
	}
	p, err := s.Tx.Profiles().Get(ctx, chi.URLParam(r, "id"))
	if err != nil {
		return Response{}, err
	}
	e, err := profile.CheckDeletion(ctx, s.Tx.Profiles(), p.ID)
	if err != nil {
		return Response{}, err
	}
	return ok(e), nil
}

func (a *API) deleteProfile(r *http.Request, s *Session) (Response, error) {
	ctx := r.Context()
	if !a.deps.Policy.Permits("profiles", policy.OpDelete, string(s.Profile.Role)) {
		return Response{}, forbidden("role may not delete profiles")
	}
	id := chi.URLParam(r, "id")
	if id == s.Principal.ID {
		return Response{}, apperr.Invalid("id", "cannot delete your own profile")
	}
	p, err := s.Tx.Profiles().Get(ctx, id)
	if err != nil {
		return Response{}, err
	}
	e, err := profile.CheckDeletion(ctx, s.Tx.Profiles(), p.ID)
	if err != nil {
		return Response{}, err
	}
	if !e.CanDelete {
		return Response{}, fmt.Errorf("%w: %s", apperr.ErrConflict, e.Reason)
	}
	if err := s.Tx.Profiles().Delete(ctx, p.ID); err != nil {
		return Response{}, err
	}
	if err := audit.Record(ctx, s.Tx.Audit(), "profile.delete", "profile", p.ID, map[string]any{
		"role": string(p.Role),
	}); err != nil {
		return Response{}, err
	}
	return noContent(), nil
}

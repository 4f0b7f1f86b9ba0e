package httpapi

import (
	"context"
	"net/http"

	"github.com/benjaminmugangu/NEW-VERSION-AYLF-APP-sub003/internal/apperr"
	"github.com/benjaminmugangu/NEW-VERSION-AYLF-APP-sub003/internal/audit"
	"github.com/benjaminmugangu/NEW-VERSION-AYLF-APP-sub003/internal/ids"
	"github.com/benjaminmugangu/NEW-VERSION-AYLF-APP-sub003/internal/org"
	"github.com/benjaminmugangu/NEW-VERSION-AYLF-APP-sub003/internal/policy"
)

type createSiteRequest struct {
	Name string `json:"name"`
}

type createGroupRequest struct {
	SiteID string `json:"site_id"`
	Name   string `json:"name"`
}

func (a *API) listSites(r *http.Request, s *Session) (Response, error) {
	out, err := s.Tx.Org().ListSites(r.Context())
	if err != nil {
		return Response{}, err
	}
	return ok(list(out)), nil
}

func (a *API) createSite(r *http.Request, s *Session) (Response, error) {
	if !a.deps.Policy.Permits("sites", policy.OpInsert, string(s.Profile.Role)) {
		return Response{}, forbidden("role may not create sites")
	}
	var req createSiteRequest
	body, err := readJSON(r, &req)
	if err != nil {
		return Response{}, err
	}
	name, err := org.NormalizeName(req.Name)
	if err != nil {
		return Response{}, err
	}
	return a.idempotent(r, s, body, func(ctx context.Context) (Response, error) {
		site, err := s.Tx.Org().CreateSite(ctx, org.Site{ID: ids.New(), Name: name})
		if err != nil {
			return Response{}, err
		}
		if err := audit.Record(ctx, s.Tx.Audit(), "site.create", "site", site.ID, map[string]any{"name": site.Name}); err != nil {
			return Response{}, err
		}
		return created(site), nil
	})
}

func (a *API) listGroups(r *http.Request, s *Session) (Response, error) {
	out, err := s.Tx.Org().ListGroups(r.Context(), r.URL.Query().Get("site_id"))
	if err != nil {
		return Response{}, err
	}
	return ok(list(out)), nil
}

func (a *API) createGroup(r *http.Request, s *Session) (Response, error) {
	var req createGroupRequest
	body, err := readJSON(r, &req)
	if err != nil {
		return Response{}, err
	}
	if !ids.Valid(req.SiteID) {
		return Response{}, apperr.Invalid("site_id", "must be a site id")
	}
	name, err := org.NormalizeName(req.Name)
	if err != nil {
		return Response{}, err
	}
	if !a.deps.Policy.Allows("small_groups", policy.OpInsert, s.Actor(), policy.Row{SiteID: req.SiteID}) {
		return Response{}, forbidden("site is outside the caller's scope")
	}
	return a.idempotent(r, s, body, func(ctx context.Context) (Response, error) {
		g, err := s.Tx.Org().CreateGroup(ctx, org.SmallGroup{ID: ids.New(), SiteID: req.SiteID, Name: name})
		if err != nil {
			return Response{}, err
		}
		if err := audit.Record(ctx, s.Tx.Audit(), "small_group.create", "small_group", g.ID, map[string]any{
			"site_id": g.SiteID,
			"name":    g.Name,
		}); err != nil {
			return Response{}, err
		}
		return created(g), nil
	})
}

package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/benjaminmugangu/NEW-VERSION-AYLF-APP-sub003/internal/activity"
	"github.com/benjaminmugangu/NEW-VERSION-AYLF-APP-sub003/internal/audit"
	"github.com/benjaminmugangu/NEW-VERSION-AYLF-APP-sub003/internal/ids"
	"github.com/benjaminmugangu/NEW-VERSION-AYLF-APP-sub003/internal/report"
)

type createActivityRequest struct {
	Title        string          `json:"title"`
	Description  string          `json:"description"`
	Level        activity.Level  `json:"level"`
	SiteID       string          `json:"site_id"`
	SmallGroupID string          `json:"small_group_id"`
	ScheduledAt  time.Time       `json:"scheduled_at"`
	Status       activity.Status `json:"status"`
}

type createReportRequest struct {
	ActivityID   string `json:"activity_id"`
	Title        string `json:"title"`
	Content      string `json:"content"`
	Participants int    `json:"participants"`
}

// groupSite fills in the site of a visible small group when the caller
// named only the group.
func groupSite(ctx context.Context, s *Session, siteID, groupID string) (string, error) {
	if groupID == "" || siteID != "" {
		return siteID, nil
	}
	return s.Tx.Org().GroupSite(ctx, groupID)
}

func (a *API) listActivities(r *http.Request, s *Session) (Response, error) {
	q := r.URL.Query()
	limit, err := parseLimit(q.Get("limit"))
	if err != nil {
		return Response{}, err
	}
	out, err := s.Tx.Activities().List(r.Context(), activity.Filter{
		SiteID:       q.Get("site_id"),
		SmallGroupID: q.Get("small_group_id"),
		Status:       activity.Status(q.Get("status")),
		Limit:        limit,
	})
	if err != nil {
		return Response{}, err
	}
	return ok(list(out)), nil
}

func (a *API) getActivity(r *http.Request, s *Session) (Response, error) {
	act, err := s.Tx.Activities().Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		return Response{}, err
	}
	return ok(act), nil
}

func (a *API) createActivity(r *http.Request, s *Session) (Response, error) {
	var req createActivityRequest
	body, err := readJSON(r, &req)
	if err != nil {
		return Response{}, err
	}
	return a.idempotent(r, s, body, func(ctx context.Context) (Response, error) {
		siteID, err := groupSite(ctx, s, req.SiteID, req.SmallGroupID)
		if err != nil {
			return Response{}, err
		}
		act := activity.Activity{
			ID:           ids.New(),
			Title:        req.Title,
			Description:  req.Description,
			Level:        req.Level,
			SiteID:       siteID,
			SmallGroupID: req.SmallGroupID,
			ScheduledAt:  req.ScheduledAt.UTC(),
			Status:       req.Status,
			CreatedBy:    s.Principal.ID,
		}
		if err := act.Validate(); err != nil {
			return Response{}, err
		}
		act, err = s.Tx.Activities().Create(ctx, act)
		if err != nil {
			return Response{}, err
		}
		if err := audit.Record(ctx, s.Tx.Audit(), "activity.create", "activity", act.ID, map[string]any{
			"level":   string(act.Level),
			"site_id": act.SiteID,
		}); err != nil {
			return Response{}, err
		}
		return created(act), nil
	})
}

func (a *API) listReports(r *http.Request, s *Session) (Response, error) {
	q := r.URL.Query()
	limit, err := parseLimit(q.Get("limit"))
	if err != nil {
		return Response{}, err
	}
	out, err := s.Tx.Reports().List(r.Context(), report.Filter{
		ActivityID: q.Get("activity_id"),
		SiteID:     q.Get("site_id"),
		Limit:      limit,
	})
	if err != nil {
		return Response{}, err
	}
	return ok(list(out)), nil
}

// createReport files a report against a visible activity. The report takes
// the activity's scope, so a caller cannot file outside it.
func (a *API) createReport(r *http.Request, s *Session) (Response, error) {
	var req createReportRequest
	body, err := readJSON(r, &req)
	if err != nil {
		return Response{}, err
	}
	rep := report.Report{
		ActivityID:   req.ActivityID,
		Title:        req.Title,
		Content:      req.Content,
		Participants: req.Participants,
		SubmittedBy:  s.Principal.ID,
	}
	if err := rep.Validate(); err != nil {
		return Response{}, err
	}
	return a.idempotent(r, s, body, func(ctx context.Context) (Response, error) {
		act, err := s.Tx.Activities().Get(ctx, rep.ActivityID)
		if err != nil {
			return Response{}, err
		}
		rep.ID = ids.New()
		rep.SiteID, rep.SmallGroupID = act.SiteID, act.SmallGroupID

		rep, err = s.Tx.Reports().Create(ctx, rep)
		if err != nil {
			return Response{}, err
		}
		if err := audit.Record(ctx, s.Tx.Audit(), "report.create", "report", rep.ID, map[string]any{
			"activity_id":  rep.ActivityID,
			"participants": rep.Participants,
		}); err != nil {
			return Response{}, err
		}
		return created(rep), nil
	})
}

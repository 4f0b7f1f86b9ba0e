// Package report models reports submitted against activities.
package report

import (
	"context"
	"strings"
	"time"

	"github.com/benjaminmugangu/NEW-VERSION-AYLF-APP-sub003/internal/apperr"
)

type Status string

const (
	StatusSubmitted Status = "submitted"
	StatusApproved  Status = "approved"
	StatusRejected  Status = "rejected"
)

type Report struct {
	ID           string    `json:"id"`
	ActivityID   string    `json:"activity_id"`
	Title        string    `json:"title"`
	Content      string    `json:"content"`
	Participants int       `json:"participants"`
	SiteID       string    `json:"site_id,omitempty"`
	SmallGroupID string    `json:"small_group_id,omitempty"`
	SubmittedBy  string    `json:"submitted_by"`
	Status       Status    `json:"status"`
	CreatedAt    time.Time `json:"created_at"`
}

func (r *Report) Validate() error {
	v := &apperr.ValidationError{}
	r.Title = strings.TrimSpace(r.Title)
	if r.ActivityID == "" {
		v.Add("activity_id", "required")
	}
	if r.Title == "" || len(r.Title) > 200 {
		v.Add("title", "must be 1..200 characters")
	}
	if len(r.Content) > 20000 {
		v.Add("content", "must be at most 20000 characters")
	}
	if r.Participants < 0 {
		v.Add("participants", "must be >= 0")
	}
	if r.Status == "" {
		r.Status = StatusSubmitted
	}
	return v.OrNil()
}

type Filter struct {
	ActivityID string
	SiteID     string
	Limit      int
}

type Store interface {
	Create(ctx context.Context, r Report) (Report, error)
	List(ctx context.Context, f Filter) ([]Report, error)
}

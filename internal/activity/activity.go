// Package activity models planned and executed activities at each level of the hierarchy.
package activity

import (
	"context"
	"strings"
	"time"

	"github.com/benjaminmugangu/NEW-VERSION-AYLF-APP-sub003/internal/apperr"
)

type Level string

const (
	LevelNational   Level = "national"
	LevelSite       Level = "site"
	LevelSmallGroup Level = "small_group"
)

type Status string

const (
	StatusPlanned  Status = "planned"
	StatusExecuted Status = "executed"
	StatusCanceled Status = "canceled"
)

type Activity struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	Description  string    `json:"description,omitempty"`
	Level        Level     `json:"level"`
	SiteID       string    `json:"site_id,omitempty"`
	SmallGroupID string    `json:"small_group_id,omitempty"`
	ScheduledAt  time.Time `json:"scheduled_at"`
	Status       Status    `json:"status"`
	CreatedBy    string    `json:"created_by"`
	CreatedAt    time.Time `json:"created_at"`
}

// Validate checks required fields and that the level matches the scope fields.
func (a *Activity) Validate() error {
	v := &apperr.ValidationError{}
	a.Title = strings.TrimSpace(a.Title)
	if a.Title == "" || len(a.Title) > 200 {
		v.Add("title", "must be 1..200 characters")
	}
	if a.ScheduledAt.IsZero() {
		v.Add("scheduled_at", "required")
	}
	if a.Status == "" {
		a.Status = StatusPlanned
	}
	switch a.Status {
	case StatusPlanned, StatusExecuted, StatusCanceled:
	default:
		v.Add("status", "must be planned, executed or canceled")
	}
	switch a.Level {
	case LevelNational:
		if a.SiteID != "" || a.SmallGroupID != "" {
			v.Add("level", "national activities carry no site or small group")
		}
	case LevelSite:
		if a.SiteID == "" || a.SmallGroupID != "" {
			v.Add("level", "site activities need site_id and no small_group_id")
		}
	case LevelSmallGroup:
		if a.SiteID == "" || a.SmallGroupID == "" {
			v.Add("level", "small group activities need site_id and small_group_id")
		}
	default:
		v.Add("level", "must be national, site or small_group")
	}
	return v.OrNil()
}

type Filter struct {
	SiteID       string
	SmallGroupID string
	Status       Status
	Limit        int
}

type Store interface {
	Create(ctx context.Context, a Activity) (Activity, error)
	Get(ctx context.Context, id string) (Activity, error)
	List(ctx context.Context, f Filter) ([]Activity, error)
}

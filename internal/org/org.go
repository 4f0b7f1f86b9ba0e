// Package org holds the organisational hierarchy: sites and their small groups.
package org

import (
	"context"
	"strings"
	"time"

	"github.com/benjaminmugangu/NEW-VERSION-AYLF-APP-sub003/internal/apperr"
)

type Site struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

type SmallGroup struct {
	ID        string    `json:"id"`
	SiteID    string    `json:"site_id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// NormalizeName trims and validates a site or group name.
func NormalizeName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", apperr.Invalid("name", "required")
	}
	if len(name) > 120 {
		return "", apperr.Invalid("name", "must be at most 120 characters")
	}
	return name, nil
}

type Store interface {
	CreateSite(ctx context.Context, s Site) (Site, error)
	ListSites(ctx context.Context) ([]Site, error)
	CreateGroup(ctx context.Context, g SmallGroup) (SmallGroup, error)
	ListGroups(ctx context.Context, siteID string) ([]SmallGroup, error)
	// GroupSite returns the site a visible small group belongs to.
	GroupSite(ctx context.Context, groupID string) (string, error)
}

// Package profile models the application record of a principal: role,
// organisational scope and status.
package profile

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/benjaminmugangu/NEW-VERSION-AYLF-APP-sub003/internal/apperr"
)

type Role string

const (
	RoleNationalCoordinator Role = "national_coordinator"
	RoleSiteCoordinator     Role = "site_coordinator"
	RoleSmallGroupLeader    Role = "small_group_leader"
	RoleMember              Role = "member"
)

// Roles lists every role from the widest scope to the narrowest.
var Roles = []Role{RoleNationalCoordinator, RoleSiteCoordinator, RoleSmallGroupLeader, RoleMember}

func ParseRole(s string) (Role, error) {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Roles {
		if r == known {
			return r, nil
		}
	}
	return "", apperr.Invalid("role", fmt.Sprintf("unknown role %q", s))
}

type Status string

const (
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
	StatusInvited  Status = "invited"
)

func ParseStatus(s string) (Status, error) {
	switch st := Status(strings.ToLower(strings.TrimSpace(s))); st {
	case StatusActive, StatusInactive, StatusInvited:
		return st, nil
	}
	return "", apperr.Invalid("status", fmt.Sprintf("unknown status %q", s))
}

// Scope is the organisational subtree a role is bound to. Empty strings mean null.
type Scope struct {
	SiteID       string `json:"site_id,omitempty"`
	SmallGroupID string `json:"small_group_id,omitempty"`
}

// ValidateScope enforces which scope fields a role may carry:
// national has none, site coordinator a site only, leader and member both.
func ValidateScope(role Role, s Scope) error {
	switch role {
	case RoleNationalCoordinator:
		if s.SiteID != "" || s.SmallGroupID != "" {
			return apperr.Invalid("scope", "national coordinators carry no site or small group")
		}
	case RoleSiteCoordinator:
		if s.SiteID == "" {
			return apperr.Invalid("site_id", "required for site coordinators")
		}
		if s.SmallGroupID != "" {
			return apperr.Invalid("small_group_id", "must be empty for site coordinators")
		}
	case RoleSmallGroupLeader, RoleMember:
		v := &apperr.ValidationError{}
		if s.SiteID == "" {
			v.Add("site_id", "required for "+string(role))
		}
		if s.SmallGroupID == "" {
			v.Add("small_group_id", "required for "+string(role))
		}
		return v.OrNil()
	default:
		return apperr.Invalid("role", fmt.Sprintf("unknown role %q", role))
	}
	return nil
}

type Profile struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	Role      Role      `json:"role"`
	Scope               // site_id, small_group_id
	Status    Status    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Active reports whether the profile currently carries authority.
func (p Profile) Active() bool { return p.Status == StatusActive }

// Validate checks the role/scope invariant. Profiles that are not active may
// still lack a scope, e.g. right after a first login.
func (p Profile) Validate() error {
	if p.Status == StatusActive {
		return ValidateScope(p.Role, p.Scope)
	}
	if p.Role == RoleNationalCoordinator && (p.SiteID != "" || p.SmallGroupID != "") {
		return apperr.Invalid("scope", "national coordinators carry no site or small group")
	}
	if p.SmallGroupID != "" && p.SiteID == "" {
		return apperr.Invalid("site_id", "required when small_group_id is set")
	}
	return nil
}

// Patch is an administrative edit. Nil fields are left untouched.
type Patch struct {
	Name         *string `json:"name,omitempty"`
	Role         *Role   `json:"role,omitempty"`
	SiteID       *string `json:"site_id,omitempty"`
	SmallGroupID *string `json:"small_group_id,omitempty"`
	Status       *Status `json:"status,omitempty"`
}

// Apply returns p with the patch applied and the invariant re-checked.
func (pt Patch) Apply(p Profile) (Profile, error) {
	if pt.Name != nil {
		name := strings.TrimSpace(*pt.Name)
		if name == "" || len(name) > 200 {
			return Profile{}, apperr.Invalid("name", "must be 1..200 characters")
		}
		p.Name = name
	}
	if pt.Role != nil {
		p.Role = *pt.Role
	}
	if pt.SiteID != nil {
		p.SiteID = strings.TrimSpace(*pt.SiteID)
	}
	if pt.SmallGroupID != nil {
		p.SmallGroupID = strings.TrimSpace(*pt.SmallGroupID)
	}
	if pt.Status != nil {
		p.Status = *pt.Status
	}
	if p.Role == RoleNationalCoordinator || p.Role == RoleSiteCoordinator {
		// Narrowing to these roles implicitly drops the finer scope fields.
		if pt.SmallGroupID == nil {
			p.SmallGroupID = ""
		}
		if p.Role == RoleNationalCoordinator && pt.SiteID == nil {
			p.SiteID = ""
		}
	}
	if err := p.Validate(); err != nil {
		return Profile{}, err
	}
	return p, nil
}

// Filter narrows List. Empty fields do not filter.
type Filter struct {
	Role         Role
	SiteID       string
	SmallGroupID string
	Status       Status
	Limit        int
}

// Store is the profile repository bound to one scoped session. Every method
// sees only the rows row-level policies allow for the session's principal.
type Store interface {
	// Self returns the session principal's own profile.
	Self(ctx context.Context) (Profile, error)
	// Ensure creates an inactive profile for the session principal on first
	// login and returns the stored profile either way.
	Ensure(ctx context.Context, email, name string) (Profile, error)
	Get(ctx context.Context, id string) (Profile, error)
	List(ctx context.Context, f Filter) ([]Profile, error)
	Update(ctx context.Context, p Profile) (Profile, error)
	Delete(ctx context.Context, id string) error
	// Dependents counts the records that block deletion of id, keyed by entity type.
	Dependents(ctx context.Context, id string) (map[string]int, error)
}

package policy

// Actor is the session principal as the database functions see it.
type Actor struct {
	PrincipalID string
	Role        string
	SiteID      string
	GroupID     string
	Active      bool
}

// Row carries the scope columns of a row. Empty strings are SQL nulls.
type Row struct {
	SiteID  string
	GroupID string
	OwnerID string
}

// Allows mirrors the rendered policy for table/op: an inactive or anonymous
// actor is denied, null columns never match.
func (m *Model) Allows(table string, op Op, a Actor, row Row) bool {
	t, ok := m.Table(table)
	if !ok || a.PrincipalID == "" || !a.Active {
		return false
	}
	grant, ok := t.Rules[a.Role]
	if !ok {
		return false
	}
	if op == OpInsert && t.InsertRequiresOwner && row.OwnerID != a.PrincipalID {
		return false
	}
	for _, s := range grant.scopes(op) {
		if matches(s, a, row) {
			return true
		}
	}
	return false
}

// Permits reports whether role holds any grant for op on table, regardless of row.
func (m *Model) Permits(table string, op Op, role string) bool {
	t, ok := m.Table(table)
	if !ok {
		return false
	}
	grant, ok := t.Rules[role]
	return ok && len(grant.scopes(op)) > 0
}

func matches(s Scope, a Actor, row Row) bool {
	switch s {
	case ScopeAll:
		return true
	case ScopeSite:
		return row.SiteID != "" && row.SiteID == a.SiteID
	case ScopeGroup:
		return row.GroupID != "" && row.GroupID == a.GroupID
	case ScopeSelf:
		return row.OwnerID != "" && row.OwnerID == a.PrincipalID
	}
	return false
}

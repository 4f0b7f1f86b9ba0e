// Package policy declares who may touch which rows. The same model is
// rendered to Postgres row-level security policies and evaluated in-process
// for early, courtesy authorization checks.
package policy

import (
	_ "embed"
	"errors"
	"fmt"
	"sort"

	"gopkg.in/yaml.v3"
)

//go:embed policies.yaml
var defaultModel []byte

type Op string

const (
	OpSelect Op = "select"
	OpInsert Op = "insert"
	OpUpdate Op = "update"
	OpDelete Op = "delete"
)

var Ops = []Op{OpSelect, OpInsert, OpUpdate, OpDelete}

type Scope string

const (
	ScopeAll   Scope = "all"
	ScopeSite  Scope = "site"
	ScopeGroup Scope = "group"
	ScopeSelf  Scope = "self"
)

// Grant lists the scopes a role may act on per operation.
type Grant struct {
	Select []Scope `yaml:"select"`
	Insert []Scope `yaml:"insert"`
	Update []Scope `yaml:"update"`
	Delete []Scope `yaml:"delete"`
}

func (g Grant) scopes(op Op) []Scope {
	switch op {
	case OpSelect:
		return g.Select
	case OpInsert:
		return g.Insert
	case OpUpdate:
		return g.Update
	case OpDelete:
		return g.Delete
	}
	return nil
}

type Table struct {
	Name                string           `yaml:"name"`
	SiteColumn          string           `yaml:"site_column"`
	GroupColumn         string           `yaml:"group_column"`
	OwnerColumn         string           `yaml:"owner_column"`
	InsertRequiresOwner bool             `yaml:"insert_requires_owner"`
	Rules               map[string]Grant `yaml:"rules"`
}

type Model struct {
	Tables []Table `yaml:"tables"`
	byName map[string]*Table
}

// Default returns the embedded model.
func Default() (*Model, error) {
	return Parse(defaultModel)
}

// MustDefault is Default for package-level initialisation.
func MustDefault() *Model {
	m, err := Default()
	if err != nil {
		panic(err)
	}
	return m
}

// Parse decodes and validates a YAML model.
func Parse(data []byte) (*Model, error) {
	var m Model
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("policy: decode: %w", err)
	}
	if err := m.validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// Table returns the named table declaration.
func (m *Model) Table(name string) (*Table, bool) {
	t, ok := m.byName[name]
	return t, ok
}

// TableNames lists the protected tables in declaration order.
func (m *Model) TableNames() []string {
	out := make([]string, 0, len(m.Tables))
	for _, t := range m.Tables {
		out = append(out, t.Name)
	}
	return out
}

func (m *Model) validate() error {
	if len(m.Tables) == 0 {
		return errors.New("policy: model declares no tables")
	}
	m.byName = make(map[string]*Table, len(m.Tables))
	for i := range m.Tables {
		t := &m.Tables[i]
		if !isIdent(t.Name) {
			return fmt.Errorf("policy: invalid table name %q", t.Name)
		}
		if _, dup := m.byName[t.Name]; dup {
			return fmt.Errorf("policy: table %s declared twice", t.Name)
		}
		for _, col := range []string{t.SiteColumn, t.GroupColumn, t.OwnerColumn} {
			if col != "" && !isIdent(col) {
				return fmt.Errorf("policy: %s: invalid column %q", t.Name, col)
			}
		}
		if t.InsertRequiresOwner && t.OwnerColumn == "" {
			return fmt.Errorf("policy: %s: insert_requires_owner needs owner_column", t.Name)
		}
		roles := make([]string, 0, len(t.Rules))
		for role := range t.Rules {
			roles = append(roles, role)
		}
		sort.Strings(roles)
		for _, role := range roles {
			if !knownRole(role) {
				return fmt.Errorf("policy: %s: unknown role %q", t.Name, role)
			}
			for _, op := range Ops {
				for _, s := range t.Rules[role].scopes(op) {
					if err := t.checkScope(s); err != nil {
						return fmt.Errorf("policy: %s.%s.%s: %w", t.Name, role, op, err)
					}
				}
			}
		}
		m.byName[t.Name] = t
	}
	return nil
}

func (t *Table) checkScope(s Scope) error {
	switch s {
	case ScopeAll:
		return nil
	case ScopeSite:
		if t.SiteColumn == "" {
			return errors.New("site scope without site_column")
		}
	case ScopeGroup:
		if t.GroupColumn == "" {
			return errors.New("group scope without group_column")
		}
	case ScopeSelf:
		if t.OwnerColumn == "" {
			return errors.New("self scope without owner_column")
		}
	default:
		return fmt.Errorf("unknown scope %q", s)
	}
	return nil
}

// roleNames mirrors profile.Roles.
var roleNames = []string{"national_coordinator", "site_coordinator", "small_group_leader", "member"}

func knownRole(r string) bool {
	for _, n := range roleNames {
		if n == r {
			return true
		}
	}
	return false
}

func isIdent(s string) bool {
	if s == "" || len(s) > 63 {
		return false
	}
	for i, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r == '_':
		case r >= '0' && r <= '9' && i > 0:
		default:
			return false
		}
	}
	return true
}

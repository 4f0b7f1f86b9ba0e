package policy

import (
	"fmt"
	"strings"
)

// Session functions the rendered policies call. They are created by the SQL
// migrations and read the transaction-local principal setting.
const (
	FuncPrincipalID      = "app.current_principal_id()"
	FuncPrincipalRole    = "app.current_principal_role()"
	FuncPrincipalSiteID  = "app.current_principal_site_id()"
	FuncPrincipalGroupID = "app.current_principal_group_id()"
)

// Render produces idempotent DDL that installs the model: row level security
// is enabled on every table, existing policies are dropped, and one policy per
// granted operation is created. Operations nobody is granted get no policy and
// are therefore denied. Security is not forced: the table owner runs the
// security definer functions, and the service refuses to connect as the owner.
func Render(m *Model) []string {
	var out []string
	for i := range m.Tables {
		t := &m.Tables[i]
		out = append(out,
			fmt.Sprintf("alter table public.%s enable row level security", t.Name),
			dropPolicies(t.Name),
		)
		for _, op := range Ops {
			pred := t.predicate(op)
			if pred == "" {
				continue
			}
			name := t.Name + "_" + string(op)
			switch op {
			case OpSelect, OpDelete:
				out = append(out, fmt.Sprintf("create policy %s on public.%s for %s using (%s)", name, t.Name, op, pred))
			case OpInsert:
				out = append(out, fmt.Sprintf("create policy %s on public.%s for insert with check (%s)", name, t.Name, pred))
			case OpUpdate:
				out = append(out, fmt.Sprintf("create policy %s on public.%s for update using (%s) with check (%s)", name, t.Name, pred, pred))
			}
		}
	}
	return out
}

// Script joins Render's statements for display or for a migration file.
func Script(m *Model) string {
	stmts := Render(m)
	var b strings.Builder
	for _, s := range stmts {
		b.WriteString(s)
		b.WriteString(";\n")
	}
	return b.String()
}

func dropPolicies(table string) string {
	return fmt.Sprintf(`do $$
declare p record;
begin
  for p in select policyname from pg_policies where schemaname = 'public' and tablename = '%s' loop
    execute format('drop policy %%I on public.%s', p.policyname);
  end loop;
end
$$`, table, table)
}

// predicate ORs the role clauses granted for op. Empty means no grant.
func (t *Table) predicate(op Op) string {
	var clauses []string
	for _, role := range roleNames {
		grant, ok := t.Rules[role]
		if !ok {
			continue
		}
		scopes := grant.scopes(op)
		if len(scopes) == 0 {
			continue
		}
		parts := make([]string, 0, len(scopes))
		for _, s := range scopes {
			parts = append(parts, t.scopeSQL(s))
		}
		clauses = append(clauses, fmt.Sprintf("((select %s) = '%s' and (%s))", FuncPrincipalRole, role, strings.Join(parts, " or ")))
	}
	if len(clauses) == 0 {
		return ""
	}
	pred := strings.Join(clauses, " or ")
	if op == OpInsert && t.InsertRequiresOwner {
		pred = fmt.Sprintf("(%s) and %s = (select %s)", pred, t.OwnerColumn, FuncPrincipalID)
	}
	return pred
}

func (t *Table) scopeSQL(s Scope) string {
	switch s {
	case ScopeAll:
		return "true"
	case ScopeSite:
		return fmt.Sprintf("%s = (select %s)", t.SiteColumn, FuncPrincipalSiteID)
	case ScopeGroup:
		return fmt.Sprintf("%s = (select %s)", t.GroupColumn, FuncPrincipalGroupID)
	case ScopeSelf:
		return fmt.Sprintf("%s = (select %s)", t.OwnerColumn, FuncPrincipalID)
	}
	return "false"
}

package pg

import (
	"fmt"
	"strings"
)

const (
	defaultLimit = 100
	maxLimit     = 500
)

// where accumulates optional filter clauses with positional arguments.
type where struct {
	clauses []string
	args    []any
}

// eq adds "column = $n" unless value is empty.
func (w *where) eq(column, value string) {
	if value == "" {
		return
	}
	w.add(column+" = %s", value)
}

// add appends cond with its single %s replaced by the next placeholder.
func (w *where) add(cond string, value any) {
	w.args = append(w.args, value)
	w.clauses = append(w.clauses, fmt.Sprintf(cond, fmt.Sprintf("$%d", len(w.args))))
}

func (w *where) String() string {
	if len(w.clauses) == 0 {
		return ""
	}
	return " where " + strings.Join(w.clauses, " and ")
}

// limit appends a bounded limit placeholder and returns the clause.
func (w *where) limit(n int) string {
	switch {
	case n <= 0:
		n = defaultLimit
	case n > maxLimit:
		n = maxLimit
	}
	w.args = append(w.args, n)
	return fmt.Sprintf(" limit $%d", len(w.args))
}

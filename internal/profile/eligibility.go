package profile

import (
	"context"
	"fmt"
	"sort"
	"strings"
)

// Entity types that block profile deletion.
const (
	EntityReport      = "report"
	EntityActivity    = "activity"
	EntityTransaction = "transaction"
)

// Eligibility is the outcome of a deletion check.
type Eligibility struct {
	ProfileID string         `json:"profile_id"`
	CanDelete bool           `json:"can_delete"`
	Reason    string         `json:"reason,omitempty"`
	Blockers  map[string]int `json:"blockers"`
}

// CheckDeletion scans for records referencing id. It only reads, so two calls
// without intervening writes return the same result.
func CheckDeletion(ctx context.Context, s Store, id string) (Eligibility, error) {
	counts, err := s.Dependents(ctx, id)
	if err != nil {
		return Eligibility{}, err
	}
	return Evaluate(id, counts), nil
}

// Evaluate turns dependent counts into an Eligibility with a deterministic reason.
func Evaluate(id string, counts map[string]int) Eligibility {
	e := Eligibility{ProfileID: id, CanDelete: true, Blockers: map[string]int{}}
	var parts []string
	for entity, n := range counts {
		if n <= 0 {
			continue
		}
		e.Blockers[entity] = n
		parts = append(parts, fmt.Sprintf("%d %s%s", n, entity, plural(n)))
	}
	if len(parts) > 0 {
		sort.Strings(parts)
		e.CanDelete = false
		e.Reason = "profile is referenced by " + strings.Join(parts, ", ")
	}
	return e
}

func plural(n int) string {
	if n == 1 {
		return ""
	}
	return "s"
}

package auth

import (
	"strings"

	"github.com/google/uuid"
)

// Principal is the identity established by the external identity provider.
type Principal struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

// Valid reports whether the principal carries a UUID id and an email.
func (p Principal) Valid() bool {
	if _, err := uuid.Parse(p.ID); err != nil {
		return false
	}
	return strings.Contains(p.Email, "@")
}

// Package invite issues and accepts invitations that grant a role and scope.
package invite

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"net/mail"
	"strings"
	"time"

	"github.com/benjaminmugangu/NEW-VERSION-AYLF-APP-sub003/internal/apperr"
	"github.com/benjaminmugangu/NEW-VERSION-AYLF-APP-sub003/internal/profile"
)

type Status string

const (
	StatusPending  Status = "pending"
	StatusAccepted Status = "accepted"
	StatusExpired  Status = "expired"
	StatusRevoked  Status = "revoked"
)

type Invitation struct {
	ID         string        `json:"id"`
	Email      string        `json:"email"`
	Role       profile.Role  `json:"role"`
	Scope      profile.Scope `json:"scope"`
	Status     Status        `json:"status"`
	InvitedBy  string        `json:"invited_by"`
	ExpiresAt  time.Time     `json:"expires_at"`
	AcceptedBy string        `json:"accepted_by,omitempty"`
	AcceptedAt *time.Time    `json:"accepted_at,omitempty"`
	CreatedAt  time.Time     `json:"created_at"`
	TokenHash  string        `json:"-"`
}

// Issued is returned once at creation; the invitation row keeps only the hash.
type Issued struct {
	Invitation
	Token string `json:"token"`
}

// Validate normalises the email and checks the role/scope invariant.
func (i *Invitation) Validate() error {
	addr, err := mail.ParseAddress(strings.TrimSpace(i.Email))
	if err != nil {
		return apperr.Invalid("email", "must be a valid address")
	}
	i.Email = strings.ToLower(addr.Address)
	if _, err := profile.ParseRole(string(i.Role)); err != nil {
		return err
	}
	return profile.ValidateScope(i.Role, i.Scope)
}

// NewToken returns a random URL-safe token and its storage hash.
func NewToken() (token, hash string, err error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", "", err
	}
	token = base64.RawURLEncoding.EncodeToString(buf)
	return token, HashToken(token), nil
}

// HashToken is the lookup key stored for an invitation token.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(token)))
	return hex.EncodeToString(sum[:])
}

type Store interface {
	Create(ctx context.Context, inv Invitation) (Invitation, error)
	List(ctx context.Context, status Status, limit int) ([]Invitation, error)
	Revoke(ctx context.Context, id string) (Invitation, error)
	// Accept redeems the invitation matching tokenHash for the session
	// principal and returns the resulting profile.
	Accept(ctx context.Context, tokenHash string) (profile.Profile, error)
}

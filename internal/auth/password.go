package auth

import (
	"errors"
	"net/http"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// CronAuthenticator validates the shared secret presented by scheduled jobs.
// Only a bcrypt hash of the secret is kept in memory.
type CronAuthenticator struct {
	hash []byte
}

// NewCronAuthenticator accepts a bcrypt hash, or a plaintext secret that is
// hashed immediately. The hash wins when both are set.
func NewCronAuthenticator(secret, secretHash string) (*CronAuthenticator, error) {
	secretHash = strings.TrimSpace(secretHash)
	if secretHash != "" {
		if _, err := bcrypt.Cost([]byte(secretHash)); err != nil {
			return nil, errors.New("auth: cron secret hash is not a bcrypt hash")
		}
		return &CronAuthenticator{hash: []byte(secretHash)}, nil
	}
	hash, err := HashSecret(secret)
	if err != nil {
		return nil, err
	}
	return &CronAuthenticator{hash: []byte(hash)}, nil
}

// Authenticate checks the bearer secret of r. It performs no other work.
func (c *CronAuthenticator) Authenticate(r *http.Request) error {
	if c == nil || len(c.hash) == 0 {
		return ErrBadCronSecret
	}
	secret, err := extractBearerToken(r.Header.Get(authHeader))
	if err != nil {
		return ErrBadCronSecret
	}
	if bcrypt.CompareHashAndPassword(c.hash, []byte(secret)) != nil {
		return ErrBadCronSecret
	}
	return nil
}

// HashSecret hashes a plaintext secret using bcrypt.
func HashSecret(secret string) (string, error) {
	if len(secret) == 0 {
		return "", errors.New("auth: secret is empty")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

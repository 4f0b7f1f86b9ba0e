// Package idempotency collapses retried or concurrent state-changing requests
// that carry the same caller token into a single effect.
package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/benjaminmugangu/NEW-VERSION-AYLF-APP-sub003/internal/apperr"
)

// MaxTokenLength bounds caller-supplied tokens.
const MaxTokenLength = 128

// Key identifies a record. Tokens are namespaced per principal.
type Key struct {
	PrincipalID string
	Token       string
}

func (k Key) cacheKey() string { return "idem:" + k.PrincipalID + ":" + k.Token }

// Record is the stored first outcome for a key. It is never updated.
type Record struct {
	Key
	RequestHash string          `json:"request_hash"`
	StatusCode  int             `json:"status_code"`
	Response    json.RawMessage `json:"response"`
	CreatedAt   time.Time       `json:"created_at"`
}

// Response is what a guarded operation produces.
type Response struct {
	StatusCode int
	Body       json.RawMessage
}

// JSON marshals v into a Response.
func JSON(status int, v any) (Response, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return Response{}, fmt.Errorf("idempotency: encode response: %w", err)
	}
	return Response{StatusCode: status, Body: body}, nil
}

// Store persists records inside the caller's transaction.
type Store interface {
	// Find returns the record for k or an error matching apperr.ErrNotFound.
	Find(ctx context.Context, k Key) (Record, error)
	// Insert stores rec unless a record for the same key exists; it reports
	// false in that case instead of failing.
	Insert(ctx context.Context, rec Record) (bool, error)
}

// Tx is the slice of a scoped session the guard needs.
type Tx interface {
	Idempotency() Store
	Savepoint(ctx context.Context, name string) (release, rollback func(context.Context) error, err error)
}

// ValidateToken checks length and character set: visible ASCII only.
func ValidateToken(token string) error {
	if len(token) > MaxTokenLength {
		return apperr.Invalid("idempotency_key", fmt.Sprintf("must be at most %d characters", MaxTokenLength))
	}
	for i := 0; i < len(token); i++ {
		if token[i] <= ' ' || token[i] > '~' {
			return apperr.Invalid("idempotency_key", "must contain visible ASCII characters only")
		}
	}
	return nil
}

// Fingerprint hashes the parts of a request that must match on replay.
func Fingerprint(r *http.Request, body []byte) string {
	h := sha256.New()
	h.Write([]byte(r.Method))
	h.Write([]byte{0})
	h.Write([]byte(r.URL.Path))
	h.Write([]byte{0})
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}

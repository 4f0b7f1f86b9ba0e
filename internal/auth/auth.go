package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// TokenConfig describes how identity-provider session tokens are verified.
type TokenConfig struct {
	Secret   []byte
	Issuer   string
	Audience string
	Leeway   time.Duration
}

// Claims are the identity-provider claims the service relies on.
type Claims struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
	jwt.RegisteredClaims
}

// IssueSessionToken signs an HS256 session token for p. The API never calls
// it; operators and tests use it to mint tokens the resolver accepts.
func IssueSessionToken(cfg TokenConfig, p Principal, ttl time.Duration) (string, error) {
	if len(cfg.Secret) == 0 {
		return "", errMissingSecret
	}
	if !p.Valid() {
		return "", errors.New("auth: principal needs a uuid id and an email")
	}
	if ttl <= 0 {
		return "", errors.New("auth: ttl must be greater than zero")
	}
	now := time.Now().UTC()
	claims := Claims{
		Email: strings.ToLower(strings.TrimSpace(p.Email)),
		Name:  strings.TrimSpace(p.Name),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    cfg.Issuer,
			Subject:   p.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        uuid.NewString(),
		},
	}
	if cfg.Audience != "" {
		claims.Audience = jwt.ClaimStrings{cfg.Audience}
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(cfg.Secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// ParseSessionToken verifies signature, algorithm, expiry, issuer and audience.
func ParseSessionToken(cfg TokenConfig, token string) (Principal, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Principal{}, ErrNoCredentials
	}
	if len(cfg.Secret) == 0 {
		return Principal{}, errMissingSecret
	}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(cfg.Leeway),
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}

	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return cfg.Secret, nil
	}, opts...)
	if err != nil || !parsed.Valid {
		return Principal{}, ErrInvalidToken
	}

	p := Principal{
		ID:    strings.ToLower(strings.TrimSpace(claims.Subject)),
		Email: strings.ToLower(strings.TrimSpace(claims.Email)),
		Name:  strings.TrimSpace(claims.Name),
	}
	if !p.Valid() {
		return Principal{}, ErrInvalidToken
	}
	return p, nil
}

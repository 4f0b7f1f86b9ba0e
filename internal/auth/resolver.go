package auth

import (
	"errors"
	"net/http"
	"strings"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "
)

// Resolver returns the authenticated principal for a request, or an error
// matching apperr.ErrUnauthenticated. Implementations never write.
type Resolver interface {
	Resolve(r *http.Request) (Principal, error)
}

// ResolverFunc adapts a function to Resolver.
type ResolverFunc func(r *http.Request) (Principal, error)

func (f ResolverFunc) Resolve(r *http.Request) (Principal, error) { return f(r) }

// JWTResolver reads the identity-provider session from the Authorization
// header or, failing that, the session cookie.
type JWTResolver struct {
	cfg        TokenConfig
	cookieName string
}

// ResolverOption configures JWTResolver.
type ResolverOption func(*JWTResolver) error

// WithCookie enables reading the session token from the named cookie.
func WithCookie(name string) ResolverOption {
	return func(r *JWTResolver) error {
		r.cookieName = strings.TrimSpace(name)
		return nil
	}
}

// NewJWTResolver constructs a resolver for HS256 session tokens.
func NewJWTResolver(cfg TokenConfig, opts ...ResolverOption) (*JWTResolver, error) {
	if len(cfg.Secret) == 0 {
		return nil, errMissingSecret
	}
	r := &JWTResolver{cfg: cfg}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(r); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func (j *JWTResolver) Resolve(r *http.Request) (Principal, error) {
	token, err := extractBearerToken(r.Header.Get(authHeader))
	if errors.Is(err, ErrNoCredentials) && j.cookieName != "" {
		if c, cerr := r.Cookie(j.cookieName); cerr == nil {
			token, err = strings.TrimSpace(c.Value), nil
		}
	}
	if err != nil {
		return Principal{}, err
	}
	return ParseSessionToken(j.cfg, token)
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", ErrNoCredentials
	}
	if len(header) < len(bearer) || !strings.EqualFold(header[:len(bearer)], bearer) {
		return "", ErrInvalidToken
	}
	token := strings.TrimSpace(header[len(bearer):])
	if token == "" {
		return "", ErrNoCredentials
	}
	return token, nil
}

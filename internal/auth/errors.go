package auth

import (
	"errors"
	"fmt"

	"github.com/benjaminmugangu/NEW-VERSION-AYLF-APP-sub003/internal/apperr"
)

var (
	// ErrNoCredentials means the request carried neither a bearer token nor a session cookie.
	ErrNoCredentials = fmt.Errorf("%w: no session credentials", apperr.ErrUnauthenticated)
	// ErrInvalidToken means the credentials failed verification.
	ErrInvalidToken = fmt.Errorf("%w: invalid session token", apperr.ErrUnauthenticated)
	// ErrBadCronSecret means a scheduled-job request presented a wrong or missing secret.
	ErrBadCronSecret = fmt.Errorf("%w: invalid cron secret", apperr.ErrUnauthenticated)

	errMissingSecret = errors.New("auth: signing secret is not configured")
)

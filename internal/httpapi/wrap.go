package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/benjaminmugangu/NEW-VERSION-AYLF-APP-sub003/internal/apperr"
	"github.com/benjaminmugangu/NEW-VERSION-AYLF-APP-sub003/internal/auth"
	"github.com/benjaminmugangu/NEW-VERSION-AYLF-APP-sub003/internal/idempotency"
	"github.com/benjaminmugangu/NEW-VERSION-AYLF-APP-sub003/internal/obs"
	"github.com/benjaminmugangu/NEW-VERSION-AYLF-APP-sub003/internal/policy"
	"github.com/benjaminmugangu/NEW-VERSION-AYLF-APP-sub003/internal/profile"
	"github.com/benjaminmugangu/NEW-VERSION-AYLF-APP-sub003/internal/store"
)

const (
	idempotencyKeyHeader = "Idempotency-Key"
	replayedHeader       = "Idempotent-Replayed"
)

var (
	errNoActiveProfile = fmt.Errorf("%w: no active profile", apperr.ErrForbidden)
	errHandlerPanic    = errors.New("handler panicked")
)

// Session is what a wrapped handler gets: the resolved principal, its own
// profile as the database sees it, and the scoped transaction.
type Session struct {
	Principal auth.Principal
	Profile   profile.Profile
	Tx        store.Tx
}

// Actor converts the session into the in-process policy actor.
func (s *Session) Actor() policy.Actor {
	return policy.Actor{
		PrincipalID: s.Principal.ID,
		Role:        string(s.Profile.Role),
		SiteID:      s.Profile.SiteID,
		GroupID:     s.Profile.SmallGroupID,
		Active:      s.Profile.Active(),
	}
}

// Response is buffered by the wrapper and written after commit.
type Response struct {
	Status int
	Body   any

	raw      json.RawMessage
	replayed bool
}

func ok(v any) Response      { return Response{Status: http.StatusOK, Body: v} }
func created(v any) Response { return Response{Status: http.StatusCreated, Body: v} }
func noContent() Response    { return Response{Status: http.StatusNoContent} }

func (resp Response) write(w http.ResponseWriter) {
	status := resp.Status
	if status == 0 {
		status = http.StatusOK
	}
	if resp.replayed {
		w.Header().Set(replayedHeader, "true")
	}
	switch {
	case resp.raw != nil:
		writeRawJSON(w, status, resp.raw)
	case status == http.StatusNoContent:
		w.WriteHeader(status)
	default:
		writeJSON(w, status, resp.Body)
	}
}

// Handler is a route body that runs inside a scoped session.
type Handler func(r *http.Request, s *Session) (Response, error)

type route struct {
	method  string
	pattern string
	wrapped bool
}

func (rt route) String() string { return rt.method + " " + rt.pattern }

func (a *API) protected(method, pattern string, h Handler) {
	a.routes = append(a.routes, route{method: method, pattern: pattern, wrapped: true})
	a.router.Method(method, pattern, a.wrap(h, false))
}

// onboarding registers a wrapped route that also admits principals whose
// profile is missing or not yet active. Their Session.Profile is whatever
// the database returned, possibly the zero value.
func (a *API) onboarding(method, pattern string, h Handler) {
	a.routes = append(a.routes, route{method: method, pattern: pattern, wrapped: true})
	a.router.Method(method, pattern, a.wrap(h, true))
}

func (a *API) exempt(method, pattern string, h http.HandlerFunc) {
	a.routes = append(a.routes, route{method: method, pattern: pattern})
	a.router.Method(method, pattern, h)
}

// wrap resolves the principal, opens a session bound to it, loads the
// caller's profile and runs h. Nothing reaches the client before the
// transaction has committed.
func (a *API) wrap(h Handler, allowInactive bool) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, err := a.deps.Resolver.Resolve(r)
		if err != nil {
			if apperr.KindOf(err) != apperr.KindUnauthenticated {
				err = fmt.Errorf("%w: %v", apperr.ErrUnauthenticated, err)
			}
			handleError(w, r, err)
			return
		}
		ctx := auth.ContextWithPrincipal(r.Context(), p)

		var resp Response
		err = a.deps.Sessions.WithPrincipal(ctx, p, func(ctx context.Context, tx store.Tx) (err error) {
			defer func() {
				if rec := recover(); rec != nil {
					obs.Logger().ErrorContext(ctx, "handler_panic",
						"request_id", RequestIDFromContext(ctx),
						"method", r.Method,
						"path", r.URL.Path,
						"panic_type", fmt.Sprintf("%T", rec),
						"panic_fingerprint", obs.Fingerprint(fmt.Sprint(rec)),
					)
					err = errHandlerPanic
				}
			}()
			self, err := tx.Profiles().Self(ctx)
			switch {
			case errors.Is(err, apperr.ErrNotFound):
				if !allowInactive {
					return errNoActiveProfile
				}
			case err != nil:
				return err
			case !self.Active() && !allowInactive:
				return errNoActiveProfile
			}
			resp, err = h(r.WithContext(ctx), &Session{Principal: p, Profile: self, Tx: tx})
			return err
		})
		if err != nil {
			handleError(w, r, err)
			return
		}
		resp.write(w)
	})
}

// idempotent runs fn through the guard keyed by the caller's
// Idempotency-Key header. A request without the header runs unguarded.
func (a *API) idempotent(r *http.Request, s *Session, body []byte, fn func(ctx context.Context) (Response, error)) (Response, error) {
	key := idempotency.Key{
		PrincipalID: s.Principal.ID,
		Token:       strings.TrimSpace(r.Header.Get(idempotencyKeyHeader)),
	}
	res, err := a.deps.Guard.Do(r.Context(), s.Tx, key, idempotency.Fingerprint(r, body), func(ctx context.Context) (idempotency.Response, error) {
		resp, err := fn(ctx)
		if err != nil {
			return idempotency.Response{}, err
		}
		status := resp.Status
		if status == 0 {
			status = http.StatusOK
		}
		return idempotency.JSON(status, resp.Body)
	})
	if err != nil {
		return Response{}, err
	}
	return Response{Status: res.StatusCode, raw: res.Body, replayed: res.Replayed}, nil
}

// coverageAllowList names the routes allowed to bypass the wrapper. A
// trailing "*" matches any suffix.
var coverageAllowList = []string{
	"GET /v1/auth/whoami",
	"POST /v1/cron/*",
}

// infraRoutes are unauthenticated and read no organisation data.
var infraRoutes = map[string]bool{
	"/healthz": true,
	"/readyz":  true,
	"/metrics": true,
	"/v1/info": true,
}

// CheckCoverage verifies the wrapper covers every route registered on the
// API's router.
func (a *API) CheckCoverage() error {
	return checkCoverage(a.router, a.routes)
}

// checkCoverage walks router and reports every state-changing or data route
// that was neither registered through the wrapper nor allow-listed.
func checkCoverage(router chi.Routes, inventory []route) error {
	wrapped := make(map[string]bool, len(inventory))
	for _, rt := range inventory {
		if rt.wrapped {
			wrapped[rt.String()] = true
		}
	}
	var missing []string
	err := chi.Walk(router, func(method, pattern string, _ http.Handler, _ ...func(http.Handler) http.Handler) error {
		rt := route{method: method, pattern: pattern}
		if !needsWrapper(rt) || wrapped[rt.String()] || allowListed(rt) {
			return nil
		}
		missing = append(missing, rt.String())
		return nil
	})
	if err != nil {
		return fmt.Errorf("walk routes: %w", err)
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return fmt.Errorf("routes bypass the authorization wrapper: %s", strings.Join(missing, ", "))
	}
	return nil
}

func needsWrapper(rt route) bool {
	switch rt.method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	}
	return strings.HasPrefix(rt.pattern, "/v1/") && !infraRoutes[rt.pattern]
}

func allowListed(rt route) bool {
	key := rt.String()
	for _, entry := range coverageAllowList {
		if prefix, ok := strings.CutSuffix(entry, "*"); ok {
			if strings.HasPrefix(key, prefix) {
				return true
			}
			continue
		}
		if key == entry {
			return true
		}
	}
	return false
}

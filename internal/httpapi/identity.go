package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/benjaminmugangu/NEW-VERSION-AYLF-APP-sub003/internal/apperr"
	"github.com/benjaminmugangu/NEW-VERSION-AYLF-APP-sub003/internal/audit"
	"github.com/benjaminmugangu/NEW-VERSION-AYLF-APP-sub003/internal/auth"
	"github.com/benjaminmugangu/NEW-VERSION-AYLF-APP-sub003/internal/obs"
	"github.com/benjaminmugangu/NEW-VERSION-AYLF-APP-sub003/internal/profile"
	"github.com/benjaminmugangu/NEW-VERSION-AYLF-APP-sub003/internal/store"
)

var errCronDisabled = errors.New("cron authenticator is not configured")

type whoamiResponse struct {
	Principal auth.Principal  `json:"principal"`
	Profile   profile.Profile `json:"profile"`
}

// whoami resolves the caller and makes sure a profile row exists for it. A
// first login yields an inactive profile without authority.
func (a *API) whoami(w http.ResponseWriter, r *http.Request) {
	p, err := a.deps.Resolver.Resolve(r)
	if err != nil {
		if apperr.KindOf(err) != apperr.KindUnauthenticated {
			err = fmt.Errorf("%w: %v", apperr.ErrUnauthenticated, err)
		}
		handleError(w, r, err)
		return
	}
	name := strings.TrimSpace(p.Name)
	if name == "" {
		name, _, _ = strings.Cut(p.Email, "@")
	}
	ctx := auth.ContextWithPrincipal(r.Context(), p)

	var prof profile.Profile
	err = a.deps.Sessions.WithPrincipal(ctx, p, func(ctx context.Context, tx store.Tx) error {
		var err error
		prof, err = tx.Profiles().Ensure(ctx, p.Email, name)
		return err
	})
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, whoamiResponse{Principal: p, Profile: prof})
}

type purgeResult struct {
	Purged int64 `json:"purged"`
}

type expireResult struct {
	Expired int64 `json:"expired"`
}

func (a *API) cronPurgeIdempotency(w http.ResponseWriter, r *http.Request) {
	var n int64
	err := a.maintenance(r, func(ctx context.Context, m store.Maintenance) (err error) {
		n, err = m.PurgeIdempotency(ctx, a.deps.Guard.Retention())
		return err
	})
	writeCronResult(w, r, "idempotency_purge", purgeResult{Purged: n}, err)
}

func (a *API) cronExpireInvitations(w http.ResponseWriter, r *http.Request) {
	var n int64
	err := a.maintenance(r, func(ctx context.Context, m store.Maintenance) (err error) {
		n, err = m.ExpireInvitations(ctx)
		return err
	})
	writeCronResult(w, r, "invitation_expiry", expireResult{Expired: n}, err)
}

// maintenance authenticates the scheduler before any work and runs fn in a
// session with no principal bound.
func (a *API) maintenance(r *http.Request, fn func(ctx context.Context, m store.Maintenance) error) error {
	if a.deps.Cron == nil {
		return errCronDisabled
	}
	if err := a.deps.Cron.Authenticate(r); err != nil {
		return err
	}
	return a.deps.Sessions.WithoutPrincipal(r.Context(), func(ctx context.Context, tx store.Tx) error {
		return fn(ctx, tx.Maintenance())
	})
}

// writeCronResult answers with the tagged result shape schedulers parse.
func writeCronResult[T any](w http.ResponseWriter, r *http.Request, job string, v T, err error) {
	status := http.StatusOK
	attrs := []any{"request_id", RequestIDFromContext(r.Context()), "job", job}
	if err != nil {
		status = statusFor(apperr.KindOf(err))
		attrs = append(attrs, "status", status, "error", obs.Redact(err.Error()))
		obs.Logger().WarnContext(r.Context(), "cron_failed", attrs...)
	} else {
		attrs = append(attrs, "status", status)
		obs.Logger().InfoContext(r.Context(), "cron_complete", attrs...)
	}
	writeJSON(w, status, apperr.From(v, err))
}

func (a *API) listAudit(r *http.Request, s *Session) (Response, error) {
	q := r.URL.Query()
	limit, err := parseLimit(q.Get("limit"))
	if err != nil {
		return Response{}, err
	}
	out, err := s.Tx.Audit().List(r.Context(), audit.Filter{
		ActorID:    q.Get("actor_id"),
		EntityType: q.Get("entity_type"),
		EntityID:   q.Get("entity_id"),
		Limit:      limit,
	})
	if err != nil {
		return Response{}, err
	}
	return ok(list(out)), nil
}

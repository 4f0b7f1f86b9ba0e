package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/benjaminmugangu/NEW-VERSION-AYLF-APP-sub003/internal/apperr"
	"github.com/benjaminmugangu/NEW-VERSION-AYLF-APP-sub003/internal/cache"
	"github.com/benjaminmugangu/NEW-VERSION-AYLF-APP-sub003/internal/obs"
)

// DefaultRetention is how long records are kept before the purge job removes them.
const DefaultRetention = 7 * 24 * time.Hour

// ErrTokenReused means the token already belongs to a different request.
var ErrTokenReused = fmt.Errorf("%w: idempotency key was already used for a different request", apperr.ErrInvalidInput)

const savepointName = "idempotency_guard"

// Result is a guarded outcome. Replayed is true when the response comes from
// an earlier execution rather than this call.
type Result struct {
	Response
	Replayed bool
}

type Guard struct {
	cache     cache.Cache
	retention time.Duration
}

type Option func(*Guard)

// WithCache keeps committed records in c so replays skip the database read.
func WithCache(c cache.Cache) Option {
	return func(g *Guard) { g.cache = c }
}

// WithRetention sets the record retention, which is also the cache TTL.
func WithRetention(d time.Duration) Option {
	return func(g *Guard) {
		if d > 0 {
			g.retention = d
		}
	}
}

func NewGuard(opts ...Option) *Guard {
	g := &Guard{retention: DefaultRetention}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Retention reports the configured retention window.
func (g *Guard) Retention() time.Duration { return g.retention }

// Do runs fn at most once per key across concurrent callers.
//
// Inside tx it reads an existing record and returns it without calling fn.
// Otherwise fn runs under a savepoint and its response is inserted with
// insert-or-nothing semantics. If a concurrent transaction committed a
// record for the same key first, the savepoint is rolled back, discarding
// fn's writes, and the winner's record is returned. The same applies when fn
// itself fails after the winner committed. An empty token disables
// the guard.
func (g *Guard) Do(ctx context.Context, tx Tx, key Key, requestHash string, fn func(context.Context) (Response, error)) (Result, error) {
	if key.Token == "" {
		obs.ObserveIdempotency("passthrough")
		resp, err := fn(ctx)
		return Result{Response: normalize(resp)}, err
	}
	if err := ValidateToken(key.Token); err != nil {
		return Result{}, err
	}
	if key.PrincipalID == "" {
		return Result{}, fmt.Errorf("%w: idempotency requires a principal", apperr.ErrUnauthenticated)
	}

	if rec, ok := g.cached(ctx, key); ok {
		obs.ObserveIdempotency("replayed")
		return replay(rec, requestHash)
	}

	store := tx.Idempotency()
	rec, err := store.Find(ctx, key)
	switch {
	case err == nil:
		g.remember(ctx, rec)
		obs.ObserveIdempotency("replayed")
		return replay(rec, requestHash)
	case !errors.Is(err, apperr.ErrNotFound):
		return Result{}, fmt.Errorf("idempotency: lookup: %w", err)
	}

	release, rollback, err := tx.Savepoint(ctx, savepointName)
	if err != nil {
		return Result{}, fmt.Errorf("idempotency: savepoint: %w", err)
	}

	resp, err := fn(ctx)
	if err != nil {
		if rbErr := rollback(ctx); rbErr != nil {
			return Result{}, errors.Join(err, rbErr)
		}
		// fn may have collided with a concurrent caller that committed the
		// same create, e.g. on a unique constraint. Its record wins.
		if winner, findErr := store.Find(ctx, key); findErr == nil {
			g.remember(ctx, winner)
			obs.ObserveIdempotency("race_lost")
			return replay(winner, requestHash)
		}
		return Result{}, err
	}
	resp = normalize(resp)

	inserted, err := store.Insert(ctx, Record{
		Key:         key,
		RequestHash: requestHash,
		StatusCode:  resp.StatusCode,
		Response:    resp.Body,
		CreatedAt:   time.Now().UTC(),
	})
	if err != nil {
		err = fmt.Errorf("idempotency: insert: %w", err)
		if rbErr := rollback(ctx); rbErr != nil {
			return Result{}, errors.Join(err, rbErr)
		}
		return Result{}, err
	}
	if inserted {
		if err := release(ctx); err != nil {
			return Result{}, fmt.Errorf("idempotency: release savepoint: %w", err)
		}
		obs.ObserveIdempotency("executed")
		return Result{Response: resp}, nil
	}

	// A concurrent caller won. Undo our effects and hand back theirs.
	if err := rollback(ctx); err != nil {
		return Result{}, fmt.Errorf("idempotency: rollback savepoint: %w", err)
	}
	winner, err := store.Find(ctx, key)
	if err != nil {
		return Result{}, fmt.Errorf("idempotency: re-read after conflict: %w", err)
	}
	g.remember(ctx, winner)
	obs.ObserveIdempotency("race_lost")
	return replay(winner, requestHash)
}

func replay(rec Record, requestHash string) (Result, error) {
	if rec.RequestHash != "" && requestHash != "" && rec.RequestHash != requestHash {
		return Result{}, ErrTokenReused
	}
	return Result{Response: Response{StatusCode: rec.StatusCode, Body: rec.Response}, Replayed: true}, nil
}

func normalize(resp Response) Response {
	if resp.StatusCode == 0 {
		resp.StatusCode = http.StatusOK
	}
	if len(resp.Body) == 0 {
		resp.Body = json.RawMessage("null")
	}
	return resp
}

// Only records read back from the database reach the cache, so a cached
// entry is always a committed one.
func (g *Guard) remember(ctx context.Context, rec Record) {
	if g.cache == nil {
		return
	}
	raw, err := json.Marshal(rec)
	if err != nil {
		return
	}
	if err := g.cache.Set(ctx, rec.Key.cacheKey(), string(raw), g.retention); err != nil {
		obs.Logger().WarnContext(ctx, "idempotency_cache_set_failed", "error", obs.Redact(err.Error()))
	}
}

func (g *Guard) cached(ctx context.Context, key Key) (Record, bool) {
	if g.cache == nil {
		return Record{}, false
	}
	raw, err := g.cache.Get(ctx, key.cacheKey())
	if err != nil {
		if !errors.Is(err, cache.ErrMiss) {
			obs.Logger().WarnContext(ctx, "idempotency_cache_get_failed", "error", obs.Redact(err.Error()))
		}
		return Record{}, false
	}
	var rec Record
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return Record{}, false
	}
	if rec.PrincipalID != key.PrincipalID || rec.Token != key.Token {
		return Record{}, false
	}
	return rec, true
}

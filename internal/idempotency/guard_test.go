package idempotency

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/benjaminmugangu/NEW-VERSION-AYLF-APP-sub003/internal/apperr"
	"github.com/benjaminmugangu/NEW-VERSION-AYLF-APP-sub003/internal/cache"
)

// world is a shared "database": committed records and committed effects.
type world struct {
	mu        sync.Mutex
	records   map[Key]Record
	effects   []string
	finds     int
	insertErr error
}

func newWorld() *world { return &world{records: map[Key]Record{}} }

type fakeTx struct {
	w           *world
	pending     []string
	rollbackErr error
}

func (t *fakeTx) Idempotency() Store { return fakeStore{t: t} }

func (t *fakeTx) Savepoint(context.Context, string) (func(context.Context) error, func(context.Context) error, error) {
	mark := len(t.pending)
	release := func(context.Context) error { return nil }
	rollback := func(context.Context) error {
		t.pending = t.pending[:mark]
		return t.rollbackErr
	}
	return release, rollback, nil
}

func (t *fakeTx) commit() {
	t.w.mu.Lock()
	defer t.w.mu.Unlock()
	t.w.effects = append(t.w.effects, t.pending...)
}

type fakeStore struct{ t *fakeTx }

func (s fakeStore) Find(_ context.Context, k Key) (Record, error) {
	s.t.w.mu.Lock()
	defer s.t.w.mu.Unlock()
	s.t.w.finds++
	rec, ok := s.t.w.records[k]
	if !ok {
		return Record{}, apperr.ErrNotFound
	}
	return rec, nil
}

func (s fakeStore) Insert(_ context.Context, rec Record) (bool, error) {
	s.t.w.mu.Lock()
	defer s.t.w.mu.Unlock()
	if s.t.w.insertErr != nil {
		return false, s.t.w.insertErr
	}
	if _, ok := s.t.w.records[rec.Key]; ok {
		return false, nil
	}
	s.t.w.records[rec.Key] = rec
	return true, nil
}

func createTransaction(tx *fakeTx, id string) func(context.Context) (Response, error) {
	return func(context.Context) (Response, error) {
		tx.pending = append(tx.pending, "transaction:"+id)
		return JSON(http.StatusCreated, map[string]string{"id": id})
	}
}

func TestGuardConcurrentCallersProduceOneEffect(t *testing.T) {
	const callers = 10
	w := newWorld()
	g := NewGuard()
	key := Key{PrincipalID: "p-1", Token: fmt.Sprintf("stress_test_%d", time.Now().UnixNano())}

	var ready sync.WaitGroup
	ready.Add(callers)
	results := make([]Result, callers)
	errs := make([]error, callers)

	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tx := &fakeTx{w: w}
			inner := createTransaction(tx, fmt.Sprintf("T%d", i))
			results[i], errs[i] = g.Do(context.Background(), tx, key, "hash", func(ctx context.Context) (Response, error) {
				// Every caller has passed the initial lookup before anyone inserts.
				ready.Done()
				ready.Wait()
				return inner(ctx)
			})
			if errs[i] == nil {
				tx.commit()
			}
		}(i)
	}
	wg.Wait()

	executed := 0
	for i := 0; i < callers; i++ {
		if errs[i] != nil {
			t.Fatalf("caller %d failed: %v", i, errs[i])
		}
		if !results[i].Replayed {
			executed++
		}
		if results[i].StatusCode != http.StatusCreated {
			t.Fatalf("caller %d got status %d", i, results[i].StatusCode)
		}
		if string(results[i].Body) != string(results[0].Body) {
			t.Fatalf("payloads differ: %s vs %s", results[i].Body, results[0].Body)
		}
	}
	if executed != 1 {
		t.Fatalf("expected exactly one executed caller, got %d", executed)
	}
	if len(w.effects) != 1 {
		t.Fatalf("expected exactly one durable effect, got %v", w.effects)
	}
}

func TestGuardReturnsStoredRecordWithoutCallingFn(t *testing.T) {
	w := newWorld()
	key := Key{PrincipalID: "p-1", Token: "retry-1"}
	w.records[key] = Record{Key: key, RequestHash: "h", StatusCode: 201, Response: []byte(`{"id":"T0"}`)}

	called := false
	res, err := NewGuard().Do(context.Background(), &fakeTx{w: w}, key, "h", func(context.Context) (Response, error) {
		called = true
		return Response{}, nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if called {
		t.Fatal("fn must not run when a record exists")
	}
	if !res.Replayed || string(res.Body) != `{"id":"T0"}` || res.StatusCode != 201 {
		t.Fatalf("unexpected replay %+v", res)
	}
}

func TestGuardRejectsReusedTokenWithDifferentRequest(t *testing.T) {
	w := newWorld()
	key := Key{PrincipalID: "p-1", Token: "retry-2"}
	w.records[key] = Record{Key: key, RequestHash: "original", StatusCode: 201, Response: []byte(`{}`)}
	_, err := NewGuard().Do(context.Background(), &fakeTx{w: w}, key, "different", func(context.Context) (Response, error) {
		return Response{}, nil
	})
	if !errors.Is(err, ErrTokenReused) || !errors.Is(err, apperr.ErrInvalidInput) {
		t.Fatalf("expected ErrTokenReused, got %v", err)
	}
}

func TestGuardFnErrorLeavesNoRecord(t *testing.T) {
	w := newWorld()
	tx := &fakeTx{w: w}
	key := Key{PrincipalID: "p-1", Token: "fails"}
	boom := errors.New("boom")
	_, err := NewGuard().Do(context.Background(), tx, key, "", func(context.Context) (Response, error) {
		tx.pending = append(tx.pending, "partial")
		return Response{}, boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected fn error, got %v", err)
	}
	if len(w.records) != 0 || len(tx.pending) != 0 {
		t.Fatalf("expected no record and rolled back effects, got %v %v", w.records, tx.pending)
	}
}

func TestGuardConstraintLoserReplaysWinner(t *testing.T) {
	w := newWorld()
	key := Key{PrincipalID: "p-1", Token: "invite-ada"}
	winnerTx := &fakeTx{w: w}
	loserTx := &fakeTx{w: w}
	g := NewGuard()

	// The loser passes its lookup, then the winner commits, then the loser's
	// create trips the unique constraint the winner's row now holds.
	res, err := g.Do(context.Background(), loserTx, key, "h", func(ctx context.Context) (Response, error) {
		won, err := g.Do(ctx, winnerTx, key, "h", createTransaction(winnerTx, "I1"))
		if err != nil || won.Replayed {
			t.Fatalf("winner: %+v %v", won, err)
		}
		winnerTx.commit()
		loserTx.pending = append(loserTx.pending, "invitation:I2")
		return Response{}, fmt.Errorf("%w: resource already exists", apperr.ErrConflict)
	})
	if err != nil {
		t.Fatalf("loser got %v, want the winner's response", err)
	}
	if !res.Replayed || res.StatusCode != http.StatusCreated || string(res.Body) != `{"id":"I1"}` {
		t.Fatalf("loser result %+v", res)
	}
	if len(loserTx.pending) != 0 {
		t.Fatalf("loser effects survived: %v", loserTx.pending)
	}

	// Without a committed record the conflict stands.
	_, err = g.Do(context.Background(), &fakeTx{w: newWorld()}, key, "h2", func(context.Context) (Response, error) {
		return Response{}, apperr.ErrConflict
	})
	if !errors.Is(err, apperr.ErrConflict) {
		t.Fatalf("no winner: expected the original conflict, got %v", err)
	}

	// A different request under the same token is still rejected.
	_, err = g.Do(context.Background(), &fakeTx{w: w}, key, "different", func(context.Context) (Response, error) {
		return Response{}, nil
	})
	if !errors.Is(err, ErrTokenReused) {
		t.Fatalf("expected ErrTokenReused, got %v", err)
	}
}

func TestGuardInsertFailureReportsRollbackError(t *testing.T) {
	w := newWorld()
	w.insertErr = errors.New("connection reset")
	rbErr := errors.New("savepoint gone")
	tx := &fakeTx{w: w, rollbackErr: rbErr}
	_, err := NewGuard().Do(context.Background(), tx, Key{PrincipalID: "p-1", Token: "t-1"}, "", createTransaction(tx, "T1"))
	if !errors.Is(err, w.insertErr) || !errors.Is(err, rbErr) {
		t.Fatalf("expected both insert and rollback errors, got %v", err)
	}
}

func TestGuardPassthroughAndValidation(t *testing.T) {
	w := newWorld()
	tx := &fakeTx{w: w}
	res, err := NewGuard().Do(context.Background(), tx, Key{PrincipalID: "p-1"}, "", createTransaction(tx, "T9"))
	if err != nil || res.Replayed || res.StatusCode != http.StatusCreated {
		t.Fatalf("unexpected passthrough %+v %v", res, err)
	}
	if len(w.records) != 0 {
		t.Fatal("passthrough must not store a record")
	}

	for _, token := range []string{strings.Repeat("x", MaxTokenLength+1), "has space", "tab\tkey"} {
		_, err := NewGuard().Do(context.Background(), tx, Key{PrincipalID: "p-1", Token: token}, "", createTransaction(tx, "T"))
		if !errors.Is(err, apperr.ErrInvalidInput) {
			t.Fatalf("token %q: expected validation error, got %v", token, err)
		}
	}
	if _, err := NewGuard().Do(context.Background(), tx, Key{Token: "ok"}, "", createTransaction(tx, "T")); !errors.Is(err, apperr.ErrUnauthenticated) {
		t.Fatalf("expected principal requirement, got %v", err)
	}
}

func TestGuardCacheServesCommittedReplays(t *testing.T) {
	w := newWorld()
	key := Key{PrincipalID: "p-1", Token: "cached"}
	w.records[key] = Record{Key: key, StatusCode: 201, Response: []byte(`{"id":"T1"}`)}
	g := NewGuard(WithCache(cache.NewMemory()), WithRetention(time.Hour))
	if g.Retention() != time.Hour {
		t.Fatalf("unexpected retention %v", g.Retention())
	}

	noop := func(context.Context) (Response, error) { return Response{}, nil }
	if _, err := g.Do(context.Background(), &fakeTx{w: w}, key, "", noop); err != nil {
		t.Fatal(err)
	}
	findsAfterFirst := w.finds
	res, err := g.Do(context.Background(), &fakeTx{w: w}, key, "", noop)
	if err != nil {
		t.Fatal(err)
	}
	if w.finds != findsAfterFirst {
		t.Fatal("second replay should be served from the cache")
	}
	if !res.Replayed || string(res.Body) != `{"id":"T1"}` {
		t.Fatalf("unexpected cached replay %+v", res)
	}

	// A fresh execution is not cached until it is read back.
	fresh := Key{PrincipalID: "p-1", Token: "fresh"}
	tx := &fakeTx{w: w}
	if _, err := g.Do(context.Background(), tx, fresh, "", createTransaction(tx, "T2")); err != nil {
		t.Fatal(err)
	}
	if _, ok := g.cached(context.Background(), fresh); ok {
		t.Fatal("uncommitted result must not be cached")
	}
}

func TestFingerprint(t *testing.T) {
	a := httptest.NewRequest(http.MethodPost, "/v1/transactions", nil)
	b := httptest.NewRequest(http.MethodPost, "/v1/invitations", nil)
	if Fingerprint(a, []byte(`{}`)) == Fingerprint(b, []byte(`{}`)) {
		t.Fatal("different paths must fingerprint differently")
	}
	if Fingerprint(a, []byte(`{"a":1}`)) != Fingerprint(a, []byte(`{"a":1}`)) {
		t.Fatal("fingerprint must be deterministic")
	}
}

package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/benjaminmugangu/NEW-VERSION-AYLF-APP-sub003/internal/activity"
	"github.com/benjaminmugangu/NEW-VERSION-AYLF-APP-sub003/internal/apperr"
	"github.com/benjaminmugangu/NEW-VERSION-AYLF-APP-sub003/internal/audit"
	"github.com/benjaminmugangu/NEW-VERSION-AYLF-APP-sub003/internal/auth"
	"github.com/benjaminmugangu/NEW-VERSION-AYLF-APP-sub003/internal/finance"
	"github.com/benjaminmugangu/NEW-VERSION-AYLF-APP-sub003/internal/idempotency"
	"github.com/benjaminmugangu/NEW-VERSION-AYLF-APP-sub003/internal/invite"
	"github.com/benjaminmugangu/NEW-VERSION-AYLF-APP-sub003/internal/obs"
	"github.com/benjaminmugangu/NEW-VERSION-AYLF-APP-sub003/internal/org"
	"github.com/benjaminmugangu/NEW-VERSION-AYLF-APP-sub003/internal/profile"
	"github.com/benjaminmugangu/NEW-VERSION-AYLF-APP-sub003/internal/report"
	"github.com/benjaminmugangu/NEW-VERSION-AYLF-APP-sub003/internal/store"
)

var (
	// ErrNoPrincipal rejects a scoped session requested without an identity.
	ErrNoPrincipal = fmt.Errorf("pg: scoped session needs a principal: %w", apperr.ErrUnauthenticated)
	// ErrContextNotEstablished means the principal could not be bound, so no
	// statement of the unit of work was run.
	ErrContextNotEstablished = errors.New("pg: session context not established")
	// ErrSessionClosed is returned when a Tx is used after its unit of work ended.
	ErrSessionClosed = errors.New("pg: session closed")
)

// Both settings are transaction local: they vanish at commit or rollback, so
// a pooled connection never carries one request's identity into the next.
const bindPrincipalSQL = `select set_config('app.principal_id', $1, true), set_config('app.principal_email', $2, true)`

var _ store.Sessions = (*DB)(nil)

// WithPrincipal runs fn in a transaction bound to p. Each call gets its own
// transaction, so concurrent callers never observe each other's identity.
func (d *DB) WithPrincipal(ctx context.Context, p auth.Principal, fn func(ctx context.Context, tx store.Tx) error) error {
	if strings.TrimSpace(p.ID) == "" {
		return ErrNoPrincipal
	}
	return d.run(ctx, p.ID, strings.ToLower(strings.TrimSpace(p.Email)), fn)
}

// WithoutPrincipal binds empty settings. Policies then match nothing and only
// the app.* maintenance functions do useful work.
func (d *DB) WithoutPrincipal(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	return d.run(ctx, "", "", fn)
}

func (d *DB) run(ctx context.Context, principalID, email string, fn func(context.Context, store.Tx) error) (err error) {
	if err := ctx.Err(); err != nil {
		obs.ObserveSession("setup_failed")
		return err
	}
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		obs.ObserveSession("setup_failed")
		return fmt.Errorf("%w: begin: %v", ErrContextNotEstablished, err)
	}
	if _, err := tx.ExecContext(ctx, bindPrincipalSQL, principalID, email); err != nil {
		_ = tx.Rollback()
		obs.ObserveSession("setup_failed")
		return fmt.Errorf("%w: %v", ErrContextNotEstablished, err)
	}

	st := &scopedTx{tx: tx}
	defer func() {
		if r := recover(); r != nil {
			st.close()
			_ = tx.Rollback()
			obs.ObserveSession("rollback")
			panic(r)
		}
	}()

	err = fn(ctx, st)
	st.close()
	if err == nil {
		err = ctx.Err()
	}
	if err != nil {
		_ = tx.Rollback()
		obs.ObserveSession("rollback")
		return err
	}
	if err := tx.Commit(); err != nil {
		obs.ObserveSession("rollback")
		return mapError(err)
	}
	obs.ObserveSession("commit")
	return nil
}

// scopedTx serialises statements on the underlying transaction. A Tx shared
// between goroutines is safe; one used after its unit of work is not.
type scopedTx struct {
	mu         sync.Mutex
	tx         *sql.Tx
	closed     bool
	savepoints int
}

var _ store.Tx = (*scopedTx)(nil)

func (s *scopedTx) close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}

func (s *scopedTx) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrSessionClosed
	}
	res, err := s.tx.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, mapError(err)
	}
	return res, nil
}

// queryRow scans a single row. sql.ErrNoRows becomes apperr.ErrNotFound.
func (s *scopedTx) queryRow(ctx context.Context, query string, args []any, dest ...any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	return mapError(s.tx.QueryRowContext(ctx, query, args...).Scan(dest...))
}

// query holds the statement lock until every row has been consumed.
func (s *scopedTx) query(ctx context.Context, query string, args []any, each func(*sql.Rows) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	rows, err := s.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return mapError(err)
	}
	defer rows.Close()
	for rows.Next() {
		if err := each(rows); err != nil {
			return err
		}
	}
	return mapError(rows.Err())
}

// Savepoint opens a uniquely named savepoint and returns its release and
// rollback actions.
func (s *scopedTx) Savepoint(ctx context.Context, name string) (release, rollback func(context.Context) error, err error) {
	if !isIdent(name) {
		return nil, nil, fmt.Errorf("pg: invalid savepoint name %q", name)
	}
	s.mu.Lock()
	s.savepoints++
	sp := fmt.Sprintf("%s_%d", name, s.savepoints)
	s.mu.Unlock()

	if _, err := s.exec(ctx, "savepoint "+sp); err != nil {
		return nil, nil, err
	}
	release = func(ctx context.Context) error {
		_, err := s.exec(ctx, "release savepoint "+sp)
		return err
	}
	rollback = func(ctx context.Context) error {
		_, err := s.exec(ctx, "rollback to savepoint "+sp)
		return err
	}
	return release, rollback, nil
}

func (s *scopedTx) Profiles() profile.Store { return profiles{s} }
func (s *scopedTx) Org() org.Store { return orgs{s} }
func (s *scopedTx) Activities() activity.Store { return activities{s} }
func (s *scopedTx) Reports() report.Store { return reports{s} }
func (s *scopedTx) Transactions() finance.Store { return transactions{s} }
func (s *scopedTx) Invitations() invite.Store { return invitations{s} }
func (s *scopedTx) Audit() audit.Store { return auditLog{s} }
func (s *scopedTx) Idempotency() idempotency.Store { return idempotencyKeys{s} }
func (s *scopedTx) Maintenance() store.Maintenance { return maintenance{s} }

func isIdent(s string) bool {
	if s == "" || len(s) > 48 {
		return false
	}
	for i, r := range s {
		switch {
		case r == '_' || (r >= 'a' && r <= 'z'):
		case r >= '0' && r <= '9' && i > 0:
		default:
			return false
		}
	}
	return true
}

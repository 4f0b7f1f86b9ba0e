package pg

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/benjaminmugangu/NEW-VERSION-AYLF-APP-sub003/internal/apperr"
	"github.com/benjaminmugangu/NEW-VERSION-AYLF-APP-sub003/internal/auth"
	"github.com/benjaminmugangu/NEW-VERSION-AYLF-APP-sub003/internal/idempotency"
	"github.com/benjaminmugangu/NEW-VERSION-AYLF-APP-sub003/internal/store"
)

var testPrincipal = auth.Principal{
	ID:    "5b7c1f8e-4d6a-4c21-9a0e-2f1d3c4b5a69",
	Email: "Leader@Example.org",
	Name:  "Leader",
}

var bindRe = regexp.QuoteMeta("set_config('app.principal_id', $1, true)")

func newMock(t *testing.T) (*DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return New(db), mock
}

func profileRow(id string) *sqlmock.Rows {
	now := time.Now().UTC()
	return sqlmock.NewRows([]string{"id", "email", "name", "role", "site_id", "small_group_id", "status", "created_at", "updated_at"}).
		AddRow(id, "leader@example.org", "Leader", "small_group_leader", "S1", "G1", "active", now, now)
}

func TestWithPrincipalBindsBeforeFirstStatement(t *testing.T) {
	db, mock := newMock(t)

	mock.ExpectBegin()
	mock.ExpectExec(bindRe).WithArgs(testPrincipal.ID, "leader@example.org").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("from profiles where id = app.current_principal_id()")).
		WillReturnRows(profileRow(testPrincipal.ID))
	mock.ExpectCommit()

	err := db.WithPrincipal(context.Background(), testPrincipal, func(ctx context.Context, tx store.Tx) error {
		p, err := tx.Profiles().Self(ctx)
		if err != nil {
			return err
		}
		if p.ID != testPrincipal.ID || p.SmallGroupID != "G1" {
			t.Fatalf("unexpected profile %+v", p)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("WithPrincipal: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestWithPrincipalRejectsEmptyPrincipal(t *testing.T) {
	db, mock := newMock(t)

	called := false
	err := db.WithPrincipal(context.Background(), auth.Principal{Email: "x@example.org"}, func(context.Context, store.Tx) error {
		called = true
		return nil
	})
	if !errors.Is(err, ErrNoPrincipal) || apperr.KindOf(err) != apperr.KindUnauthenticated {
		t.Fatalf("expected ErrNoPrincipal, got %v", err)
	}
	if called {
		t.Fatal("fn ran without a principal")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("no statements expected: %v", err)
	}
}

func TestSetupFailureRunsNothing(t *testing.T) {
	db, mock := newMock(t)

	mock.ExpectBegin()
	mock.ExpectExec(bindRe).WillReturnError(errors.New("connection reset"))
	mock.ExpectRollback()

	called := false
	err := db.WithPrincipal(context.Background(), testPrincipal, func(context.Context, store.Tx) error {
		called = true
		return nil
	})
	if !errors.Is(err, ErrContextNotEstablished) {
		t.Fatalf("expected ErrContextNotEstablished, got %v", err)
	}
	if apperr.KindOf(err) != apperr.KindInternal {
		t.Fatalf("setup failure must be internal, got %s", apperr.KindOf(err))
	}
	if called {
		t.Fatal("fn ran although the context was not established")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestErrorRollsBack(t *testing.T) {
	db, mock := newMock(t)

	mock.ExpectBegin()
	mock.ExpectExec(bindRe).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("insert into audit_log").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectRollback()

	boom := errors.New("handler failed")
	err := db.WithPrincipal(context.Background(), testPrincipal, func(ctx context.Context, tx store.Tx) error {
		if _, err := tx.(*scopedTx).exec(ctx, "insert into audit_log default values"); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected handler error, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestPanicRollsBackAndRepanics(t *testing.T) {
	db, mock := newMock(t)

	mock.ExpectBegin()
	mock.ExpectExec(bindRe).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	defer func() {
		if r := recover(); r == nil {
			t.Fatal("expected panic to propagate")
		}
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Fatalf("expectations: %v", err)
		}
	}()
	_ = db.WithPrincipal(context.Background(), testPrincipal, func(context.Context, store.Tx) error {
		panic("boom")
	})
}

func TestCancelledContextDoesNotCommit(t *testing.T) {
	db, mock := newMock(t)

	mock.ExpectBegin()
	mock.ExpectExec(bindRe).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	ctx, cancel := context.WithCancel(context.Background())
	err := db.WithPrincipal(ctx, testPrincipal, func(context.Context, store.Tx) error {
		cancel()
		return nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestTxUnusableAfterSession(t *testing.T) {
	db, mock := newMock(t)

	mock.ExpectBegin()
	mock.ExpectExec(bindRe).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	var leaked store.Tx
	if err := db.WithPrincipal(context.Background(), testPrincipal, func(_ context.Context, tx store.Tx) error {
		leaked = tx
		return nil
	}); err != nil {
		t.Fatalf("WithPrincipal: %v", err)
	}
	if _, err := leaked.Profiles().Self(context.Background()); !errors.Is(err, ErrSessionClosed) {
		t.Fatalf("expected ErrSessionClosed, got %v", err)
	}
	if _, _, err := leaked.Savepoint(context.Background(), "late"); !errors.Is(err, ErrSessionClosed) {
		t.Fatalf("expected ErrSessionClosed from savepoint, got %v", err)
	}
}

func TestWithoutPrincipalBindsEmptySettings(t *testing.T) {
	db, mock := newMock(t)

	mock.ExpectBegin()
	mock.ExpectExec(bindRe).WithArgs("", "").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("select app.purge_idempotency_keys($1::interval)")).
		WithArgs("604800 seconds").
		WillReturnRows(sqlmock.NewRows([]string{"n"}).AddRow(int64(3)))
	mock.ExpectCommit()

	var purged int64
	err := db.WithoutPrincipal(context.Background(), func(ctx context.Context, tx store.Tx) error {
		n, err := tx.Maintenance().PurgeIdempotency(ctx, idempotency.DefaultRetention)
		purged = n
		return err
	})
	if err != nil {
		t.Fatalf("WithoutPrincipal: %v", err)
	}
	if purged != 3 {
		t.Fatalf("purged %d", purged)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestSavepointNames(t *testing.T) {
	db, mock := newMock(t)

	mock.ExpectBegin()
	mock.ExpectExec(bindRe).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("savepoint guard_1").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("savepoint guard_2").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("rollback to savepoint guard_2").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("release savepoint guard_1").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	err := db.WithPrincipal(context.Background(), testPrincipal, func(ctx context.Context, tx store.Tx) error {
		if _, _, err := tx.Savepoint(ctx, "bad name;"); err == nil {
			t.Fatal("expected invalid savepoint name to be rejected")
		}
		release1, _, err := tx.Savepoint(ctx, "guard")
		if err != nil {
			return err
		}
		_, rollback2, err := tx.Savepoint(ctx, "guard")
		if err != nil {
			return err
		}
		if err := rollback2(ctx); err != nil {
			return err
		}
		return release1(ctx)
	})
	if err != nil {
		t.Fatalf("WithPrincipal: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestGuardRunsInsideSession(t *testing.T) {
	db, mock := newMock(t)
	key := idempotency.Key{PrincipalID: testPrincipal.ID, Token: "tok-1"}

	mock.ExpectBegin()
	mock.ExpectExec(bindRe).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("from idempotency_keys").WithArgs(key.PrincipalID, key.Token).WillReturnError(sql.ErrNoRows)
	mock.ExpectExec("savepoint idempotency_guard_1").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("insert into idempotency_keys").
		WithArgs(key.PrincipalID, key.Token, "h1", 201, `{"id":"a"}`).
		WillReturnRows(sqlmock.NewRows([]string{"created_at"}).AddRow(time.Now()))
	mock.ExpectExec("release savepoint idempotency_guard_1").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	guard := idempotency.NewGuard()
	var res idempotency.Result
	err := db.WithPrincipal(context.Background(), testPrincipal, func(ctx context.Context, tx store.Tx) error {
		var err error
		res, err = guard.Do(ctx, tx, key, "h1", func(context.Context) (idempotency.Response, error) {
			return idempotency.JSON(201, map[string]string{"id": "a"})
		})
		return err
	})
	if err != nil {
		t.Fatalf("guarded session: %v", err)
	}
	if res.Replayed || res.StatusCode != 201 {
		t.Fatalf("unexpected result %+v", res)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestGuardLosingRaceRollsBackToSavepoint(t *testing.T) {
	db, mock := newMock(t)
	key := idempotency.Key{PrincipalID: testPrincipal.ID, Token: "tok-2"}
	cols := []string{"request_hash", "status_code", "response", "created_at"}

	mock.ExpectBegin()
	mock.ExpectExec(bindRe).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("from idempotency_keys").WillReturnError(sql.ErrNoRows)
	mock.ExpectExec("savepoint idempotency_guard_1").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("insert into activities").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectQuery("insert into idempotency_keys").WillReturnRows(sqlmock.NewRows([]string{"created_at"}))
	mock.ExpectExec("rollback to savepoint idempotency_guard_1").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("from idempotency_keys").
		WillReturnRows(sqlmock.NewRows(cols).AddRow("h1", 201, []byte(`{"id":"winner"}`), time.Now()))
	mock.ExpectCommit()

	var res idempotency.Result
	err := db.WithPrincipal(context.Background(), testPrincipal, func(ctx context.Context, tx store.Tx) error {
		var err error
		res, err = idempotency.NewGuard().Do(ctx, tx, key, "h1", func(ctx context.Context) (idempotency.Response, error) {
			if _, err := tx.(*scopedTx).exec(ctx, "insert into activities default values"); err != nil {
				return idempotency.Response{}, err
			}
			return idempotency.JSON(201, map[string]string{"id": "loser"})
		})
		return err
	})
	if err != nil {
		t.Fatalf("guarded session: %v", err)
	}
	if !res.Replayed || string(res.Body) != `{"id":"winner"}` {
		t.Fatalf("expected the winner's response, got %+v", res)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestMapErrorTaxonomy(t *testing.T) {
	cases := []struct {
		code  string
		where string
		kind  apperr.Kind
	}{
		{pgErrInsufficientPrivilege, "", apperr.KindForbidden},
		{pgErrUniqueViolation, "", apperr.KindConflict},
		{pgErrForeignKeyViolation, "", apperr.KindConflict},
		{pgErrCheckViolation, "", apperr.KindValidation},
		{pgErrInvalidParameter, "PL/pgSQL function app.accept_invitation(text,text) line 20 at RAISE", apperr.KindValidation},
		{pgErrNoDataFound, "", apperr.KindNotFound},
		{"XX000", "", apperr.KindInternal},
	}
	for _, tc := range cases {
		err := mapError(&pgconn.PgError{Code: tc.code, Message: "invitation is no longer valid", Where: tc.where})
		if got := apperr.KindOf(err); got != tc.kind {
			t.Fatalf("%s: expected %s, got %s", tc.code, tc.kind, got)
		}
	}

	err := mapError(&pgconn.PgError{Code: pgErrUniqueViolation, Message: `duplicate key value violates unique constraint "sites_name_key"`})
	if strings.Contains(err.Error(), "sites_name_key") {
		t.Fatalf("server message leaked: %v", err)
	}
	raised := mapError(&pgconn.PgError{Code: pgErrInvalidParameter, Message: "invitation is no longer valid",
		Where: "PL/pgSQL function app.accept_invitation(text,text) line 20 at RAISE"})
	if !strings.Contains(raised.Error(), "invitation is no longer valid") {
		t.Fatalf("function message dropped: %v", raised)
	}
	nested := mapError(&pgconn.PgError{Code: pgErrUniqueViolation,
		Message: `duplicate key value violates unique constraint "profiles_email_key"`,
		Where:   "SQL statement \"insert into profiles (id, email, name) values (app.current_principal_id(), $1, $2)\"\nPL/pgSQL function app.ensure_profile(text) line 9 at SQL statement"})
	if apperr.KindOf(nested) != apperr.KindConflict || strings.Contains(nested.Error(), "profiles_email_key") {
		t.Fatalf("statement inside an app function leaked its message: %v", nested)
	}
	if !errors.Is(mapError(sql.ErrNoRows), apperr.ErrNotFound) {
		t.Fatal("ErrNoRows must map to not found")
	}
}

func TestCheckRole(t *testing.T) {
	tables := []string{"profiles", "sites"}
	cases := []struct {
		name          string
		super, bypass bool
		owned         string
		wantErr       bool
	}{
		{"plain", false, false, "", false},
		{"superuser", true, false, "", true},
		{"bypassrls", false, true, "", true},
		{"owner", false, false, "profiles", true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			db, mock := newMock(t)
			mock.ExpectQuery("from pg_roles").WithArgs("profiles,sites").
				WillReturnRows(sqlmock.NewRows([]string{"rolsuper", "rolbypassrls", "owned"}).AddRow(tc.super, tc.bypass, tc.owned))
			err := db.CheckRole(context.Background(), tables)
			if tc.wantErr != errors.Is(err, ErrPrivilegedRole) {
				t.Fatalf("wantErr=%v got %v", tc.wantErr, err)
			}
		})
	}
}

func TestRevokeNonPendingIsConflict(t *testing.T) {
	db, mock := newMock(t)

	mock.ExpectBegin()
	mock.ExpectExec(bindRe).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("update invitations set status = 'revoked'").WithArgs("INV1").WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery("select status from invitations").WithArgs("INV1").
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("accepted"))
	mock.ExpectRollback()

	err := db.WithPrincipal(context.Background(), testPrincipal, func(ctx context.Context, tx store.Tx) error {
		_, err := tx.Invitations().Revoke(ctx, "INV1")
		return err
	})
	if apperr.KindOf(err) != apperr.KindConflict {
		t.Fatalf("expected conflict, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestDependentsCountsByEntity(t *testing.T) {
	db, mock := newMock(t)
	target := "0d9f3c1a-6f3e-4b1c-8a55-3f2b1c0d9e8f"

	mock.ExpectBegin()
	mock.ExpectExec(bindRe).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("app.profile_dependents($1)")).WithArgs(target).
		WillReturnRows(sqlmock.NewRows([]string{"entity_type", "n"}).
			AddRow("report", int64(2)).AddRow("activity", int64(0)).AddRow("transaction", int64(1)))
	mock.ExpectCommit()

	var counts map[string]int
	err := db.WithPrincipal(context.Background(), testPrincipal, func(ctx context.Context, tx store.Tx) error {
		var err error
		counts, err = tx.Profiles().Dependents(ctx, target)
		return err
	})
	if err != nil {
		t.Fatalf("Dependents: %v", err)
	}
	if counts["report"] != 2 || counts["transaction"] != 1 || counts["activity"] != 0 {
		t.Fatalf("unexpected counts %v", counts)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

// Package pg implements the scoped data sessions on PostgreSQL. Every unit of
// work runs in a transaction with the principal bound through transaction
// local settings, and row level security decides what each statement sees.
package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// ErrPrivilegedRole is returned by CheckRole when the connection could bypass
// row level security.
var ErrPrivilegedRole = errors.New("pg: connection role bypasses row level security")

// PoolConfig tunes the database/sql pool.
type PoolConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

type DB struct {
	db *sql.DB
}

// Open connects with the pgx driver. Zero pool fields keep the defaults below.
func Open(dsn string, pool PoolConfig) (*DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(orInt(pool.MaxOpenConns, 50))
	db.SetMaxIdleConns(orInt(pool.MaxIdleConns, 25))
	db.SetConnMaxLifetime(orDuration(pool.ConnMaxLifetime, 15*time.Minute))
	db.SetConnMaxIdleTime(orDuration(pool.ConnMaxIdleTime, 5*time.Minute))
	return &DB{db: db}, nil
}

// New wraps an existing handle, e.g. one from sqlmock.
func New(db *sql.DB) *DB { return &DB{db: db} }

func (d *DB) Close() error { return d.db.Close() }

func (d *DB) SQL() *sql.DB { return d.db }

// Ping is the readiness probe.
func (d *DB) Ping(ctx context.Context) error { return d.db.PingContext(ctx) }

const roleCheckSQL = `
	select r.rolsuper,
	       r.rolbypassrls,
	       coalesce((
	           select string_agg(t.tablename, ',' order by t.tablename)
	             from pg_tables t
	            where t.schemaname = current_schema()
	              and t.tablename = any (string_to_array($1, ','))
	              and pg_has_role(current_user, t.tableowner, 'MEMBER')
	       ), '')
	  from pg_roles r
	 where r.rolname = current_user`

// CheckRole refuses connections whose role is a superuser, has BYPASSRLS, or
// owns (directly or through membership) any of tables. Policies are not
// forced, so each of those would see every row.
func (d *DB) CheckRole(ctx context.Context, tables []string) error {
	var (
		super, bypass bool
		owned         string
	)
	err := d.db.QueryRowContext(ctx, roleCheckSQL, strings.Join(tables, ",")).Scan(&super, &bypass, &owned)
	if err != nil {
		return fmt.Errorf("pg: inspect connection role: %w", err)
	}
	switch {
	case super:
		return fmt.Errorf("%w: role is a superuser", ErrPrivilegedRole)
	case bypass:
		return fmt.Errorf("%w: role has BYPASSRLS", ErrPrivilegedRole)
	case owned != "":
		return fmt.Errorf("%w: role owns %s", ErrPrivilegedRole, owned)
	}
	return nil
}

func orInt(v, def int) int {
	if v > 0 {
		return v
	}
	return def
}

func orDuration(v, def time.Duration) time.Duration {
	if v > 0 {
		return v
	}
	return def
}

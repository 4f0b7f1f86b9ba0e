package migrate

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"
	"time"
)

const (
	defaultMigrationsTable = "schema_migrations"
	defaultSeedsTable      = "schema_seeds"

	migrationsDir = "sql"
	seedsDir      = "seeds"
)

//go:embed sql/*.sql seeds/*.sql
var embedded embed.FS

// Files returns the migrations and seeds compiled into the binary.
func Files() fs.FS { return embedded }

// ErrNoMigrations is returned by Down when nothing has been applied.
var ErrNoMigrations = errors.New("no migrations applied")

// Manager executes SQL migrations and seed files from an fs.FS laid out as
// sql/NNNN_name.{up,down}.sql and seeds/NNNN_name.sql.
type Manager struct {
	db              *sql.DB
	files           fs.FS
	migrationsTable string
	seedsTable      string
	now             func() time.Time
}

// Option configures Manager.
type Option func(*Manager)

// WithMigrationsTable overrides the default migrations bookkeeping table.
func WithMigrationsTable(name string) Option {
	return func(m *Manager) {
		if name != "" {
			m.migrationsTable = name
		}
	}
}

// WithSeedsTable overrides the default seeds bookkeeping table.
func WithSeedsTable(name string) Option {
	return func(m *Manager) {
		if name != "" {
			m.seedsTable = name
		}
	}
}

// WithFiles replaces the embedded migrations, e.g. with os.DirFS.
func WithFiles(files fs.FS) Option {
	return func(m *Manager) {
		if files != nil {
			m.files = files
		}
	}
}

// NewManager constructs a Manager over the embedded files unless WithFiles is given.
func NewManager(db *sql.DB, opts ...Option) *Manager {
	m := &Manager{
		db:              db,
		files:           embedded,
		migrationsTable: defaultMigrationsTable,
		seedsTable:      defaultSeedsTable,
		now:             time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Up applies all pending migrations and returns the names applied.
func (m *Manager) Up(ctx context.Context) ([]string, error) {
	if err := m.ensureTables(ctx); err != nil {
		return nil, err
	}
	executed, err := m.listExecuted(ctx, m.migrationsTable)
	if err != nil {
		return nil, err
	}
	files, err := collectSQL(m.files, migrationsDir, ".up.sql")
	if err != nil {
		return nil, err
	}
	var applied []string
	for _, mig := range files {
		if executed[mig.Base] {
			continue
		}
		if err := m.execFile(ctx, mig.Path, m.migrationsTable, mig.Base); err != nil {
			return applied, fmt.Errorf("apply migration %s: %w", mig.Base, err)
		}
		applied = append(applied, mig.Base)
	}
	return applied, nil
}

// Down rolls back the most recent applied migration and returns its name.
func (m *Manager) Down(ctx context.Context) (string, error) {
	if err := m.ensureTables(ctx); err != nil {
		return "", err
	}
	executed, err := m.history(ctx, m.migrationsTable)
	if err != nil {
		return "", err
	}
	if len(executed) == 0 {
		return "", ErrNoMigrations
	}
	last := executed[len(executed)-1]
	downPath := path.Join(migrationsDir, strings.TrimSuffix(last, ".up.sql")+".down.sql")
	body, err := fs.ReadFile(m.files, downPath)
	if err != nil {
		return "", fmt.Errorf("missing down migration for %s", last)
	}
	forget := fmt.Sprintf(`delete from %s where name = $1`, m.migrationsTable)
	err = m.inTx(ctx, func(tx *sql.Tx) error {
		if err := execStatements(ctx, tx, splitStatements(string(body))); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, forget, last)
		return err
	})
	if err != nil {
		return "", fmt.Errorf("rollback migration %s: %w", last, err)
	}
	return last, nil
}

// Status returns ordered applied migrations.
func (m *Manager) Status(ctx context.Context) ([]string, error) {
	if err := m.ensureTables(ctx); err != nil {
		return nil, err
	}
	return m.history(ctx, m.migrationsTable)
}

// Seed applies seed files idempotently.
func (m *Manager) Seed(ctx context.Context) ([]string, error) {
	if err := m.ensureTables(ctx); err != nil {
		return nil, err
	}
	executed, err := m.listExecuted(ctx, m.seedsTable)
	if err != nil {
		return nil, err
	}
	files, err := collectSQL(m.files, seedsDir, ".sql")
	if err != nil {
		return nil, err
	}
	var applied []string
	for _, seed := range files {
		if executed[seed.Base] {
			continue
		}
		if err := m.execFile(ctx, seed.Path, m.seedsTable, seed.Base); err != nil {
			return applied, fmt.Errorf("apply seed %s: %w", seed.Base, err)
		}
		applied = append(applied, seed.Base)
	}
	return applied, nil
}

// Apply runs generated statements in one transaction without bookkeeping.
// Policy scripts are regenerated on every run, so they are not versioned.
func (m *Manager) Apply(ctx context.Context, name string, statements []string) error {
	if err := m.inTx(ctx, func(tx *sql.Tx) error {
		return execStatements(ctx, tx, statements)
	}); err != nil {
		return fmt.Errorf("apply %s: %w", name, err)
	}
	return nil
}

func (m *Manager) ensureTables(ctx context.Context) error {
	for _, table := range []string{m.migrationsTable, m.seedsTable} {
		ddl := fmt.Sprintf(`
			create table if not exists %s (
				name text primary key,
				applied_at timestamptz not null default now()
			)`, table)
		if _, err := m.db.ExecContext(ctx, ddl); err != nil {
			return err
		}
	}
	return nil
}

// execFile runs a file and records it in the same transaction, so a failed
// migration leaves no partial schema and no bookkeeping row.
func (m *Manager) execFile(ctx context.Context, name, table, base string) error {
	body, err := fs.ReadFile(m.files, name)
	if err != nil {
		return err
	}
	record := fmt.Sprintf(`insert into %s (name, applied_at) values ($1, $2)`, table)
	return m.inTx(ctx, func(tx *sql.Tx) error {
		if err := execStatements(ctx, tx, splitStatements(string(body))); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, record, base, m.now().UTC())
		return err
	})
}

func (m *Manager) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func execStatements(ctx context.Context, tx *sql.Tx, statements []string) error {
	for _, stmt := range statements {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (m *Manager) listExecuted(ctx context.Context, table string) (map[string]bool, error) {
	names, err := m.history(ctx, table)
	if err != nil {
		return nil, err
	}
	result := make(map[string]bool, len(names))
	for _, name := range names {
		result[name] = true
	}
	return result, nil
}

func (m *Manager) history(ctx context.Context, table string) ([]string, error) {
	rows, err := m.db.QueryContext(ctx, fmt.Sprintf(`select name from %s order by applied_at asc, name asc`, table))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		res = append(res, name)
	}
	return res, rows.Err()
}

type sqlFile struct {
	Base string
	Path string
}

func collectSQL(files fs.FS, dir, suffix string) ([]sqlFile, error) {
	entries, err := fs.ReadDir(files, dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var out []sqlFile
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), suffix) {
			continue
		}
		out = append(out, sqlFile{Base: e.Name(), Path: path.Join(dir, e.Name())})
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Base < out[j].Base
	})
	return out, nil
}

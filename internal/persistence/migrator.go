package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sort"
	"strings"

	"github.com/rs/zerolog"
)

// migrationLockKey serializes migrators across processes
// (pg_advisory_lock). Arbitrary but fixed.
const migrationLockKey int64 = 0x464c415348

// migration is one {version}_{name}.up.sql / .down.sql pair.
type migration struct {
	version string
	up      string // file names
	down    string
}

// Migrator applies versioned SQL files. One file pair per version; each file
// runs in its own transaction together with its schema_migrations row.
type Migrator struct {
	db   *sql.DB
	fsys fs.FS
	log  zerolog.Logger
}

// NewMigrator reads migrations from a directory on disk.
func NewMigrator(db *sql.DB, migrationsDir string, log zerolog.Logger) *Migrator {
	return NewMigratorFS(db, os.DirFS(migrationsDir), log)
}

// NewMigratorFS reads migrations from the root of fsys.
func NewMigratorFS(db *sql.DB, fsys fs.FS, log zerolog.Logger) *Migrator {
	return &Migrator{db: db, fsys: fsys, log: log}
}

// Up applies every pending migration in version order.
func (m *Migrator) Up(ctx context.Context) error {
	return m.locked(ctx, func(conn *sql.Conn) error {
		pending, err := m.pending(ctx, conn)
		if err != nil {
			return err
		}
		for _, mig := range pending {
			m.log.Info().Str("file", mig.up).Msg("applying migration")
			err := m.run(ctx, conn, mig.up,
				`INSERT INTO public.schema_migrations (version, filename) VALUES ($1, $2)`,
				mig.version, mig.up)
			if err != nil {
				return err
			}
		}
		if len(pending) == 0 {
			m.log.Debug().Msg("schema up to date")
		}
		return nil
	})
}

// Down rolls back the most recently applied migration.
func (m *Migrator) Down(ctx context.Context) error {
	return m.locked(ctx, func(conn *sql.Conn) error {
		var version string
		err := conn.QueryRowContext(ctx,
			`SELECT version FROM public.schema_migrations ORDER BY version DESC LIMIT 1`,
		).Scan(&version)
		if errors.Is(err, sql.ErrNoRows) {
			m.log.Info().Msg("no migrations to roll back")
			return nil
		}
		if err != nil {
			return fmt.Errorf("latest migration: %w", err)
		}

		all, err := loadMigrations(m.fsys)
		if err != nil {
			return err
		}
		idx := sort.Search(len(all), func(i int) bool { return all[i].version >= version })
		if idx == len(all) || all[idx].version != version {
			return fmt.Errorf("applied migration %s has no files", version)
		}
		mig := all[idx]

		if err := m.run(ctx, conn, mig.down,
			`DELETE FROM public.schema_migrations WHERE version = $1`, version); err != nil {
			return err
		}
		m.log.Info().Str("file", mig.down).Msg("rolled back migration")
		return nil
	})
}

// Pending lists the up files not yet applied, in order.
func (m *Migrator) Pending(ctx context.Context) ([]string, error) {
	conn, err := m.db.Conn(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	if err := ensureMigrationTable(ctx, conn); err != nil {
		return nil, err
	}
	pending, err := m.pending(ctx, conn)
	if err != nil {
		return nil, err
	}
	names := make([]string, len(pending))
	for i, mig := range pending {
		names[i] = mig.up
	}
	return names, nil
}

// locked runs fn on a dedicated connection holding the migration lock.
func (m *Migrator) locked(ctx context.Context, fn func(*sql.Conn) error) error {
	conn, err := m.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("migration conn: %w", err)
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, `SELECT pg_advisory_lock($1)`, migrationLockKey); err != nil {
		return fmt.Errorf("migration lock: %w", err)
	}
	defer conn.ExecContext(context.Background(), `SELECT pg_advisory_unlock($1)`, migrationLockKey)

	if err := ensureMigrationTable(ctx, conn); err != nil {
		return err
	}
	return fn(conn)
}

// run executes file and the bookkeeping statement in one transaction.
func (m *Migrator) run(ctx context.Context, conn *sql.Conn, file, bookkeeping string, args ...any) error {
	content, err := fs.ReadFile(m.fsys, file)
	if err != nil {
		return fmt.Errorf("read %s: %w", file, err)
	}

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin %s: %w", file, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, string(content)); err != nil {
		return fmt.Errorf("exec %s: %w", file, err)
	}
	if _, err := tx.ExecContext(ctx, bookkeeping, args...); err != nil {
		return fmt.Errorf("record %s: %w", file, err)
	}
	return tx.Commit()
}

func (m *Migrator) pending(ctx context.Context, conn *sql.Conn) ([]migration, error) {
	all, err := loadMigrations(m.fsys)
	if err != nil {
		return nil, err
	}

	rows, err := conn.QueryContext(ctx, `SELECT version FROM public.schema_migrations`)
	if err != nil {
		return nil, fmt.Errorf("applied versions: %w", err)
	}
	defer rows.Close()

	applied := make(map[string]bool)
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		applied[v] = true
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var out []migration
	for _, mig := range all {
		if !applied[mig.version] {
			out = append(out, mig)
		}
	}
	return out, nil
}

func ensureMigrationTable(ctx context.Context, conn *sql.Conn) error {
	_, err := conn.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS public.schema_migrations (
			version    TEXT PRIMARY KEY,
			filename   TEXT NOT NULL,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		return fmt.Errorf("ensure schema_migrations: %w", err)
	}
	return nil
}

// loadMigrations pairs up and down files by version and sorts them. A
// version without both files, or with two files of the same direction, is
// an error.
func loadMigrations(fsys fs.FS) ([]migration, error) {
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return nil, fmt.Errorf("list migrations: %w", err)
	}

	byVersion := make(map[string]*migration)
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".sql") {
			continue
		}
		version, _, ok := strings.Cut(name, "_")
		if !ok || version == "" {
			return nil, fmt.Errorf("migration %s: missing version prefix", name)
		}
		mig := byVersion[version]
		if mig == nil {
			mig = &migration{version: version}
			byVersion[version] = mig
		}

		var slot *string
		switch {
		case strings.HasSuffix(name, ".up.sql"):
			slot = &mig.up
		case strings.HasSuffix(name, ".down.sql"):
			slot = &mig.down
		default:
			return nil, fmt.Errorf("migration %s: want .up.sql or .down.sql", name)
		}
		if *slot != "" {
			return nil, fmt.Errorf("migration %s: duplicate of %s", name, *slot)
		}
		*slot = name
	}

	out := make([]migration, 0, len(byVersion))
	for _, mig := range byVersion {
		if mig.up == "" || mig.down == "" {
			return nil, fmt.Errorf("migration %s: needs both up and down files", mig.version)
		}
		out = append(out, *mig)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].version < out[j].version })
	return out, nil
}

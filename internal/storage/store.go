// Package storage wraps the embedded SQLite database that backs every
// durable entity in spec §3. It owns connection setup (WAL, busy timeout,
// cache size), schema migrations, and small time/null helpers shared by the
// packages that issue queries against it.
package storage

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/emergent-company/agentmail/internal/apperr"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store wraps the raw *sql.DB plus transaction helpers.
type Store struct {
	db *sql.DB
}

// Open opens or creates a SQLite database at the given path and applies any
// pending migrations.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, &apperr.Storage{Op: "mkdir", Err: err}
		}
	}

	escaped := strings.ReplaceAll(path, " ", "%20")
	connStr := "file:" + escaped + "?_pragma=busy_timeout(30000)"
	db, err := sql.Open("sqlite", connStr)
	if err != nil {
		return nil, &apperr.Storage{Op: "open", Err: err}
	}

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA cache_size=-65536", // ~64 MiB
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=30000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, &apperr.Storage{Op: pragma, Err: err}
		}
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// DB returns the underlying connection pool for packages that need to issue
// raw queries.
func (s *Store) DB() *sql.DB { return s.db }

// Close closes the database connection.
func (s *Store) Close() error { return s.db.Close() }

// WithTx runs fn inside a transaction, committing on success and rolling
// back on any error (including a panic, via the deferred Rollback, which is
// a no-op after Commit).
func (s *Store) WithTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &apperr.Storage{Op: "begin tx", Err: err}
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return &apperr.Storage{Op: "commit", Err: err}
	}
	return nil
}

// migrate applies every embedded migration file that isn't already recorded
// in schema_migrations, in filename order. Each script is idempotent
// create-if-not-exists DDL, so re-applying an already-applied script is safe
// even if the tracking row were somehow lost.
func (s *Store) migrate() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (
		version TEXT PRIMARY KEY,
		applied_at TEXT NOT NULL
	)`); err != nil {
		return &apperr.Storage{Op: "create schema_migrations", Err: err}
	}

	entries, err := fs.Glob(migrationsFS, "migrations/*.sql")
	if err != nil {
		return &apperr.Storage{Op: "glob migrations", Err: err}
	}
	sort.Strings(entries)

	for _, name := range entries {
		version := filepath.Base(name)

		var exists int
		row := s.db.QueryRow(`SELECT COUNT(1) FROM schema_migrations WHERE version = ?`, version)
		if err := row.Scan(&exists); err != nil {
			return &apperr.Storage{Op: "check migration " + version, Err: err}
		}
		if exists > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile(name)
		if err != nil {
			return &apperr.Storage{Op: "read migration " + version, Err: err}
		}

		if err := s.WithTx(context.Background(), func(tx *sql.Tx) error {
			if _, err := tx.Exec(string(content)); err != nil {
				return fmt.Errorf("applying %s: %w", version, err)
			}
			if _, err := tx.Exec(
				`INSERT INTO schema_migrations(version, applied_at) VALUES (?, ?)`,
				version, Now().Format(time.RFC3339Nano),
			); err != nil {
				return err
			}
			return nil
		}); err != nil {
			return &apperr.Storage{Op: "apply migration " + version, Err: err}
		}
	}

	return nil
}

// Now returns the current time in UTC, stripped of the monotonic clock
// reading, matching the format SQLite's datetime functions expect.
func Now() time.Time {
	return time.Now().UTC().Round(0)
}

// TimeString formats t for storage as an RFC3339 string.
func TimeString(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// ParseTime parses a stored RFC3339 timestamp string.
func ParseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

// NullString converts an empty string to SQL NULL.
func NullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

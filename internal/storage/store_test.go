package storage

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpen_AppliesMigrationsIdempotently(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	s1, err := Open(path)
	require.NoError(t, err)
	s1.Close()

	s2, err := Open(path)
	require.NoError(t, err)
	defer s2.Close()

	var version string
	row := s2.DB().QueryRow(`SELECT version FROM schema_migrations LIMIT 1`)
	require.NoError(t, row.Scan(&version))
	assert.Equal(t, "0001_init.sql", version)
}

func TestOpen_CreatesAllCoreTables(t *testing.T) {
	s := openTestStore(t)

	tables := []string{
		"projects", "agents", "capabilities", "agent_links", "messages",
		"message_recipients", "file_reservations", "build_slots", "products",
		"product_projects", "attachments", "overseer_messages", "tool_metrics",
	}
	for _, tbl := range tables {
		var name string
		row := s.DB().QueryRow(`SELECT name FROM sqlite_master WHERE type='table' AND name=?`, tbl)
		require.NoError(t, row.Scan(&name), "table %s should exist", tbl)
	}
}

func TestWithTx_RollsBackOnError(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	boom := errors.New("boom")
	err := s.WithTx(ctx, func(tx *sql.Tx) error {
		_, execErr := tx.Exec(`INSERT INTO products(product_uid, name) VALUES ('p1', 'demo')`)
		require.NoError(t, execErr)
		return boom
	})
	assert.ErrorIs(t, err, boom)

	var count int
	row := s.DB().QueryRow(`SELECT COUNT(1) FROM products WHERE product_uid = 'p1'`)
	require.NoError(t, row.Scan(&count))
	assert.Equal(t, 0, count, "rolled-back insert must not be visible")
}

// TestHotQueries_UseIndexes asserts the query plan for every hot query named
// in spec §8 invariant 6 reports index or primary-key use, never a full
// table scan.
func TestHotQueries_UseIndexes(t *testing.T) {
	s := openTestStore(t)

	queries := map[string]string{
		"inbox fetch": `SELECT * FROM message_recipients WHERE project_id = 1 AND agent_id = 2 ORDER BY created_ts DESC`,
		"thread fetch": `SELECT * FROM messages WHERE project_id = 1 AND thread_id = 'x' ORDER BY created_ts ASC`,
		"single message": `SELECT * FROM messages WHERE id = 1`,
		"reservations active": `SELECT * FROM file_reservations WHERE project_id = 1 AND released_ts IS NULL AND expires_ts > '2020-01-01'`,
		"build slot active": `SELECT * FROM build_slots WHERE project_id = 1 AND slot_name = 'ci' AND released_ts IS NULL`,
	}

	for label, q := range queries {
		rows, err := s.DB().Query(`EXPLAIN QUERY PLAN ` + q)
		require.NoError(t, err, label)
		plan := scanPlan(t, rows)
		assert.True(t, usesIndexOrPK(plan), "%s: expected index/PK use, got plan: %v", label, plan)
	}
}

func scanPlan(t *testing.T, rows interface {
	Next() bool
	Scan(dest ...any) error
	Close() error
	Err() error
}) []string {
	t.Helper()
	defer rows.Close()
	var lines []string
	for rows.Next() {
		var id, parent, notused int
		var detail string
		require.NoError(t, rows.Scan(&id, &parent, &notused, &detail))
		lines = append(lines, detail)
	}
	require.NoError(t, rows.Err())
	return lines
}

func usesIndexOrPK(plan []string) bool {
	for _, line := range plan {
		lower := strings.ToLower(line)
		if strings.Contains(lower, "using index") ||
			strings.Contains(lower, "using covering index") ||
			strings.Contains(lower, "using primary key") ||
			strings.Contains(lower, "using integer primary key") {
			return true
		}
	}
	return false
}

package mailbox

import (
	"context"
	"path/filepath"
	"strconv"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/emergent-company/agentmail/internal/archive"
	"github.com/emergent-company/agentmail/internal/repocache"
	"github.com/emergent-company/agentmail/internal/storage"
)

var projectSeedCounter int64

func newTestService(t *testing.T) (*Service, *storage.Store) {
	t.Helper()
	dir := t.TempDir()

	store, err := storage.Open(filepath.Join(dir, "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	archivePath := filepath.Join(dir, "archive")
	repos := repocache.New(4, func(path string) (*archive.Repo, error) {
		return archive.Open(path, archive.Identity{Name: "test", Email: "test@localhost"})
	})

	return New(store, repos, nil, archivePath), store
}

// seedProjectAndAgents inserts a project and one agent per name directly (bypassing
// internal/identity, which this package doesn't depend on) for use as
// message senders/recipients in tests.
func seedProjectAndAgents(t *testing.T, store *storage.Store, names ...string) (projectID int64, agentIDs []int64) {
	t.Helper()
	ctx := context.Background()

	n := atomic.AddInt64(&projectSeedCounter, 1)
	slug := "demo-" + strconv.FormatInt(n, 10)
	res, err := store.DB().ExecContext(ctx,
		`INSERT INTO projects (slug, human_key, created_at) VALUES (?, ?, ?)`,
		slug, "/tmp/"+slug, storage.TimeString(storage.Now()))
	require.NoError(t, err)
	projectID, err = res.LastInsertId()
	require.NoError(t, err)

	for _, name := range names {
		now := storage.TimeString(storage.Now())
		res, err := store.DB().ExecContext(ctx, `
			INSERT INTO agents (project_id, name, inception_ts, last_active_ts)
			VALUES (?, ?, ?, ?)`, projectID, name, now, now)
		require.NoError(t, err)
		id, err := res.LastInsertId()
		require.NoError(t, err)
		agentIDs = append(agentIDs, id)
	}
	return projectID, agentIDs
}

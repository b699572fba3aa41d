package identity

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/emergent-company/agentmail/internal/archive"
	"github.com/emergent-company/agentmail/internal/repocache"
	"github.com/emergent-company/agentmail/internal/storage"
)

// newTestService wires a throwaway Store, repo-handle cache, and archive
// directory for use by a single test.
func newTestService(t *testing.T) *Service {
	t.Helper()
	dir := t.TempDir()

	store, err := storage.Open(filepath.Join(dir, "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	archivePath := filepath.Join(dir, "archive")
	repos := repocache.New(4, func(path string) (*archive.Repo, error) {
		return archive.Open(path, archive.Identity{Name: "test", Email: "test@localhost"})
	})

	return New(store, repos, nil, ModeDir, archivePath)
}

package identity

import (
	"context"
	"database/sql"
	"log/slog"

	"github.com/emergent-company/agentmail/internal/apperr"
	"github.com/emergent-company/agentmail/internal/archive"
	"github.com/emergent-company/agentmail/internal/repocache"
	"github.com/emergent-company/agentmail/internal/storage"
)

// execer is satisfied by both *sql.DB and *sql.Tx, letting the capability
// helpers run either standalone or inside a caller's transaction.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Service implements the project/agent/capability operations of spec §4.E.
// It owns no process-lifetime state beyond its dependencies: the database,
// the repo-handle cache used to write agent profiles into the archive, and
// the logger.
type Service struct {
	store       *storage.Store
	repos       *repocache.Cache
	logger      *slog.Logger
	slugMode    Mode
	archivePath string
}

// New constructs a Service. slugMode selects how project slugs are derived
// from their human_key (normally a working directory path); repos is the
// shared repo-handle cache used to mirror agent profiles into the archive,
// rooted at archivePath.
func New(store *storage.Store, repos *repocache.Cache, logger *slog.Logger, slugMode Mode, archivePath string) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, repos: repos, logger: logger, slugMode: slugMode, archivePath: archivePath}
}

func (s *Service) withTx(ctx context.Context, fn func(execer) error) error {
	return s.store.WithTx(ctx, func(tx *sql.Tx) error { return fn(tx) })
}

func (s *Service) wrapStorage(op string, err error) error {
	if err == nil {
		return nil
	}
	return &apperr.Storage{Op: op, Err: err}
}

// withArchive opens (or reuses) the archive handle at path, locking it for
// the duration of fn. The committer identity is whatever the repo-handle
// cache's OpenFunc configured when the repository was first opened.
func (s *Service) withArchive(path string, fn func(*archive.Repo) error) error {
	handle, err := s.repos.Get(path)
	if err != nil {
		return err
	}
	repo := handle.Lock()
	defer handle.Unlock()
	return fn(repo)
}

// Package mailbox implements the message engine of spec §4.F: create, read,
// acknowledge, thread, search, and the overdue-ACK sweep that feeds the
// escalation engine.
package mailbox

import (
	"context"
	"database/sql"
	"log/slog"

	"github.com/emergent-company/agentmail/internal/apperr"
	"github.com/emergent-company/agentmail/internal/archive"
	"github.com/emergent-company/agentmail/internal/repocache"
	"github.com/emergent-company/agentmail/internal/storage"
)

// execer is satisfied by both *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Importance is the closed set of message priority levels.
type Importance string

const (
	ImportanceNormal   Importance = "normal"
	ImportanceHigh     Importance = "high"
	ImportanceCritical Importance = "critical"
)

// RecipientRole distinguishes to/cc/bcc within message_recipients.
type RecipientRole string

const (
	RoleTo  RecipientRole = "to"
	RoleCC  RecipientRole = "cc"
	RoleBCC RecipientRole = "bcc"
)

// Service implements the message engine, sharing the database and archive
// dependencies with internal/identity.
type Service struct {
	store       *storage.Store
	repos       *repocache.Cache
	logger      *slog.Logger
	archivePath string
}

// New constructs a mailbox Service.
func New(store *storage.Store, repos *repocache.Cache, logger *slog.Logger, archivePath string) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, repos: repos, logger: logger, archivePath: archivePath}
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

func (s *Service) withArchive(fn func(*archive.Repo) error) error {
	handle, err := s.repos.Get(s.archivePath)
	if err != nil {
		return err
	}
	repo := handle.Lock()
	defer handle.Unlock()
	return fn(repo)
}

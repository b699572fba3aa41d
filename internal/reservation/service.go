// Package reservation implements the file-path reservation engine of spec
// §4.G: an advisory model where acquiring a path never fails, but batch
// acquisition reports conflicts with other holders so callers (and the
// precommit guard, separately) can decide what to do about them.
package reservation

import (
	"context"
	"database/sql"
	"log/slog"

	"github.com/emergent-company/agentmail/internal/apperr"
	"github.com/emergent-company/agentmail/internal/pathspec"
	"github.com/emergent-company/agentmail/internal/storage"
)

// Reservation is one row of file_reservations.
type Reservation struct {
	ID          int64
	ProjectID   int64
	AgentID     int64
	PathPattern string
	Exclusive   bool
	Reason      string
	CreatedTS   string
	ExpiresTS   string
	ReleasedTS  string
}

// Conflict pairs a newly requested pattern with a pre-existing reservation
// it collides with, per internal/pathspec's conflict algebra.
type Conflict struct {
	Pattern string
	Holder  Reservation
}

// Service implements the reservation engine.
type Service struct {
	store  *storage.Store
	logger *slog.Logger
}

// New constructs a reservation Service.
func New(store *storage.Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, logger: logger}
}

func (s *Service) wrapStorage(op string, err error) error {
	if err == nil {
		return nil
	}
	return &apperr.Storage{Op: op, Err: err}
}

// Create inserts a single reservation row unconditionally — the advisory
// model never refuses an acquire.
func (s *Service) Create(ctx context.Context, projectID, agentID int64, pattern string, exclusive bool, reason string, expiresTS string) (*Reservation, error) {
	now := storage.TimeString(storage.Now())
	exclusiveInt := 0
	if exclusive {
		exclusiveInt = 1
	}

	res, err := s.store.DB().ExecContext(ctx, `
		INSERT INTO file_reservations (project_id, agent_id, path_pattern, exclusive, reason, created_ts, expires_ts)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		projectID, agentID, pattern, exclusiveInt, reason, now, expiresTS,
	)
	if err != nil {
		return nil, s.wrapStorage("create reservation", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, s.wrapStorage("create reservation", err)
	}

	return &Reservation{
		ID: id, ProjectID: projectID, AgentID: agentID, PathPattern: pattern,
		Exclusive: exclusive, Reason: reason, CreatedTS: now, ExpiresTS: expiresTS,
	}, nil
}

// AcquireBatchResult is the two-list return shape spec §4.G mandates: what
// was granted (everything — acquisition never fails) and what it collided
// with (visibility only, not a refusal).
type AcquireBatchResult struct {
	Granted   []*Reservation
	Conflicts []Conflict
}

// AcquireBatch requests a reservation for each of patterns. For every
// pattern it first scans active reservations held by other agents in the
// project and records a Conflict for any exclusive-on-either-side overlap
// pathspec.Conflicts reports; it then inserts the new row regardless.
func (s *Service) AcquireBatch(ctx context.Context, projectID, agentID int64, patterns []string, exclusive bool, reason string, expiresTS string) (*AcquireBatchResult, error) {
	active, err := s.ListActiveForProject(ctx, projectID)
	if err != nil {
		return nil, err
	}

	result := &AcquireBatchResult{}
	for _, pattern := range patterns {
		for _, holder := range active {
			if holder.AgentID == agentID {
				continue
			}
			if !exclusive && !holder.Exclusive {
				continue
			}
			if pathspec.Conflicts(pattern, holder.PathPattern) {
				result.Conflicts = append(result.Conflicts, Conflict{Pattern: pattern, Holder: *holder})
			}
		}

		granted, err := s.Create(ctx, projectID, agentID, pattern, exclusive, reason, expiresTS)
		if err != nil {
			return nil, err
		}
		result.Granted = append(result.Granted, granted)
	}

	return result, nil
}

// Renew extends a non-released reservation's expiry; a no-op (reports
// success without effect) on an already-released one.
func (s *Service) Renew(ctx context.Context, reservationID int64, newExpiresTS string) error {
	_, err := s.store.DB().ExecContext(ctx, `
		UPDATE file_reservations SET expires_ts = ?
		WHERE id = ? AND released_ts IS NULL`, newExpiresTS, reservationID)
	if err != nil {
		return s.wrapStorage("renew reservation", err)
	}
	return nil
}

// Release sets released_ts, but only when heldByAgentID currently holds it.
func (s *Service) Release(ctx context.Context, reservationID, heldByAgentID int64) error {
	now := storage.TimeString(storage.Now())
	res, err := s.store.DB().ExecContext(ctx, `
		UPDATE file_reservations SET released_ts = ?
		WHERE id = ? AND agent_id = ? AND released_ts IS NULL`, now, reservationID, heldByAgentID)
	if err != nil {
		return s.wrapStorage("release reservation", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return s.wrapStorage("release reservation", err)
	}
	if n == 0 {
		return &apperr.NotFound{Kind: "reservation"}
	}
	return nil
}

// ForceRelease bypasses the holder check, for operator override.
func (s *Service) ForceRelease(ctx context.Context, reservationID int64) error {
	now := storage.TimeString(storage.Now())
	res, err := s.store.DB().ExecContext(ctx, `
		UPDATE file_reservations SET released_ts = ?
		WHERE id = ? AND released_ts IS NULL`, now, reservationID)
	if err != nil {
		return s.wrapStorage("force release reservation", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return s.wrapStorage("force release reservation", err)
	}
	if n == 0 {
		return &apperr.NotFound{Kind: "reservation"}
	}
	return nil
}

// ListActiveForProject returns reservations that are neither released nor
// expired, backed by the (project_id, released_ts, expires_ts) index.
func (s *Service) ListActiveForProject(ctx context.Context, projectID int64) ([]*Reservation, error) {
	now := storage.TimeString(storage.Now())
	rows, err := s.store.DB().QueryContext(ctx, `
		SELECT id, project_id, agent_id, path_pattern, exclusive, reason, created_ts, expires_ts, COALESCE(released_ts, '')
		FROM file_reservations
		WHERE project_id = ? AND released_ts IS NULL AND expires_ts > ?
		ORDER BY created_ts ASC`, projectID, now)
	if err != nil {
		return nil, s.wrapStorage("list active reservations", err)
	}
	defer rows.Close()

	return scanReservations(rows, s)
}

func scanReservations(rows *sql.Rows, s *Service) ([]*Reservation, error) {
	var out []*Reservation
	for rows.Next() {
		r := &Reservation{}
		var exclusiveInt int
		if err := rows.Scan(&r.ID, &r.ProjectID, &r.AgentID, &r.PathPattern, &exclusiveInt, &r.Reason, &r.CreatedTS, &r.ExpiresTS, &r.ReleasedTS); err != nil {
			return nil, s.wrapStorage("scan reservation", err)
		}
		r.Exclusive = exclusiveInt != 0
		out = append(out, r)
	}
	return out, nil
}

// Package buildslot implements the CI/deploy exclusive-slot engine of spec
// §4.H. Unlike a file reservation, acquiring a build slot is itself a
// guard: builds sharing a slot name must be mutually exclusive, so acquire
// fails outright when the slot is already held.
package buildslot

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/emergent-company/agentmail/internal/apperr"
	"github.com/emergent-company/agentmail/internal/storage"
)

func secondsToDuration(seconds int) time.Duration {
	return time.Duration(seconds) * time.Second
}

// Slot is one row of build_slots.
type Slot struct {
	ID         int64
	ProjectID  int64
	AgentID    int64
	SlotName   string
	CreatedTS  string
	ExpiresTS  string
	ReleasedTS string
}

// AlreadyHeld is returned by Acquire when the named slot is currently held
// by another acquisition.
type AlreadyHeld struct {
	SlotName string
	HolderID int64
}

func (e *AlreadyHeld) Error() string {
	return fmt.Sprintf("build slot %q is already held (agent %d)", e.SlotName, e.HolderID)
}
func (e *AlreadyHeld) Code() apperr.Code { return apperr.CodeConflict }

// Service implements the build-slot engine.
type Service struct {
	store  *storage.Store
	logger *slog.Logger
}

// New constructs a build-slot Service.
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

// Acquire atomically checks for an existing active row on (project,
// slotName) and inserts a new one only if absent; otherwise it fails with
// AlreadyHeld. The whole check-then-insert runs inside one transaction so
// concurrent acquires on the same slot can't both observe "absent".
func (s *Service) Acquire(ctx context.Context, projectID, agentID int64, slotName string, ttlSeconds int) (*Slot, error) {
	now := storage.Now()
	nowStr := storage.TimeString(now)
	expiresStr := storage.TimeString(now.Add(secondsToDuration(ttlSeconds)))

	var slot *Slot
	err := s.store.WithTx(ctx, func(tx *sql.Tx) error {
		var holderID int64
		row := tx.QueryRowContext(ctx, `
			SELECT agent_id FROM build_slots
			WHERE project_id = ? AND slot_name = ? AND released_ts IS NULL AND expires_ts > ?`,
			projectID, slotName, nowStr)
		err := row.Scan(&holderID)
		switch {
		case err == nil:
			return &AlreadyHeld{SlotName: slotName, HolderID: holderID}
		case errors.Is(err, sql.ErrNoRows):
			// absent: fall through to insert
		default:
			return err
		}

		res, err := tx.ExecContext(ctx, `
			INSERT INTO build_slots (project_id, agent_id, slot_name, created_ts, expires_ts)
			VALUES (?, ?, ?, ?, ?)`, projectID, agentID, slotName, nowStr, expiresStr)
		if err != nil {
			return err
		}
		id, err := res.LastInsertId()
		if err != nil {
			return err
		}
		slot = &Slot{ID: id, ProjectID: projectID, AgentID: agentID, SlotName: slotName, CreatedTS: nowStr, ExpiresTS: expiresStr}
		return nil
	})
	if err != nil {
		var held *AlreadyHeld
		if errors.As(err, &held) {
			return nil, held
		}
		return nil, s.wrapStorage("acquire build slot", err)
	}
	return slot, nil
}

// Renew extends an active slot's expiry.
func (s *Service) Renew(ctx context.Context, slotID int64, ttlSeconds int) error {
	expiresStr := storage.TimeString(storage.Now().Add(secondsToDuration(ttlSeconds)))
	_, err := s.store.DB().ExecContext(ctx, `
		UPDATE build_slots SET expires_ts = ?
		WHERE id = ? AND released_ts IS NULL`, expiresStr, slotID)
	if err != nil {
		return s.wrapStorage("renew build slot", err)
	}
	return nil
}

// Release marks a slot released.
func (s *Service) Release(ctx context.Context, slotID int64) error {
	now := storage.TimeString(storage.Now())
	res, err := s.store.DB().ExecContext(ctx, `
		UPDATE build_slots SET released_ts = ?
		WHERE id = ? AND released_ts IS NULL`, now, slotID)
	if err != nil {
		return s.wrapStorage("release build slot", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return s.wrapStorage("release build slot", err)
	}
	if n == 0 {
		return &apperr.NotFound{Kind: "build_slot"}
	}
	return nil
}

// ListActive returns every active build slot for projectID.
func (s *Service) ListActive(ctx context.Context, projectID int64) ([]*Slot, error) {
	now := storage.TimeString(storage.Now())
	rows, err := s.store.DB().QueryContext(ctx, `
		SELECT id, project_id, agent_id, slot_name, created_ts, expires_ts
		FROM build_slots
		WHERE project_id = ? AND released_ts IS NULL AND expires_ts > ?
		ORDER BY created_ts ASC`, projectID, now)
	if err != nil {
		return nil, s.wrapStorage("list active build slots", err)
	}
	defer rows.Close()

	var slots []*Slot
	for rows.Next() {
		sl := &Slot{}
		if err := rows.Scan(&sl.ID, &sl.ProjectID, &sl.AgentID, &sl.SlotName, &sl.CreatedTS, &sl.ExpiresTS); err != nil {
			return nil, s.wrapStorage("scan build slot", err)
		}
		slots = append(slots, sl)
	}
	return slots, nil
}

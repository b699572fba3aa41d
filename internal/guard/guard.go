// Package guard implements the precommit guard of spec §4.L: a Git hook
// consults it before allowing a push, checking the touched file paths
// against active exclusive reservations held by other agents.
package guard

import (
	"context"
	"log/slog"

	"github.com/emergent-company/agentmail/internal/pathspec"
	"github.com/emergent-company/agentmail/internal/reservation"
)

// Mode is the closed set of guard enforcement levels.
type Mode string

const (
	// ModeEnforce returns violations and the hook script exits non-zero.
	ModeEnforce Mode = "enforce"
	// ModeWarn returns violations but the hook prints and proceeds.
	ModeWarn Mode = "warn"
	// ModeBypass returns no result without inspection (AGENT_MAIL_BYPASS=1).
	ModeBypass Mode = "bypass"
)

// Violation is one (touched path, conflicting reservation) pair.
type Violation struct {
	Path            string `json:"path"`
	Pattern         string `json:"pattern"`
	HolderAgentID   int64  `json:"holder_agent_id"`
	HolderAgentName string `json:"holder_agent_name,omitempty"`
}

// Result is the guard's verdict for one push attempt.
type Result struct {
	Mode       Mode
	Violations []Violation
	// Blocked is true only in Enforce mode with at least one violation;
	// Warn mode always reports Blocked=false so the hook proceeds.
	Blocked bool
}

// Service implements the precommit guard.
type Service struct {
	reservations *reservation.Service
	logger       *slog.Logger
}

// New constructs a guard Service.
func New(reservations *reservation.Service, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{reservations: reservations, logger: logger}
}

// Enabled reports whether the guard runs at all. Per spec §4.L, the guard
// is gated on two environment signals (WORKTREES_ENABLED,
// GIT_IDENTITY_ENABLED); if neither is set, it is skipped entirely rather
// than running in some degraded mode.
func Enabled(worktreesEnabled, gitIdentityEnabled bool) bool {
	return worktreesEnabled || gitIdentityEnabled
}

// AgentNamer resolves a holder's display name. Callers that already have a
// name->id map (the dispatcher, the HTTP handler) should prefer passing it
// in; this is the fallback used when only a bare holder id is known.
type AgentNamer func(ctx context.Context, agentID int64) string

// Check evaluates the guard for one push: touchedPaths against every
// active reservation in the project. A violation requires holder != acting
// agent, the reservation exclusive, and pathspec.Conflicts reporting a
// collision between the touched path and the reservation's pattern.
//
// In ModeBypass, Check returns (nil, nil) without inspecting anything, per
// spec §4.L's "returns None without inspection".
func (s *Service) Check(ctx context.Context, projectID, actingAgentID int64, touchedPaths []string, mode Mode, namer AgentNamer) (*Result, error) {
	if mode == ModeBypass {
		return nil, nil
	}

	active, err := s.reservations.ListActiveForProject(ctx, projectID)
	if err != nil {
		return nil, err
	}

	var violations []Violation
	for _, r := range active {
		if r.AgentID == actingAgentID || !r.Exclusive {
			continue
		}
		for _, path := range touchedPaths {
			if !pathspec.Conflicts(path, r.PathPattern) {
				continue
			}
			holderName := ""
			if namer != nil {
				holderName = namer(ctx, r.AgentID)
			}
			violations = append(violations, Violation{
				Path: path, Pattern: r.PathPattern,
				HolderAgentID: r.AgentID, HolderAgentName: holderName,
			})
		}
	}

	result := &Result{Mode: mode, Violations: violations}
	if mode == ModeEnforce && len(violations) > 0 {
		result.Blocked = true
	}
	if len(violations) > 0 {
		s.logger.Warn("precommit guard found reservation conflicts",
			"project_id", projectID, "agent_id", actingAgentID, "mode", mode, "violation_count", len(violations))
	}
	return result, nil
}

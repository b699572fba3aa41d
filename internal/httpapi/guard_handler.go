package httpapi

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/emergent-company/agentmail/internal/apperr"
	"github.com/emergent-company/agentmail/internal/guard"
)

type checkPushRequest struct {
	AgentName string   `json:"agent_name"`
	Project   string   `json:"project"`
	Paths     []string `json:"paths"`
}

type checkPushResponse struct {
	Blocked    bool              `json:"blocked"`
	Mode       guard.Mode        `json:"mode"`
	Violations []guard.Violation `json:"violations,omitempty"`
}

// handleGuardCheckPush backs the pre-push hook script internal/guard
// renders: it re-derives the project and acting agent from the request
// body and re-runs the same Check the dispatcher's tools use, so the hook
// and the in-process guard never diverge on what counts as a violation.
func (s *Server) handleGuardCheckPush(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, `{"error":"method not allowed"}`, http.StatusMethodNotAllowed)
		return
	}

	var req checkPushRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
		return
	}
	defer r.Body.Close()

	ctx := r.Context()
	project, err := s.identity.GetProjectByIdentifier(ctx, req.Project)
	if err != nil {
		writeAppError(w, err)
		return
	}
	agent, err := s.identity.GetByName(ctx, project.ID, req.AgentName)
	if err != nil {
		writeAppError(w, err)
		return
	}

	result, err := s.guard.Check(ctx, project.ID, agent.ID, req.Paths, s.guardMode, s.namer)
	if err != nil {
		writeAppError(w, &apperr.Internal{Message: "guard check failed", Err: err})
		return
	}
	if result == nil {
		writeJSON(w, http.StatusOK, checkPushResponse{Mode: s.guardMode})
		return
	}

	writeJSON(w, http.StatusOK, checkPushResponse{
		Blocked: result.Blocked, Mode: result.Mode, Violations: result.Violations,
	})
}

package identity

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/emergent-company/agentmail/internal/apperr"
	"github.com/emergent-company/agentmail/internal/archive"
	"github.com/emergent-company/agentmail/internal/storage"
)

// Agent is one registered participant within a project's mailbox.
type Agent struct {
	ID                int64
	ProjectID         int64
	Name              string
	Program           string
	Model             string
	TaskDescription   string
	AttachmentsPolicy string
	ContactPolicy     string
	InceptionTS       string
	LastActiveTS      string
}

// agentProfile is the JSON document mirrored into the archive at
// projects/<slug>/agents/<name>/profile.json on registration — grounded on
// the original implementation's AgentForCreate document, which is archived
// verbatim alongside the database row.
type agentProfile struct {
	ProjectID       int64  `json:"project_id"`
	Name            string `json:"name"`
	Program         string `json:"program"`
	Model           string `json:"model"`
	TaskDescription string `json:"task_description"`
}

// Register creates a new agent under project, grants its default
// capabilities, and best-effort mirrors its profile into the archive.
func (s *Service) Register(ctx context.Context, project *Project, name, program, model, taskDescription string) (*Agent, error) {
	if err := ValidateAgentName(name); err != nil {
		return nil, err
	}

	now := storage.TimeString(storage.Now())
	var agentID int64
	err := s.withTx(ctx, func(ex execer) error {
		res, err := ex.ExecContext(ctx, `
			INSERT INTO agents (project_id, name, program, model, task_description, inception_ts, last_active_ts)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			project.ID, name, program, model, taskDescription, now, now,
		)
		if err != nil {
			return err
		}
		agentID, err = res.LastInsertId()
		return err
	})
	if err != nil {
		if isUniqueViolation(err) {
			return nil, &apperr.Conflict{Kind: "agent", Message: fmt.Sprintf("agent %q already registered in this project", name)}
		}
		return nil, s.wrapStorage("register agent", err)
	}

	if err := s.GrantDefaults(ctx, agentID); err != nil {
		return nil, err
	}

	agent, err := s.GetByID(ctx, agentID)
	if err != nil {
		return nil, err
	}

	s.archiveProfile(project, agent)

	return agent, nil
}

// archiveProfile mirrors the agent's profile into the Git archive. This is
// a best-effort operation per spec §4.F's archive trade-off: a failure here
// is logged, not propagated, since the database row is already the
// authoritative record.
func (s *Service) archiveProfile(project *Project, agent *Agent) {
	profile := agentProfile{
		ProjectID:       agent.ProjectID,
		Name:            agent.Name,
		Program:         agent.Program,
		Model:           agent.Model,
		TaskDescription: agent.TaskDescription,
	}
	body, err := json.MarshalIndent(profile, "", "  ")
	if err != nil {
		s.logger.Warn("marshal agent profile", "agent", agent.Name, "error", err)
		return
	}

	relPath := fmt.Sprintf("projects/%s/agents/%s/profile.json", project.Slug, agent.Name)
	message := fmt.Sprintf("agent: profile %s", agent.Name)
	err = s.withArchive(s.archivePath, func(repo *archive.Repo) error {
		_, err := repo.Commit(relPath, string(body), message)
		return err
	})
	if err != nil {
		s.logger.Warn("archive agent profile", "agent", agent.Name, "path", relPath, "error", err)
	}
}

// GetByID resolves an agent by its primary key, for callers that already
// have an id (e.g. the dispatcher resolving a display name for a sender).
func (s *Service) GetByID(ctx context.Context, id int64) (*Agent, error) {
	return s.scanAgent(s.store.DB().QueryRowContext(ctx,
		`SELECT id, project_id, name, program, model, task_description,
		        attachments_policy, contact_policy, inception_ts, last_active_ts
		 FROM agents WHERE id = ?`, id))
}

// GetByName resolves an agent by (project, name), returning NotFound with
// Levenshtein-ranked suggestions scoped to the same project when absent.
func (s *Service) GetByName(ctx context.Context, projectID int64, name string) (*Agent, error) {
	agent, err := s.scanAgent(s.store.DB().QueryRowContext(ctx,
		`SELECT id, project_id, name, program, model, task_description,
		        attachments_policy, contact_policy, inception_ts, last_active_ts
		 FROM agents WHERE project_id = ? AND name = ?`, projectID, name))
	if err == nil {
		return agent, nil
	}
	var nf *apperr.NotFound
	if !errors.As(err, &nf) {
		return nil, err
	}

	suggestions, serr := s.suggestAgentNames(ctx, projectID, name)
	if serr != nil {
		return nil, serr
	}
	return nil, &apperr.NotFound{Kind: "agent", Identifier: name, Suggestions: suggestions}
}

// ListAllForProject returns every agent registered under projectID, ordered
// by registration time.
func (s *Service) ListAllForProject(ctx context.Context, projectID int64) ([]*Agent, error) {
	rows, err := s.store.DB().QueryContext(ctx, `
		SELECT id, project_id, name, program, model, task_description,
		       attachments_policy, contact_policy, inception_ts, last_active_ts
		FROM agents WHERE project_id = ? ORDER BY inception_ts ASC`, projectID)
	if err != nil {
		return nil, s.wrapStorage("list agents", err)
	}
	defer rows.Close()

	var agents []*Agent
	for rows.Next() {
		a := &Agent{}
		if err := rows.Scan(&a.ID, &a.ProjectID, &a.Name, &a.Program, &a.Model, &a.TaskDescription,
			&a.AttachmentsPolicy, &a.ContactPolicy, &a.InceptionTS, &a.LastActiveTS); err != nil {
			return nil, s.wrapStorage("scan agent", err)
		}
		agents = append(agents, a)
	}
	return agents, nil
}

// UpdateProfile updates an agent's mutable profile fields and touches
// last_active_ts.
func (s *Service) UpdateProfile(ctx context.Context, agentID int64, program, model, taskDescription string) error {
	now := storage.TimeString(storage.Now())
	return s.withTx(ctx, func(ex execer) error {
		_, err := ex.ExecContext(ctx, `
			UPDATE agents SET program = ?, model = ?, task_description = ?, last_active_ts = ?
			WHERE id = ?`, program, model, taskDescription, now, agentID)
		return err
	})
}

func (s *Service) scanAgent(row *sql.Row) (*Agent, error) {
	a := &Agent{}
	err := row.Scan(&a.ID, &a.ProjectID, &a.Name, &a.Program, &a.Model, &a.TaskDescription,
		&a.AttachmentsPolicy, &a.ContactPolicy, &a.InceptionTS, &a.LastActiveTS)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &apperr.NotFound{Kind: "agent"}
	}
	if err != nil {
		return nil, &apperr.Storage{Op: "scan agent", Err: err}
	}
	return a, nil
}

func (s *Service) suggestAgentNames(ctx context.Context, projectID int64, target string) ([]string, error) {
	rows, err := s.store.DB().QueryContext(ctx, `SELECT name FROM agents WHERE project_id = ?`, projectID)
	if err != nil {
		return nil, s.wrapStorage("list agent names", err)
	}
	defer rows.Close()

	var population []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, s.wrapStorage("scan agent name", err)
		}
		population = append(population, name)
	}
	return suggest(target, population), nil
}

func isUniqueViolation(err error) bool {
	return err != nil && (strings.Contains(err.Error(), "UNIQUE constraint failed") ||
		strings.Contains(err.Error(), "constraint failed: UNIQUE"))
}

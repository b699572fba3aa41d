package identity

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/emergent-company/agentmail/internal/apperr"
	"github.com/emergent-company/agentmail/internal/storage"
)

// Project is the top-level tenancy boundary: every agent, message,
// reservation, and build slot belongs to exactly one project.
type Project struct {
	ID        int64
	Slug      string
	HumanKey  string
	CreatedAt string
}

// EnsureProject returns the existing project for humanKey, creating one
// (with a freshly derived slug) if none exists yet. humanKey is normally a
// working-directory path; it is stored alongside the derived slug and
// returned as Project.HumanKey.
func (s *Service) EnsureProject(ctx context.Context, humanKey string) (*Project, error) {
	if err := ValidateProjectKey(humanKey); err != nil {
		return nil, err
	}

	if p, err := s.getProjectByHumanKey(ctx, humanKey); err != nil {
		return nil, err
	} else if p != nil {
		return p, nil
	}

	slug := ComputeSlug(humanKey, s.slugMode, "origin")

	err := s.withTx(ctx, func(ex execer) error {
		res, err := ex.ExecContext(ctx,
			`INSERT INTO projects (slug, human_key, created_at) VALUES (?, ?, ?)`,
			slug, humanKey, storage.TimeString(storage.Now()),
		)
		if err != nil {
			return err
		}
		_, err = res.LastInsertId()
		return err
	})
	if err != nil {
		return nil, s.wrapStorage("ensure project", err)
	}

	return s.GetProjectByIdentifier(ctx, slug)
}

func (s *Service) getProjectByHumanKey(ctx context.Context, humanKey string) (*Project, error) {
	row := s.store.DB().QueryRowContext(ctx,
		`SELECT id, slug, human_key, created_at FROM projects WHERE human_key = ?`, humanKey)
	p := &Project{}
	err := row.Scan(&p.ID, &p.Slug, &p.HumanKey, &p.CreatedAt)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, nil
	case err != nil:
		return nil, s.wrapStorage("lookup project by human_key", err)
	default:
		return p, nil
	}
}

// GetProjectByID resolves a project by its numeric id, for callers that
// already hold a Caller.ProjectID and need the slug (e.g. for archive paths).
func (s *Service) GetProjectByID(ctx context.Context, id int64) (*Project, error) {
	row := s.store.DB().QueryRowContext(ctx,
		`SELECT id, slug, human_key, created_at FROM projects WHERE id = ?`, id)
	p := &Project{}
	err := row.Scan(&p.ID, &p.Slug, &p.HumanKey, &p.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &apperr.NotFound{Kind: "project", Identifier: fmt.Sprintf("%d", id)}
	}
	if err != nil {
		return nil, s.wrapStorage("get project by id", err)
	}
	return p, nil
}

// GetProjectByIdentifier resolves a project by slug, returning NotFound with
// Levenshtein-ranked suggestions when no exact match exists.
func (s *Service) GetProjectByIdentifier(ctx context.Context, slug string) (*Project, error) {
	row := s.store.DB().QueryRowContext(ctx,
		`SELECT id, slug, human_key, created_at FROM projects WHERE slug = ?`, slug)
	p := &Project{}
	err := row.Scan(&p.ID, &p.Slug, &p.HumanKey, &p.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		suggestions, serr := s.suggestProjectSlugs(ctx, slug)
		if serr != nil {
			return nil, serr
		}
		return nil, &apperr.NotFound{Kind: "project", Identifier: slug, Suggestions: suggestions}
	}
	if err != nil {
		return nil, s.wrapStorage("get project by identifier", err)
	}
	return p, nil
}

func (s *Service) suggestProjectSlugs(ctx context.Context, target string) ([]string, error) {
	rows, err := s.store.DB().QueryContext(ctx, `SELECT slug FROM projects`)
	if err != nil {
		return nil, s.wrapStorage("list project slugs", err)
	}
	defer rows.Close()

	var population []string
	for rows.Next() {
		var slug string
		if err := rows.Scan(&slug); err != nil {
			return nil, s.wrapStorage("scan project slug", err)
		}
		population = append(population, slug)
	}
	return suggest(target, population), nil
}

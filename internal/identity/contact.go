package identity

import (
	"context"
	"strconv"

	"github.com/emergent-company/agentmail/internal/apperr"
	"github.com/emergent-company/agentmail/internal/storage"
)

// ContactLink tracks a cross-project contact relationship between two
// agents. Links are recorded without consulting either agent's
// contact_policy.
type ContactLink struct {
	ID         int64
	AProjectID int64
	AAgentID   int64
	BProjectID int64
	BAgentID   int64
	Status     string // pending|accepted|rejected
	Reason     string
	CreatedAt  string
}

// RequestContact records a pending contact request from (aProject, aAgent)
// to (bProject, bAgent).
func (s *Service) RequestContact(ctx context.Context, aProjectID, aAgentID, bProjectID, bAgentID int64, reason string) (*ContactLink, error) {
	now := storage.TimeString(storage.Now())
	var id int64
	err := s.withTx(ctx, func(ex execer) error {
		res, err := ex.ExecContext(ctx, `
			INSERT INTO agent_links (a_project_id, a_agent_id, b_project_id, b_agent_id, status, reason, created_at)
			VALUES (?, ?, ?, ?, 'pending', ?, ?)`,
			aProjectID, aAgentID, bProjectID, bAgentID, reason, now,
		)
		if err != nil {
			return err
		}
		id, err = res.LastInsertId()
		return err
	})
	if err != nil {
		return nil, s.wrapStorage("request contact", err)
	}
	return &ContactLink{ID: id, AProjectID: aProjectID, AAgentID: aAgentID, BProjectID: bProjectID, BAgentID: bAgentID, Status: "pending", Reason: reason, CreatedAt: now}, nil
}

// RespondContact sets a pending link's status to "accepted" or "rejected".
func (s *Service) RespondContact(ctx context.Context, linkID int64, accept bool) error {
	status := "rejected"
	if accept {
		status = "accepted"
	}
	res, err := s.store.DB().ExecContext(ctx,
		`UPDATE agent_links SET status = ? WHERE id = ? AND status = 'pending'`, status, linkID)
	if err != nil {
		return s.wrapStorage("respond to contact", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return s.wrapStorage("respond to contact", err)
	}
	if n == 0 {
		return &apperr.NotFound{Kind: "contact_link", Identifier: strconv.FormatInt(linkID, 10)}
	}
	return nil
}

// ListContacts returns every link touching (projectID, agentID), on either
// side of the relationship.
func (s *Service) ListContacts(ctx context.Context, projectID, agentID int64) ([]*ContactLink, error) {
	rows, err := s.store.DB().QueryContext(ctx, `
		SELECT id, a_project_id, a_agent_id, b_project_id, b_agent_id, status, reason, created_at
		FROM agent_links
		WHERE (a_project_id = ? AND a_agent_id = ?) OR (b_project_id = ? AND b_agent_id = ?)
		ORDER BY created_at DESC`, projectID, agentID, projectID, agentID)
	if err != nil {
		return nil, s.wrapStorage("list contacts", err)
	}
	defer rows.Close()

	var links []*ContactLink
	for rows.Next() {
		l := &ContactLink{}
		if err := rows.Scan(&l.ID, &l.AProjectID, &l.AAgentID, &l.BProjectID, &l.BAgentID, &l.Status, &l.Reason, &l.CreatedAt); err != nil {
			return nil, s.wrapStorage("scan contact link", err)
		}
		links = append(links, l)
	}
	return links, nil
}

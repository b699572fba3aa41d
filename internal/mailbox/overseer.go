package mailbox

import (
	"context"
	"fmt"

	"github.com/emergent-company/agentmail/internal/archive"
	"github.com/emergent-company/agentmail/internal/storage"
)

// OverseerMessage is an elevated note addressed to the human operator:
// same shape as Message minus recipients, plus a read timestamp.
type OverseerMessage struct {
	ID         int64
	ProjectID  int64
	SenderID   int64
	Subject    string
	BodyMD     string
	Importance Importance
	CreatedTS  string
	ReadTS     string
}

// PostOverseerMessage inserts an OverseerMessage and best-effort mirrors it
// into the archive, the same write-then-archive ordering Create uses for
// ordinary messages.
func (s *Service) PostOverseerMessage(ctx context.Context, projectID, senderID int64, subject, bodyMD string, importance Importance) (*OverseerMessage, error) {
	if importance == "" {
		importance = ImportanceNormal
	}
	now := storage.TimeString(storage.Now())

	res, err := s.store.DB().ExecContext(ctx, `
		INSERT INTO overseer_messages (project_id, sender_id, subject, body_md, importance, created_ts)
		VALUES (?, ?, ?, ?, ?, ?)`,
		projectID, senderID, subject, bodyMD, string(importance), now)
	if err != nil {
		return nil, s.wrapStorage("post overseer message", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, s.wrapStorage("post overseer message", err)
	}

	msg := &OverseerMessage{
		ID: id, ProjectID: projectID, SenderID: senderID, Subject: subject,
		BodyMD: bodyMD, Importance: importance, CreatedTS: now,
	}

	relPath := fmt.Sprintf("overseer/%d.md", msg.ID)
	body := fmt.Sprintf("# %s\n\n%s\n", msg.Subject, msg.BodyMD)
	if err := s.withArchive(func(repo *archive.Repo) error {
		_, err := repo.Commit(relPath, body, fmt.Sprintf("overseer message %d: %s", msg.ID, msg.Subject))
		return err
	}); err != nil {
		s.logger.Warn("failed to archive overseer message", "message_id", msg.ID, "error", err)
	}

	return msg, nil
}

// ListOverseerMessages returns a project's overseer messages, newest first.
func (s *Service) ListOverseerMessages(ctx context.Context, projectID int64, limit int) ([]*OverseerMessage, error) {
	rows, err := s.store.DB().QueryContext(ctx, `
		SELECT id, project_id, sender_id, subject, body_md, importance, created_ts, COALESCE(read_ts, '')
		FROM overseer_messages
		WHERE project_id = ?
		ORDER BY created_ts DESC
		LIMIT ?`, projectID, limit)
	if err != nil {
		return nil, s.wrapStorage("list overseer messages", err)
	}
	defer rows.Close()

	var out []*OverseerMessage
	for rows.Next() {
		m := &OverseerMessage{}
		var importance string
		if err := rows.Scan(&m.ID, &m.ProjectID, &m.SenderID, &m.Subject, &m.BodyMD, &importance, &m.CreatedTS, &m.ReadTS); err != nil {
			return nil, s.wrapStorage("scan overseer message", err)
		}
		m.Importance = Importance(importance)
		out = append(out, m)
	}
	return out, nil
}

package mailbox

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/emergent-company/agentmail/internal/apperr"
	"github.com/emergent-company/agentmail/internal/archive"
	"github.com/emergent-company/agentmail/internal/storage"
)

// Message is one row of the messages table.
type Message struct {
	ID          int64
	ProjectID   int64
	SenderID    int64
	SenderName  string
	Subject     string
	BodyMD      string
	ThreadID    string
	Importance  Importance
	AckRequired bool
	CreatedTS   string
}

// RecipientInput names one message recipient and their role.
type RecipientInput struct {
	AgentID int64
	Role    RecipientRole
}

// CreateInput is the parameter object for Create.
type CreateInput struct {
	ProjectID   int64
	SenderID    int64
	SenderName  string
	Recipients  []RecipientInput
	Subject     string
	BodyMD      string
	ThreadID    string
	Importance  Importance
	AckRequired bool
}

// Create inserts a message and its recipients, indexes it for full-text
// search, and best-effort mirrors a Markdown rendering into the archive, in
// the order spec §4.F mandates. A failure in steps 2-3 is returned to the
// caller but the message row from step 1 is not rolled back; a failure to
// mirror into the archive (step 4) is logged and not returned, since the
// archive mirror is best-effort.
func (s *Service) Create(ctx context.Context, in CreateInput) (*Message, error) {
	if len(in.Recipients) == 0 {
		return nil, &apperr.Validation{Field: "recipients", Reason: "at least one recipient is required"}
	}
	if in.Importance == "" {
		in.Importance = ImportanceNormal
	}

	if err := s.validateRecipientsInProject(ctx, in.ProjectID, in.Recipients); err != nil {
		return nil, err
	}

	now := storage.TimeString(storage.Now())
	ackRequired := 0
	if in.AckRequired {
		ackRequired = 1
	}

	var messageID int64
	err := s.withTx(ctx, func(ex execer) error {
		res, err := ex.ExecContext(ctx, `
			INSERT INTO messages (project_id, sender_id, subject, body_md, thread_id, importance, ack_required, created_ts)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			in.ProjectID, in.SenderID, in.Subject, in.BodyMD, storage.NullString(in.ThreadID), string(in.Importance), ackRequired, now,
		)
		if err != nil {
			return err
		}
		messageID, err = res.LastInsertId()
		return err
	})
	if err != nil {
		return nil, s.wrapStorage("insert message", err)
	}

	msg := &Message{
		ID: messageID, ProjectID: in.ProjectID, SenderID: in.SenderID, SenderName: in.SenderName,
		Subject: in.Subject, BodyMD: in.BodyMD, ThreadID: in.ThreadID,
		Importance: in.Importance, AckRequired: in.AckRequired, CreatedTS: now,
	}

	if err := s.insertRecipients(ctx, messageID, in.ProjectID, in.Recipients, now); err != nil {
		return msg, err
	}

	if err := s.indexForSearch(ctx, messageID, in.Subject, in.BodyMD, in.SenderName); err != nil {
		return msg, err
	}

	s.archiveMessage(msg)

	return msg, nil
}

func (s *Service) validateRecipientsInProject(ctx context.Context, projectID int64, recipients []RecipientInput) error {
	for _, r := range recipients {
		var count int
		row := s.store.DB().QueryRowContext(ctx,
			`SELECT COUNT(1) FROM agents WHERE id = ? AND project_id = ?`, r.AgentID, projectID)
		if err := row.Scan(&count); err != nil {
			return s.wrapStorage("validate recipient project", err)
		}
		if count == 0 {
			return &apperr.Validation{
				Field: "recipients", Value: fmt.Sprintf("%d", r.AgentID),
				Reason: "recipient is not a member of the sender's project",
			}
		}
	}
	return nil
}

func (s *Service) insertRecipients(ctx context.Context, messageID, projectID int64, recipients []RecipientInput, createdTS string) error {
	return s.withTx(ctx, func(ex execer) error {
		for _, r := range recipients {
			if _, err := ex.ExecContext(ctx, `
				INSERT INTO message_recipients (message_id, project_id, agent_id, role, created_ts)
				VALUES (?, ?, ?, ?, ?)`,
				messageID, projectID, r.AgentID, string(r.Role), createdTS,
			); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Service) indexForSearch(ctx context.Context, messageID int64, subject, bodyMD, senderName string) error {
	_, err := s.store.DB().ExecContext(ctx,
		`INSERT INTO messages_fts (rowid, subject, body_md, sender_name) VALUES (?, ?, ?, ?)`,
		messageID, subject, bodyMD, senderName,
	)
	if err != nil {
		return s.wrapStorage("index message for search", err)
	}
	return nil
}

// archiveMessage mirrors a Markdown rendering of msg into the archive at
// messages/<id>.md. Best-effort: logged on failure, never propagated.
func (s *Service) archiveMessage(msg *Message) {
	body := renderMarkdown(msg)
	relPath := fmt.Sprintf("messages/%d.md", msg.ID)
	err := s.withArchive(func(repo *archive.Repo) error {
		_, err := repo.Commit(relPath, body, fmt.Sprintf("message: %s", msg.Subject))
		return err
	})
	if err != nil {
		s.logger.Warn("archive message", "message_id", msg.ID, "error", err)
	}
}

func renderMarkdown(msg *Message) string {
	return fmt.Sprintf("# %s\n\n**From:** %s\n**Importance:** %s\n**Created:** %s\n\n%s\n",
		msg.Subject, msg.SenderName, msg.Importance, msg.CreatedTS, msg.BodyMD)
}

// MarkRead records a read timestamp for (messageID, agentID). Idempotent.
func (s *Service) MarkRead(ctx context.Context, messageID, agentID int64) error {
	now := storage.TimeString(storage.Now())
	_, err := s.store.DB().ExecContext(ctx, `
		UPDATE message_recipients SET read_ts = ?
		WHERE message_id = ? AND agent_id = ? AND read_ts IS NULL`,
		now, messageID, agentID)
	if err != nil {
		return s.wrapStorage("mark read", err)
	}
	return nil
}

// Acknowledge records an ack timestamp for (messageID, agentID). Callers
// must have already checked the acknowledge_message capability; this
// method only enforces the ack-required contract — acknowledging a
// message that didn't request one is rejected.
func (s *Service) Acknowledge(ctx context.Context, messageID, agentID int64) error {
	var ackRequired int
	row := s.store.DB().QueryRowContext(ctx, `SELECT ack_required FROM messages WHERE id = ?`, messageID)
	if err := row.Scan(&ackRequired); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return &apperr.NotFound{Kind: "message", Identifier: fmt.Sprintf("%d", messageID)}
		}
		return s.wrapStorage("lookup message for ack", err)
	}
	if ackRequired == 0 {
		return &apperr.Validation{Field: "message_id", Reason: "message does not require acknowledgment"}
	}

	now := storage.TimeString(storage.Now())
	res, err := s.store.DB().ExecContext(ctx, `
		UPDATE message_recipients SET ack_ts = ?
		WHERE message_id = ? AND agent_id = ?`, now, messageID, agentID)
	if err != nil {
		return s.wrapStorage("acknowledge message", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return s.wrapStorage("acknowledge message", err)
	}
	if n == 0 {
		return &apperr.NotFound{Kind: "message", Identifier: fmt.Sprintf("%d", messageID)}
	}
	return nil
}

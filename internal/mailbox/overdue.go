package mailbox

import (
	"context"
	"time"

	"github.com/emergent-company/agentmail/internal/storage"
)

// OverdueAck is one (message, recipient) pair where an acknowledgment was
// required but never recorded within the threshold.
type OverdueAck struct {
	MessageID   int64
	ProjectID   int64
	Subject     string
	BodyMD      string
	SenderID    int64
	SenderName  string
	RecipientID int64
	CreatedTS   string
}

// ListOverdueAcks returns every (message, recipient) pair where
// ack_required is set, the message is older than threshold, and that
// recipient has not yet acknowledged it. Restartable: it records no state
// of its own, so re-running it after a partial escalation sweep is safe.
func (s *Service) ListOverdueAcks(ctx context.Context, threshold time.Duration) ([]*OverdueAck, error) {
	cutoff := storage.TimeString(storage.Now().Add(-threshold))

	rows, err := s.store.DB().QueryContext(ctx, `
		SELECT m.id, m.project_id, m.subject, m.body_md, m.sender_id, a.name, mr.agent_id, m.created_ts
		FROM messages m
		JOIN message_recipients mr ON mr.message_id = m.id
		JOIN agents a ON a.id = m.sender_id
		WHERE m.ack_required = 1 AND m.created_ts < ? AND mr.ack_ts IS NULL
		ORDER BY m.created_ts ASC`, cutoff)
	if err != nil {
		return nil, s.wrapStorage("list overdue acks", err)
	}
	defer rows.Close()

	var overdue []*OverdueAck
	for rows.Next() {
		o := &OverdueAck{}
		if err := rows.Scan(&o.MessageID, &o.ProjectID, &o.Subject, &o.BodyMD, &o.SenderID, &o.SenderName, &o.RecipientID, &o.CreatedTS); err != nil {
			return nil, s.wrapStorage("scan overdue ack", err)
		}
		overdue = append(overdue, o)
	}
	return overdue, nil
}

package mailbox

import "context"

// InboxItem is one row of an inbox or thread listing: a message joined with
// its sender's display name and, where applicable, the viewing recipient's
// read/ack state.
type InboxItem struct {
	Message
	ReadTS string
	AckTS  string
}

// ListInbox returns (project, agent)'s messages newest-first, where agent
// appears in the recipient set under any role. Backed by the
// (project_id, agent_id, created_ts) index on message_recipients.
func (s *Service) ListInbox(ctx context.Context, projectID, agentID int64, limit int) ([]*InboxItem, error) {
	rows, err := s.store.DB().QueryContext(ctx, `
		SELECT m.id, m.project_id, m.sender_id, a.name, m.subject, m.body_md,
		       COALESCE(m.thread_id, ''), m.importance, m.ack_required, m.created_ts,
		       COALESCE(mr.read_ts, ''), COALESCE(mr.ack_ts, '')
		FROM message_recipients mr
		JOIN messages m ON m.id = mr.message_id
		JOIN agents a ON a.id = m.sender_id
		WHERE mr.project_id = ? AND mr.agent_id = ?
		ORDER BY m.created_ts DESC, m.id DESC
		LIMIT ?`, projectID, agentID, limit)
	if err != nil {
		return nil, s.wrapStorage("list inbox", err)
	}
	defer rows.Close()
	return scanInboxItems(rows, s)
}

// ListUnifiedInbox is like ListInbox but spans every project agentID
// belongs to isn't assumed — callers pass an explicit agentID whose
// recipient rows are looked up regardless of project, with an optional
// importance floor (all|high|critical).
func (s *Service) ListUnifiedInbox(ctx context.Context, agentID int64, importanceFilter string, limit int) ([]*InboxItem, error) {
	query := `
		SELECT m.id, m.project_id, m.sender_id, a.name, m.subject, m.body_md,
		       COALESCE(m.thread_id, ''), m.importance, m.ack_required, m.created_ts,
		       COALESCE(mr.read_ts, ''), COALESCE(mr.ack_ts, '')
		FROM message_recipients mr
		JOIN messages m ON m.id = mr.message_id
		JOIN agents a ON a.id = m.sender_id
		WHERE mr.agent_id = ?`

	args := []any{agentID}
	switch importanceFilter {
	case "", "all":
		// no filter
	case "high":
		query += ` AND m.importance IN ('high', 'critical')`
	case "critical":
		query += ` AND m.importance = 'critical'`
	}
	query += ` ORDER BY m.created_ts DESC, m.id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.store.DB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, s.wrapStorage("list unified inbox", err)
	}
	defer rows.Close()
	return scanInboxItems(rows, s)
}

func scanInboxItems(rows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}, s *Service) ([]*InboxItem, error) {
	var items []*InboxItem
	for rows.Next() {
		it := &InboxItem{}
		var ackRequired int
		if err := rows.Scan(&it.ID, &it.ProjectID, &it.SenderID, &it.SenderName, &it.Subject, &it.BodyMD,
			&it.ThreadID, &it.Importance, &ackRequired, &it.CreatedTS, &it.ReadTS, &it.AckTS); err != nil {
			return nil, s.wrapStorage("scan inbox item", err)
		}
		it.AckRequired = ackRequired != 0
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, s.wrapStorage("iterate inbox rows", err)
	}
	return items, nil
}

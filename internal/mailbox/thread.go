package mailbox

import "context"

// ThreadSummary is one row of a thread listing: the aggregate view over all
// messages sharing a thread_id.
type ThreadSummary struct {
	ThreadID      string
	Subject       string
	MessageCount  int
	LastMessageTS string
}

// FetchThread returns every message in (project, threadID), oldest first
// with id as tiebreaker, backed by the (project_id, thread_id, created_ts)
// index.
func (s *Service) FetchThread(ctx context.Context, projectID int64, threadID string) ([]*InboxItem, error) {
	rows, err := s.store.DB().QueryContext(ctx, `
		SELECT DISTINCT m.id, m.project_id, m.sender_id, a.name, m.subject, m.body_md,
		       COALESCE(m.thread_id, ''), m.importance, m.ack_required, m.created_ts,
		       '', ''
		FROM messages m
		JOIN agents a ON a.id = m.sender_id
		WHERE m.project_id = ? AND m.thread_id = ?
		ORDER BY m.created_ts ASC, m.id ASC`, projectID, threadID)
	if err != nil {
		return nil, s.wrapStorage("fetch thread", err)
	}
	defer rows.Close()
	return scanInboxItems(rows, s)
}

// ListThreads returns the per-thread aggregate for project, most recently
// active thread first.
func (s *Service) ListThreads(ctx context.Context, projectID int64, limit int) ([]*ThreadSummary, error) {
	rows, err := s.store.DB().QueryContext(ctx, `
		SELECT thread_id, MIN(subject), COUNT(*), MAX(created_ts)
		FROM messages
		WHERE project_id = ? AND thread_id IS NOT NULL
		GROUP BY thread_id
		ORDER BY MAX(created_ts) DESC
		LIMIT ?`, projectID, limit)
	if err != nil {
		return nil, s.wrapStorage("list threads", err)
	}
	defer rows.Close()

	var threads []*ThreadSummary
	for rows.Next() {
		t := &ThreadSummary{}
		if err := rows.Scan(&t.ThreadID, &t.Subject, &t.MessageCount, &t.LastMessageTS); err != nil {
			return nil, s.wrapStorage("scan thread summary", err)
		}
		threads = append(threads, t)
	}
	return threads, nil
}

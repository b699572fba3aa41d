package mailbox

import (
	"context"
	"strings"
)

// Search runs a full-text query over (project)'s messages via the FTS5
// index. Per spec §4.F, a query that the FTS5 dialect can't parse (leading
// wildcards, unmatched quotes) must surface as an empty result, never an
// error — these queries routinely originate from untrusted agents, and a
// syntax error propagating out of a search box is a worse failure mode
// than "no results".
func (s *Service) Search(ctx context.Context, projectID int64, query string) ([]*InboxItem, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil
	}

	rows, err := s.store.DB().QueryContext(ctx, `
		SELECT m.id, m.project_id, m.sender_id, a.name, m.subject, m.body_md,
		       COALESCE(m.thread_id, ''), m.importance, m.ack_required, m.created_ts,
		       '', ''
		FROM messages_fts
		JOIN messages m ON m.id = messages_fts.rowid
		JOIN agents a ON a.id = m.sender_id
		WHERE messages_fts MATCH ? AND m.project_id = ?
		ORDER BY m.created_ts DESC`, query, projectID)
	if err != nil {
		// A query the FTS5 tokenizer rejects (unmatched quote, leading '*')
		// is a malformed-input case, not a storage failure: swallow it.
		return nil, nil
	}
	defer rows.Close()

	return scanInboxItems(rows, s)
}

// Package observability implements spec §4.M: the cross-project activity
// feed, tool-invocation statistics, and the thread review-state machine
// that `claim_review` advances.
package observability

import (
	"context"
	"database/sql"
	"log/slog"
	"sort"
	"strconv"

	"github.com/emergent-company/agentmail/internal/apperr"
	"github.com/emergent-company/agentmail/internal/storage"
)

// ActivityKind is the closed set of sources an ActivityItem can come from.
type ActivityKind string

const (
	ActivityMessage ActivityKind = "message"
	ActivityTool    ActivityKind = "tool"
	ActivityAgent   ActivityKind = "agent"
)

// ActivityItem is the common shape every activity source is normalized
// into before the merge-sort, per spec §4.M.
type ActivityItem struct {
	ID          string
	Kind        ActivityKind
	ProjectID   int64
	AgentID     *int64
	Title       string
	Description string
	Metadata    map[string]string
	CreatedAt   string
}

// Service implements the observability engine.
type Service struct {
	store  *storage.Store
	logger *slog.Logger
}

// New constructs an observability Service.
func New(store *storage.Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, logger: logger}
}

func (s *Service) wrapStorage(op string, err error) error {
	if err == nil {
		return nil
	}
	return &apperr.Storage{Op: op, Err: err}
}

// Feed fetches recent messages, tool invocations, and agent registrations
// for project, normalizes each into an ActivityItem, merge-sorts by
// created_at descending, and truncates to limit. Each source query is
// itself capped at limit rows, which is sufficient to produce a correct
// top-`limit` merge since no source can contribute more than limit items
// to the final result.
func (s *Service) Feed(ctx context.Context, projectID int64, limit int) ([]*ActivityItem, error) {
	messages, err := s.messageActivity(ctx, projectID, limit)
	if err != nil {
		return nil, err
	}
	tools, err := s.toolActivity(ctx, projectID, limit)
	if err != nil {
		return nil, err
	}
	agents, err := s.agentActivity(ctx, projectID, limit)
	if err != nil {
		return nil, err
	}

	all := make([]*ActivityItem, 0, len(messages)+len(tools)+len(agents))
	all = append(all, messages...)
	all = append(all, tools...)
	all = append(all, agents...)

	sort.SliceStable(all, func(i, j int) bool {
		return all[i].CreatedAt > all[j].CreatedAt
	})

	if len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

func (s *Service) messageActivity(ctx context.Context, projectID int64, limit int) ([]*ActivityItem, error) {
	rows, err := s.store.DB().QueryContext(ctx, `
		SELECT m.id, m.sender_id, a.name, m.subject, m.created_ts
		FROM messages m
		JOIN agents a ON a.id = m.sender_id
		WHERE m.project_id = ?
		ORDER BY m.created_ts DESC
		LIMIT ?`, projectID, limit)
	if err != nil {
		return nil, s.wrapStorage("query message activity", err)
	}
	defer rows.Close()

	var items []*ActivityItem
	for rows.Next() {
		var id, agentID int64
		var senderName, subject, createdAt string
		if err := rows.Scan(&id, &agentID, &senderName, &subject, &createdAt); err != nil {
			return nil, s.wrapStorage("scan message activity", err)
		}
		items = append(items, &ActivityItem{
			ID: formatID("msg", id), Kind: ActivityMessage, ProjectID: projectID,
			AgentID: &agentID, Title: subject, Description: "sent by " + senderName, CreatedAt: createdAt,
		})
	}
	return items, rows.Err()
}

func (s *Service) toolActivity(ctx context.Context, projectID int64, limit int) ([]*ActivityItem, error) {
	rows, err := s.store.DB().QueryContext(ctx, `
		SELECT id, tool_name, agent_id, status, duration_ms, created_at
		FROM tool_metrics
		WHERE project_id = ?
		ORDER BY created_at DESC
		LIMIT ?`, projectID, limit)
	if err != nil {
		return nil, s.wrapStorage("query tool activity", err)
	}
	defer rows.Close()

	var items []*ActivityItem
	for rows.Next() {
		var id int64
		var toolName, status, createdAt string
		var agentID sql.NullInt64
		var durationMS int64
		if err := rows.Scan(&id, &toolName, &agentID, &status, &durationMS, &createdAt); err != nil {
			return nil, s.wrapStorage("scan tool activity", err)
		}
		item := &ActivityItem{
			ID: formatID("tool", id), Kind: ActivityTool, ProjectID: projectID,
			Title: toolName, Description: status, CreatedAt: createdAt,
			Metadata: map[string]string{"duration_ms": strconv.FormatInt(durationMS, 10)},
		}
		if agentID.Valid {
			v := agentID.Int64
			item.AgentID = &v
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func (s *Service) agentActivity(ctx context.Context, projectID int64, limit int) ([]*ActivityItem, error) {
	rows, err := s.store.DB().QueryContext(ctx, `
		SELECT id, name, program, inception_ts
		FROM agents
		WHERE project_id = ?
		ORDER BY inception_ts DESC
		LIMIT ?`, projectID, limit)
	if err != nil {
		return nil, s.wrapStorage("query agent activity", err)
	}
	defer rows.Close()

	var items []*ActivityItem
	for rows.Next() {
		var id int64
		var name, program, inceptionTS string
		if err := rows.Scan(&id, &name, &program, &inceptionTS); err != nil {
			return nil, s.wrapStorage("scan agent activity", err)
		}
		items = append(items, &ActivityItem{
			ID: formatID("agent", id), Kind: ActivityAgent, ProjectID: projectID,
			AgentID: &id, Title: name, Description: program, CreatedAt: inceptionTS,
		})
	}
	return items, rows.Err()
}

func formatID(prefix string, id int64) string {
	return prefix + "-" + strconv.FormatInt(id, 10)
}

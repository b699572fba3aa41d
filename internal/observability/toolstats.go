package observability

import "context"

// ToolStat is the per-tool aggregate spec §4.M's Tool Stats surface
// reports: invocation count, average duration, and how many of those
// invocations ended in an error.
type ToolStat struct {
	ToolName      string
	Count         int64
	AvgDurationMS float64
	ErrorCount    int64
}

// ToolStats aggregates tool_metrics by tool name, optionally scoped to one
// project. A nil projectID aggregates across every project, matching the
// fleet-wide dashboard view the HTTP layer exposes alongside the
// per-project one.
func (s *Service) ToolStats(ctx context.Context, projectID *int64) ([]*ToolStat, error) {
	query := `
		SELECT tool_name, COUNT(*), AVG(duration_ms),
		       SUM(CASE WHEN status != 'success' THEN 1 ELSE 0 END)
		FROM tool_metrics`
	args := []any{}
	if projectID != nil {
		query += " WHERE project_id = ?"
		args = append(args, *projectID)
	}
	query += " GROUP BY tool_name ORDER BY tool_name"

	rows, err := s.store.DB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, s.wrapStorage("query tool stats", err)
	}
	defer rows.Close()

	var stats []*ToolStat
	for rows.Next() {
		stat := &ToolStat{}
		if err := rows.Scan(&stat.ToolName, &stat.Count, &stat.AvgDurationMS, &stat.ErrorCount); err != nil {
			return nil, s.wrapStorage("scan tool stats", err)
		}
		stats = append(stats, stat)
	}
	return stats, rows.Err()
}

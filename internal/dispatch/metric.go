package dispatch

import (
	"context"

	"github.com/emergent-company/agentmail/internal/apperr"
	"github.com/emergent-company/agentmail/internal/storage"
)

// recordMetric persists one ToolMetric row. apperr.Code is already the
// closed enum spec §4.J calls for, so the metric tap reuses it directly
// rather than maintaining a parallel error-code set. A failure to record a
// metric is logged but never propagated — the tap must not itself cause a
// tool invocation to fail.
func (d *Dispatcher) recordMetric(ctx context.Context, toolName string, projectID, agentID *int64, status string, errCode apperr.Code, durationMS int64) {
	_, err := d.store.DB().ExecContext(ctx, `
		INSERT INTO tool_metrics (tool_name, project_id, agent_id, status, error_code, duration_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		toolName, nullableInt64(projectID), nullableInt64(agentID), status, nullableErrorCode(errCode), durationMS,
		storage.TimeString(storage.Now()))
	if err != nil {
		d.logger.Warn("failed to record tool metric", "tool", toolName, "error", err)
	}
}

func nullableInt64(v *int64) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullableErrorCode(c apperr.Code) any {
	if c == "" {
		return nil
	}
	return string(c)
}

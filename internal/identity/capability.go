package identity

import "context"

// DefaultCapabilities is the fixed set granted to every agent on creation,
// per spec §4.E / GLOSSARY.
var DefaultCapabilities = []string{
	"send_message",
	"fetch_inbox",
	"acknowledge_message",
	"file_reservation_paths",
}

// GrantDefaults inserts the default capability rows for a newly created
// agent. Idempotent: re-granting an already-held capability is a no-op
// thanks to the unique (agent_id, name) constraint.
func (s *Service) GrantDefaults(ctx context.Context, agentID int64) error {
	return s.withTx(ctx, func(execer execer) error {
		for _, name := range DefaultCapabilities {
			if _, err := execer.ExecContext(ctx,
				`INSERT OR IGNORE INTO capabilities (agent_id, name) VALUES (?, ?)`,
				agentID, name,
			); err != nil {
				return err
			}
		}
		return nil
	})
}

// Check reports whether agentID holds capability name.
func (s *Service) Check(ctx context.Context, agentID int64, name string) (bool, error) {
	var count int
	row := s.store.DB().QueryRowContext(ctx,
		`SELECT COUNT(1) FROM capabilities WHERE agent_id = ? AND name = ?`, agentID, name)
	if err := row.Scan(&count); err != nil {
		return false, s.wrapStorage("check capability", err)
	}
	return count > 0, nil
}

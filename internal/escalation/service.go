// Package escalation implements the overdue-ACK sweep and routing of spec
// §4.I: overdue messages are fed into one of three channel modes, each with
// a dry-run variant that records what would have happened without acting.
package escalation

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/emergent-company/agentmail/internal/mailbox"
	"github.com/emergent-company/agentmail/internal/reservation"
	"github.com/emergent-company/agentmail/internal/storage"
)

// Mode selects the channel an overdue ACK is routed to.
type Mode string

const (
	ModeLog             Mode = "log"
	ModeFileReservation Mode = "file_reservation"
	ModeOverseer        Mode = "overseer"
)

// Result is the per-message outcome spec §4.I mandates: one row per
// overdue message, success/failure isolated so a single bad row never
// aborts the sweep.
type Result struct {
	MessageID   int64
	ActionTaken string
	Success     bool
	Details     string
}

// Service routes overdue ACKs to their configured channel.
type Service struct {
	mailbox      *mailbox.Service
	reservations *reservation.Service
	logger       *slog.Logger

	// systemAgentID is the agent id the escalation engine acts as when it
	// posts OverseerMessages or reservations on the project's behalf.
	systemAgentID int64
}

// New constructs an escalation Service. systemAgentID identifies the agent
// the engine posts as (an operator/service account registered like any
// other agent) when a channel requires a sender identity.
func New(mailboxSvc *mailbox.Service, reservations *reservation.Service, logger *slog.Logger, systemAgentID int64) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{mailbox: mailboxSvc, reservations: reservations, logger: logger, systemAgentID: systemAgentID}
}

// Sweep fetches overdue ACKs older than threshold and applies mode's
// channel action to each, live or dry-run. Per spec §4.I and §5 the sweep
// is restartable: it keeps no state of its own, so re-invoking it after a
// partial failure simply reprocesses whatever is still overdue.
func (s *Service) Sweep(ctx context.Context, threshold time.Duration, mode Mode, dryRun bool) ([]Result, error) {
	overdue, err := s.mailbox.ListOverdueAcks(ctx, threshold)
	if err != nil {
		return nil, err
	}

	results := make([]Result, 0, len(overdue))
	for _, item := range overdue {
		results = append(results, s.apply(ctx, item, mode, dryRun))
	}
	return results, nil
}

func (s *Service) apply(ctx context.Context, item *mailbox.OverdueAck, mode Mode, dryRun bool) Result {
	switch mode {
	case ModeFileReservation:
		return s.applyFileReservation(ctx, item, dryRun)
	case ModeOverseer:
		return s.applyOverseer(ctx, item, dryRun)
	default:
		return s.applyLog(item, dryRun)
	}
}

func (s *Service) applyLog(item *mailbox.OverdueAck, dryRun bool) Result {
	if dryRun {
		return Result{MessageID: item.MessageID, ActionTaken: "logged-dry-run", Success: true,
			Details: "would emit structured warning"}
	}
	s.logger.Warn("overdue acknowledgment",
		"message_id", item.MessageID, "subject", item.Subject,
		"sender_id", item.SenderID, "recipient_id", item.RecipientID, "created_ts", item.CreatedTS)
	return Result{MessageID: item.MessageID, ActionTaken: "logged", Success: true}
}

func (s *Service) applyFileReservation(ctx context.Context, item *mailbox.OverdueAck, dryRun bool) Result {
	if dryRun {
		return Result{MessageID: item.MessageID, ActionTaken: "would reserve", Success: true,
			Details: "would create non-exclusive reservation over messages/**"}
	}
	pattern := fmt.Sprintf("messages/**/%d*.md", item.MessageID)
	expires := storage.TimeString(storage.Now().Add(time.Hour))
	_, err := s.reservations.Create(ctx, item.ProjectID, s.systemAgentID, pattern, false, "overdue ack escalation", expires)
	if err != nil {
		return Result{MessageID: item.MessageID, ActionTaken: "reserve_failed", Success: false, Details: err.Error()}
	}
	return Result{MessageID: item.MessageID, ActionTaken: "reserved", Success: true, Details: pattern}
}

func (s *Service) applyOverseer(ctx context.Context, item *mailbox.OverdueAck, dryRun bool) Result {
	if dryRun {
		return Result{MessageID: item.MessageID, ActionTaken: "would notify", Success: true,
			Details: "would post OverseerMessage"}
	}
	subject := fmt.Sprintf("[OVERDUE ACK] %s", item.Subject)
	body := fmt.Sprintf("Message %d from %s, sent %s, has not been acknowledged within the configured threshold.",
		item.MessageID, item.SenderName, item.CreatedTS)
	if _, err := s.mailbox.PostOverseerMessage(ctx, item.ProjectID, s.systemAgentID, subject, body, mailbox.ImportanceHigh); err != nil {
		return Result{MessageID: item.MessageID, ActionTaken: "notify_failed", Success: false, Details: err.Error()}
	}
	return Result{MessageID: item.MessageID, ActionTaken: "notified", Success: true}
}

// SendReminder re-sends the original overdue message as a new
// ack-required, high-importance message addressed to the same recipient,
// with a "REMINDER:" subject prefix and a system note prepended to the
// body — the mode-independent variant spec §4.I's table implies alongside
// the three channel actions.
func (s *Service) SendReminder(ctx context.Context, item *mailbox.OverdueAck) (*mailbox.Message, error) {
	subject := fmt.Sprintf("REMINDER: %s", item.Subject)
	body := fmt.Sprintf("_This is an automated reminder: the original message has not been acknowledged._\n\n---\n\n%s", item.BodyMD)
	return s.mailbox.Create(ctx, mailbox.CreateInput{
		ProjectID:   item.ProjectID,
		SenderID:    s.systemAgentID,
		SenderName:  "escalation",
		Recipients:  []mailbox.RecipientInput{{AgentID: item.RecipientID, Role: mailbox.RoleTo}},
		Subject:     subject,
		BodyMD:      body,
		Importance:  mailbox.ImportanceHigh,
		AckRequired: true,
	})
}

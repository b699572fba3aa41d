package dispatch

import (
	"context"
	"errors"
	"time"

	"github.com/emergent-company/agentmail/internal/apperr"
	"github.com/emergent-company/agentmail/internal/buildslot"
	"github.com/emergent-company/agentmail/internal/escalation"
	"github.com/emergent-company/agentmail/internal/exportengine"
	"github.com/emergent-company/agentmail/internal/mailbox"
	"github.com/emergent-company/agentmail/internal/observability"
	"github.com/emergent-company/agentmail/internal/reservation"
)

// WithWarnings wraps a tool's normal result with advisory, never-blocking
// mistake-detection warnings (SPEC_FULL.md §4.M expansion). Result's own
// fields are not re-exposed here: callers already get them from Result
// directly when they unmarshal the outer object, since most tool results
// are themselves already maps or slices the client inspects by field name.
type WithWarnings struct {
	Result   any                     `json:"result"`
	Warnings []observability.Mistake `json:"warnings,omitempty"`
}

// RegisterDefaultTools wires every tool spec §4.J's dispatch contract names
// into d, under its canonical name (aliases are resolved by Dispatch before
// lookup, so only canonical names are ever registered here).
func RegisterDefaultTools(d *Dispatcher) {
	registerIdentityTools(d)
	registerMailboxTools(d)
	registerReservationTools(d)
	registerBuildSlotTools(d)
	registerEscalationTools(d)
	registerObservabilityTools(d)
	registerExportTools(d)
}

// --- identity (E) ---

type EnsureProjectParams struct {
	HumanKey string `json:"human_key" desc:"filesystem path, git remote, or other stable project identifier"`
}

type RegisterAgentParams struct {
	ProjectSlug     string `json:"project_slug" desc:"slug returned by ensure_project"`
	Name            string `json:"name" desc:"agent name, unique within the project"`
	Program         string `json:"program,omitempty" desc:"the coding assistant or tool the agent runs as"`
	Model           string `json:"model,omitempty" desc:"the model backing the agent"`
	TaskDescription string `json:"task_description,omitempty" desc:"what the agent is currently working on"`
}

type ListAgentsParams struct {
	ProjectSlug string `json:"project_slug" desc:"slug returned by ensure_project"`
}

type RequestContactParams struct {
	TargetProjectSlug string `json:"target_project_slug" desc:"slug of the project the target agent belongs to"`
	TargetAgentName   string `json:"target_agent_name" desc:"name of the agent to request contact with"`
	Reason            string `json:"reason,omitempty" desc:"why contact is being requested"`
}

type RespondContactParams struct {
	LinkID int64 `json:"link_id" desc:"id of the pending contact link to respond to"`
	Accept bool  `json:"accept" desc:"true to accept the request, false to reject it"`
}

type ListContactsParams struct{}

func registerIdentityTools(d *Dispatcher) {
	Register(d, "ensure_project", "Resolve or create a project by its human-readable identifier.", "", false,
		func(ctx context.Context, d *Dispatcher, caller Caller, p EnsureProjectParams) (any, error) {
			return d.Identity.EnsureProject(ctx, p.HumanKey)
		})

	Register(d, "register_agent", "Register a new agent within a project, granting the default capability set.", "", false,
		func(ctx context.Context, d *Dispatcher, caller Caller, p RegisterAgentParams) (any, error) {
			project, err := d.Identity.GetProjectByIdentifier(ctx, p.ProjectSlug)
			if err != nil {
				return nil, err
			}
			return d.Identity.Register(ctx, project, p.Name, p.Program, p.Model, p.TaskDescription)
		})

	Register(d, "list_agents", "List every agent registered within a project.", "", false,
		func(ctx context.Context, d *Dispatcher, caller Caller, p ListAgentsParams) (any, error) {
			project, err := d.Identity.GetProjectByIdentifier(ctx, p.ProjectSlug)
			if err != nil {
				return nil, err
			}
			return d.Identity.ListAllForProject(ctx, project.ID)
		})

	Register(d, "request_contact", "Request a contact link with an agent, possibly in another project.", "", false,
		func(ctx context.Context, d *Dispatcher, caller Caller, p RequestContactParams) (any, error) {
			targetProject, err := d.Identity.GetProjectByIdentifier(ctx, p.TargetProjectSlug)
			if err != nil {
				return nil, err
			}
			targetAgent, err := d.Identity.GetByName(ctx, targetProject.ID, p.TargetAgentName)
			if err != nil {
				return nil, err
			}
			return d.Identity.RequestContact(ctx, caller.ProjectID, caller.AgentID, targetProject.ID, targetAgent.ID, p.Reason)
		})

	Register(d, "respond_contact", "Accept or reject a pending contact request.", "", false,
		func(ctx context.Context, d *Dispatcher, caller Caller, p RespondContactParams) (any, error) {
			return nil, d.Identity.RespondContact(ctx, p.LinkID, p.Accept)
		})

	Register(d, "list_contacts", "List every contact link touching the caller's agent.", "", false,
		func(ctx context.Context, d *Dispatcher, caller Caller, p ListContactsParams) (any, error) {
			return d.Identity.ListContacts(ctx, caller.ProjectID, caller.AgentID)
		})
}

// --- mailbox (F) ---

type SendMessageParams struct {
	Recipients  []int64 `json:"recipients" required:"true" desc:"agent ids receiving this message as To"`
	CC          []int64 `json:"cc,omitempty" desc:"agent ids receiving this message as CC"`
	Subject     string  `json:"subject" desc:"message subject"`
	BodyMD      string  `json:"body_md" desc:"message body, rendered as Markdown in the archive"`
	ThreadID    string  `json:"thread_id,omitempty" desc:"opaque thread identifier grouping related messages"`
	Importance  string  `json:"importance,omitempty" desc:"one of low|normal|high|critical"`
	AckRequired bool    `json:"ack_required,omitempty" desc:"whether recipients must explicitly acknowledge this message"`
}

func (p SendMessageParams) Validate() error {
	if len(p.Recipients) == 0 {
		return &apperr.Validation{Field: "recipients", Reason: "at least one recipient is required"}
	}
	if p.Subject == "" {
		return &apperr.Validation{Field: "subject", Reason: "must not be empty"}
	}
	return nil
}

type ListInboxParams struct {
	Limit int `json:"limit,omitempty" desc:"maximum number of messages to return"`
}

type AcknowledgeMessageParams struct {
	MessageID int64 `json:"message_id" desc:"id of the message to acknowledge"`
}

type SearchMessagesParams struct {
	Query string `json:"query" desc:"full-text search query"`
}

func registerMailboxTools(d *Dispatcher) {
	Register(d, "send_message", "Send a message to one or more agents in the caller's project.", "send_message", false,
		func(ctx context.Context, d *Dispatcher, caller Caller, p SendMessageParams) (any, error) {
			recipients := make([]mailbox.RecipientInput, 0, len(p.Recipients)+len(p.CC))
			allRecipientIDs := make([]int64, 0, len(p.Recipients)+len(p.CC))
			for _, id := range p.Recipients {
				recipients = append(recipients, mailbox.RecipientInput{AgentID: id, Role: mailbox.RoleTo})
				allRecipientIDs = append(allRecipientIDs, id)
			}
			for _, id := range p.CC {
				recipients = append(recipients, mailbox.RecipientInput{AgentID: id, Role: mailbox.RoleCC})
				allRecipientIDs = append(allRecipientIDs, id)
			}
			importance := mailbox.Importance(p.Importance)
			if importance == "" {
				importance = mailbox.ImportanceNormal
			}

			senderName := ""
			if sender, err := d.Identity.GetByID(ctx, caller.AgentID); err == nil {
				senderName = sender.Name
			}

			msg, err := d.Mailbox.Create(ctx, mailbox.CreateInput{
				ProjectID: caller.ProjectID, SenderID: caller.AgentID, SenderName: senderName,
				Recipients: recipients, Subject: p.Subject, BodyMD: p.BodyMD,
				ThreadID: p.ThreadID, Importance: importance, AckRequired: p.AckRequired,
			})
			if err != nil {
				return nil, err
			}
			warnings := observability.DetectSelfMessage(caller.AgentID, allRecipientIDs)
			if len(warnings) == 0 {
				return msg, nil
			}
			return &WithWarnings{Result: msg, Warnings: warnings}, nil
		})

	Register(d, "list_inbox", "List the caller's messages within the current project.", "fetch_inbox", false,
		func(ctx context.Context, d *Dispatcher, caller Caller, p ListInboxParams) (any, error) {
			limit := p.Limit
			if limit <= 0 {
				limit = 50
			}
			return d.Mailbox.ListInbox(ctx, caller.ProjectID, caller.AgentID, limit)
		})

	Register(d, "acknowledge_message", "Acknowledge a message that required one.", "acknowledge_message", false,
		func(ctx context.Context, d *Dispatcher, caller Caller, p AcknowledgeMessageParams) (any, error) {
			return nil, d.Mailbox.Acknowledge(ctx, p.MessageID, caller.AgentID)
		})

	Register(d, "search_messages", "Full-text search over a project's message bodies and subjects.", "", false,
		func(ctx context.Context, d *Dispatcher, caller Caller, p SearchMessagesParams) (any, error) {
			return d.Mailbox.Search(ctx, caller.ProjectID, p.Query)
		})
}

// --- reservation (G) ---

type AcquireFileReservationsParams struct {
	Patterns  []string `json:"patterns" required:"true" desc:"glob patterns to reserve"`
	Exclusive bool     `json:"exclusive,omitempty" desc:"whether this reservation excludes other exclusive holders"`
	Reason    string   `json:"reason,omitempty" desc:"free-form note explaining the reservation"`
	TTLHours  float64  `json:"ttl_hours,omitempty" desc:"hours until the reservation expires; defaults to 4"`
}

type ReleaseFileReservationsByPathParams struct {
	ReservationID int64 `json:"reservation_id" desc:"id of the reservation to release"`
}

type ListReservationsParams struct{}

func registerReservationTools(d *Dispatcher) {
	Register(d, "acquire_file_reservations", "Request one or more file-path reservations; acquisition never fails, but overlapping exclusive holders are reported as conflicts.", "file_reservation_paths", false,
		func(ctx context.Context, d *Dispatcher, caller Caller, p AcquireFileReservationsParams) (any, error) {
			ttl := p.TTLHours
			if ttl <= 0 {
				ttl = 4
			}

			var warnings []observability.Mistake
			if active, err := d.Reservations.ListActiveForProject(ctx, caller.ProjectID); err == nil {
				for _, pattern := range p.Patterns {
					warnings = append(warnings, observability.DetectRedundantReservation(caller.AgentID, pattern, p.Exclusive, active)...)
				}
			}

			expires := time.Now().UTC().Add(time.Duration(ttl * float64(time.Hour))).Format(time.RFC3339)
			result, err := d.Reservations.AcquireBatch(ctx, caller.ProjectID, caller.AgentID, p.Patterns, p.Exclusive, p.Reason, expires)
			if err != nil {
				return nil, err
			}
			if len(warnings) == 0 {
				return result, nil
			}
			return &WithWarnings{Result: result, Warnings: warnings}, nil
		})

	Register(d, "release_file_reservations_by_path", "Release a file reservation held by the caller.", "file_reservation_paths", false,
		func(ctx context.Context, d *Dispatcher, caller Caller, p ReleaseFileReservationsByPathParams) (any, error) {
			return nil, d.Reservations.Release(ctx, p.ReservationID, caller.AgentID)
		})

	Register(d, "renew_file_reservations_by_agent", "Renew the expiry of every active file reservation held by the caller.", "file_reservation_paths", false,
		func(ctx context.Context, d *Dispatcher, caller Caller, p AcquireFileReservationsParams) (any, error) {
			ttl := p.TTLHours
			if ttl <= 0 {
				ttl = 4
			}
			expires := time.Now().UTC().Add(time.Duration(ttl * float64(time.Hour))).Format(time.RFC3339)
			var results []*reservation.Reservation
			active, err := d.Reservations.ListActiveForProject(ctx, caller.ProjectID)
			if err != nil {
				return nil, err
			}
			for _, r := range active {
				if r.AgentID != caller.AgentID {
					continue
				}
				if err := d.Reservations.Renew(ctx, r.ID, expires); err != nil {
					return nil, err
				}
				results = append(results, r)
			}
			return results, nil
		})

	Register(d, "list_reservations", "List active file-path reservations for the caller's project.", "", false,
		func(ctx context.Context, d *Dispatcher, caller Caller, p ListReservationsParams) (any, error) {
			return d.Reservations.ListActiveForProject(ctx, caller.ProjectID)
		})
}

// --- buildslot (H), feature-gated on worktrees_enabled ---

type AcquireBuildSlotParams struct {
	SlotName   string `json:"slot_name" desc:"name of the mutually-exclusive build slot, e.g. \"ci\" or \"deploy\""`
	TTLSeconds int    `json:"ttl_seconds,omitempty" desc:"seconds until the slot expires; defaults to 3600"`
}

type ReleaseBuildSlotParams struct {
	SlotID int64 `json:"slot_id" desc:"id of the slot to release"`
}

type ListBuildSlotsParams struct{}

func registerBuildSlotTools(d *Dispatcher) {
	Register(d, "acquire_build_slot", "Acquire a mutually-exclusive build/deploy slot; fails if already held.", "", true,
		func(ctx context.Context, d *Dispatcher, caller Caller, p AcquireBuildSlotParams) (any, error) {
			ttl := p.TTLSeconds
			if ttl <= 0 {
				ttl = 3600
			}
			slot, err := d.BuildSlots.Acquire(ctx, caller.ProjectID, caller.AgentID, p.SlotName, ttl)
			if err != nil {
				var held *buildslot.AlreadyHeld
				if errors.As(err, &held) {
					return nil, &apperr.Conflict{Kind: "build_slot", Message: err.Error()}
				}
				return nil, err
			}
			return slot, nil
		})

	Register(d, "release_build_slot", "Release a held build slot.", "", true,
		func(ctx context.Context, d *Dispatcher, caller Caller, p ReleaseBuildSlotParams) (any, error) {
			return nil, d.BuildSlots.Release(ctx, p.SlotID)
		})

	Register(d, "list_build_slots", "List active build slots for the caller's project.", "", true,
		func(ctx context.Context, d *Dispatcher, caller Caller, p ListBuildSlotsParams) (any, error) {
			return d.BuildSlots.ListActive(ctx, caller.ProjectID)
		})
}

// --- escalation (I) ---

type RunEscalationSweepParams struct {
	ThresholdHours float64 `json:"threshold_hours,omitempty" desc:"overdue age threshold in hours; defaults to 24"`
	Mode           string  `json:"mode,omitempty" desc:"one of log|file_reservation|overseer; defaults to log"`
	DryRun         bool    `json:"dry_run,omitempty" desc:"report actions without taking them"`
}

func registerEscalationTools(d *Dispatcher) {
	Register(d, "run_escalation_sweep", "Sweep overdue acknowledgments and route them to the configured escalation channel.", "", false,
		func(ctx context.Context, d *Dispatcher, caller Caller, p RunEscalationSweepParams) (any, error) {
			hours := p.ThresholdHours
			if hours <= 0 {
				hours = 24
			}
			mode := escalation.Mode(p.Mode)
			if mode == "" {
				mode = escalation.ModeLog
			}
			return d.Escalation.Sweep(ctx, time.Duration(hours*float64(time.Hour)), mode, p.DryRun)
		})
}

// --- observability (M) ---

type ClaimReviewParams struct {
	MessageID int64 `json:"message_id" desc:"id of the message whose thread is being claimed for review"`
}

type GetActivityFeedParams struct {
	Limit int `json:"limit,omitempty" desc:"maximum number of items to return; defaults to 50"`
}

func registerObservabilityTools(d *Dispatcher) {
	Register(d, "claim_review", "Claim a thread for review, posting a [REVIEWING] follow-up; refuses if already under review.", "", false,
		func(ctx context.Context, d *Dispatcher, caller Caller, p ClaimReviewParams) (any, error) {
			var warnings []observability.Mistake
			if priorState, err := d.Observability.ReviewStateForMessage(ctx, p.MessageID); err == nil {
				warnings = observability.DetectStaleReviewClaim(priorState)
			}

			reviewerName := ""
			if reviewer, err := d.Identity.GetByID(ctx, caller.AgentID); err == nil {
				reviewerName = reviewer.Name
			}

			msg, err := d.Observability.ClaimReview(ctx, d.Mailbox, p.MessageID, caller.AgentID, reviewerName)
			if err != nil {
				return nil, err
			}
			if len(warnings) == 0 {
				return msg, nil
			}
			return &WithWarnings{Result: msg, Warnings: warnings}, nil
		})

	Register(d, "get_activity_feed", "Fetch the project's recent messages, tool invocations, and agent registrations, merged and sorted newest-first.", "", false,
		func(ctx context.Context, d *Dispatcher, caller Caller, p GetActivityFeedParams) (any, error) {
			limit := p.Limit
			if limit <= 0 {
				limit = 50
			}
			return d.Observability.Feed(ctx, caller.ProjectID, limit)
		})
}

// --- export (K) ---

type ExportResult struct {
	Format  string `json:"format"`
	Content string `json:"content"`
}

type ExportMessagesParams struct {
	Format string `json:"format,omitempty" desc:"html, json, markdown, or csv; defaults to markdown"`
	Scrub  string `json:"scrub,omitempty" desc:"none, standard, or aggressive PII redaction; defaults to none"`
}

type ExportArchiveSnapshotParams struct {
	Message string `json:"message,omitempty" desc:"commit message for the archive snapshot"`
}

type ArchiveSnapshotResult struct {
	CommitHash string `json:"commit_hash"`
}

func registerExportTools(d *Dispatcher) {
	Register(d, "export_messages", "Render a project's recent messages as html, json, markdown, or csv, with optional PII scrubbing.", "", false,
		func(ctx context.Context, d *Dispatcher, caller Caller, p ExportMessagesParams) (any, error) {
			format := exportengine.Format(p.Format)
			if format == "" {
				format = exportengine.FormatMarkdown
			}
			scrub := exportengine.ScrubMode(p.Scrub)
			if scrub == "" {
				scrub = exportengine.ScrubNone
			}
			body, err := d.Export.Export(ctx, caller.ProjectID, format, scrub)
			if err != nil {
				return nil, err
			}
			return &ExportResult{Format: string(format), Content: string(body)}, nil
		})

	Register(d, "export_archive_snapshot", "Render a project's recent messages as Markdown and commit the snapshot to the audit archive.", "", false,
		func(ctx context.Context, d *Dispatcher, caller Caller, p ExportArchiveSnapshotParams) (any, error) {
			project, err := d.Identity.GetProjectByID(ctx, caller.ProjectID)
			if err != nil {
				return nil, err
			}
			message := p.Message
			if message == "" {
				message = "export: " + project.Slug + " mailbox snapshot"
			}
			hash, err := d.Export.CommitArchive(ctx, caller.ProjectID, project.Slug, message)
			if err != nil {
				return nil, err
			}
			return &ArchiveSnapshotResult{CommitHash: hash}, nil
		})
}

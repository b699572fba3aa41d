package observability

import (
	"context"
	"strconv"
	"strings"

	"github.com/emergent-company/agentmail/internal/apperr"
	"github.com/emergent-company/agentmail/internal/mailbox"
)

// ReviewState is the current position of a thread in the review workflow,
// derived from its subject-line prefix markers.
type ReviewState string

const (
	ReviewNone         ReviewState = "none"
	ReviewCompletion   ReviewState = "completion"
	ReviewReviewing    ReviewState = "reviewing"
	ReviewApproved     ReviewState = "approved"
	ReviewAcknowledged ReviewState = "acknowledged"
)

var reviewPrefixes = []struct {
	prefix string
	state  ReviewState
}{
	{"[ACKNOWLEDGED]", ReviewAcknowledged},
	{"[APPROVED]", ReviewApproved},
	{"[REVIEWING]", ReviewReviewing},
	{"[COMPLETION]", ReviewCompletion},
}

// ParseReviewState scans subjects (chronological order, oldest first) for
// the last recognized marker and returns the state it names. A subject
// with no recognized prefix does not reset the state — only a recognized
// marker advances it — so the state is simply "the most recent marker
// seen", per spec §4.M.
func ParseReviewState(subjects []string) ReviewState {
	state := ReviewNone
	for _, subject := range subjects {
		trimmed := strings.TrimSpace(subject)
		for _, candidate := range reviewPrefixes {
			if strings.HasPrefix(trimmed, candidate.prefix) {
				state = candidate.state
				break
			}
		}
	}
	return state
}

// messageRow is the minimal projection ClaimReview needs from the
// messages table to locate a thread and its current sender.
type messageRow struct {
	ProjectID int64
	SenderID  int64
	ThreadID  string
	Subject   string
}

func (s *Service) fetchMessage(ctx context.Context, messageID int64) (*messageRow, error) {
	row := s.store.DB().QueryRowContext(ctx, `
		SELECT project_id, sender_id, COALESCE(thread_id, ''), subject
		FROM messages WHERE id = ?`, messageID)

	m := &messageRow{}
	if err := row.Scan(&m.ProjectID, &m.SenderID, &m.ThreadID, &m.Subject); err != nil {
		return nil, &apperr.NotFound{Kind: "message", Identifier: strconv.FormatInt(messageID, 10)}
	}
	return m, nil
}

func (s *Service) threadSubjects(ctx context.Context, projectID int64, threadID string) ([]string, error) {
	rows, err := s.store.DB().QueryContext(ctx, `
		SELECT subject FROM messages
		WHERE project_id = ? AND thread_id = ?
		ORDER BY created_ts ASC, id ASC`, projectID, threadID)
	if err != nil {
		return nil, s.wrapStorage("query thread subjects", err)
	}
	defer rows.Close()

	var subjects []string
	for rows.Next() {
		var subject string
		if err := rows.Scan(&subject); err != nil {
			return nil, s.wrapStorage("scan thread subject", err)
		}
		subjects = append(subjects, subject)
	}
	return subjects, rows.Err()
}

// ReviewStateForMessage resolves the thread a message belongs to (itself,
// if it has no thread_id) and returns that thread's current review state,
// without claiming it. ClaimReview repeats the same lookup for its own
// refusal check; the dispatcher calls this for stale-claim mistake
// detection before it calls ClaimReview.
func (s *Service) ReviewStateForMessage(ctx context.Context, messageID int64) (ReviewState, error) {
	msg, err := s.fetchMessage(ctx, messageID)
	if err != nil {
		return ReviewNone, err
	}

	threadID := msg.ThreadID
	if threadID == "" {
		threadID = strconv.FormatInt(messageID, 10)
	}

	subjects, err := s.threadSubjects(ctx, msg.ProjectID, threadID)
	if err != nil {
		return ReviewNone, err
	}
	if len(subjects) == 0 {
		subjects = []string{msg.Subject}
	}
	return ParseReviewState(subjects), nil
}

// ClaimReview implements spec §4.M's claim_review operation: it refuses
// when the thread's current state is already Reviewing, and otherwise
// posts a "[REVIEWING]" follow-up addressed to the original sender,
// threaded alongside the claimed message.
//
// A message with no thread_id of its own is treated as the sole member of
// a thread keyed by its own id, so a follow-up can still be threaded to
// it without retroactively rewriting the original row.
func (s *Service) ClaimReview(ctx context.Context, mailboxSvc *mailbox.Service, messageID, reviewerAgentID int64, reviewerName string) (*mailbox.Message, error) {
	msg, err := s.fetchMessage(ctx, messageID)
	if err != nil {
		return nil, err
	}

	threadID := msg.ThreadID
	if threadID == "" {
		threadID = strconv.FormatInt(messageID, 10)
	}

	subjects, err := s.threadSubjects(ctx, msg.ProjectID, threadID)
	if err != nil {
		return nil, err
	}
	if len(subjects) == 0 {
		subjects = []string{msg.Subject}
	}

	if ParseReviewState(subjects) == ReviewReviewing {
		return nil, &apperr.Conflict{Kind: "review_already_claimed", Message: "thread is already under review"}
	}

	return mailboxSvc.Create(ctx, mailbox.CreateInput{
		ProjectID:  msg.ProjectID,
		SenderID:   reviewerAgentID,
		SenderName: reviewerName,
		Recipients: []mailbox.RecipientInput{{AgentID: msg.SenderID, Role: mailbox.RoleTo}},
		Subject:    "[REVIEWING] " + msg.Subject,
		BodyMD:     reviewerName + " has claimed this thread for review.",
		ThreadID:   threadID,
		Importance: mailbox.ImportanceNormal,
	})
}

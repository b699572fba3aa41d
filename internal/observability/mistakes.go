package observability

import (
	"strconv"

	"github.com/emergent-company/agentmail/internal/reservation"
)

// Mistake is an advisory, never-blocking observation surfaced alongside a
// successful tool call's result, per spec §4.M's supplemented
// mistake-detection pass (see SPEC_FULL.md §4.M expansion). Detecting one
// never changes whether the underlying operation succeeded.
type Mistake struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// DetectSelfMessage flags a message whose recipients (To + CC) are all the
// sender — almost certainly not what the agent meant to do, since nobody
// else will ever see it.
func DetectSelfMessage(senderID int64, recipientIDs []int64) []Mistake {
	if len(recipientIDs) == 0 {
		return nil
	}
	for _, id := range recipientIDs {
		if id != senderID {
			return nil
		}
	}
	return []Mistake{{
		Code:    "self_message",
		Message: "every recipient is the sender; this message will never reach another agent",
	}}
}

// DetectRedundantReservation flags acquiring a pattern the same agent
// already holds exclusively and un-expired — acquisition never fails, so
// this would silently create a second, overlapping row rather than an
// error, and is worth a warning.
func DetectRedundantReservation(agentID int64, pattern string, exclusive bool, active []*reservation.Reservation) []Mistake {
	if !exclusive {
		return nil
	}
	for _, r := range active {
		if r.AgentID != agentID || !r.Exclusive {
			continue
		}
		if r.PathPattern == pattern {
			return []Mistake{{
				Code:    "redundant_reservation",
				Message: "you already exclusively hold this exact pattern (reservation " + strconv.FormatInt(r.ID, 10) + ")",
			}}
		}
	}
	return nil
}

// DetectStaleReviewClaim flags claiming review on a thread that has already
// reached the terminal Acknowledged state — ClaimReview only refuses on
// Reviewing, so an Acknowledged thread would otherwise reopen silently.
func DetectStaleReviewClaim(priorState ReviewState) []Mistake {
	if priorState == ReviewAcknowledged {
		return []Mistake{{
			Code:    "stale_review_claim",
			Message: "thread was already acknowledged; claiming review now reopens a concluded thread",
		}}
	}
	return nil
}


package dispatch

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emergent-company/agentmail/internal/apperr"
	"github.com/emergent-company/agentmail/internal/archive"
	"github.com/emergent-company/agentmail/internal/buildslot"
	"github.com/emergent-company/agentmail/internal/escalation"
	"github.com/emergent-company/agentmail/internal/exportengine"
	"github.com/emergent-company/agentmail/internal/identity"
	"github.com/emergent-company/agentmail/internal/mailbox"
	"github.com/emergent-company/agentmail/internal/observability"
	"github.com/emergent-company/agentmail/internal/repocache"
	"github.com/emergent-company/agentmail/internal/reservation"
	"github.com/emergent-company/agentmail/internal/storage"
)

type testHarness struct {
	d        *Dispatcher
	identity *identity.Service
}

func newHarness(t *testing.T, worktreesEnabled bool) *testHarness {
	t.Helper()
	dir := t.TempDir()

	store, err := storage.Open(filepath.Join(dir, "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	archivePath := filepath.Join(dir, "archive")
	repos := repocache.New(4, func(path string) (*archive.Repo, error) {
		return archive.Open(path, archive.Identity{Name: "test", Email: "test@localhost"})
	})

	identitySvc := identity.New(store, repos, nil, identity.ModeDir, archivePath)
	mailboxSvc := mailbox.New(store, repos, nil, archivePath)
	reservationSvc := reservation.New(store, nil)
	buildSlotSvc := buildslot.New(store, nil)
	escalationSvc := escalation.New(mailboxSvc, reservationSvc, nil, 1)
	observabilitySvc := observability.New(store, nil)
	exportSvc := exportengine.New(store, repos, nil, archivePath)

	d := New(store, Deps{
		Identity: identitySvc, Mailbox: mailboxSvc,
		Reservations: reservationSvc, BuildSlots: buildSlotSvc, Escalation: escalationSvc,
		Observability: observabilitySvc, Export: exportSvc,
	}, nil, worktreesEnabled)
	RegisterDefaultTools(d)

	return &testHarness{d: d, identity: identitySvc}
}

func (h *testHarness) registerAgent(t *testing.T, humanKey, name string) (projectID, agentID int64) {
	t.Helper()
	ctx := context.Background()
	project, err := h.identity.EnsureProject(ctx, humanKey)
	require.NoError(t, err)
	agent, err := h.identity.Register(ctx, project, name, "test", "test-model", "")
	require.NoError(t, err)
	return project.ID, agent.ID
}

func mustJSON(t *testing.T, v any) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return b
}

func TestDispatch_AliasResolvesBeforeLookup(t *testing.T) {
	h := newHarness(t, true)
	projectID, agentID := h.registerAgent(t, "/tmp/demo", "alice")
	h.registerAgent(t, "/tmp/demo", "bob")

	_, err := h.d.Dispatch(context.Background(), Caller{ProjectID: projectID, AgentID: agentID},
		"fetch_inbox", mustJSON(t, ListInboxParams{}))
	require.NoError(t, err)
}

func TestDispatch_UnknownToolIsInvalidInput(t *testing.T) {
	h := newHarness(t, true)
	_, err := h.d.Dispatch(context.Background(), Caller{}, "not_a_real_tool", nil)
	require.Error(t, err)
	assert.Equal(t, apperr.CodeInvalidInput, apperr.CodeOf(err))
}

func TestDispatch_BuildSlotToolsRejectedWhenWorktreesDisabled(t *testing.T) {
	h := newHarness(t, false)
	projectID, agentID := h.registerAgent(t, "/tmp/demo", "alice")

	_, err := h.d.Dispatch(context.Background(), Caller{ProjectID: projectID, AgentID: agentID},
		"acquire_build_slot", mustJSON(t, AcquireBuildSlotParams{SlotName: "ci"}))
	require.Error(t, err)
	assert.Equal(t, apperr.CodeInvalidInput, apperr.CodeOf(err))
}

func TestDispatch_BuildSlotToolsWorkWhenWorktreesEnabled(t *testing.T) {
	h := newHarness(t, true)
	projectID, agentID := h.registerAgent(t, "/tmp/demo", "alice")

	result, err := h.d.Dispatch(context.Background(), Caller{ProjectID: projectID, AgentID: agentID},
		"acquire_build_slot", mustJSON(t, AcquireBuildSlotParams{SlotName: "ci"}))
	require.NoError(t, err)
	slot, ok := result.(*buildslot.Slot)
	require.True(t, ok)
	assert.Equal(t, "ci", slot.SlotName)
}

func TestDispatch_SendMessageValidatesRecipients(t *testing.T) {
	h := newHarness(t, true)
	projectID, agentID := h.registerAgent(t, "/tmp/demo", "alice")

	_, err := h.d.Dispatch(context.Background(), Caller{ProjectID: projectID, AgentID: agentID},
		"send_message", mustJSON(t, SendMessageParams{Subject: "hi", BodyMD: "body"}))
	require.Error(t, err)
	assert.Equal(t, apperr.CodeInvalidInput, apperr.CodeOf(err))
}

func TestDispatch_SendMessageRecordsSuccessMetric(t *testing.T) {
	h := newHarness(t, true)
	projectID, aliceID := h.registerAgent(t, "/tmp/demo", "alice")
	_, bobID := h.registerAgent(t, "/tmp/demo", "bob")

	_, err := h.d.Dispatch(context.Background(), Caller{ProjectID: projectID, AgentID: aliceID},
		"send_message", mustJSON(t, SendMessageParams{Recipients: []int64{bobID}, Subject: "hi", BodyMD: "body"}))
	require.NoError(t, err)

	var count int
	row := h.d.store.DB().QueryRowContext(context.Background(),
		`SELECT COUNT(1) FROM tool_metrics WHERE tool_name = ? AND status = 'success'`, "send_message")
	require.NoError(t, row.Scan(&count))
	assert.Equal(t, 1, count)
}

func TestDispatch_CapabilityDeniedWhenAgentLacksCapability(t *testing.T) {
	h := newHarness(t, true)
	projectID, aliceID := h.registerAgent(t, "/tmp/demo", "alice")
	_, bobID := h.registerAgent(t, "/tmp/demo", "bob")

	ctx := context.Background()
	_, err := h.d.store.DB().ExecContext(ctx, `DELETE FROM capabilities WHERE agent_id = ? AND name = 'send_message'`, aliceID)
	require.NoError(t, err)

	_, err = h.d.Dispatch(ctx, Caller{ProjectID: projectID, AgentID: aliceID},
		"send_message", mustJSON(t, SendMessageParams{Recipients: []int64{bobID}, Subject: "hi", BodyMD: "body"}))
	require.Error(t, err)
	assert.Equal(t, apperr.CodeCapabilityDenied, apperr.CodeOf(err))
}

func TestDispatch_SendMessageToOnlySelfReturnsWarning(t *testing.T) {
	h := newHarness(t, true)
	projectID, aliceID := h.registerAgent(t, "/tmp/demo", "alice")

	result, err := h.d.Dispatch(context.Background(), Caller{ProjectID: projectID, AgentID: aliceID},
		"send_message", mustJSON(t, SendMessageParams{Recipients: []int64{aliceID}, Subject: "hi", BodyMD: "body"}))
	require.NoError(t, err)

	withWarnings, ok := result.(*WithWarnings)
	require.True(t, ok, "expected a self-message warning to be attached")
	require.Len(t, withWarnings.Warnings, 1)
	assert.Equal(t, "self_message", withWarnings.Warnings[0].Code)
}

func TestDispatch_SendMessageToOtherAgentHasNoWarning(t *testing.T) {
	h := newHarness(t, true)
	projectID, aliceID := h.registerAgent(t, "/tmp/demo", "alice")
	_, bobID := h.registerAgent(t, "/tmp/demo", "bob")

	result, err := h.d.Dispatch(context.Background(), Caller{ProjectID: projectID, AgentID: aliceID},
		"send_message", mustJSON(t, SendMessageParams{Recipients: []int64{bobID}, Subject: "hi", BodyMD: "body"}))
	require.NoError(t, err)

	_, ok := result.(*WithWarnings)
	assert.False(t, ok, "no warning expected when the recipient isn't the sender")
}

func TestDispatch_AcquireFileReservationsFlagsRedundantExclusiveHold(t *testing.T) {
	h := newHarness(t, true)
	projectID, aliceID := h.registerAgent(t, "/tmp/demo", "alice")

	_, err := h.d.Dispatch(context.Background(), Caller{ProjectID: projectID, AgentID: aliceID},
		"acquire_file_reservations", mustJSON(t, AcquireFileReservationsParams{Patterns: []string{"src/**/*.go"}, Exclusive: true}))
	require.NoError(t, err)

	result, err := h.d.Dispatch(context.Background(), Caller{ProjectID: projectID, AgentID: aliceID},
		"acquire_file_reservations", mustJSON(t, AcquireFileReservationsParams{Patterns: []string{"src/**/*.go"}, Exclusive: true}))
	require.NoError(t, err)

	withWarnings, ok := result.(*WithWarnings)
	require.True(t, ok, "expected a redundant-reservation warning on the second acquire")
	require.Len(t, withWarnings.Warnings, 1)
	assert.Equal(t, "redundant_reservation", withWarnings.Warnings[0].Code)
}

func TestDispatch_ClaimReviewPostsFollowUpAndRefusesWhenAlreadyReviewing(t *testing.T) {
	h := newHarness(t, true)
	projectID, aliceID := h.registerAgent(t, "/tmp/demo", "alice")
	_, bobID := h.registerAgent(t, "/tmp/demo", "bob")
	ctx := context.Background()

	sendResult, err := h.d.Dispatch(ctx, Caller{ProjectID: projectID, AgentID: aliceID},
		"send_message", mustJSON(t, SendMessageParams{Recipients: []int64{bobID}, Subject: "[COMPLETION] done", BodyMD: "body"}))
	require.NoError(t, err)
	original, ok := sendResult.(*mailbox.Message)
	require.True(t, ok)

	claimResult, err := h.d.Dispatch(ctx, Caller{ProjectID: projectID, AgentID: bobID},
		"claim_review", mustJSON(t, ClaimReviewParams{MessageID: original.ID}))
	require.NoError(t, err)
	follow, ok := claimResult.(*mailbox.Message)
	require.True(t, ok)
	assert.Contains(t, follow.Subject, "[REVIEWING]")

	_, err = h.d.Dispatch(ctx, Caller{ProjectID: projectID, AgentID: aliceID},
		"claim_review", mustJSON(t, ClaimReviewParams{MessageID: original.ID}))
	require.Error(t, err)
	assert.Equal(t, apperr.CodeConflict, apperr.CodeOf(err))
}

func TestDispatch_GetActivityFeedMergesMessagesAndRegistrations(t *testing.T) {
	h := newHarness(t, true)
	projectID, aliceID := h.registerAgent(t, "/tmp/demo", "alice")
	_, bobID := h.registerAgent(t, "/tmp/demo", "bob")

	_, err := h.d.Dispatch(context.Background(), Caller{ProjectID: projectID, AgentID: aliceID},
		"send_message", mustJSON(t, SendMessageParams{Recipients: []int64{bobID}, Subject: "hi", BodyMD: "body"}))
	require.NoError(t, err)

	result, err := h.d.Dispatch(context.Background(), Caller{ProjectID: projectID, AgentID: aliceID},
		"get_activity_feed", mustJSON(t, GetActivityFeedParams{}))
	require.NoError(t, err)

	items, ok := result.([]*observability.ActivityItem)
	require.True(t, ok)
	assert.NotEmpty(t, items)

	var kinds []observability.ActivityKind
	for _, item := range items {
		kinds = append(kinds, item.Kind)
	}
	assert.Contains(t, kinds, observability.ActivityMessage)
	assert.Contains(t, kinds, observability.ActivityAgent)
}

func TestDispatch_ToolStatsCountsRealSuccessAndErrorStatuses(t *testing.T) {
	h := newHarness(t, true)
	projectID, aliceID := h.registerAgent(t, "/tmp/demo", "alice")
	_, bobID := h.registerAgent(t, "/tmp/demo", "bob")
	ctx := context.Background()

	_, err := h.d.Dispatch(ctx, Caller{ProjectID: projectID, AgentID: aliceID},
		"send_message", mustJSON(t, SendMessageParams{Recipients: []int64{bobID}, Subject: "hi", BodyMD: "body"}))
	require.NoError(t, err)

	_, err = h.d.Dispatch(ctx, Caller{ProjectID: projectID, AgentID: aliceID},
		"send_message", mustJSON(t, SendMessageParams{Subject: "hi", BodyMD: "body"}))
	require.Error(t, err)

	stats, err := h.d.Observability.ToolStats(ctx, &projectID)
	require.NoError(t, err)

	var sendStat *observability.ToolStat
	for _, s := range stats {
		if s.ToolName == "send_message" {
			sendStat = s
		}
	}
	require.NotNil(t, sendStat)
	assert.Equal(t, int64(2), sendStat.Count)
	assert.Equal(t, int64(1), sendStat.ErrorCount)
}

func TestDispatch_RequestRespondAndListContacts(t *testing.T) {
	h := newHarness(t, true)
	projectID, aliceID := h.registerAgent(t, "/tmp/demo-a", "alice")
	bobProjectID, bobID := h.registerAgent(t, "/tmp/demo-b", "bob")
	ctx := context.Background()

	var bobProjectSlug string
	require.NoError(t, h.d.store.DB().QueryRowContext(ctx, `SELECT slug FROM projects WHERE id = ?`, bobProjectID).Scan(&bobProjectSlug))

	result, err := h.d.Dispatch(ctx, Caller{ProjectID: projectID, AgentID: aliceID},
		"request_contact", mustJSON(t, RequestContactParams{TargetProjectSlug: bobProjectSlug, TargetAgentName: "bob", Reason: "coordinating a shared module"}))
	require.NoError(t, err)
	link, ok := result.(*identity.ContactLink)
	require.True(t, ok)
	assert.Equal(t, "pending", link.Status)

	_, err = h.d.Dispatch(ctx, Caller{ProjectID: bobProjectID, AgentID: bobID},
		"respond_contact", mustJSON(t, RespondContactParams{LinkID: link.ID, Accept: false}))
	require.NoError(t, err)

	listResult, err := h.d.Dispatch(ctx, Caller{ProjectID: projectID, AgentID: aliceID},
		"list_contacts", mustJSON(t, ListContactsParams{}))
	require.NoError(t, err)
	links, ok := listResult.([]*identity.ContactLink)
	require.True(t, ok)
	require.Len(t, links, 1)
	assert.Equal(t, "rejected", links[0].Status)
}

func TestDispatch_ExportMessagesRendersMarkdownByDefault(t *testing.T) {
	h := newHarness(t, true)
	projectID, aliceID := h.registerAgent(t, "/tmp/demo", "alice")
	_, bobID := h.registerAgent(t, "/tmp/demo", "bob")

	_, err := h.d.Dispatch(context.Background(), Caller{ProjectID: projectID, AgentID: aliceID},
		"send_message", mustJSON(t, SendMessageParams{Recipients: []int64{bobID}, Subject: "status", BodyMD: "body"}))
	require.NoError(t, err)

	result, err := h.d.Dispatch(context.Background(), Caller{ProjectID: projectID, AgentID: aliceID},
		"export_messages", mustJSON(t, ExportMessagesParams{}))
	require.NoError(t, err)

	export, ok := result.(*ExportResult)
	require.True(t, ok)
	assert.Equal(t, "markdown", export.Format)
	assert.Contains(t, export.Content, "status")
}

func TestDispatch_ExportArchiveSnapshotCommitsMarkdown(t *testing.T) {
	h := newHarness(t, true)
	projectID, aliceID := h.registerAgent(t, "/tmp/demo", "alice")
	_, bobID := h.registerAgent(t, "/tmp/demo", "bob")

	_, err := h.d.Dispatch(context.Background(), Caller{ProjectID: projectID, AgentID: aliceID},
		"send_message", mustJSON(t, SendMessageParams{Recipients: []int64{bobID}, Subject: "status", BodyMD: "body"}))
	require.NoError(t, err)

	result, err := h.d.Dispatch(context.Background(), Caller{ProjectID: projectID, AgentID: aliceID},
		"export_archive_snapshot", mustJSON(t, ExportArchiveSnapshotParams{}))
	require.NoError(t, err)

	snapshot, ok := result.(*ArchiveSnapshotResult)
	require.True(t, ok)
	assert.NotEmpty(t, snapshot.CommitHash)
}

func TestListSchemas_SortsParametersByName(t *testing.T) {
	h := newHarness(t, true)
	schemas := h.d.ListSchemas()
	require.NotEmpty(t, schemas)

	for _, s := range schemas {
		if s.Name != "send_message" {
			continue
		}
		for i := 1; i < len(s.Parameters); i++ {
			assert.LessOrEqual(t, s.Parameters[i-1].Name, s.Parameters[i].Name)
		}
		return
	}
	t.Fatal("send_message schema not found")
}

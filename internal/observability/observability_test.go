package observability

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emergent-company/agentmail/internal/archive"
	"github.com/emergent-company/agentmail/internal/mailbox"
	"github.com/emergent-company/agentmail/internal/repocache"
	"github.com/emergent-company/agentmail/internal/storage"
)

func newTestEnv(t *testing.T) (*Service, *mailbox.Service, *storage.Store, int64, []int64) {
	t.Helper()
	dir := t.TempDir()
	store, err := storage.Open(filepath.Join(dir, "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	ctx := context.Background()
	res, err := store.DB().ExecContext(ctx,
		`INSERT INTO projects (slug, human_key, created_at) VALUES (?, ?, ?)`,
		"demo-abc", "/tmp/demo", storage.TimeString(storage.Now()))
	require.NoError(t, err)
	projectID, err := res.LastInsertId()
	require.NoError(t, err)

	var agentIDs []int64
	for _, name := range []string{"alice", "bob"} {
		res, err := store.DB().ExecContext(ctx,
			`INSERT INTO agents (project_id, name, program, inception_ts, last_active_ts) VALUES (?, ?, ?, ?, ?)`,
			projectID, name, "claude-code", storage.TimeString(storage.Now()), storage.TimeString(storage.Now()))
		require.NoError(t, err)
		id, err := res.LastInsertId()
		require.NoError(t, err)
		agentIDs = append(agentIDs, id)
	}

	archivePath := filepath.Join(dir, "archive")
	repos := repocache.New(4, func(path string) (*archive.Repo, error) {
		return archive.Open(path, archive.Identity{Name: "test", Email: "test@localhost"})
	})

	return New(store, nil), mailbox.New(store, repos, nil, archivePath), store, projectID, agentIDs
}

func TestParseReviewState_NoMarkersIsNone(t *testing.T) {
	assert.Equal(t, ReviewNone, ParseReviewState([]string{"hello", "world"}))
}

func TestParseReviewState_ReturnsMostRecentMarker(t *testing.T) {
	state := ParseReviewState([]string{
		"[COMPLETION] finished the feature",
		"[REVIEWING] taking a look",
		"[APPROVED] looks good",
	})
	assert.Equal(t, ReviewApproved, state)
}

func TestParseReviewState_UnmarkedFollowUpDoesNotResetState(t *testing.T) {
	state := ParseReviewState([]string{
		"[REVIEWING] taking a look",
		"still working on it, one sec",
	})
	assert.Equal(t, ReviewReviewing, state)
}

func TestClaimReview_PostsReviewingFollowUp(t *testing.T) {
	obs, mb, _, projectID, agents := newTestEnv(t)
	ctx := context.Background()

	original, err := mb.Create(ctx, mailbox.CreateInput{
		ProjectID: projectID, SenderID: agents[0], SenderName: "alice",
		Recipients: []mailbox.RecipientInput{{AgentID: agents[1], Role: mailbox.RoleTo}},
		Subject:    "[COMPLETION] ship the export engine", BodyMD: "done", ThreadID: "thread-1",
	})
	require.NoError(t, err)

	follow, err := obs.ClaimReview(ctx, mb, original.ID, agents[1], "bob")
	require.NoError(t, err)
	assert.Contains(t, follow.Subject, "[REVIEWING]")
	assert.Equal(t, "thread-1", follow.ThreadID)
}

func TestClaimReview_RefusesWhenAlreadyReviewing(t *testing.T) {
	obs, mb, _, projectID, agents := newTestEnv(t)
	ctx := context.Background()

	original, err := mb.Create(ctx, mailbox.CreateInput{
		ProjectID: projectID, SenderID: agents[0], SenderName: "alice",
		Recipients: []mailbox.RecipientInput{{AgentID: agents[1], Role: mailbox.RoleTo}},
		Subject:    "[COMPLETION] ship the export engine", BodyMD: "done", ThreadID: "thread-2",
	})
	require.NoError(t, err)

	_, err = obs.ClaimReview(ctx, mb, original.ID, agents[1], "bob")
	require.NoError(t, err)

	_, err = obs.ClaimReview(ctx, mb, original.ID, agents[0], "alice")
	require.Error(t, err)
}

func TestClaimReview_WithoutExistingThreadIDSelfThreads(t *testing.T) {
	obs, mb, _, projectID, agents := newTestEnv(t)
	ctx := context.Background()

	original, err := mb.Create(ctx, mailbox.CreateInput{
		ProjectID: projectID, SenderID: agents[0], SenderName: "alice",
		Recipients: []mailbox.RecipientInput{{AgentID: agents[1], Role: mailbox.RoleTo}},
		Subject:    "[COMPLETION] untracked thread", BodyMD: "done",
	})
	require.NoError(t, err)

	follow, err := obs.ClaimReview(ctx, mb, original.ID, agents[1], "bob")
	require.NoError(t, err)
	assert.NotEmpty(t, follow.ThreadID)
}

func TestReviewStateForMessage_ReflectsLatestMarkerWithoutClaiming(t *testing.T) {
	obs, mb, _, projectID, agents := newTestEnv(t)
	ctx := context.Background()

	original, err := mb.Create(ctx, mailbox.CreateInput{
		ProjectID: projectID, SenderID: agents[0], SenderName: "alice",
		Recipients: []mailbox.RecipientInput{{AgentID: agents[1], Role: mailbox.RoleTo}},
		Subject:    "[COMPLETION] ship the export engine", BodyMD: "done", ThreadID: "thread-3",
	})
	require.NoError(t, err)

	state, err := obs.ReviewStateForMessage(ctx, original.ID)
	require.NoError(t, err)
	assert.Equal(t, ReviewCompletion, state)

	// Reading the state twice must not itself advance it.
	state, err = obs.ReviewStateForMessage(ctx, original.ID)
	require.NoError(t, err)
	assert.Equal(t, ReviewCompletion, state)
}

func TestFeed_MergesMessagesToolsAndAgentsDescending(t *testing.T) {
	obs, mb, store, projectID, agents := newTestEnv(t)
	ctx := context.Background()

	_, err := mb.Create(ctx, mailbox.CreateInput{
		ProjectID: projectID, SenderID: agents[0], SenderName: "alice",
		Recipients: []mailbox.RecipientInput{{AgentID: agents[1], Role: mailbox.RoleTo}},
		Subject:    "status update", BodyMD: "body",
	})
	require.NoError(t, err)

	_, err = store.DB().ExecContext(ctx, `
		INSERT INTO tool_metrics (tool_name, project_id, agent_id, status, duration_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		"send_message", projectID, agents[0], "success", 12, storage.TimeString(storage.Now()))
	require.NoError(t, err)

	items, err := obs.Feed(ctx, projectID, 10)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, len(items), 3)

	var kinds []ActivityKind
	for _, item := range items {
		kinds = append(kinds, item.Kind)
	}
	assert.Contains(t, kinds, ActivityMessage)
	assert.Contains(t, kinds, ActivityTool)
	assert.Contains(t, kinds, ActivityAgent)

	for i := 1; i < len(items); i++ {
		assert.GreaterOrEqual(t, items[i-1].CreatedAt, items[i].CreatedAt)
	}
}

func TestFeed_TruncatesToLimit(t *testing.T) {
	obs, mb, _, projectID, agents := newTestEnv(t)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		_, err := mb.Create(ctx, mailbox.CreateInput{
			ProjectID: projectID, SenderID: agents[0], SenderName: "alice",
			Recipients: []mailbox.RecipientInput{{AgentID: agents[1], Role: mailbox.RoleTo}},
			Subject:    "update", BodyMD: "body",
		})
		require.NoError(t, err)
	}

	items, err := obs.Feed(ctx, projectID, 2)
	require.NoError(t, err)
	assert.Len(t, items, 2)
}

func TestToolStats_AggregatesCountAvgAndErrors(t *testing.T) {
	obs, _, store, projectID, agents := newTestEnv(t)
	ctx := context.Background()

	rows := []struct {
		status   string
		duration int64
	}{
		{"success", 10}, {"success", 20}, {"error", 30},
	}
	for _, r := range rows {
		_, err := store.DB().ExecContext(ctx, `
			INSERT INTO tool_metrics (tool_name, project_id, agent_id, status, duration_ms, created_at)
			VALUES (?, ?, ?, ?, ?, ?)`,
			"send_message", projectID, agents[0], r.status, r.duration, storage.TimeString(storage.Now()))
		require.NoError(t, err)
	}

	stats, err := obs.ToolStats(ctx, &projectID)
	require.NoError(t, err)
	require.Len(t, stats, 1)
	assert.Equal(t, "send_message", stats[0].ToolName)
	assert.Equal(t, int64(3), stats[0].Count)
	assert.Equal(t, int64(1), stats[0].ErrorCount)
	assert.InDelta(t, 20.0, stats[0].AvgDurationMS, 0.01)
}

package escalation

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emergent-company/agentmail/internal/archive"
	"github.com/emergent-company/agentmail/internal/mailbox"
	"github.com/emergent-company/agentmail/internal/repocache"
	"github.com/emergent-company/agentmail/internal/reservation"
	"github.com/emergent-company/agentmail/internal/storage"
)

func newTestServices(t *testing.T) (*Service, *mailbox.Service, int64, []int64) {
	t.Helper()
	dir := t.TempDir()

	store, err := storage.Open(filepath.Join(dir, "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	archivePath := filepath.Join(dir, "archive")
	repos := repocache.New(4, func(path string) (*archive.Repo, error) {
		return archive.Open(path, archive.Identity{Name: "test", Email: "test@localhost"})
	})

	mailboxSvc := mailbox.New(store, repos, nil, archivePath)
	reservationSvc := reservation.New(store, nil)

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
			`INSERT INTO agents (project_id, name, inception_ts, last_active_ts) VALUES (?, ?, ?, ?)`,
			projectID, name, storage.TimeString(storage.Now()), storage.TimeString(storage.Now()))
		require.NoError(t, err)
		id, err := res.LastInsertId()
		require.NoError(t, err)
		agentIDs = append(agentIDs, id)
	}
	res, err = store.DB().ExecContext(ctx,
		`INSERT INTO agents (project_id, name, inception_ts, last_active_ts) VALUES (?, ?, ?, ?)`,
		projectID, "escalation-system", storage.TimeString(storage.Now()), storage.TimeString(storage.Now()))
	require.NoError(t, err)
	systemAgentID, err := res.LastInsertId()
	require.NoError(t, err)

	return New(mailboxSvc, reservationSvc, nil, systemAgentID), mailboxSvc, projectID, agentIDs
}

func createOverdueMessage(t *testing.T, mailboxSvc *mailbox.Service, projectID int64, agentIDs []int64) {
	t.Helper()
	ctx := context.Background()
	_, err := mailboxSvc.Create(ctx, mailbox.CreateInput{
		ProjectID: projectID, SenderID: agentIDs[0], SenderName: "alice",
		Recipients:  []mailbox.RecipientInput{{AgentID: agentIDs[1], Role: mailbox.RoleTo}},
		Subject:     "Please review",
		BodyMD:      "body",
		AckRequired: true,
	})
	require.NoError(t, err)
}

func TestSweep_LogMode_LiveRecordsLogged(t *testing.T) {
	svc, mailboxSvc, projectID, agentIDs := newTestServices(t)
	createOverdueMessage(t, mailboxSvc, projectID, agentIDs)

	results, err := svc.Sweep(context.Background(), 0, ModeLog, false)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.True(t, results[0].Success)
	assert.Equal(t, "logged", results[0].ActionTaken)
}

func TestSweep_LogMode_DryRunRecordsLoggedDryRun(t *testing.T) {
	svc, mailboxSvc, projectID, agentIDs := newTestServices(t)
	createOverdueMessage(t, mailboxSvc, projectID, agentIDs)

	results, err := svc.Sweep(context.Background(), 0, ModeLog, true)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "logged-dry-run", results[0].ActionTaken)
}

func TestSweep_FileReservationMode_CreatesReservation(t *testing.T) {
	svc, mailboxSvc, projectID, agentIDs := newTestServices(t)
	createOverdueMessage(t, mailboxSvc, projectID, agentIDs)

	results, err := svc.Sweep(context.Background(), 0, ModeFileReservation, false)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "reserved", results[0].ActionTaken)
	assert.Contains(t, results[0].Details, "messages/**/")

	active, err := svc.reservations.ListActiveForProject(context.Background(), projectID)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.False(t, active[0].Exclusive)
}

func TestSweep_FileReservationMode_DryRunCreatesNoReservation(t *testing.T) {
	svc, mailboxSvc, projectID, agentIDs := newTestServices(t)
	createOverdueMessage(t, mailboxSvc, projectID, agentIDs)

	results, err := svc.Sweep(context.Background(), 0, ModeFileReservation, true)
	require.NoError(t, err)
	assert.Equal(t, "would reserve", results[0].ActionTaken)

	active, err := svc.reservations.ListActiveForProject(context.Background(), projectID)
	require.NoError(t, err)
	assert.Empty(t, active)
}

func TestSweep_OverseerMode_PostsOverseerMessage(t *testing.T) {
	svc, mailboxSvc, projectID, agentIDs := newTestServices(t)
	createOverdueMessage(t, mailboxSvc, projectID, agentIDs)

	results, err := svc.Sweep(context.Background(), 0, ModeOverseer, false)
	require.NoError(t, err)
	assert.Equal(t, "notified", results[0].ActionTaken)

	posted, err := mailboxSvc.ListOverseerMessages(context.Background(), projectID, 10)
	require.NoError(t, err)
	require.Len(t, posted, 1)
	assert.Contains(t, posted[0].Subject, "[OVERDUE ACK]")
	assert.Equal(t, mailbox.ImportanceHigh, posted[0].Importance)
}

func TestSweep_RespectsThreshold(t *testing.T) {
	svc, mailboxSvc, projectID, agentIDs := newTestServices(t)
	createOverdueMessage(t, mailboxSvc, projectID, agentIDs)

	results, err := svc.Sweep(context.Background(), 24*time.Hour, ModeLog, false)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestSendReminder_ResendsWithPrefixAndAckRequired(t *testing.T) {
	svc, mailboxSvc, projectID, agentIDs := newTestServices(t)
	createOverdueMessage(t, mailboxSvc, projectID, agentIDs)

	overdue, err := mailboxSvc.ListOverdueAcks(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, overdue, 1)

	reminder, err := svc.SendReminder(context.Background(), overdue[0])
	require.NoError(t, err)
	assert.Contains(t, reminder.Subject, "REMINDER:")
	assert.True(t, reminder.AckRequired)
	assert.Equal(t, mailbox.ImportanceHigh, reminder.Importance)
	assert.Contains(t, reminder.BodyMD, "body", "resent body should carry the original message's body, not just its subject")
}

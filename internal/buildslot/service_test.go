package buildslot

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emergent-company/agentmail/internal/storage"
)

func newTestService(t *testing.T) (*Service, int64) {
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

	// The tests hold slots as agents 1-3; build_slots.agent_id references agents(id).
	for _, name := range []string{"agent-one", "agent-two", "agent-three"} {
		_, err := store.DB().ExecContext(ctx,
			`INSERT INTO agents (project_id, name, inception_ts, last_active_ts) VALUES (?, ?, ?, ?)`,
			projectID, name, storage.TimeString(storage.Now()), storage.TimeString(storage.Now()))
		require.NoError(t, err)
	}

	return New(store, nil), projectID
}

func TestAcquire_SucceedsWhenAbsent(t *testing.T) {
	svc, projectID := newTestService(t)
	slot, err := svc.Acquire(context.Background(), projectID, 1, "deploy", 3600)
	require.NoError(t, err)
	assert.NotZero(t, slot.ID)
	assert.Equal(t, "deploy", slot.SlotName)
}

func TestAcquire_FailsWithAlreadyHeldWhenActive(t *testing.T) {
	svc, projectID := newTestService(t)
	ctx := context.Background()

	_, err := svc.Acquire(ctx, projectID, 1, "deploy", 3600)
	require.NoError(t, err)

	_, err = svc.Acquire(ctx, projectID, 2, "deploy", 3600)
	require.Error(t, err)
	var held *AlreadyHeld
	require.True(t, errors.As(err, &held))
	assert.Equal(t, int64(1), held.HolderID)
}

func TestAcquire_SucceedsAgainAfterRelease(t *testing.T) {
	svc, projectID := newTestService(t)
	ctx := context.Background()

	slot, err := svc.Acquire(ctx, projectID, 1, "deploy", 3600)
	require.NoError(t, err)
	require.NoError(t, svc.Release(ctx, slot.ID))

	_, err = svc.Acquire(ctx, projectID, 2, "deploy", 3600)
	require.NoError(t, err)
}

func TestAcquire_SucceedsAfterExpiry(t *testing.T) {
	svc, projectID := newTestService(t)
	ctx := context.Background()

	_, err := svc.Acquire(ctx, projectID, 1, "deploy", -10)
	require.NoError(t, err)

	_, err = svc.Acquire(ctx, projectID, 2, "deploy", 3600)
	require.NoError(t, err)
}

func TestRenew_ExtendsExpiry(t *testing.T) {
	svc, projectID := newTestService(t)
	ctx := context.Background()

	slot, err := svc.Acquire(ctx, projectID, 1, "deploy", 1)
	require.NoError(t, err)
	require.NoError(t, svc.Renew(ctx, slot.ID, 3600))

	active, err := svc.ListActive(ctx, projectID)
	require.NoError(t, err)
	require.Len(t, active, 1)
}

func TestRelease_RemovesSlotFromActiveList(t *testing.T) {
	svc, projectID := newTestService(t)
	ctx := context.Background()

	slot, err := svc.Acquire(ctx, projectID, 1, "deploy", 3600)
	require.NoError(t, err)
	require.NoError(t, svc.Release(ctx, slot.ID))

	active, err := svc.ListActive(ctx, projectID)
	require.NoError(t, err)
	assert.Empty(t, active)
}

func TestListActive_ExcludesReleasedAndExpired(t *testing.T) {
	svc, projectID := newTestService(t)
	ctx := context.Background()

	released, err := svc.Acquire(ctx, projectID, 1, "deploy-a", 3600)
	require.NoError(t, err)
	require.NoError(t, svc.Release(ctx, released.ID))

	_, err = svc.Acquire(ctx, projectID, 2, "deploy-b", -10)
	require.NoError(t, err)

	_, err = svc.Acquire(ctx, projectID, 3, "deploy-c", 3600)
	require.NoError(t, err)

	active, err := svc.ListActive(ctx, projectID)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "deploy-c", active[0].SlotName)
}

func TestAcquire_DifferentSlotNamesDoNotConflict(t *testing.T) {
	svc, projectID := newTestService(t)
	ctx := context.Background()

	_, err := svc.Acquire(ctx, projectID, 1, "deploy", 3600)
	require.NoError(t, err)
	_, err = svc.Acquire(ctx, projectID, 2, "migrate", 3600)
	require.NoError(t, err)
}

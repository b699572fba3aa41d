package httpapi

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emergent-company/agentmail/internal/archive"
	"github.com/emergent-company/agentmail/internal/guard"
	"github.com/emergent-company/agentmail/internal/identity"
	"github.com/emergent-company/agentmail/internal/observability"
	"github.com/emergent-company/agentmail/internal/repocache"
	"github.com/emergent-company/agentmail/internal/reservation"
	"github.com/emergent-company/agentmail/internal/storage"
)

func newTestServer(t *testing.T) (*Server, *identity.Service) {
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
	reservations := reservation.New(store, nil)
	guardSvc := guard.New(reservations, nil)
	obs := observability.New(store, nil)

	cfg := Config{
		AttachmentsDir: filepath.Join(dir, "attachments"),
		CORSOrigins:    "*",
		GuardMode:      guard.ModeEnforce,
		MaxUploadBytes: 10 * 1024 * 1024,
	}
	return New(store, identitySvc, guardSvc, obs, cfg, nil), identitySvc
}

func TestHandleHealth_ReportsOK(t *testing.T) {
	server, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	w := httptest.NewRecorder()
	server.Handler().ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
}

func TestHandleReady_ReportsReadyWhenDatabaseReachable(t *testing.T) {
	server, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/api/ready", nil)
	w := httptest.NewRecorder()
	server.Handler().ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "ready", body["status"])
	assert.Equal(t, "connected", body["database"])
}

func TestHandleAttachmentsAdd_StoresAndRoundTrips(t *testing.T) {
	server, identitySvc := newTestServer(t)
	ctx := context.Background()
	project, err := identitySvc.EnsureProject(ctx, "/tmp/demo-project")
	require.NoError(t, err)

	payload, err := json.Marshal(attachmentAddRequest{
		ProjectSlug:   project.Slug,
		Filename:      "../../etc/notes.txt",
		ContentBase64: base64.StdEncoding.EncodeToString([]byte("hello attachment")),
	})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/api/attachments/add", bytes.NewReader(payload))
	w := httptest.NewRecorder()
	server.Handler().ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var added attachmentAddResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &added))
	assert.Equal(t, "notes.txt", added.Filename, "directory traversal in filename must be stripped")
	assert.Equal(t, int64(len("hello attachment")), added.Size)

	getReq := httptest.NewRequest(http.MethodGet, "/api/attachments/"+added.ID+"?project_slug="+project.Slug, nil)
	getW := httptest.NewRecorder()
	server.Handler().ServeHTTP(getW, getReq)
	require.Equal(t, http.StatusOK, getW.Code)
	assert.Equal(t, "hello attachment", getW.Body.String())
}

func TestHandleAttachmentsAdd_RejectsOversizedContent(t *testing.T) {
	server, identitySvc := newTestServer(t)
	server.maxUpload = 4
	ctx := context.Background()
	project, err := identitySvc.EnsureProject(ctx, "/tmp/demo-project-2")
	require.NoError(t, err)

	payload, err := json.Marshal(attachmentAddRequest{
		ProjectSlug:   project.Slug,
		Filename:      "big.bin",
		ContentBase64: base64.StdEncoding.EncodeToString([]byte("way too much data")),
	})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/api/attachments/add", bytes.NewReader(payload))
	w := httptest.NewRecorder()
	server.Handler().ServeHTTP(w, req)
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
}

func TestHandleGuardCheckPush_ReportsBlockedOnConflict(t *testing.T) {
	server, identitySvc := newTestServer(t)
	ctx := context.Background()
	project, err := identitySvc.EnsureProject(ctx, "/tmp/demo-project-3")
	require.NoError(t, err)
	holder, err := identitySvc.Register(ctx, project, "alice", "claude-code", "opus", "")
	require.NoError(t, err)
	_, err = identitySvc.Register(ctx, project, "bob", "claude-code", "opus", "")
	require.NoError(t, err)

	reservations := reservation.New(server.store, nil)
	_, err = reservations.Create(ctx, project.ID, holder.ID, "src/**", true, "", storage.TimeString(storage.Now().Add(time.Hour)))
	require.NoError(t, err)

	payload, err := json.Marshal(checkPushRequest{
		AgentName: "bob", Project: project.Slug, Paths: []string{"src/main.go"},
	})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/api/guard/check-push", bytes.NewReader(payload))
	w := httptest.NewRecorder()
	server.Handler().ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var resp checkPushResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Blocked)
	require.Len(t, resp.Violations, 1)
}

func TestMetricsHandler_ExposesToolCounters(t *testing.T) {
	server, identitySvc := newTestServer(t)
	ctx := context.Background()
	project, err := identitySvc.EnsureProject(ctx, "/tmp/demo-project-4")
	require.NoError(t, err)
	agent, err := identitySvc.Register(ctx, project, "alice", "claude-code", "opus", "")
	require.NoError(t, err)

	_, err = server.store.DB().ExecContext(ctx, `
		INSERT INTO tool_metrics (tool_name, project_id, agent_id, status, duration_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		"send_message", project.ID, agent.ID, "success", 15, storage.TimeString(storage.Now()))
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	server.Handler().ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	assert.Contains(t, body, "agentmail_tool_invocations_total")
	assert.Contains(t, body, `agentmail_tool_errors_total{tool="send_message"} 0`)
}

package httpapi

import (
	"encoding/base64"
	"encoding/json"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/emergent-company/agentmail/internal/apperr"
	"github.com/emergent-company/agentmail/internal/storage"
)

var unsafeFilenameChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// sanitizeFilename strips any directory component and collapses anything
// outside a conservative character set, so a crafted "../../etc/passwd" or
// embedded null byte in the client-supplied name can never escape
// data/attachments/<project_id>/.
func sanitizeFilename(name string) string {
	name = filepath.Base(name)
	name = unsafeFilenameChars.ReplaceAllString(name, "_")
	if name == "" || name == "." || name == ".." {
		name = "attachment"
	}
	return name
}

type attachmentAddRequest struct {
	ProjectSlug   string `json:"project_slug"`
	AgentName     string `json:"agent_name,omitempty"`
	Filename      string `json:"filename"`
	ContentBase64 string `json:"content_base64"`
}

type attachmentAddResponse struct {
	ID       string `json:"id"`
	Filename string `json:"filename"`
	Size     int64  `json:"size"`
}

func (s *Server) handleAttachmentsAdd(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, `{"error":"method not allowed"}`, http.StatusMethodNotAllowed)
		return
	}

	var req attachmentAddRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, s.maxUpload*2)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
		return
	}
	defer r.Body.Close()

	ctx := r.Context()
	project, err := s.identity.GetProjectByIdentifier(ctx, req.ProjectSlug)
	if err != nil {
		writeAppError(w, err)
		return
	}

	content, err := base64.StdEncoding.DecodeString(req.ContentBase64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "content_base64 is not valid base64"})
		return
	}
	if int64(len(content)) > s.maxUpload {
		writeAppError(w, &apperr.Quota{Message: "attachment exceeds the 10 MiB limit"})
		return
	}

	id := uuid.New().String()
	safeName := sanitizeFilename(req.Filename)
	destDir := filepath.Join(s.attachDir, strconv.FormatInt(project.ID, 10))
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		writeAppError(w, &apperr.Storage{Op: "create attachment directory", Err: err})
		return
	}
	storedPath := filepath.Join(destDir, id+"_"+safeName)
	if err := os.WriteFile(storedPath, content, 0o644); err != nil {
		writeAppError(w, &apperr.Storage{Op: "write attachment", Err: err})
		return
	}

	mediaType := mime.TypeByExtension(filepath.Ext(safeName))
	if mediaType == "" {
		mediaType = "application/octet-stream"
	}

	var agentID any
	if req.AgentName != "" {
		if agent, err := s.identity.GetByName(ctx, project.ID, req.AgentName); err == nil {
			agentID = agent.ID
		}
	}

	now := storage.TimeString(storage.Now())
	_, err = s.store.DB().ExecContext(ctx, `
		INSERT INTO attachments (id, project_id, agent_id, filename, stored_path, media_type, size_bytes, created_ts)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		id, project.ID, agentID, safeName, storedPath, mediaType, len(content), now,
	)
	if err != nil {
		writeAppError(w, &apperr.Storage{Op: "insert attachment", Err: err})
		return
	}

	writeJSON(w, http.StatusOK, attachmentAddResponse{ID: id, Filename: safeName, Size: int64(len(content))})
}

func (s *Server) handleAttachmentsGet(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, `{"error":"method not allowed"}`, http.StatusMethodNotAllowed)
		return
	}

	id := strings.TrimPrefix(r.URL.Path, "/api/attachments/")
	if id == "" {
		http.Error(w, `{"error":"missing attachment id"}`, http.StatusBadRequest)
		return
	}
	projectSlug := r.URL.Query().Get("project_slug")
	if projectSlug == "" {
		http.Error(w, `{"error":"project_slug query parameter is required"}`, http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	project, err := s.identity.GetProjectByIdentifier(ctx, projectSlug)
	if err != nil {
		writeAppError(w, err)
		return
	}

	var filename, storedPath, mediaType string
	var sizeBytes int64
	row := s.store.DB().QueryRowContext(ctx, `
		SELECT filename, stored_path, media_type, size_bytes
		FROM attachments WHERE id = ? AND project_id = ?`, id, project.ID)
	if err := row.Scan(&filename, &storedPath, &mediaType, &sizeBytes); err != nil {
		writeAppError(w, &apperr.NotFound{Kind: "attachment", Identifier: id})
		return
	}

	// Ownership is enforced by the project_id match above; stream the file
	// with its ownership transferred to the response body so the file
	// descriptor closes when the stream completes or is aborted.
	f, err := os.Open(storedPath)
	if err != nil {
		writeAppError(w, &apperr.Storage{Op: "open attachment", Err: err})
		return
	}
	defer f.Close()

	w.Header().Set("Content-Type", mediaType)
	w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`"`)
	w.WriteHeader(http.StatusOK)
	_, _ = io.Copy(w, f)
}


// Package exportengine implements the archive/export engine of spec §4.K:
// rendering a project's recent messages into html/json/markdown/csv, with
// optional PII scrubbing, and committing a Markdown snapshot to the audit
// archive.
package exportengine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/emergent-company/agentmail/internal/apperr"
	"github.com/emergent-company/agentmail/internal/archive"
	"github.com/emergent-company/agentmail/internal/repocache"
	"github.com/emergent-company/agentmail/internal/storage"
)

// Format is the closed set of export renderings spec §4.K names.
type Format string

const (
	FormatHTML     Format = "html"
	FormatJSON     Format = "json"
	FormatMarkdown Format = "markdown"
	FormatCSV      Format = "csv"
)

// ScrubMode is the closed set of PII-redaction levels.
type ScrubMode string

const (
	ScrubNone       ScrubMode = "none"
	ScrubStandard   ScrubMode = "standard"
	ScrubAggressive ScrubMode = "aggressive"
)

// maxExportMessages is the "most recent ≤100" cap spec §4.K mandates.
const maxExportMessages = 100

// ExportedMessage is the scrubbed, render-ready shape of one message.
type ExportedMessage struct {
	ID         int64  `json:"id"`
	SenderName string `json:"sender_name"`
	Subject    string `json:"subject"`
	BodyMD     string `json:"body_md"`
	Importance string `json:"importance"`
	CreatedTS  string `json:"created_ts"`
}

// Service implements the export engine.
type Service struct {
	store       *storage.Store
	repos       *repocache.Cache
	logger      *slog.Logger
	archivePath string
}

// New constructs an export Service.
func New(store *storage.Store, repos *repocache.Cache, logger *slog.Logger, archivePath string) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, repos: repos, logger: logger, archivePath: archivePath}
}

func (s *Service) wrapStorage(op string, err error) error {
	if err == nil {
		return nil
	}
	return &apperr.Storage{Op: op, Err: err}
}

// fetchRecent returns the most recent maxExportMessages messages for
// projectID, newest first, with sender names resolved.
func (s *Service) fetchRecent(ctx context.Context, projectID int64) ([]ExportedMessage, error) {
	rows, err := s.store.DB().QueryContext(ctx, `
		SELECT m.id, a.name, m.subject, m.body_md, m.importance, m.created_ts
		FROM messages m
		JOIN agents a ON a.id = m.sender_id
		WHERE m.project_id = ?
		ORDER BY m.created_ts DESC, m.id DESC
		LIMIT ?`, projectID, maxExportMessages)
	if err != nil {
		return nil, s.wrapStorage("fetch messages for export", err)
	}
	defer rows.Close()

	var out []ExportedMessage
	for rows.Next() {
		var m ExportedMessage
		if err := rows.Scan(&m.ID, &m.SenderName, &m.Subject, &m.BodyMD, &m.Importance, &m.CreatedTS); err != nil {
			return nil, s.wrapStorage("scan message for export", err)
		}
		out = append(out, m)
	}
	return out, nil
}

func scrub(msgs []ExportedMessage, mode ScrubMode) []ExportedMessage {
	if mode == ScrubNone || mode == "" {
		return msgs
	}
	scrubbed := make([]ExportedMessage, len(msgs))
	for i, m := range msgs {
		m.Subject = scrubStandardText(m.Subject)
		m.BodyMD = scrubStandardText(m.BodyMD)
		if mode == ScrubAggressive {
			m.Subject = scrubAggressiveText(m.Subject)
			m.BodyMD = scrubAggressiveText(m.BodyMD)
			m.SenderName = "[REDACTED-NAME]"
		}
		scrubbed[i] = m
	}
	return scrubbed
}

// Export fetches a project's recent messages, applies scrub, and renders
// them in format.
func (s *Service) Export(ctx context.Context, projectID int64, format Format, mode ScrubMode) ([]byte, error) {
	msgs, err := s.fetchRecent(ctx, projectID)
	if err != nil {
		return nil, err
	}
	msgs = scrub(msgs, mode)

	switch format {
	case FormatJSON:
		return renderJSON(msgs)
	case FormatCSV:
		return renderCSV(msgs)
	case FormatHTML:
		return renderHTML(msgs), nil
	case FormatMarkdown, "":
		return renderMarkdown(msgs), nil
	default:
		return nil, &apperr.Validation{Field: "format", Value: string(format), Reason: "must be one of html, json, markdown, csv"}
	}
}

// CommitArchive exports a project's messages as Markdown and commits the
// rendering to mailboxes/<slug>/<slug>_<YYYYMMDD_HHMMSS>.md, returning the
// commit object id.
func (s *Service) CommitArchive(ctx context.Context, projectID int64, slug, message string) (string, error) {
	body, err := s.Export(ctx, projectID, FormatMarkdown, ScrubNone)
	if err != nil {
		return "", err
	}

	timestamp := storage.Now().UTC().Format("20060102_150405")
	relPath := fmt.Sprintf("mailboxes/%s/%s_%s.md", slug, slug, timestamp)

	handle, err := s.repos.Get(s.archivePath)
	if err != nil {
		return "", &apperr.Archive{Op: "open archive for commit", Err: err}
	}
	repo := handle.Lock()
	defer handle.Unlock()

	hash, err := repo.Commit(relPath, string(body), message)
	if err != nil {
		return "", &apperr.Archive{Op: "commit archive export", Err: err}
	}
	return hash.String(), nil
}

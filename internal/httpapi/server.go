// Package httpapi implements the thin HTTP transport of spec §6: the
// attachment upload/download surface, health/readiness probes, and the
// Prometheus exposition endpoint, plus the precommit guard's check-push
// hook. It is deliberately thin — the tool wire format itself (§6's
// request/response envelope) lives in internal/dispatch and the MCP
// transport the server binary wires it into.
package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/emergent-company/agentmail/internal/guard"
	"github.com/emergent-company/agentmail/internal/identity"
	"github.com/emergent-company/agentmail/internal/observability"
	"github.com/emergent-company/agentmail/internal/storage"
)

// Server wraps the HTTP surface spec §6 names around a shared set of
// already-constructed engine services, mirroring the teacher's
// HTTPServer-wraps-Server layering in internal/mcp/http.go.
type Server struct {
	store      *storage.Store
	identity   *identity.Service
	guard      *guard.Service
	obs        *observability.Service
	logger     *slog.Logger
	cors       string
	guardMode  guard.Mode
	attachDir  string
	maxUpload  int64
	startedAt  time.Time
}

// Config bundles Server's construction parameters.
type Config struct {
	AttachmentsDir string
	CORSOrigins    string
	GuardMode      guard.Mode
	MaxUploadBytes int64
}

// New constructs an httpapi Server.
func New(store *storage.Store, identitySvc *identity.Service, guardSvc *guard.Service, obs *observability.Service, cfg Config, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	maxUpload := cfg.MaxUploadBytes
	if maxUpload <= 0 {
		maxUpload = 10 * 1024 * 1024
	}
	return &Server{
		store: store, identity: identitySvc, guard: guardSvc, obs: obs,
		logger: logger, cors: cfg.CORSOrigins, guardMode: cfg.GuardMode,
		attachDir: cfg.AttachmentsDir, maxUpload: maxUpload, startedAt: time.Now(),
	}
}

// namer resolves a holder agent id to its display name for guard
// violation reporting; failures resolve to an empty name rather than
// aborting the check.
func (s *Server) namer(ctx context.Context, agentID int64) string {
	var name string
	row := s.store.DB().QueryRowContext(ctx, `SELECT name FROM agents WHERE id = ?`, agentID)
	if err := row.Scan(&name); err != nil {
		return ""
	}
	return name
}

// Handler returns the routed http.Handler for the whole surface.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/attachments/add", s.withCORS(s.handleAttachmentsAdd))
	mux.HandleFunc("/api/attachments/", s.withCORS(s.handleAttachmentsGet))
	mux.HandleFunc("/api/health", s.withCORS(s.handleHealth))
	mux.HandleFunc("/api/ready", s.withCORS(s.handleReady))
	mux.HandleFunc("/api/guard/check-push", s.withCORS(s.handleGuardCheckPush))
	mux.Handle("/metrics", s.metricsHandler())
	return mux
}

// withCORS applies the teacher's allow-list-or-star CORS policy and
// short-circuits preflight OPTIONS requests before dispatching to next.
func (s *Server) withCORS(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.setCORS(w, r)
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next(w, r)
	}
}

func (s *Server) setCORS(w http.ResponseWriter, r *http.Request) {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return
	}
	if s.cors == "*" {
		w.Header().Set("Access-Control-Allow-Origin", "*")
	} else {
		for _, allowed := range strings.Split(s.cors, ",") {
			if strings.TrimSpace(allowed) == origin {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				break
			}
		}
	}
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
}

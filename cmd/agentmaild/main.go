// Command agentmaild runs the Agent Mail coordination server.
//
// It communicates over stdio using JSON-RPC 2.0 (MCP protocol) by default,
// or as an HTTP server when AGENTMAIL_TRANSPORT=http, and persists every
// mailbox, reservation, and build-slot operation to an embedded SQLite
// database mirrored into a Git-backed audit archive.
//
// Caller identity environment variables (both optional; without
// AGENT_MAIL_PROJECT the server runs with a zero caller):
//
//	AGENT_MAIL_PROJECT    - project slug or filesystem path identifying the
//	                        workspace this server instance acts on behalf of
//	AGENT_MAIL_AGENT_NAME - name of the agent this stdio session authenticates as
//
// Other optional environment variables: see internal/config and spec §6.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/emergent-company/agentmail/internal/archive"
	"github.com/emergent-company/agentmail/internal/buildslot"
	"github.com/emergent-company/agentmail/internal/config"
	"github.com/emergent-company/agentmail/internal/content"
	"github.com/emergent-company/agentmail/internal/dispatch"
	"github.com/emergent-company/agentmail/internal/escalation"
	"github.com/emergent-company/agentmail/internal/exportengine"
	"github.com/emergent-company/agentmail/internal/guard"
	"github.com/emergent-company/agentmail/internal/httpapi"
	"github.com/emergent-company/agentmail/internal/identity"
	"github.com/emergent-company/agentmail/internal/mailbox"
	"github.com/emergent-company/agentmail/internal/mcp"
	"github.com/emergent-company/agentmail/internal/observability"
	"github.com/emergent-company/agentmail/internal/repocache"
	"github.com/emergent-company/agentmail/internal/reservation"
	"github.com/emergent-company/agentmail/internal/scheduler"
	"github.com/emergent-company/agentmail/internal/storage"
)

// Version is set via ldflags at build time.
var Version = "dev"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "agentmaild: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load(os.Getenv("AGENTMAIL_CONFIG"))
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: parseLogLevel(cfg.Log.Level),
	}))

	version := cfg.Server.Version
	if Version != "dev" {
		version = Version
	}
	logger.Info("starting agentmaild", "version", version, "transport", cfg.Transport.Mode)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, err := storage.Open(cfg.Storage.Path)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer store.Close()

	repos := repocache.New(cfg.Cache.RepoCapacity, func(path string) (*archive.Repo, error) {
		return archive.Open(path, archive.Identity{
			Name:  cfg.Archive.CommitterName,
			Email: cfg.Archive.CommitterEmail,
		})
	})

	identitySvc := identity.New(store, repos, logger, identity.ModeGitToplevel, cfg.Archive.Path)
	mailboxSvc := mailbox.New(store, repos, logger, cfg.Archive.Path)
	reservations := reservation.New(store, logger)
	buildSlots := buildslot.New(store, logger)

	project, agent, err := resolveCallerIdentity(ctx, identitySvc)
	if err != nil {
		return fmt.Errorf("resolving session identity: %w", err)
	}

	escalationAgent, err := ensureEscalationAgent(ctx, identitySvc, project)
	if err != nil {
		return fmt.Errorf("provisioning escalation service account: %w", err)
	}
	escalationSvc := escalation.New(mailboxSvc, reservations, logger, escalationAgent.ID)

	guardSvc := guard.New(reservations, logger)
	obs := observability.New(store, logger)
	exportSvc := exportengine.New(store, repos, logger, cfg.Archive.Path)

	d := dispatch.New(store, dispatch.Deps{
		Identity:      identitySvc,
		Mailbox:       mailboxSvc,
		Reservations:  reservations,
		BuildSlots:    buildSlots,
		Escalation:    escalationSvc,
		Observability: obs,
		Export:        exportSvc,
	}, logger, cfg.Guard.WorktreesEnabled)
	dispatch.RegisterDefaultTools(d)

	var caller dispatch.Caller
	if project != nil && agent != nil {
		caller = dispatch.Caller{ProjectID: project.ID, AgentID: agent.ID}
	}

	registry := mcp.NewRegistry()
	for _, tool := range dispatch.MCPTools(d, caller) {
		registry.Register(tool)
	}
	registerContent(registry, d)

	sched := scheduler.NewScheduler(logger)
	sched.AddJob(&escalationSweepJob{escalation: escalationSvc, cfg: cfg.Escalation},
		time.Duration(cfg.Escalation.IntervalMinutes)*time.Minute)
	sched.Start(ctx)
	defer sched.Stop()

	if cfg.Transport.Mode == "http" {
		return runHTTP(ctx, cfg, store, identitySvc, guardSvc, obs, registry, logger, version)
	}

	server := mcp.NewServer(registry, mcp.ServerInfo{Name: cfg.Server.Name, Version: version}, logger)
	return server.Run(ctx)
}

// resolveCallerIdentity establishes the (project, agent) pair this process
// acts as for the lifetime of its stdio session, analogous to how internal/
// emergent.Client pins one EMERGENT_PROJECT_ID per process. AGENT_MAIL_
// PROJECT is optional: a server started without it (e.g. purely to serve
// the HTTP attachment/health surface) runs with a zero Caller, and every
// dispatch tool that needs an explicit project/agent takes one as a
// parameter instead of relying on session context.
func resolveCallerIdentity(ctx context.Context, identitySvc *identity.Service) (*identity.Project, *identity.Agent, error) {
	projectKey := os.Getenv("AGENT_MAIL_PROJECT")
	if projectKey == "" {
		return nil, nil, nil
	}
	project, err := identitySvc.EnsureProject(ctx, projectKey)
	if err != nil {
		return nil, nil, fmt.Errorf("ensuring project %q: %w", projectKey, err)
	}

	agentName := os.Getenv("AGENT_MAIL_AGENT_NAME")
	if agentName == "" {
		return project, nil, nil
	}
	agent, err := identitySvc.GetByName(ctx, project.ID, agentName)
	if err == nil {
		return project, agent, nil
	}
	agent, err = identitySvc.Register(ctx, project, agentName,
		os.Getenv("AGENT_MAIL_AGENT_PROGRAM"), os.Getenv("AGENT_MAIL_AGENT_MODEL"), "")
	if err != nil {
		return nil, nil, fmt.Errorf("registering agent %q: %w", agentName, err)
	}
	return project, agent, nil
}

// ensureEscalationAgent finds or registers the service account the
// escalation sweep posts OverseerMessages and reservations as. It lives in
// the resolved session project if one exists, or in a dedicated "system"
// project otherwise (e.g. when running the HTTP transport standalone).
func ensureEscalationAgent(ctx context.Context, identitySvc *identity.Service, project *identity.Project) (*identity.Agent, error) {
	if project == nil {
		var err error
		project, err = identitySvc.EnsureProject(ctx, "agentmail-system")
		if err != nil {
			return nil, err
		}
	}
	const name = "agent-mail-escalation"
	if agent, err := identitySvc.GetByName(ctx, project.ID, name); err == nil {
		return agent, nil
	}
	return identitySvc.Register(ctx, project, name, "agentmail", "", "overdue-ack sweep service account")
}

func runHTTP(ctx context.Context, cfg *config.Config, store *storage.Store, identitySvc *identity.Service,
	guardSvc *guard.Service, obs *observability.Service, registry *mcp.Registry, logger *slog.Logger, version string) error {

	apiServer := httpapi.New(store, identitySvc, guardSvc, obs, httpapi.Config{
		AttachmentsDir: attachmentsDir(cfg.Storage.Path),
		CORSOrigins:    cfg.Transport.CORSOrigins,
		GuardMode:      guardModeFromConfig(cfg.Guard.Mode),
	}, logger)

	mcpHTTP := mcp.NewHTTPServer(mcp.NewServer(registry, mcp.ServerInfo{Name: cfg.Server.Name, Version: version}, logger), cfg.Transport.CORSOrigins, logger)

	mux := http.NewServeMux()
	mux.Handle("/", apiServer.Handler())
	mux.Handle("/mcp", mcpHTTP.Handler())

	addr := cfg.Transport.Host + ":" + cfg.Transport.Port
	httpServer := &http.Server{Addr: addr, Handler: mux}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// attachmentsDir derives data/attachments from the configured database
// path's directory, per spec §6's persisted-layout contract.
func attachmentsDir(dbPath string) string {
	return filepath.Join(filepath.Dir(dbPath), "attachments")
}

// escalationSweepJob adapts escalation.Service.Sweep to scheduler.Job, so
// the overdue-ACK sweep (spec §4.I) runs on a fixed interval for the
// lifetime of the server rather than needing an external cron caller.
type escalationSweepJob struct {
	escalation *escalation.Service
	cfg        config.EscalationConfig
}

func (j *escalationSweepJob) Name() string { return "escalation_sweep" }

func (j *escalationSweepJob) Run(ctx context.Context) error {
	threshold := time.Duration(j.cfg.ThresholdHours) * time.Hour
	results, err := j.escalation.Sweep(ctx, threshold, escalationModeFromConfig(j.cfg.Channel), j.cfg.DryRun)
	if err != nil {
		return err
	}
	for _, r := range results {
		if !r.Success {
			return fmt.Errorf("escalation action %q failed for message %d: %s", r.ActionTaken, r.MessageID, r.Details)
		}
	}
	return nil
}

func escalationModeFromConfig(channel string) escalation.Mode {
	switch channel {
	case "file_reservation":
		return escalation.ModeFileReservation
	case "overseer":
		return escalation.ModeOverseer
	default:
		return escalation.ModeLog
	}
}

// registerContent wires the getting-started and coordination-workflow
// prompts, and the entity-model and tool-reference resources, onto the
// registry. The tool reference is generated from the dispatcher's own
// schema list so it can't drift from the tools actually registered.
func registerContent(registry *mcp.Registry, d *dispatch.Dispatcher) {
	registry.RegisterPrompt(&content.GettingStartedPrompt{})
	registry.RegisterPrompt(&content.CoordinationWorkflowPrompt{})
	registry.RegisterResource(&content.EntityModelResource{})

	schemas := d.ListSchemas()
	summaries := make([]content.ToolSummary, 0, len(schemas))
	for _, s := range schemas {
		summaries = append(summaries, content.ToolSummary{Name: s.Name, Description: s.Description})
	}
	registry.RegisterResource(content.NewToolReferenceResource(summaries))
}

func guardModeFromConfig(mode string) guard.Mode {
	switch mode {
	case "enforce":
		return guard.ModeEnforce
	case "advisory":
		// spec §6: "advisory aliases warn".
		return guard.ModeWarn
	default:
		return guard.ModeWarn
	}
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

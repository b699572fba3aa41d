// Package dispatch implements the tool-dispatch contract of spec §4.J: the
// single entry point external callers (stdio duplex, streaming HTTP) use to
// invoke every mutating and read-only operation the engines expose.
package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"reflect"
	"sort"
	"time"

	"github.com/emergent-company/agentmail/internal/apperr"
	"github.com/emergent-company/agentmail/internal/buildslot"
	"github.com/emergent-company/agentmail/internal/escalation"
	"github.com/emergent-company/agentmail/internal/exportengine"
	"github.com/emergent-company/agentmail/internal/identity"
	"github.com/emergent-company/agentmail/internal/mailbox"
	"github.com/emergent-company/agentmail/internal/observability"
	"github.com/emergent-company/agentmail/internal/reservation"
	"github.com/emergent-company/agentmail/internal/storage"
)

// Caller identifies who is invoking a tool, resolved by the transport layer
// before Dispatch is called (e.g. from a session token or HTTP header).
type Caller struct {
	ProjectID int64
	AgentID   int64
}

// validator is implemented by parameter structs that need validation
// beyond what the schema's required/type contract covers.
type validator interface {
	Validate() error
}

type registeredTool struct {
	name           string
	schema         ToolSchema
	capability     string // required capability name; "" means none required
	buildSlotGated bool   // rejected when worktrees_enabled is false
	invoke         func(ctx context.Context, d *Dispatcher, caller Caller, raw json.RawMessage) (any, error)
}

// Dispatcher is the single entry point described by spec §4.J. It holds
// the engines (E-I) that handlers registered via Register call into; every
// durable write those engines make is already routed through A (and B, via
// the engines' own archive wiring).
type Dispatcher struct {
	store            *storage.Store
	logger           *slog.Logger
	worktreesEnabled bool

	Identity      *identity.Service
	Mailbox       *mailbox.Service
	Reservations  *reservation.Service
	BuildSlots    *buildslot.Service
	Escalation    *escalation.Service
	Observability *observability.Service
	Export        *exportengine.Service

	tools map[string]*registeredTool
	order []string
}

// Deps bundles the engines a Dispatcher routes calls into.
type Deps struct {
	Identity      *identity.Service
	Mailbox       *mailbox.Service
	Reservations  *reservation.Service
	BuildSlots    *buildslot.Service
	Escalation    *escalation.Service
	Observability *observability.Service
	Export        *exportengine.Service
}

// New constructs a Dispatcher. worktreesEnabled gates build-slot tools per
// spec §4.J step 3.
func New(store *storage.Store, deps Deps, logger *slog.Logger, worktreesEnabled bool) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		store: store, logger: logger,
		worktreesEnabled: worktreesEnabled,
		Identity:         deps.Identity,
		Mailbox:          deps.Mailbox,
		Reservations:     deps.Reservations,
		BuildSlots:       deps.BuildSlots,
		Escalation:       deps.Escalation,
		Observability:    deps.Observability,
		Export:           deps.Export,
		tools:            make(map[string]*registeredTool),
	}
}

// HandlerFunc is the typed signature every tool handler implements.
type HandlerFunc[T any] func(ctx context.Context, d *Dispatcher, caller Caller, params T) (any, error)

// Register adds a tool under name, reflecting its ToolSchema from T's
// struct tags. capability is the capability.check name required for
// mutating tools ("" if none is required); buildSlotGated marks a tool
// that spec §4.J step 3 rejects outright when worktrees are disabled.
func Register[T any](d *Dispatcher, name, description, capability string, buildSlotGated bool, handler HandlerFunc[T]) {
	var zero T
	schema := generateSchema(name, description, reflect.TypeOf(zero))

	invoke := func(ctx context.Context, d *Dispatcher, caller Caller, raw json.RawMessage) (any, error) {
		var params T
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &params); err != nil {
				return nil, &apperr.Validation{Field: "(request body)", Reason: "could not parse arguments: " + err.Error()}
			}
		}
		if v, ok := any(params).(validator); ok {
			if err := v.Validate(); err != nil {
				return nil, err
			}
		}
		return handler(ctx, d, caller, params)
	}

	if _, exists := d.tools[name]; exists {
		panic(fmt.Sprintf("tool %q already registered", name))
	}
	d.tools[name] = &registeredTool{
		name: name, schema: schema, capability: capability,
		buildSlotGated: buildSlotGated, invoke: invoke,
	}
	d.order = append(d.order, name)
}

// ListSchemas returns every registered tool's schema in registration order,
// for a tools/list-style transport call.
func (d *Dispatcher) ListSchemas() []ToolSchema {
	out := make([]ToolSchema, 0, len(d.order))
	for _, name := range d.order {
		out = append(out, d.tools[name].schema)
	}
	return out
}

// Dispatch resolves aliases, enforces feature gating and capabilities,
// invokes the tool, and records a ToolMetric row, per spec §4.J steps 1-6.
func (d *Dispatcher) Dispatch(ctx context.Context, caller Caller, rawName string, args json.RawMessage) (result any, err error) {
	start := time.Now()
	name, _ := resolveAlias(rawName)

	var projectID, agentID *int64
	if caller.ProjectID != 0 {
		p := caller.ProjectID
		projectID = &p
	}
	if caller.AgentID != 0 {
		a := caller.AgentID
		agentID = &a
	}

	tool, ok := d.tools[name]
	if !ok {
		err = &apperr.Validation{Field: "name", Value: name, Reason: "unknown tool"}
		d.recordMetric(ctx, name, projectID, agentID, "error", apperr.CodeOf(err), time.Since(start).Milliseconds())
		return nil, err
	}

	if tool.buildSlotGated && !d.worktreesEnabled {
		err = &apperr.Validation{Field: "name", Value: name, Reason: "build-slot tools are disabled (worktrees_enabled is false)"}
		d.recordMetric(ctx, name, projectID, agentID, "error", apperr.CodeOf(err), time.Since(start).Milliseconds())
		return nil, err
	}

	if tool.capability != "" {
		allowed, checkErr := d.Identity.Check(ctx, caller.AgentID, tool.capability)
		if checkErr != nil {
			d.recordMetric(ctx, name, projectID, agentID, "error", apperr.CodeOf(checkErr), time.Since(start).Milliseconds())
			return nil, checkErr
		}
		if !allowed {
			err = &apperr.CapabilityDenied{Capability: tool.capability}
			d.recordMetric(ctx, name, projectID, agentID, "error", apperr.CodeOf(err), time.Since(start).Milliseconds())
			return nil, err
		}
	}

	result, err = tool.invoke(ctx, d, caller, args)
	durationMS := time.Since(start).Milliseconds()
	if err != nil {
		d.recordMetric(ctx, name, projectID, agentID, "error", apperr.CodeOf(err), durationMS)
		return nil, err
	}
	d.recordMetric(ctx, name, projectID, agentID, "success", "", durationMS)
	return result, nil
}

// ToolNames returns every registered canonical tool name, sorted, for
// diagnostics and tests.
func (d *Dispatcher) ToolNames() []string {
	names := make([]string, 0, len(d.tools))
	for name := range d.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

package content

import "github.com/emergent-company/agentmail/internal/mcp"

// --- entity model resource ---

// EntityModelResource documents the core entities a client will see in
// tool responses: projects, agents, messages, reservations, build slots.
type EntityModelResource struct{}

func (r *EntityModelResource) Definition() mcp.ResourceDefinition {
	return mcp.ResourceDefinition{
		URI:         "agentmail://docs/entity-model",
		Name:        "Agent Mail entity model",
		Description: "Projects, agents, messages, file reservations, and build slots, and how they relate.",
		MimeType:    "text/markdown",
	}
}

func (r *EntityModelResource) Read() (*mcp.ResourcesReadResult, error) {
	return &mcp.ResourcesReadResult{
		Contents: []mcp.ResourceContent{
			{URI: r.Definition().URI, MimeType: "text/markdown", Text: entityModelContent},
		},
	}, nil
}

// --- tool reference resource ---

// ToolReferenceResource lists every dispatch tool with its one-line
// description, generated from the same registration calls that build the
// live tool schema, so it never drifts from what's actually callable.
type ToolReferenceResource struct {
	tools []ToolSummary
}

// ToolSummary is the name/description pair a client sees for a single tool.
type ToolSummary struct {
	Name        string
	Description string
}

// NewToolReferenceResource builds a resource from the dispatcher's own
// schema list, so the reference text tracks whatever tools are actually
// registered instead of a hand-maintained duplicate.
func NewToolReferenceResource(tools []ToolSummary) *ToolReferenceResource {
	return &ToolReferenceResource{tools: tools}
}

func (r *ToolReferenceResource) Definition() mcp.ResourceDefinition {
	return mcp.ResourceDefinition{
		URI:         "agentmail://docs/tool-reference",
		Name:        "Agent Mail tool reference",
		Description: "Every MCP tool this server exposes, with a one-line summary of what it does.",
		MimeType:    "text/markdown",
	}
}

func (r *ToolReferenceResource) Read() (*mcp.ResourcesReadResult, error) {
	text := "# Agent Mail tool reference\n\n"
	for _, t := range r.tools {
		text += "- **" + t.Name + "** — " + t.Description + "\n"
	}
	return &mcp.ResourcesReadResult{
		Contents: []mcp.ResourceContent{
			{URI: r.Definition().URI, MimeType: "text/markdown", Text: text},
		},
	}, nil
}

const entityModelContent = `# Agent Mail entity model

- **Project** — a workspace identity, usually derived from a git toplevel
  path or an explicit slug. Everything else is scoped to one project.
- **Agent** — a registered participant within a project: a name, the
  program and model it runs as, and a capability set (which tools it's
  allowed to call). Agents send each other messages and hold reservations.
- **Message** — sent from one agent to one or more named recipients, with
  a body and an acknowledgement state per recipient. Attachments are
  uploaded on their own and are not linked to a message. Unacknowledged messages past a
  configured age are picked up by the escalation sweep.
- **FileReservation** — a claim by an agent on a glob pattern of paths,
  either exclusive or shared, with an expiry. The precommit guard consults
  active reservations held by other agents when deciding whether to block
  a push.
- **BuildSlot** — a mutual-exclusion lease over a named build resource
  (a CI lane, a shared test database) so multiple agents don't run
  conflicting builds concurrently. Acquired, held, and released the same
  way a file reservation is, but scoped to a resource name rather than a
  path pattern.

Messages, agent profiles, overseer messages and export snapshots are
mirrored into the git-backed archive (component B) as structured commits,
giving a durable audit trail independent of the SQLite database. File
reservations and build slots are kept in the database only.
`

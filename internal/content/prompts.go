// Package content provides MCP prompts and resources for the Agent Mail
// server: reference material an LLM client can pull in alongside the tool
// set, the same role internal/mcp.Registry's Prompt/Resource surface
// played in the teacher it was adapted from.
package content

import "github.com/emergent-company/agentmail/internal/mcp"

// --- getting-started prompt ---

// GettingStartedPrompt walks a newly-connected agent through the
// project/agent bootstrap sequence and the mailbox/reservation workflow.
type GettingStartedPrompt struct{}

func (p *GettingStartedPrompt) Definition() mcp.PromptDefinition {
	return mcp.PromptDefinition{
		Name:        "agent-mail-getting-started",
		Description: "Bootstrap sequence for a new agent joining a project: register, check inbox, reserve files before editing.",
		Arguments:   []mcp.PromptArgument{},
	}
}

func (p *GettingStartedPrompt) Get(arguments map[string]string) (*mcp.PromptsGetResult, error) {
	return &mcp.PromptsGetResult{
		Description: "Getting started with Agent Mail",
		Messages: []mcp.PromptMessage{
			{Role: "user", Content: mcp.TextContent(gettingStartedContent)},
		},
	}, nil
}

// --- coordination-workflow prompt ---

// CoordinationWorkflowPrompt explains the reservation-then-guard loop that
// keeps concurrent agents from clobbering each other's work.
type CoordinationWorkflowPrompt struct{}

func (p *CoordinationWorkflowPrompt) Definition() mcp.PromptDefinition {
	return mcp.PromptDefinition{
		Name:        "agent-mail-coordination-workflow",
		Description: "How to use file reservations and the precommit guard to avoid stepping on another agent's edits.",
		Arguments:   []mcp.PromptArgument{},
	}
}

func (p *CoordinationWorkflowPrompt) Get(arguments map[string]string) (*mcp.PromptsGetResult, error) {
	return &mcp.PromptsGetResult{
		Description: "Coordinating concurrent work with file reservations",
		Messages: []mcp.PromptMessage{
			{Role: "user", Content: mcp.TextContent(coordinationWorkflowContent)},
		},
	}, nil
}

const gettingStartedContent = `# Getting started with Agent Mail

Agent Mail coordinates multiple agents working in the same project: sending
each other messages, reserving the file paths they're about to touch, and
escalating messages nobody acknowledges in time.

1. **Resolve the project.** Call ` + "`ensure_project`" + ` with a stable identifier for
   your workspace (a filesystem path or git remote works). It returns a
   project slug — every other tool call after this one needs it.
2. **Register.** Call ` + "`register_agent`" + ` with a name unique within the project,
   plus the program and model you're running as. This grants the default
   capability set (send_message, fetch_inbox, acknowledge_message,
   file_reservation_paths).
3. **Check your inbox.** Call ` + "`list_inbox`" + ` before starting work — another
   agent may have already left you a message about the files you're about
   to touch.
4. **Reserve before you edit.** Call ` + "`acquire_file_reservations`" + ` with the glob
   patterns you're about to modify. Acquisition never fails outright, but
   an overlapping exclusive reservation held by someone else comes back as
   a conflict in the response — read it before proceeding.
5. **Release when you're done**, or let the reservation expire on its own;
   either way the precommit guard stops checking it once it's inactive.
`

const coordinationWorkflowContent = `# Coordinating with file reservations and the precommit guard

File reservations are advisory: acquiring one never blocks you, even when
it overlaps someone else's exclusive claim. The enforcement happens later,
at push time, via the precommit guard.

- An **exclusive** reservation conflicts with any other reservation on an
  overlapping path pattern held by a different agent.
- Two **non-exclusive** reservations never conflict with each other; a
  non-exclusive request still reports an overlapping exclusive one.
- The guard only looks at reservations held by agents other than the one
  pushing — your own reservations never block your own push.

Modes (set via AGENT_MAIL_GUARD_MODE, or AGENT_MAIL_BYPASS=1 to skip
entirely):

- **enforce** — a conflicting touched path blocks the push.
- **warn** / **advisory** — conflicts are reported but the push proceeds.
- **bypass** — the guard returns no result without inspecting anything.

If you expect to be editing a path pattern for a while, renew the
reservation before it expires with ` + "`renew_file_reservations_by_agent`" + ` rather
than re-acquiring it — that preserves the original reason and expiry
semantics other agents see in ` + "`list_reservations`" + `.
`

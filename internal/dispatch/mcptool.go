package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/emergent-company/agentmail/internal/apperr"
	"github.com/emergent-company/agentmail/internal/mcp"
)

// mcpTool adapts one registered dispatch tool to the mcp.Tool interface, so
// a Dispatcher's tool set can be registered directly onto an mcp.Registry
// without a hand-written wrapper per tool. Every adapted tool shares the
// same caller: Agent Mail's stdio server is one process per agent session
// (the project and agent identity are resolved once at startup from
// AGENT_MAIL_PROJECT and AGENT_MAIL_AGENT_NAME, mirroring how internal/
// emergent.Client resolves EMERGENT_PROJECT_ID once per process), so unlike
// a multi-tenant HTTP transport there is no per-call caller to extract.
type mcpTool struct {
	dispatcher *Dispatcher
	caller     Caller
	schema     ToolSchema
}

// MCPTools adapts every tool registered on d into mcp.Tool values, in
// registration order, for mounting onto an mcp.Registry. caller is fixed
// for the lifetime of the process per the stdio one-session model above.
func MCPTools(d *Dispatcher, caller Caller) []mcp.Tool {
	schemas := d.ListSchemas()
	out := make([]mcp.Tool, 0, len(schemas))
	for _, schema := range schemas {
		out = append(out, &mcpTool{dispatcher: d, caller: caller, schema: schema})
	}
	return out
}

func (t *mcpTool) Name() string        { return t.schema.Name }
func (t *mcpTool) Description() string { return t.schema.Description }

// InputSchema renders the reflected ToolSchema as a JSON Schema object, the
// same shape the teacher's hand-written tools embed as a literal string.
func (t *mcpTool) InputSchema() json.RawMessage {
	properties := make(map[string]any, len(t.schema.Parameters))
	required := make([]string, 0, len(t.schema.Parameters))
	for _, p := range t.schema.Parameters {
		prop := map[string]any{"type": p.Type}
		if p.Description != "" {
			prop["description"] = p.Description
		}
		properties[p.Name] = prop
		if p.Required {
			required = append(required, p.Name)
		}
	}
	doc := map[string]any{"type": "object", "properties": properties}
	if len(required) > 0 {
		doc["required"] = required
	}
	b, err := json.Marshal(doc)
	if err != nil {
		// properties/required are built from primitive values only; this
		// cannot fail in practice.
		return json.RawMessage(`{"type":"object","properties":{}}`)
	}
	return b
}

// Execute runs the tool through the Dispatcher, translating Agent Mail's
// typed errors into the MCP transport's isError text-content convention.
func (t *mcpTool) Execute(ctx context.Context, params json.RawMessage) (*mcp.ToolsCallResult, error) {
	result, err := t.dispatcher.Dispatch(ctx, t.caller, t.schema.Name, params)
	if err != nil {
		return mcp.ErrorResult(formatToolError(err)), nil
	}
	return mcp.JSONResult(result)
}

// formatToolError renders an apperr value as the human-readable line MCP
// clients display inline, rather than a raw Go error string.
func formatToolError(err error) string {
	code := apperr.CodeOf(err)
	msg := err.Error()
	if code == "" {
		return msg
	}
	return fmt.Sprintf("[%s] %s", strings.ToUpper(string(code)), msg)
}

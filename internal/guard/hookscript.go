package guard

import (
	"fmt"
	"strings"
)

// hookScriptTemplate is the shell wrapper installed as .git/hooks/pre-push.
// It POSTs the touched paths to /api/guard/check-push and interprets the
// JSON result: a non-empty "blocked":true response exits non-zero.
const hookScriptTemplate = `#!/bin/sh
# Installed by agentmail. Do not edit by hand; re-run the installer instead.
set -e

if [ "$AGENT_MAIL_BYPASS" = "1" ]; then
	exit 0
fi

server_url="%s"
paths=$(git diff --name-only @{u}.. 2>/dev/null || git diff --name-only HEAD~1..HEAD)
if [ -z "$paths" ]; then
	exit 0
fi

payload=$(printf '{"agent_name":"%%s","project":"%%s","paths":%%s}' \
	"$AGENT_MAIL_AGENT" "$AGENT_MAIL_PROJECT" \
	"$(printf '%%s\n' "$paths" | sed 's/.*/"&"/' | paste -sd, - | sed 's/^/[/;s/$/]/')")

response=$(curl -s -X POST "$server_url/api/guard/check-push" \
	-H 'Content-Type: application/json' \
	-d "$payload")

blocked=$(printf '%%s' "$response" | grep -o '"blocked":true' || true)
if [ -n "$blocked" ]; then
	echo "agentmail: push blocked by active file reservations" >&2
	echo "$response" >&2
	exit 1
fi

exit 0
`

// RenderHookScript parameterizes the pre-push hook wrapper by serverURL.
func RenderHookScript(serverURL string) string {
	return fmt.Sprintf(hookScriptTemplate, strings.TrimRight(serverURL, "/"))
}

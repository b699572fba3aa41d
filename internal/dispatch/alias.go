package dispatch

// aliases is the fixed legacy-name mapping spec §4.J mandates. Resolution
// happens before handler lookup; a name absent from this map passes
// through unchanged.
var aliases = map[string]string{
	"fetch_inbox":               "list_inbox",
	"check_inbox":               "list_inbox",
	"release_file_reservations": "release_file_reservations_by_path",
	"renew_file_reservations":   "renew_file_reservations_by_agent",
	"list_file_reservations":    "list_reservations",
	"list_project_agents":       "list_agents",
}

// resolveAlias maps a legacy tool name to its canonical name, returning the
// input unchanged (and ok=false) when no alias applies.
func resolveAlias(name string) (canonical string, ok bool) {
	canonical, ok = aliases[name]
	if !ok {
		return name, false
	}
	return canonical, true
}

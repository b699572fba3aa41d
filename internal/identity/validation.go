package identity

import (
	"regexp"

	"github.com/emergent-company/agentmail/internal/apperr"
)

var agentNamePattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_-]{0,63}$`)

// ValidateAgentName enforces spec §4.E's character-class and length rule for
// agent names: 1-64 characters, alphanumeric plus hyphen/underscore, must
// not start with a separator.
func ValidateAgentName(name string) error {
	if name == "" {
		return &apperr.Validation{Field: "name", Value: name, Reason: "must not be empty"}
	}
	if len(name) > 64 {
		return &apperr.Validation{
			Field: "name", Value: name, Reason: "must be 64 characters or fewer",
			Suggestion: name[:64],
		}
	}
	if !agentNamePattern.MatchString(name) {
		return &apperr.Validation{
			Field: "name", Value: name,
			Reason:     "must start with a letter or digit and contain only letters, digits, '-', or '_'",
			Suggestion: slugify(name),
		}
	}
	return nil
}

// ValidateProjectKey enforces length and non-emptiness for a project's human
// key (normally a filesystem path or repository identifier). Unlike agent
// names, project keys carry path separators and are not further restricted.
func ValidateProjectKey(key string) error {
	if key == "" {
		return &apperr.Validation{Field: "human_key", Value: key, Reason: "must not be empty"}
	}
	if len(key) > 1024 {
		return &apperr.Validation{Field: "human_key", Value: key, Reason: "must be 1024 characters or fewer"}
	}
	return nil
}

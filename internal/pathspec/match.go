// Package pathspec decides whether two glob path patterns could match a
// common concrete path, per spec §4.D. This is deliberately not a general
// glob-intersection solver — the algorithm below is the contract downstream
// tests assume, and must not be "improved" into something more clever.
//
// path/filepath.Match supplies the literal-glob-match primitive for steps 2
// and 3; no ecosystem library in the retrieval pack implements this
// particular segment-prefix conflict rule, so the decomposition walk (steps
// 4-5) is hand-written standard-library code.
package pathspec

import (
	"path/filepath"
	"strings"
)

// Conflicts reports whether patterns a and b could match a common concrete
// path, following the ordered algorithm in spec §4.D.
func Conflicts(a, b string) bool {
	// 1. String-equal.
	if a == b {
		return true
	}

	// 2. Treat a as a glob, test against b literally.
	if matched, err := filepath.Match(a, b); err == nil && matched {
		return true
	}

	// 3. Symmetric: treat b as a glob, test against a literally.
	if matched, err := filepath.Match(b, a); err == nil && matched {
		return true
	}

	segsA := strings.Split(a, "/")
	segsB := strings.Split(b, "/")

	// 5. A pattern that begins with a wildcard segment could match anything.
	if len(segsA) > 0 && containsWildcard(segsA[0]) {
		return true
	}
	if len(segsB) > 0 && containsWildcard(segsB[0]) {
		return true
	}

	// 4. Walk paired segments left-to-right, accumulating a shared
	// non-wildcard prefix. Stop at the first segment containing a wildcard
	// in either pattern.
	n := min(len(segsA), len(segsB))
	sharedNonWildcard := false
	for i := 0; i < n; i++ {
		sa, sb := segsA[i], segsB[i]
		if containsWildcard(sa) || containsWildcard(sb) {
			break
		}
		if sa != sb {
			return false
		}
		sharedNonWildcard = true
	}

	return sharedNonWildcard
}

func containsWildcard(seg string) bool {
	return strings.Contains(seg, "*")
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

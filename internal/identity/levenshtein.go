package identity

// levenshtein computes the edit distance between a and b using the classic
// two-row dynamic-programming table.
func levenshtein(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	if len(ra) == 0 {
		return len(rb)
	}
	if len(rb) == 0 {
		return len(ra)
	}

	prev := make([]int, len(rb)+1)
	curr := make([]int, len(rb)+1)
	for j := range prev {
		prev[j] = j
	}

	for i := 1; i <= len(ra); i++ {
		curr[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			curr[j] = minInt(
				prev[j]+1,      // deletion
				curr[j-1]+1,    // insertion
				prev[j-1]+cost, // substitution
			)
		}
		prev, curr = curr, prev
	}
	return prev[len(rb)]
}

func minInt(vals ...int) int {
	m := vals[0]
	for _, v := range vals[1:] {
		if v < m {
			m = v
		}
	}
	return m
}

// suggestionThreshold returns the maximum edit distance spec §4.E considers
// a plausible typo for a name of the given length: max(3, ceil(len/2)).
func suggestionThreshold(length int) int {
	half := (length + 1) / 2
	if half > 3 {
		return half
	}
	return 3
}

// suggest returns up to 3 candidates from population within the
// length-scaled Levenshtein threshold of target, nearest first.
func suggest(target string, population []string) []string {
	type scored struct {
		name string
		dist int
	}
	threshold := suggestionThreshold(len(target))

	var candidates []scored
	for _, candidate := range population {
		d := levenshtein(target, candidate)
		if d <= threshold {
			candidates = append(candidates, scored{candidate, d})
		}
	}

	// Stable insertion sort by distance; population sizes here are small
	// (agents/projects per install), so this never needs to be fancy.
	for i := 1; i < len(candidates); i++ {
		for j := i; j > 0 && candidates[j].dist < candidates[j-1].dist; j-- {
			candidates[j], candidates[j-1] = candidates[j-1], candidates[j]
		}
	}

	if len(candidates) > 3 {
		candidates = candidates[:3]
	}

	out := make([]string, len(candidates))
	for i, c := range candidates {
		out[i] = c.name
	}
	return out
}

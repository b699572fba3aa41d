package archive

import "sync"

// Handle wraps a *Repo with its own mutex so the repo-handle cache (§4.C)
// can let callers against different projects run concurrently while callers
// against the same project serialize.
type Handle struct {
	mu   sync.Mutex
	repo *Repo
}

// NewHandle wraps repo in a lockable Handle.
func NewHandle(repo *Repo) *Handle {
	return &Handle{repo: repo}
}

// Lock acquires exclusive access to the wrapped repository and returns it.
// Callers must call Unlock when done.
func (h *Handle) Lock() *Repo {
	h.mu.Lock()
	return h.repo
}

// Unlock releases exclusive access.
func (h *Handle) Unlock() {
	h.mu.Unlock()
}

// Package archive implements the Git-backed audit log described in spec
// §4.B. Every mutation of a user-facing durable entity is mirrored here as
// a commit; the database remains authoritative for queries, the archive is
// authoritative for audit.
package archive

import (
	"bytes"
	"errors"
	"io"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"

	"github.com/emergent-company/agentmail/internal/apperr"
)

// Identity is the committer identity used for every archive commit.
type Identity struct {
	Name  string
	Email string
}

// Repo wraps a Git work-tree rooted at a configured path. One Repo is
// opened per project-identity path and shared via the repo-handle cache
// (component C); callers must hold the lock of the wrapping Handle while
// mutating it (see Handle and internal/repocache).
type Repo struct {
	path     string
	git      *git.Repository
	identity Identity
}

// Open opens an existing Git work-tree or initializes a new one at path.
func Open(path string, identity Identity) (*Repo, error) {
	r, err := git.PlainOpen(path)
	if err != nil {
		if errors.Is(err, git.ErrRepositoryNotExists) {
			r, err = git.PlainInit(path, false)
			if err != nil {
				return nil, &apperr.Archive{Op: "init", Err: err}
			}
		} else {
			return nil, &apperr.Archive{Op: "open", Err: err}
		}
	}
	return &Repo{path: path, git: r, identity: identity}, nil
}

// OpenReadOnly opens path only if it already contains a Git repository,
// returning (nil, nil) when it doesn't — "not a repository" is a normal
// outcome on the optional-discovery paths the precommit guard uses, not an
// error, per spec §4.B.
func OpenReadOnly(path string) (*Repo, error) {
	r, err := git.PlainOpen(path)
	if err != nil {
		if errors.Is(err, git.ErrRepositoryNotExists) {
			return nil, nil
		}
		return nil, &apperr.Archive{Op: "open read-only", Err: err}
	}
	return &Repo{path: path, git: r}, nil
}

// Path returns the filesystem path this handle was opened against, used by
// the repo-handle cache as its key.
func (r *Repo) Path() string { return r.path }

// Commit writes relPath with the given UTF-8 content as a single commit on
// top of HEAD (or as the repository's first commit if it has none yet).
// Returns the new commit's object ID.
func (r *Repo) Commit(relPath, content, message string) (plumbing.Hash, error) {
	wt, err := r.git.Worktree()
	if err != nil {
		return plumbing.ZeroHash, &apperr.Archive{Op: "worktree", Err: err}
	}

	fullPath := wt.Filesystem.Join(wt.Filesystem.Root(), relPath)
	if dir := wt.Filesystem.Join(wt.Filesystem.Root(), dirOf(relPath)); dir != wt.Filesystem.Root() {
		if err := wt.Filesystem.MkdirAll(dirOf(relPath), 0o755); err != nil {
			return plumbing.ZeroHash, &apperr.Archive{Op: "mkdir", Err: err}
		}
	}

	f, err := wt.Filesystem.Create(fullPath)
	if err != nil {
		return plumbing.ZeroHash, &apperr.Archive{Op: "create file", Err: err}
	}
	if _, err := io.Copy(f, bytes.NewReader([]byte(content))); err != nil {
		f.Close()
		return plumbing.ZeroHash, &apperr.Archive{Op: "write file", Err: err}
	}
	f.Close()

	if _, err := wt.Add(relPath); err != nil {
		return plumbing.ZeroHash, &apperr.Archive{Op: "stage", Err: err}
	}

	sig := object.Signature{
		Name:  r.identity.Name,
		Email: r.identity.Email,
		When:  time.Now(),
	}

	hash, err := wt.Commit(message, &git.CommitOptions{
		Author:    &sig,
		Committer: &sig,
	})
	if err != nil {
		return plumbing.ZeroHash, &apperr.Archive{Op: "commit", Err: err}
	}
	return hash, nil
}

// ReadAtHEAD reads relPath's content as of the current HEAD commit.
func (r *Repo) ReadAtHEAD(relPath string) ([]byte, error) {
	head, err := r.git.Head()
	if err != nil {
		if errors.Is(err, plumbing.ErrReferenceNotFound) {
			return nil, nil // empty repo, no HEAD yet
		}
		return nil, &apperr.Archive{Op: "head", Err: err}
	}

	commit, err := r.git.CommitObject(head.Hash())
	if err != nil {
		return nil, &apperr.Archive{Op: "commit object", Err: err}
	}

	tree, err := commit.Tree()
	if err != nil {
		return nil, &apperr.Archive{Op: "tree", Err: err}
	}

	f, err := tree.File(relPath)
	if err != nil {
		if errors.Is(err, object.ErrFileNotFound) {
			return nil, nil
		}
		return nil, &apperr.Archive{Op: "tree file", Err: err}
	}

	content, err := f.Contents()
	if err != nil {
		return nil, &apperr.Archive{Op: "file contents", Err: err}
	}
	return []byte(content), nil
}

func dirOf(relPath string) string {
	for i := len(relPath) - 1; i >= 0; i-- {
		if relPath[i] == '/' {
			return relPath[:i]
		}
	}
	return "."
}

// Package identity implements the project/agent/capability model of spec
// §4.E: privacy-preserving project slug derivation, agent registration, and
// the default capability set granted on creation.
//
// Slug derivation is ported from the mcp_agent_mail Rust implementation's
// project_identity.rs: a project is identified by a short, non-reversible
// slug derived from its filesystem path (or, in git-aware modes, from its
// remote URL or work-tree root) rather than the raw path itself, so stored
// data never leaks a contributor's home directory or username.
package identity

import (
	"crypto/sha1"
	"encoding/hex"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/go-git/go-git/v5"
	gitfs "github.com/go-git/go-git/v5/storage/filesystem"
)

// Mode selects how a project's slug is derived from its working directory.
type Mode string

const (
	ModeDir          Mode = "dir"
	ModeGitRemote    Mode = "git_remote"
	ModeGitToplevel  Mode = "git_toplevel"
	ModeGitCommonDir Mode = "git_common_dir"
)

// ComputeSlug derives a project slug for humanKey (typically a filesystem
// path) under mode, falling back to dir-mode whenever a git-aware mode can't
// resolve a repository — mirroring the Rust original's unwrap_or_else chain.
func ComputeSlug(humanKey string, mode Mode, remoteName string) string {
	switch mode {
	case ModeGitRemote:
		if slug, ok := computeGitRemoteSlug(humanKey, remoteName); ok {
			return slug
		}
	case ModeGitToplevel:
		if slug, ok := computeGitToplevelSlug(humanKey); ok {
			return slug
		}
	case ModeGitCommonDir:
		if slug, ok := computeGitCommonDirSlug(humanKey); ok {
			return slug
		}
	}
	return computeDirSlugSafe(humanKey)
}

func computeDirSlugSafe(path string) string {
	last := filepath.Base(path)
	if last == "." || last == "/" || last == "" {
		last = "project"
	}
	name := slugify(last)
	if name == "" {
		name = "project"
	}
	return name + "-" + shortSHA1(path, 8)
}

func shortSHA1(text string, n int) string {
	sum := sha1.Sum([]byte(text))
	encoded := hex.EncodeToString(sum[:])
	if n > len(encoded) {
		n = len(encoded)
	}
	return encoded[:n]
}

var slugNonAlnum = regexp.MustCompile(`[^a-z0-9]+`)

// slugify lowercases s and collapses every run of non-alphanumeric
// characters into a single hyphen, trimming leading/trailing hyphens —
// equivalent to the Rust `slug` crate's default behavior for ASCII input.
func slugify(s string) string {
	lowered := strings.ToLower(s)
	replaced := slugNonAlnum.ReplaceAllString(lowered, "-")
	return strings.Trim(replaced, "-")
}

func normalizeRemoteURL(raw string) (string, bool) {
	url := strings.TrimSpace(raw)
	if url == "" {
		return "", false
	}

	var host, path string
	switch {
	case strings.HasPrefix(url, "git@"):
		rest := strings.TrimPrefix(url, "git@")
		h, p, ok := strings.Cut(rest, ":")
		if !ok {
			return "", false
		}
		host, path = h, p
	case strings.HasPrefix(url, "https://"):
		h, p, ok := strings.Cut(strings.TrimPrefix(url, "https://"), "/")
		if !ok {
			return "", false
		}
		host, path = h, p
	case strings.HasPrefix(url, "http://"):
		h, p, ok := strings.Cut(strings.TrimPrefix(url, "http://"), "/")
		if !ok {
			return "", false
		}
		host, path = h, p
	default:
		return "", false
	}

	if host == "" {
		return "", false
	}

	path = strings.TrimPrefix(path, "/")
	path = strings.TrimSuffix(path, ".git")

	var parts []string
	for _, p := range strings.Split(path, "/") {
		if p != "" {
			parts = append(parts, p)
		}
	}
	if len(parts) < 2 {
		return "", false
	}

	return host + "/" + parts[0] + "/" + parts[1], true
}

func computeGitRemoteSlug(path, remoteName string) (string, bool) {
	if remoteName == "" {
		remoteName = "origin"
	}
	repo, err := discoverRepo(path)
	if err != nil {
		return "", false
	}
	remote, err := repo.Remote(remoteName)
	if err != nil {
		return "", false
	}
	urls := remote.Config().URLs
	if len(urls) == 0 {
		return "", false
	}
	normalized, ok := normalizeRemoteURL(urls[0])
	if !ok {
		return "", false
	}
	repoName := normalized
	if idx := strings.LastIndex(normalized, "/"); idx >= 0 {
		repoName = normalized[idx+1:]
	}
	return repoName + "-" + shortSHA1(normalized, 10), true
}

func computeGitToplevelSlug(path string) (string, bool) {
	repo, err := discoverRepo(path)
	if err != nil {
		return "", false
	}
	wt, err := repo.Worktree()
	if err != nil {
		return "", false
	}
	root := wt.Filesystem.Root()
	real, err := filepath.Abs(root)
	if err != nil {
		return "", false
	}
	name := filepath.Base(real)
	if name == "" {
		return "", false
	}
	return name + "-" + shortSHA1(real, 10), true
}

func computeGitCommonDirSlug(path string) (string, bool) {
	repo, err := discoverRepo(path)
	if err != nil {
		return "", false
	}
	storer, ok := repo.Storer.(*gitfs.Storage)
	if !ok {
		return "", false
	}
	real, err := filepath.Abs(storer.Filesystem().Root())
	if err != nil {
		return "", false
	}
	return "repo-" + shortSHA1(real, 10), true
}

func discoverRepo(path string) (*git.Repository, error) {
	return git.PlainOpenWithOptions(path, &git.PlainOpenOptions{DetectDotGit: true})
}

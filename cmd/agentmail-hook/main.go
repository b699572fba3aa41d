// Command agentmail-hook renders and installs the Git pre-push hook that
// consults Agent Mail's precommit guard (internal/guard) before a push is
// allowed to proceed.
//
// Usage:
//
//	agentmail-hook                        print the hook script to stdout
//	agentmail-hook --install              write it to .git/hooks/pre-push
//	agentmail-hook --server-url URL ...   point the hook at a non-default server
package main

import (
	"flag"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/emergent-company/agentmail/internal/guard"
)

const defaultServerURL = "http://localhost:8383"

func main() {
	fs := flag.NewFlagSet("agentmail-hook", flag.ExitOnError)
	serverURL := fs.String("server-url", envOr("AGENTMAIL_SERVER_URL", defaultServerURL), "Agent Mail server URL the hook posts check-push requests to")
	install := fs.Bool("install", false, "write the hook to .git/hooks/pre-push instead of printing it")
	fs.Parse(os.Args[1:])

	script := guard.RenderHookScript(*serverURL)

	if !*install {
		fmt.Fprint(os.Stdout, script)
		return
	}

	if err := installHook(script); err != nil {
		fmt.Fprintf(os.Stderr, "agentmail-hook: %v\n", err)
		os.Exit(1)
	}
}

// installHook locates the current repository's hooks directory (honoring
// core.hooksPath if the repo overrides it) and writes pre-push there.
func installHook(script string) error {
	hooksDir, err := gitHooksDir()
	if err != nil {
		return fmt.Errorf("locating git hooks directory: %w", err)
	}

	path := filepath.Join(hooksDir, "pre-push")
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}

	fmt.Fprintf(os.Stdout, "installed pre-push hook at %s\n", path)
	return nil
}

func gitHooksDir() (string, error) {
	if out, err := exec.Command("git", "config", "core.hooksPath").Output(); err == nil {
		if p := strings.TrimSpace(string(out)); p != "" {
			return p, nil
		}
	}

	out, err := exec.Command("git", "rev-parse", "--git-path", "hooks").Output()
	if err != nil {
		return "", fmt.Errorf("not a git repository (or git is not on PATH): %w", err)
	}
	return strings.TrimSpace(string(out)), nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

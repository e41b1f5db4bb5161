// Package dynargs implements the best-effort handoff of runtime arguments
// from a connecting WebSocket client to a backend process's startup wrapper.
//
// For a dynamic route the supervisor launches a generated shell wrapper
// instead of the raw command. On WebSocket connect the proxy persists the
// connection's query arguments to a route-keyed parameter file and relaunches
// the backend; the fresh wrapper polls for that file for a bounded time,
// consumes it exactly once, and then execs the real command with static plus
// dynamic arguments. The relaunch disconnects existing sessions on the
// route. Only one pending parameter set per route is retained, so concurrent
// connections to the same dynamic route race on which arguments apply (last
// write wins).
package dynargs

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// WaitTimeout is how long a wrapper waits for a parameter file before
// proceeding with only the static arguments.
const WaitTimeout = 2 * time.Second

// StaleAge is the age past which leftover parameter files are swept.
const StaleAge = 5 * time.Minute

// Store manages parameter files and generated wrapper scripts under a
// temp directory.
type Store struct {
	paramDir   string
	wrapperDir string
}

// NewStore creates a store rooted at dir (os.TempDir() when empty).
func NewStore(dir string) *Store {
	if dir == "" {
		dir = os.TempDir()
	}
	return &Store{
		paramDir:   dir,
		wrapperDir: filepath.Join(dir, "ttymux-wrappers"),
	}
}

// sanitizeRoute turns a route path into a filename-safe token.
func sanitizeRoute(routePath string) string {
	s := strings.ReplaceAll(routePath, "/", "_")
	if s == "_" {
		s = "_root"
	}
	return s
}

// ParamFile returns the parameter file path for a route.
func (s *Store) ParamFile(routePath string) string {
	return filepath.Join(s.paramDir, "ttymux_params"+sanitizeRoute(routePath))
}

// WriteParams persists the pending argument list for a route, overwriting
// any previous set. The file holds one argument per line and is written
// with restrictive permissions. An empty list still produces a file so the
// wrapper stops waiting immediately.
func (s *Store) WriteParams(routePath string, args []string) error {
	content := strings.Join(args, "\n")
	if content != "" {
		content += "\n"
	}
	path := s.ParamFile(routePath)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		return fmt.Errorf("writing params for route %q: %w", routePath, err)
	}
	return nil
}

// ParseArgsParam splits the "args" query parameter ("--verbose,--mode,prod")
// into trimmed arguments, dropping empties.
func ParseArgsParam(raw string) []string {
	if raw == "" {
		return nil
	}
	var args []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			args = append(args, part)
		}
	}
	return args
}

// CreateWrapper writes an executable shell wrapper for a dynamic route and
// returns its path. The wrapper polls for the route's parameter file up to
// WaitTimeout, consumes and deletes it, and execs command with the extra
// arguments appended. Arguments read from the file are split on whitespace;
// arguments containing spaces are not supported by this mechanism.
func (s *Store) CreateWrapper(routePath string, command []string) (string, error) {
	if len(command) == 0 {
		return "", fmt.Errorf("empty command for route %q", routePath)
	}
	if err := os.MkdirAll(s.wrapperDir, 0o755); err != nil {
		return "", fmt.Errorf("creating wrapper dir: %w", err)
	}

	quoted := make([]string, len(command))
	for i, arg := range command {
		quoted[i] = shellQuote(arg)
	}

	// Poll count matches WaitTimeout at 100ms per iteration.
	checks := int(WaitTimeout / (100 * time.Millisecond))

	script := fmt.Sprintf(`#!/bin/sh
# Generated wrapper for route %s. Waits briefly for runtime arguments
# written by the proxy, then launches the real command.
PARAM_FILE=%s
EXTRA_ARGS=""
i=0
while [ "$i" -lt %d ]; do
    if [ -f "$PARAM_FILE" ]; then
        EXTRA_ARGS=$(cat "$PARAM_FILE")
        rm -f "$PARAM_FILE"
        break
    fi
    sleep 0.1
    i=$((i + 1))
done
exec %s $EXTRA_ARGS
`, routePath, shellQuote(s.ParamFile(routePath)), checks, strings.Join(quoted, " "))

	path := filepath.Join(s.wrapperDir, fmt.Sprintf("wrapper%s_%d.sh", sanitizeRoute(routePath), os.Getpid()))
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		return "", fmt.Errorf("writing wrapper for route %q: %w", routePath, err)
	}
	return path, nil
}

// CleanupStale removes parameter files older than maxAge that a wrapper
// never consumed. Errors are logged and swallowed; the sweep is best-effort.
func (s *Store) CleanupStale(maxAge time.Duration) {
	matches, err := filepath.Glob(filepath.Join(s.paramDir, "ttymux_params*"))
	if err != nil {
		return
	}
	cutoff := time.Now().Add(-maxAge)
	for _, path := range matches {
		info, err := os.Stat(path)
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			if err := os.Remove(path); err != nil {
				log.Printf("dynargs: failed to remove stale param file %s: %v", path, err)
			}
		}
	}
}

// shellQuote single-quotes a string for safe inclusion in a sh script.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

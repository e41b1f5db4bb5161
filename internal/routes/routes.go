// Package routes holds the route table shared by the process supervisor and
// the reverse proxy router: the mapping from a public URL path to one backend
// terminal process, plus the mounting scheme that governs path rewriting.
package routes

import (
	"fmt"
	"sort"
	"strings"
)

// Config describes one mounted terminal route. The supervisor mutates Port
// when allocating; everything else is fixed after validation.
type Config struct {
	RoutePath string
	Command   []string
	Args      []string
	Port      int
	Title     string
	Dynamic   bool
}

// NotFoundError is returned when no configured route matches a request path.
type NotFoundError struct {
	Path string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("no route configured for path %q", e.Path)
}

// Target is the read-only view the proxy router uses to reach a backend.
type Target struct {
	RoutePath string
	Host      string
	Port      int
}

// Addr returns the host:port the backend listens on.
func (t Target) Addr() string {
	return fmt.Sprintf("%s:%d", t.Host, t.Port)
}

// NormalizePath ensures a leading slash and strips any trailing slash
// (except for the root path itself).
func NormalizePath(p string) string {
	if p == "" || p == "/" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return strings.TrimRight(p, "/")
}

// NormalizeMountPath normalizes a mount path the same way as NormalizePath
// but rejects "/terminal", which is reserved for backend connections.
func NormalizeMountPath(p string) (string, error) {
	p = NormalizePath(p)
	if p == "/terminal" {
		return "", fmt.Errorf(`mount path "/terminal" is reserved for terminal connections`)
	}
	return p, nil
}

// Table is the single source of truth for route -> port mappings. It is
// owned by whoever constructs it and passed by reference to the supervisor
// and the proxy router; it is never package-level state.
type Table struct {
	mountPath string
	configs   []*Config
	byPath    map[string]*Config
	// byLength caches the non-root routes sorted longest-first for
	// prefix resolution.
	byLength []*Config
	root     *Config
}

// NewTable validates the route list (unique normalized paths) and builds the
// table. Configuration order is preserved for startup ordering.
func NewTable(mountPath string, configs []*Config) (*Table, error) {
	mp, err := NormalizeMountPath(mountPath)
	if err != nil {
		return nil, err
	}
	t := &Table{
		mountPath: mp,
		byPath:    make(map[string]*Config, len(configs)),
	}
	for _, cfg := range configs {
		cfg.RoutePath = NormalizePath(cfg.RoutePath)
		if _, dup := t.byPath[cfg.RoutePath]; dup {
			return nil, fmt.Errorf("duplicate route path %q", cfg.RoutePath)
		}
		t.byPath[cfg.RoutePath] = cfg
		t.configs = append(t.configs, cfg)
		if cfg.RoutePath == "/" {
			t.root = cfg
		} else {
			t.byLength = append(t.byLength, cfg)
		}
	}
	sort.SliceStable(t.byLength, func(i, j int) bool {
		return len(t.byLength[i].RoutePath) > len(t.byLength[j].RoutePath)
	})
	return t, nil
}

// MountPath returns the normalized mount path for the whole proxy surface.
func (t *Table) MountPath() string { return t.mountPath }

// IsRootMounted reports whether the proxy surface lives at the server root.
func (t *Table) IsRootMounted() bool { return t.mountPath == "/" }

// Routes returns the configured routes in configuration order.
func (t *Table) Routes() []*Config { return t.configs }

// Lookup returns the route with the exact given path, or nil.
func (t *Table) Lookup(routePath string) *Config {
	return t.byPath[NormalizePath(routePath)]
}

// Resolve finds the route responsible for a request path using
// longest-prefix matching on real path-segment boundaries: a route /a
// matches /a and /a/..., but never /ab. The root route, when configured,
// is the fallback for anything no other route claims.
func (t *Table) Resolve(requestPath string) (*Config, error) {
	for _, cfg := range t.byLength {
		if matchesRoute(requestPath, cfg.RoutePath) {
			return cfg, nil
		}
	}
	if t.root != nil {
		return t.root, nil
	}
	return nil, &NotFoundError{Path: requestPath}
}

func matchesRoute(path, route string) bool {
	return path == route || strings.HasPrefix(path, route+"/")
}

// TerminalPath returns the public sub-path under which a route's backend
// endpoints are exposed. For the root route this depends on the mounting
// scheme; for any other route it is the route path plus "/terminal".
func (t *Table) TerminalPath(cfg *Config) string {
	if cfg.RoutePath == "/" {
		if t.IsRootMounted() {
			return "/terminal"
		}
		return t.mountPath + "/terminal"
	}
	return cfg.RoutePath + "/terminal"
}

// StripPrefix rewrites an inbound path into the path the backend should
// see, removing the route's terminal-path prefix. The backend always
// perceives itself as mounted at its own root, so an empty remainder
// becomes "/". The stripping rule for the root route is scheme-dependent.
func (t *Table) StripPrefix(path string, cfg *Config) string {
	terminalPath := t.TerminalPath(cfg)

	if cfg.RoutePath == "/" {
		if t.IsRootMounted() {
			if strings.HasPrefix(path, "/terminal/") {
				return strings.TrimPrefix(path, "/terminal")
			}
			return "/"
		}
		if strings.HasPrefix(path, terminalPath) {
			if rest := strings.TrimPrefix(path, terminalPath); rest != "" {
				return rest
			}
		}
		return "/"
	}

	if strings.HasPrefix(path, terminalPath+"/") {
		if rest := strings.TrimPrefix(path, terminalPath); rest != "" {
			return rest
		}
	}
	return "/"
}

// Targets rebuilds the read-only proxy view from the current table. Routes
// without an allocated port are skipped.
func (t *Table) Targets() []Target {
	targets := make([]Target, 0, len(t.configs))
	for _, cfg := range t.configs {
		if cfg.Port == 0 {
			continue
		}
		targets = append(targets, Target{
			RoutePath: cfg.RoutePath,
			Host:      "127.0.0.1",
			Port:      cfg.Port,
		})
	}
	return targets
}

// TargetFor returns the proxy target for a single route, or an error if the
// route has no allocated port yet.
func (t *Table) TargetFor(cfg *Config) (Target, error) {
	if cfg.Port == 0 {
		return Target{}, fmt.Errorf("route %q has no port assigned", cfg.RoutePath)
	}
	return Target{RoutePath: cfg.RoutePath, Host: "127.0.0.1", Port: cfg.Port}, nil
}

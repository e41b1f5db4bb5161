// Package proxy forwards HTTP requests and WebSocket byte streams between
// the public-facing server and the per-route backend processes, rewriting
// path prefixes so each backend sees itself mounted at its own root.
package proxy

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/ttymux/ttymux/internal/dynargs"
	"github.com/ttymux/ttymux/internal/logutil"
	"github.com/ttymux/ttymux/internal/routes"
)

const clientTimeout = 30 * time.Second

// Error wraps any downstream failure while forwarding. Handlers convert it
// into an error response or a closed connection; it never propagates as a
// crash.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("proxy %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// BackendRestarter relaunches a route's backend process. Satisfied by the
// supervisor; the proxy uses it so connect-time arguments on dynamic routes
// take effect.
type BackendRestarter interface {
	Restart(routePath string) error
}

// Router resolves request paths against the route table and forwards
// traffic to the matching backend. It only ever reads the table.
type Router struct {
	table    *routes.Table
	store    *dynargs.Store
	backends BackendRestarter

	mu     sync.Mutex
	client *http.Client
}

// New creates a router over the given table. store and backends may be nil
// when no dynamic routes are configured.
func New(table *routes.Table, store *dynargs.Store, backends BackendRestarter) *Router {
	return &Router{table: table, store: store, backends: backends}
}

// httpClient lazily creates the single pooled client shared by all HTTP
// proxy calls.
func (p *Router) httpClient() *http.Client {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.client == nil {
		p.client = &http.Client{Timeout: clientTimeout}
	}
	return p.client
}

// Close releases the pooled client's connections. Safe to call once at
// shutdown.
func (p *Router) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.client != nil {
		p.client.CloseIdleConnections()
		p.client = nil
	}
}

// hop-by-hop and recomputed headers that must not be copied back to the
// client: the proxy re-chunks the body itself, so stale length or encoding
// headers would corrupt the client's view.
var droppedResponseHeaders = map[string]bool{
	"Content-Encoding":  true,
	"Content-Length":    true,
	"Transfer-Encoding": true,
}

// ProxyHTTP resolves the request path to a backend, rewrites the path, and
// streams the backend's response back. Source-map requests are answered
// locally; backends do not serve real ones.
func (p *Router) ProxyHTTP(w http.ResponseWriter, r *http.Request) error {
	if strings.HasSuffix(r.URL.Path, ".map") {
		return p.serveSourcemap(w, r.URL.Path)
	}

	cfg, err := p.table.Resolve(r.URL.Path)
	if err != nil {
		return err
	}
	target, err := p.table.TargetFor(cfg)
	if err != nil {
		return &Error{Op: "http", Err: err}
	}

	targetURL := "http://" + target.Addr() + p.table.StripPrefix(r.URL.Path, cfg)
	if r.URL.RawQuery != "" {
		targetURL += "?" + r.URL.RawQuery
	}

	req, err := http.NewRequestWithContext(r.Context(), r.Method, targetURL, r.Body)
	if err != nil {
		return &Error{Op: "http", Err: err}
	}
	// Copy inbound headers but never the public-facing Host.
	for k, vv := range r.Header {
		if http.CanonicalHeaderKey(k) == "Host" {
			continue
		}
		req.Header[k] = vv
	}

	resp, err := p.httpClient().Do(req)
	if err != nil {
		return &Error{Op: "http", Err: err}
	}
	defer resp.Body.Close()

	for k, vv := range resp.Header {
		if droppedResponseHeaders[http.CanonicalHeaderKey(k)] {
			continue
		}
		for _, v := range vv {
			w.Header().Add(k, v)
		}
	}
	w.WriteHeader(resp.StatusCode)
	if _, err := io.Copy(w, resp.Body); err != nil {
		// Response already started; log rather than surface.
		log.Printf("Proxy stream interrupted for %s: %v", logutil.SanitizeForLog(r.URL.Path), err)
	}
	return nil
}

// serveSourcemap synthesizes a minimal empty sourcemap instead of forwarding
// the request upstream, avoiding needless round-trips and 404 noise.
func (p *Router) serveSourcemap(w http.ResponseWriter, reqPath string) error {
	sourcemap := map[string]any{
		"version":        3,
		"file":           strings.TrimSuffix(path.Base(reqPath), ".map"),
		"sourceRoot":     "",
		"sources":        []string{"source.js"},
		"sourcesContent": []string{"// Source code unavailable"},
		"names":          []string{},
		"mappings":       ";;;;;;;",
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	return json.NewEncoder(w).Encode(sourcemap)
}

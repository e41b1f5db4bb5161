package proxy

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"github.com/ttymux/ttymux/internal/routes"
)

func extractPort(t *testing.T, serverURL string) int {
	t.Helper()
	_, portStr, err := net.SplitHostPort(strings.TrimPrefix(serverURL, "http://"))
	if err != nil {
		t.Fatalf("splitting %q: %v", serverURL, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		t.Fatalf("parsing port %q: %v", portStr, err)
	}
	return port
}

func newProxyTable(t *testing.T, mount string, cfgs ...*routes.Config) *routes.Table {
	t.Helper()
	table, err := routes.NewTable(mount, cfgs)
	if err != nil {
		t.Fatalf("NewTable: %v", err)
	}
	return table
}

func TestProxyHTTP_RewritesPath(t *testing.T) {
	var receivedPath string
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		receivedPath = r.URL.Path
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, "<html>tty</html>")
	}))
	defer backend.Close()

	table := newProxyTable(t, "/",
		&routes.Config{RoutePath: "/games", Command: []string{"true"}, Port: extractPort(t, backend.URL)})
	p := New(table, nil, nil)
	defer p.Close()

	r := httptest.NewRequest("GET", "/games/terminal/health", nil)
	w := httptest.NewRecorder()
	if err := p.ProxyHTTP(w, r); err != nil {
		t.Fatalf("ProxyHTTP: %v", err)
	}

	if receivedPath != "/health" {
		t.Errorf("expected backend path /health, got %q", receivedPath)
	}
	if w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "tty") {
		t.Errorf("unexpected body: %s", w.Body.String())
	}
	if w.Header().Get("Content-Type") != "text/html" {
		t.Errorf("expected text/html, got %s", w.Header().Get("Content-Type"))
	}
}

func TestProxyHTTP_RootMountedRootRoute(t *testing.T) {
	var receivedPath string
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		receivedPath = r.URL.Path
		w.WriteHeader(http.StatusOK)
	}))
	defer backend.Close()

	table := newProxyTable(t, "/",
		&routes.Config{RoutePath: "/", Command: []string{"true"}, Port: extractPort(t, backend.URL)})
	p := New(table, nil, nil)
	defer p.Close()

	cases := []struct {
		path, want string
	}{
		{"/", "/"},
		{"/terminal/token", "/token"},
		{"/index.html", "/"},
	}
	for _, c := range cases {
		r := httptest.NewRequest("GET", c.path, nil)
		w := httptest.NewRecorder()
		if err := p.ProxyHTTP(w, r); err != nil {
			t.Fatalf("ProxyHTTP(%q): %v", c.path, err)
		}
		if receivedPath != c.want {
			t.Errorf("path %q: expected backend path %q, got %q", c.path, c.want, receivedPath)
		}
	}
}

func TestProxyHTTP_ForwardsQueryString(t *testing.T) {
	var receivedQuery string
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		receivedQuery = r.URL.RawQuery
		w.WriteHeader(http.StatusOK)
	}))
	defer backend.Close()

	table := newProxyTable(t, "/",
		&routes.Config{RoutePath: "/", Command: []string{"true"}, Port: extractPort(t, backend.URL)})
	p := New(table, nil, nil)
	defer p.Close()

	r := httptest.NewRequest("GET", "/terminal/stream?quality=high", nil)
	w := httptest.NewRecorder()
	if err := p.ProxyHTTP(w, r); err != nil {
		t.Fatalf("ProxyHTTP: %v", err)
	}
	if receivedQuery != "quality=high" {
		t.Errorf("expected query 'quality=high', got %q", receivedQuery)
	}
}

func TestProxyHTTP_DropsStaleBodyHeaders(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Encoding", "identity")
		w.Header().Set("X-Custom", "kept")
		fmt.Fprint(w, "payload")
	}))
	defer backend.Close()

	table := newProxyTable(t, "/",
		&routes.Config{RoutePath: "/", Command: []string{"true"}, Port: extractPort(t, backend.URL)})
	p := New(table, nil, nil)
	defer p.Close()

	r := httptest.NewRequest("GET", "/", nil)
	w := httptest.NewRecorder()
	if err := p.ProxyHTTP(w, r); err != nil {
		t.Fatalf("ProxyHTTP: %v", err)
	}
	if w.Header().Get("Content-Encoding") != "" {
		t.Error("Content-Encoding must not be copied back")
	}
	if w.Header().Get("Content-Length") != "" {
		t.Error("Content-Length must not be copied back")
	}
	if w.Header().Get("X-Custom") != "kept" {
		t.Errorf("expected X-Custom header to pass through, got %q", w.Header().Get("X-Custom"))
	}
}

func TestProxyHTTP_NoRoute(t *testing.T) {
	table := newProxyTable(t, "/",
		&routes.Config{RoutePath: "/games", Command: []string{"true"}, Port: 7700})
	p := New(table, nil, nil)
	defer p.Close()

	r := httptest.NewRequest("GET", "/missing", nil)
	w := httptest.NewRecorder()
	err := p.ProxyHTTP(w, r)
	var nf *routes.NotFoundError
	if !errors.As(err, &nf) {
		t.Fatalf("expected *routes.NotFoundError, got %v", err)
	}
}

func TestProxyHTTP_BackendUnreachable(t *testing.T) {
	// Grab a port with nothing listening.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	deadPort := ln.Addr().(*net.TCPAddr).Port
	ln.Close()

	table := newProxyTable(t, "/",
		&routes.Config{RoutePath: "/", Command: []string{"true"}, Port: deadPort})
	p := New(table, nil, nil)
	defer p.Close()

	r := httptest.NewRequest("GET", "/", nil)
	w := httptest.NewRecorder()
	perr := p.ProxyHTTP(w, r)
	var proxyErr *Error
	if !errors.As(perr, &proxyErr) {
		t.Fatalf("expected *Error, got %v", perr)
	}
	if proxyErr.Op != "http" {
		t.Errorf("expected op 'http', got %q", proxyErr.Op)
	}
}

func TestProxyHTTP_Sourcemap(t *testing.T) {
	// No backend needed: sourcemaps are synthesized locally.
	table := newProxyTable(t, "/",
		&routes.Config{RoutePath: "/", Command: []string{"true"}, Port: 7700})
	p := New(table, nil, nil)
	defer p.Close()

	r := httptest.NewRequest("GET", "/terminal/app.js.map", nil)
	w := httptest.NewRecorder()
	if err := p.ProxyHTTP(w, r); err != nil {
		t.Fatalf("ProxyHTTP: %v", err)
	}

	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("expected application/json, got %q", ct)
	}
	if w.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Error("expected permissive CORS header on sourcemap response")
	}

	var sm map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &sm); err != nil {
		t.Fatalf("decoding sourcemap: %v", err)
	}
	if sm["version"] != float64(3) {
		t.Errorf("expected sourcemap version 3, got %v", sm["version"])
	}
	if sm["file"] != "app.js" {
		t.Errorf("expected file 'app.js', got %v", sm["file"])
	}
}

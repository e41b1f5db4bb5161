// Package handlers exposes the proxy surface over HTTP: the catch-all
// terminal proxy plus the health and route-introspection endpoints.
package handlers

import (
	"errors"
	"log"
	"net/http"
	"strings"

	"github.com/ttymux/ttymux/internal/logutil"
	"github.com/ttymux/ttymux/internal/proxy"
	"github.com/ttymux/ttymux/internal/routes"
	"github.com/ttymux/ttymux/internal/supervisor"
)

// API bundles the components the HTTP surface needs. The route table and
// supervisor are owned elsewhere; handlers only hold references.
type API struct {
	Table *routes.Table
	Sup   *supervisor.Supervisor
	Proxy *proxy.Router
}

// Terminal is the catch-all handler for everything under the mount path. It
// delegates WebSocket upgrades to the WebSocket proxy and everything else
// to the HTTP proxy, converting proxy failures into clean error responses.
func (a *API) Terminal(w http.ResponseWriter, r *http.Request) {
	var err error
	if strings.EqualFold(r.Header.Get("Upgrade"), "websocket") {
		err = a.Proxy.ProxyWebSocket(w, r)
	} else {
		err = a.Proxy.ProxyHTTP(w, r)
	}
	if err == nil {
		return
	}

	var notFound *routes.NotFoundError
	if errors.As(err, &notFound) {
		writeError(w, http.StatusNotFound, notFound.Error())
		return
	}

	log.Printf("Proxy error for %s: %v", logutil.SanitizeForLog(r.URL.Path), err)
	var proxyErr *proxy.Error
	if errors.As(err, &proxyErr) && !strings.Contains(proxyErr.Op, "websocket") {
		writeError(w, http.StatusBadGateway, "failed to reach terminal backend")
	}
	// WebSocket errors after the upgrade cannot produce an HTTP response;
	// the connection has already been closed by the proxy.
}

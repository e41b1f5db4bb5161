package proxy

import (
	"context"
	"log"
	"net/http"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/ttymux/ttymux/internal/dynargs"
	"github.com/ttymux/ttymux/internal/logutil"
)

// ttySubprotocol is the WebSocket subprotocol the terminal backends expect.
const ttySubprotocol = "tty"

// wsReadLimit bounds a single relayed frame.
const wsReadLimit = 4 * 1024 * 1024

// ProxyWebSocket accepts the inbound terminal connection, dials the matching
// backend's WebSocket endpoint with the same subprotocol, and relays frames
// in both directions until either side closes. The inbound connection is
// always closed before returning, whichever path was taken.
func (p *Router) ProxyWebSocket(w http.ResponseWriter, r *http.Request) error {
	cfg, err := p.table.Resolve(r.URL.Path)
	if err != nil {
		return err
	}
	target, err := p.table.TargetFor(cfg)
	if err != nil {
		return &Error{Op: "websocket", Err: err}
	}

	session := uuid.NewString()[:8]

	clientConn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols:       []string{ttySubprotocol},
		InsecureSkipVerify: true,
	})
	if err != nil {
		return &Error{Op: "websocket accept", Err: err}
	}
	defer clientConn.CloseNow()

	// Dynamic routes: persist the connection's query arguments, then
	// relaunch the backend so its startup wrapper consumes them. The
	// backend only reads arguments at launch, so without the relaunch a
	// connect-time parameter set would never take effect. Existing
	// sessions on the route are disconnected by the relaunch. Single
	// pending set per route; concurrent connections race and the last
	// write wins.
	if cfg.Dynamic && p.store != nil {
		args := dynargs.ParseArgsParam(r.URL.Query().Get("args"))
		if err := p.store.WriteParams(cfg.RoutePath, args); err != nil {
			log.Printf("Failed to write dynamic args for route %s: %v",
				logutil.SanitizeForLog(cfg.RoutePath), err)
		} else if p.backends != nil {
			if err := p.backends.Restart(cfg.RoutePath); err != nil {
				log.Printf("Failed to relaunch backend for dynamic route %s: %v",
					logutil.SanitizeForLog(cfg.RoutePath), err)
			}
		}
	}

	log.Printf("WebSocket session %s connected for route %s", session, logutil.SanitizeForLog(cfg.RoutePath))

	ctx := r.Context()
	backendURL := "ws://" + target.Addr() + "/ws"
	backendConn, _, err := websocket.Dial(ctx, backendURL, &websocket.DialOptions{
		Subprotocols: []string{ttySubprotocol},
	})
	if err != nil {
		clientConn.Close(websocket.StatusBadGateway, "cannot reach terminal backend")
		return &Error{Op: "websocket dial", Err: err}
	}
	defer backendConn.CloseNow()

	clientConn.SetReadLimit(wsReadLimit)
	backendConn.SetReadLimit(wsReadLimit)

	// Both directions share one relay context: the first loop to observe a
	// closed connection cancels the other, and both unwind before return.
	// Idle sessions are never timed out.
	relayCtx, relayCancel := context.WithCancel(ctx)
	defer relayCancel()

	done := make(chan struct{})

	// Client -> Backend
	go func() {
		defer relayCancel()
		defer close(done)
		relay(relayCtx, clientConn, backendConn)
	}()

	// Backend -> Client
	func() {
		defer relayCancel()
		relay(relayCtx, backendConn, clientConn)
	}()

	<-done

	log.Printf("WebSocket session %s closed for route %s", session, logutil.SanitizeForLog(cfg.RoutePath))

	clientConn.Close(websocket.StatusNormalClosure, "")
	backendConn.Close(websocket.StatusNormalClosure, "")
	return nil
}

// relay copies frames from src to dst one at a time, preserving binary vs
// text type, until either side closes or the context is cancelled.
func relay(ctx context.Context, src, dst *websocket.Conn) {
	for {
		msgType, data, err := src.Read(ctx)
		if err != nil {
			return
		}
		if err := dst.Write(ctx, msgType, data); err != nil {
			return
		}
	}
}

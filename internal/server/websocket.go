// Package server holds shared HTTP helpers for the web surface.
package server

import (
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"

	"github.com/gorilla/websocket"
)

// WebSocketConn is the interface for WebSocket connection operations.
type WebSocketConn interface {
	io.Closer
	WriteJSON(v any) error
	ReadJSON(v any) error
}

var upgrader = websocket.Upgrader{
	CheckOrigin: checkOrigin,
}

// checkOrigin reports whether the WebSocket connection origin is allowed.
// The live meter is a local or LAN tool, so loopback, private ranges and
// same-origin connections pass.
func checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	// Same-origin requests omit the Origin header
	if origin == "" {
		return true
	}

	u, err := url.Parse(origin)
	if err != nil {
		slog.Warn("rejected WebSocket connection: invalid origin URL", "origin", origin)
		return false
	}

	host := u.Hostname()

	if host == "localhost" || host == "127.0.0.1" || host == "::1" {
		return true
	}

	requestHost := r.Host
	if h, _, err := net.SplitHostPort(requestHost); err == nil {
		requestHost = h
	}
	if host == requestHost {
		return true
	}

	ip := net.ParseIP(host)
	if ip != nil && (ip.IsLoopback() || ip.IsPrivate()) {
		return true
	}

	slog.Warn("rejected WebSocket connection", "origin", origin, "host", host)
	return false
}

// UpgradeConnection upgrades an HTTP connection to WebSocket.
func UpgradeConnection(w http.ResponseWriter, r *http.Request) (*websocket.Conn, error) {
	return upgrader.Upgrade(w, r, nil)
}

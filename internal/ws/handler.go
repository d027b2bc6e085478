package ws

import (
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/gorilla/websocket"
)

// Options tunes per-connection limits.
type Options struct {
	MaxMessageSize int64
	SendQueueSize  int
	RateLimit      float64 // messages per second; 0 disables limiting
	RateBurst      int
	AllowedOrigins []string // "*" allows every origin
}

func (o Options) withDefaults() Options {
	if o.MaxMessageSize <= 0 {
		o.MaxMessageSize = 512 * 1024
	}
	if o.SendQueueSize <= 0 {
		o.SendQueueSize = 256
	}
	if o.RateLimit > 0 && o.RateBurst <= 0 {
		o.RateBurst = 1
	}
	return o
}

// Handler upgrades HTTP requests to WebSocket connections registered with
// the hub.
type Handler struct {
	hub      *Hub
	inbound  InboundHandler
	opts     Options
	upgrader websocket.Upgrader
}

func NewHandler(hub *Hub, inbound InboundHandler, opts Options) *Handler {
	h := &Handler{
		hub:     hub,
		inbound: inbound,
		opts:    opts.withDefaults(),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.ServeWS(w, r)
}

func (h *Handler) ServeWS(w http.ResponseWriter, r *http.Request) {
	remoteAddr := r.RemoteAddr
	slog.Debug("[WS] New WebSocket connection request", "from", remoteAddr)

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("[WS] Failed to upgrade connection", "from", remoteAddr, "error", err)
		return
	}

	client := newClient(h.hub, conn, remoteAddr, h.inbound, h.opts)
	h.hub.Register(client)

	go client.WritePump()
	go client.ReadPump()
}

// checkOrigin allows requests without an Origin header (non-browser
// clients) and browser origins on the allow list.
func (h *Handler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	normalized, ok := normalizeOrigin(origin)
	if !ok {
		slog.Warn("[WS] Rejected malformed origin", "origin", origin)
		return false
	}
	for _, allowed := range h.opts.AllowedOrigins {
		if allowed == "*" {
			return true
		}
		if want, ok := normalizeOrigin(allowed); ok && want == normalized {
			return true
		}
	}
	slog.Warn("[WS] Blocked connection from disallowed origin", "origin", origin)
	return false
}

func normalizeOrigin(origin string) (string, bool) {
	parsed, err := url.Parse(strings.TrimSpace(origin))
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return "", false
	}
	return strings.ToLower(parsed.Scheme) + "://" + strings.ToLower(parsed.Host), true
}

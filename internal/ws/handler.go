package ws

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Handler upgrades HTTP requests and starts a Session per connection.
type Handler struct {
	deps       SessionDeps
	sendBuffer int
	logger     *slog.Logger

	ctx context.Context
	wg  sync.WaitGroup
}

// NewHandler creates a WebSocket handler whose sessions stop when ctx is
// cancelled.
func NewHandler(ctx context.Context, deps SessionDeps, sendBuffer int) *Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		deps:       deps,
		sendBuffer: sendBuffer,
		logger:     logger.With("component", "ws_handler"),
		ctx:        ctx,
	}
}

// HandleConnection upgrades the request to a WebSocket and serves it in the
// background. Connect parameters are validated after the upgrade so a
// rejection can be reported with a close code.
func (h *Handler) HandleConnection(w http.ResponseWriter, r *http.Request, params ConnectParams) error {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}

	connID := uuid.NewString()
	client := NewClient(conn, connID, h.sendBuffer, h.deps.Logger)
	session := NewSession(client, params, h.deps)

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		if err := session.Run(h.ctx); err != nil {
			h.logger.Debug("session rejected", "conn_id", connID, "error", err)
		}
		<-client.Done()
	}()

	return nil
}

// Wait blocks until every session started by the handler has finished.
func (h *Handler) Wait() {
	h.wg.Wait()
}

// SetCheckOrigin sets a custom origin checker for the WebSocket upgrader.
func SetCheckOrigin(fn func(r *http.Request) bool) {
	upgrader.CheckOrigin = fn
}

// AllowOrigins returns an origin checker accepting the listed origins, or
// hosts when an entry has no scheme. Requests without an Origin header come
// from non-browser clients and are accepted.
func AllowOrigins(origins []string) func(r *http.Request) bool {
	allowed := make(map[string]bool, len(origins))
	for _, o := range origins {
		allowed[strings.ToLower(strings.TrimRight(o, "/"))] = true
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		if allowed[strings.ToLower(origin)] {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		return allowed[strings.ToLower(u.Host)]
	}
}

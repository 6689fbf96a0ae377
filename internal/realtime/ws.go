package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// ServerConfig configures the WebSocket upgrade endpoint.
type ServerConfig struct {
	Hub       *Hub
	AuthToken string
	Log       *slog.Logger
}

// Server upgrades /api/ws requests and drives each connection's
// subscribe/ack/fan-out loop.
type Server struct {
	cfg      ServerConfig
	upgrader websocket.Upgrader
}

// NewServer wires a realtime Server against hub.
func NewServer(cfg ServerConfig) *Server {
	if cfg.Log == nil {
		cfg.Log = slog.Default()
	}
	return &Server{
		cfg: cfg,
		upgrader: websocket.Upgrader{
			// Origin checks belong to the browser surface this package only
			// gives a minimal home to; the real CORS policy lives in the
			// REST transport's allow-list.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// ServeHTTP implements http.Handler for mounting at /api/ws.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	negotiated, ok := authenticate(r, s.cfg.AuthToken)
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	var responseHeader http.Header
	if negotiated != "" {
		responseHeader = http.Header{}
		responseHeader.Set("Sec-WebSocket-Protocol", negotiated)
	}

	conn, err := s.upgrader.Upgrade(w, r, responseHeader)
	if err != nil {
		s.cfg.Log.Warn("websocket upgrade failed", "error", err)
		return
	}

	go s.serveConn(conn)
}

// serveConn owns one connection's lifetime: it reads subscribe_* messages
// from the client and relays Hub deltas back out until the connection
// closes.
func (s *Server) serveConn(conn *websocket.Conn) {
	defer conn.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	out := make(chan any, 64)
	done := make(chan struct{})
	defer close(done)

	go s.writePump(conn, out, ctx)

	send(out, helloMessage{Type: typeHello})

	conn.SetReadDeadline(time.Now().Add(90 * time.Second))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(90 * time.Second))
		return nil
	})

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}

		var msg inboundMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			s.cfg.Log.Debug("discarding malformed realtime message", "error", err)
			continue
		}

		switch msg.Type {
		case typeSubscribeRun:
			s.cfg.Hub.Subscribe(msg.RunID, msg.Cursor, out, done)
			send(out, subscribedMessage{Type: typeSubscribed, RunID: msg.RunID})
		case typeSubscribePairing:
			// device pairing is a named-only external collaborator; this
			// package only acknowledges the subscription.
			send(out, pairingSubscribedMessage{Type: typePairingSubscribed, SessionID: msg.SessionID})
		default:
			s.cfg.Log.Debug("unrecognized realtime message type", "type", msg.Type)
		}
	}
}

func (s *Server) writePump(conn *websocket.Conn, out <-chan any, ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-out:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteJSON(msg); err != nil {
				return
			}
		}
	}
}

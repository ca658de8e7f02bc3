package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/umrahops/realtime/internal/auth"
	"github.com/umrahops/realtime/internal/broadcast"
	"github.com/umrahops/realtime/internal/handler"
	"github.com/umrahops/realtime/internal/presence"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 25 * time.Second
	maxMessageSize = 4096
	replyQueueSize = 16
)

type WebSocketServer struct {
	logger   *zap.Logger
	upgrader *websocket.Upgrader
	gate     *auth.Gate
	registry *presence.Registry
	bcast    *broadcast.Router
	router   *Router
}

func NewWebSocketServer(
	logger *zap.Logger,
	upgrader *websocket.Upgrader,
	gate *auth.Gate,
	registry *presence.Registry,
	bcast *broadcast.Router,
	router *Router,
) *WebSocketServer {
	return &WebSocketServer{
		logger,
		upgrader,
		gate,
		registry,
		bcast,
		router,
	}
}

func (s *WebSocketServer) Register(router *mux.Router) {
	router.HandleFunc("/ws", s.handle)
}

type connectedPayload struct {
	Message string        `json:"message"`
	User    auth.Identity `json:"user"`
}

type userStatusPayload struct {
	Type string        `json:"type"`
	User auth.Identity `json:"user"`
}

// handle authenticates the handshake credential, upgrades the connection
// and runs the pumps. A failed handshake is rejected before any state is
// created.
func (s *WebSocketServer) handle(w http.ResponseWriter, r *http.Request) {
	identity, err := s.gate.Authenticate(r.Context(), auth.TokenFromRequest(r))
	if err != nil {
		s.logger.Warn("websocket handshake rejected", zap.Error(err))
		http.Error(w, "authentication failed", http.StatusUnauthorized)
		return
	}

	wsConn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	conn := presence.NewConnection(identity)
	s.registry.Register(conn)

	s.logger.Info("user connected",
		zap.String("connectionId", conn.ID),
		zap.Int64("userId", identity.UserID),
		zap.String("role", identity.Role))

	conn.Push(presence.Envelope{
		Event: "connected",
		Payload: connectedPayload{
			Message: "connected to realtime server",
			User:    identity,
		},
		Timestamp: time.Now().UTC(),
	})

	s.bcast.RelayRoom(presence.RoleRoom(auth.RoleAdmin), "user_status", userStatusPayload{
		Type: "user_online",
		User: identity,
	}, conn.ID)

	replies := make(chan handler.Response, replyQueueSize)

	go s.writePump(wsConn, conn, replies)
	s.readPump(wsConn, conn, replies)
}

func (s *WebSocketServer) readPump(wsConn *websocket.Conn, conn *presence.Connection, replies chan handler.Response) {
	defer s.teardown(wsConn, conn)

	wsConn.SetReadLimit(maxMessageSize)
	wsConn.SetReadDeadline(time.Now().Add(pongWait))
	wsConn.SetPongHandler(func(string) error {
		return wsConn.SetReadDeadline(time.Now().Add(pongWait))
	})

	ctx := presence.WithConnection(context.Background(), conn)

	for {
		var request handler.Request
		if err := wsConn.ReadJSON(&request); err != nil {
			s.logger.Debug("websocket read ended", zap.Error(err))
			return
		}

		response := s.router.RouteRequest(ctx, request)
		if response == nil {
			continue
		}

		select {
		case replies <- *response:
		default:
			// Writer is wedged; the connection is going away anyway.
			s.logger.Warn("reply queue full, dropping reply",
				zap.String("connectionId", conn.ID))
		}
	}
}

// writePump is the single writer for the socket. It drains the registry
// outbox and the reply queue, and probes the peer with protocol pings; a
// peer that misses the pong deadline fails the read pump and tears the
// connection down. A deregistered connection closes the underlying socket
// here so a blocked read pump unblocks right away instead of waiting out
// its deadline.
func (s *WebSocketServer) writePump(wsConn *websocket.Conn, conn *presence.Connection, replies chan handler.Response) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-conn.Done():
			wsConn.SetWriteDeadline(time.Now().Add(writeWait))
			wsConn.WriteMessage(websocket.CloseMessage, []byte{})
			wsConn.Close()
			return
		case envelope := <-conn.Outbox():
			frame, err := eventFrame(envelope)
			if err != nil {
				s.logger.Error("failed to encode push payload",
					zap.String("event", envelope.Event),
					zap.Error(err))
				continue
			}

			wsConn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := wsConn.WriteJSON(frame); err != nil {
				s.logger.Debug("websocket write failed", zap.Error(err))
				return
			}
		case response := <-replies:
			wsConn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := wsConn.WriteJSON(response); err != nil {
				s.logger.Debug("websocket write failed", zap.Error(err))
				return
			}
		case <-ticker.C:
			wsConn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := wsConn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

type eventBody struct {
	Data      any       `json:"data"`
	Timestamp time.Time `json:"timestamp"`
}

func eventFrame(envelope presence.Envelope) (handler.Request, error) {
	rawJson, err := json.Marshal(eventBody{
		Data:      envelope.Payload,
		Timestamp: envelope.Timestamp,
	})
	if err != nil {
		return handler.Request{}, err
	}

	params := json.RawMessage(rawJson)

	return handler.NewEvent(envelope.Event, &params), nil
}

func (s *WebSocketServer) teardown(wsConn *websocket.Conn, conn *presence.Connection) {
	_, wentOffline := s.registry.Deregister(conn.ID)
	wsConn.Close()

	s.logger.Info("user disconnected",
		zap.String("connectionId", conn.ID),
		zap.Int64("userId", conn.Identity.UserID),
		zap.Bool("wentOffline", wentOffline))

	if wentOffline {
		s.bcast.SendRoom(presence.RoleRoom(auth.RoleAdmin), "user_status", userStatusPayload{
			Type: "user_offline",
			User: conn.Identity,
		})
	}
}

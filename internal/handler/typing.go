package handler

import (
	"context"

	"github.com/umrahops/realtime/internal/broadcast"
	"github.com/umrahops/realtime/internal/ierr"
	"github.com/umrahops/realtime/internal/presence"
)

type TypingRequest struct {
	Room string `json:"room,omitempty"`
}

type TypingHandlerInterface interface {
	HandleStart(ctx context.Context, req TypingRequest) error
	HandleStop(ctx context.Context, req TypingRequest) error
}

// TypingHandler relays typing indicators to the other members of a room.
// When no room is given the sender's role room is used.
type TypingHandler struct {
	router *broadcast.Router
}

func NewTypingHandler(router *broadcast.Router) *TypingHandler {
	return &TypingHandler{
		router,
	}
}

type typingPayload struct {
	User string `json:"user"`
	Room string `json:"room"`
}

func (h *TypingHandler) HandleStart(ctx context.Context, req TypingRequest) error {
	return h.relay(ctx, req, "user_typing")
}

func (h *TypingHandler) HandleStop(ctx context.Context, req TypingRequest) error {
	return h.relay(ctx, req, "user_stop_typing")
}

func (h *TypingHandler) relay(ctx context.Context, req TypingRequest, event string) error {
	conn, ok := presence.ConnectionFromContext(ctx)
	if !ok {
		return ierr.Errorf(ierr.ErrorCodeFailedPrecondition, "connection not found in context")
	}

	room := req.Room
	if room == "" {
		room = presence.RoleRoom(conn.Identity.Role)
	}

	h.router.RelayRoom(room, event, typingPayload{
		User: conn.Identity.Name,
		Room: room,
	}, conn.ID)

	return nil
}

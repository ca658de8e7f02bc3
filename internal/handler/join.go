package handler

import (
	"context"
	"time"

	"github.com/umrahops/realtime/internal/ierr"
	"github.com/umrahops/realtime/internal/presence"
)

type JoinRoomRequest struct {
	Room string `json:"room"`
}

type JoinRoomResponse struct {
	Room      string    `json:"room"`
	Timestamp time.Time `json:"timestamp"`
}

type JoinRoomHandlerInterface interface {
	Handle(ctx context.Context, req JoinRoomRequest) (JoinRoomResponse, error)
}

type JoinRoomHandler struct {
	roomNameValidator *RoomNameValidator
	registry          *presence.Registry
}

func NewJoinRoomHandler(
	roomNameValidator *RoomNameValidator,
	registry *presence.Registry,
) *JoinRoomHandler {
	return &JoinRoomHandler{
		roomNameValidator,
		registry,
	}
}

func (h *JoinRoomHandler) Handle(ctx context.Context, req JoinRoomRequest) (JoinRoomResponse, error) {
	err := h.roomNameValidator.Validate(req.Room)
	if err != nil {
		return JoinRoomResponse{}, err
	}

	conn, ok := presence.ConnectionFromContext(ctx)
	if !ok {
		return JoinRoomResponse{}, ierr.Errorf(ierr.ErrorCodeFailedPrecondition, "connection not found in context")
	}

	h.registry.JoinRoom(conn.ID, req.Room)

	return JoinRoomResponse{
		Room:      req.Room,
		Timestamp: time.Now().UTC(),
	}, nil
}

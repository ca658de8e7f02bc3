package handler

import (
	"context"

	"github.com/umrahops/realtime/internal/ierr"
	"github.com/umrahops/realtime/internal/presence"
)

type LeaveRoomRequest struct {
	Room string `json:"room"`
}

type LeaveRoomResponse struct {
	Room    string `json:"room"`
	Success bool   `json:"success"`
}

type LeaveRoomHandlerInterface interface {
	Handle(ctx context.Context, req LeaveRoomRequest) (LeaveRoomResponse, error)
}

type LeaveRoomHandler struct {
	roomNameValidator *RoomNameValidator
	registry          *presence.Registry
}

func NewLeaveRoomHandler(
	roomNameValidator *RoomNameValidator,
	registry *presence.Registry,
) *LeaveRoomHandler {
	return &LeaveRoomHandler{
		roomNameValidator,
		registry,
	}
}

func (h *LeaveRoomHandler) Handle(ctx context.Context, req LeaveRoomRequest) (LeaveRoomResponse, error) {
	err := h.roomNameValidator.Validate(req.Room)
	if err != nil {
		return LeaveRoomResponse{}, err
	}

	conn, ok := presence.ConnectionFromContext(ctx)
	if !ok {
		return LeaveRoomResponse{}, ierr.Errorf(ierr.ErrorCodeFailedPrecondition, "connection not found in context")
	}

	h.registry.LeaveRoom(conn.ID, req.Room)

	return LeaveRoomResponse{
		Room:    req.Room,
		Success: true,
	}, nil
}

package handler

import "time"

type PongResponse struct {
	Timestamp time.Time `json:"timestamp"`
}

type PingHandlerInterface interface {
	Handle() PongResponse
}

type PingHandler struct{}

func NewPingHandler() *PingHandler {
	return &PingHandler{}
}

func (h *PingHandler) Handle() PongResponse {
	return PongResponse{
		Timestamp: time.Now().UTC(),
	}
}

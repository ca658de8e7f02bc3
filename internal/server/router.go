package server

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/umrahops/realtime/internal/handler"
	"github.com/umrahops/realtime/internal/ierr"
	"go.uber.org/zap"
)

// Router dispatches decoded client frames to the protocol handlers and maps
// their errors to wire errors.
type Router struct {
	logger *zap.Logger

	pingHandler      handler.PingHandlerInterface
	joinRoomHandler  handler.JoinRoomHandlerInterface
	leaveRoomHandler handler.LeaveRoomHandlerInterface
	typingHandler    handler.TypingHandlerInterface
}

func NewRouter(
	logger *zap.Logger,
	pingHandler handler.PingHandlerInterface,
	joinRoomHandler handler.JoinRoomHandlerInterface,
	leaveRoomHandler handler.LeaveRoomHandlerInterface,
	typingHandler handler.TypingHandlerInterface,
) *Router {
	return &Router{
		logger,
		pingHandler,
		joinRoomHandler,
		leaveRoomHandler,
		typingHandler,
	}
}

func (r *Router) RouteRequest(ctx context.Context, request handler.Request) *handler.Response {
	response, err := r.handle(ctx, request)
	if err != nil {
		response := request.ReplyWithError(r.mapError(err))

		return &response
	}

	hasResponse := response != nil

	if request.ReplyExpected() && !hasResponse {
		r.logger.Error("handler did not return a response but one was expected",
			zap.String("method", request.Method))

		response := request.ReplyWithError(
			ierr.New(ierr.ErrorCodeInternal, errors.New("internal error")),
		)

		return &response
	}

	if !request.ReplyExpected() {
		return nil
	}

	rawJson, err := json.Marshal(response)
	if err != nil {
		response := request.ReplyWithError(r.mapError(err))

		return &response
	}

	payload := json.RawMessage(rawJson)
	reply := request.Reply(&payload)

	return &reply
}

func (r *Router) handle(ctx context.Context, request handler.Request) (any, error) {
	switch request.Method {
	case "ping":
		return r.pingHandler.Handle(), nil
	case "join_room":
		var joinReq handler.JoinRoomRequest
		if err := decodeParams(request.Params, &joinReq); err != nil {
			return nil, err
		}

		return r.joinRoomHandler.Handle(ctx, joinReq)
	case "leave_room":
		var leaveReq handler.LeaveRoomRequest
		if err := decodeParams(request.Params, &leaveReq); err != nil {
			return nil, err
		}

		return r.leaveRoomHandler.Handle(ctx, leaveReq)
	case "typing_start":
		var typingReq handler.TypingRequest
		if err := decodeOptionalParams(request.Params, &typingReq); err != nil {
			return nil, err
		}

		return nil, r.typingHandler.HandleStart(ctx, typingReq)
	case "typing_stop":
		var typingReq handler.TypingRequest
		if err := decodeOptionalParams(request.Params, &typingReq); err != nil {
			return nil, err
		}

		return nil, r.typingHandler.HandleStop(ctx, typingReq)
	default:
		return nil, ierr.New(ierr.ErrorCodeNotFound, errors.New("method not found: "+request.Method))
	}
}

func (r *Router) mapError(err error) ierr.Error {
	var handlerErr ierr.Error
	if errors.As(err, &handlerErr) {
		return handlerErr
	}

	r.logger.Error("error in protocol handler", zap.Error(err))

	return ierr.New(ierr.ErrorCodeInternal, errors.New("internal error"))
}

func decodeParams(params *json.RawMessage, v any) error {
	if params == nil {
		return ierr.New(ierr.ErrorCodeInvalidArgument, errors.New("missing params"))
	}

	if err := json.Unmarshal(*params, v); err != nil {
		return ierr.New(ierr.ErrorCodeInvalidArgument, errors.New("invalid params: "+err.Error()))
	}

	return nil
}

func decodeOptionalParams(params *json.RawMessage, v any) error {
	if params == nil {
		return nil
	}

	return decodeParams(params, v)
}

package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/umrahops/realtime/internal/auth"
	"github.com/umrahops/realtime/internal/broadcast"
	"github.com/umrahops/realtime/internal/ierr"
	"github.com/umrahops/realtime/internal/notify"
	"github.com/umrahops/realtime/internal/presence"
	"go.uber.org/zap"
)

const (
	maxListLimit = 200
	maxStatHours = 24 * 30
)

// RESTServer exposes the retrieval API and the privileged notification
// operations.
type RESTServer struct {
	logger     *zap.Logger
	gate       *auth.Gate
	registry   *presence.Registry
	bcast      *broadcast.Router
	store      notify.Store
	dispatcher *notify.Dispatcher
}

func NewRESTServer(
	logger *zap.Logger,
	gate *auth.Gate,
	registry *presence.Registry,
	bcast *broadcast.Router,
	store notify.Store,
	dispatcher *notify.Dispatcher,
) *RESTServer {
	return &RESTServer{
		logger,
		gate,
		registry,
		bcast,
		store,
		dispatcher,
	}
}

func (s *RESTServer) Register(router *mux.Router) {
	r := router.PathPrefix("/notifications").Subrouter()
	r.Use(s.authenticate)

	r.HandleFunc("", s.list).Methods(http.MethodGet)
	r.HandleFunc("", s.requireAdmin(s.create)).Methods(http.MethodPost)
	r.HandleFunc("/count", s.count).Methods(http.MethodGet)
	r.HandleFunc("/mark-all-read", s.markAllRead).Methods(http.MethodPatch)
	r.HandleFunc("/stats", s.requireAdmin(s.stats)).Methods(http.MethodGet)
	r.HandleFunc("/connected-users", s.requireAdmin(s.connectedUsers)).Methods(http.MethodGet)
	r.HandleFunc("/direct-message", s.requireAdmin(s.directMessage)).Methods(http.MethodPost)
	r.HandleFunc("/broadcast-role", s.requireAdmin(s.broadcastRole)).Methods(http.MethodPost)
	r.HandleFunc("/system-alert", s.requireAdmin(s.systemAlert)).Methods(http.MethodPost)
	r.HandleFunc("/{id:[0-9]+}/read", s.markRead).Methods(http.MethodPatch)
}

func (s *RESTServer) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, err := s.gate.Authenticate(r.Context(), auth.TokenFromRequest(r))
		if err != nil {
			s.writeError(w, err)
			return
		}

		next.ServeHTTP(w, r.WithContext(auth.WithIdentity(r.Context(), identity)))
	})
}

func (s *RESTServer) requireAdmin(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		identity, _ := auth.IdentityFromContext(r.Context())
		if !identity.IsAdmin() {
			s.writeError(w, ierr.New(ierr.ErrorCodePermissionDenied, errors.New("admin role required")))
			return
		}

		next(w, r)
	}
}

type paginationPayload struct {
	Total   int  `json:"total"`
	Limit   int  `json:"limit"`
	Offset  int  `json:"offset"`
	HasMore bool `json:"has_more"`
}

func (s *RESTServer) list(w http.ResponseWriter, r *http.Request) {
	identity, _ := auth.IdentityFromContext(r.Context())

	limit := queryInt(r, "limit", notify.DefaultListLimit)
	if limit > maxListLimit {
		limit = maxListLimit
	}
	offset := queryInt(r, "offset", 0)
	unreadOnly := r.URL.Query().Get("unread_only") == "true"

	notifications, err := s.store.ListForUser(r.Context(), identity.UserID, identity.Role, notify.ListOptions{
		Limit:      limit,
		Offset:     offset,
		UnreadOnly: unreadOnly,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}

	total, err := s.store.CountForUser(r.Context(), identity.UserID, identity.Role, unreadOnly)
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"success":       true,
		"notifications": notifications,
		"pagination": paginationPayload{
			Total:   total,
			Limit:   limit,
			Offset:  offset,
			HasMore: offset+len(notifications) < total,
		},
	})
}

func (s *RESTServer) count(w http.ResponseWriter, r *http.Request) {
	identity, _ := auth.IdentityFromContext(r.Context())

	unreadOnly := r.URL.Query().Get("unread_only") != "false"

	count, err := s.store.CountForUser(r.Context(), identity.UserID, identity.Role, unreadOnly)
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"count":   count,
	})
}

func (s *RESTServer) markRead(w http.ResponseWriter, r *http.Request) {
	identity, _ := auth.IdentityFromContext(r.Context())

	notificationID, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		s.writeError(w, ierr.New(ierr.ErrorCodeInvalidArgument, errors.New("invalid notification id")))
		return
	}

	if err := s.store.MarkRead(r.Context(), notificationID, identity.UserID); err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "notification marked as read",
	})
}

func (s *RESTServer) markAllRead(w http.ResponseWriter, r *http.Request) {
	identity, _ := auth.IdentityFromContext(r.Context())

	marked, err := s.store.MarkAllRead(r.Context(), identity.UserID, identity.Role)
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"marked":  marked,
	})
}

func (s *RESTServer) create(w http.ResponseWriter, r *http.Request) {
	identity, _ := auth.IdentityFromContext(r.Context())

	var req notify.CreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, ierr.New(ierr.ErrorCodeInvalidArgument, errors.New("invalid request body")))
		return
	}
	req.CreatedBy = &identity.UserID

	notification, err := s.dispatcher.Create(r.Context(), req)
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJSON(w, http.StatusCreated, map[string]any{
		"success":      true,
		"notification": notification,
	})
}

func (s *RESTServer) stats(w http.ResponseWriter, r *http.Request) {
	hours := queryInt(r, "hours", 24)
	if hours < 1 {
		hours = 1
	}
	if hours > maxStatHours {
		hours = maxStatHours
	}

	stats, err := s.store.Stats(r.Context(), time.Duration(hours)*time.Hour)
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"stats":   stats,
		"hours":   hours,
	})
}

func (s *RESTServer) connectedUsers(w http.ResponseWriter, r *http.Request) {
	online := s.registry.Online()

	s.writeJSON(w, http.StatusOK, map[string]any{
		"success":         true,
		"connected_users": online,
		"total_connected": len(online),
	})
}

type directMessageRequest struct {
	TargetUserID int64  `json:"target_user_id"`
	Message      string `json:"message"`
}

type directMessagePayload struct {
	From    auth.Identity `json:"from"`
	Message string        `json:"message"`
}

func (s *RESTServer) directMessage(w http.ResponseWriter, r *http.Request) {
	identity, _ := auth.IdentityFromContext(r.Context())

	var req directMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.TargetUserID == 0 {
		s.writeError(w, ierr.New(ierr.ErrorCodeInvalidArgument, errors.New("invalid request body")))
		return
	}

	delivered := s.bcast.Send(presence.UserTarget(req.TargetUserID), "direct_message", directMessagePayload{
		From:    identity,
		Message: req.Message,
	})
	if delivered == 0 {
		s.writeError(w, ierr.New(ierr.ErrorCodeNotFound, errors.New("recipient not currently connected")))
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "direct message sent",
	})
}

type broadcastRoleRequest struct {
	Role    string `json:"role"`
	Message string `json:"message"`
	Type    string `json:"type,omitempty"`
}

type broadcastMessagePayload struct {
	Type    string        `json:"type"`
	Message string        `json:"message"`
	From    auth.Identity `json:"from"`
}

func (s *RESTServer) broadcastRole(w http.ResponseWriter, r *http.Request) {
	identity, _ := auth.IdentityFromContext(r.Context())

	var req broadcastRoleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Role == "" {
		s.writeError(w, ierr.New(ierr.ErrorCodeInvalidArgument, errors.New("invalid request body")))
		return
	}
	if req.Type == "" {
		req.Type = "broadcast"
	}

	delivered := s.bcast.Send(presence.RoleTarget(req.Role), "broadcast_message", broadcastMessagePayload{
		Type:    req.Type,
		Message: req.Message,
		From:    identity,
	})

	s.writeJSON(w, http.StatusOK, map[string]any{
		"success":   true,
		"delivered": delivered,
	})
}

type systemAlertRequest struct {
	Level   string         `json:"level"`
	Message string         `json:"message"`
	Data    map[string]any `json:"data,omitempty"`
}

func (s *RESTServer) systemAlert(w http.ResponseWriter, r *http.Request) {
	identity, _ := auth.IdentityFromContext(r.Context())

	var req systemAlertRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Level == "" {
		s.writeError(w, ierr.New(ierr.ErrorCodeInvalidArgument, errors.New("invalid request body")))
		return
	}

	notification, err := s.dispatcher.SystemAlert(r.Context(), req.Level, req.Message, req.Data, &identity.UserID)
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"success":      true,
		"notification": notification,
	})
}

func (s *RESTServer) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Error("failed to encode response", zap.Error(err))
	}
}

func (s *RESTServer) writeError(w http.ResponseWriter, err error) {
	var ierror ierr.Error
	if !errors.As(err, &ierror) {
		s.logger.Error("internal error in rest handler", zap.Error(err))
		ierror = ierr.New(ierr.ErrorCodeInternal, errors.New("internal error"))
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(ierr.HTTPStatus(ierror.Code))
	json.NewEncoder(w).Encode(map[string]any{
		"success": false,
		"error":   ierror,
	})
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}

	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}

	return value
}

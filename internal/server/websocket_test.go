package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/umrahops/realtime/internal/auth"
	"github.com/umrahops/realtime/internal/broadcast"
	"github.com/umrahops/realtime/internal/handler"
	"github.com/umrahops/realtime/internal/ierr"
	"github.com/umrahops/realtime/internal/notify"
	"github.com/umrahops/realtime/internal/presence"
	"go.uber.org/zap"
)

const testSecret = "test-secret"

type fakeDirectory struct {
	users map[int64]auth.Identity
}

func (d *fakeDirectory) Lookup(_ context.Context, userID int64) (auth.Identity, error) {
	identity, ok := d.users[userID]
	if !ok {
		return auth.Identity{}, ierr.New(ierr.ErrorCodeNotFound, errors.New("user not found"))
	}

	return identity, nil
}

func signToken(t *testing.T, userID int64) string {
	t.Helper()

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"userId": userID,
		"exp":    time.Now().Add(time.Hour).Unix(),
		"iat":    time.Now().Unix(),
	})
	tokenString, err := token.SignedString([]byte(testSecret))
	require.NoError(t, err)

	return tokenString
}

type harness struct {
	server     *httptest.Server
	registry   *presence.Registry
	store      *notify.MemoryStore
	dispatcher *notify.Dispatcher
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	logger := zap.NewNop()

	directory := &fakeDirectory{users: map[int64]auth.Identity{
		1: {UserID: 1, Name: "Budi Santoso", Role: "Marketing"},
		2: {UserID: 2, Name: "Siti Rahma", Role: "Keuangan"},
		3: {UserID: 3, Name: "Rina Wati", Role: "Admin"},
		4: {UserID: 4, Name: "Ahmad Fauzi", Role: "Keuangan"},
	}}

	gate := auth.NewGate(testSecret, directory)
	registry := presence.NewRegistry(logger)
	bcast := broadcast.NewRouter(logger, registry)
	store := notify.NewMemoryStore()
	dispatcher := notify.NewDispatcher(logger, store, bcast)

	router := NewRouter(
		logger,
		handler.NewPingHandler(),
		handler.NewJoinRoomHandler(handler.NewRoomNameValidator(), registry),
		handler.NewLeaveRoomHandler(handler.NewRoomNameValidator(), registry),
		handler.NewTypingHandler(bcast),
	)

	websocketServer := NewWebSocketServer(logger, &websocket.Upgrader{}, gate, registry, bcast, router)
	restServer := NewRESTServer(logger, gate, registry, bcast, store, dispatcher)

	muxRouter := mux.NewRouter()
	websocketServer.Register(muxRouter)
	restServer.Register(muxRouter)

	server := httptest.NewServer(muxRouter)
	t.Cleanup(server.Close)

	return &harness{
		server:     server,
		registry:   registry,
		store:      store,
		dispatcher: dispatcher,
	}
}

func (h *harness) websocketURL(token string) string {
	return "ws" + strings.TrimPrefix(h.server.URL, "http") + "/ws?token=" + token
}

// connect dials the socket for the given user and drains the welcome event.
func (h *harness) connect(t *testing.T, userID int64) *websocket.Conn {
	t.Helper()

	conn, _, err := websocket.DefaultDialer.Dial(h.websocketURL(signToken(t, userID)), nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	welcome := readEvent(t, conn)
	require.Equal(t, "connected", welcome.Method)

	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) handler.Request {
	t.Helper()

	conn.SetReadDeadline(time.Now().Add(time.Second))

	var event handler.Request
	require.NoError(t, conn.ReadJSON(&event))

	return event
}

func readReply(t *testing.T, conn *websocket.Conn) handler.Response {
	t.Helper()

	conn.SetReadDeadline(time.Now().Add(time.Second))

	var response handler.Response
	require.NoError(t, conn.ReadJSON(&response))

	return response
}

// assertNoFrame fails the test if anything arrives within the grace window.
// It poisons the read deadline, so only call it last on a connection.
func assertNoFrame(t *testing.T, conn *websocket.Conn) {
	t.Helper()

	conn.SetReadDeadline(time.Now().Add(300 * time.Millisecond))

	var frame json.RawMessage
	err := conn.ReadJSON(&frame)
	require.Error(t, err, "expected no frame but got %s", string(frame))
}

type eventPayload struct {
	Data      json.RawMessage `json:"data"`
	Timestamp time.Time       `json:"timestamp"`
}

func decodeEvent(t *testing.T, event handler.Request, v any) time.Time {
	t.Helper()

	require.NotNil(t, event.Params)

	var body eventPayload
	require.NoError(t, json.Unmarshal(*event.Params, &body))
	require.NoError(t, json.Unmarshal(body.Data, v))

	return body.Timestamp
}

func TestWebSocket_Handshake(t *testing.T) {
	h := newHarness(t)

	t.Run("missing token is rejected before the upgrade", func(t *testing.T) {
		conn, resp, err := websocket.DefaultDialer.Dial(
			"ws"+strings.TrimPrefix(h.server.URL, "http")+"/ws", nil)

		require.Error(t, err)
		require.NotNil(t, resp)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		assert.Nil(t, conn)
	})

	t.Run("token for an unknown user is rejected", func(t *testing.T) {
		_, resp, err := websocket.DefaultDialer.Dial(h.websocketURL(signToken(t, 99)), nil)

		require.Error(t, err)
		require.NotNil(t, resp)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("valid token connects and receives the welcome event", func(t *testing.T) {
		conn, _, err := websocket.DefaultDialer.Dial(h.websocketURL(signToken(t, 2)), nil)
		require.NoError(t, err)
		defer conn.Close()

		welcome := readEvent(t, conn)
		require.Equal(t, "connected", welcome.Method)

		var payload struct {
			Message string        `json:"message"`
			User    auth.Identity `json:"user"`
		}
		timestamp := decodeEvent(t, welcome, &payload)

		assert.Equal(t, "connected to realtime server", payload.Message)
		assert.Equal(t, int64(2), payload.User.UserID)
		assert.Equal(t, "Keuangan", payload.User.Role)
		assert.False(t, timestamp.IsZero())
		assert.True(t, h.registry.IsOnline(2))
	})
}

func TestWebSocket_Protocol(t *testing.T) {
	h := newHarness(t)
	conn := h.connect(t, 2)

	t.Run("ping", func(t *testing.T) {
		require.NoError(t, conn.WriteJSON(handler.Request{Id: 1, Method: "ping"}))

		reply := readReply(t, conn)
		require.Equal(t, 1, reply.RequestId)
		require.False(t, reply.IsFailure())

		var pong handler.PongResponse
		require.NoError(t, json.Unmarshal(*reply.Result, &pong))
		assert.False(t, pong.Timestamp.IsZero())
	})

	t.Run("join and leave a room", func(t *testing.T) {
		params := json.RawMessage(`{"room":"package-briefing"}`)
		require.NoError(t, conn.WriteJSON(handler.Request{Id: 2, Method: "join_room", Params: &params}))

		reply := readReply(t, conn)
		require.Equal(t, 2, reply.RequestId)
		require.False(t, reply.IsFailure())
		assert.Len(t, h.registry.ResolveRoom("package-briefing"), 1)

		require.NoError(t, conn.WriteJSON(handler.Request{Id: 3, Method: "leave_room", Params: &params}))

		reply = readReply(t, conn)
		require.Equal(t, 3, reply.RequestId)
		require.False(t, reply.IsFailure())
		assert.Empty(t, h.registry.ResolveRoom("package-briefing"))
	})

	t.Run("reserved room names are rejected", func(t *testing.T) {
		params := json.RawMessage(`{"room":"user:1"}`)
		require.NoError(t, conn.WriteJSON(handler.Request{Id: 4, Method: "join_room", Params: &params}))

		reply := readReply(t, conn)
		require.True(t, reply.IsFailure())
		assert.Equal(t, ierr.ErrorCodeInvalidArgument, reply.Error.Code)
	})

	t.Run("unknown method", func(t *testing.T) {
		require.NoError(t, conn.WriteJSON(handler.Request{Id: 5, Method: "self_destruct"}))

		reply := readReply(t, conn)
		require.True(t, reply.IsFailure())
		assert.Equal(t, ierr.ErrorCodeNotFound, reply.Error.Code)
	})
}

func TestWebSocket_NotificationDelivery(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	marketing := h.connect(t, 1)
	finance := h.connect(t, 2)

	before, err := h.dispatcher.Create(ctx, notify.CreateRequest{
		Type:   notify.TypePilgrimRegistered,
		Title:  "Jamaah Baru Terdaftar",
		Target: presence.RoleTarget("Keuangan"),
	})
	require.NoError(t, err)

	payment, err := h.dispatcher.Create(ctx, notify.CreateRequest{
		Type:     notify.TypePaymentReceived,
		Title:    "Pembayaran Baru Diterima",
		Message:  "Pembayaran Rp 5.000.000 dari Ahmad",
		Target:   presence.RoleTarget("Keuangan"),
		Priority: notify.PriorityHigh,
	})
	require.NoError(t, err)

	after, err := h.dispatcher.Create(ctx, notify.CreateRequest{
		Type:   notify.TypePaymentVerified,
		Title:  "Pembayaran Terverifikasi",
		Target: presence.RoleTarget("Keuangan"),
	})
	require.NoError(t, err)

	t.Run("targeted role receives live pushes in order", func(t *testing.T) {
		for _, want := range []notify.Notification{before, payment, after} {
			event := readEvent(t, finance)
			require.Equal(t, "notification", event.Method)

			var got notify.Notification
			decodeEvent(t, event, &got)

			assert.Equal(t, want.ID, got.ID)
			assert.Equal(t, want.Type, got.Type)
			assert.Equal(t, want.Title, got.Title)
			assert.Equal(t, want.Priority, got.Priority)
		}
	})

	t.Run("listing shows them unread and newest first", func(t *testing.T) {
		listed, err := h.store.ListForUser(ctx, 2, "Keuangan", notify.ListOptions{})
		require.NoError(t, err)
		require.Len(t, listed, 3)

		assert.Equal(t, after.ID, listed[0].ID)
		assert.Equal(t, payment.ID, listed[1].ID)
		assert.Equal(t, before.ID, listed[2].ID)
		for _, n := range listed {
			assert.False(t, n.Read)
		}
	})

	t.Run("untargeted role receives nothing", func(t *testing.T) {
		assertNoFrame(t, marketing)
	})
}

func TestWebSocket_TypingRelay(t *testing.T) {
	h := newHarness(t)

	sender := h.connect(t, 2)
	peer := h.connect(t, 4)

	require.NoError(t, sender.WriteJSON(handler.Request{Method: "typing_start"}))

	event := readEvent(t, peer)
	require.Equal(t, "user_typing", event.Method)

	var payload struct {
		User string `json:"user"`
		Room string `json:"room"`
	}
	decodeEvent(t, event, &payload)

	assert.Equal(t, "Siti Rahma", payload.User)
	assert.Equal(t, presence.RoleRoom("Keuangan"), payload.Room)

	require.NoError(t, sender.WriteJSON(handler.Request{Method: "typing_stop"}))

	event = readEvent(t, peer)
	assert.Equal(t, "user_stop_typing", event.Method)

	// The sender never sees its own indicator.
	assertNoFrame(t, sender)
}

func TestWebSocket_ServerSideDrop(t *testing.T) {
	h := newHarness(t)
	conn := h.connect(t, 2)

	resolved := h.registry.ResolveTargets(presence.UserTarget(2))
	require.Len(t, resolved, 1)

	// Dropping the connection from the registry, as the broadcast router
	// does with laggards, must close the socket promptly, not leave it
	// lingering until a read deadline expires.
	h.registry.Deregister(resolved[0].ID)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	var frame json.RawMessage
	err := conn.ReadJSON(&frame)
	require.Error(t, err)
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNoStatusReceived),
		"expected a close frame, got %v", err)
}

func TestWebSocket_PresenceEvents(t *testing.T) {
	h := newHarness(t)

	admin := h.connect(t, 3)
	user := h.connect(t, 1)

	t.Run("admins see users come online", func(t *testing.T) {
		event := readEvent(t, admin)
		require.Equal(t, "user_status", event.Method)

		var payload struct {
			Type string        `json:"type"`
			User auth.Identity `json:"user"`
		}
		decodeEvent(t, event, &payload)

		assert.Equal(t, "user_online", payload.Type)
		assert.Equal(t, int64(1), payload.User.UserID)
	})

	t.Run("admins see users go offline", func(t *testing.T) {
		user.Close()

		event := readEvent(t, admin)
		require.Equal(t, "user_status", event.Method)

		var payload struct {
			Type string        `json:"type"`
			User auth.Identity `json:"user"`
		}
		decodeEvent(t, event, &payload)

		assert.Equal(t, "user_offline", payload.Type)
		assert.Equal(t, int64(1), payload.User.UserID)

		assert.Eventually(t, func() bool {
			return !h.registry.IsOnline(1)
		}, time.Second, 10*time.Millisecond)
	})
}

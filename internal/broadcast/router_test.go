package broadcast

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/umrahops/realtime/internal/auth"
	"github.com/umrahops/realtime/internal/notify"
	"github.com/umrahops/realtime/internal/presence"
	"go.uber.org/zap"
)

func register(registry *presence.Registry, userID int64, role string) *presence.Connection {
	conn := presence.NewConnection(auth.Identity{UserID: userID, Name: "user", Role: role})
	registry.Register(conn)

	return conn
}

func receive(t *testing.T, conn *presence.Connection) presence.Envelope {
	t.Helper()

	select {
	case envelope := <-conn.Outbox():
		return envelope
	case <-time.After(time.Second):
		t.Fatal("expected an envelope but none arrived")
		return presence.Envelope{}
	}
}

func assertNothingQueued(t *testing.T, conn *presence.Connection) {
	t.Helper()

	select {
	case envelope := <-conn.Outbox():
		t.Fatalf("unexpected envelope %q", envelope.Event)
	default:
	}
}

func TestRouter_Send(t *testing.T) {
	logger := zap.NewNop()

	t.Run("delivers to resolved connections and stamps a timestamp", func(t *testing.T) {
		registry := presence.NewRegistry(logger)
		router := NewRouter(logger, registry)
		finance := register(registry, 1, "Keuangan")
		marketing := register(registry, 2, "Marketing")

		delivered := router.Send(presence.RoleTarget("Keuangan"), "activity_update", "payload")

		assert.Equal(t, 1, delivered)
		envelope := receive(t, finance)
		assert.Equal(t, "activity_update", envelope.Event)
		assert.Equal(t, "payload", envelope.Payload)
		assert.False(t, envelope.Timestamp.IsZero())
		assertNothingQueued(t, marketing)
	})

	t.Run("zero resolved connections is a miss, not an error", func(t *testing.T) {
		registry := presence.NewRegistry(logger)
		router := NewRouter(logger, registry)

		delivered := router.Send(presence.UserTarget(42), "direct_message", "hello")

		assert.Equal(t, 0, delivered)
	})

	t.Run("full outbound queue drops the connection", func(t *testing.T) {
		registry := presence.NewRegistry(logger)
		router := NewRouter(logger, registry)
		laggard := register(registry, 1, "Marketing")

		for laggard.Push(presence.Envelope{Event: "filler"}) {
		}

		delivered := router.Send(presence.UserTarget(1), "notification", "payload")

		assert.Equal(t, 0, delivered)
		assert.False(t, registry.IsOnline(1))
	})

	t.Run("one laggard does not block the others", func(t *testing.T) {
		registry := presence.NewRegistry(logger)
		router := NewRouter(logger, registry)
		laggard := register(registry, 1, "Keuangan")
		healthy := register(registry, 2, "Keuangan")

		for laggard.Push(presence.Envelope{Event: "filler"}) {
		}

		delivered := router.Send(presence.RoleTarget("Keuangan"), "notification", "payload")

		assert.Equal(t, 1, delivered)
		envelope := receive(t, healthy)
		assert.Equal(t, "notification", envelope.Event)
	})
}

func TestRouter_PushNotification(t *testing.T) {
	logger := zap.NewNop()

	t.Run("role target reaches only that role", func(t *testing.T) {
		registry := presence.NewRegistry(logger)
		router := NewRouter(logger, registry)
		finance := register(registry, 1, "Keuangan")
		marketing := register(registry, 2, "Marketing")

		delivered := router.PushNotification(notify.Notification{
			Type:     notify.TypePaymentReceived,
			Target:   presence.RoleTarget("Keuangan"),
			Priority: notify.PriorityHigh,
		})

		assert.Equal(t, 1, delivered)
		envelope := receive(t, finance)
		assert.Equal(t, "notification", envelope.Event)
		assertNothingQueued(t, marketing)
	})

	t.Run("urgent all bypasses admin scoping", func(t *testing.T) {
		registry := presence.NewRegistry(logger)
		router := NewRouter(logger, registry)
		admin := register(registry, 1, "Admin")
		marketing := register(registry, 2, "Marketing")

		delivered := router.PushNotification(notify.Notification{
			Type:     notify.TypeSystemAlert,
			Target:   presence.Everyone(),
			Priority: notify.PriorityUrgent,
		})

		assert.Equal(t, 2, delivered)
		assert.Equal(t, "notification", receive(t, admin).Event)
		assert.Equal(t, "notification", receive(t, marketing).Event)
	})

	t.Run("non-urgent all is scoped to the admin room", func(t *testing.T) {
		registry := presence.NewRegistry(logger)
		router := NewRouter(logger, registry)
		admin := register(registry, 1, "Admin")
		marketing := register(registry, 2, "Marketing")

		delivered := router.PushNotification(notify.Notification{
			Type:     notify.TypeBackupCompleted,
			Target:   presence.Everyone(),
			Priority: notify.PriorityNormal,
		})

		assert.Equal(t, 1, delivered)
		assert.Equal(t, "notification", receive(t, admin).Event)
		assertNothingQueued(t, marketing)
	})
}

func TestRouter_PushSystemAlert(t *testing.T) {
	logger := zap.NewNop()

	t.Run("critical alerts reach everyone", func(t *testing.T) {
		registry := presence.NewRegistry(logger)
		router := NewRouter(logger, registry)
		admin := register(registry, 1, "Admin")
		visa := register(registry, 2, "Tim Visa")

		delivered := router.PushSystemAlert("critical", "database failover", nil)

		assert.Equal(t, 2, delivered)
		assert.Equal(t, "system_alert", receive(t, admin).Event)
		assert.Equal(t, "system_alert", receive(t, visa).Event)
	})

	t.Run("warning alerts stay with the admins", func(t *testing.T) {
		registry := presence.NewRegistry(logger)
		router := NewRouter(logger, registry)
		admin := register(registry, 1, "Admin")
		visa := register(registry, 2, "Tim Visa")

		delivered := router.PushSystemAlert("warning", "disk almost full", nil)

		assert.Equal(t, 1, delivered)
		assert.Equal(t, "system_alert", receive(t, admin).Event)
		assertNothingQueued(t, visa)
	})
}

package notify

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/umrahops/realtime/internal/ierr"
	"github.com/umrahops/realtime/internal/presence"
	"go.uber.org/zap"
)

type recordingPusher struct {
	notifications []Notification
	alerts        []string
	delivered     int
}

func (p *recordingPusher) PushNotification(n Notification) int {
	p.notifications = append(p.notifications, n)
	return p.delivered
}

func (p *recordingPusher) PushSystemAlert(level string, _ string, _ map[string]any) int {
	p.alerts = append(p.alerts, level)
	return p.delivered
}

type failingStore struct {
	Store
}

func (s *failingStore) Insert(context.Context, Notification) (Notification, error) {
	return Notification{}, errors.New("connection refused")
}

func TestDispatcher_Create(t *testing.T) {
	logger := zap.NewNop()
	ctx := context.Background()

	t.Run("persists then pushes", func(t *testing.T) {
		store := NewMemoryStore()
		pusher := &recordingPusher{delivered: 1}
		dispatcher := NewDispatcher(logger, store, pusher)

		notification, err := dispatcher.Create(ctx, CreateRequest{
			Type:     TypePaymentReceived,
			Title:    "Pembayaran Baru Diterima",
			Message:  "Pembayaran Rp 5.000.000 dari Ahmad",
			Target:   presence.RoleTarget("Keuangan"),
			Priority: PriorityHigh,
		})

		require.NoError(t, err)
		assert.NotZero(t, notification.ID)
		assert.False(t, notification.CreatedAt.IsZero())

		require.Len(t, pusher.notifications, 1)
		assert.Equal(t, notification.ID, pusher.notifications[0].ID)
	})

	t.Run("created notification is durable even with no live audience", func(t *testing.T) {
		store := NewMemoryStore()
		pusher := &recordingPusher{delivered: 0}
		dispatcher := NewDispatcher(logger, store, pusher)

		notification, err := dispatcher.Create(ctx, CreateRequest{
			Type:    TypePilgrimRegistered,
			Title:   "Jamaah Baru Terdaftar",
			Message: "Ahmad mendaftar untuk paket Ramadhan",
			Target:  presence.RoleTarget("Marketing"),
		})
		require.NoError(t, err)

		listed, err := store.ListForUser(ctx, 3, "Marketing", ListOptions{})
		require.NoError(t, err)
		require.Len(t, listed, 1)
		assert.Equal(t, notification.ID, listed[0].ID)
		assert.False(t, listed[0].Read)
	})

	t.Run("defaults priority to normal", func(t *testing.T) {
		store := NewMemoryStore()
		dispatcher := NewDispatcher(logger, store, &recordingPusher{})

		notification, err := dispatcher.Create(ctx, CreateRequest{
			Type:   TypePilgrimUpdated,
			Title:  "Data Jamaah Diperbarui",
			Target: presence.UserTarget(4),
		})

		require.NoError(t, err)
		assert.Equal(t, PriorityNormal, notification.Priority)
	})

	t.Run("rejects invalid specs before persistence", func(t *testing.T) {
		store := NewMemoryStore()
		pusher := &recordingPusher{}
		dispatcher := NewDispatcher(logger, store, pusher)

		cases := map[string]CreateRequest{
			"missing type":           {Title: "t", Target: presence.Everyone()},
			"missing title":          {Type: TypeSystemAlert, Target: presence.Everyone()},
			"missing target type":    {Type: TypeSystemAlert, Title: "t"},
			"user target without id": {Type: TypeSystemAlert, Title: "t", Target: presence.Target{Type: presence.TargetTypeUser}},
			"role target without id": {Type: TypeSystemAlert, Title: "t", Target: presence.Target{Type: presence.TargetTypeRole}},
			"invalid priority":       {Type: TypeSystemAlert, Title: "t", Target: presence.Everyone(), Priority: "asap"},
		}

		for name, req := range cases {
			t.Run(name, func(t *testing.T) {
				_, err := dispatcher.Create(ctx, req)

				assert.Error(t, err)
				assert.Equal(t, ierr.ErrorCodeInvalidArgument, ierr.CodeOf(err))
			})
		}

		count, err := store.CountForUser(ctx, 1, "Admin", false)
		require.NoError(t, err)
		assert.Zero(t, count)
		assert.Empty(t, pusher.notifications)
	})

	t.Run("persistence failure aborts the call and skips the push", func(t *testing.T) {
		pusher := &recordingPusher{}
		dispatcher := NewDispatcher(logger, &failingStore{}, pusher)

		_, err := dispatcher.Create(ctx, CreateRequest{
			Type:   TypeSystemAlert,
			Title:  "t",
			Target: presence.Everyone(),
		})

		assert.Error(t, err)
		assert.Empty(t, pusher.notifications)
	})
}

func TestDispatcher_SystemAlert(t *testing.T) {
	logger := zap.NewNop()
	ctx := context.Background()

	t.Run("critical targets everyone with urgent priority", func(t *testing.T) {
		store := NewMemoryStore()
		pusher := &recordingPusher{}
		dispatcher := NewDispatcher(logger, store, pusher)

		notification, err := dispatcher.SystemAlert(ctx, "critical", "database failover", nil, nil)

		require.NoError(t, err)
		assert.Equal(t, presence.TargetTypeAll, notification.Target.Type)
		assert.Equal(t, PriorityUrgent, notification.Priority)
		assert.Equal(t, []string{"critical"}, pusher.alerts)
	})

	t.Run("warning stays with the admin role", func(t *testing.T) {
		store := NewMemoryStore()
		pusher := &recordingPusher{}
		dispatcher := NewDispatcher(logger, store, pusher)

		notification, err := dispatcher.SystemAlert(ctx, "warning", "disk almost full", nil, nil)

		require.NoError(t, err)
		assert.Equal(t, presence.RoleTarget("Admin"), notification.Target)
		assert.Equal(t, PriorityHigh, notification.Priority)
	})
}

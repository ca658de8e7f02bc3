package notify

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/umrahops/realtime/internal/auth"
	"github.com/umrahops/realtime/internal/ierr"
	"github.com/umrahops/realtime/internal/presence"
	"go.uber.org/zap"
)

// Pusher is the live-delivery side of the dispatcher, implemented by the
// broadcast router. Pushes are best-effort; the returned count is how many
// connections accepted the envelope.
type Pusher interface {
	PushNotification(n Notification) int
	PushSystemAlert(level string, message string, data map[string]any) int
}

type CreateRequest struct {
	Type      string          `json:"type"`
	Title     string          `json:"title"`
	Message   string          `json:"message"`
	Target    presence.Target `json:"target"`
	Data      map[string]any  `json:"data,omitempty"`
	Priority  Priority        `json:"priority,omitempty"`
	ExpiresAt *time.Time      `json:"expires_at,omitempty"`
	CreatedBy *int64          `json:"-"`
}

func (r CreateRequest) validate() error {
	if r.Type == "" {
		return ierr.New(ierr.ErrorCodeInvalidArgument, errors.New("notification type is required"))
	}
	if r.Title == "" {
		return ierr.New(ierr.ErrorCodeInvalidArgument, errors.New("notification title is required"))
	}
	if err := r.Target.Validate(); err != nil {
		return err
	}
	if r.Priority != "" {
		return r.Priority.Validate()
	}

	return nil
}

// Dispatcher is the orchestration point for notification creation: persist
// first, then attempt live delivery. Persistence is the durability
// guarantee; the live push is a latency optimization on top of it.
type Dispatcher struct {
	logger *zap.Logger
	store  Store
	pusher Pusher
}

func NewDispatcher(logger *zap.Logger, store Store, pusher Pusher) *Dispatcher {
	return &Dispatcher{
		logger,
		store,
		pusher,
	}
}

// Create validates the spec, persists the notification and pushes it to any
// live connections the target resolves to. A persistence failure aborts the
// whole call; a live-push miss never does.
func (d *Dispatcher) Create(ctx context.Context, req CreateRequest) (Notification, error) {
	if err := req.validate(); err != nil {
		return Notification{}, err
	}

	priority := req.Priority
	if priority == "" {
		priority = PriorityNormal
	}

	notification, err := d.store.Insert(ctx, Notification{
		Type:      req.Type,
		Title:     req.Title,
		Message:   req.Message,
		Target:    req.Target,
		Data:      req.Data,
		Priority:  priority,
		ExpiresAt: req.ExpiresAt,
		CreatedBy: req.CreatedBy,
	})
	if err != nil {
		return Notification{}, err
	}

	delivered := d.pusher.PushNotification(notification)

	d.logger.Info("notification created",
		zap.Int64("id", notification.ID),
		zap.String("type", notification.Type),
		zap.String("targetType", string(notification.Target.Type)),
		zap.Int("deliveredLive", delivered))

	return notification, nil
}

// SystemAlert persists a system_alert notification and force-pushes the
// alert event. Critical alerts address everyone with urgent priority,
// bypassing the administrative scoping; lower levels stay with the admins.
func (d *Dispatcher) SystemAlert(ctx context.Context, level string, message string, data map[string]any, createdBy *int64) (Notification, error) {
	target := presence.RoleTarget(auth.RoleAdmin)
	priority := PriorityHigh
	if level == "critical" {
		target = presence.Everyone()
		priority = PriorityUrgent
	}

	notification, err := d.Create(ctx, CreateRequest{
		Type:      TypeSystemAlert,
		Title:     "System Alert: " + strings.ToUpper(level),
		Message:   message,
		Target:    target,
		Data:      data,
		Priority:  priority,
		CreatedBy: createdBy,
	})
	if err != nil {
		return Notification{}, err
	}

	d.pusher.PushSystemAlert(level, message, data)

	return notification, nil
}

// Package broadcast routes events to live connections. Delivery is
// best-effort and at-most-once per registered connection per call; the
// durable notification log, not the live push, carries the delivery
// guarantee.
package broadcast

import (
	"time"

	"github.com/umrahops/realtime/internal/auth"
	"github.com/umrahops/realtime/internal/notify"
	"github.com/umrahops/realtime/internal/presence"
	"go.uber.org/zap"
)

type Router struct {
	logger   *zap.Logger
	registry *presence.Registry
}

func NewRouter(logger *zap.Logger, registry *presence.Registry) *Router {
	return &Router{
		logger,
		registry,
	}
}

// Send resolves the target and pushes the event to each resolved
// connection, returning the delivered count. Zero resolved connections is
// not an error; the persisted record, if any, remains retrievable.
func (r *Router) Send(target presence.Target, event string, payload any) int {
	return r.push(r.registry.ResolveTargets(target), event, payload, "")
}

// SendRoom pushes the event to every connection in a room.
func (r *Router) SendRoom(room string, event string, payload any) int {
	return r.push(r.registry.ResolveRoom(room), event, payload, "")
}

// RelayRoom pushes the event to a room excluding one connection, for
// sender-originated relays like typing indicators.
func (r *Router) RelayRoom(room string, event string, payload any, excludeConnectionID string) int {
	return r.push(r.registry.ResolveRoom(room), event, payload, excludeConnectionID)
}

func (r *Router) push(conns []*presence.Connection, event string, payload any, excludeConnectionID string) int {
	if len(conns) == 0 {
		r.logger.Debug("no live connections for push",
			zap.String("event", event))

		return 0
	}

	envelope := presence.Envelope{
		Event:     event,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
	}

	delivered := 0
	var stale []string

	for _, conn := range conns {
		if conn.ID == excludeConnectionID {
			continue
		}

		if conn.Push(envelope) {
			delivered++
			continue
		}

		r.logger.Warn("connection outbound queue is full, dropping connection",
			zap.String("connectionId", conn.ID),
			zap.Int64("userId", conn.Identity.UserID))

		stale = append(stale, conn.ID)
	}

	for _, connectionID := range stale {
		r.registry.Deregister(connectionID)
	}

	return delivered
}

// PushNotification delivers a freshly persisted notification to its live
// audience. User and role targets map to their implicit rooms. An
// all-target with urgent priority goes to literally every connection; below
// urgent it is scoped to the admin role room as a cost-reduction policy.
// The asymmetry governs who sees critical alerts and must be preserved.
func (r *Router) PushNotification(n notify.Notification) int {
	switch n.Target.Type {
	case presence.TargetTypeUser, presence.TargetTypeRole:
		return r.Send(n.Target, "notification", n)
	case presence.TargetTypeAll:
		if n.Priority == notify.PriorityUrgent {
			return r.Send(presence.Everyone(), "notification", n)
		}
		return r.SendRoom(presence.RoleRoom(auth.RoleAdmin), "notification", n)
	default:
		return 0
	}
}

type systemAlertPayload struct {
	Type    string         `json:"type"`
	Level   string         `json:"level"`
	Message string         `json:"message"`
	Data    map[string]any `json:"data,omitempty"`
}

// PushSystemAlert force-pushes a system_alert event. Critical alerts reach
// every connection regardless of role scoping.
func (r *Router) PushSystemAlert(level string, message string, data map[string]any) int {
	payload := systemAlertPayload{
		Type:    "system_alert",
		Level:   level,
		Message: message,
		Data:    data,
	}

	if level == "critical" {
		return r.Send(presence.Everyone(), "system_alert", payload)
	}

	return r.SendRoom(presence.RoleRoom(auth.RoleAdmin), "system_alert", payload)
}

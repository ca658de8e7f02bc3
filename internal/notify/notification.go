package notify

import (
	"time"

	"github.com/umrahops/realtime/internal/ierr"
	"github.com/umrahops/realtime/internal/presence"
)

// Well-known notification type tags. The delivery layer treats them as
// opaque; they are enumerated here for the convenience of domain callers.
const (
	TypePilgrimRegistered   = "jamaah_registered"
	TypePilgrimUpdated      = "jamaah_updated"
	TypePaymentReceived     = "payment_received"
	TypePaymentVerified     = "payment_verified"
	TypePaymentRejected     = "payment_rejected"
	TypeDocumentUploaded    = "document_uploaded"
	TypeDocumentVerified    = "document_verified"
	TypeDocumentRejected    = "document_rejected"
	TypePackageFull         = "package_full"
	TypeVisaStatusUpdated   = "visa_status_updated"
	TypeSystemAlert         = "system_alert"
	TypeBackupCompleted     = "backup_completed"
	TypeBulkImportCompleted = "bulk_import_completed"
)

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

func (p Priority) Validate() error {
	switch p {
	case PriorityLow, PriorityNormal, PriorityHigh, PriorityUrgent:
		return nil
	default:
		return ierr.Errorf(ierr.ErrorCodeInvalidArgument, "invalid priority %q", string(p))
	}
}

// Notification is the durable record of one event. It is immutable once
// created and outlives every connection; expiry or an explicit retention
// sweep are the only ways it goes away.
type Notification struct {
	ID        int64           `json:"id"`
	Type      string          `json:"type"`
	Title     string          `json:"title"`
	Message   string          `json:"message"`
	Target    presence.Target `json:"target"`
	Data      map[string]any  `json:"data,omitempty"`
	Priority  Priority        `json:"priority"`
	ExpiresAt *time.Time      `json:"expires_at,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	CreatedBy *int64          `json:"created_by,omitempty"`

	// Read is a per-viewer flag populated by ListForUser; it is not part of
	// the record itself.
	Read bool `json:"read"`
}

// VisibleTo reports whether the notification is addressed at the given
// user, directly, via their role, or via an all-target.
func (n Notification) VisibleTo(userID int64, role string) bool {
	switch n.Target.Type {
	case presence.TargetTypeUser:
		return n.Target.UserID == userID
	case presence.TargetTypeRole:
		return n.Target.Role == role
	case presence.TargetTypeAll:
		return true
	default:
		return false
	}
}

func (n Notification) Expired(now time.Time) bool {
	return n.ExpiresAt != nil && n.ExpiresAt.Before(now)
}

package notify

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/umrahops/realtime/internal/ierr"
)

type receiptKey struct {
	notificationID int64
	userID         int64
}

// MemoryStore is a mutex-guarded, in-process Store with the same contract
// as the PostgreSQL implementation. It backs tests and dependency-free
// development setups.
type MemoryStore struct {
	mu            sync.Mutex
	nextID        int64
	notifications []Notification
	receipts      map[receiptKey]time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		nextID:   1,
		receipts: make(map[receiptKey]time.Time),
	}
}

func (s *MemoryStore) Insert(_ context.Context, n Notification) (Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n.ID = s.nextID
	s.nextID++
	n.CreatedAt = time.Now().UTC()
	s.notifications = append(s.notifications, n)

	return n, nil
}

func (s *MemoryStore) visibleLocked(userID int64, role string, unreadOnly bool) []Notification {
	now := time.Now().UTC()

	var visible []Notification
	for _, n := range s.notifications {
		if !n.VisibleTo(userID, role) || n.Expired(now) {
			continue
		}

		_, read := s.receipts[receiptKey{n.ID, userID}]
		if unreadOnly && read {
			continue
		}

		n.Read = read
		visible = append(visible, n)
	}

	sort.SliceStable(visible, func(i, j int) bool {
		if visible[i].CreatedAt.Equal(visible[j].CreatedAt) {
			return visible[i].ID > visible[j].ID
		}
		return visible[i].CreatedAt.After(visible[j].CreatedAt)
	})

	return visible
}

func (s *MemoryStore) ListForUser(_ context.Context, userID int64, role string, opts ListOptions) ([]Notification, error) {
	opts = opts.withDefaults()

	s.mu.Lock()
	defer s.mu.Unlock()

	visible := s.visibleLocked(userID, role, opts.UnreadOnly)

	if opts.Offset >= len(visible) {
		return nil, nil
	}
	visible = visible[opts.Offset:]
	if len(visible) > opts.Limit {
		visible = visible[:opts.Limit]
	}

	return visible, nil
}

func (s *MemoryStore) CountForUser(_ context.Context, userID int64, role string, unreadOnly bool) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.visibleLocked(userID, role, unreadOnly)), nil
}

func (s *MemoryStore) MarkRead(_ context.Context, notificationID int64, userID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	found := false
	for _, n := range s.notifications {
		if n.ID == notificationID {
			found = true
			break
		}
	}
	if !found {
		return ierr.New(ierr.ErrorCodeNotFound, errors.New("notification not found"))
	}

	key := receiptKey{notificationID, userID}
	if _, ok := s.receipts[key]; !ok {
		s.receipts[key] = time.Now().UTC()
	}

	return nil
}

func (s *MemoryStore) MarkAllRead(_ context.Context, userID int64, role string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	marked := 0
	for _, n := range s.visibleLocked(userID, role, true) {
		s.receipts[receiptKey{n.ID, userID}] = time.Now().UTC()
		marked++
	}

	return marked, nil
}

func (s *MemoryStore) PurgeExpired(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()

	kept := s.notifications[:0]
	purged := 0
	for _, n := range s.notifications {
		if n.Expired(now) {
			purged++
			continue
		}
		kept = append(kept, n)
	}
	s.notifications = kept

	return purged, nil
}

func (s *MemoryStore) Stats(_ context.Context, window time.Duration) ([]StatRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().UTC().Add(-window)

	type bucket struct {
		Type     string
		Priority Priority
	}
	buckets := make(map[bucket]*StatRow)

	for _, n := range s.notifications {
		if !n.CreatedAt.After(cutoff) {
			continue
		}

		key := bucket{n.Type, n.Priority}
		row, ok := buckets[key]
		if !ok {
			row = &StatRow{Type: n.Type, Priority: n.Priority}
			buckets[key] = row
		}

		row.Total++
		if !s.anyReceiptLocked(n.ID) {
			row.Unread++
		}
	}

	rows := make([]StatRow, 0, len(buckets))
	for _, row := range buckets {
		rows = append(rows, *row)
	}
	sort.Slice(rows, func(i, j int) bool {
		return rows[i].Total > rows[j].Total
	})

	return rows, nil
}

func (s *MemoryStore) anyReceiptLocked(notificationID int64) bool {
	for key := range s.receipts {
		if key.notificationID == notificationID {
			return true
		}
	}

	return false
}

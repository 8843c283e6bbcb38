// Package notification keeps in-app notification records for order activity.
// Deleting an order removes its notifications, so a removed order leaves no
// dangling references anywhere a user could click.
package notification

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Notification is a single in-app notification for one user.
type Notification struct {
	ID        uuid.UUID  `json:"id"`
	UserID    uuid.UUID  `json:"user_id"`
	Kind      string     `json:"kind"` // order.sent, order.declined, order.status, thread.deleted
	Title     string     `json:"title"`
	Body      string     `json:"body,omitempty"`
	OrderID   *uuid.UUID `json:"order_id,omitempty"`
	ThreadID  *uuid.UUID `json:"thread_id,omitempty"`
	ReadAt    *time.Time `json:"read_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

// Store holds notifications in memory, guarded by a RWMutex.
type Store struct {
	mu    sync.RWMutex
	items map[uuid.UUID]*Notification
}

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{items: make(map[uuid.UUID]*Notification)}
}

// Add records a notification, assigning id and timestamp.
func (s *Store) Add(_ context.Context, n *Notification) error {
	if n.UserID == uuid.Nil {
		return fmt.Errorf("user_id is required")
	}
	if n.Kind == "" {
		return fmt.Errorf("kind is required")
	}
	n.ID = uuid.New()
	n.CreatedAt = time.Now().UTC()

	s.mu.Lock()
	s.items[n.ID] = n
	s.mu.Unlock()
	return nil
}

// ListByUser returns a user's notifications, newest first.
func (s *Store) ListByUser(_ context.Context, userID uuid.UUID) []*Notification {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*Notification
	for _, n := range s.items {
		if n.UserID == userID {
			result = append(result, n)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return result
}

// MarkRead stamps a notification as read.
func (s *Store) MarkRead(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.items[id]
	if !ok {
		return fmt.Errorf("notification %s not found", id)
	}
	now := time.Now().UTC()
	n.ReadAt = &now
	return nil
}

// DeleteByOrder removes every notification referencing the given order and
// returns how many were removed.
func (s *Store) DeleteByOrder(_ context.Context, orderID uuid.UUID) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, n := range s.items {
		if n.OrderID != nil && *n.OrderID == orderID {
			delete(s.items, id)
			removed++
		}
	}
	return removed
}

// Count returns the total number of stored notifications.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

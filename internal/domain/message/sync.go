package message

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/medlink/medlink/internal/platform/eventbus"
)

// Backend is the slice of the message service the synchronizer talks to.
type Backend interface {
	ListThread(ctx context.Context, threadID uuid.UUID) ([]*View, error)
	Send(ctx context.Context, in SendInput) (*View, error)
}

// Synchronizer maintains one viewer's ordered copy of an open thread. Events
// from the bus and full reloads are merged into the same view slice; the
// merge is idempotent, so at-least-once delivery and overlapping reloads are
// safe. Every completion checks the thread id it started with against the
// currently open one and discards stale results, so switching threads
// mid-flight never bleeds messages across conversations.
type Synchronizer struct {
	backend Backend
	sender  uuid.UUID
	logger  zerolog.Logger

	mu       sync.Mutex
	threadID uuid.UUID
	views    []*View
	draft    string
	pending  map[uuid.UUID]struct{} // temp ids of optimistic entries
}

func NewSynchronizer(backend Backend, sender uuid.UUID, logger zerolog.Logger) *Synchronizer {
	return &Synchronizer{
		backend: backend,
		sender:  sender,
		logger:  logger,
		pending: make(map[uuid.UUID]struct{}),
	}
}

// Open switches to a thread and fully reloads its messages. The reload
// replaces the view; any optimistic entries of the previous thread are gone
// with it.
func (s *Synchronizer) Open(ctx context.Context, threadID uuid.UUID) error {
	s.mu.Lock()
	s.threadID = threadID
	s.views = nil
	s.pending = make(map[uuid.UUID]struct{})
	s.mu.Unlock()

	return s.reload(ctx, threadID)
}

// reload fetches the full thread and installs it if the thread is still open.
func (s *Synchronizer) reload(ctx context.Context, target uuid.UUID) error {
	items, err := s.backend.ListThread(ctx, target)
	if err != nil {
		return fmt.Errorf("reload thread: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.threadID != target {
		return nil // switched away while loading
	}

	// Merge instead of overwrite so optimistic entries and events that
	// arrived during the fetch survive.
	for _, v := range items {
		s.upsertLocked(v)
	}
	return nil
}

// ApplyEvent merges one bus event into the view. Unknown ids are inserted in
// (created_at, id) order; known ids are overwritten in place, which is how
// soft deletes reach every viewer. Events for other threads are ignored.
func (s *Synchronizer) ApplyEvent(ev eventbus.Event) {
	if ev.Type != eventbus.MessageCreated && ev.Type != eventbus.MessageUpdated {
		return
	}
	var v View
	if err := json.Unmarshal(ev.Data, &v); err != nil {
		s.logger.Warn().Err(err).Str("topic", ev.Topic).Msg("undecodable message event")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if v.ThreadID != s.threadID {
		return
	}
	s.upsertLocked(&v)
}

// Send posts a message optimistically: a temporary entry appears at once and
// is replaced by the confirmed row when the write lands. The replacement is
// keyed by the request, never by content, so identical texts cannot collide.
// On failure the entry is removed and the text returns to the draft.
func (s *Synchronizer) Send(ctx context.Context, text string, files []*Attachment) error {
	s.mu.Lock()
	target := s.threadID
	if target == uuid.Nil {
		s.mu.Unlock()
		return fmt.Errorf("%w: no thread open", ErrValidation)
	}
	s.draft = ""

	tempID := uuid.New()
	content := text
	temp := &View{
		Message: Message{
			ID:          tempID,
			ThreadID:    target,
			SenderID:    s.sender,
			Content:     &content,
			Type:        TypeText,
			CreatedAt:   time.Now().UTC(),
			Attachments: files,
		},
		SenderName: "You",
	}
	if len(files) > 0 {
		temp.Type = TypeFile
	}
	s.pending[tempID] = struct{}{}
	s.views = append(s.views, temp)
	s.mu.Unlock()

	confirmed, err := s.backend.Send(ctx, SendInput{
		ThreadID:    target,
		SenderID:    s.sender,
		Content:     &content,
		Attachments: files,
	})

	s.mu.Lock()
	if s.threadID != target {
		// Viewer moved on; the optimistic entry died with the old view and
		// the server row will show up whenever the thread is opened again.
		delete(s.pending, tempID)
		s.mu.Unlock()
		return err
	}

	if err != nil {
		s.removeLocked(tempID)
		delete(s.pending, tempID)
		s.draft = text
		s.mu.Unlock()
		return err
	}

	delete(s.pending, tempID)
	if confirmed == nil {
		// Write acknowledged without a row; fall back to a full reload.
		s.removeLocked(tempID)
		s.mu.Unlock()
		return s.reload(ctx, target)
	}

	s.removeLocked(tempID)
	s.upsertLocked(confirmed)
	s.mu.Unlock()
	return nil
}

// Messages returns a copy of the current view in canonical order.
func (s *Synchronizer) Messages() []*View {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*View, len(s.views))
	copy(out, s.views)
	return out
}

// Draft returns the unsent input text.
func (s *Synchronizer) Draft() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.draft
}

// SetDraft stores unsent input text.
func (s *Synchronizer) SetDraft(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.draft = text
}

// ThreadID returns the currently open thread.
func (s *Synchronizer) ThreadID() uuid.UUID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.threadID
}

// upsertLocked inserts or overwrites by id and keeps (created_at, id) order.
func (s *Synchronizer) upsertLocked(v *View) {
	for i, existing := range s.views {
		if existing.ID == v.ID {
			s.views[i] = v
			return
		}
	}
	s.views = append(s.views, v)
	sort.SliceStable(s.views, func(i, j int) bool {
		a, b := s.views[i], s.views[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID.String() < b.ID.String()
	})
}

func (s *Synchronizer) removeLocked(id uuid.UUID) {
	for i, v := range s.views {
		if v.ID == id {
			s.views = append(s.views[:i], s.views[i+1:]...)
			return
		}
	}
}

package message

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/medlink/medlink/internal/platform/eventbus"
)

// NameResolver turns a user id into a display name. Implemented by the
// directory service.
type NameResolver interface {
	DisplayName(ctx context.Context, userID uuid.UUID) string
}

// Service owns the server side of message delivery: persistence, hydration
// and event publication. The bus is best-effort; a reader that missed an
// event recovers through a full reload.
type Service struct {
	messages      Repository
	names         NameResolver
	bus           eventbus.Publisher
	maxAttachment int64
	logger        zerolog.Logger
}

func NewService(messages Repository, names NameResolver, bus eventbus.Publisher, maxAttachmentBytes int64, logger zerolog.Logger) *Service {
	return &Service{
		messages:      messages,
		names:         names,
		bus:           bus,
		maxAttachment: maxAttachmentBytes,
		logger:        logger,
	}
}

// MaxAttachmentBytes is the per-attachment size ceiling enforced on send.
func (s *Service) MaxAttachmentBytes() int64 {
	return s.maxAttachment
}

type SendInput struct {
	ThreadID    uuid.UUID
	SenderID    uuid.UUID
	Content     *string
	Attachments []*Attachment
}

// Send validates and persists a message, then publishes it on the thread
// topic. A message needs content or at least one attachment; every
// attachment must fit the size ceiling.
func (s *Service) Send(ctx context.Context, in SendInput) (*View, error) {
	if in.ThreadID == uuid.Nil {
		return nil, fmt.Errorf("%w: thread_id is required", ErrValidation)
	}
	if in.SenderID == uuid.Nil {
		return nil, fmt.Errorf("%w: sender_id is required", ErrValidation)
	}
	hasContent := in.Content != nil && *in.Content != ""
	if !hasContent && len(in.Attachments) == 0 {
		return nil, fmt.Errorf("%w: message needs content or attachments", ErrValidation)
	}
	for _, a := range in.Attachments {
		if a.SizeBytes > s.maxAttachment {
			return nil, fmt.Errorf("%w: attachment %q exceeds %d bytes", ErrValidation, a.FileName, s.maxAttachment)
		}
	}

	m := &Message{
		ThreadID:    in.ThreadID,
		SenderID:    in.SenderID,
		Content:     in.Content,
		Type:        TypeText,
		Attachments: in.Attachments,
	}
	if len(in.Attachments) > 0 {
		m.Type = TypeFile
	}
	if err := s.messages.Create(ctx, m); err != nil {
		return nil, fmt.Errorf("insert message: %w", err)
	}

	view := s.hydrate(ctx, m)
	s.publish(ctx, eventbus.MessageCreated, view)
	return view, nil
}

// PostSystem appends a system message to a thread. Used by the thread
// resolver and the order service for lifecycle announcements.
func (s *Service) PostSystem(ctx context.Context, threadID uuid.UUID, text string) error {
	m := &Message{
		ThreadID: threadID,
		SenderID: SystemSender,
		Content:  &text,
		Type:     TypeSystem,
	}
	if err := s.messages.Create(ctx, m); err != nil {
		return fmt.Errorf("insert system message: %w", err)
	}
	s.publish(ctx, eventbus.MessageCreated, s.hydrate(ctx, m))
	return nil
}

// SoftDelete clears a message's content in place. Only the sender may delete;
// the row survives so every viewer sees the same tombstone at the same spot.
func (s *Service) SoftDelete(ctx context.Context, messageID, actorID uuid.UUID) error {
	m, err := s.messages.GetByID(ctx, messageID)
	if err != nil {
		return err
	}
	if m.SenderID != actorID {
		return ErrForbidden
	}
	if err := s.messages.SoftDelete(ctx, messageID); err != nil {
		return err
	}

	m.Content = nil
	m.IsDeleted = true
	m.Attachments = nil
	s.publish(ctx, eventbus.MessageUpdated, s.hydrate(ctx, m))
	return nil
}

// ListThread returns the thread's messages in canonical order, hydrated.
func (s *Service) ListThread(ctx context.Context, threadID uuid.UUID) ([]*View, error) {
	items, err := s.messages.ListByThread(ctx, threadID)
	if err != nil {
		return nil, err
	}
	views := make([]*View, 0, len(items))
	for _, m := range items {
		views = append(views, s.hydrate(ctx, m))
	}
	return views, nil
}

// Get returns one hydrated message.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*View, error) {
	m, err := s.messages.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.hydrate(ctx, m), nil
}

func (s *Service) hydrate(ctx context.Context, m *Message) *View {
	name := "System"
	if m.Type != TypeSystem {
		name = s.names.DisplayName(ctx, m.SenderID)
	}
	return &View{Message: *m, SenderName: name}
}

func (s *Service) publish(ctx context.Context, eventType string, view *View) {
	if s.bus == nil {
		return
	}
	data, err := json.Marshal(view)
	if err != nil {
		s.logger.Warn().Err(err).Str("message_id", view.ID.String()).Msg("marshal message event failed")
		return
	}
	ev := eventbus.Event{
		Type:       eventType,
		Topic:      eventbus.ThreadTopic(view.ThreadID),
		ResourceID: view.ID.String(),
		Data:       data,
	}
	if err := s.bus.Publish(ctx, ev); err != nil {
		s.logger.Warn().Err(err).Str("topic", ev.Topic).Msg("publish message event failed")
	}
}

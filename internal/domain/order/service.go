package order

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/medlink/medlink/internal/domain/thread"
	"github.com/medlink/medlink/internal/platform/eventbus"
	"github.com/medlink/medlink/internal/platform/notification"
)

// ThreadResolver is the slice of the thread service the order lifecycle
// needs: finding or creating the conversation an order is sent into, and
// maintaining the binding in thread metadata.
type ThreadResolver interface {
	Resolve(ctx context.Context, in thread.ResolveInput) (*thread.Thread, bool, error)
	AttachOrder(ctx context.Context, threadID uuid.UUID, orderType string, orderID uuid.UUID) error
	DetachOrder(ctx context.Context, appointmentID uuid.UUID, orderType string, orderID uuid.UUID) error
}

// Service drives the order lifecycle. Sending is the only transition this
// side initiates; everything after sent is observed from the counter-party
// and validated against the per-kind transition table.
type Service struct {
	orders        Repository
	threads       ThreadResolver
	system        thread.SystemPoster
	dir           thread.CounterPartyDirectory
	notifications *notification.Store
	bus           eventbus.Publisher
	logger        zerolog.Logger
}

func NewService(orders Repository, threads ThreadResolver, system thread.SystemPoster, dir thread.CounterPartyDirectory, notifications *notification.Store, bus eventbus.Publisher, logger zerolog.Logger) *Service {
	return &Service{
		orders:        orders,
		threads:       threads,
		system:        system,
		dir:           dir,
		notifications: notifications,
		bus:           bus,
		logger:        logger,
	}
}

type CreateInput struct {
	Kind          string
	AppointmentID uuid.UUID
	AuthorID      uuid.UUID
	SubjectID     *uuid.UUID
	Items         []LineItem
}

// Create stores a new order in its initial status (draft for prescriptions,
// pending for lab requests). Nothing is sent yet.
func (s *Service) Create(ctx context.Context, in CreateInput) (*Order, error) {
	if in.Kind != KindPrescription && in.Kind != KindLabRequest {
		return nil, fmt.Errorf("%w: unknown kind %q", ErrValidation, in.Kind)
	}
	if in.AppointmentID == uuid.Nil {
		return nil, fmt.Errorf("%w: appointment_id is required", ErrValidation)
	}
	if in.AuthorID == uuid.Nil {
		return nil, fmt.Errorf("%w: author_id is required", ErrValidation)
	}
	if len(in.Items) == 0 {
		return nil, fmt.Errorf("%w: at least one line item is required", ErrValidation)
	}
	for _, item := range in.Items {
		if item.Name == "" {
			return nil, fmt.Errorf("%w: line item name is required", ErrValidation)
		}
	}

	o := &Order{
		Kind:          in.Kind,
		AppointmentID: in.AppointmentID,
		AuthorID:      in.AuthorID,
		SubjectID:     in.SubjectID,
		Status:        InitialStatus(in.Kind),
		Items:         in.Items,
	}
	if err := s.orders.Create(ctx, o); err != nil {
		return nil, fmt.Errorf("insert order: %w", err)
	}
	return o, nil
}

type SendInput struct {
	OrderID        uuid.UUID
	CounterPartyID uuid.UUID
	ActorID        uuid.UUID
	PatientID      *uuid.UUID
}

// SendResult carries the sent order and the conversation it landed in.
// Warnings list degraded saga steps the caller may surface.
type SendResult struct {
	Order    *Order    `json:"order"`
	ThreadID uuid.UUID `json:"thread_id"`
	Warnings []string  `json:"warnings,omitempty"`
}

// Send dispatches a draft/pending order to a counter-party. The order's
// conversation is resolved (or created) first, then the status moves to
// sent and the binding is recorded in thread metadata. Sending an
// already-sent order is a conflict, never a double send.
func (s *Service) Send(ctx context.Context, in SendInput) (*SendResult, error) {
	o, err := s.orders.GetByID(ctx, in.OrderID)
	if err != nil {
		return nil, err
	}
	if in.CounterPartyID == uuid.Nil {
		return nil, fmt.Errorf("%w: counter_party_id is required", ErrValidation)
	}
	if o.Status != InitialStatus(o.Kind) {
		return nil, fmt.Errorf("%w: order is %s, only %s orders can be sent",
			ErrConflict, o.Status, InitialStatus(o.Kind))
	}

	th, _, err := s.threads.Resolve(ctx, thread.ResolveInput{
		AppointmentID:  o.AppointmentID,
		CounterPartyID: &in.CounterPartyID,
		OrderType:      o.Kind,
		ActorID:        in.ActorID,
		PatientID:      in.PatientID,
	})
	var warnings []string
	var partial *thread.PartialCreationError
	if errors.As(err, &partial) {
		warnings = partial.Steps
	} else if err != nil {
		return nil, fmt.Errorf("resolve thread: %w", err)
	}

	o.CounterPartyID = &in.CounterPartyID
	o.Status = SentStatus(o.Kind)
	if err := s.orders.Update(ctx, o); err != nil {
		return nil, fmt.Errorf("update order: %w", err)
	}

	if err := s.threads.AttachOrder(ctx, th.ID, o.Kind, o.ID); err != nil {
		s.logger.Warn().Err(err).Str("order_id", o.ID.String()).Msg("attach order to thread failed")
		warnings = append(warnings, "thread-binding")
	}
	if err := s.system.PostSystem(ctx, th.ID, s.summary(o)); err != nil {
		s.logger.Warn().Err(err).Str("order_id", o.ID.String()).Msg("post order summary failed")
		warnings = append(warnings, "summary-message")
	}

	s.notifyCounterParty(ctx, o, th.ID)
	s.publishStatus(ctx, o)

	return &SendResult{Order: o, ThreadID: th.ID, Warnings: warnings}, nil
}

// ObserveStatus records a status change reported by the counter-party.
// The sent transition is clinician-only and rejected here; everything else
// is checked against the kind's transition table.
func (s *Service) ObserveStatus(ctx context.Context, orderID uuid.UUID, newStatus string) (*Order, error) {
	o, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !ValidStatus(o.Kind, newStatus) {
		return nil, fmt.Errorf("%w: unknown %s status %q", ErrValidation, o.Kind, newStatus)
	}
	if newStatus == SentStatus(o.Kind) {
		return nil, fmt.Errorf("%w: %s is set by sending, not observed", ErrValidation, newStatus)
	}
	if !CanTransition(o.Kind, o.Status, newStatus) {
		return nil, fmt.Errorf("%w: cannot move %s order from %s to %s",
			ErrConflict, o.Kind, o.Status, newStatus)
	}

	o.Status = newStatus
	if err := s.orders.Update(ctx, o); err != nil {
		return nil, fmt.Errorf("update order: %w", err)
	}

	s.notifyAuthor(ctx, o)
	s.publishStatus(ctx, o)
	return o, nil
}

// Resend returns a declined/denied order to its initial status so the
// clinician can pick a new counter-party. The id and line items survive
// unchanged; the counter-party binding and the declined thread's metadata
// reference are cleared. Decline/resend cycles can repeat indefinitely.
func (s *Service) Resend(ctx context.Context, orderID, actorID uuid.UUID) (*Order, error) {
	o, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o.Status != DeclinedStatus(o.Kind) {
		return nil, fmt.Errorf("%w: only %s orders can be resent, order is %s",
			ErrConflict, DeclinedStatus(o.Kind), o.Status)
	}

	// Release the declined conversation's claim on the order before the new
	// send binds it elsewhere. A stale binding would let deleting the dead
	// thread cascade into the live order.
	if err := s.threads.DetachOrder(ctx, o.AppointmentID, o.Kind, o.ID); err != nil {
		return nil, fmt.Errorf("detach order from declined thread: %w", err)
	}

	o.CounterPartyID = nil
	o.Status = InitialStatus(o.Kind)
	if err := s.orders.Update(ctx, o); err != nil {
		return nil, fmt.Errorf("update order: %w", err)
	}
	return o, nil
}

// Delete removes the order and every notification that references it.
func (s *Service) Delete(ctx context.Context, orderID uuid.UUID) error {
	if err := s.orders.Delete(ctx, orderID); err != nil {
		return err
	}
	if s.notifications != nil {
		s.notifications.DeleteByOrder(ctx, orderID)
	}
	return nil
}

// DeleteByThread removes every order bound to the thread's metadata. Part of
// the thread deletion cascade; called by the thread service.
func (s *Service) DeleteByThread(ctx context.Context, t *thread.Thread) ([]uuid.UUID, error) {
	var deleted []uuid.UUID
	for _, key := range []string{thread.MetaPrescriptionID, thread.MetaLabRequestID} {
		raw, ok := t.Metadata[key]
		if !ok {
			continue
		}
		orderID, err := uuid.Parse(raw)
		if err != nil {
			s.logger.Warn().Str("thread_id", t.ID.String()).Str("value", raw).Msg("unparseable order reference in thread metadata")
			continue
		}
		if err := s.Delete(ctx, orderID); err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return deleted, err
		}
		deleted = append(deleted, orderID)
	}
	return deleted, nil
}

// ReassignCounterParty re-points a bound order at a new counter-party.
// Called by the thread service when a conversation is reassigned.
func (s *Service) ReassignCounterParty(ctx context.Context, orderID, newCounterPartyID uuid.UUID) error {
	o, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		return err
	}
	o.CounterPartyID = &newCounterPartyID
	return s.orders.Update(ctx, o)
}

// Get returns one order.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Order, error) {
	return s.orders.GetByID(ctx, id)
}

// ListByAppointment returns the appointment's orders in creation order.
func (s *Service) ListByAppointment(ctx context.Context, appointmentID uuid.UUID) ([]*Order, error) {
	return s.orders.ListByAppointment(ctx, appointmentID)
}

func (s *Service) notifyAuthor(ctx context.Context, o *Order) {
	if s.notifications == nil {
		return
	}
	kind := "order.status"
	title := fmt.Sprintf("Order update: %s", o.Status)
	if o.Status == DeclinedStatus(o.Kind) {
		kind = "order.declined"
		title = "Order declined"
		if o.Kind == KindLabRequest {
			title = "Lab request denied"
		}
	}
	n := &notification.Notification{
		UserID:  o.AuthorID,
		Kind:    kind,
		Title:   title,
		OrderID: &o.ID,
	}
	if err := s.notifications.Add(ctx, n); err != nil {
		s.logger.Warn().Err(err).Str("order_id", o.ID.String()).Msg("notify author failed")
	}
}

func (s *Service) summary(o *Order) string {
	names := make([]string, 0, len(o.Items))
	for _, item := range o.Items {
		names = append(names, item.Name)
	}
	label := "Prescription"
	if o.Kind == KindLabRequest {
		label = "Lab request"
	}
	return fmt.Sprintf("%s sent: %s.", label, strings.Join(names, ", "))
}

func (s *Service) notifyCounterParty(ctx context.Context, o *Order, threadID uuid.UUID) {
	if s.notifications == nil || s.dir == nil || o.CounterPartyID == nil {
		return
	}
	cp, err := s.dir.GetCounterParty(ctx, *o.CounterPartyID)
	if err != nil || cp.UserID == nil {
		return
	}
	n := &notification.Notification{
		UserID:   *cp.UserID,
		Kind:     "order.sent",
		Title:    s.summary(o),
		OrderID:  &o.ID,
		ThreadID: &threadID,
	}
	if err := s.notifications.Add(ctx, n); err != nil {
		s.logger.Warn().Err(err).Str("order_id", o.ID.String()).Msg("notify counter-party failed")
	}
}

func (s *Service) publishStatus(ctx context.Context, o *Order) {
	if s.bus == nil || o.CounterPartyID == nil {
		return
	}
	data, err := json.Marshal(map[string]string{
		"order_id": o.ID.String(),
		"kind":     o.Kind,
		"status":   o.Status,
	})
	if err != nil {
		return
	}
	ev := eventbus.Event{
		Type:       eventbus.OrderStatus,
		Topic:      eventbus.OrderTopic(o.AppointmentID, *o.CounterPartyID),
		ResourceID: o.ID.String(),
		Data:       data,
	}
	if err := s.bus.Publish(ctx, ev); err != nil {
		s.logger.Warn().Err(err).Str("topic", ev.Topic).Msg("publish order event failed")
	}
}

package thread

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/medlink/medlink/internal/domain/directory"
	"github.com/medlink/medlink/internal/platform/eventbus"
)

// CounterPartyDirectory resolves counter-party identities.
type CounterPartyDirectory interface {
	GetCounterParty(ctx context.Context, id uuid.UUID) (*directory.CounterParty, error)
}

// SystemPoster appends system messages to a thread. Implemented by the
// message service; wired in main.
type SystemPoster interface {
	PostSystem(ctx context.Context, threadID uuid.UUID, text string) error
}

// OrderBinder is the slice of the order service the resolver needs: cascade
// deletion on thread removal and re-pointing a bound order on reassignment.
// Set after construction to avoid a package cycle.
type OrderBinder interface {
	DeleteByThread(ctx context.Context, t *Thread) ([]uuid.UUID, error)
	ReassignCounterParty(ctx context.Context, orderID, newCounterPartyID uuid.UUID) error
}

// Service is the thread resolver. Resolution is idempotent: resolving the
// same scope twice returns the same thread. Creation is a saga of
// individually retryable steps; only the thread row insert is fatal.
type Service struct {
	threads Repository
	dir     CounterPartyDirectory
	system  SystemPoster
	orders  OrderBinder
	bus     eventbus.Publisher
	logger  zerolog.Logger
}

func NewService(threads Repository, dir CounterPartyDirectory, system SystemPoster, bus eventbus.Publisher, logger zerolog.Logger) *Service {
	return &Service{
		threads: threads,
		dir:     dir,
		system:  system,
		bus:     bus,
		logger:  logger,
	}
}

// SetOrderBinder wires the order service in after both services exist.
func (s *Service) SetOrderBinder(orders OrderBinder) {
	s.orders = orders
}

// ResolveInput carries everything a resolve call needs. No ambient state:
// the actor and scope travel with every call.
type ResolveInput struct {
	AppointmentID  uuid.UUID
	CounterPartyID *uuid.UUID
	OrderType      string
	HintThreadID   *uuid.UUID
	ActorID        uuid.UUID
	PatientID      *uuid.UUID
}

// Resolve finds or creates the unique thread for the input's scope. The
// second return reports whether this call created the thread.
func (s *Service) Resolve(ctx context.Context, in ResolveInput) (*Thread, bool, error) {
	if in.AppointmentID == uuid.Nil {
		return nil, false, fmt.Errorf("%w: appointment_id is required", ErrValidation)
	}
	if in.ActorID == uuid.Nil {
		return nil, false, fmt.Errorf("%w: actor_id is required", ErrValidation)
	}
	if in.OrderType != "" && in.OrderType != OrderTypePrescription && in.OrderType != OrderTypeLabRequest {
		return nil, false, fmt.Errorf("%w: unknown order type %q", ErrValidation, in.OrderType)
	}

	// Cheap path: verify the caller's hint still belongs to this appointment
	// instead of re-querying broadly. A hint for another appointment is a
	// scope conflict; fall through to a fresh lookup rather than trust it.
	if in.HintThreadID != nil {
		t, err := s.threads.GetByID(ctx, *in.HintThreadID)
		if err == nil && t.BelongsTo(in.AppointmentID) {
			return t, false, nil
		}
		s.logger.Debug().
			Str("thread_id", in.HintThreadID.String()).
			Str("appointment_id", in.AppointmentID.String()).
			Msg("thread hint rejected, falling through to lookup")
	}

	var orderType *string
	if in.OrderType != "" {
		orderType = &in.OrderType
	}

	matches, err := s.threads.ListByScope(ctx, in.AppointmentID, orderType, in.CounterPartyID)
	if err != nil {
		return nil, false, fmt.Errorf("lookup threads: %w", err)
	}

	switch {
	case len(matches) == 1:
		return matches[0], false, nil
	case len(matches) > 1:
		// Data anomaly (legacy rows). Pick the exact counter-party match
		// deterministically; with no exact match, fail closed.
		if in.CounterPartyID != nil {
			for _, t := range matches {
				if t.CounterPartyID != nil && *t.CounterPartyID == *in.CounterPartyID {
					return t, false, nil
				}
			}
		}
		return nil, false, ErrNoMatchingThread
	}

	// Zero matches. Creation needs the full scope.
	if in.OrderType == "" || in.CounterPartyID == nil {
		return nil, false, ErrNotFound
	}
	return s.create(ctx, in)
}

// create runs the creation saga. Step 1 (counter-party identity) and step 2
// (thread row) are fatal; every later step degrades to a logged warning
// because a thread without a ticket or welcome message is still usable.
func (s *Service) create(ctx context.Context, in ResolveInput) (*Thread, bool, error) {
	cp, err := s.dir.GetCounterParty(ctx, *in.CounterPartyID)
	if err != nil {
		return nil, false, fmt.Errorf("%w: counter-party %s", ErrNotFound, *in.CounterPartyID)
	}

	t := &Thread{
		AppointmentID:  in.AppointmentID,
		OrderType:      &in.OrderType,
		CounterPartyID: in.CounterPartyID,
		Title:          cp.Name,
		CreatedBy:      in.ActorID,
		Metadata:       map[string]string{},
	}
	if err := s.threads.Create(ctx, t); err != nil {
		if errors.Is(err, ErrDuplicateScope) {
			// Lost the creation race; the winner's row is the canonical thread.
			winner, err := s.resolveRaceWinner(ctx, in)
			return winner, false, err
		}
		return nil, false, fmt.Errorf("insert thread: %w", err)
	}

	var failed []string

	ticket := &Ticket{ThreadID: &t.ID}
	if err := s.threads.CreateTicket(ctx, ticket); err != nil {
		s.warn(err, t.ID, "create ticket")
		failed = append(failed, "ticket")
	} else {
		t.Metadata[MetaTicketID] = ticket.ID.String()
		if err := s.threads.Update(ctx, t); err != nil {
			s.warn(err, t.ID, "store ticket reference")
			failed = append(failed, "ticket-reference")
		}
	}

	if err := s.threads.AddMember(ctx, &Membership{ThreadID: t.ID, UserID: in.ActorID, Role: RoleOwner}); err != nil {
		s.warn(err, t.ID, "add owner membership")
		failed = append(failed, "owner-membership")
	}
	if cp.UserID != nil {
		if err := s.threads.AddMember(ctx, &Membership{ThreadID: t.ID, UserID: *cp.UserID, Role: RoleMember}); err != nil {
			s.warn(err, t.ID, "add counter-party membership")
			failed = append(failed, "counter-party-membership")
		}
	}
	if in.PatientID != nil {
		if err := s.threads.AddMember(ctx, &Membership{ThreadID: t.ID, UserID: *in.PatientID, Role: RoleMember}); err != nil {
			s.warn(err, t.ID, "add patient membership")
			failed = append(failed, "patient-membership")
		}
	}

	if err := s.system.PostSystem(ctx, t.ID, fmt.Sprintf("Conversation with %s started.", cp.Name)); err != nil {
		s.warn(err, t.ID, "post welcome message")
		failed = append(failed, "welcome-message")
	}

	if len(failed) > 0 {
		return t, true, &PartialCreationError{Steps: failed}
	}
	return t, true, nil
}

// resolveRaceWinner re-runs the scope lookup after a duplicate-key loss.
func (s *Service) resolveRaceWinner(ctx context.Context, in ResolveInput) (*Thread, error) {
	matches, err := s.threads.ListByScope(ctx, in.AppointmentID, &in.OrderType, in.CounterPartyID)
	if err != nil {
		return nil, fmt.Errorf("re-resolve after lost race: %w", err)
	}
	if len(matches) == 0 {
		return nil, ErrNotFound
	}
	return matches[0], nil
}

// Reassign swaps the thread's counter-party. The metadata/title update is
// the mandatory step; membership changes, order re-pointing and the system
// message are independent and individually retryable.
func (s *Service) Reassign(ctx context.Context, threadID, newCounterPartyID, actorID uuid.UUID) (*Thread, error) {
	t, err := s.threads.GetByID(ctx, threadID)
	if err != nil {
		return nil, err
	}
	newCP, err := s.dir.GetCounterParty(ctx, newCounterPartyID)
	if err != nil {
		return nil, fmt.Errorf("%w: counter-party %s", ErrNotFound, newCounterPartyID)
	}

	oldCounterPartyID := t.CounterPartyID
	t.CounterPartyID = &newCounterPartyID
	t.Title = newCP.Name
	if err := s.threads.Update(ctx, t); err != nil {
		return nil, fmt.Errorf("update thread: %w", err)
	}

	if oldCounterPartyID != nil {
		if oldCP, err := s.dir.GetCounterParty(ctx, *oldCounterPartyID); err == nil && oldCP.UserID != nil {
			if err := s.threads.RetireMember(ctx, t.ID, *oldCP.UserID); err != nil {
				s.warn(err, t.ID, "retire old counter-party membership")
			}
		}
	}
	if newCP.UserID != nil {
		if err := s.threads.AddMember(ctx, &Membership{ThreadID: t.ID, UserID: *newCP.UserID, Role: RoleMember}); err != nil {
			s.warn(err, t.ID, "add new counter-party membership")
		}
	}

	// Re-point an already-attached order at the new counter-party.
	if t.OrderType != nil && s.orders != nil {
		if raw, ok := t.Metadata[MetadataOrderKey(*t.OrderType)]; ok {
			if orderID, err := uuid.Parse(raw); err == nil {
				if err := s.orders.ReassignCounterParty(ctx, orderID, newCounterPartyID); err != nil {
					s.warn(err, t.ID, "re-point bound order")
				}
			}
		}
	}

	if err := s.system.PostSystem(ctx, t.ID, fmt.Sprintf("Conversation reassigned to %s.", newCP.Name)); err != nil {
		s.warn(err, t.ID, "post reassignment message")
	}

	return t, nil
}

// AttachOrder records the bound order in thread metadata. Called by the
// order service when an order is sent.
func (s *Service) AttachOrder(ctx context.Context, threadID uuid.UUID, orderType string, orderID uuid.UUID) error {
	t, err := s.threads.GetByID(ctx, threadID)
	if err != nil {
		return err
	}
	t.Metadata[MetadataOrderKey(orderType)] = orderID.String()
	return s.threads.Update(ctx, t)
}

// DetachOrder removes the order binding from whichever of the appointment's
// threads still references it. Called by the order service on resend, so the
// declined conversation can no longer cascade into the live order when it is
// deleted later.
func (s *Service) DetachOrder(ctx context.Context, appointmentID uuid.UUID, orderType string, orderID uuid.UUID) error {
	threads, err := s.threads.ListByScope(ctx, appointmentID, &orderType, nil)
	if err != nil {
		return fmt.Errorf("lookup threads: %w", err)
	}
	key := MetadataOrderKey(orderType)
	for _, t := range threads {
		if t.Metadata[key] != orderID.String() {
			continue
		}
		delete(t.Metadata, key)
		if err := s.threads.Update(ctx, t); err != nil {
			return fmt.Errorf("update thread: %w", err)
		}
	}
	return nil
}

// DeleteReport names everything a thread deletion removed, so the UI can
// show one consolidated outcome.
type DeleteReport struct {
	ThreadID        uuid.UUID   `json:"thread_id"`
	DeletedOrders   []uuid.UUID `json:"deleted_orders,omitempty"`
	TicketCancelled bool        `json:"ticket_cancelled"`
	Warnings        []string    `json:"warnings,omitempty"`
}

// Delete removes the conversation everywhere: bound orders (and their
// notifications), the backing ticket, then the thread row with its messages
// and memberships. Removing the thread row is the one step that can fail
// the whole operation.
func (s *Service) Delete(ctx context.Context, threadID, actorID uuid.UUID) (*DeleteReport, error) {
	t, err := s.threads.GetByID(ctx, threadID)
	if err != nil {
		return nil, err
	}

	report := &DeleteReport{ThreadID: t.ID}

	if s.orders != nil {
		deleted, err := s.orders.DeleteByThread(ctx, t)
		if err != nil {
			s.warn(err, t.ID, "delete bound orders")
			report.Warnings = append(report.Warnings, "orders")
		}
		report.DeletedOrders = deleted
	}

	cancelled, err := s.threads.CancelTicket(ctx, t.ID)
	if err != nil {
		s.warn(err, t.ID, "cancel ticket")
		report.Warnings = append(report.Warnings, "ticket")
	}
	report.TicketCancelled = cancelled

	if err := s.threads.Delete(ctx, t.ID); err != nil {
		return nil, fmt.Errorf("delete thread: %w", err)
	}

	s.publish(ctx, eventbus.Event{
		Type:       eventbus.ThreadDeleted,
		Topic:      eventbus.ThreadTopic(t.ID),
		ResourceID: t.ID.String(),
	})

	return report, nil
}

// Get returns a live thread by id.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Thread, error) {
	return s.threads.GetByID(ctx, id)
}

// ListByAppointment returns all live threads of an appointment.
func (s *Service) ListByAppointment(ctx context.Context, appointmentID uuid.UUID) ([]*Thread, error) {
	return s.threads.ListByScope(ctx, appointmentID, nil, nil)
}

func (s *Service) warn(err error, threadID uuid.UUID, step string) {
	s.logger.Warn().Err(err).Str("thread_id", threadID.String()).Msg(step + " failed")
}

func (s *Service) publish(ctx context.Context, ev eventbus.Event) {
	if s.bus == nil {
		return
	}
	if err := s.bus.Publish(ctx, ev); err != nil {
		s.logger.Warn().Err(err).Str("topic", ev.Topic).Msg("publish event failed")
	}
}

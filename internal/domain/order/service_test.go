package order

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/medlink/medlink/internal/domain/directory"
	"github.com/medlink/medlink/internal/domain/thread"
	"github.com/medlink/medlink/internal/platform/eventbus"
	"github.com/medlink/medlink/internal/platform/notification"
)

type mockRepo struct {
	items map[uuid.UUID]*Order
}

func newMockRepo() *mockRepo {
	return &mockRepo{items: make(map[uuid.UUID]*Order)}
}

func (m *mockRepo) Create(_ context.Context, o *Order) error {
	o.ID = uuid.New()
	stored := *o
	m.items[o.ID] = &stored
	return nil
}

func (m *mockRepo) GetByID(_ context.Context, id uuid.UUID) (*Order, error) {
	o, ok := m.items[id]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *o
	return &copied, nil
}

func (m *mockRepo) ListByAppointment(_ context.Context, appointmentID uuid.UUID) ([]*Order, error) {
	var out []*Order
	for _, o := range m.items {
		if o.AppointmentID == appointmentID {
			copied := *o
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (m *mockRepo) Update(_ context.Context, o *Order) error {
	if _, ok := m.items[o.ID]; !ok {
		return ErrNotFound
	}
	stored := *o
	m.items[o.ID] = &stored
	return nil
}

func (m *mockRepo) Delete(_ context.Context, id uuid.UUID) error {
	if _, ok := m.items[id]; !ok {
		return ErrNotFound
	}
	delete(m.items, id)
	return nil
}

// mockThreads fakes the thread resolver: one thread per scope key.
type mockThreads struct {
	threads    map[string]*thread.Thread
	attached   map[uuid.UUID]map[string]string // thread id -> metadata
	partial    bool
	resolveErr error
}

func newMockThreads() *mockThreads {
	return &mockThreads{
		threads:  make(map[string]*thread.Thread),
		attached: make(map[uuid.UUID]map[string]string),
	}
}

func (m *mockThreads) Resolve(_ context.Context, in thread.ResolveInput) (*thread.Thread, bool, error) {
	if m.resolveErr != nil {
		return nil, false, m.resolveErr
	}
	key := fmt.Sprintf("%s/%s/%s", in.AppointmentID, in.OrderType, in.CounterPartyID)
	if t, ok := m.threads[key]; ok {
		return t, false, nil
	}
	orderType := in.OrderType
	t := &thread.Thread{
		ID:             uuid.New(),
		AppointmentID:  in.AppointmentID,
		OrderType:      &orderType,
		CounterPartyID: in.CounterPartyID,
		Metadata:       map[string]string{},
	}
	m.threads[key] = t
	m.attached[t.ID] = t.Metadata
	if m.partial {
		return t, true, &thread.PartialCreationError{Steps: []string{"welcome-message"}}
	}
	return t, true, nil
}

func (m *mockThreads) AttachOrder(_ context.Context, threadID uuid.UUID, orderType string, orderID uuid.UUID) error {
	meta, ok := m.attached[threadID]
	if !ok {
		return thread.ErrNotFound
	}
	meta[thread.MetadataOrderKey(orderType)] = orderID.String()
	return nil
}

func (m *mockThreads) DetachOrder(_ context.Context, appointmentID uuid.UUID, orderType string, orderID uuid.UUID) error {
	key := thread.MetadataOrderKey(orderType)
	for _, t := range m.threads {
		if t.AppointmentID != appointmentID {
			continue
		}
		if t.Metadata[key] == orderID.String() {
			delete(t.Metadata, key)
		}
	}
	return nil
}

type mockPoster struct {
	posts map[uuid.UUID][]string
}

func (m *mockPoster) PostSystem(_ context.Context, threadID uuid.UUID, text string) error {
	m.posts[threadID] = append(m.posts[threadID], text)
	return nil
}

type mockDir struct {
	parties map[uuid.UUID]*directory.CounterParty
}

func (m *mockDir) add(name string, userID *uuid.UUID) uuid.UUID {
	id := uuid.New()
	m.parties[id] = &directory.CounterParty{ID: id, Name: name, Kind: "pharmacy", UserID: userID}
	return id
}

func (m *mockDir) GetCounterParty(_ context.Context, id uuid.UUID) (*directory.CounterParty, error) {
	cp, ok := m.parties[id]
	if !ok {
		return nil, fmt.Errorf("not found")
	}
	return cp, nil
}

type mockBus struct{ events []eventbus.Event }

func (m *mockBus) Publish(_ context.Context, ev eventbus.Event) error {
	m.events = append(m.events, ev)
	return nil
}

type testEnv struct {
	svc           *Service
	repo          *mockRepo
	threads       *mockThreads
	poster        *mockPoster
	dir           *mockDir
	notifications *notification.Store
	bus           *mockBus
}

func newTestEnv() *testEnv {
	repo := newMockRepo()
	threads := newMockThreads()
	poster := &mockPoster{posts: make(map[uuid.UUID][]string)}
	dir := &mockDir{parties: make(map[uuid.UUID]*directory.CounterParty)}
	store := notification.NewStore()
	bus := &mockBus{}
	svc := NewService(repo, threads, poster, dir, store, bus, zerolog.Nop())
	return &testEnv{svc: svc, repo: repo, threads: threads, poster: poster, dir: dir, notifications: store, bus: bus}
}

func (e *testEnv) createPrescription(t *testing.T) *Order {
	t.Helper()
	o, err := e.svc.Create(context.Background(), CreateInput{
		Kind:          KindPrescription,
		AppointmentID: uuid.New(),
		AuthorID:      uuid.New(),
		Items:         []LineItem{{Name: "Amoxicillin 500mg", Quantity: 2}},
	})
	if err != nil {
		t.Fatalf("Create error: %v", err)
	}
	return o
}

func TestCreate_InitialStatusPerKind(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	rx, err := env.svc.Create(ctx, CreateInput{
		Kind: KindPrescription, AppointmentID: uuid.New(), AuthorID: uuid.New(),
		Items: []LineItem{{Name: "Ibuprofen"}},
	})
	if err != nil {
		t.Fatalf("Create prescription error: %v", err)
	}
	if rx.Status != StatusDraft {
		t.Errorf("prescription status = %q, want draft", rx.Status)
	}

	lab, err := env.svc.Create(ctx, CreateInput{
		Kind: KindLabRequest, AppointmentID: uuid.New(), AuthorID: uuid.New(),
		Items: []LineItem{{Name: "CBC panel", Code: "58410-2"}},
	})
	if err != nil {
		t.Fatalf("Create lab request error: %v", err)
	}
	if lab.Status != StatusPending {
		t.Errorf("lab request status = %q, want pending", lab.Status)
	}
}

func TestCreate_Validation(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	appt, author := uuid.New(), uuid.New()

	cases := []struct {
		name string
		in   CreateInput
	}{
		{"bad kind", CreateInput{Kind: "referral", AppointmentID: appt, AuthorID: author, Items: []LineItem{{Name: "x"}}}},
		{"no appointment", CreateInput{Kind: KindPrescription, AuthorID: author, Items: []LineItem{{Name: "x"}}}},
		{"no author", CreateInput{Kind: KindPrescription, AppointmentID: appt, Items: []LineItem{{Name: "x"}}}},
		{"no items", CreateInput{Kind: KindPrescription, AppointmentID: appt, AuthorID: author}},
		{"unnamed item", CreateInput{Kind: KindPrescription, AppointmentID: appt, AuthorID: author, Items: []LineItem{{Quantity: 1}}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := env.svc.Create(ctx, tc.in); !errors.Is(err, ErrValidation) {
				t.Errorf("got %v, want ErrValidation", err)
			}
		})
	}
}

func TestSend_HappyPath(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	cpUser := uuid.New()
	cpID := env.dir.add("City Pharmacy", &cpUser)
	o := env.createPrescription(t)

	result, err := env.svc.Send(ctx, SendInput{
		OrderID: o.ID, CounterPartyID: cpID, ActorID: o.AuthorID,
	})
	if err != nil {
		t.Fatalf("Send error: %v", err)
	}
	if result.Order.Status != StatusSent {
		t.Errorf("status = %q, want sent", result.Order.Status)
	}
	if result.Order.CounterPartyID == nil || *result.Order.CounterPartyID != cpID {
		t.Error("counter-party not written")
	}

	meta := env.threads.attached[result.ThreadID]
	if meta[thread.MetaPrescriptionID] != o.ID.String() {
		t.Error("order id not attached to thread metadata")
	}
	if len(env.poster.posts[result.ThreadID]) != 1 {
		t.Error("summary message not posted")
	}
	if got := env.notifications.ListByUser(ctx, cpUser); len(got) != 1 {
		t.Errorf("got %d counter-party notifications, want 1", len(got))
	}

	if len(env.bus.events) != 1 {
		t.Fatalf("got %d events, want 1", len(env.bus.events))
	}
	ev := env.bus.events[0]
	if ev.Type != eventbus.OrderStatus {
		t.Errorf("event type = %q, want order.status", ev.Type)
	}
	if ev.Topic != eventbus.OrderTopic(o.AppointmentID, cpID) {
		t.Errorf("event topic = %q, want order topic", ev.Topic)
	}
}

func TestSend_AlreadySentConflicts(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	cpID := env.dir.add("City Pharmacy", nil)
	o := env.createPrescription(t)

	if _, err := env.svc.Send(ctx, SendInput{OrderID: o.ID, CounterPartyID: cpID, ActorID: o.AuthorID}); err != nil {
		t.Fatalf("first Send error: %v", err)
	}
	_, err := env.svc.Send(ctx, SendInput{OrderID: o.ID, CounterPartyID: cpID, ActorID: o.AuthorID})
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("second Send got %v, want ErrConflict", err)
	}
	if len(env.bus.events) != 1 {
		t.Errorf("got %d events, want 1; conflicting send must not publish", len(env.bus.events))
	}
}

func TestSend_SurfacesPartialThreadCreation(t *testing.T) {
	env := newTestEnv()
	env.threads.partial = true
	cpID := env.dir.add("City Pharmacy", nil)
	o := env.createPrescription(t)

	result, err := env.svc.Send(context.Background(), SendInput{
		OrderID: o.ID, CounterPartyID: cpID, ActorID: o.AuthorID,
	})
	if err != nil {
		t.Fatalf("Send error: %v", err)
	}
	if len(result.Warnings) == 0 {
		t.Error("degraded thread creation not surfaced in warnings")
	}
	if result.Order.Status != StatusSent {
		t.Error("partial thread creation blocked the send")
	}
}

func TestObserveStatus_ValidChain(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	cpID := env.dir.add("City Pharmacy", nil)
	o := env.createPrescription(t)
	if _, err := env.svc.Send(ctx, SendInput{OrderID: o.ID, CounterPartyID: cpID, ActorID: o.AuthorID}); err != nil {
		t.Fatalf("Send error: %v", err)
	}

	for _, status := range []string{StatusReceived, StatusProcessing, StatusReady, StatusPickedUp, StatusDispensed} {
		updated, err := env.svc.ObserveStatus(ctx, o.ID, status)
		if err != nil {
			t.Fatalf("ObserveStatus(%s) error: %v", status, err)
		}
		if updated.Status != status {
			t.Fatalf("status = %q, want %q", updated.Status, status)
		}
	}

	// One author notification per observed change.
	if got := env.notifications.ListByUser(ctx, o.AuthorID); len(got) != 5 {
		t.Errorf("got %d author notifications, want 5", len(got))
	}
}

func TestObserveStatus_Rejections(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	cpID := env.dir.add("City Pharmacy", nil)
	o := env.createPrescription(t)

	// Not sent yet: nothing to observe.
	if _, err := env.svc.ObserveStatus(ctx, o.ID, StatusReceived); !errors.Is(err, ErrConflict) {
		t.Errorf("observe on draft got %v, want ErrConflict", err)
	}

	if _, err := env.svc.Send(ctx, SendInput{OrderID: o.ID, CounterPartyID: cpID, ActorID: o.AuthorID}); err != nil {
		t.Fatalf("Send error: %v", err)
	}

	if _, err := env.svc.ObserveStatus(ctx, o.ID, StatusSent); !errors.Is(err, ErrValidation) {
		t.Errorf("observed sent got %v, want ErrValidation", err)
	}
	if _, err := env.svc.ObserveStatus(ctx, o.ID, "on_hold"); !errors.Is(err, ErrValidation) {
		t.Errorf("unknown status got %v, want ErrValidation", err)
	}
	if _, err := env.svc.ObserveStatus(ctx, o.ID, StatusDispensed); !errors.Is(err, ErrConflict) {
		t.Errorf("skipped chain got %v, want ErrConflict", err)
	}
}

func TestResend_DeclinedThenNewCounterParty(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	pharmacyP := env.dir.add("Pharmacy P", nil)
	pharmacyQ := env.dir.add("Pharmacy Q", nil)
	o := env.createPrescription(t)
	originalItems := o.Items

	// Send to P, P declines.
	if _, err := env.svc.Send(ctx, SendInput{OrderID: o.ID, CounterPartyID: pharmacyP, ActorID: o.AuthorID}); err != nil {
		t.Fatalf("Send to P error: %v", err)
	}
	if _, err := env.svc.ObserveStatus(ctx, o.ID, StatusDeclined); err != nil {
		t.Fatalf("decline error: %v", err)
	}

	// Resend clears the binding and returns to draft.
	cleared, err := env.svc.Resend(ctx, o.ID, o.AuthorID)
	if err != nil {
		t.Fatalf("Resend error: %v", err)
	}
	if cleared.ID != o.ID {
		t.Error("resend changed the order id")
	}
	if cleared.Status != StatusDraft {
		t.Errorf("status = %q, want draft", cleared.Status)
	}
	if cleared.CounterPartyID != nil {
		t.Error("counter-party binding survived resend")
	}
	if len(cleared.Items) != len(originalItems) || cleared.Items[0].Name != originalItems[0].Name {
		t.Error("line items changed across resend")
	}

	// Send to Q succeeds with the same order.
	result, err := env.svc.Send(ctx, SendInput{OrderID: o.ID, CounterPartyID: pharmacyQ, ActorID: o.AuthorID})
	if err != nil {
		t.Fatalf("Send to Q error: %v", err)
	}
	if *result.Order.CounterPartyID != pharmacyQ {
		t.Error("order not bound to pharmacy Q")
	}

	// A second decline/resend cycle behaves identically.
	if _, err := env.svc.ObserveStatus(ctx, o.ID, StatusDeclined); err != nil {
		t.Fatalf("second decline error: %v", err)
	}
	again, err := env.svc.Resend(ctx, o.ID, o.AuthorID)
	if err != nil {
		t.Fatalf("second Resend error: %v", err)
	}
	if again.ID != o.ID || again.Status != StatusDraft || again.CounterPartyID != nil {
		t.Error("second resend cycle diverged from the first")
	}
}

func TestResend_ReleasesDeclinedThreadBinding(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	pharmacyP := env.dir.add("Pharmacy P", nil)
	pharmacyQ := env.dir.add("Pharmacy Q", nil)
	o := env.createPrescription(t)

	sentToP, err := env.svc.Send(ctx, SendInput{OrderID: o.ID, CounterPartyID: pharmacyP, ActorID: o.AuthorID})
	if err != nil {
		t.Fatalf("Send to P error: %v", err)
	}
	if _, err := env.svc.ObserveStatus(ctx, o.ID, StatusDeclined); err != nil {
		t.Fatalf("decline error: %v", err)
	}
	if _, err := env.svc.Resend(ctx, o.ID, o.AuthorID); err != nil {
		t.Fatalf("Resend error: %v", err)
	}

	// The declined conversation no longer claims the order.
	oldMeta := env.threads.attached[sentToP.ThreadID]
	if _, ok := oldMeta[thread.MetaPrescriptionID]; ok {
		t.Error("declined thread still references the order after resend")
	}

	sentToQ, err := env.svc.Send(ctx, SendInput{OrderID: o.ID, CounterPartyID: pharmacyQ, ActorID: o.AuthorID})
	if err != nil {
		t.Fatalf("Send to Q error: %v", err)
	}
	if sentToQ.ThreadID == sentToP.ThreadID {
		t.Fatal("new send reused the declined conversation")
	}
	if env.threads.attached[sentToQ.ThreadID][thread.MetaPrescriptionID] != o.ID.String() {
		t.Error("order not bound to the new conversation")
	}

	// Deleting the dead P conversation must not cascade into the live order.
	deleted, err := env.svc.DeleteByThread(ctx, &thread.Thread{ID: sentToP.ThreadID, Metadata: oldMeta})
	if err != nil {
		t.Fatalf("DeleteByThread error: %v", err)
	}
	if len(deleted) != 0 {
		t.Errorf("deleting the declined thread removed orders %v", deleted)
	}
	got, err := env.svc.Get(ctx, o.ID)
	if err != nil {
		t.Fatalf("order deleted through the declined thread: %v", err)
	}
	if got.CounterPartyID == nil || *got.CounterPartyID != pharmacyQ {
		t.Error("surviving order lost its new counter-party")
	}
}

func TestResend_OnlyFromDeclined(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	cpID := env.dir.add("City Pharmacy", nil)
	o := env.createPrescription(t)

	if _, err := env.svc.Resend(ctx, o.ID, o.AuthorID); !errors.Is(err, ErrConflict) {
		t.Errorf("resend on draft got %v, want ErrConflict", err)
	}
	if _, err := env.svc.Send(ctx, SendInput{OrderID: o.ID, CounterPartyID: cpID, ActorID: o.AuthorID}); err != nil {
		t.Fatalf("Send error: %v", err)
	}
	if _, err := env.svc.Resend(ctx, o.ID, o.AuthorID); !errors.Is(err, ErrConflict) {
		t.Errorf("resend on sent got %v, want ErrConflict", err)
	}
}

func TestDelete_RemovesNotifications(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	cpUser := uuid.New()
	cpID := env.dir.add("City Pharmacy", &cpUser)
	o := env.createPrescription(t)
	if _, err := env.svc.Send(ctx, SendInput{OrderID: o.ID, CounterPartyID: cpID, ActorID: o.AuthorID}); err != nil {
		t.Fatalf("Send error: %v", err)
	}
	if env.notifications.Count() == 0 {
		t.Fatal("expected a notification before delete")
	}

	if err := env.svc.Delete(ctx, o.ID); err != nil {
		t.Fatalf("Delete error: %v", err)
	}
	if _, err := env.svc.Get(ctx, o.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("order still fetchable: %v", err)
	}
	if env.notifications.Count() != 0 {
		t.Error("notifications survived order deletion")
	}
}

func TestDeleteByThread_CollectsBoundOrders(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	cpID := env.dir.add("City Pharmacy", nil)
	o := env.createPrescription(t)
	result, err := env.svc.Send(ctx, SendInput{OrderID: o.ID, CounterPartyID: cpID, ActorID: o.AuthorID})
	if err != nil {
		t.Fatalf("Send error: %v", err)
	}

	th := &thread.Thread{
		ID:       result.ThreadID,
		Metadata: env.threads.attached[result.ThreadID],
	}
	deleted, err := env.svc.DeleteByThread(ctx, th)
	if err != nil {
		t.Fatalf("DeleteByThread error: %v", err)
	}
	if len(deleted) != 1 || deleted[0] != o.ID {
		t.Errorf("deleted = %v, want [%s]", deleted, o.ID)
	}
	if _, err := env.svc.Get(ctx, o.ID); !errors.Is(err, ErrNotFound) {
		t.Error("bound order survived thread cascade")
	}

	// Idempotent: a second cascade on the same metadata finds nothing.
	deleted, err = env.svc.DeleteByThread(ctx, th)
	if err != nil {
		t.Fatalf("second DeleteByThread error: %v", err)
	}
	if len(deleted) != 0 {
		t.Errorf("second cascade deleted %v, want nothing", deleted)
	}
}

func TestReassignCounterParty(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	oldCP := env.dir.add("Pharmacy P", nil)
	newCP := env.dir.add("Pharmacy Q", nil)
	o := env.createPrescription(t)
	if _, err := env.svc.Send(ctx, SendInput{OrderID: o.ID, CounterPartyID: oldCP, ActorID: o.AuthorID}); err != nil {
		t.Fatalf("Send error: %v", err)
	}

	if err := env.svc.ReassignCounterParty(ctx, o.ID, newCP); err != nil {
		t.Fatalf("ReassignCounterParty error: %v", err)
	}
	got, err := env.svc.Get(ctx, o.ID)
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if got.CounterPartyID == nil || *got.CounterPartyID != newCP {
		t.Error("counter-party not re-pointed")
	}
	if got.Status != StatusSent {
		t.Errorf("status = %q, reassignment must not change status", got.Status)
	}
}

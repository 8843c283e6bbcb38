package thread

import (
	"context"

	"github.com/google/uuid"
)

// Repository persists threads, memberships and backing tickets. ListByScope
// only ever returns non-deleted threads; a nil orderType or counterPartyID
// widens the scope.
type Repository interface {
	Create(ctx context.Context, t *Thread) error // ErrDuplicateScope on a lost creation race
	GetByID(ctx context.Context, id uuid.UUID) (*Thread, error)
	ListByScope(ctx context.Context, appointmentID uuid.UUID, orderType *string, counterPartyID *uuid.UUID) ([]*Thread, error)
	Update(ctx context.Context, t *Thread) error
	Delete(ctx context.Context, id uuid.UUID) error // cascades to messages and memberships

	AddMember(ctx context.Context, m *Membership) error
	RetireMember(ctx context.Context, threadID, userID uuid.UUID) error // sets left_at
	ListMembers(ctx context.Context, threadID uuid.UUID) ([]*Membership, error)

	CreateTicket(ctx context.Context, tk *Ticket) error
	CancelTicket(ctx context.Context, threadID uuid.UUID) (bool, error)
}

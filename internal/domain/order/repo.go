package order

import (
	"context"

	"github.com/google/uuid"
)

// Repository persists clinical orders. Line items ride along as a jsonb
// document; they are immutable after creation.
type Repository interface {
	Create(ctx context.Context, o *Order) error
	GetByID(ctx context.Context, id uuid.UUID) (*Order, error)
	ListByAppointment(ctx context.Context, appointmentID uuid.UUID) ([]*Order, error)
	Update(ctx context.Context, o *Order) error
	Delete(ctx context.Context, id uuid.UUID) error
}

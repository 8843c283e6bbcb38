package directory

import (
	"context"

	"github.com/google/uuid"
)

type CounterPartyRepository interface {
	Create(ctx context.Context, cp *CounterParty) error
	GetByID(ctx context.Context, id uuid.UUID) (*CounterParty, error)
	GetByUser(ctx context.Context, userID uuid.UUID) (*CounterParty, error)
	Update(ctx context.Context, cp *CounterParty) error
	List(ctx context.Context, kind string, limit, offset int) ([]*CounterParty, int, error)
}

type PractitionerRepository interface {
	Create(ctx context.Context, p *Practitioner) error
	GetByUser(ctx context.Context, userID uuid.UUID) (*Practitioner, error)
	List(ctx context.Context, limit, offset int) ([]*Practitioner, int, error)
}

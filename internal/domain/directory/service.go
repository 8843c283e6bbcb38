package directory

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

var validKinds = map[string]bool{
	"pharmacy":   true,
	"laboratory": true,
}

type Service struct {
	counterParties CounterPartyRepository
	practitioners  PractitionerRepository
}

func NewService(counterParties CounterPartyRepository, practitioners PractitionerRepository) *Service {
	return &Service{
		counterParties: counterParties,
		practitioners:  practitioners,
	}
}

// -- Counter-Party --

func (s *Service) CreateCounterParty(ctx context.Context, cp *CounterParty) error {
	if cp.Name == "" {
		return fmt.Errorf("name is required")
	}
	if !validKinds[cp.Kind] {
		return fmt.Errorf("invalid kind: %s", cp.Kind)
	}
	cp.IsActive = true
	return s.counterParties.Create(ctx, cp)
}

func (s *Service) GetCounterParty(ctx context.Context, id uuid.UUID) (*CounterParty, error) {
	return s.counterParties.GetByID(ctx, id)
}

func (s *Service) UpdateCounterParty(ctx context.Context, cp *CounterParty) error {
	if cp.Kind != "" && !validKinds[cp.Kind] {
		return fmt.Errorf("invalid kind: %s", cp.Kind)
	}
	return s.counterParties.Update(ctx, cp)
}

func (s *Service) ListCounterParties(ctx context.Context, kind string, limit, offset int) ([]*CounterParty, int, error) {
	if kind != "" && !validKinds[kind] {
		return nil, 0, fmt.Errorf("invalid kind: %s", kind)
	}
	return s.counterParties.List(ctx, kind, limit, offset)
}

// -- Practitioner --

func (s *Service) CreatePractitioner(ctx context.Context, p *Practitioner) error {
	if p.UserID == uuid.Nil {
		return fmt.Errorf("user_id is required")
	}
	if p.DisplayName == "" {
		return fmt.Errorf("display_name is required")
	}
	return s.practitioners.Create(ctx, p)
}

func (s *Service) ListPractitioners(ctx context.Context, limit, offset int) ([]*Practitioner, int, error) {
	return s.practitioners.List(ctx, limit, offset)
}

// DisplayName resolves a user id to something presentable: practitioner
// profile first, then a counter-party account, then a truncated id so the
// caller always gets a usable label.
func (s *Service) DisplayName(ctx context.Context, userID uuid.UUID) string {
	if p, err := s.practitioners.GetByUser(ctx, userID); err == nil && p.DisplayName != "" {
		return p.DisplayName
	}
	if cp, err := s.counterParties.GetByUser(ctx, userID); err == nil && cp.Name != "" {
		return cp.Name
	}
	return "user " + userID.String()[:8]
}

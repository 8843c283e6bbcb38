package directory

import (
	"time"

	"github.com/google/uuid"
)

// CounterParty is a pharmacy or laboratory that clinical orders are directed
// to. UserID is set when the counter-party has a login of its own and can
// join conversation threads.
type CounterParty struct {
	ID        uuid.UUID  `db:"id" json:"id"`
	Name      string     `db:"name" json:"name"`
	Kind      string     `db:"kind" json:"kind"` // pharmacy | laboratory
	UserID    *uuid.UUID `db:"user_id" json:"user_id,omitempty"`
	Address   *string    `db:"address" json:"address,omitempty"`
	Phone     *string    `db:"phone" json:"phone,omitempty"`
	IsActive  bool       `db:"is_active" json:"is_active"`
	CreatedAt time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt time.Time  `db:"updated_at" json:"updated_at"`
}

// Practitioner is a clinician profile used for sender display identity.
type Practitioner struct {
	ID          uuid.UUID `db:"id" json:"id"`
	UserID      uuid.UUID `db:"user_id" json:"user_id"`
	DisplayName string    `db:"display_name" json:"display_name"`
	Specialty   *string   `db:"specialty" json:"specialty,omitempty"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`
}

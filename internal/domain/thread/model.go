package thread

import (
	"time"

	"github.com/google/uuid"
)

// Order types a thread can be scoped to.
const (
	OrderTypePrescription = "prescription"
	OrderTypeLabRequest   = "lab_request"
)

// Metadata keys. A thread carries at most one active order reference plus an
// optional backing ticket.
const (
	MetaPrescriptionID = "prescription_id"
	MetaLabRequestID   = "lab_request_id"
	MetaTicketID       = "ticket_id"
)

// MetadataOrderKey returns the metadata key holding the bound order id for
// the given order type.
func MetadataOrderKey(orderType string) string {
	if orderType == OrderTypeLabRequest {
		return MetaLabRequestID
	}
	return MetaPrescriptionID
}

// Thread is a conversation scoped to one appointment and one counter-party.
// At most one non-deleted thread exists per (appointment, order type,
// counter-party) tuple.
type Thread struct {
	ID             uuid.UUID         `db:"id" json:"id"`
	AppointmentID  uuid.UUID         `db:"appointment_id" json:"appointment_id"`
	OrderType      *string           `db:"order_type" json:"order_type,omitempty"`
	CounterPartyID *uuid.UUID        `db:"counter_party_id" json:"counter_party_id,omitempty"`
	Title          string            `db:"title" json:"title"`
	CreatedBy      uuid.UUID         `db:"created_by" json:"created_by"`
	Metadata       map[string]string `db:"metadata" json:"metadata"`
	CreatedAt      time.Time         `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time         `db:"updated_at" json:"updated_at"`
	DeletedAt      *time.Time        `db:"deleted_at" json:"deleted_at,omitempty"`
}

// BelongsTo reports whether the thread is a live thread of the appointment.
func (t *Thread) BelongsTo(appointmentID uuid.UUID) bool {
	return t.DeletedAt == nil && t.AppointmentID == appointmentID
}

// Membership roles.
const (
	RoleOwner  = "owner"
	RoleAdmin  = "admin"
	RoleMember = "member"
)

// Membership links a user to a thread. LeftAt marks a logically removed
// member whose history is preserved.
type Membership struct {
	ID       uuid.UUID  `db:"id" json:"id"`
	ThreadID uuid.UUID  `db:"thread_id" json:"thread_id"`
	UserID   uuid.UUID  `db:"user_id" json:"user_id"`
	Role     string     `db:"role" json:"role"`
	JoinedAt time.Time  `db:"joined_at" json:"joined_at"`
	LeftAt   *time.Time `db:"left_at" json:"left_at,omitempty"`
}

// Ticket statuses.
const (
	TicketOpen      = "open"
	TicketCancelled = "cancelled"
)

// Ticket is the legacy backing record created alongside a thread. A thread
// without a ticket is still a valid thread.
type Ticket struct {
	ID        uuid.UUID  `db:"id" json:"id"`
	ThreadID  *uuid.UUID `db:"thread_id" json:"thread_id,omitempty"`
	Status    string     `db:"status" json:"status"`
	CreatedAt time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt time.Time  `db:"updated_at" json:"updated_at"`
}

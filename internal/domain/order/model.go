package order

import (
	"time"

	"github.com/google/uuid"
)

// Order kinds.
const (
	KindPrescription = "prescription"
	KindLabRequest   = "lab_request"
)

// Prescription statuses.
const (
	StatusDraft     = "draft"
	StatusSent      = "sent"
	StatusReceived  = "received"
	StatusReady     = "ready"
	StatusPickedUp  = "picked_up"
	StatusDelivered = "delivered"
	StatusDispensed = "dispensed"
	StatusDeclined  = "declined"
	StatusExpired   = "expired"
)

// Lab request statuses.
const (
	StatusPending         = "pending"
	StatusSentToLab       = "sent_to_lab"
	StatusSampleCollected = "sample_collected"
	StatusResultsReady    = "results_ready"
	StatusCompleted       = "completed"
	StatusDenied          = "denied"
)

// Shared statuses.
const (
	StatusProcessing = "processing"
	StatusCancelled  = "cancelled"
)

// LineItem is one prescribed medication or requested test. Stored as jsonb
// on the order row; items never change after creation, a correction is a new
// order.
type LineItem struct {
	Name         string `json:"name"`
	Code         string `json:"code,omitempty"`
	Quantity     int    `json:"quantity,omitempty"`
	Instructions string `json:"instructions,omitempty"`
}

// Order is a clinical order (prescription or lab request) authored during an
// appointment. SubjectID points at a family member when the order is not for
// the patient themselves.
type Order struct {
	ID             uuid.UUID  `db:"id" json:"id"`
	Kind           string     `db:"kind" json:"kind"`
	AppointmentID  uuid.UUID  `db:"appointment_id" json:"appointment_id"`
	AuthorID       uuid.UUID  `db:"author_id" json:"author_id"`
	CounterPartyID *uuid.UUID `db:"counter_party_id" json:"counter_party_id,omitempty"`
	SubjectID      *uuid.UUID `db:"subject_id" json:"subject_id,omitempty"`
	Status         string     `db:"status" json:"status"`
	Items          []LineItem `db:"items" json:"items"`
	CreatedAt      time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time  `db:"updated_at" json:"updated_at"`
}

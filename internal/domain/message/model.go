package message

import (
	"time"

	"github.com/google/uuid"
)

// Message types.
const (
	TypeText   = "text"
	TypeFile   = "file"
	TypeSystem = "system"
)

// SystemSender is the sender id stamped on system messages.
var SystemSender = uuid.Nil

// Message is one entry in a thread. Deleted messages keep their row with
// content cleared so ordering and counts stay stable for every viewer.
type Message struct {
	ID          uuid.UUID     `db:"id" json:"id"`
	ThreadID    uuid.UUID     `db:"thread_id" json:"thread_id"`
	SenderID    uuid.UUID     `db:"sender_id" json:"sender_id"`
	Content     *string       `db:"content" json:"content,omitempty"`
	Type        string        `db:"type" json:"type"`
	IsDeleted   bool          `db:"is_deleted" json:"is_deleted"`
	CreatedAt   time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time     `db:"updated_at" json:"updated_at"`
	Attachments []*Attachment `json:"attachments,omitempty"`
}

// Attachment is a file carried by a message. The bytes live in blob storage
// under StorageKey; only metadata is kept here.
type Attachment struct {
	ID         uuid.UUID `db:"id" json:"id"`
	MessageID  uuid.UUID `db:"message_id" json:"message_id"`
	FileName   string    `db:"file_name" json:"file_name"`
	MimeType   string    `db:"mime_type" json:"mime_type"`
	SizeBytes  int64     `db:"size_bytes" json:"size_bytes"`
	StorageKey string    `db:"storage_key" json:"storage_key"`
	URL        string    `db:"url" json:"url"`
}

// View is a message hydrated for display.
type View struct {
	Message
	SenderName string `json:"sender_name"`
}

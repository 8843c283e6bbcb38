package message

import (
	"context"

	"github.com/google/uuid"
)

// Repository persists messages and their attachments. ListByThread returns
// rows ordered by (created_at, id), the canonical thread order.
type Repository interface {
	Create(ctx context.Context, m *Message) error
	GetByID(ctx context.Context, id uuid.UUID) (*Message, error)
	ListByThread(ctx context.Context, threadID uuid.UUID) ([]*Message, error)
	SoftDelete(ctx context.Context, id uuid.UUID) error // clears content, drops attachments, keeps the row
}

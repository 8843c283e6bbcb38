package message

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/medlink/medlink/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

func (r *repoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const messageCols = `id, thread_id, sender_id, content, type, is_deleted, created_at, updated_at`

func (r *repoPG) Create(ctx context.Context, m *Message) error {
	m.ID = uuid.New()
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO message (id, thread_id, sender_id, content, type)
		VALUES ($1,$2,$3,$4,$5)
		RETURNING created_at, updated_at`,
		m.ID, m.ThreadID, m.SenderID, m.Content, m.Type).
		Scan(&m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return err
	}

	for _, a := range m.Attachments {
		a.ID = uuid.New()
		a.MessageID = m.ID
		_, err := r.conn(ctx).Exec(ctx, `
			INSERT INTO attachment (id, message_id, file_name, mime_type, size_bytes, storage_key, url)
			VALUES ($1,$2,$3,$4,$5,$6,$7)`,
			a.ID, a.MessageID, a.FileName, a.MimeType, a.SizeBytes, a.StorageKey, a.URL)
		if err != nil {
			return err
		}
	}
	return nil
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Message, error) {
	var m Message
	err := r.conn(ctx).QueryRow(ctx,
		`SELECT `+messageCols+` FROM message WHERE id = $1`, id).
		Scan(&m.ID, &m.ThreadID, &m.SenderID, &m.Content, &m.Type, &m.IsDeleted, &m.CreatedAt, &m.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	attachments, err := r.attachmentsFor(ctx, []uuid.UUID{m.ID})
	if err != nil {
		return nil, err
	}
	m.Attachments = attachments[m.ID]
	return &m, nil
}

func (r *repoPG) ListByThread(ctx context.Context, threadID uuid.UUID) ([]*Message, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+messageCols+` FROM message WHERE thread_id = $1 ORDER BY created_at, id`, threadID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []*Message
	var ids []uuid.UUID
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.ThreadID, &m.SenderID, &m.Content, &m.Type, &m.IsDeleted, &m.CreatedAt, &m.UpdatedAt); err != nil {
			return nil, err
		}
		items = append(items, &m)
		ids = append(ids, m.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(ids) > 0 {
		attachments, err := r.attachmentsFor(ctx, ids)
		if err != nil {
			return nil, err
		}
		for _, m := range items {
			m.Attachments = attachments[m.ID]
		}
	}
	return items, nil
}

func (r *repoPG) attachmentsFor(ctx context.Context, messageIDs []uuid.UUID) (map[uuid.UUID][]*Attachment, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, message_id, file_name, mime_type, size_bytes, storage_key, url
		FROM attachment WHERE message_id = ANY($1) ORDER BY id`, messageIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make(map[uuid.UUID][]*Attachment)
	for rows.Next() {
		var a Attachment
		if err := rows.Scan(&a.ID, &a.MessageID, &a.FileName, &a.MimeType, &a.SizeBytes, &a.StorageKey, &a.URL); err != nil {
			return nil, err
		}
		result[a.MessageID] = append(result[a.MessageID], &a)
	}
	return result, rows.Err()
}

func (r *repoPG) SoftDelete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE message SET content = NULL, is_deleted = TRUE, updated_at = NOW()
		WHERE id = $1 AND is_deleted = FALSE`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	_, err = r.conn(ctx).Exec(ctx, `DELETE FROM attachment WHERE message_id = $1`, id)
	return err
}

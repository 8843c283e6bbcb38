package thread

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

const threadCols = `id, appointment_id, order_type, counter_party_id, title, created_by,
	metadata, created_at, updated_at, deleted_at`

func (r *repoPG) scanThread(row pgx.Row) (*Thread, error) {
	var t Thread
	err := row.Scan(&t.ID, &t.AppointmentID, &t.OrderType, &t.CounterPartyID, &t.Title,
		&t.CreatedBy, &t.Metadata, &t.CreatedAt, &t.UpdatedAt, &t.DeletedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if t.Metadata == nil {
		t.Metadata = map[string]string{}
	}
	return &t, err
}

func (r *repoPG) Create(ctx context.Context, t *Thread) error {
	t.ID = uuid.New()
	if t.Metadata == nil {
		t.Metadata = map[string]string{}
	}
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO thread (id, appointment_id, order_type, counter_party_id, title, created_by, metadata)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		t.ID, t.AppointmentID, t.OrderType, t.CounterPartyID, t.Title, t.CreatedBy, t.Metadata)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrDuplicateScope
	}
	return err
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Thread, error) {
	return r.scanThread(r.conn(ctx).QueryRow(ctx,
		`SELECT `+threadCols+` FROM thread WHERE id = $1 AND deleted_at IS NULL`, id))
}

func (r *repoPG) ListByScope(ctx context.Context, appointmentID uuid.UUID, orderType *string, counterPartyID *uuid.UUID) ([]*Thread, error) {
	query := `SELECT ` + threadCols + ` FROM thread WHERE appointment_id = $1 AND deleted_at IS NULL`
	args := []interface{}{appointmentID}
	if orderType != nil {
		args = append(args, *orderType)
		query += ` AND order_type = $2`
	}
	if counterPartyID != nil {
		args = append(args, *counterPartyID)
		if orderType != nil {
			query += ` AND counter_party_id = $3`
		} else {
			query += ` AND counter_party_id = $2`
		}
	}
	query += ` ORDER BY created_at, id`

	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []*Thread
	for rows.Next() {
		t, err := r.scanThread(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, t)
	}
	return items, rows.Err()
}

func (r *repoPG) Update(ctx context.Context, t *Thread) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE thread SET order_type=$2, counter_party_id=$3, title=$4, metadata=$5, updated_at=NOW()
		WHERE id = $1 AND deleted_at IS NULL`,
		t.ID, t.OrderType, t.CounterPartyID, t.Title, t.Metadata)
	return err
}

// Delete removes the thread row; messages, attachments and memberships go
// with it through ON DELETE CASCADE.
func (r *repoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM thread WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *repoPG) AddMember(ctx context.Context, m *Membership) error {
	m.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO thread_member (id, thread_id, user_id, role)
		VALUES ($1,$2,$3,$4)
		ON CONFLICT (thread_id, user_id) DO UPDATE SET left_at = NULL, role = EXCLUDED.role`,
		m.ID, m.ThreadID, m.UserID, m.Role)
	return err
}

func (r *repoPG) RetireMember(ctx context.Context, threadID, userID uuid.UUID) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE thread_member SET left_at = NOW()
		WHERE thread_id = $1 AND user_id = $2 AND left_at IS NULL`,
		threadID, userID)
	return err
}

func (r *repoPG) ListMembers(ctx context.Context, threadID uuid.UUID) ([]*Membership, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, thread_id, user_id, role, joined_at, left_at
		FROM thread_member WHERE thread_id = $1 ORDER BY joined_at`, threadID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []*Membership
	for rows.Next() {
		var m Membership
		if err := rows.Scan(&m.ID, &m.ThreadID, &m.UserID, &m.Role, &m.JoinedAt, &m.LeftAt); err != nil {
			return nil, err
		}
		items = append(items, &m)
	}
	return items, rows.Err()
}

func (r *repoPG) CreateTicket(ctx context.Context, tk *Ticket) error {
	tk.ID = uuid.New()
	tk.Status = TicketOpen
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO ticket (id, thread_id, status) VALUES ($1,$2,$3)`,
		tk.ID, tk.ThreadID, tk.Status)
	return err
}

func (r *repoPG) CancelTicket(ctx context.Context, threadID uuid.UUID) (bool, error) {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE ticket SET status=$2, updated_at=NOW()
		WHERE thread_id = $1 AND status <> $2`,
		threadID, TicketCancelled)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

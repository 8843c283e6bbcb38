package directory

import (
	"context"

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

// =========== Counter-Party Repository ===========

type counterPartyRepoPG struct{ pool *pgxpool.Pool }

func NewCounterPartyRepoPG(pool *pgxpool.Pool) CounterPartyRepository {
	return &counterPartyRepoPG{pool: pool}
}

func (r *counterPartyRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const counterPartyCols = `id, name, kind, user_id, address, phone, is_active, created_at, updated_at`

func (r *counterPartyRepoPG) scan(row pgx.Row) (*CounterParty, error) {
	var cp CounterParty
	err := row.Scan(&cp.ID, &cp.Name, &cp.Kind, &cp.UserID, &cp.Address,
		&cp.Phone, &cp.IsActive, &cp.CreatedAt, &cp.UpdatedAt)
	return &cp, err
}

func (r *counterPartyRepoPG) Create(ctx context.Context, cp *CounterParty) error {
	cp.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO counter_party (id, name, kind, user_id, address, phone, is_active)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		cp.ID, cp.Name, cp.Kind, cp.UserID, cp.Address, cp.Phone, cp.IsActive)
	return err
}

func (r *counterPartyRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*CounterParty, error) {
	return r.scan(r.conn(ctx).QueryRow(ctx,
		`SELECT `+counterPartyCols+` FROM counter_party WHERE id = $1`, id))
}

func (r *counterPartyRepoPG) GetByUser(ctx context.Context, userID uuid.UUID) (*CounterParty, error) {
	return r.scan(r.conn(ctx).QueryRow(ctx,
		`SELECT `+counterPartyCols+` FROM counter_party WHERE user_id = $1`, userID))
}

func (r *counterPartyRepoPG) Update(ctx context.Context, cp *CounterParty) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE counter_party SET name=$2, kind=$3, user_id=$4, address=$5, phone=$6,
			is_active=$7, updated_at=NOW()
		WHERE id = $1`,
		cp.ID, cp.Name, cp.Kind, cp.UserID, cp.Address, cp.Phone, cp.IsActive)
	return err
}

func (r *counterPartyRepoPG) List(ctx context.Context, kind string, limit, offset int) ([]*CounterParty, int, error) {
	where := ``
	args := []interface{}{limit, offset}
	if kind != "" {
		where = ` WHERE kind = $3`
		args = append(args, kind)
	}

	var total int
	countArgs := []interface{}{}
	countWhere := ``
	if kind != "" {
		countWhere = ` WHERE kind = $1`
		countArgs = append(countArgs, kind)
	}
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM counter_party`+countWhere, countArgs...).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+counterPartyCols+` FROM counter_party`+where+` ORDER BY name LIMIT $1 OFFSET $2`, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var items []*CounterParty
	for rows.Next() {
		cp, err := r.scan(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, cp)
	}
	return items, total, rows.Err()
}

// =========== Practitioner Repository ===========

type practitionerRepoPG struct{ pool *pgxpool.Pool }

func NewPractitionerRepoPG(pool *pgxpool.Pool) PractitionerRepository {
	return &practitionerRepoPG{pool: pool}
}

func (r *practitionerRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const practitionerCols = `id, user_id, display_name, specialty, created_at, updated_at`

func (r *practitionerRepoPG) scan(row pgx.Row) (*Practitioner, error) {
	var p Practitioner
	err := row.Scan(&p.ID, &p.UserID, &p.DisplayName, &p.Specialty, &p.CreatedAt, &p.UpdatedAt)
	return &p, err
}

func (r *practitionerRepoPG) Create(ctx context.Context, p *Practitioner) error {
	p.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO practitioner (id, user_id, display_name, specialty)
		VALUES ($1,$2,$3,$4)`,
		p.ID, p.UserID, p.DisplayName, p.Specialty)
	return err
}

func (r *practitionerRepoPG) GetByUser(ctx context.Context, userID uuid.UUID) (*Practitioner, error) {
	return r.scan(r.conn(ctx).QueryRow(ctx,
		`SELECT `+practitionerCols+` FROM practitioner WHERE user_id = $1`, userID))
}

func (r *practitionerRepoPG) List(ctx context.Context, limit, offset int) ([]*Practitioner, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM practitioner`).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+practitionerCols+` FROM practitioner ORDER BY display_name LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var items []*Practitioner
	for rows.Next() {
		p, err := r.scan(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, p)
	}
	return items, total, rows.Err()
}

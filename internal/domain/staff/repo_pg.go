package staff

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/periop/periop/internal/platform/apperr"
	"github.com/periop/periop/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository { return &repoPG{pool: pool} }

func (r *repoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const staffCols = `id, name, role, department, created_at, updated_at`

func scanStaff(row pgx.Row) (*StaffMember, error) {
	var m StaffMember
	if err := row.Scan(&m.ID, &m.Name, &m.Role, &m.Department, &m.CreatedAt, &m.UpdatedAt); err != nil {
		return nil, err
	}
	return &m, nil
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*StaffMember, error) {
	m, err := scanStaff(r.conn(ctx).QueryRow(ctx, `SELECT `+staffCols+` FROM staff_member WHERE id = $1`, id))
	if err != nil {
		return nil, apperr.FromStore(err)
	}
	return m, nil
}

func (r *repoPG) GetMany(ctx context.Context, ids []uuid.UUID) ([]*StaffMember, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+staffCols+` FROM staff_member WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, apperr.FromStore(err)
	}
	defer rows.Close()
	var items []*StaffMember
	for rows.Next() {
		m, err := scanStaff(rows)
		if err != nil {
			return nil, apperr.FromStore(err)
		}
		items = append(items, m)
	}
	return items, apperr.FromStore(rows.Err())
}

func (r *repoPG) List(ctx context.Context, f Filter, limit, offset int) ([]*StaffMember, int, error) {
	var where []string
	var args []interface{}
	if f.Role != "" {
		args = append(args, string(f.Role))
		where = append(where, fmt.Sprintf("role = $%d", len(args)))
	}
	if f.Department != "" {
		args = append(args, f.Department)
		where = append(where, fmt.Sprintf("department = $%d", len(args)))
	}
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM staff_member`+clause, args...).Scan(&total); err != nil {
		return nil, 0, apperr.FromStore(err)
	}

	args = append(args, limit, offset)
	rows, err := r.conn(ctx).Query(ctx,
		fmt.Sprintf(`SELECT %s FROM staff_member%s ORDER BY name, id LIMIT $%d OFFSET $%d`, staffCols, clause, len(args)-1, len(args)),
		args...)
	if err != nil {
		return nil, 0, apperr.FromStore(err)
	}
	defer rows.Close()
	var items []*StaffMember
	for rows.Next() {
		m, err := scanStaff(rows)
		if err != nil {
			return nil, 0, apperr.FromStore(err)
		}
		items = append(items, m)
	}
	return items, total, apperr.FromStore(rows.Err())
}

func (r *repoPG) Upsert(ctx context.Context, m *StaffMember) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO staff_member (id, name, role, department)
		VALUES ($1,$2,$3,$4)
		ON CONFLICT (id) DO UPDATE SET name=EXCLUDED.name, role=EXCLUDED.role,
			department=EXCLUDED.department, updated_at=NOW()
		RETURNING created_at, updated_at`,
		m.ID, m.Name, string(m.Role), m.Department).Scan(&m.CreatedAt, &m.UpdatedAt)
	return apperr.FromStore(err)
}

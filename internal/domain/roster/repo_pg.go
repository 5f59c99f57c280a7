package roster

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

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

func connFor(ctx context.Context, pool *pgxpool.Pool) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return pool
}

// =========== Shift Assignment Repository ===========

type shiftRepoPG struct{ pool *pgxpool.Pool }

func NewShiftRepoPG(pool *pgxpool.Pool) ShiftRepository { return &shiftRepoPG{pool: pool} }

func (r *shiftRepoPG) Get(ctx context.Context, day Day) (*ShiftAssignment, error) {
	var (
		date          time.Time
		pool, buckets []byte
		a             ShiftAssignment
	)
	err := connFor(ctx, r.pool).QueryRow(ctx, `
		SELECT day, version, specialist_pool, shift_buckets, updated_at
		FROM shift_assignment WHERE day = $1`, day.Date()).
		Scan(&date, &a.Version, &pool, &buckets, &a.UpdatedAt)
	if err != nil {
		return nil, apperr.FromStore(err)
	}
	a.Day = DayOf(date, time.UTC)
	if err := json.Unmarshal(pool, &a.SpecialistPool); err != nil {
		return nil, fmt.Errorf("decode specialist_pool for %s: %w", day, err)
	}
	if err := json.Unmarshal(buckets, &a.Buckets); err != nil {
		return nil, fmt.Errorf("decode shift_buckets for %s: %w", day, err)
	}
	a.normalize()
	return &a, nil
}

func (r *shiftRepoPG) Save(ctx context.Context, a *ShiftAssignment) error {
	a.normalize()
	pool, err := json.Marshal(a.SpecialistPool)
	if err != nil {
		return err
	}
	buckets, err := json.Marshal(a.Buckets)
	if err != nil {
		return err
	}
	err = connFor(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO shift_assignment (day, version, specialist_pool, shift_buckets, updated_at)
		VALUES ($1, 1, $2, $3, NOW())
		ON CONFLICT (day) DO UPDATE SET
			version = shift_assignment.version + 1,
			specialist_pool = EXCLUDED.specialist_pool,
			shift_buckets = EXCLUDED.shift_buckets,
			updated_at = NOW()
		RETURNING version, updated_at`,
		a.Day.Date(), pool, buckets).Scan(&a.Version, &a.UpdatedAt)
	return apperr.FromStore(err)
}

// =========== Room Assignment Repository ===========

type roomRepoPG struct{ pool *pgxpool.Pool }

func NewRoomRepoPG(pool *pgxpool.Pool) RoomRepository { return &roomRepoPG{pool: pool} }

func scanRoomAssignment(row pgx.Row) (*RoomAssignment, error) {
	var (
		date  time.Time
		rooms []byte
		ra    RoomAssignment
	)
	if err := row.Scan(&date, &ra.Version, &rooms, &ra.UpdatedAt); err != nil {
		return nil, apperr.FromStore(err)
	}
	ra.Day = DayOf(date, time.UTC)
	if err := json.Unmarshal(rooms, &ra.Rooms); err != nil {
		return nil, fmt.Errorf("decode rooms for %s: %w", ra.Day, err)
	}
	if ra.Rooms == nil {
		ra.Rooms = map[string][]uuid.UUID{}
	}
	return &ra, nil
}

func (r *roomRepoPG) Get(ctx context.Context, day Day) (*RoomAssignment, error) {
	return scanRoomAssignment(connFor(ctx, r.pool).QueryRow(ctx, `
		SELECT day, version, rooms, updated_at FROM room_assignment WHERE day = $1`, day.Date()))
}

func (r *roomRepoPG) Save(ctx context.Context, ra *RoomAssignment) error {
	rooms, err := json.Marshal(ra.Rooms)
	if err != nil {
		return err
	}
	err = connFor(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO room_assignment (day, version, rooms, updated_at)
		VALUES ($1, 1, $2, NOW())
		ON CONFLICT (day) DO UPDATE SET
			version = room_assignment.version + 1,
			rooms = EXCLUDED.rooms,
			updated_at = NOW()
		RETURNING version, updated_at`,
		ra.Day.Date(), rooms).Scan(&ra.Version, &ra.UpdatedAt)
	return apperr.FromStore(err)
}

func (r *roomRepoPG) SaveRoom(ctx context.Context, day Day, room string, staff []uuid.UUID) (*RoomAssignment, error) {
	if staff == nil {
		staff = []uuid.UUID{}
	}
	list, err := json.Marshal(staff)
	if err != nil {
		return nil, err
	}
	return scanRoomAssignment(connFor(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO room_assignment (day, version, rooms, updated_at)
		VALUES ($1, 1, jsonb_build_object($2::text, $3::jsonb), NOW())
		ON CONFLICT (day) DO UPDATE SET
			version = room_assignment.version + 1,
			rooms = room_assignment.rooms || jsonb_build_object($2::text, $3::jsonb),
			updated_at = NOW()
		RETURNING day, version, rooms, updated_at`,
		day.Date(), room, list))
}

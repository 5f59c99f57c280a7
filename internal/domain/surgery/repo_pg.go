package surgery

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
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

func affected(tag pgconn.CommandTag, err error, entity string, id interface{}) error {
	if err != nil {
		return apperr.FromStore(err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound(entity, id)
	}
	return nil
}

func marshalTeam(t *Team) ([]byte, error) {
	if t == nil {
		return nil, nil
	}
	if t.NurseIDs == nil {
		t.NurseIDs = []uuid.UUID{}
	}
	return json.Marshal(t)
}

func unmarshalTeam(raw []byte) (*Team, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var t Team
	if err := json.Unmarshal(raw, &t); err != nil {
		return nil, fmt.Errorf("decode team: %w", err)
	}
	return &t, nil
}

// caseWhere builds the WHERE clause for a CaseFilter. timeCol is the column
// the From/To window applies to.
func caseWhere(f CaseFilter, timeCol string) (string, []interface{}) {
	var where []string
	var args []interface{}
	add := func(cond string, v interface{}) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if f.From != nil {
		add(timeCol+" >= $%d", *f.From)
	}
	if f.To != nil {
		add(timeCol+" < $%d", *f.To)
	}
	if f.Room != "" {
		add("room = $%d", f.Room)
	}
	if f.Status != "" {
		add("status = $%d", f.Status)
	}
	if len(where) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(where, " AND "), args
}

// =========== OR Room Repository ===========

type orRoomRepoPG struct{ pool *pgxpool.Pool }

func NewORRoomRepoPG(pool *pgxpool.Pool) ORRoomRepository { return &orRoomRepoPG{pool: pool} }

const orRoomCols = `id, name, is_active, created_at, updated_at`

func scanORRoom(row pgx.Row) (*ORRoom, error) {
	var o ORRoom
	if err := row.Scan(&o.ID, &o.Name, &o.IsActive, &o.CreatedAt, &o.UpdatedAt); err != nil {
		return nil, err
	}
	return &o, nil
}

func (r *orRoomRepoPG) Create(ctx context.Context, o *ORRoom) error {
	err := connFor(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO or_room (id, name, is_active) VALUES ($1,$2,$3)
		RETURNING created_at, updated_at`,
		o.ID, o.Name, o.IsActive).Scan(&o.CreatedAt, &o.UpdatedAt)
	if apperr.IsUniqueViolation(err) {
		return apperr.Validation("room %s already exists", o.ID)
	}
	return apperr.FromStore(err)
}

func (r *orRoomRepoPG) GetByID(ctx context.Context, id string) (*ORRoom, error) {
	o, err := scanORRoom(connFor(ctx, r.pool).QueryRow(ctx, `SELECT `+orRoomCols+` FROM or_room WHERE id = $1`, id))
	if err != nil {
		return nil, apperr.FromStore(err)
	}
	return o, nil
}

func (r *orRoomRepoPG) Update(ctx context.Context, o *ORRoom) error {
	err := connFor(ctx, r.pool).QueryRow(ctx, `
		UPDATE or_room SET name=$2, is_active=$3, updated_at=NOW()
		WHERE id = $1
		RETURNING created_at, updated_at`,
		o.ID, o.Name, o.IsActive).Scan(&o.CreatedAt, &o.UpdatedAt)
	return apperr.FromStore(err)
}

func (r *orRoomRepoPG) Delete(ctx context.Context, id string) error {
	tag, err := connFor(ctx, r.pool).Exec(ctx, `DELETE FROM or_room WHERE id = $1`, id)
	return affected(tag, err, "or room", id)
}

func (r *orRoomRepoPG) List(ctx context.Context, activeOnly bool, limit, offset int) ([]*ORRoom, int, error) {
	clause := ""
	if activeOnly {
		clause = " WHERE is_active"
	}
	var total int
	if err := connFor(ctx, r.pool).QueryRow(ctx, `SELECT COUNT(*) FROM or_room`+clause).Scan(&total); err != nil {
		return nil, 0, apperr.FromStore(err)
	}
	rows, err := connFor(ctx, r.pool).Query(ctx,
		`SELECT `+orRoomCols+` FROM or_room`+clause+` ORDER BY id LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, apperr.FromStore(err)
	}
	defer rows.Close()
	var items []*ORRoom
	for rows.Next() {
		o, err := scanORRoom(rows)
		if err != nil {
			return nil, 0, apperr.FromStore(err)
		}
		items = append(items, o)
	}
	return items, total, apperr.FromStore(rows.Err())
}

// =========== Scheduled Case Repository ===========

type scheduledCaseRepoPG struct{ pool *pgxpool.Pool }

func NewScheduledCaseRepoPG(pool *pgxpool.Pool) ScheduledCaseRepository {
	return &scheduledCaseRepoPG{pool: pool}
}

const scheduledCols = `id, patient_name, mrn, procedure, doctor_name, scheduled_at, room,
	assigned_team, status, handover_notes, handover_time, receiving_team, created_at, updated_at`

func scanScheduled(row pgx.Row) (*ScheduledCase, error) {
	var (
		sc        ScheduledCase
		team      []byte
		receiving []byte
	)
	err := row.Scan(&sc.ID, &sc.PatientName, &sc.MRN, &sc.Procedure, &sc.DoctorName, &sc.ScheduledAt, &sc.Room,
		&team, &sc.Status, &sc.HandoverNotes, &sc.HandoverTime, &receiving, &sc.CreatedAt, &sc.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if sc.AssignedTeam, err = unmarshalTeam(team); err != nil {
		return nil, err
	}
	if len(receiving) > 0 {
		if err := json.Unmarshal(receiving, &sc.ReceivingTeam); err != nil {
			return nil, fmt.Errorf("decode receiving_team: %w", err)
		}
	}
	sc.ScheduledAt = sc.ScheduledAt.UTC()
	return &sc, nil
}

func (r *scheduledCaseRepoPG) Create(ctx context.Context, sc *ScheduledCase) error {
	if sc.ID == uuid.Nil {
		sc.ID = uuid.New()
	}
	team, err := marshalTeam(sc.AssignedTeam)
	if err != nil {
		return err
	}
	err = connFor(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO scheduled_case (id, patient_name, mrn, procedure, doctor_name, scheduled_at, room,
			assigned_team, status)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		RETURNING created_at, updated_at`,
		sc.ID, sc.PatientName, sc.MRN, sc.Procedure, sc.DoctorName, sc.ScheduledAt, sc.Room,
		team, string(sc.Status)).Scan(&sc.CreatedAt, &sc.UpdatedAt)
	return apperr.FromStore(err)
}

func (r *scheduledCaseRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*ScheduledCase, error) {
	sc, err := scanScheduled(connFor(ctx, r.pool).QueryRow(ctx,
		`SELECT `+scheduledCols+` FROM scheduled_case WHERE id = $1`, id))
	if err != nil {
		return nil, apperr.FromStore(err)
	}
	return sc, nil
}

func (r *scheduledCaseRepoPG) Update(ctx context.Context, sc *ScheduledCase) error {
	team, err := marshalTeam(sc.AssignedTeam)
	if err != nil {
		return err
	}
	var receiving []byte
	if sc.ReceivingTeam != nil {
		if receiving, err = json.Marshal(sc.ReceivingTeam); err != nil {
			return err
		}
	}
	err = connFor(ctx, r.pool).QueryRow(ctx, `
		UPDATE scheduled_case SET patient_name=$2, mrn=$3, procedure=$4, doctor_name=$5, scheduled_at=$6,
			room=$7, assigned_team=$8, status=$9, handover_notes=$10, handover_time=$11,
			receiving_team=$12, updated_at=NOW()
		WHERE id = $1
		RETURNING updated_at`,
		sc.ID, sc.PatientName, sc.MRN, sc.Procedure, sc.DoctorName, sc.ScheduledAt,
		sc.Room, team, string(sc.Status), sc.HandoverNotes, sc.HandoverTime,
		receiving).Scan(&sc.UpdatedAt)
	if err != nil {
		return fmt.Errorf("scheduled case %s: %w", sc.ID, apperr.FromStore(err))
	}
	return nil
}

func (r *scheduledCaseRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := connFor(ctx, r.pool).Exec(ctx, `DELETE FROM scheduled_case WHERE id = $1`, id)
	return affected(tag, err, "scheduled case", id)
}

func (r *scheduledCaseRepoPG) List(ctx context.Context, f CaseFilter, limit, offset int) ([]*ScheduledCase, int, error) {
	clause, args := caseWhere(f, "scheduled_at")
	var total int
	if err := connFor(ctx, r.pool).QueryRow(ctx, `SELECT COUNT(*) FROM scheduled_case`+clause, args...).Scan(&total); err != nil {
		return nil, 0, apperr.FromStore(err)
	}
	args = append(args, limit, offset)
	rows, err := connFor(ctx, r.pool).Query(ctx,
		fmt.Sprintf(`SELECT %s FROM scheduled_case%s ORDER BY scheduled_at, id LIMIT $%d OFFSET $%d`,
			scheduledCols, clause, len(args)-1, len(args)),
		args...)
	if err != nil {
		return nil, 0, apperr.FromStore(err)
	}
	defer rows.Close()
	var items []*ScheduledCase
	for rows.Next() {
		sc, err := scanScheduled(rows)
		if err != nil {
			return nil, 0, apperr.FromStore(err)
		}
		items = append(items, sc)
	}
	return items, total, apperr.FromStore(rows.Err())
}

// =========== Live Case Repository ===========

type liveCaseRepoPG struct{ pool *pgxpool.Pool }

func NewLiveCaseRepoPG(pool *pgxpool.Pool) LiveCaseRepository {
	return &liveCaseRepoPG{pool: pool}
}

const liveCols = `id, case_id, patient_name, mrn, procedure, doctor_name, room, team, status,
	start_time, actual_start_time, end_time, last_modified`

func scanLive(row pgx.Row) (*LiveCase, error) {
	var (
		lc   LiveCase
		team []byte
	)
	err := row.Scan(&lc.ID, &lc.CaseID, &lc.PatientName, &lc.MRN, &lc.Procedure, &lc.DoctorName, &lc.Room,
		&team, &lc.Status, &lc.StartTime, &lc.ActualStartTime, &lc.EndTime, &lc.LastModified)
	if err != nil {
		return nil, err
	}
	if lc.Team, err = unmarshalTeam(team); err != nil {
		return nil, err
	}
	return &lc, nil
}

func (r *liveCaseRepoPG) Create(ctx context.Context, lc *LiveCase) error {
	team, err := marshalTeam(lc.Team)
	if err != nil {
		return err
	}
	_, err = connFor(ctx, r.pool).Exec(ctx, `
		INSERT INTO live_case (id, case_id, patient_name, mrn, procedure, doctor_name, room, team, status,
			start_time, actual_start_time, end_time, last_modified)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`,
		lc.ID, lc.CaseID, lc.PatientName, lc.MRN, lc.Procedure, lc.DoctorName, lc.Room, team,
		string(lc.Status), lc.StartTime, lc.ActualStartTime, lc.EndTime, lc.LastModified)
	if apperr.IsUniqueViolation(err) {
		return err
	}
	return apperr.FromStore(err)
}

func (r *liveCaseRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*LiveCase, error) {
	lc, err := scanLive(connFor(ctx, r.pool).QueryRow(ctx, `SELECT `+liveCols+` FROM live_case WHERE id = $1`, id))
	if err != nil {
		return nil, apperr.FromStore(err)
	}
	return lc, nil
}

func (r *liveCaseRepoPG) GetMany(ctx context.Context, ids []uuid.UUID) ([]*LiveCase, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := connFor(ctx, r.pool).Query(ctx, `SELECT `+liveCols+` FROM live_case WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, apperr.FromStore(err)
	}
	defer rows.Close()
	var items []*LiveCase
	for rows.Next() {
		lc, err := scanLive(rows)
		if err != nil {
			return nil, apperr.FromStore(err)
		}
		items = append(items, lc)
	}
	return items, apperr.FromStore(rows.Err())
}

// Update applies COALESCE to the timestamp columns so a value written by an
// earlier or concurrent call is kept.
func (r *liveCaseRepoPG) Update(ctx context.Context, lc *LiveCase) error {
	team, err := marshalTeam(lc.Team)
	if err != nil {
		return err
	}
	var start, actual, end *time.Time
	err = connFor(ctx, r.pool).QueryRow(ctx, `
		UPDATE live_case SET status=$2, room=$3, team=$4,
			start_time=COALESCE(start_time, $5),
			actual_start_time=COALESCE(actual_start_time, $6),
			end_time=COALESCE(end_time, $7),
			last_modified=$8
		WHERE id = $1
		RETURNING start_time, actual_start_time, end_time`,
		lc.ID, string(lc.Status), lc.Room, team, lc.StartTime, lc.ActualStartTime, lc.EndTime,
		lc.LastModified).Scan(&start, &actual, &end)
	if err != nil {
		return fmt.Errorf("live case %s: %w", lc.ID, apperr.FromStore(err))
	}
	lc.StartTime, lc.ActualStartTime, lc.EndTime = start, actual, end
	return nil
}

func (r *liveCaseRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := connFor(ctx, r.pool).Exec(ctx, `DELETE FROM live_case WHERE id = $1`, id)
	return affected(tag, err, "live case", id)
}

func (r *liveCaseRepoPG) List(ctx context.Context, f CaseFilter, limit, offset int) ([]*LiveCase, int, error) {
	clause, args := caseWhere(f, "start_time")
	var total int
	if err := connFor(ctx, r.pool).QueryRow(ctx, `SELECT COUNT(*) FROM live_case`+clause, args...).Scan(&total); err != nil {
		return nil, 0, apperr.FromStore(err)
	}
	args = append(args, limit, offset)
	rows, err := connFor(ctx, r.pool).Query(ctx,
		fmt.Sprintf(`SELECT %s FROM live_case%s ORDER BY start_time, id LIMIT $%d OFFSET $%d`,
			liveCols, clause, len(args)-1, len(args)),
		args...)
	if err != nil {
		return nil, 0, apperr.FromStore(err)
	}
	defer rows.Close()
	var items []*LiveCase
	for rows.Next() {
		lc, err := scanLive(rows)
		if err != nil {
			return nil, 0, apperr.FromStore(err)
		}
		items = append(items, lc)
	}
	return items, total, apperr.FromStore(rows.Err())
}

//go:build integration

package integration

import (
	"context"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/periop/periop/internal/domain/roster"
	"github.com/periop/periop/internal/domain/staff"
	"github.com/periop/periop/internal/domain/surgery"
	"github.com/periop/periop/internal/platform/db"
	"github.com/periop/periop/migrations"
)

// globalPool is shared by every test, initialized once in TestMain.
var globalPool *pgxpool.Pool

// TestMain connects to PERIOP_TEST_DATABASE_URL when set, otherwise starts
// a Postgres container.
func TestMain(m *testing.M) {
	ctx := context.Background()

	connStr := os.Getenv("PERIOP_TEST_DATABASE_URL")
	cleanup := func() {}
	if connStr == "" {
		var err error
		connStr, cleanup, err = startPostgres(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to start postgres: %v\n", err)
			os.Exit(1)
		}
	}

	pool, err := db.NewPool(ctx, db.PoolConfig{URL: connStr, MaxConns: 10})
	if err != nil {
		cleanup()
		fmt.Fprintf(os.Stderr, "failed to connect: %v\n", err)
		os.Exit(1)
	}

	globalPool = pool
	code := m.Run()
	pool.Close()
	cleanup()
	os.Exit(code)
}

// uniqueFacilityID generates a facility id for test isolation.
func uniqueFacilityID(prefix string) string {
	return fmt.Sprintf("%s_%s", prefix, strings.ReplaceAll(uuid.New().String()[:8], "-", ""))
}

// createFacility creates and migrates a facility schema and drops it when
// the test ends.
func createFacility(t *testing.T, prefix string) string {
	t.Helper()
	ctx := context.Background()
	facility := uniqueFacilityID(prefix)
	migrator := db.NewMigrator(globalPool, migrations.FS)
	if err := db.CreateFacilitySchema(ctx, globalPool, facility, migrator); err != nil {
		t.Fatalf("create facility %s: %v", facility, err)
	}
	t.Cleanup(func() {
		schema := db.SchemaName(facility)
		if _, err := globalPool.Exec(context.Background(), fmt.Sprintf("DROP SCHEMA IF EXISTS %s CASCADE", schema)); err != nil {
			t.Logf("warning: failed to drop schema %s: %v", schema, err)
		}
	})
	return facility
}

// inFacility runs fn with a connection scoped to facility.
func inFacility(t *testing.T, facility string, fn func(ctx context.Context) error) {
	t.Helper()
	if err := db.WithFacilityConn(context.Background(), globalPool, facility, fn); err != nil {
		t.Fatalf("in facility %s: %v", facility, err)
	}
}

// services wires the domain services against the shared pool the way the
// server does.
type services struct {
	staff   *staff.Service
	surgery *surgery.Service
	roster  *roster.Service
	shifts  roster.ShiftRepository
}

func newServices() *services {
	staffSvc := staff.NewService(staff.NewRepoPG(globalPool))

	surgerySvc := surgery.NewService(
		surgery.NewORRoomRepoPG(globalPool),
		surgery.NewScheduledCaseRepoPG(globalPool),
		surgery.NewLiveCaseRepoPG(globalPool),
		zerolog.Nop(),
	)
	surgerySvc.SetTransactor(db.NewTxRunner(globalPool))
	surgerySvc.SetDirectory(staffSvc)

	shifts := roster.NewShiftRepoPG(globalPool)
	rosterSvc := roster.NewService(shifts, roster.NewRoomRepoPG(globalPool), zerolog.Nop())
	rosterSvc.SetDirectory(staffSvc)

	return &services{staff: staffSvc, surgery: surgerySvc, roster: rosterSvc, shifts: shifts}
}

func createStaff(t *testing.T, ctx context.Context, svc *services, name string, role staff.Role) uuid.UUID {
	t.Helper()
	m := &staff.StaffMember{ID: uuid.New(), Name: name, Role: role}
	if _, err := svc.staff.Import(ctx, []*staff.StaffMember{m}); err != nil {
		t.Fatalf("import staff %s: %v", name, err)
	}
	return m.ID
}

func createRoom(t *testing.T, ctx context.Context, svc *services, id string) {
	t.Helper()
	if err := svc.surgery.CreateORRoom(ctx, &surgery.ORRoom{ID: id}); err != nil {
		t.Fatalf("create room %s: %v", id, err)
	}
}

func createCase(t *testing.T, ctx context.Context, svc *services, room string, at time.Time) *surgery.ScheduledCase {
	t.Helper()
	sc := &surgery.ScheduledCase{
		PatientName: "Jordan Reyes",
		MRN:         "MRN-" + uuid.New().String()[:6],
		Procedure:   "Laparoscopic cholecystectomy",
		DoctorName:  "Dr. Patel",
		ScheduledAt: at,
		Room:        &room,
	}
	if err := svc.surgery.CreateScheduledCase(ctx, sc); err != nil {
		t.Fatalf("create scheduled case: %v", err)
	}
	return sc
}

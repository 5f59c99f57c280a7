package roster

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/periop/periop/internal/platform/apperr"
	"github.com/periop/periop/internal/platform/archive"
)

func TestArchiver_ArchivesEachVersionOnce(t *testing.T) {
	ctx := context.Background()
	shifts := newMockShiftRepo()
	store := archive.NewMemory()
	arch := NewArchiver(shifts, store, zerolog.Nop())

	a := &ShiftAssignment{Day: testDay, Buckets: map[ShiftKey][]uuid.UUID{ShiftMorning: {uuid.New()}}}
	shifts.Save(ctx, a)

	snap, created, err := arch.Archive(ctx, "main", testDay)
	if err != nil || !created {
		t.Fatalf("first archive: created=%v err=%v", created, err)
	}
	if snap.Version != 1 || snap.Key != string(testDay) || snap.Kind != SnapshotKind {
		t.Errorf("unexpected snapshot %+v", snap)
	}

	again, created, err := arch.Archive(ctx, "main", testDay)
	if err != nil || created {
		t.Fatalf("second archive of same version: created=%v err=%v", created, err)
	}
	if again.ID != snap.ID {
		t.Errorf("expected existing snapshot, got %s", again.ID)
	}

	shifts.Save(ctx, a)
	if _, created, _ := arch.Archive(ctx, "main", testDay); !created {
		t.Error("expected a new snapshot after the assignment changed")
	}

	history, err := arch.History(ctx, "main", testDay)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(history) != 2 || history[0].Version != 1 || history[1].Version != 2 {
		t.Errorf("unexpected history %+v", history)
	}
}

func TestArchiver_NothingSaved(t *testing.T) {
	arch := NewArchiver(newMockShiftRepo(), archive.NewMemory(), zerolog.Nop())
	_, _, err := arch.Archive(context.Background(), "main", testDay)
	if !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}

func TestActiveDayRefresher(t *testing.T) {
	ctx := context.Background()
	shifts := newMockShiftRepo()
	store := archive.NewMemory()
	shifts.Save(ctx, NewShiftAssignment(testDay))

	var scoped []string
	scope := func(ctx context.Context, facility string, fn func(ctx context.Context) error) error {
		scoped = append(scoped, facility)
		return fn(ctx)
	}
	r := NewActiveDayRefresher(NewArchiver(shifts, store, zerolog.Nop()), defaultBoundaries(t, time.UTC),
		[]string{"main", "annex"}, scope)
	r.now = func() time.Time { return time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC) }

	if err := r.Refresh(ctx); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if len(scoped) != 2 {
		t.Errorf("expected both facilities scoped, got %v", scoped)
	}
	for _, f := range []string{"main", "annex"} {
		list, _ := store.List(ctx, archive.Query{Facility: f, Kind: SnapshotKind})
		if len(list) != 1 {
			t.Errorf("facility %s: expected 1 snapshot, got %d", f, len(list))
		}
	}
}

func TestActiveDayRefresher_SkipsUnsavedDay(t *testing.T) {
	scope := func(ctx context.Context, _ string, fn func(ctx context.Context) error) error { return fn(ctx) }
	r := NewActiveDayRefresher(NewArchiver(newMockShiftRepo(), archive.NewMemory(), zerolog.Nop()),
		defaultBoundaries(t, time.UTC), []string{"main"}, scope)
	if err := r.Refresh(context.Background()); err != nil {
		t.Fatalf("expected no error for a day with nothing saved, got %v", err)
	}
	if r.Name() != "shift-archive" {
		t.Errorf("unexpected name %q", r.Name())
	}
}

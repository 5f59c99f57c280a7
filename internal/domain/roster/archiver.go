package roster

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/periop/periop/internal/platform/apperr"
	"github.com/periop/periop/internal/platform/archive"
	"github.com/periop/periop/internal/platform/db"
)

// SnapshotKind names shift assignment snapshots in the archive.
const SnapshotKind = "shift-assignment"

// Archiver copies saved shift assignments into the snapshot archive. Each
// version is archived at most once.
type Archiver struct {
	shifts ShiftRepository
	store  archive.Store
	logger zerolog.Logger
	now    func() time.Time
}

func NewArchiver(shifts ShiftRepository, store archive.Store, logger zerolog.Logger) *Archiver {
	return &Archiver{
		shifts: shifts,
		store:  store,
		logger: logger.With().Str("component", "shift-archiver").Logger(),
		now:    time.Now,
	}
}

// Archive snapshots the Day's current assignment. When that version is
// already archived it returns the existing snapshot and created=false.
func (a *Archiver) Archive(ctx context.Context, facility string, day Day) (snap archive.Snapshot, created bool, err error) {
	if err := day.Validate(); err != nil {
		return archive.Snapshot{}, false, err
	}
	current, err := a.shifts.Get(ctx, day)
	if errors.Is(err, apperr.ErrNotFound) {
		return archive.Snapshot{}, false, apperr.Validation("no shift assignment saved for %s", day)
	}
	if err != nil {
		return archive.Snapshot{}, false, err
	}

	snap, err = archive.New(facility, SnapshotKind, day.String(), current.Version, current, a.now())
	if err != nil {
		return archive.Snapshot{}, false, err
	}
	err = a.store.Put(ctx, snap)
	if errors.Is(err, archive.ErrExists) {
		existing, getErr := a.store.Get(ctx, snap.ID)
		if getErr != nil {
			return archive.Snapshot{}, false, getErr
		}
		return existing, false, nil
	}
	if err != nil {
		return archive.Snapshot{}, false, err
	}
	a.logger.Info().Str("facility", facility).Str("day", day.String()).Int("version", current.Version).
		Msg("shift assignment archived")
	return snap, true, nil
}

// History lists the archived versions of the Day, oldest first.
func (a *Archiver) History(ctx context.Context, facility string, day Day) ([]archive.Snapshot, error) {
	if err := day.Validate(); err != nil {
		return nil, err
	}
	return a.store.List(ctx, archive.Query{Facility: facility, Kind: SnapshotKind, Key: day.String()})
}

// ActiveDayRefresher archives the active Day's assignment for each facility.
// It is meant to run on the refresh scheduler.
type ActiveDayRefresher struct {
	archiver   *Archiver
	boundaries Boundaries
	facilities []string
	scope      db.FacilityScope
	now        func() time.Time
}

func NewActiveDayRefresher(archiver *Archiver, boundaries Boundaries, facilities []string, scope db.FacilityScope) *ActiveDayRefresher {
	return &ActiveDayRefresher{
		archiver:   archiver,
		boundaries: boundaries,
		facilities: facilities,
		scope:      scope,
		now:        time.Now,
	}
}

func (r *ActiveDayRefresher) Name() string { return "shift-archive" }

func (r *ActiveDayRefresher) Refresh(ctx context.Context) error {
	day, _ := r.boundaries.Active(r.now())
	var errs []error
	for _, facility := range r.facilities {
		err := r.scope(ctx, facility, func(ctx context.Context) error {
			_, _, err := r.archiver.Archive(ctx, facility, day)
			if errors.Is(err, apperr.ErrValidation) {
				return nil
			}
			return err
		})
		if err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

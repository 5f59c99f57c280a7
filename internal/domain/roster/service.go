package roster

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/periop/periop/internal/domain/staff"
	"github.com/periop/periop/internal/domain/surgery"
	"github.com/periop/periop/internal/platform/apperr"
	"github.com/periop/periop/internal/platform/db"
	"github.com/periop/periop/internal/platform/events"
	"github.com/periop/periop/internal/platform/metrics"
)

type Service struct {
	shifts    ShiftRepository
	rooms     RoomRepository
	directory staff.Directory
	publisher events.Publisher
	metrics   *metrics.Metrics
	logger    zerolog.Logger
	now       func() time.Time
}

func NewService(shifts ShiftRepository, rooms RoomRepository, logger zerolog.Logger) *Service {
	return &Service{
		shifts:    shifts,
		rooms:     rooms,
		publisher: events.Nop{},
		logger:    logger.With().Str("component", "roster").Logger(),
		now:       time.Now,
	}
}

// SetDirectory makes saves reject staff ids the directory cannot resolve.
func (s *Service) SetDirectory(d staff.Directory) { s.directory = d }

func (s *Service) SetPublisher(p events.Publisher) { s.publisher = p }

func (s *Service) SetMetrics(m *metrics.Metrics) { s.metrics = m }

// -- Shift Assignment --

// GetShiftAssignment returns the Day's assignment, or an empty one with
// version 0 when nothing has been saved yet.
func (s *Service) GetShiftAssignment(ctx context.Context, day Day) (*ShiftAssignment, error) {
	if err := day.Validate(); err != nil {
		return nil, err
	}
	a, err := s.shifts.Get(ctx, day)
	if errors.Is(err, apperr.ErrNotFound) {
		return NewShiftAssignment(day), nil
	}
	if err != nil {
		return nil, err
	}
	return a, nil
}

// SaveShiftAssignment replaces the Day's assignment. Double-booked staff are
// returned as conflicts alongside the saved assignment; they never block the
// write.
func (s *Service) SaveShiftAssignment(ctx context.Context, a *ShiftAssignment) ([]Conflict, error) {
	a.normalize()
	if err := a.validate(); err != nil {
		return nil, err
	}
	if err := s.checkStaff(ctx, a.staffIDs()); err != nil {
		return nil, err
	}
	if err := s.shifts.Save(ctx, a); err != nil {
		return nil, err
	}

	conflicts := DetectConflicts(*a)
	s.metrics.SetShiftConflicts(len(conflicts))
	if len(conflicts) > 0 {
		s.logger.Warn().
			Str("day", a.Day.String()).
			Int("conflicts", len(conflicts)).
			Msg("staff assigned to more than one shift")
	}
	s.publish(ctx, events.ShiftSaved, a.Day, "")
	return conflicts, nil
}

// Conflicts recomputes the Day's double bookings from the stored assignment.
func (s *Service) Conflicts(ctx context.Context, day Day) ([]Conflict, error) {
	a, err := s.GetShiftAssignment(ctx, day)
	if err != nil {
		return nil, err
	}
	return DetectConflicts(*a), nil
}

// OnDuty returns the staff on duty during shift: the specialist pool and the
// shift's bucket.
func (s *Service) OnDuty(ctx context.Context, day Day, shift ShiftKey) ([]uuid.UUID, error) {
	if !shift.Valid() {
		return nil, apperr.Validation("unknown shift: %q", shift)
	}
	a, err := s.GetShiftAssignment(ctx, day)
	if err != nil {
		return nil, err
	}
	return a.OnDuty(shift), nil
}

// -- Room Assignment --

func (s *Service) GetRoomAssignment(ctx context.Context, day Day) (*RoomAssignment, error) {
	if err := day.Validate(); err != nil {
		return nil, err
	}
	ra, err := s.rooms.Get(ctx, day)
	if errors.Is(err, apperr.ErrNotFound) {
		return NewRoomAssignment(day), nil
	}
	if err != nil {
		return nil, err
	}
	return ra, nil
}

// SaveRoomAssignment replaces every room's staff list for the Day. Staff not
// on that Day's shift roster are reported as warnings.
func (s *Service) SaveRoomAssignment(ctx context.Context, ra *RoomAssignment) ([]Warning, error) {
	if err := ra.validate(); err != nil {
		return nil, err
	}
	var ids []uuid.UUID
	for _, list := range ra.Rooms {
		ids = append(ids, list...)
	}
	if err := s.checkStaff(ctx, ids); err != nil {
		return nil, err
	}
	if err := s.rooms.Save(ctx, ra); err != nil {
		return nil, err
	}
	warnings, err := s.roomWarnings(ctx, ra.Day, ra.Rooms)
	if err != nil {
		return nil, err
	}
	s.publish(ctx, events.RoomAssignmentSaved, ra.Day, "")
	return warnings, nil
}

// AssignRoom replaces a single room's staff list for the Day.
func (s *Service) AssignRoom(ctx context.Context, day Day, room string, staffIDs []uuid.UUID) (*RoomAssignment, []Warning, error) {
	if err := day.Validate(); err != nil {
		return nil, nil, err
	}
	if !surgery.ValidRoomID(room) {
		return nil, nil, apperr.Validation("invalid room id: %q", room)
	}
	if staffIDs == nil {
		staffIDs = []uuid.UUID{}
	}
	if err := checkList("room "+room, staffIDs); err != nil {
		return nil, nil, err
	}
	if err := s.checkStaff(ctx, staffIDs); err != nil {
		return nil, nil, err
	}
	ra, err := s.rooms.SaveRoom(ctx, day, room, staffIDs)
	if err != nil {
		return nil, nil, err
	}
	warnings, err := s.roomWarnings(ctx, day, map[string][]uuid.UUID{room: staffIDs})
	if err != nil {
		return nil, nil, err
	}
	s.publish(ctx, events.RoomAssignmentSaved, day, room)
	return ra, warnings, nil
}

func (s *Service) roomWarnings(ctx context.Context, day Day, rooms map[string][]uuid.UUID) ([]Warning, error) {
	shift, err := s.GetShiftAssignment(ctx, day)
	if err != nil {
		return nil, err
	}
	warnings := roomWarnings(shift, rooms)
	if len(warnings) > 0 {
		s.logger.Warn().Str("day", day.String()).Int("warnings", len(warnings)).
			Msg("room assignment lists staff not on the shift roster")
	}
	return warnings, nil
}

func (s *Service) checkStaff(ctx context.Context, ids []uuid.UUID) error {
	if s.directory == nil || len(ids) == 0 {
		return nil
	}
	if _, err := s.directory.Resolve(ctx, ids); err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return apperr.Validation("unknown staff: %v", err)
		}
		return err
	}
	return nil
}

func (s *Service) publish(ctx context.Context, t events.Type, day Day, room string) {
	ev := events.Event{
		Type:     t,
		Facility: db.FacilityFromContext(ctx),
		Day:      day.String(),
		Room:     room,
		At:       s.now().UTC(),
	}
	if err := s.publisher.Publish(ctx, ev); err != nil {
		s.logger.Warn().Err(err).Str("event", string(t)).Msg("publish failed")
	}
}

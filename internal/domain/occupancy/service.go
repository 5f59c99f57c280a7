package occupancy

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/periop/periop/internal/domain/roster"
	"github.com/periop/periop/internal/domain/staff"
	"github.com/periop/periop/internal/domain/surgery"
	"github.com/periop/periop/internal/platform/apperr"
)

// CaseSource is the part of the case registry occupancy reads.
type CaseSource interface {
	ListORRooms(ctx context.Context, activeOnly bool, limit, offset int) ([]*surgery.ORRoom, int, error)
	ListScheduledCases(ctx context.Context, f surgery.CaseFilter, limit, offset int) ([]*surgery.ScheduledCase, int, error)
	LiveCasesByID(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]*surgery.LiveCase, error)
}

// RosterSource is the part of the roster occupancy reads.
type RosterSource interface {
	GetShiftAssignment(ctx context.Context, day roster.Day) (*roster.ShiftAssignment, error)
	GetRoomAssignment(ctx context.Context, day roster.Day) (*roster.RoomAssignment, error)
}

const pageSize = 200

type Service struct {
	cases      CaseSource
	rosters    RosterSource
	directory  staff.Directory
	boundaries roster.Boundaries
	logger     zerolog.Logger
	now        func() time.Time
}

func NewService(cases CaseSource, rosters RosterSource, directory staff.Directory, boundaries roster.Boundaries, logger zerolog.Logger) *Service {
	return &Service{
		cases:      cases,
		rosters:    rosters,
		directory:  directory,
		boundaries: boundaries,
		logger:     logger.With().Str("component", "occupancy").Logger(),
		now:        time.Now,
	}
}

// Active returns the Day and shift in effect now.
func (s *Service) Active() (roster.Day, roster.ShiftKey) {
	return s.boundaries.Active(s.now())
}

// RoomOccupancy returns the room boards for day. Room staff are limited to
// those on duty in shift plus the specialist pool. With no shift given the
// active shift is used on the active Day and the whole roster on any other
// Day.
func (s *Service) RoomOccupancy(ctx context.Context, day roster.Day, shift *roster.ShiftKey) ([]RoomView, error) {
	if err := day.Validate(); err != nil {
		return nil, err
	}
	if shift != nil && !shift.Valid() {
		return nil, apperr.Validation("unknown shift: %q", *shift)
	}

	rooms, err := s.activeRooms(ctx)
	if err != nil {
		return nil, err
	}
	cases, err := s.casesOn(ctx, day)
	if err != nil {
		return nil, err
	}
	ids := make([]uuid.UUID, 0, len(cases))
	for _, sc := range cases {
		if sc.Status == surgery.ScheduleReceived {
			ids = append(ids, sc.ID)
		}
	}
	live, err := s.cases.LiveCasesByID(ctx, ids)
	if err != nil {
		return nil, err
	}
	roomStaff, err := s.roomStaff(ctx, day, shift)
	if err != nil {
		return nil, err
	}

	return Merge(Input{Rooms: rooms, Cases: cases, Live: live, Staff: roomStaff}), nil
}

func (s *Service) activeRooms(ctx context.Context) ([]*surgery.ORRoom, error) {
	var all []*surgery.ORRoom
	for offset := 0; ; offset += pageSize {
		items, total, err := s.cases.ListORRooms(ctx, true, pageSize, offset)
		if err != nil {
			return nil, err
		}
		all = append(all, items...)
		if len(items) == 0 || len(all) >= total {
			return all, nil
		}
	}
}

func (s *Service) casesOn(ctx context.Context, day roster.Day) ([]*surgery.ScheduledCase, error) {
	from, to := day.Window(s.boundaries.Location())
	f := surgery.CaseFilter{From: &from, To: &to}
	var all []*surgery.ScheduledCase
	for offset := 0; ; offset += pageSize {
		items, total, err := s.cases.ListScheduledCases(ctx, f, pageSize, offset)
		if err != nil {
			return nil, err
		}
		all = append(all, items...)
		if len(items) == 0 || len(all) >= total {
			return all, nil
		}
	}
}

// roomStaff returns the on-duty staff of every room in the day's room
// assignment. Assigned rooms with nobody on duty map to an empty list.
func (s *Service) roomStaff(ctx context.Context, day roster.Day, shift *roster.ShiftKey) (map[string][]*staff.StaffMember, error) {
	shifts, err := s.rosters.GetShiftAssignment(ctx, day)
	if err != nil {
		return nil, err
	}
	rooms, err := s.rosters.GetRoomAssignment(ctx, day)
	if err != nil {
		return nil, err
	}

	onDuty := s.onDuty(shifts, day, shift)
	perRoom := make(map[string][]uuid.UUID, len(rooms.Rooms))
	var wanted []uuid.UUID
	for room, ids := range rooms.Rooms {
		perRoom[room] = nil
		for _, id := range ids {
			if onDuty[id] {
				perRoom[room] = append(perRoom[room], id)
				wanted = append(wanted, id)
			}
		}
	}

	members, err := s.resolve(ctx, wanted)
	if err != nil {
		return nil, err
	}
	out := make(map[string][]*staff.StaffMember, len(perRoom))
	for room, ids := range perRoom {
		list := make([]*staff.StaffMember, 0, len(ids))
		for _, id := range ids {
			if m, ok := members[id]; ok {
				list = append(list, m)
			}
		}
		out[room] = list
	}
	return out, nil
}

func (s *Service) onDuty(a *roster.ShiftAssignment, day roster.Day, shift *roster.ShiftKey) map[uuid.UUID]bool {
	if shift == nil {
		activeDay, activeShift := s.Active()
		if activeDay != day {
			return a.Members()
		}
		shift = &activeShift
	}
	set := make(map[uuid.UUID]bool)
	for _, id := range a.OnDuty(*shift) {
		set[id] = true
	}
	return set
}

// resolve looks ids up in the directory. Ids the directory no longer knows
// are skipped.
func (s *Service) resolve(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]*staff.StaffMember, error) {
	out := make(map[uuid.UUID]*staff.StaffMember, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	members, err := s.directory.Resolve(ctx, ids)
	if err == nil {
		for _, m := range members {
			out[m.ID] = m
		}
		return out, nil
	}
	if !errors.Is(err, apperr.ErrNotFound) {
		return nil, err
	}

	for _, id := range ids {
		if _, done := out[id]; done {
			continue
		}
		m, err := s.directory.Get(ctx, id)
		if errors.Is(err, apperr.ErrNotFound) {
			s.logger.Warn().Str("staff_id", id.String()).Msg("rostered staff missing from directory")
			continue
		}
		if err != nil {
			return nil, err
		}
		out[id] = m
	}
	return out, nil
}

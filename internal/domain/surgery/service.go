package surgery

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/periop/periop/internal/domain/staff"
	"github.com/periop/periop/internal/platform/apperr"
	"github.com/periop/periop/internal/platform/auth"
	"github.com/periop/periop/internal/platform/db"
	"github.com/periop/periop/internal/platform/events"
	"github.com/periop/periop/internal/platform/metrics"
)

// Service is the registry for rooms and cases and the only code that moves a
// case from the schedule into live tracking.
type Service struct {
	rooms     ORRoomRepository
	scheduled ScheduledCaseRepository
	live      LiveCaseRepository
	tx        Transactor
	directory staff.Directory
	publisher events.Publisher
	metrics   *metrics.Metrics
	logger    zerolog.Logger
	now       func() time.Time
}

func NewService(rooms ORRoomRepository, scheduled ScheduledCaseRepository, live LiveCaseRepository, logger zerolog.Logger) *Service {
	return &Service{
		rooms:     rooms,
		scheduled: scheduled,
		live:      live,
		publisher: events.Nop{},
		logger:    logger.With().Str("component", "surgery").Logger(),
		now:       time.Now,
	}
}

// SetTransactor makes Handover run both of its writes in one transaction.
// Without one, a failed live case write is undone by restoring the
// scheduled case.
func (s *Service) SetTransactor(tx Transactor) { s.tx = tx }

// SetDirectory makes case writes reject staff ids the directory cannot resolve.
func (s *Service) SetDirectory(d staff.Directory) { s.directory = d }

func (s *Service) SetPublisher(p events.Publisher) { s.publisher = p }

func (s *Service) SetMetrics(m *metrics.Metrics) { s.metrics = m }

// -- OR Room --

func (s *Service) CreateORRoom(ctx context.Context, r *ORRoom) error {
	r.ID = strings.TrimSpace(r.ID)
	if !ValidRoomID(r.ID) {
		return apperr.Validation("invalid room id: %q", r.ID)
	}
	if strings.TrimSpace(r.Name) == "" {
		r.Name = r.ID
	}
	r.IsActive = true
	if err := s.rooms.Create(ctx, r); err != nil {
		return err
	}
	s.publish(ctx, events.Event{Type: events.RoomChanged, Room: r.ID})
	return nil
}

func (s *Service) GetORRoom(ctx context.Context, id string) (*ORRoom, error) {
	return s.rooms.GetByID(ctx, id)
}

func (s *Service) UpdateORRoom(ctx context.Context, r *ORRoom) error {
	if strings.TrimSpace(r.Name) == "" {
		return apperr.Validation("name is required")
	}
	if err := s.rooms.Update(ctx, r); err != nil {
		return err
	}
	s.publish(ctx, events.Event{Type: events.RoomChanged, Room: r.ID})
	return nil
}

func (s *Service) DeleteORRoom(ctx context.Context, id string) error {
	if err := s.rooms.Delete(ctx, id); err != nil {
		return err
	}
	s.publish(ctx, events.Event{Type: events.RoomChanged, Room: id})
	return nil
}

func (s *Service) ListORRooms(ctx context.Context, activeOnly bool, limit, offset int) ([]*ORRoom, int, error) {
	return s.rooms.List(ctx, activeOnly, limit, offset)
}

// -- Scheduled Case --

func (s *Service) CreateScheduledCase(ctx context.Context, sc *ScheduledCase) error {
	if err := s.validateCase(ctx, sc); err != nil {
		return err
	}
	if sc.Status == "" {
		sc.Status = ScheduleScheduled
	}
	if !sc.Status.Valid() {
		return apperr.Validation("invalid status: %s", sc.Status)
	}
	if sc.Status == ScheduleReceived {
		return apperr.Validation("a case can only become received through handover")
	}
	sc.ScheduledAt = sc.ScheduledAt.UTC()
	sc.HandoverNotes, sc.HandoverTime, sc.ReceivingTeam = nil, nil, nil
	if err := s.scheduled.Create(ctx, sc); err != nil {
		return err
	}
	s.publishCase(ctx, events.CaseCreated, sc.ID, sc.Room, string(sc.Status))
	return nil
}

func (s *Service) validateCase(ctx context.Context, sc *ScheduledCase) error {
	required := []struct{ field, value string }{
		{"patient_name", sc.PatientName},
		{"mrn", sc.MRN},
		{"procedure", sc.Procedure},
		{"doctor_name", sc.DoctorName},
	}
	for _, r := range required {
		if strings.TrimSpace(r.value) == "" {
			return apperr.Validation("%s is required", r.field)
		}
	}
	if sc.ScheduledAt.IsZero() {
		return apperr.Validation("scheduled_at is required")
	}
	if sc.Room != nil {
		if err := s.checkRoom(ctx, *sc.Room); err != nil {
			return err
		}
	}
	return s.checkStaff(ctx, sc.AssignedTeam.staffIDs())
}

func (s *Service) GetScheduledCase(ctx context.Context, id uuid.UUID) (*ScheduledCase, error) {
	return s.scheduled.GetByID(ctx, id)
}

// UpdateScheduledCase applies patch to a case that has not been handed over.
// Status changes must follow the schedule transition table.
func (s *Service) UpdateScheduledCase(ctx context.Context, id uuid.UUID, patch ScheduledCasePatch) (*ScheduledCase, error) {
	sc, err := s.scheduled.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if sc.Status == ScheduleReceived {
		return nil, apperr.Validation("case %s has been handed over and is read-only", id)
	}

	if patch.PatientName != nil {
		sc.PatientName = *patch.PatientName
	}
	if patch.MRN != nil {
		sc.MRN = *patch.MRN
	}
	if patch.Procedure != nil {
		sc.Procedure = *patch.Procedure
	}
	if patch.DoctorName != nil {
		sc.DoctorName = *patch.DoctorName
	}
	if patch.ScheduledAt != nil {
		sc.ScheduledAt = patch.ScheduledAt.UTC()
	}
	if patch.Room != nil {
		if *patch.Room == "" {
			sc.Room = nil
		} else {
			room := *patch.Room
			sc.Room = &room
		}
	}
	if patch.AssignedTeam != nil {
		sc.AssignedTeam = patch.AssignedTeam
	}
	if patch.Status != nil && *patch.Status != sc.Status {
		to := *patch.Status
		if !to.Valid() {
			return nil, apperr.Validation("invalid status: %s", to)
		}
		if !sc.Status.CanTransitionTo(to) {
			return nil, fmt.Errorf("%w: scheduled case %s cannot go from %s to %s",
				apperr.ErrInvalidTransition, id, sc.Status, to)
		}
		sc.Status = to
	}

	if err := s.validateCase(ctx, sc); err != nil {
		return nil, err
	}
	if err := s.scheduled.Update(ctx, sc); err != nil {
		return nil, err
	}
	s.publishCase(ctx, events.CaseUpdated, sc.ID, sc.Room, string(sc.Status))
	return sc, nil
}

// DeleteScheduledCase removes a case that has not been handed over. A
// received case is the audit record of its handover and stays.
func (s *Service) DeleteScheduledCase(ctx context.Context, id uuid.UUID) error {
	sc, err := s.scheduled.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if sc.Status == ScheduleReceived {
		return apperr.Validation("case %s has been handed over and cannot be deleted", id)
	}
	if err := s.scheduled.Delete(ctx, id); err != nil {
		return err
	}
	s.publishCase(ctx, events.CaseDeleted, id, sc.Room, "")
	return nil
}

func (s *Service) ListScheduledCases(ctx context.Context, f CaseFilter, limit, offset int) ([]*ScheduledCase, int, error) {
	if f.Status != "" && !ScheduleStatus(f.Status).Valid() {
		return nil, 0, apperr.Validation("invalid status: %s", f.Status)
	}
	return s.scheduled.List(ctx, f, limit, offset)
}

// -- Live Case --

func (s *Service) GetLiveCase(ctx context.Context, id uuid.UUID) (*LiveCase, error) {
	return s.live.GetByID(ctx, id)
}

// LiveCasesByID returns the live cases among ids, keyed by id.
func (s *Service) LiveCasesByID(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]*LiveCase, error) {
	found, err := s.live.GetMany(ctx, ids)
	if err != nil {
		return nil, err
	}
	out := make(map[uuid.UUID]*LiveCase, len(found))
	for _, lc := range found {
		out[lc.ID] = lc
	}
	return out, nil
}

func (s *Service) ListLiveCases(ctx context.Context, f CaseFilter, limit, offset int) ([]*LiveCase, int, error) {
	if f.Status != "" && !LiveStatus(f.Status).Valid() {
		return nil, 0, apperr.Validation("invalid status: %s", f.Status)
	}
	return s.live.List(ctx, f, limit, offset)
}

func (s *Service) DeleteLiveCase(ctx context.Context, id uuid.UUID) error {
	lc, err := s.live.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if err := s.live.Delete(ctx, id); err != nil {
		return err
	}
	room := lc.Room
	s.publishCase(ctx, events.CaseDeleted, id, &room, "")
	return nil
}

// GetCase returns the live case with id when there is one, else the
// scheduled case.
func (s *Service) GetCase(ctx context.Context, id uuid.UUID) (*CaseView, error) {
	lc, err := s.live.GetByID(ctx, id)
	if err == nil {
		return &CaseView{Kind: KindLive, Live: lc}, nil
	}
	if !errors.Is(err, apperr.ErrNotFound) {
		return nil, err
	}
	sc, err := s.scheduled.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return &CaseView{Kind: KindScheduled, Scheduled: sc}, nil
}

// -- Handover --

// Handover marks the scheduled case received and opens its live case in
// preparation. Both writes land together or neither does. A case that was
// already received, or that already has a live case, fails with
// ErrAlreadyHandedOver.
func (s *Service) Handover(ctx context.Context, id uuid.UUID, notes string, receivingTeam []uuid.UUID) (lc *LiveCase, err error) {
	defer func() { s.metrics.ObserveHandover(metrics.Outcome(err)) }()

	notes = strings.TrimSpace(notes)
	if notes == "" {
		return nil, apperr.Validation("handover notes are required")
	}
	if err := s.checkStaff(ctx, receivingTeam); err != nil {
		return nil, err
	}

	var restore *ScheduledCase
	err = s.atomic(ctx, func(ctx context.Context) error {
		sc, err := s.scheduled.GetByID(ctx, id)
		if err != nil {
			return err
		}
		switch {
		case sc.Status == ScheduleReceived:
			return fmt.Errorf("%w: case %s was received at %s", apperr.ErrAlreadyHandedOver, id, formatTime(sc.HandoverTime))
		case sc.Status == ScheduleCancelled:
			return apperr.Validation("case %s is cancelled", id)
		case sc.Room == nil:
			return apperr.Validation("case %s has no room", id)
		}
		if _, err := s.live.GetByID(ctx, id); err == nil {
			return fmt.Errorf("%w: live case %s already exists", apperr.ErrAlreadyHandedOver, id)
		} else if !errors.Is(err, apperr.ErrNotFound) {
			return err
		}

		before := *sc
		now := s.now().UTC()
		sc.Status = ScheduleReceived
		sc.HandoverNotes = &notes
		sc.HandoverTime = &now
		sc.ReceivingTeam = append([]uuid.UUID{}, receivingTeam...)
		if err := s.scheduled.Update(ctx, sc); err != nil {
			return err
		}
		restore = &before

		created := newLiveCase(sc, now)
		if err := s.live.Create(ctx, created); err != nil {
			if apperr.IsUniqueViolation(err) {
				// A concurrent handover won; its received row must stay.
				restore = nil
				return fmt.Errorf("%w: live case %s already exists", apperr.ErrAlreadyHandedOver, id)
			}
			return err
		}
		lc = created
		return nil
	})
	if err != nil {
		if s.tx == nil && restore != nil {
			s.compensate(ctx, restore)
		}
		return nil, err
	}

	s.logger.Info().Str("case_id", id.String()).Str("room", lc.Room).
		Str("user_id", auth.UserIDFromContext(ctx)).
		Str("staff_id", auth.StaffIDFromContext(ctx)).
		Msg("case handed over")
	s.publishCase(ctx, events.CaseHandedOver, id, &lc.Room, string(lc.Status))
	return lc, nil
}

func (s *Service) atomic(ctx context.Context, fn func(ctx context.Context) error) error {
	if s.tx == nil {
		return fn(ctx)
	}
	return s.tx.InTx(ctx, fn)
}

// compensate puts the scheduled case back the way it was before a handover
// whose live case write failed.
func (s *Service) compensate(ctx context.Context, before *ScheduledCase) {
	if err := s.scheduled.Update(context.WithoutCancel(ctx), before); err != nil {
		s.logger.Error().Err(err).Str("case_id", before.ID.String()).
			Msg("handover rollback failed; scheduled case left received without a live case")
		return
	}
	s.logger.Warn().Str("case_id", before.ID.String()).Msg("handover rolled back")
}

// -- Status --

// AdvanceStatus moves a live case to the immediate successor of its current
// status. Asking for the status the case already has returns it unchanged.
func (s *Service) AdvanceStatus(ctx context.Context, id uuid.UUID, to LiveStatus) (lc *LiveCase, err error) {
	defer func() { s.metrics.ObserveTransition(string(to), metrics.Outcome(err)) }()

	if !to.Valid() {
		return nil, apperr.Validation("unknown live status: %q", to)
	}
	lc, err = s.live.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if lc.Status == to {
		return lc, nil
	}
	if next, ok := lc.Status.Next(); !ok || next != to {
		return nil, fmt.Errorf("%w: live case %s cannot go from %s to %s",
			apperr.ErrInvalidTransition, id, lc.Status, to)
	}

	now := s.now().UTC()
	stampEntry(lc, to, now)
	lc.Status = to
	lc.LastModified = now
	if err := s.live.Update(ctx, lc); err != nil {
		return nil, err
	}
	s.publishCase(ctx, events.CaseStatusAdvanced, id, &lc.Room, string(to))
	return lc, nil
}

// -- helpers --

func (s *Service) checkRoom(ctx context.Context, room string) error {
	if !ValidRoomID(room) {
		return apperr.Validation("invalid room id: %q", room)
	}
	if _, err := s.rooms.GetByID(ctx, room); err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return apperr.Validation("unknown room: %s", room)
		}
		return err
	}
	return nil
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

func (s *Service) publishCase(ctx context.Context, t events.Type, id uuid.UUID, room *string, status string) {
	ev := events.Event{Type: t, CaseID: id.String(), Status: status}
	if room != nil {
		ev.Room = *room
	}
	s.publish(ctx, ev)
}

func (s *Service) publish(ctx context.Context, ev events.Event) {
	ev.Facility = db.FacilityFromContext(ctx)
	ev.At = s.now().UTC()
	if err := s.publisher.Publish(ctx, ev); err != nil {
		s.logger.Warn().Err(err).Str("event", string(ev.Type)).Msg("publish failed")
	}
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "unknown time"
	}
	return t.Format(time.RFC3339)
}

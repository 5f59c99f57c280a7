package surgery

import (
	"regexp"
	"time"

	"github.com/google/uuid"
)

var roomIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,31}$`)

// ValidRoomID reports whether id is a usable room code such as "OR-1".
func ValidRoomID(id string) bool {
	return roomIDPattern.MatchString(id)
}

// ORRoom maps to the or_room table. Rooms are keyed by their short code.
type ORRoom struct {
	ID        string    `db:"id" json:"id"`
	Name      string    `db:"name" json:"name"`
	IsActive  bool      `db:"is_active" json:"is_active"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// Team is the staff attached to a case. It is stored as JSON on the case row.
type Team struct {
	AnesthesiologistID *uuid.UUID  `json:"anesthesiologist_id,omitempty"`
	NurseIDs           []uuid.UUID `json:"nurse_ids"`
}

func (t *Team) staffIDs() []uuid.UUID {
	if t == nil {
		return nil
	}
	var ids []uuid.UUID
	if t.AnesthesiologistID != nil {
		ids = append(ids, *t.AnesthesiologistID)
	}
	return append(ids, t.NurseIDs...)
}

// ScheduledCase maps to the scheduled_case table. After handover the row is
// kept, read-only, as the record of the handoff.
type ScheduledCase struct {
	ID            uuid.UUID      `db:"id" json:"id"`
	PatientName   string         `db:"patient_name" json:"patient_name"`
	MRN           string         `db:"mrn" json:"mrn"`
	Procedure     string         `db:"procedure" json:"procedure"`
	DoctorName    string         `db:"doctor_name" json:"doctor_name"`
	ScheduledAt   time.Time      `db:"scheduled_at" json:"scheduled_at"`
	Room          *string        `db:"room" json:"room,omitempty"`
	AssignedTeam  *Team          `db:"assigned_team" json:"assigned_team,omitempty"`
	Status        ScheduleStatus `db:"status" json:"status"`
	HandoverNotes *string        `db:"handover_notes" json:"handover_notes,omitempty"`
	HandoverTime  *time.Time     `db:"handover_time" json:"handover_time,omitempty"`
	ReceivingTeam []uuid.UUID    `db:"receiving_team" json:"receiving_team,omitempty"`
	CreatedAt     time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time      `db:"updated_at" json:"updated_at"`
}

// LiveCase maps to the live_case table. Its id is the id of the scheduled
// case it was handed over from.
type LiveCase struct {
	ID              uuid.UUID  `db:"id" json:"id"`
	CaseID          uuid.UUID  `db:"case_id" json:"case_id"`
	PatientName     string     `db:"patient_name" json:"patient_name"`
	MRN             string     `db:"mrn" json:"mrn"`
	Procedure       string     `db:"procedure" json:"procedure"`
	DoctorName      string     `db:"doctor_name" json:"doctor_name"`
	Room            string     `db:"room" json:"room"`
	Team            *Team      `db:"team" json:"team,omitempty"`
	Status          LiveStatus `db:"status" json:"status"`
	StartTime       *time.Time `db:"start_time" json:"start_time,omitempty"`
	ActualStartTime *time.Time `db:"actual_start_time" json:"actual_start_time,omitempty"`
	EndTime         *time.Time `db:"end_time" json:"end_time,omitempty"`
	LastModified    time.Time  `db:"last_modified" json:"last_modified"`
}

// newLiveCase builds the live case a handover creates from sc.
func newLiveCase(sc *ScheduledCase, now time.Time) *LiveCase {
	lc := &LiveCase{
		ID:           sc.ID,
		CaseID:       sc.ID,
		PatientName:  sc.PatientName,
		MRN:          sc.MRN,
		Procedure:    sc.Procedure,
		DoctorName:   sc.DoctorName,
		Team:         sc.AssignedTeam,
		Status:       LivePreparation,
		StartTime:    &now,
		LastModified: now,
	}
	if sc.Room != nil {
		lc.Room = *sc.Room
	}
	return lc
}

// CaseFilter narrows case listings. Zero values match everything. From and
// To bound scheduled_at as [From, To).
type CaseFilter struct {
	From   *time.Time
	To     *time.Time
	Room   string
	Status string
}

// ScheduledCasePatch carries the fields of an update. Nil fields are left
// unchanged; an empty Room clears the room.
type ScheduledCasePatch struct {
	PatientName  *string         `json:"patient_name"`
	MRN          *string         `json:"mrn"`
	Procedure    *string         `json:"procedure"`
	DoctorName   *string         `json:"doctor_name"`
	ScheduledAt  *time.Time      `json:"scheduled_at"`
	Room         *string         `json:"room"`
	AssignedTeam *Team           `json:"assigned_team"`
	Status       *ScheduleStatus `json:"status"`
}

// CaseKind tells a scheduled case from a live one in GetCase results.
type CaseKind string

const (
	KindScheduled CaseKind = "scheduled"
	KindLive      CaseKind = "live"
)

// CaseView is the result of looking a case up by id: the live case when one
// exists, otherwise the scheduled case.
type CaseView struct {
	Kind      CaseKind       `json:"kind"`
	Live      *LiveCase      `json:"live_case,omitempty"`
	Scheduled *ScheduledCase `json:"scheduled_case,omitempty"`
}

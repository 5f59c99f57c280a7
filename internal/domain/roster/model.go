// Package roster stores the per-day shift and room assignments and detects
// staff booked into more than one shift.
package roster

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/periop/periop/internal/domain/surgery"
	"github.com/periop/periop/internal/platform/apperr"
)

type ShiftKey string

const (
	ShiftMorning   ShiftKey = "morning"
	ShiftAfternoon ShiftKey = "afternoon"
	ShiftNight     ShiftKey = "night"
)

// ShiftKeys lists the buckets in canonical order.
var ShiftKeys = []ShiftKey{ShiftMorning, ShiftAfternoon, ShiftNight}

func (k ShiftKey) Valid() bool {
	switch k {
	case ShiftMorning, ShiftAfternoon, ShiftNight:
		return true
	}
	return false
}

func ParseShiftKey(s string) (ShiftKey, error) {
	k := ShiftKey(strings.ToLower(strings.TrimSpace(s)))
	if !k.Valid() {
		return "", apperr.Validation("unknown shift: %q", s)
	}
	return k, nil
}

// ShiftAssignment maps to the shift_assignment table: one row per Day,
// replaced wholesale on save.
type ShiftAssignment struct {
	Day            Day                      `db:"day" json:"day"`
	Version        int                      `db:"version" json:"version"`
	SpecialistPool []uuid.UUID              `db:"specialist_pool" json:"specialist_pool"`
	Buckets        map[ShiftKey][]uuid.UUID `db:"shift_buckets" json:"shift_buckets"`
	UpdatedAt      time.Time                `db:"updated_at" json:"updated_at"`
}

// NewShiftAssignment returns an empty, unsaved assignment for day.
func NewShiftAssignment(day Day) *ShiftAssignment {
	a := &ShiftAssignment{Day: day}
	a.normalize()
	return a
}

// normalize makes every bucket present and replaces nil lists with empty
// ones so the JSON form is stable.
func (a *ShiftAssignment) normalize() {
	if a.SpecialistPool == nil {
		a.SpecialistPool = []uuid.UUID{}
	}
	if a.Buckets == nil {
		a.Buckets = make(map[ShiftKey][]uuid.UUID, len(ShiftKeys))
	}
	for _, k := range ShiftKeys {
		if a.Buckets[k] == nil {
			a.Buckets[k] = []uuid.UUID{}
		}
	}
}

func (a *ShiftAssignment) validate() error {
	if err := a.Day.Validate(); err != nil {
		return err
	}
	for k := range a.Buckets {
		if !k.Valid() {
			return apperr.Validation("unknown shift bucket: %q", k)
		}
	}
	if err := checkList("specialist_pool", a.SpecialistPool); err != nil {
		return err
	}
	for _, k := range ShiftKeys {
		if err := checkList(string(k), a.Buckets[k]); err != nil {
			return err
		}
	}
	return nil
}

func checkList(name string, ids []uuid.UUID) error {
	seen := make(map[uuid.UUID]bool, len(ids))
	for _, id := range ids {
		if id == uuid.Nil {
			return apperr.Validation("%s: nil staff id", name)
		}
		if seen[id] {
			return apperr.Validation("%s: staff %s listed twice", name, id)
		}
		seen[id] = true
	}
	return nil
}

// OnDuty returns the specialist pool followed by the given bucket, without
// duplicates.
func (a *ShiftAssignment) OnDuty(shift ShiftKey) []uuid.UUID {
	out := make([]uuid.UUID, 0, len(a.SpecialistPool)+len(a.Buckets[shift]))
	seen := make(map[uuid.UUID]bool)
	for _, list := range [][]uuid.UUID{a.SpecialistPool, a.Buckets[shift]} {
		for _, id := range list {
			if !seen[id] {
				seen[id] = true
				out = append(out, id)
			}
		}
	}
	return out
}

// Members is every staff id on the roster for the day.
func (a *ShiftAssignment) Members() map[uuid.UUID]bool {
	all := make(map[uuid.UUID]bool)
	for _, id := range a.SpecialistPool {
		all[id] = true
	}
	for _, k := range ShiftKeys {
		for _, id := range a.Buckets[k] {
			all[id] = true
		}
	}
	return all
}

func (a *ShiftAssignment) staffIDs() []uuid.UUID {
	var ids []uuid.UUID
	ids = append(ids, a.SpecialistPool...)
	for _, k := range ShiftKeys {
		ids = append(ids, a.Buckets[k]...)
	}
	return ids
}

// RoomAssignment maps to the room_assignment table: the staff explicitly
// working each room on a Day.
type RoomAssignment struct {
	Day       Day                    `db:"day" json:"day"`
	Version   int                    `db:"version" json:"version"`
	Rooms     map[string][]uuid.UUID `db:"rooms" json:"rooms"`
	UpdatedAt time.Time              `db:"updated_at" json:"updated_at"`
}

func NewRoomAssignment(day Day) *RoomAssignment {
	return &RoomAssignment{Day: day, Rooms: map[string][]uuid.UUID{}}
}

func (r *RoomAssignment) validate() error {
	if err := r.Day.Validate(); err != nil {
		return err
	}
	if r.Rooms == nil {
		r.Rooms = map[string][]uuid.UUID{}
	}
	for room, ids := range r.Rooms {
		if !surgery.ValidRoomID(room) {
			return apperr.Validation("invalid room id: %q", room)
		}
		if ids == nil {
			r.Rooms[room] = []uuid.UUID{}
		}
		if err := checkList(fmt.Sprintf("room %s", room), ids); err != nil {
			return err
		}
	}
	return nil
}

// Conflict is a staff member booked into two or more shift buckets on one
// Day. It is advisory and never stored.
type Conflict struct {
	StaffID uuid.UUID  `json:"staff_id"`
	Shifts  []ShiftKey `json:"shifts"`
}

// Warning flags a room assignment entry for staff not rostered that Day.
type Warning struct {
	Room    string    `json:"room"`
	StaffID uuid.UUID `json:"staff_id"`
	Message string    `json:"message"`
}

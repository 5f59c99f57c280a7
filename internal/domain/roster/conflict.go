package roster

import (
	"sort"

	"github.com/google/uuid"
)

// DetectConflicts returns every staff id found in two or more shift buckets,
// once each, sorted by id with shifts in canonical order. Staff in the
// specialist pool are on duty all day and are never reported.
func DetectConflicts(a ShiftAssignment) []Conflict {
	pool := make(map[uuid.UUID]bool, len(a.SpecialistPool))
	for _, id := range a.SpecialistPool {
		pool[id] = true
	}

	shifts := make(map[uuid.UUID][]ShiftKey)
	for _, k := range ShiftKeys {
		inBucket := make(map[uuid.UUID]bool)
		for _, id := range a.Buckets[k] {
			if pool[id] || inBucket[id] {
				continue
			}
			inBucket[id] = true
			shifts[id] = append(shifts[id], k)
		}
	}

	conflicts := []Conflict{}
	for id, keys := range shifts {
		if len(keys) > 1 {
			conflicts = append(conflicts, Conflict{StaffID: id, Shifts: keys})
		}
	}
	sort.Slice(conflicts, func(i, j int) bool {
		return conflicts[i].StaffID.String() < conflicts[j].StaffID.String()
	})
	return conflicts
}

// roomWarnings flags room entries for staff absent from the Day's roster.
func roomWarnings(shift *ShiftAssignment, rooms map[string][]uuid.UUID) []Warning {
	members := shift.Members()
	names := make([]string, 0, len(rooms))
	for room := range rooms {
		names = append(names, room)
	}
	sort.Strings(names)

	warnings := []Warning{}
	for _, room := range names {
		for _, id := range rooms[room] {
			if !members[id] {
				warnings = append(warnings, Warning{
					Room:    room,
					StaffID: id,
					Message: "staff member is not on the shift roster for this day",
				})
			}
		}
	}
	return warnings
}

package occupancy

import (
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/periop/periop/internal/domain/staff"
	"github.com/periop/periop/internal/domain/surgery"
)

// CaseCard is one case as shown on a room board.
type CaseCard struct {
	ID              uuid.UUID  `json:"id"`
	PatientName     string     `json:"patient_name"`
	MRN             string     `json:"mrn"`
	Procedure       string     `json:"procedure"`
	DoctorName      string     `json:"doctor_name"`
	ScheduledAt     time.Time  `json:"scheduled_at"`
	Source          Source     `json:"source"`
	Status          string     `json:"status"`
	Category        Category   `json:"category"`
	ActualStartTime *time.Time `json:"actual_start_time,omitempty"`
}

// RoomView is a room's board: its category, the case driving it and the
// cases queued behind, plus the staff working it.
type RoomView struct {
	Room     string               `json:"room"`
	Name     string               `json:"name"`
	Category Category             `json:"category"`
	Primary  *CaseCard            `json:"primary,omitempty"`
	Queue    []CaseCard           `json:"queue"`
	Staff    []*staff.StaffMember `json:"staff"`
}

// Input is everything Merge needs for one Day.
type Input struct {
	Rooms []*surgery.ORRoom
	Cases []*surgery.ScheduledCase
	// Live holds the live case for each handed-over case, by case id.
	Live map[uuid.UUID]*surgery.LiveCase
	// Staff holds the resolved, on-duty roster of each assigned room.
	Staff map[string][]*staff.StaffMember
}

// Merge builds one RoomView per room, sorted by room id. Idle cases and
// cases without a room are left out. Within a room cases are ordered by
// scheduled time, then id; the first is the primary.
func Merge(in Input) []RoomView {
	names := make(map[string]string, len(in.Rooms))
	for _, r := range in.Rooms {
		names[r.ID] = r.Name
	}

	groups := make(map[string][]CaseCard)
	for _, sc := range in.Cases {
		card, room := cardFor(sc, in.Live[sc.ID])
		if room == "" || card.Category == Available {
			continue
		}
		groups[room] = append(groups[room], card)
	}

	seen := make(map[string]bool)
	var ids []string
	add := func(id string) {
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	for id := range names {
		add(id)
	}
	for id := range groups {
		add(id)
	}
	for id := range in.Staff {
		add(id)
	}
	sort.Strings(ids)

	views := make([]RoomView, 0, len(ids))
	for _, id := range ids {
		v := RoomView{
			Room:     id,
			Name:     names[id],
			Category: Available,
			Queue:    []CaseCard{},
			Staff:    in.Staff[id],
		}
		if v.Name == "" {
			v.Name = id
		}
		if v.Staff == nil {
			v.Staff = []*staff.StaffMember{}
		}
		if cards := groups[id]; len(cards) > 0 {
			sort.Slice(cards, func(i, j int) bool {
				if !cards[i].ScheduledAt.Equal(cards[j].ScheduledAt) {
					return cards[i].ScheduledAt.Before(cards[j].ScheduledAt)
				}
				return cards[i].ID.String() < cards[j].ID.String()
			})
			primary := cards[0]
			v.Primary = &primary
			v.Category = primary.Category
			v.Queue = cards[1:]
		}
		views = append(views, v)
	}
	return views
}

// cardFor returns the card for sc and the room it occupies. A live case
// overrides the schedule's status and room.
func cardFor(sc *surgery.ScheduledCase, lc *surgery.LiveCase) (CaseCard, string) {
	card := CaseCard{
		ID:          sc.ID,
		PatientName: sc.PatientName,
		MRN:         sc.MRN,
		Procedure:   sc.Procedure,
		DoctorName:  sc.DoctorName,
		ScheduledAt: sc.ScheduledAt,
		Source:      SourceSchedule,
		Status:      string(sc.Status),
	}
	var room string
	if sc.Room != nil {
		room = *sc.Room
	}
	if lc != nil {
		card.Source = SourceLive
		card.Status = string(lc.Status)
		card.ActualStartTime = lc.ActualStartTime
		if lc.Room != "" {
			room = lc.Room
		}
	}
	card.Category = CategoryOf(card.Source, card.Status)
	return card, room
}

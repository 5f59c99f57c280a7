package occupancy

import (
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/periop/periop/internal/domain/staff"
	"github.com/periop/periop/internal/domain/surgery"
)

var base = time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)

func scheduled(room string, at time.Duration, status surgery.ScheduleStatus) *surgery.ScheduledCase {
	sc := &surgery.ScheduledCase{
		ID:          uuid.New(),
		PatientName: "Patient",
		ScheduledAt: base.Add(at),
		Status:      status,
	}
	if room != "" {
		sc.Room = &room
	}
	return sc
}

func find(t *testing.T, views []RoomView, room string) RoomView {
	t.Helper()
	for _, v := range views {
		if v.Room == room {
			return v
		}
	}
	t.Fatalf("room %s not in views", room)
	return RoomView{}
}

func TestMerge_OrdersByScheduledTime(t *testing.T) {
	t3 := scheduled("OR-1", 3*time.Hour, surgery.ScheduleConfirmed)
	t1 := scheduled("OR-1", time.Hour, surgery.ScheduleConfirmed)
	t2 := scheduled("OR-1", 2*time.Hour, surgery.ScheduleCalled)

	views := Merge(Input{Cases: []*surgery.ScheduledCase{t3, t1, t2}})
	if len(views) != 1 {
		t.Fatalf("expected 1 room, got %d", len(views))
	}
	v := views[0]
	if v.Primary == nil || v.Primary.ID != t1.ID {
		t.Fatalf("expected T1 primary, got %+v", v.Primary)
	}
	if len(v.Queue) != 2 || v.Queue[0].ID != t2.ID || v.Queue[1].ID != t3.ID {
		t.Errorf("unexpected queue %+v", v.Queue)
	}
	if v.Category != Preparation {
		t.Errorf("expected preparation, got %s", v.Category)
	}
}

func TestMerge_TiesBreakByID(t *testing.T) {
	a := scheduled("OR-1", time.Hour, surgery.ScheduleConfirmed)
	b := scheduled("OR-1", time.Hour, surgery.ScheduleConfirmed)
	first, second := a, b
	if b.ID.String() < a.ID.String() {
		first, second = b, a
	}
	for _, order := range [][]*surgery.ScheduledCase{{a, b}, {b, a}} {
		v := Merge(Input{Cases: order})[0]
		if v.Primary.ID != first.ID || v.Queue[0].ID != second.ID {
			t.Errorf("order depends on input: primary %s", v.Primary.ID)
		}
	}
}

func TestMerge_EmptyRoomIsAvailable(t *testing.T) {
	views := Merge(Input{Rooms: []*surgery.ORRoom{{ID: "OR-2", Name: "Cardiac"}}})
	v := find(t, views, "OR-2")
	if v.Category != Available || v.Primary != nil || len(v.Queue) != 0 {
		t.Errorf("unexpected view %+v", v)
	}
	if v.Name != "Cardiac" || v.Staff == nil {
		t.Errorf("expected name and empty staff list, got %+v", v)
	}
}

func TestMerge_SkipsIdleAndRoomless(t *testing.T) {
	idle := scheduled("OR-1", time.Hour, surgery.ScheduleScheduled)
	cancelled := scheduled("OR-1", 2*time.Hour, surgery.ScheduleCancelled)
	roomless := scheduled("", time.Hour, surgery.ScheduleConfirmed)
	active := scheduled("OR-1", 3*time.Hour, surgery.ScheduleConfirmed)

	views := Merge(Input{Cases: []*surgery.ScheduledCase{idle, cancelled, roomless, active}})
	if len(views) != 1 {
		t.Fatalf("expected 1 room, got %d", len(views))
	}
	if views[0].Primary.ID != active.ID || len(views[0].Queue) != 0 {
		t.Errorf("unexpected view %+v", views[0])
	}
}

func TestMerge_LiveStatusWins(t *testing.T) {
	running := scheduled("OR-1", time.Hour, surgery.ScheduleReceived)
	next := scheduled("OR-1", 2*time.Hour, surgery.ScheduleConfirmed)
	done := scheduled("OR-2", time.Hour, surgery.ScheduleReceived)
	started := base.Add(70 * time.Minute)

	live := map[uuid.UUID]*surgery.LiveCase{
		running.ID: {ID: running.ID, Room: "OR-1", Status: surgery.LiveInProgress, ActualStartTime: &started},
		done.ID:    {ID: done.ID, Room: "OR-2", Status: surgery.LiveRecovery},
	}
	views := Merge(Input{Cases: []*surgery.ScheduledCase{running, next, done}, Live: live})

	v := find(t, views, "OR-1")
	if v.Category != InProgress || v.Primary.Source != SourceLive || v.Primary.ActualStartTime == nil {
		t.Errorf("unexpected primary %+v", v.Primary)
	}
	if len(v.Queue) != 1 || v.Queue[0].Category != Preparation {
		t.Errorf("unexpected queue %+v", v.Queue)
	}
	for _, v := range views {
		if v.Room == "OR-2" {
			t.Error("a case in recovery leaves the room idle and is not listed")
		}
	}
}

func TestMerge_RoomSetAndOrder(t *testing.T) {
	nurse := &staff.StaffMember{ID: uuid.New(), Name: "Sam", Role: staff.RoleNurse}
	views := Merge(Input{
		Rooms: []*surgery.ORRoom{{ID: "OR-3", Name: "OR-3"}, {ID: "OR-1", Name: "OR-1"}},
		Cases: []*surgery.ScheduledCase{scheduled("OR-9", time.Hour, surgery.ScheduleCalled)},
		Staff: map[string][]*staff.StaffMember{"OR-2": {nurse}},
	})
	want := []string{"OR-1", "OR-2", "OR-3", "OR-9"}
	if len(views) != len(want) {
		t.Fatalf("expected %v, got %d views", want, len(views))
	}
	for i, room := range want {
		if views[i].Room != room {
			t.Errorf("views[%d] = %s, want %s", i, views[i].Room, room)
		}
	}
	if v := find(t, views, "OR-2"); len(v.Staff) != 1 || v.Staff[0].ID != nurse.ID {
		t.Errorf("unexpected staff %+v", v.Staff)
	}
	if v := find(t, views, "OR-9"); v.Name != "OR-9" {
		t.Errorf("unknown room should be named by id, got %q", v.Name)
	}
}

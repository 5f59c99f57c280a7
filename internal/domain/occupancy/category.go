package occupancy

import "github.com/periop/periop/internal/domain/surgery"

// Category is the coarse display state of a case or room.
type Category string

const (
	Available   Category = "available"
	Preparation Category = "preparation"
	InProgress  Category = "in-progress"
	Cleanup     Category = "cleanup"
)

// Source tells which lifecycle a status belongs to.
type Source string

const (
	SourceSchedule Source = "schedule"
	SourceLive     Source = "live"
)

// categories is the only place a case status is turned into a display
// category. Anything missing maps to Available.
var categories = map[Source]map[string]Category{
	SourceSchedule: {
		string(surgery.ScheduleScheduled):   Available,
		string(surgery.ScheduleConfirmed):   Preparation,
		string(surgery.ScheduleReadyToCall): Preparation,
		string(surgery.ScheduleCalled):      Preparation,
		string(surgery.ScheduleReceived):    Preparation,
		string(surgery.ScheduleCancelled):   Available,
	},
	SourceLive: {
		string(surgery.LivePreparation): Preparation,
		string(surgery.LiveInProgress):  InProgress,
		string(surgery.LiveCompleted):   Cleanup,
		string(surgery.LiveRecovery):    Available,
	},
}

func CategoryOf(src Source, status string) Category {
	if c, ok := categories[src][status]; ok {
		return c
	}
	return Available
}

package surgery

import "time"

type ScheduleStatus string

const (
	ScheduleScheduled   ScheduleStatus = "scheduled"
	ScheduleConfirmed   ScheduleStatus = "confirmed"
	ScheduleReadyToCall ScheduleStatus = "ready-to-call"
	ScheduleCalled      ScheduleStatus = "called"
	ScheduleReceived    ScheduleStatus = "received"
	ScheduleCancelled   ScheduleStatus = "cancelled"
)

// scheduleTransitions lists the status changes an update may make. received
// is absent as a target: only Handover reaches it, and nothing leaves it.
var scheduleTransitions = map[ScheduleStatus][]ScheduleStatus{
	ScheduleScheduled:   {ScheduleConfirmed, ScheduleCancelled},
	ScheduleConfirmed:   {ScheduleScheduled, ScheduleReadyToCall, ScheduleCancelled},
	ScheduleReadyToCall: {ScheduleConfirmed, ScheduleCalled, ScheduleCancelled},
	ScheduleCalled:      {ScheduleReadyToCall, ScheduleCancelled},
	ScheduleCancelled:   {ScheduleScheduled},
	ScheduleReceived:    {},
}

func (s ScheduleStatus) Valid() bool {
	_, ok := scheduleTransitions[s]
	return ok
}

func (s ScheduleStatus) CanTransitionTo(to ScheduleStatus) bool {
	for _, allowed := range scheduleTransitions[s] {
		if allowed == to {
			return true
		}
	}
	return false
}

type LiveStatus string

const (
	LivePreparation LiveStatus = "preparation"
	LiveInProgress  LiveStatus = "in-progress"
	LiveCompleted   LiveStatus = "completed"
	LiveRecovery    LiveStatus = "recovery"
)

// liveTransitions maps each live status to its only successor. recovery is
// terminal.
var liveTransitions = map[LiveStatus]LiveStatus{
	LivePreparation: LiveInProgress,
	LiveInProgress:  LiveCompleted,
	LiveCompleted:   LiveRecovery,
}

func (s LiveStatus) Valid() bool {
	switch s {
	case LivePreparation, LiveInProgress, LiveCompleted, LiveRecovery:
		return true
	}
	return false
}

// Next returns the immediate successor of s.
func (s LiveStatus) Next() (LiveStatus, bool) {
	next, ok := liveTransitions[s]
	return next, ok
}

// entryStamps names the write-once timestamp set on first entry into a
// status.
var entryStamps = map[LiveStatus]func(lc *LiveCase) **time.Time{
	LiveInProgress: func(lc *LiveCase) **time.Time { return &lc.ActualStartTime },
	LiveCompleted:  func(lc *LiveCase) **time.Time { return &lc.EndTime },
	LiveRecovery:   func(lc *LiveCase) **time.Time { return &lc.EndTime },
}

// stampEntry sets the timestamp owned by status to now unless it is already
// set.
func stampEntry(lc *LiveCase, status LiveStatus, now time.Time) {
	field, ok := entryStamps[status]
	if !ok {
		return
	}
	if p := field(lc); *p == nil {
		t := now
		*p = &t
	}
}

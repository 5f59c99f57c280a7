// Package events announces case and roster changes to other instances and to
// OR display boards. Publishing is best effort: callers log failures and
// carry on.
package events

import (
	"context"
	"errors"
	"time"
)

type Type string

const (
	CaseCreated         Type = "case.created"
	CaseUpdated         Type = "case.updated"
	CaseDeleted         Type = "case.deleted"
	CaseHandedOver      Type = "case.handed-over"
	CaseStatusAdvanced  Type = "case.status-advanced"
	ShiftSaved          Type = "shift.saved"
	RoomAssignmentSaved Type = "room-assignment.saved"
	RoomChanged         Type = "room.changed"
)

type Event struct {
	Type     Type      `json:"type"`
	Facility string    `json:"facility,omitempty"`
	CaseID   string    `json:"case_id,omitempty"`
	Day      string    `json:"day,omitempty"`
	Room     string    `json:"room,omitempty"`
	Status   string    `json:"status,omitempty"`
	At       time.Time `json:"at"`
}

type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// Nop discards every event.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }

// Multi publishes to every publisher and joins their errors.
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, ev Event) error {
	var errs []error
	for _, p := range m {
		if err := p.Publish(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Observed reports the outcome of every publish to fn.
func Observed(p Publisher, fn func(t Type, err error)) Publisher {
	return observed{next: p, fn: fn}
}

type observed struct {
	next Publisher
	fn   func(Type, error)
}

func (o observed) Publish(ctx context.Context, ev Event) error {
	err := o.next.Publish(ctx, ev)
	o.fn(ev.Type, err)
	return err
}

// Func adapts a function to Publisher.
type Func func(ctx context.Context, ev Event) error

func (f Func) Publish(ctx context.Context, ev Event) error { return f(ctx, ev) }

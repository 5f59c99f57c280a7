package occupancy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/periop/periop/internal/domain/roster"
	"github.com/periop/periop/internal/platform/db"
	"github.com/periop/periop/internal/platform/websocket"
)

const snapshotEvent = "room-occupancy.snapshot"

// Sink receives occupancy snapshots. *websocket.Hub is one.
type Sink interface {
	Broadcast(event websocket.Event)
}

// Snapshot is the payload pushed to room boards.
type Snapshot struct {
	Day   roster.Day      `json:"day"`
	Shift roster.ShiftKey `json:"shift"`
	Rooms []RoomView      `json:"rooms"`
}

// Broadcaster recomputes the active Day's boards for every facility and
// pushes them to the room-occupancy topic.
type Broadcaster struct {
	svc        *Service
	sink       Sink
	facilities []string
	scope      db.FacilityScope
}

func NewBroadcaster(svc *Service, sink Sink, facilities []string, scope db.FacilityScope) *Broadcaster {
	return &Broadcaster{svc: svc, sink: sink, facilities: facilities, scope: scope}
}

func (b *Broadcaster) Name() string { return "occupancy" }

func (b *Broadcaster) Refresh(ctx context.Context) error {
	day, shift := b.svc.Active()
	var errs []error
	for _, facility := range b.facilities {
		err := b.scope(ctx, facility, func(ctx context.Context) error {
			rooms, err := b.svc.RoomOccupancy(ctx, day, &shift)
			if err != nil {
				return err
			}
			data, err := json.Marshal(Snapshot{Day: day, Shift: shift, Rooms: rooms})
			if err != nil {
				return err
			}
			b.sink.Broadcast(websocket.Event{
				Type:     snapshotEvent,
				Topic:    websocket.TopicRoomOccupancy,
				Facility: facility,
				Data:     data,
			})
			return nil
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("facility %s: %w", facility, err))
		}
	}
	return errors.Join(errs...)
}

package occupancy

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/periop/periop/internal/domain/roster"
	"github.com/periop/periop/internal/platform/apperr"
	"github.com/periop/periop/internal/platform/db"
	"github.com/periop/periop/internal/platform/websocket"
)

type recordingSink struct {
	events []websocket.Event
}

func (s *recordingSink) Broadcast(ev websocket.Event) { s.events = append(s.events, ev) }

func inlineScope(seen *[]string) db.FacilityScope {
	return func(ctx context.Context, facility string, fn func(ctx context.Context) error) error {
		*seen = append(*seen, facility)
		return fn(context.WithValue(ctx, db.FacilityIDKey, facility))
	}
}

func TestBroadcaster_PushesPerFacility(t *testing.T) {
	f := newFixture(t)
	f.setClock(time.Date(2024, 5, 1, 16, 0, 0, 0, time.UTC))
	sink := &recordingSink{}
	var seen []string
	b := NewBroadcaster(f.svc, sink, []string{"main", "east"}, inlineScope(&seen))

	if b.Name() != "occupancy" {
		t.Errorf("unexpected name %q", b.Name())
	}
	if err := b.Refresh(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(seen) != 2 || len(sink.events) != 2 {
		t.Fatalf("expected one push per facility, got %d scopes, %d events", len(seen), len(sink.events))
	}

	ev := sink.events[1]
	if ev.Facility != "east" || ev.Topic != websocket.TopicRoomOccupancy || ev.Type != snapshotEvent {
		t.Errorf("unexpected event %+v", ev)
	}
	var snap Snapshot
	if err := json.Unmarshal(ev.Data, &snap); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if snap.Day != testDay || snap.Shift != roster.ShiftAfternoon {
		t.Errorf("unexpected snapshot %s/%s", snap.Day, snap.Shift)
	}
	if got := staffIDs(find(t, snap.Rooms, "OR-1").Staff); len(got) != 2 {
		t.Errorf("expected pool and afternoon staff, got %v", got)
	}
}

func TestBroadcaster_ContinuesPastFailingFacility(t *testing.T) {
	f := newFixture(t)
	sink := &recordingSink{}
	scope := func(ctx context.Context, facility string, fn func(ctx context.Context) error) error {
		if facility == "down" {
			return apperr.ErrStorageUnavailable
		}
		return fn(ctx)
	}
	b := NewBroadcaster(f.svc, sink, []string{"down", "main"}, scope)

	err := b.Refresh(context.Background())
	if !errors.Is(err, apperr.ErrStorageUnavailable) {
		t.Fatalf("expected ErrStorageUnavailable, got %v", err)
	}
	if len(sink.events) != 1 || sink.events[0].Facility != "main" {
		t.Errorf("expected main to be pushed, got %+v", sink.events)
	}
}

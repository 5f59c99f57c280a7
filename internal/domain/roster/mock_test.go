package roster

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/periop/periop/internal/platform/apperr"
)

// In-memory repositories. Values are stored as JSON so a test sees exactly
// what a round trip through the database would return.

type mockShiftRepo struct {
	mu   sync.Mutex
	rows map[Day][]byte
}

func newMockShiftRepo() *mockShiftRepo {
	return &mockShiftRepo{rows: make(map[Day][]byte)}
}

func (m *mockShiftRepo) Get(_ context.Context, day Day) (*ShiftAssignment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	raw, ok := m.rows[day]
	if !ok {
		return nil, apperr.NotFound("shift assignment", day)
	}
	var a ShiftAssignment
	if err := json.Unmarshal(raw, &a); err != nil {
		return nil, err
	}
	a.normalize()
	return &a, nil
}

func (m *mockShiftRepo) Save(_ context.Context, a *ShiftAssignment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	version := 0
	if raw, ok := m.rows[a.Day]; ok {
		var prev ShiftAssignment
		json.Unmarshal(raw, &prev)
		version = prev.Version
	}
	a.Version = version + 1
	a.UpdatedAt = time.Now().UTC()
	raw, err := json.Marshal(a)
	if err != nil {
		return err
	}
	m.rows[a.Day] = raw
	return nil
}

type mockRoomRepo struct {
	mu   sync.Mutex
	rows map[Day]*RoomAssignment
}

func newMockRoomRepo() *mockRoomRepo {
	return &mockRoomRepo{rows: make(map[Day]*RoomAssignment)}
}

func copyRooms(in map[string][]uuid.UUID) map[string][]uuid.UUID {
	out := make(map[string][]uuid.UUID, len(in))
	for k, v := range in {
		out[k] = append([]uuid.UUID{}, v...)
	}
	return out
}

func (m *mockRoomRepo) Get(_ context.Context, day Day) (*RoomAssignment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ra, ok := m.rows[day]
	if !ok {
		return nil, apperr.NotFound("room assignment", day)
	}
	cp := *ra
	cp.Rooms = copyRooms(ra.Rooms)
	return &cp, nil
}

func (m *mockRoomRepo) Save(_ context.Context, ra *RoomAssignment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	version := 0
	if prev, ok := m.rows[ra.Day]; ok {
		version = prev.Version
	}
	ra.Version = version + 1
	ra.UpdatedAt = time.Now().UTC()
	cp := *ra
	cp.Rooms = copyRooms(ra.Rooms)
	m.rows[ra.Day] = &cp
	return nil
}

func (m *mockRoomRepo) SaveRoom(_ context.Context, day Day, room string, staff []uuid.UUID) (*RoomAssignment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ra, ok := m.rows[day]
	if !ok {
		ra = NewRoomAssignment(day)
		m.rows[day] = ra
	}
	ra.Rooms[room] = append([]uuid.UUID{}, staff...)
	ra.Version++
	ra.UpdatedAt = time.Now().UTC()
	cp := *ra
	cp.Rooms = copyRooms(ra.Rooms)
	return &cp, nil
}

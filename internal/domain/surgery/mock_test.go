package surgery

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/periop/periop/internal/platform/apperr"
)

// table is an in-memory table of JSON rows. Storing JSON gives each read a
// fresh copy, as the database would.
type table[K comparable, V any] struct {
	mu     sync.Mutex
	entity string
	rows   map[K][]byte
}

func newTable[K comparable, V any](entity string) *table[K, V] {
	return &table[K, V]{entity: entity, rows: make(map[K][]byte)}
}

func (t *table[K, V]) get(id K) (*V, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	raw, ok := t.rows[id]
	if !ok {
		return nil, apperr.NotFound(t.entity, id)
	}
	var v V
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	return &v, nil
}

func (t *table[K, V]) put(id K, v *V) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rows[id] = raw
	return nil
}

func (t *table[K, V]) has(id K) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.rows[id]
	return ok
}

func (t *table[K, V]) remove(id K) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.rows[id]; !ok {
		return apperr.NotFound(t.entity, id)
	}
	delete(t.rows, id)
	return nil
}

func (t *table[K, V]) all() []*V {
	t.mu.Lock()
	keys := make([]K, 0, len(t.rows))
	for k := range t.rows {
		keys = append(keys, k)
	}
	t.mu.Unlock()
	out := make([]*V, 0, len(keys))
	for _, k := range keys {
		if v, err := t.get(k); err == nil {
			out = append(out, v)
		}
	}
	return out
}

func (t *table[K, V]) snapshot() map[K][]byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	cp := make(map[K][]byte, len(t.rows))
	for k, v := range t.rows {
		cp[k] = v
	}
	return cp
}

func (t *table[K, V]) restore(rows map[K][]byte) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rows = rows
}

func page[V any](items []*V, limit, offset int) ([]*V, int) {
	total := len(items)
	if offset >= total {
		return []*V{}, total
	}
	end := offset + limit
	if limit <= 0 || end > total {
		end = total
	}
	return items[offset:end], total
}

// -- rooms --

type mockRoomRepo struct{ *table[string, ORRoom] }

func newMockRoomRepo() *mockRoomRepo {
	return &mockRoomRepo{newTable[string, ORRoom]("or room")}
}

func (m *mockRoomRepo) Create(_ context.Context, r *ORRoom) error {
	if m.has(r.ID) {
		return apperr.Validation("room %s already exists", r.ID)
	}
	r.CreatedAt = time.Now().UTC()
	r.UpdatedAt = r.CreatedAt
	return m.put(r.ID, r)
}

func (m *mockRoomRepo) GetByID(_ context.Context, id string) (*ORRoom, error) { return m.get(id) }

func (m *mockRoomRepo) Update(_ context.Context, r *ORRoom) error {
	if !m.has(r.ID) {
		return apperr.NotFound("or room", r.ID)
	}
	r.UpdatedAt = time.Now().UTC()
	return m.put(r.ID, r)
}

func (m *mockRoomRepo) Delete(_ context.Context, id string) error { return m.remove(id) }

func (m *mockRoomRepo) List(_ context.Context, activeOnly bool, limit, offset int) ([]*ORRoom, int, error) {
	var items []*ORRoom
	for _, r := range m.all() {
		if !activeOnly || r.IsActive {
			items = append(items, r)
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })
	out, total := page(items, limit, offset)
	return out, total, nil
}

// -- scheduled cases --

type mockScheduledRepo struct {
	*table[uuid.UUID, ScheduledCase]
	updates   int
	updateErr error
}

func newMockScheduledRepo() *mockScheduledRepo {
	return &mockScheduledRepo{table: newTable[uuid.UUID, ScheduledCase]("scheduled case")}
}

func (m *mockScheduledRepo) Create(_ context.Context, sc *ScheduledCase) error {
	if sc.ID == uuid.Nil {
		sc.ID = uuid.New()
	}
	sc.CreatedAt = time.Now().UTC()
	sc.UpdatedAt = sc.CreatedAt
	return m.put(sc.ID, sc)
}

func (m *mockScheduledRepo) GetByID(_ context.Context, id uuid.UUID) (*ScheduledCase, error) {
	return m.get(id)
}

func (m *mockScheduledRepo) Update(_ context.Context, sc *ScheduledCase) error {
	m.updates++
	if m.updateErr != nil {
		return m.updateErr
	}
	if !m.has(sc.ID) {
		return apperr.NotFound("scheduled case", sc.ID)
	}
	sc.UpdatedAt = time.Now().UTC()
	return m.put(sc.ID, sc)
}

func (m *mockScheduledRepo) Delete(_ context.Context, id uuid.UUID) error { return m.remove(id) }

func (m *mockScheduledRepo) List(_ context.Context, f CaseFilter, limit, offset int) ([]*ScheduledCase, int, error) {
	var items []*ScheduledCase
	for _, sc := range m.all() {
		if matches(f, sc.ScheduledAt, sc.Room, string(sc.Status)) {
			items = append(items, sc)
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ScheduledAt.Before(items[j].ScheduledAt) })
	out, total := page(items, limit, offset)
	return out, total, nil
}

func matches(f CaseFilter, at time.Time, room *string, status string) bool {
	if f.From != nil && at.Before(*f.From) {
		return false
	}
	if f.To != nil && !at.Before(*f.To) {
		return false
	}
	if f.Room != "" && (room == nil || *room != f.Room) {
		return false
	}
	return f.Status == "" || f.Status == status
}

// -- live cases --

type mockLiveRepo struct {
	*table[uuid.UUID, LiveCase]
	createErr error
}

func newMockLiveRepo() *mockLiveRepo {
	return &mockLiveRepo{table: newTable[uuid.UUID, LiveCase]("live case")}
}

func (m *mockLiveRepo) Create(_ context.Context, lc *LiveCase) error {
	if m.createErr != nil {
		return m.createErr
	}
	if m.has(lc.ID) {
		return &pgconn.PgError{Code: "23505", ConstraintName: "live_case_pkey"}
	}
	return m.put(lc.ID, lc)
}

func (m *mockLiveRepo) GetByID(_ context.Context, id uuid.UUID) (*LiveCase, error) { return m.get(id) }

func (m *mockLiveRepo) GetMany(_ context.Context, ids []uuid.UUID) ([]*LiveCase, error) {
	var out []*LiveCase
	for _, id := range ids {
		if lc, err := m.get(id); err == nil {
			out = append(out, lc)
		}
	}
	return out, nil
}

// Update keeps timestamps that are already stored, like the COALESCE in the
// Postgres repository.
func (m *mockLiveRepo) Update(_ context.Context, lc *LiveCase) error {
	prev, err := m.get(lc.ID)
	if err != nil {
		return err
	}
	keep := func(stored, incoming *time.Time) *time.Time {
		if stored != nil {
			return stored
		}
		return incoming
	}
	lc.StartTime = keep(prev.StartTime, lc.StartTime)
	lc.ActualStartTime = keep(prev.ActualStartTime, lc.ActualStartTime)
	lc.EndTime = keep(prev.EndTime, lc.EndTime)
	return m.put(lc.ID, lc)
}

func (m *mockLiveRepo) Delete(_ context.Context, id uuid.UUID) error { return m.remove(id) }

func (m *mockLiveRepo) List(_ context.Context, f CaseFilter, limit, offset int) ([]*LiveCase, int, error) {
	var items []*LiveCase
	for _, lc := range m.all() {
		var start time.Time
		if lc.StartTime != nil {
			start = *lc.StartTime
		}
		room := lc.Room
		if matches(f, start, &room, string(lc.Status)) {
			items = append(items, lc)
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ID.String() < items[j].ID.String() })
	out, total := page(items, limit, offset)
	return out, total, nil
}

// fakeTx rolls both case tables back when fn fails.
type fakeTx struct {
	scheduled *mockScheduledRepo
	live      *mockLiveRepo
	calls     int
}

func (f *fakeTx) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	f.calls++
	sc, lc := f.scheduled.snapshot(), f.live.snapshot()
	if err := fn(ctx); err != nil {
		f.scheduled.restore(sc)
		f.live.restore(lc)
		return err
	}
	return nil
}

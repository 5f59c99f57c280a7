package staff

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/periop/periop/internal/platform/apperr"
)

type mockRepo struct {
	members map[uuid.UUID]*StaffMember
	failAt  int
	upserts int
}

func newMockRepo(members ...*StaffMember) *mockRepo {
	m := &mockRepo{members: make(map[uuid.UUID]*StaffMember)}
	for _, s := range members {
		m.members[s.ID] = s
	}
	return m
}

func (m *mockRepo) GetByID(_ context.Context, id uuid.UUID) (*StaffMember, error) {
	s, ok := m.members[id]
	if !ok {
		return nil, apperr.NotFound("staff member", id)
	}
	return s, nil
}

func (m *mockRepo) GetMany(_ context.Context, ids []uuid.UUID) ([]*StaffMember, error) {
	var out []*StaffMember
	for _, id := range ids {
		if s, ok := m.members[id]; ok {
			out = append(out, s)
		}
	}
	return out, nil
}

func (m *mockRepo) List(_ context.Context, f Filter, limit, offset int) ([]*StaffMember, int, error) {
	var out []*StaffMember
	for _, s := range m.members {
		if f.Role != "" && s.Role != f.Role {
			continue
		}
		if f.Department != "" && (s.Department == nil || *s.Department != f.Department) {
			continue
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	total := len(out)
	if offset > len(out) {
		offset = len(out)
	}
	out = out[offset:]
	if limit < len(out) {
		out = out[:limit]
	}
	return out, total, nil
}

func (m *mockRepo) Upsert(_ context.Context, s *StaffMember) error {
	m.upserts++
	if m.failAt > 0 && m.upserts == m.failAt {
		return errors.New("write failed")
	}
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	s.UpdatedAt = time.Now()
	m.members[s.ID] = s
	return nil
}

func member(name string, role Role) *StaffMember {
	return &StaffMember{ID: uuid.New(), Name: name, Role: role}
}

func TestResolve_InputOrderAndDedup(t *testing.T) {
	a, b, c := member("Ada", RoleNurse), member("Ben", RoleSurgeon), member("Cy", RoleAnesthesiologist)
	svc := NewService(newMockRepo(a, b, c))

	got, err := svc.Resolve(context.Background(), []uuid.UUID{c.ID, a.ID, c.ID, b.ID})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 members, got %d", len(got))
	}
	for i, want := range []*StaffMember{c, a, b} {
		if got[i].ID != want.ID {
			t.Errorf("position %d: got %s, want %s", i, got[i].Name, want.Name)
		}
	}
}

func TestResolve_Missing(t *testing.T) {
	a := member("Ada", RoleNurse)
	svc := NewService(newMockRepo(a))

	_, err := svc.Resolve(context.Background(), []uuid.UUID{a.ID, uuid.New()})
	if !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestResolve_Empty(t *testing.T) {
	svc := NewService(newMockRepo())
	got, err := svc.Resolve(context.Background(), nil)
	if err != nil || got != nil {
		t.Fatalf("expected nil, nil; got %v, %v", got, err)
	}
}

func TestList_InvalidRole(t *testing.T) {
	svc := NewService(newMockRepo())
	_, _, err := svc.List(context.Background(), Filter{Role: "janitor"}, 10, 0)
	if !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}

func TestImport_ValidatesBeforeWriting(t *testing.T) {
	repo := newMockRepo()
	svc := NewService(repo)

	_, err := svc.Import(context.Background(), []*StaffMember{
		{Name: "Ada", Role: RoleNurse},
		{Name: "  ", Role: RoleNurse},
	})
	if !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
	if repo.upserts != 0 {
		t.Errorf("expected no writes, got %d", repo.upserts)
	}
}

func TestImport_Writes(t *testing.T) {
	repo := newMockRepo()
	svc := NewService(repo)

	n, err := svc.Import(context.Background(), []*StaffMember{
		{Name: " Ada ", Role: RoleNurse},
		{Name: "Ben", Role: RoleSurgeon},
	})
	if err != nil {
		t.Fatalf("Import: %v", err)
	}
	if n != 2 || len(repo.members) != 2 {
		t.Errorf("expected 2 members written, got n=%d stored=%d", n, len(repo.members))
	}
	for _, m := range repo.members {
		if m.Name == " Ada " {
			t.Error("expected name to be trimmed")
		}
	}
}

func TestImport_PartialFailureCount(t *testing.T) {
	repo := newMockRepo()
	repo.failAt = 2
	svc := NewService(repo)

	n, err := svc.Import(context.Background(), []*StaffMember{
		{Name: "Ada", Role: RoleNurse},
		{Name: "Ben", Role: RoleSurgeon},
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if n != 1 {
		t.Errorf("expected 1 written before failure, got %d", n)
	}
}

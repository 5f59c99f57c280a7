package staff

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"github.com/periop/periop/internal/platform/apperr"
)

// Service is the directory backed by the facility database.
type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*StaffMember, error) {
	m, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return m, nil
}

func (s *Service) Resolve(ctx context.Context, ids []uuid.UUID) ([]*StaffMember, error) {
	ids = distinct(ids)
	if len(ids) == 0 {
		return nil, nil
	}
	found, err := s.repo.GetMany(ctx, ids)
	if err != nil {
		return nil, err
	}
	return orderByIDs(ids, found)
}

func (s *Service) List(ctx context.Context, f Filter, limit, offset int) ([]*StaffMember, int, error) {
	if f.Role != "" && !f.Role.Valid() {
		return nil, 0, apperr.Validation("invalid role: %s", f.Role)
	}
	return s.repo.List(ctx, f, limit, offset)
}

// Import validates every member before writing any of them, then upserts
// them by id. It returns the number written.
func (s *Service) Import(ctx context.Context, members []*StaffMember) (int, error) {
	for i, m := range members {
		m.Name = strings.TrimSpace(m.Name)
		if m.Name == "" {
			return 0, apperr.Validation("record %d: name is required", i+1)
		}
		if !m.Role.Valid() {
			return 0, apperr.Validation("record %d: invalid role: %q", i+1, m.Role)
		}
	}
	for i, m := range members {
		if err := s.repo.Upsert(ctx, m); err != nil {
			return i, err
		}
	}
	return len(members), nil
}

func distinct(ids []uuid.UUID) []uuid.UUID {
	seen := make(map[uuid.UUID]bool, len(ids))
	out := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

func orderByIDs(ids []uuid.UUID, found []*StaffMember) ([]*StaffMember, error) {
	byID := make(map[uuid.UUID]*StaffMember, len(found))
	for _, m := range found {
		byID[m.ID] = m
	}
	out := make([]*StaffMember, 0, len(ids))
	for _, id := range ids {
		m, ok := byID[id]
		if !ok {
			return nil, apperr.NotFound("staff member", id)
		}
		out = append(out, m)
	}
	return out, nil
}

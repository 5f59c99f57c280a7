package staff

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*StaffMember, error)
	// GetMany returns the members that exist among ids, in no particular order.
	GetMany(ctx context.Context, ids []uuid.UUID) ([]*StaffMember, error)
	List(ctx context.Context, f Filter, limit, offset int) ([]*StaffMember, int, error)
	Upsert(ctx context.Context, m *StaffMember) error
}

// Directory is the read-only view of staff that the roster, surgery and
// occupancy packages depend on.
type Directory interface {
	Get(ctx context.Context, id uuid.UUID) (*StaffMember, error)
	// Resolve returns one member per distinct id in input order, or a
	// not-found error naming the first id that does not resolve.
	Resolve(ctx context.Context, ids []uuid.UUID) ([]*StaffMember, error)
	List(ctx context.Context, f Filter, limit, offset int) ([]*StaffMember, int, error)
}

package surgery

import (
	"context"

	"github.com/google/uuid"
)

// Repositories hold no business rules. Lookups of unknown ids return an
// error wrapping apperr.ErrNotFound.

type ORRoomRepository interface {
	Create(ctx context.Context, r *ORRoom) error
	GetByID(ctx context.Context, id string) (*ORRoom, error)
	Update(ctx context.Context, r *ORRoom) error
	Delete(ctx context.Context, id string) error
	List(ctx context.Context, activeOnly bool, limit, offset int) ([]*ORRoom, int, error)
}

type ScheduledCaseRepository interface {
	Create(ctx context.Context, sc *ScheduledCase) error
	GetByID(ctx context.Context, id uuid.UUID) (*ScheduledCase, error)
	Update(ctx context.Context, sc *ScheduledCase) error
	Delete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, f CaseFilter, limit, offset int) ([]*ScheduledCase, int, error)
}

type LiveCaseRepository interface {
	// Create fails with a unique violation when a live case with the same id
	// already exists.
	Create(ctx context.Context, lc *LiveCase) error
	GetByID(ctx context.Context, id uuid.UUID) (*LiveCase, error)
	GetMany(ctx context.Context, ids []uuid.UUID) ([]*LiveCase, error)
	// Update never overwrites a timestamp that is already set; lc is
	// refreshed with the stored values.
	Update(ctx context.Context, lc *LiveCase) error
	Delete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, f CaseFilter, limit, offset int) ([]*LiveCase, int, error)
}

// Transactor runs fn so that every repository write made with the context
// passed to fn commits together or not at all.
type Transactor interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
}

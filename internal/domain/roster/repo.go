package roster

import (
	"context"

	"github.com/google/uuid"
)

type ShiftRepository interface {
	// Get returns apperr.ErrNotFound when the Day has never been saved.
	Get(ctx context.Context, day Day) (*ShiftAssignment, error)
	// Save replaces the Day's assignment and sets a.Version and a.UpdatedAt.
	Save(ctx context.Context, a *ShiftAssignment) error
}

type RoomRepository interface {
	Get(ctx context.Context, day Day) (*RoomAssignment, error)
	Save(ctx context.Context, r *RoomAssignment) error
	// SaveRoom replaces one room's staff list, leaving the others intact,
	// and returns the resulting assignment.
	SaveRoom(ctx context.Context, day Day, room string, staff []uuid.UUID) (*RoomAssignment, error)
}

package staff

import (
	"time"

	"github.com/google/uuid"
)

type Role string

const (
	RoleSurgeon          Role = "surgeon"
	RoleAnesthesiologist Role = "anesthesiologist"
	RoleNurse            Role = "nurse"
	RoleTechnician       Role = "technician"
	RoleScheduler        Role = "scheduler"
)

var validRoles = map[Role]bool{
	RoleSurgeon: true, RoleAnesthesiologist: true, RoleNurse: true,
	RoleTechnician: true, RoleScheduler: true,
}

func (r Role) Valid() bool { return validRoles[r] }

// StaffMember maps to the staff_member table. It is reference data: other
// components hold only the id.
type StaffMember struct {
	ID         uuid.UUID `db:"id" json:"id"`
	Name       string    `db:"name" json:"name"`
	Role       Role      `db:"role" json:"role"`
	Department *string   `db:"department" json:"department,omitempty"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time `db:"updated_at" json:"updated_at"`
}

// Filter narrows a directory listing. Zero values match everything.
type Filter struct {
	Role       Role
	Department string
}

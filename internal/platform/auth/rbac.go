package auth

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

const (
	RoleAdmin            = "admin"
	RoleSurgeon          = "surgeon"
	RoleAnesthesiologist = "anesthesiologist"
	RoleNurse            = "nurse"
	RoleTechnician       = "technician"
	RoleScheduler        = "scheduler"
)

// ClinicalRoles may read every view.
var ClinicalRoles = []string{
	RoleAdmin, RoleSurgeon, RoleAnesthesiologist, RoleNurse, RoleTechnician, RoleScheduler,
}

// RequireRole passes callers holding any of roles. admin always passes.
func RequireRole(roles ...string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			userRoles := RolesFromContext(c.Request().Context())
			for _, has := range userRoles {
				if has == RoleAdmin {
					return next(c)
				}
				for _, required := range roles {
					if has == required {
						return next(c)
					}
				}
			}
			return echo.NewHTTPError(http.StatusForbidden,
				fmt.Sprintf("required role: %s", strings.Join(roles, " or ")))
		}
	}
}

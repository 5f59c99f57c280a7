package occupancy

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/periop/periop/internal/domain/roster"
	"github.com/periop/periop/internal/platform/apperr"
	"github.com/periop/periop/internal/platform/auth"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	read := api.Group("", auth.RequireRole(auth.ClinicalRoles...))
	read.GET("/room-occupancy", h.RoomOccupancy)
}

// RoomOccupancy serves GET /room-occupancy?date=YYYY-MM-DD&shift=. date
// defaults to the active Day.
func (h *Handler) RoomOccupancy(c echo.Context) error {
	day, _ := h.svc.Active()
	if raw := c.QueryParam("date"); raw != "" {
		d, err := roster.ParseDay(raw)
		if err != nil {
			return apperr.HTTPError(err)
		}
		day = d
	}
	var shift *roster.ShiftKey
	if raw := c.QueryParam("shift"); raw != "" {
		k, err := roster.ParseShiftKey(raw)
		if err != nil {
			return apperr.HTTPError(err)
		}
		shift = &k
	}

	rooms, err := h.svc.RoomOccupancy(c.Request().Context(), day, shift)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, rooms)
}

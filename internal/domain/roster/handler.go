package roster

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/periop/periop/internal/platform/apperr"
	"github.com/periop/periop/internal/platform/auth"
	"github.com/periop/periop/internal/platform/db"
)

type Handler struct {
	svc        *Service
	archiver   *Archiver
	boundaries Boundaries
	now        func() time.Time
}

func NewHandler(svc *Service, boundaries Boundaries) *Handler {
	return &Handler{svc: svc, boundaries: boundaries, now: time.Now}
}

func (h *Handler) SetArchiver(a *Archiver) { h.archiver = a }

func (h *Handler) RegisterRoutes(api *echo.Group) {
	read := api.Group("", auth.RequireRole(auth.ClinicalRoles...))
	read.GET("/shifts/active", h.ActiveShift)
	read.GET("/shift-assignments/:day", h.GetShiftAssignment)
	read.GET("/shift-assignments/:day/conflicts", h.GetConflicts)
	read.GET("/shift-assignments/:day/archives", h.ListArchives)
	read.GET("/room-assignments/:day", h.GetRoomAssignment)

	// Rosters are kept by schedulers and charge nurses.
	write := api.Group("", auth.RequireRole(auth.RoleScheduler, auth.RoleNurse))
	write.PUT("/shift-assignments/:day", h.SaveShiftAssignment)
	write.POST("/shift-assignments/:day/archive", h.Archive)
	write.PUT("/room-assignments/:day", h.SaveRoomAssignment)
	write.PUT("/room-assignments/:day/rooms/:room", h.AssignRoom)
}

func dayParam(c echo.Context) (Day, error) {
	d, err := ParseDay(c.Param("day"))
	if err != nil {
		return "", apperr.HTTPError(err)
	}
	return d, nil
}

func (h *Handler) ActiveShift(c echo.Context) error {
	day, shift := h.boundaries.Active(h.now())
	return c.JSON(http.StatusOK, map[string]string{"day": day.String(), "shift": string(shift)})
}

// -- Shift Assignment Handlers --

type shiftAssignmentRequest struct {
	SpecialistPool []uuid.UUID              `json:"specialist_pool"`
	Buckets        map[ShiftKey][]uuid.UUID `json:"shift_buckets"`
}

func (h *Handler) GetShiftAssignment(c echo.Context) error {
	day, err := dayParam(c)
	if err != nil {
		return err
	}
	a, err := h.svc.GetShiftAssignment(c.Request().Context(), day)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) SaveShiftAssignment(c echo.Context) error {
	day, err := dayParam(c)
	if err != nil {
		return err
	}
	var req shiftAssignmentRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	a := &ShiftAssignment{Day: day, SpecialistPool: req.SpecialistPool, Buckets: req.Buckets}
	conflicts, err := h.svc.SaveShiftAssignment(c.Request().Context(), a)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"assignment": a,
		"conflicts":  conflicts,
	})
}

func (h *Handler) GetConflicts(c echo.Context) error {
	day, err := dayParam(c)
	if err != nil {
		return err
	}
	conflicts, err := h.svc.Conflicts(c.Request().Context(), day)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, conflicts)
}

func (h *Handler) Archive(c echo.Context) error {
	if h.archiver == nil {
		return echo.NewHTTPError(http.StatusNotImplemented, "archive not configured")
	}
	day, err := dayParam(c)
	if err != nil {
		return err
	}
	ctx := c.Request().Context()
	snap, created, err := h.archiver.Archive(ctx, db.FacilityFromContext(ctx), day)
	if err != nil {
		return apperr.HTTPError(err)
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	return c.JSON(status, snap)
}

func (h *Handler) ListArchives(c echo.Context) error {
	if h.archiver == nil {
		return echo.NewHTTPError(http.StatusNotImplemented, "archive not configured")
	}
	day, err := dayParam(c)
	if err != nil {
		return err
	}
	ctx := c.Request().Context()
	snaps, err := h.archiver.History(ctx, db.FacilityFromContext(ctx), day)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, snaps)
}

// -- Room Assignment Handlers --

type roomAssignmentRequest struct {
	Rooms map[string][]uuid.UUID `json:"rooms"`
}

type assignRoomRequest struct {
	Staff []uuid.UUID `json:"staff"`
}

func (h *Handler) GetRoomAssignment(c echo.Context) error {
	day, err := dayParam(c)
	if err != nil {
		return err
	}
	ra, err := h.svc.GetRoomAssignment(c.Request().Context(), day)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, ra)
}

func (h *Handler) SaveRoomAssignment(c echo.Context) error {
	day, err := dayParam(c)
	if err != nil {
		return err
	}
	var req roomAssignmentRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	ra := &RoomAssignment{Day: day, Rooms: req.Rooms}
	warnings, err := h.svc.SaveRoomAssignment(c.Request().Context(), ra)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"assignment": ra,
		"warnings":   warnings,
	})
}

func (h *Handler) AssignRoom(c echo.Context) error {
	day, err := dayParam(c)
	if err != nil {
		return err
	}
	var req assignRoomRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	ra, warnings, err := h.svc.AssignRoom(c.Request().Context(), day, c.Param("room"), req.Staff)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"assignment": ra,
		"warnings":   warnings,
	})
}

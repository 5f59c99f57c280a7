package surgery

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/periop/periop/internal/platform/apperr"
	"github.com/periop/periop/internal/platform/auth"
	"github.com/periop/periop/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	read := api.Group("", auth.RequireRole(auth.ClinicalRoles...))
	read.GET("/or-rooms", h.ListORRooms)
	read.GET("/or-rooms/:id", h.GetORRoom)
	read.GET("/cases/:id", h.GetCase)
	read.GET("/scheduled-cases", h.ListScheduledCases)
	read.GET("/scheduled-cases/:id", h.GetScheduledCase)
	read.GET("/live-cases", h.ListLiveCases)
	read.GET("/live-cases/:id", h.GetLiveCase)

	// The schedule is kept by schedulers.
	schedule := api.Group("", auth.RequireRole(auth.RoleScheduler))
	schedule.POST("/or-rooms", h.CreateORRoom)
	schedule.PUT("/or-rooms/:id", h.UpdateORRoom)
	schedule.DELETE("/or-rooms/:id", h.DeleteORRoom)
	schedule.POST("/scheduled-cases", h.CreateScheduledCase)
	schedule.PATCH("/scheduled-cases/:id", h.UpdateScheduledCase)
	schedule.DELETE("/scheduled-cases/:id", h.DeleteScheduledCase)

	// Handover and status changes happen at the bedside.
	floor := api.Group("", auth.RequireRole(auth.RoleNurse, auth.RoleSurgeon, auth.RoleAnesthesiologist))
	floor.POST("/scheduled-cases/:id/handover", h.Handover)
	floor.PATCH("/live-cases/:id/status", h.AdvanceStatus)

	admin := api.Group("", auth.RequireRole(auth.RoleAdmin))
	admin.DELETE("/live-cases/:id", h.DeleteLiveCase)
}

func idParam(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return id, nil
}

// caseFilter reads from, to, room and status. from and to accept RFC 3339
// timestamps or plain dates.
func caseFilter(c echo.Context) (CaseFilter, error) {
	f := CaseFilter{Room: c.QueryParam("room"), Status: c.QueryParam("status")}
	for _, p := range []struct {
		name string
		dst  **time.Time
	}{{"from", &f.From}, {"to", &f.To}} {
		raw := c.QueryParam(p.name)
		if raw == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			if t, err = time.Parse(time.DateOnly, raw); err != nil {
				return f, apperr.HTTPError(apperr.Validation("invalid %s: %q", p.name, raw))
			}
		}
		*p.dst = &t
	}
	return f, nil
}

// -- OR Room Handlers --

func (h *Handler) CreateORRoom(c echo.Context) error {
	var r ORRoom
	if err := c.Bind(&r); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.CreateORRoom(c.Request().Context(), &r); err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusCreated, r)
}

func (h *Handler) GetORRoom(c echo.Context) error {
	r, err := h.svc.GetORRoom(c.Request().Context(), c.Param("id"))
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, r)
}

func (h *Handler) ListORRooms(c echo.Context) error {
	pg := pagination.FromContext(c)
	activeOnly := c.QueryParam("active") == "true"
	items, total, err := h.svc.ListORRooms(c.Request().Context(), activeOnly, pg.Limit, pg.Offset)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) UpdateORRoom(c echo.Context) error {
	var r ORRoom
	if err := c.Bind(&r); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	r.ID = c.Param("id")
	if err := h.svc.UpdateORRoom(c.Request().Context(), &r); err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, r)
}

func (h *Handler) DeleteORRoom(c echo.Context) error {
	if err := h.svc.DeleteORRoom(c.Request().Context(), c.Param("id")); err != nil {
		return apperr.HTTPError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

// -- Case Handlers --

func (h *Handler) GetCase(c echo.Context) error {
	id, err := idParam(c)
	if err != nil {
		return err
	}
	view, err := h.svc.GetCase(c.Request().Context(), id)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, view)
}

func (h *Handler) CreateScheduledCase(c echo.Context) error {
	var sc ScheduledCase
	if err := c.Bind(&sc); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.CreateScheduledCase(c.Request().Context(), &sc); err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusCreated, sc)
}

func (h *Handler) GetScheduledCase(c echo.Context) error {
	id, err := idParam(c)
	if err != nil {
		return err
	}
	sc, err := h.svc.GetScheduledCase(c.Request().Context(), id)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, sc)
}

func (h *Handler) ListScheduledCases(c echo.Context) error {
	f, err := caseFilter(c)
	if err != nil {
		return err
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListScheduledCases(c.Request().Context(), f, pg.Limit, pg.Offset)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) UpdateScheduledCase(c echo.Context) error {
	id, err := idParam(c)
	if err != nil {
		return err
	}
	var patch ScheduledCasePatch
	if err := c.Bind(&patch); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	sc, err := h.svc.UpdateScheduledCase(c.Request().Context(), id, patch)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, sc)
}

func (h *Handler) DeleteScheduledCase(c echo.Context) error {
	id, err := idParam(c)
	if err != nil {
		return err
	}
	if err := h.svc.DeleteScheduledCase(c.Request().Context(), id); err != nil {
		return apperr.HTTPError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

type handoverRequest struct {
	Notes         string      `json:"notes"`
	ReceivingTeam []uuid.UUID `json:"receiving_team"`
}

func (h *Handler) Handover(c echo.Context) error {
	id, err := idParam(c)
	if err != nil {
		return err
	}
	var req handoverRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	lc, err := h.svc.Handover(c.Request().Context(), id, req.Notes, req.ReceivingTeam)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusCreated, map[string]interface{}{
		"live_case_id": lc.ID,
		"live_case":    lc,
	})
}

// -- Live Case Handlers --

func (h *Handler) GetLiveCase(c echo.Context) error {
	id, err := idParam(c)
	if err != nil {
		return err
	}
	lc, err := h.svc.GetLiveCase(c.Request().Context(), id)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, lc)
}

func (h *Handler) ListLiveCases(c echo.Context) error {
	f, err := caseFilter(c)
	if err != nil {
		return err
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListLiveCases(c.Request().Context(), f, pg.Limit, pg.Offset)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

type statusRequest struct {
	Status LiveStatus `json:"status"`
}

func (h *Handler) AdvanceStatus(c echo.Context) error {
	id, err := idParam(c)
	if err != nil {
		return err
	}
	var req statusRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	lc, err := h.svc.AdvanceStatus(c.Request().Context(), id, req.Status)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, lc)
}

func (h *Handler) DeleteLiveCase(c echo.Context) error {
	id, err := idParam(c)
	if err != nil {
		return err
	}
	if err := h.svc.DeleteLiveCase(c.Request().Context(), id); err != nil {
		return apperr.HTTPError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

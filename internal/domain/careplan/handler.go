package careplan

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/careportal/portal/internal/platform/apperr"
	"github.com/careportal/portal/internal/platform/auth"
	"github.com/careportal/portal/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	provider := auth.RequireRole(auth.RoleProvider)

	api.GET("/goals", h.ListGoals)
	api.GET("/goals/:id", h.GetGoal)
	api.PATCH("/goals/:id", h.UpdateGoal)
	api.POST("/goals", h.CreateGoal, provider)
	api.DELETE("/goals/:id", h.DeleteGoal, provider)
	api.GET("/patients/:id/goals", h.PatientGoals, provider)
}

func parseID(c echo.Context, what string) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, apperr.Validation("invalid " + what + " id")
	}
	return id, nil
}

func (h *Handler) CreateGoal(c echo.Context) error {
	caller, err := auth.CallerFrom(c)
	if err != nil {
		return err
	}
	var in CreateInput
	if err := c.Bind(&in); err != nil {
		return apperr.Validation("invalid request body")
	}
	g, err := h.svc.CreateGoal(c.Request().Context(), caller, in)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, g)
}

func (h *Handler) ListGoals(c echo.Context) error {
	caller, err := auth.CallerFrom(c)
	if err != nil {
		return err
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListGoals(c.Request().Context(), caller, c.QueryParam("status"), pg.Limit, pg.Offset)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) GetGoal(c echo.Context) error {
	caller, err := auth.CallerFrom(c)
	if err != nil {
		return err
	}
	id, err := parseID(c, "goal")
	if err != nil {
		return err
	}
	g, err := h.svc.GetGoal(c.Request().Context(), caller, id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, g)
}

func (h *Handler) UpdateGoal(c echo.Context) error {
	caller, err := auth.CallerFrom(c)
	if err != nil {
		return err
	}
	id, err := parseID(c, "goal")
	if err != nil {
		return err
	}
	var p Patch
	if err := c.Bind(&p); err != nil {
		return apperr.Validation("invalid request body")
	}
	g, err := h.svc.UpdateGoal(c.Request().Context(), caller, id, p)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, g)
}

func (h *Handler) DeleteGoal(c echo.Context) error {
	caller, err := auth.CallerFrom(c)
	if err != nil {
		return err
	}
	id, err := parseID(c, "goal")
	if err != nil {
		return err
	}
	if err := h.svc.DeleteGoal(c.Request().Context(), caller, id); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) PatientGoals(c echo.Context) error {
	caller, err := auth.CallerFrom(c)
	if err != nil {
		return err
	}
	patientID, err := parseID(c, "patient")
	if err != nil {
		return err
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.PatientGoals(c.Request().Context(), caller, patientID, pg.Limit, pg.Offset)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

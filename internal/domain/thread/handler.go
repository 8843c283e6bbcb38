package thread

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/medlink/medlink/internal/platform/auth"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	clinician := api.Group("", auth.RequireRole("physician"))
	clinician.POST("/threads/resolve", h.Resolve)
	clinician.POST("/threads/:id/reassign", h.Reassign)
	clinician.DELETE("/threads/:id", h.Delete)

	read := api.Group("", auth.RequireRole("physician", "pharmacist", "lab", "patient"))
	read.GET("/threads/:id", h.Get)
	read.GET("/appointments/:id/threads", h.ListByAppointment)
}

type resolveRequest struct {
	AppointmentID  uuid.UUID  `json:"appointment_id"`
	CounterPartyID *uuid.UUID `json:"counter_party_id,omitempty"`
	OrderType      string     `json:"order_type,omitempty"`
	ThreadID       *uuid.UUID `json:"thread_id,omitempty"`
	PatientID      *uuid.UUID `json:"patient_id,omitempty"`
}

type resolveResponse struct {
	Thread   *Thread  `json:"thread"`
	Warnings []string `json:"warnings,omitempty"`
}

func (h *Handler) Resolve(c echo.Context) error {
	var req resolveRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	t, created, err := h.svc.Resolve(c.Request().Context(), ResolveInput{
		AppointmentID:  req.AppointmentID,
		CounterPartyID: req.CounterPartyID,
		OrderType:      req.OrderType,
		HintThreadID:   req.ThreadID,
		ActorID:        auth.UserIDFromContext(c.Request().Context()),
		PatientID:      req.PatientID,
	})

	var partial *PartialCreationError
	switch {
	case errors.As(err, &partial):
		// Thread row exists; the failed steps are warnings, not a failure.
		return c.JSON(http.StatusCreated, resolveResponse{Thread: t, Warnings: partial.Steps})
	case errors.Is(err, ErrNoMatchingThread):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrValidation):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case err != nil:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if created {
		return c.JSON(http.StatusCreated, resolveResponse{Thread: t})
	}
	return c.JSON(http.StatusOK, resolveResponse{Thread: t})
}

type reassignRequest struct {
	CounterPartyID uuid.UUID `json:"counter_party_id"`
}

func (h *Handler) Reassign(c echo.Context) error {
	threadID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var req reassignRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.CounterPartyID == uuid.Nil {
		return echo.NewHTTPError(http.StatusBadRequest, "counter_party_id is required")
	}

	t, err := h.svc.Reassign(c.Request().Context(), threadID, req.CounterPartyID,
		auth.UserIDFromContext(c.Request().Context()))
	if errors.Is(err, ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, t)
}

func (h *Handler) Delete(c echo.Context) error {
	threadID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}

	report, err := h.svc.Delete(c.Request().Context(), threadID,
		auth.UserIDFromContext(c.Request().Context()))
	if errors.Is(err, ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "thread not found")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, report)
}

func (h *Handler) Get(c echo.Context) error {
	threadID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	t, err := h.svc.Get(c.Request().Context(), threadID)
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "thread not found")
	}
	return c.JSON(http.StatusOK, t)
}

func (h *Handler) ListByAppointment(c echo.Context) error {
	appointmentID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	threads, err := h.svc.ListByAppointment(c.Request().Context(), appointmentID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, threads)
}

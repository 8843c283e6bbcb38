package order

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/medlink/medlink/internal/domain/thread"
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
	clinician.POST("/orders", h.Create)
	clinician.POST("/orders/:id/send", h.Send)
	clinician.POST("/orders/:id/resend", h.Resend)

	counterParty := api.Group("", auth.RequireRole("pharmacist", "lab"))
	counterParty.POST("/orders/:id/status", h.ObserveStatus)

	read := api.Group("", auth.RequireRole("physician", "pharmacist", "lab", "patient"))
	read.GET("/orders/:id", h.Get)
	read.GET("/appointments/:id/orders", h.ListByAppointment)
}

type createRequest struct {
	Kind          string     `json:"kind"`
	AppointmentID uuid.UUID  `json:"appointment_id"`
	SubjectID     *uuid.UUID `json:"subject_id,omitempty"`
	Items         []LineItem `json:"items"`
}

func (h *Handler) Create(c echo.Context) error {
	var req createRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	o, err := h.svc.Create(c.Request().Context(), CreateInput{
		Kind:          req.Kind,
		AppointmentID: req.AppointmentID,
		AuthorID:      auth.UserIDFromContext(c.Request().Context()),
		SubjectID:     req.SubjectID,
		Items:         req.Items,
	})
	if errors.Is(err, ErrValidation) {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusCreated, o)
}

type sendRequest struct {
	CounterPartyID uuid.UUID  `json:"counter_party_id"`
	PatientID      *uuid.UUID `json:"patient_id,omitempty"`
}

func (h *Handler) Send(c echo.Context) error {
	orderID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var req sendRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	result, err := h.svc.Send(c.Request().Context(), SendInput{
		OrderID:        orderID,
		CounterPartyID: req.CounterPartyID,
		ActorID:        auth.UserIDFromContext(c.Request().Context()),
		PatientID:      req.PatientID,
	})
	switch {
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "order not found")
	case errors.Is(err, ErrValidation), errors.Is(err, thread.ErrValidation):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrConflict), errors.Is(err, thread.ErrNoMatchingThread):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, thread.ErrNotFound):
		// Thread resolution failed: no conversation scope or unknown
		// counter-party.
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case err != nil:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, result)
}

type statusRequest struct {
	Status string `json:"status"`
}

func (h *Handler) ObserveStatus(c echo.Context) error {
	orderID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var req statusRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	o, err := h.svc.ObserveStatus(c.Request().Context(), orderID, req.Status)
	switch {
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "order not found")
	case errors.Is(err, ErrValidation):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrConflict):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case err != nil:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, h.withTimeline(o))
}

func (h *Handler) Resend(c echo.Context) error {
	orderID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}

	o, err := h.svc.Resend(c.Request().Context(), orderID,
		auth.UserIDFromContext(c.Request().Context()))
	switch {
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "order not found")
	case errors.Is(err, ErrConflict):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case err != nil:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, o)
}

type orderResponse struct {
	*Order
	TimelineStep     int  `json:"timeline_step"`
	TimelineBranched bool `json:"timeline_branched"`
}

func (h *Handler) withTimeline(o *Order) orderResponse {
	slot, branched := TimelineStep(o.Kind, o.Status)
	return orderResponse{Order: o, TimelineStep: slot, TimelineBranched: branched}
}

func (h *Handler) Get(c echo.Context) error {
	orderID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	o, err := h.svc.Get(c.Request().Context(), orderID)
	if errors.Is(err, ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "order not found")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, h.withTimeline(o))
}

func (h *Handler) ListByAppointment(c echo.Context) error {
	appointmentID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	orders, err := h.svc.ListByAppointment(c.Request().Context(), appointmentID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	out := make([]orderResponse, 0, len(orders))
	for _, o := range orders {
		out = append(out, h.withTimeline(o))
	}
	return c.JSON(http.StatusOK, out)
}

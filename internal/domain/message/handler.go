package message

import (
	"encoding/base64"
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
	g := api.Group("", auth.RequireRole("physician", "pharmacist", "lab", "patient"))
	g.GET("/threads/:id/messages", h.List)
	g.POST("/threads/:id/messages", h.Send)
	g.DELETE("/messages/:id", h.Delete)
}

type attachmentRequest struct {
	FileName string `json:"file_name"`
	MimeType string `json:"mime_type"`
	Data     string `json:"data"` // base64
}

type sendRequest struct {
	Content     *string             `json:"content,omitempty"`
	Attachments []attachmentRequest `json:"attachments,omitempty"`
}

func (h *Handler) Send(c echo.Context) error {
	threadID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var req sendRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	attachments := make([]*Attachment, 0, len(req.Attachments))
	for _, a := range req.Attachments {
		raw, err := base64.StdEncoding.DecodeString(a.Data)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "attachment data is not valid base64")
		}
		if int64(len(raw)) > h.svc.MaxAttachmentBytes() {
			return echo.NewHTTPError(http.StatusRequestEntityTooLarge, "attachment "+a.FileName+" is too large")
		}
		key := uuid.New().String()
		attachments = append(attachments, &Attachment{
			FileName:   a.FileName,
			MimeType:   a.MimeType,
			SizeBytes:  int64(len(raw)),
			StorageKey: key,
			URL:        "/files/" + key,
		})
	}

	view, err := h.svc.Send(c.Request().Context(), SendInput{
		ThreadID:    threadID,
		SenderID:    auth.UserIDFromContext(c.Request().Context()),
		Content:     req.Content,
		Attachments: attachments,
	})
	if errors.Is(err, ErrValidation) {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusCreated, view)
}

func (h *Handler) List(c echo.Context) error {
	threadID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	views, err := h.svc.ListThread(c.Request().Context(), threadID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, views)
}

func (h *Handler) Delete(c echo.Context) error {
	messageID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	err = h.svc.SoftDelete(c.Request().Context(), messageID,
		auth.UserIDFromContext(c.Request().Context()))
	switch {
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "message not found")
	case errors.Is(err, ErrForbidden):
		return echo.NewHTTPError(http.StatusForbidden, err.Error())
	case err != nil:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}

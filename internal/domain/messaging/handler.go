package messaging

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/careinbox/careinbox/internal/domain/directory"
	"github.com/careinbox/careinbox/internal/platform/auth"
	"github.com/careinbox/careinbox/pkg/pagination"
)

// Handler exposes messaging operations over HTTP.
type Handler struct {
	service  *Service
	validate *validator.Validate
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service, validate: validator.New()}
}

func (h *Handler) Register(g *echo.Group) {
	g.POST("/messages", h.SendMessage)
	g.GET("/messages/:id", h.GetMessage)
	g.POST("/messages/:id/seen", h.MarkSeen)
	g.GET("/conversations", h.ListContacts)
	g.GET("/conversations/:userId", h.GetConversation)
	g.POST("/conversations/:userId/seen", h.MarkConversationSeen)
	g.GET("/unread-count", h.UnreadCount)
}

func callerID(c echo.Context) (uuid.UUID, error) {
	raw := auth.UserIDFromContext(c.Request().Context())
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusUnauthorized, "unknown caller identity")
	}
	return id, nil
}

func mapServiceError(err error) error {
	switch {
	case errors.Is(err, ErrPermissionDenied):
		return echo.NewHTTPError(http.StatusForbidden, "not allowed")
	case errors.Is(err, ErrMessageNotFound), errors.Is(err, directory.ErrUserNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "not found")
	case errors.Is(err, ErrValidation):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
	}
}

func (h *Handler) SendMessage(c echo.Context) error {
	viewer, err := callerID(c)
	if err != nil {
		return err
	}

	var req SendRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := h.validate.Struct(req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	msg, err := h.service.Send(c.Request().Context(), viewer, req.ReceiverID, req.Body)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusCreated, msg)
}

func (h *Handler) GetMessage(c echo.Context) error {
	viewer, err := callerID(c)
	if err != nil {
		return err
	}
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid message id")
	}

	msg, err := h.service.Get(c.Request().Context(), id, viewer)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, msg)
}

func (h *Handler) MarkSeen(c echo.Context) error {
	viewer, err := callerID(c)
	if err != nil {
		return err
	}
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid message id")
	}

	msg, err := h.service.MarkSeen(c.Request().Context(), id, viewer)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, msg)
}

func (h *Handler) ListContacts(c echo.Context) error {
	viewer, err := callerID(c)
	if err != nil {
		return err
	}
	contacts, err := h.service.Contacts(c.Request().Context(), viewer)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"contacts": contacts})
}

func (h *Handler) GetConversation(c echo.Context) error {
	viewer, err := callerID(c)
	if err != nil {
		return err
	}
	otherID, err := uuid.Parse(c.Param("userId"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid user id")
	}

	p := pagination.FromContext(c)
	messages, total, err := h.service.Conversation(c.Request().Context(), viewer, otherID, p)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(messages, int(total), p.Limit, p.Offset))
}

func (h *Handler) MarkConversationSeen(c echo.Context) error {
	viewer, err := callerID(c)
	if err != nil {
		return err
	}
	otherID, err := uuid.Parse(c.Param("userId"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid user id")
	}

	n, err := h.service.MarkConversationSeen(c.Request().Context(), otherID, viewer)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"marked_seen": n})
}

func (h *Handler) UnreadCount(c echo.Context) error {
	viewer, err := callerID(c)
	if err != nil {
		return err
	}
	count, err := h.service.UnreadCount(c.Request().Context(), viewer)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"unread": count})
}

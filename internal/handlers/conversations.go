package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/urizennnn/omni-backend-sub001/internal/auth"
	"github.com/urizennnn/omni-backend-sub001/internal/conversations"
)

type ConversationsHandler struct {
	conversations *conversations.Service
	logger        *slog.Logger
}

func NewConversationsHandler(log *slog.Logger, conversationService *conversations.Service) *ConversationsHandler {
	return &ConversationsHandler{
		conversations: conversationService,
		logger:        log.With(slog.String("handler", "conversations")),
	}
}

func (h *ConversationsHandler) Register(e *echo.Echo) {
	g := e.Group("/conversations")
	g.GET("", h.List)
	g.GET("/:id", h.Get)
	g.PATCH("/:id/state", h.SetState)
	g.POST("/:id/read", h.MarkRead)
}

type setStateRequest struct {
	State string `json:"state"`
}

// List godoc
// @Summary List the caller's conversations
// @Description Most recently active first.
// @Tags conversations
// @Produce json
// @Param limit query int false "Page size"
// @Param offset query int false "Page offset"
// @Success 200 {array} conversations.Conversation
// @Failure 500 {object} ErrorResponse
// @Router /conversations [get]
func (h *ConversationsHandler) List(c echo.Context) error {
	userID, err := auth.UserIDFromContext(c)
	if err != nil {
		return err
	}
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	offset, _ := strconv.Atoi(c.QueryParam("offset"))
	if offset < 0 {
		offset = 0
	}
	items, err := h.conversations.ListByUser(c.Request().Context(), userID, limit, offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if items == nil {
		items = []conversations.Conversation{}
	}
	return c.JSON(http.StatusOK, items)
}

// Get godoc
// @Summary Fetch one conversation
// @Tags conversations
// @Produce json
// @Param id path string true "Conversation ID"
// @Success 200 {object} conversations.Conversation
// @Failure 404 {object} ErrorResponse
// @Router /conversations/{id} [get]
func (h *ConversationsHandler) Get(c echo.Context) error {
	userID, err := auth.UserIDFromContext(c)
	if err != nil {
		return err
	}
	conversation, err := h.conversations.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, conversations.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "conversation not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if conversation.UserID != userID {
		return echo.NewHTTPError(http.StatusNotFound, "conversation not found")
	}
	return c.JSON(http.StatusOK, conversation)
}

// SetState godoc
// @Summary Open or archive a conversation
// @Tags conversations
// @Accept json
// @Param id path string true "Conversation ID"
// @Param request body setStateRequest true "Target state"
// @Success 204 "No Content"
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /conversations/{id}/state [patch]
func (h *ConversationsHandler) SetState(c echo.Context) error {
	userID, err := auth.UserIDFromContext(c)
	if err != nil {
		return err
	}
	var req setStateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.State != conversations.StateOpen && req.State != conversations.StateArchived {
		return echo.NewHTTPError(http.StatusBadRequest, "state must be open or archived")
	}
	if err := h.conversations.SetState(c.Request().Context(), userID, c.Param("id"), req.State); err != nil {
		if errors.Is(err, conversations.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "conversation not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}

// MarkRead godoc
// @Summary Clear a conversation's unread counter
// @Tags conversations
// @Param id path string true "Conversation ID"
// @Success 204 "No Content"
// @Failure 500 {object} ErrorResponse
// @Router /conversations/{id}/read [post]
func (h *ConversationsHandler) MarkRead(c echo.Context) error {
	userID, err := auth.UserIDFromContext(c)
	if err != nil {
		return err
	}
	if err := h.conversations.MarkRead(c.Request().Context(), userID, c.Param("id")); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}

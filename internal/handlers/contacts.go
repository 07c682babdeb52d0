package handlers

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/urizennnn/omni-backend-sub001/internal/auth"
	"github.com/urizennnn/omni-backend-sub001/internal/contacts"
)

type ContactsHandler struct {
	contacts *contacts.Service
	logger   *slog.Logger
}

func NewContactsHandler(log *slog.Logger, contactService *contacts.Service) *ContactsHandler {
	return &ContactsHandler{
		contacts: contactService,
		logger:   log.With(slog.String("handler", "contacts")),
	}
}

func (h *ContactsHandler) Register(e *echo.Echo) {
	e.GET("/contacts", h.List)
}

// List godoc
// @Summary List the caller's contacts
// @Description Contacts accumulate from inbound messages across platforms.
// @Tags contacts
// @Produce json
// @Param limit query int false "Page size"
// @Param offset query int false "Page offset"
// @Success 200 {array} contacts.Contact
// @Failure 500 {object} ErrorResponse
// @Router /contacts [get]
func (h *ContactsHandler) List(c echo.Context) error {
	userID, err := auth.UserIDFromContext(c)
	if err != nil {
		return err
	}
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	offset, _ := strconv.Atoi(c.QueryParam("offset"))
	if offset < 0 {
		offset = 0
	}
	items, err := h.contacts.ListByUser(c.Request().Context(), userID, limit, offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if items == nil {
		items = []contacts.Contact{}
	}
	return c.JSON(http.StatusOK, items)
}

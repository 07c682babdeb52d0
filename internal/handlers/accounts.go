package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/urizennnn/omni-backend-sub001/internal/accounts"
	"github.com/urizennnn/omni-backend-sub001/internal/auth"
	"github.com/urizennnn/omni-backend-sub001/internal/poller"
)

type AccountsHandler struct {
	accounts *accounts.Service
	poller   *poller.Poller
	logger   *slog.Logger
}

func NewAccountsHandler(log *slog.Logger, accountService *accounts.Service, p *poller.Poller) *AccountsHandler {
	return &AccountsHandler{
		accounts: accountService,
		poller:   p,
		logger:   log.With(slog.String("handler", "accounts")),
	}
}

func (h *AccountsHandler) Register(e *echo.Echo) {
	g := e.Group("/accounts")
	g.GET("", h.List)
	g.DELETE("/:id", h.Disconnect)
	g.POST("/:id/poll", h.Poll)
}

// List godoc
// @Summary List the caller's connected accounts
// @Tags accounts
// @Produce json
// @Success 200 {array} accounts.ConnectedAccount
// @Failure 500 {object} ErrorResponse
// @Router /accounts [get]
func (h *AccountsHandler) List(c echo.Context) error {
	userID, err := auth.UserIDFromContext(c)
	if err != nil {
		return err
	}
	items, err := h.accounts.ListByUser(c.Request().Context(), userID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if items == nil {
		items = []accounts.ConnectedAccount{}
	}
	return c.JSON(http.StatusOK, items)
}

// Disconnect godoc
// @Summary Disconnect an account
// @Description Deletes the account, its credentials, and its schedule slot.
// @Tags accounts
// @Param id path string true "Account ID"
// @Success 204 "No Content"
// @Failure 404 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /accounts/{id} [delete]
func (h *AccountsHandler) Disconnect(c echo.Context) error {
	userID, err := auth.UserIDFromContext(c)
	if err != nil {
		return err
	}
	id := c.Param("id")
	account, err := h.accounts.Get(c.Request().Context(), id)
	if err != nil {
		if errors.Is(err, accounts.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "account not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if account.UserID != userID {
		return echo.NewHTTPError(http.StatusNotFound, "account not found")
	}
	if err := h.accounts.Delete(c.Request().Context(), userID, id); err != nil {
		if errors.Is(err, accounts.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "account not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	h.poller.Unschedule(account.JobKey)
	return c.NoContent(http.StatusNoContent)
}

// Poll godoc
// @Summary Trigger an on-demand poll
// @Description Runs one poll cycle immediately. Returns 409 when a poll
// for the same account is already in flight.
// @Tags accounts
// @Param id path string true "Account ID"
// @Success 202 "Accepted"
// @Failure 404 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Failure 502 {object} ErrorResponse
// @Router /accounts/{id}/poll [post]
func (h *AccountsHandler) Poll(c echo.Context) error {
	userID, err := auth.UserIDFromContext(c)
	if err != nil {
		return err
	}
	id := c.Param("id")
	account, err := h.accounts.Get(c.Request().Context(), id)
	if err != nil {
		if errors.Is(err, accounts.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "account not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if account.UserID != userID {
		return echo.NewHTTPError(http.StatusNotFound, "account not found")
	}
	if err := h.poller.PollAccount(c.Request().Context(), id); err != nil {
		if errors.Is(err, poller.ErrPollInProgress) {
			return echo.NewHTTPError(http.StatusConflict, "poll already in progress")
		}
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	}
	return c.NoContent(http.StatusAccepted)
}

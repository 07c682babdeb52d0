package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/urizennnn/omni-backend-sub001/internal/auth"
	"github.com/urizennnn/omni-backend-sub001/internal/connector"
	"github.com/urizennnn/omni-backend-sub001/internal/oauthflow"
	"github.com/urizennnn/omni-backend-sub001/internal/platform"
	"github.com/urizennnn/omni-backend-sub001/internal/poller"
)

type ConnectionsHandler struct {
	flow   *oauthflow.Service
	poller *poller.Poller
	logger *slog.Logger
}

func NewConnectionsHandler(log *slog.Logger, flow *oauthflow.Service, p *poller.Poller) *ConnectionsHandler {
	return &ConnectionsHandler{
		flow:   flow,
		poller: p,
		logger: log.With(slog.String("handler", "connections")),
	}
}

func (h *ConnectionsHandler) Register(e *echo.Echo) {
	e.POST("/connections/:platform/start", h.Start)
	e.GET("/connections/callback", h.Callback)
	e.POST("/connections/:platform", h.Connect)
}

type startRequest struct {
	RedirectURI string `json:"redirect_uri"`
}

type connectRequest struct {
	AccessToken  string         `json:"access_token"`
	RefreshToken string         `json:"refresh_token"`
	Extra        map[string]any `json:"extra"`
}

// Start godoc
// @Summary Begin the OAuth handshake for a platform
// @Tags connections
// @Accept json
// @Produce json
// @Param platform path string true "Platform"
// @Param request body startRequest false "Optional redirect override"
// @Success 200 {object} oauthflow.StartResult
// @Failure 400 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /connections/{platform}/start [post]
func (h *ConnectionsHandler) Start(c echo.Context) error {
	userID, err := auth.UserIDFromContext(c)
	if err != nil {
		return err
	}
	p, err := platform.Parse(c.Param("platform"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	var req startRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	result, err := h.flow.Start(c.Request().Context(), userID, p, strings.TrimSpace(req.RedirectURI))
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, result)
}

// Callback godoc
// @Summary OAuth provider redirect target
// @Description Redeems the state token and authorization code, stores the
// sealed credentials, and schedules the account for polling.
// @Tags connections
// @Produce json
// @Param state query string true "State token"
// @Param code query string true "Authorization code"
// @Success 200 {object} accounts.ConnectedAccount
// @Failure 400 {object} ErrorResponse
// @Failure 410 {object} ErrorResponse
// @Router /connections/callback [get]
func (h *ConnectionsHandler) Callback(c echo.Context) error {
	state := strings.TrimSpace(c.QueryParam("state"))
	code := strings.TrimSpace(c.QueryParam("code"))
	if state == "" || code == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "state and code are required")
	}
	account, err := h.flow.Complete(c.Request().Context(), state, code)
	if err != nil {
		switch {
		case errors.Is(err, oauthflow.ErrInvalidState):
			return echo.NewHTTPError(http.StatusBadRequest, "invalid or already used state")
		case errors.Is(err, oauthflow.ErrExpiredState):
			return echo.NewHTTPError(http.StatusGone, "state expired, restart the connection")
		default:
			return echo.NewHTTPError(http.StatusBadGateway, err.Error())
		}
	}
	h.poller.Schedule(account)
	return c.JSON(http.StatusOK, account)
}

// Connect godoc
// @Summary Connect a credential-based platform account
// @Description Direct connect for platforms without an OAuth handshake,
// such as IMAP mailboxes and bot tokens.
// @Tags connections
// @Accept json
// @Produce json
// @Param platform path string true "Platform"
// @Param request body connectRequest true "Platform credentials"
// @Success 201 {object} accounts.ConnectedAccount
// @Failure 400 {object} ErrorResponse
// @Failure 502 {object} ErrorResponse
// @Router /connections/{platform} [post]
func (h *ConnectionsHandler) Connect(c echo.Context) error {
	userID, err := auth.UserIDFromContext(c)
	if err != nil {
		return err
	}
	p, err := platform.Parse(c.Param("platform"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	var req connectRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.AccessToken == "" && len(req.Extra) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "credentials are required")
	}
	creds := connector.Credentials{
		AccessToken:  req.AccessToken,
		RefreshToken: req.RefreshToken,
		Extra:        req.Extra,
	}
	account, err := h.flow.Connect(c.Request().Context(), userID, p, creds)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	}
	h.poller.Schedule(account)
	return c.JSON(http.StatusCreated, account)
}

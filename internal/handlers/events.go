package handlers

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/urizennnn/omni-backend-sub001/internal/auth"
	"github.com/urizennnn/omni-backend-sub001/internal/events"
)

const keepAliveInterval = 30 * time.Second

type EventsHandler struct {
	hub    events.Subscriber
	logger *slog.Logger
}

func NewEventsHandler(log *slog.Logger, hub events.Subscriber) *EventsHandler {
	return &EventsHandler{
		hub:    hub,
		logger: log.With(slog.String("handler", "events")),
	}
}

func (h *EventsHandler) Register(e *echo.Echo) {
	e.GET("/events/stream", h.Stream)
}

// Stream godoc
// @Summary Stream the caller's domain events
// @Description Server-sent events: conversation.created,
// conversation.updated, and message.created for the authenticated user.
// @Tags events
// @Produce text/event-stream
// @Success 200 {object} events.Event
// @Failure 500 {object} ErrorResponse
// @Router /events/stream [get]
func (h *EventsHandler) Stream(c echo.Context) error {
	userID, err := auth.UserIDFromContext(c)
	if err != nil {
		return err
	}

	c.Response().Header().Set(echo.HeaderContentType, "text/event-stream")
	c.Response().Header().Set(echo.HeaderCacheControl, "no-cache")
	c.Response().Header().Set(echo.HeaderConnection, "keep-alive")
	c.Response().WriteHeader(http.StatusOK)

	flusher, ok := c.Response().Writer.(http.Flusher)
	if !ok {
		return echo.NewHTTPError(http.StatusInternalServerError, "streaming not supported")
	}
	writer := bufio.NewWriter(c.Response().Writer)

	ch, cancel := h.hub.Subscribe(userID)
	defer cancel()

	keepAlive := time.NewTicker(keepAliveInterval)
	defer keepAlive.Stop()

	ctx := c.Request().Context()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-keepAlive.C:
			writer.WriteString(": keep-alive\n\n")
			writer.Flush()
			flusher.Flush()
		case event, ok := <-ch:
			if !ok {
				return nil
			}
			data, err := json.Marshal(event)
			if err != nil {
				continue
			}
			writer.WriteString(fmt.Sprintf("event: %s\ndata: %s\n\n", event.Type, string(data)))
			writer.Flush()
			flusher.Flush()
		}
	}
}

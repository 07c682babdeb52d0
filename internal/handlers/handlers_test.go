package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/urizennnn/omni-backend-sub001/internal/auth"
	"github.com/urizennnn/omni-backend-sub001/internal/events"
)

const testSecret = "test-secret"

func authedContext(t *testing.T, e *echo.Echo, req *http.Request, rec *httptest.ResponseRecorder, userID, role string) echo.Context {
	t.Helper()
	tokenStr, _, err := auth.GenerateToken(userID, role, testSecret, time.Minute)
	require.NoError(t, err)
	token, err := jwt.Parse(tokenStr, func(token *jwt.Token) (interface{}, error) {
		return []byte(testSecret), nil
	})
	require.NoError(t, err)

	c := e.NewContext(req, rec)
	c.Set("user", token)
	return c
}

func TestPing(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	h := NewPingHandler(slog.Default())
	require.NoError(t, h.Ping(c))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)
}

func TestConversationsSetStateRejectsUnknownState(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodPatch, "/conversations/c1/state",
		strings.NewReader(`{"state":"pending"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := authedContext(t, e, req, rec, "user-1", "owner")
	c.SetParamNames("id")
	c.SetParamValues("c1")

	h := NewConversationsHandler(slog.Default(), nil)
	err := h.SetState(c)
	require.Error(t, err)
	httpErr, ok := err.(*echo.HTTPError)
	require.True(t, ok)
	assert.Equal(t, http.StatusBadRequest, httpErr.Code)
}

func TestMessagesSendRequiresBody(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/conversations/c1/messages", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	// No token at all: the auth guard rejects before any service is hit.
	h := NewMessagesHandler(slog.Default(), nil, nil, nil, nil, nil, nil)
	err := h.List(c)
	require.Error(t, err)
	httpErr, ok := err.(*echo.HTTPError)
	require.True(t, ok)
	assert.Equal(t, http.StatusUnauthorized, httpErr.Code)
}

func TestEventsStreamDeliversPublishedEvents(t *testing.T) {
	hub := events.NewHub()
	h := NewEventsHandler(slog.Default(), hub)

	e := echo.New()
	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodGet, "/events/stream", nil).WithContext(ctx)
	rec := httptest.NewRecorder()
	c := authedContext(t, e, req, rec, "user-9", "owner")

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		assert.NoError(t, h.Stream(c))
	}()

	// The subscription lands asynchronously; publish until it sticks.
	// Delivery is best effort, so pre-subscribe publishes are dropped.
	for i := 0; i < 50; i++ {
		hub.Publish(events.Event{
			Type:   events.TypeMessageCreated,
			UserID: "user-9",
			Data:   []byte(`{"id":"m1"}`),
		})
		time.Sleep(10 * time.Millisecond)
	}

	cancel()
	wg.Wait()

	body := rec.Body.String()
	assert.Contains(t, body, "event: message.created")
	assert.Contains(t, body, `"user_id":"user-9"`)
}

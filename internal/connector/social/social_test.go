package social

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/urizennnn/omni-backend-sub001/internal/config"
	"github.com/urizennnn/omni-backend-sub001/internal/connector"
	"github.com/urizennnn/omni-backend-sub001/internal/platform"
)

func newTestConnector(t *testing.T, handler http.Handler) (*Connector, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(nil, platform.X, config.PlatformConfig{
		ClientID:     "client",
		ClientSecret: "secret",
		AuthURL:      srv.URL + "/oauth/authorize",
		TokenURL:     srv.URL + "/oauth/token",
		APIBaseURL:   srv.URL + "/api",
	}), srv
}

func TestFetchSinceMapsMessages(t *testing.T) {
	sent := time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)
	conn, _ := newTestConnector(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/messages", r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		assert.Empty(t, r.URL.Query().Get("page_token"))
		json.NewEncoder(w).Encode(wirePage{
			Messages: []wireMessage{{
				ID:             "dm-1",
				ConversationID: "conv-9",
				SenderID:       "peer-1",
				SenderName:     "Peer One",
				Text:           "hey",
				CreatedAt:      sent,
			}},
			NextPageToken: "page-2",
		})
	}))

	batch, err := conn.FetchSince(context.Background(), connector.Credentials{AccessToken: "tok"}, platform.Cursor{})
	require.NoError(t, err)
	require.Len(t, batch.Events, 1)

	event := batch.Events[0]
	assert.Equal(t, platform.X, event.Platform)
	assert.Equal(t, "dm-1", event.ExternalMessageID)
	assert.Equal(t, "conv-9", event.ExternalConversationID)
	assert.Equal(t, "peer-1", event.Sender.ExternalID)
	assert.Equal(t, sent, event.SentAt)

	require.False(t, batch.NextCursor.IsZero())
	var token string
	require.NoError(t, json.Unmarshal(batch.NextCursor.Value, &token))
	assert.Equal(t, "page-2", token)
}

func TestFetchSincePassesCursor(t *testing.T) {
	conn, _ := newTestConnector(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "page-2", r.URL.Query().Get("page_token"))
		json.NewEncoder(w).Encode(wirePage{})
	}))

	cursor := platform.NewCursor(platform.X, json.RawMessage(`"page-2"`))
	batch, err := conn.FetchSince(context.Background(), connector.Credentials{AccessToken: "tok"}, cursor)
	require.NoError(t, err)
	assert.Empty(t, batch.Events)
	// No new page token: the cursor candidate stays where it was.
	assert.Equal(t, cursor, batch.NextCursor)
}

func TestFetchSinceAuthExpired(t *testing.T) {
	conn, _ := newTestConnector(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))

	_, err := conn.FetchSince(context.Background(), connector.Credentials{AccessToken: "tok"}, platform.Cursor{})
	assert.True(t, connector.IsAuthExpired(err))
}

func TestFetchSinceTransient(t *testing.T) {
	conn, _ := newTestConnector(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))

	_, err := conn.FetchSince(context.Background(), connector.Credentials{AccessToken: "tok"}, platform.Cursor{})
	assert.True(t, connector.IsTransient(err))
	assert.False(t, connector.IsAuthExpired(err))
}

func TestFetchSinceRejectsForeignCursor(t *testing.T) {
	conn, _ := newTestConnector(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("no request expected")
	}))

	_, err := conn.FetchSince(context.Background(), connector.Credentials{AccessToken: "tok"},
		platform.NewCursor(platform.X, json.RawMessage(`{"not":"a token"}`)))
	assert.ErrorIs(t, err, platform.ErrCursorSchema)
}

func TestExchangeCodeResolvesProfile(t *testing.T) {
	var sawVerifier string
	conn, _ := newTestConnector(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/oauth/token":
			require.NoError(t, r.ParseForm())
			sawVerifier = r.FormValue("code_verifier")
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(map[string]any{
				"access_token":  "tok",
				"refresh_token": "ref",
				"token_type":    "Bearer",
				"expires_in":    3600,
			})
		case "/api/me":
			json.NewEncoder(w).Encode(wireProfile{ID: "x-user-1", Username: "someone"})
		default:
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
	}))

	creds, err := conn.ExchangeCode(context.Background(), "code", "verifier-123", "https://app.example.com/cb")
	require.NoError(t, err)
	assert.Equal(t, "tok", creds.AccessToken)
	assert.Equal(t, "ref", creds.RefreshToken)
	assert.Equal(t, "x-user-1", creds.ExternalID)
	assert.Equal(t, "someone", creds.ExtraString("username"))
	assert.Equal(t, "verifier-123", sawVerifier)
}

func TestRefreshKeepsRotatedToken(t *testing.T) {
	conn, _ := newTestConnector(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/oauth/token", r.URL.Path)
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "refresh_token", r.FormValue("grant_type"))
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"access_token": "tok-2",
			"token_type":   "Bearer",
			"expires_in":   3600,
		})
	}))

	creds, err := conn.Refresh(context.Background(), connector.Credentials{
		AccessToken:  "tok-1",
		RefreshToken: "ref-1",
		ExternalID:   "x-user-1",
	})
	require.NoError(t, err)
	assert.Equal(t, "tok-2", creds.AccessToken)
	// The platform did not rotate the refresh token, so the old one stays.
	assert.Equal(t, "ref-1", creds.RefreshToken)
	assert.Equal(t, "x-user-1", creds.ExternalID)
}

func TestRefreshDeadGrant(t *testing.T) {
	conn, _ := newTestConnector(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]any{"error": "invalid_grant"})
	}))

	_, err := conn.Refresh(context.Background(), connector.Credentials{RefreshToken: "dead"})
	assert.True(t, connector.IsAuthExpired(err))
}

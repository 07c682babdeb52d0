// Package social is the OAuth2 REST connector shared by the social DM
// platforms. Each instance targets one platform's endpoints; the wire
// shape is the common DM payload the aggregation API exposes.
package social

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/oauth2"

	"github.com/urizennnn/omni-backend-sub001/internal/config"
	"github.com/urizennnn/omni-backend-sub001/internal/connector"
	"github.com/urizennnn/omni-backend-sub001/internal/platform"
)

const defaultPageSize = 50

// Connector polls one social platform's DM API.
type Connector struct {
	platform platform.Platform
	cfg      config.PlatformConfig
	oauth    oauth2.Config
	client   *http.Client
	logger   *slog.Logger
}

// New creates a connector for one configured social platform.
func New(log *slog.Logger, p platform.Platform, cfg config.PlatformConfig) *Connector {
	if log == nil {
		log = slog.Default()
	}
	return &Connector{
		platform: p,
		cfg:      cfg,
		oauth: oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Scopes:       cfg.Scopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:  cfg.AuthURL,
				TokenURL: cfg.TokenURL,
			},
		},
		client: &http.Client{Timeout: 30 * time.Second},
		logger: log.With(slog.String("service", "connector"), slog.String("platform", p.String())),
	}
}

// Platform returns the platform this instance serves.
func (c *Connector) Platform() platform.Platform {
	return c.platform
}

// wire shapes of the DM API.

type wireMessage struct {
	ID             string         `json:"id"`
	ConversationID string         `json:"conversation_id"`
	Conversation   string         `json:"conversation_name,omitempty"`
	SenderID       string         `json:"sender_id"`
	SenderUsername string         `json:"sender_username,omitempty"`
	SenderName     string         `json:"sender_name,omitempty"`
	Text           string         `json:"text"`
	CreatedAt      time.Time      `json:"created_at"`
	Raw            map[string]any `json:"raw,omitempty"`
}

type wirePage struct {
	Messages      []wireMessage `json:"messages"`
	NextPageToken string        `json:"next_page_token,omitempty"`
}

type wireProfile struct {
	ID       string `json:"id"`
	Username string `json:"username,omitempty"`
}

// FetchSince pulls one page of DMs after the cursor's page token.
func (c *Connector) FetchSince(ctx context.Context, creds connector.Credentials, cursor platform.Cursor) (connector.Batch, error) {
	pageToken := ""
	if !cursor.IsZero() {
		if err := json.Unmarshal(cursor.Value, &pageToken); err != nil {
			return connector.Batch{}, fmt.Errorf("%w: social cursor: %v", platform.ErrCursorSchema, err)
		}
	}

	endpoint := fmt.Sprintf("%s/messages", c.cfg.APIBaseURL)
	q := url.Values{"limit": {fmt.Sprint(defaultPageSize)}}
	if pageToken != "" {
		q.Set("page_token", pageToken)
	}

	var page wirePage
	if err := c.getJSON(ctx, creds, endpoint+"?"+q.Encode(), &page); err != nil {
		return connector.Batch{}, err
	}

	events := make([]connector.RawEvent, 0, len(page.Messages))
	for _, m := range page.Messages {
		events = append(events, connector.RawEvent{
			Platform:               c.platform,
			ExternalMessageID:      m.ID,
			ExternalConversationID: m.ConversationID,
			ConversationName:       m.Conversation,
			Sender: connector.SenderIdentity{
				ExternalID: m.SenderID,
				Username:   m.SenderUsername,
				Name:       m.SenderName,
			},
			Text:         m.Text,
			SentAt:       m.CreatedAt,
			PlatformData: m.Raw,
		})
	}

	next := cursor
	if page.NextPageToken != "" {
		token, err := json.Marshal(page.NextPageToken)
		if err != nil {
			return connector.Batch{}, fmt.Errorf("encode page token: %w", err)
		}
		next = platform.NewCursor(c.platform, token)
	}
	return connector.Batch{Events: events, NextCursor: next}, nil
}

// ExchangeCode redeems the authorization code with the PKCE verifier and
// resolves the account's own identity.
func (c *Connector) ExchangeCode(ctx context.Context, code, pkceVerifier, redirectURI string) (connector.Credentials, error) {
	oc := c.oauth
	oc.RedirectURL = redirectURI

	token, err := oc.Exchange(ctx, code, oauth2.VerifierOption(pkceVerifier))
	if err != nil {
		return connector.Credentials{}, classifyOAuthError(err)
	}
	creds := credentialsFromToken(token)

	var profile wireProfile
	if err := c.getJSON(ctx, creds, c.cfg.APIBaseURL+"/me", &profile); err != nil {
		return connector.Credentials{}, fmt.Errorf("resolve profile: %w", err)
	}
	creds.ExternalID = profile.ID
	if profile.Username != "" {
		creds.Extra = map[string]any{"username": profile.Username}
	}
	return creds, nil
}

// Refresh redeems the refresh token for a fresh access token. The new
// refresh token replaces the old one when the platform rotates it.
func (c *Connector) Refresh(ctx context.Context, creds connector.Credentials) (connector.Credentials, error) {
	if creds.RefreshToken == "" {
		return connector.Credentials{}, connector.AuthExpired(fmt.Errorf("no refresh token"))
	}
	src := c.oauth.TokenSource(ctx, &oauth2.Token{RefreshToken: creds.RefreshToken})
	token, err := src.Token()
	if err != nil {
		return connector.Credentials{}, classifyOAuthError(err)
	}
	fresh := credentialsFromToken(token)
	if fresh.RefreshToken == "" {
		fresh.RefreshToken = creds.RefreshToken
	}
	fresh.ExternalID = creds.ExternalID
	fresh.Extra = creds.Extra
	return fresh, nil
}

func credentialsFromToken(token *oauth2.Token) connector.Credentials {
	return connector.Credentials{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		ExpiresAt:    token.Expiry,
	}
}

func (c *Connector) getJSON(ctx context.Context, creds connector.Credentials, rawURL string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+creds.AccessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return connector.Transient(err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return connector.AuthExpired(fmt.Errorf("%s returned %d", c.platform, resp.StatusCode))
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return connector.Transient(fmt.Errorf("%s returned %d", c.platform, resp.StatusCode))
	case resp.StatusCode != http.StatusOK:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("%s returned %d: %s", c.platform, resp.StatusCode, body)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// classifyOAuthError maps token endpoint failures onto the connector
// taxonomy. invalid_grant means the grant is dead, not the network.
func classifyOAuthError(err error) error {
	var retrieve *oauth2.RetrieveError
	if errors.As(err, &retrieve) {
		if retrieve.Response != nil && retrieve.Response.StatusCode >= 500 {
			return connector.Transient(err)
		}
		return connector.AuthExpired(err)
	}
	return connector.Transient(err)
}

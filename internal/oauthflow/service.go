package oauthflow

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"

	"github.com/urizennnn/omni-backend-sub001/internal/accounts"
	"github.com/urizennnn/omni-backend-sub001/internal/config"
	"github.com/urizennnn/omni-backend-sub001/internal/connector"
	"github.com/urizennnn/omni-backend-sub001/internal/platform"
	"github.com/urizennnn/omni-backend-sub001/internal/vault"
)

// StartResult is handed back to the client to begin the redirect.
type StartResult struct {
	AuthURL string `json:"auth_url"`
	State   string `json:"state"`
}

// Service drives the connection handshake for OAuth platforms and direct
// credential connects for the rest.
type Service struct {
	states    StateStore
	accounts  AccountStore
	registry  *connector.Registry
	vault     *vault.Vault
	platforms map[string]config.PlatformConfig

	callbackURL  string
	stateTTL     time.Duration
	pollInterval int
	logger       *slog.Logger
	now          func() time.Time
}

// NewService wires the flow manager.
func NewService(
	log *slog.Logger,
	states StateStore,
	accountStore AccountStore,
	registry *connector.Registry,
	v *vault.Vault,
	cfg config.Config,
) (*Service, error) {
	if log == nil {
		log = slog.Default()
	}
	ttl, err := cfg.OAuth.ParsedStateTTL()
	if err != nil {
		return nil, err
	}
	return &Service{
		states:       states,
		accounts:     accountStore,
		registry:     registry,
		vault:        v,
		platforms:    cfg.Platforms,
		callbackURL:  cfg.OAuth.CallbackURL,
		stateTTL:     ttl,
		pollInterval: cfg.Poller.DefaultIntervalSeconds,
		logger:       log.With(slog.String("service", "oauthflow")),
		now:          time.Now,
	}, nil
}

// Start issues a state token and PKCE pair and returns the platform
// authorization URL to redirect the user to.
func (s *Service) Start(ctx context.Context, userID string, p platform.Platform, redirectURI string) (StartResult, error) {
	pc, ok := s.platforms[p.String()]
	if !ok || pc.ClientID == "" || pc.AuthURL == "" {
		return StartResult{}, fmt.Errorf("platform %s is not configured for oauth", p)
	}
	if redirectURI == "" {
		redirectURI = s.callbackURL
	}

	token := uuid.NewString()
	verifier := oauth2.GenerateVerifier()

	if err := s.states.Create(ctx, State{
		UserID:       userID,
		Platform:     p,
		Token:        token,
		PKCEVerifier: verifier,
		RedirectURI:  redirectURI,
		ExpiresAt:    s.now().Add(s.stateTTL),
	}); err != nil {
		return StartResult{}, fmt.Errorf("store oauth state: %w", err)
	}

	oc := oauth2.Config{
		ClientID:     pc.ClientID,
		ClientSecret: pc.ClientSecret,
		RedirectURL:  redirectURI,
		Scopes:       pc.Scopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:  pc.AuthURL,
			TokenURL: pc.TokenURL,
		},
	}
	authURL := oc.AuthCodeURL(token, oauth2.AccessTypeOffline, oauth2.S256ChallengeOption(verifier))

	s.logger.Info("oauth flow started",
		slog.String("user_id", userID),
		slog.String("platform", p.String()))
	return StartResult{AuthURL: authURL, State: token}, nil
}

// Complete consumes the state, exchanges the code through the platform
// connector, and stores the encrypted credentials as a connected account.
// The state is burned on first attempt regardless of the exchange outcome:
// authorization codes are single use upstream, so a retried callback must
// not redeem the code a second time. The cost is that a failure after the
// exchange leaves a consumed state and no account, and the user restarts
// the flow from Start.
func (s *Service) Complete(ctx context.Context, stateToken, code string) (accounts.ConnectedAccount, error) {
	st, err := s.states.Consume(ctx, stateToken, s.now())
	if err != nil {
		return accounts.ConnectedAccount{}, err
	}

	conn, err := s.registry.Get(st.Platform)
	if err != nil {
		return accounts.ConnectedAccount{}, err
	}

	creds, err := conn.ExchangeCode(ctx, code, st.PKCEVerifier, st.RedirectURI)
	if err != nil {
		return accounts.ConnectedAccount{}, fmt.Errorf("exchange code: %w", err)
	}

	account, err := s.storeCredentials(ctx, st.UserID, st.Platform, creds)
	if err != nil {
		return accounts.ConnectedAccount{}, err
	}

	s.logger.Info("oauth flow completed",
		slog.String("user_id", st.UserID),
		slog.String("platform", st.Platform.String()),
		slog.String("account_id", account.ID))
	return account, nil
}

// Connect stores credentials for platforms that skip the OAuth redirect,
// such as bot tokens and IMAP logins. The connector's Refresh runs first,
// rejecting bad credentials and resolving the account's own external
// identity before anything is stored.
func (s *Service) Connect(ctx context.Context, userID string, p platform.Platform, creds connector.Credentials) (accounts.ConnectedAccount, error) {
	conn, err := s.registry.Get(p)
	if err != nil {
		return accounts.ConnectedAccount{}, err
	}
	creds, err = conn.Refresh(ctx, creds)
	if err != nil {
		return accounts.ConnectedAccount{}, fmt.Errorf("validate credentials: %w", err)
	}

	account, err := s.storeCredentials(ctx, userID, p, creds)
	if err != nil {
		return accounts.ConnectedAccount{}, err
	}
	s.logger.Info("account connected",
		slog.String("user_id", userID),
		slog.String("platform", p.String()),
		slog.String("account_id", account.ID))
	return account, nil
}

// storeCredentials encrypts the credential document and upserts the
// account. Reconnecting an account the user already has keeps its job key
// so the scheduler identity is stable across reconnects.
func (s *Service) storeCredentials(ctx context.Context, userID string, p platform.Platform, creds connector.Credentials) (accounts.ConnectedAccount, error) {
	doc, err := json.Marshal(creds)
	if err != nil {
		return accounts.ConnectedAccount{}, fmt.Errorf("encode credentials: %w", err)
	}
	sealed, err := s.vault.Encrypt(doc)
	if err != nil {
		return accounts.ConnectedAccount{}, fmt.Errorf("encrypt credentials: %w", err)
	}

	jobKey := fmt.Sprintf("poll:%s:%s", p, uuid.NewString())
	existing, err := s.accounts.ListByUser(ctx, userID)
	if err != nil {
		return accounts.ConnectedAccount{}, fmt.Errorf("list accounts: %w", err)
	}
	for _, acct := range existing {
		if acct.Platform == p && acct.ExternalAccountID == creds.ExternalID && creds.ExternalID != "" {
			jobKey = acct.JobKey
			break
		}
	}

	account, err := s.accounts.Upsert(ctx, accounts.CreateParams{
		UserID:                 userID,
		Platform:               p,
		Credentials:            sealed,
		PollingIntervalSeconds: s.pollInterval,
		JobKey:                 jobKey,
		ExternalAccountID:      creds.ExternalID,
	})
	if err != nil {
		return accounts.ConnectedAccount{}, fmt.Errorf("upsert account: %w", err)
	}
	return account, nil
}

// Decrypt opens an account's sealed credential document.
func (s *Service) Decrypt(account accounts.ConnectedAccount) (connector.Credentials, error) {
	plain, err := s.vault.Decrypt(account.Credentials)
	if err != nil {
		return connector.Credentials{}, err
	}
	var creds connector.Credentials
	if err := json.Unmarshal(plain, &creds); err != nil {
		return connector.Credentials{}, fmt.Errorf("decode credentials: %w", err)
	}
	return creds, nil
}

package portal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"forecast-sender/internal/config"
	"forecast-sender/internal/logging"
	"forecast-sender/internal/observability/metrics"
)

const (
	tokenPath   = "/oauth2/token"
	redirectURI = "myapp://auth"
	tokenScope  = "openid"
)

// Credentials are the password-grant identity and the two base URLs.
type Credentials struct {
	HubURL    string
	PortalURL string
	Username  string
	Password  string
	ClientID  string
}

// CredentialsFromConfig extracts credentials from the loaded configuration.
func CredentialsFromConfig(cfg config.Config) Credentials {
	return Credentials{
		HubURL:    cfg.HubURL,
		PortalURL: cfg.PortalURL,
		Username:  cfg.Username,
		Password:  cfg.Password,
		ClientID:  cfg.ClientID,
	}
}

// Validate reports every missing field at once.
func (c Credentials) Validate() error {
	cfgErr := &config.ConfigurationError{}
	check := func(name, value string) {
		if strings.TrimSpace(value) == "" {
			cfgErr.Missing = append(cfgErr.Missing, name)
		}
	}
	check(config.EnvHubURL, c.HubURL)
	check(config.EnvPortalURL, c.PortalURL)
	check(config.EnvUsername, c.Username)
	check(config.EnvPassword, c.Password)
	check(config.EnvClientID, c.ClientID)
	if cfgErr.HasProblems() {
		return cfgErr
	}
	return nil
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   *int   `json:"expires_in"`
	Scope       string `json:"scope"`
}

// AuthClient requests tokens from the identity provider.
type AuthClient struct {
	creds  Credentials
	url    string
	client *http.Client
	store  *TokenStore
	retry  RetryPolicy
	logger zerolog.Logger
}

// AuthOption configures the auth client.
type AuthOption func(*AuthClient)

// WithAuthHTTPClient overrides the HTTP client.
func WithAuthHTTPClient(client *http.Client) AuthOption {
	return func(a *AuthClient) {
		if client != nil {
			a.client = client
		}
	}
}

// WithAuthRetry overrides the retry policy.
func WithAuthRetry(policy RetryPolicy) AuthOption {
	return func(a *AuthClient) {
		a.retry = policy
	}
}

// WithAuthLogger sets the logger.
func WithAuthLogger(logger zerolog.Logger) AuthOption {
	return func(a *AuthClient) {
		a.logger = logger
	}
}

// NewAuthClient validates credentials and constructs a client that writes into store.
func NewAuthClient(creds Credentials, store *TokenStore, opts ...AuthOption) (*AuthClient, error) {
	if err := creds.Validate(); err != nil {
		return nil, err
	}
	if store == nil {
		return nil, errors.New("portal: nil token store")
	}
	a := &AuthClient{
		creds:  creds,
		url:    NormalizeBaseURL(creds.HubURL) + tokenPath,
		client: NewHTTPClient(0, 0),
		store:  store,
		retry:  DefaultRetryPolicy(),
		logger: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// AcquireToken requests a new token and installs it in the store.
func (a *AuthClient) AcquireToken(ctx context.Context) (Token, error) {
	form := url.Values{}
	form.Set("grant_type", "password")
	form.Set("username", a.creds.Username)
	form.Set("password", a.creds.Password)
	form.Set("redirect_uri", redirectURI)
	form.Set("client_id", a.creds.ClientID)
	form.Set("scope", tokenScope)
	encoded := form.Encode()

	var parsed tokenResponse
	err := a.retry.Do(ctx, "token", func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.url, strings.NewReader(encoded))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		req.Header.Set("Accept", "application/json")

		resp, body, err := exchange(ctx, a.client, "token", req)
		if err != nil {
			return err
		}
		parsed = tokenResponse{}
		if err := json.Unmarshal(body, &parsed); err != nil {
			return newParseError("token", resp, body, err)
		}
		if parsed.AccessToken == "" {
			return newParseError("token", resp, body, errors.New("missing access_token"))
		}
		return nil
	})
	if err != nil {
		metrics.ObserveTokenAcquisition(metrics.ResultError, time.Time{})
		return Token{}, fmt.Errorf("acquire token: %w", err)
	}

	ttl := DefaultTTLSeconds
	if parsed.ExpiresIn != nil {
		ttl = *parsed.ExpiresIn
	}
	token := a.store.Set(parsed.AccessToken, ttl)
	metrics.ObserveTokenAcquisition(metrics.ResultSuccess, token.ExpiresAt)
	a.logger.Info().
		Str("token", logging.TokenPreview(token.Value)).
		Int("expires_in", token.TTLSeconds).
		Time("expiry", token.ExpiresAt).
		Msg("access token acquired")
	return token, nil
}

// TokenProvider hands out a bearer token, renewing it when needed.
type TokenProvider interface {
	Token(ctx context.Context) (string, error)
	Invalidate()
}

// TokenManager couples the store with the client so a token is acquired only when the
// store holds no valid one.
type TokenManager struct {
	mu     sync.Mutex
	store  *TokenStore
	client *AuthClient
}

// NewTokenManager constructs a manager.
func NewTokenManager(store *TokenStore, client *AuthClient) (*TokenManager, error) {
	if store == nil || client == nil {
		return nil, errors.New("portal: token manager needs store and client")
	}
	return &TokenManager{store: store, client: client}, nil
}

// Valid reports whether the store holds a usable token.
func (m *TokenManager) Valid() bool {
	return m.store.IsValid()
}

// Ensure acquires a token when the store holds none that is valid.
func (m *TokenManager) Ensure(ctx context.Context) (Token, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.store.IsValid() {
		token, _ := m.store.Current()
		return token, nil
	}
	return m.client.AcquireToken(ctx)
}

// Token returns a valid bearer string.
func (m *TokenManager) Token(ctx context.Context) (string, error) {
	token, err := m.Ensure(ctx)
	if err != nil {
		return "", err
	}
	return token.Value, nil
}

// Invalidate clears the store so the next call acquires a fresh token.
func (m *TokenManager) Invalidate() {
	m.store.Clear()
}

// Store exposes the underlying token store.
func (m *TokenManager) Store() *TokenStore {
	return m.store
}

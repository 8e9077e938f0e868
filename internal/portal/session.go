package portal

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/rs/zerolog"
)

const loginPath = "/Login/Login"

type loginRequest struct {
	Username string `json:"username"`
}

type loginResponse struct {
	Success     *bool  `json:"success"`
	Message     string `json:"message"`
	UserID      *int   `json:"userId"`
	LegacyID    *int   `json:"Id"`
	Permissions struct {
		Groups []struct {
			ID int `json:"id"`
		} `json:"groups"`
		Facilities []struct {
			ID        int    `json:"id"`
			Name      string `json:"name"`
			CompanyID int    `json:"companyId"`
		} `json:"facilities"`
	} `json:"Permissions"`
}

// LoginResult is the portal identity and facility listing for one session.
type LoginResult struct {
	UserID     int
	GroupID    int
	Message    string
	Facilities *FacilityMap
}

// Session logs into the portal with a bearer token.
type Session struct {
	url      string
	username string
	tokens   TokenProvider
	client   *http.Client
	logger   zerolog.Logger
}

// SessionOption configures the session.
type SessionOption func(*Session)

// WithSessionHTTPClient overrides the HTTP client.
func WithSessionHTTPClient(client *http.Client) SessionOption {
	return func(s *Session) {
		if client != nil {
			s.client = client
		}
	}
}

// WithSessionLogger sets the logger.
func WithSessionLogger(logger zerolog.Logger) SessionOption {
	return func(s *Session) {
		s.logger = logger
	}
}

// NewSession constructs a session for creds.PortalURL.
func NewSession(creds Credentials, tokens TokenProvider, opts ...SessionOption) (*Session, error) {
	if strings.TrimSpace(creds.PortalURL) == "" {
		return nil, errors.New("portal: empty portal url")
	}
	if strings.TrimSpace(creds.Username) == "" {
		return nil, errors.New("portal: empty username")
	}
	if tokens == nil {
		return nil, errors.New("portal: nil token provider")
	}
	s := &Session{
		url:      NormalizeBaseURL(creds.PortalURL) + loginPath,
		username: creds.Username,
		tokens:   tokens,
		client:   NewHTTPClient(0, 0),
		logger:   zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Login posts the username with the bearer token and builds the facility map. It is a
// single attempt: auth rejections and other failures surface immediately.
func (s *Session) Login(ctx context.Context) (*LoginResult, error) {
	bearer, err := s.tokens.Token(ctx)
	if err != nil {
		return nil, err
	}
	req, err := newJSONRequest(ctx, s.url, bearer, loginRequest{Username: s.username})
	if err != nil {
		return nil, err
	}
	resp, body, err := exchange(ctx, s.client, "login", req)
	if err != nil {
		return nil, err
	}

	var parsed loginResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, newParseError("login", resp, body, err)
	}
	if parsed.Success != nil && !*parsed.Success {
		return nil, &LoginFailedError{Message: parsed.Message}
	}

	result := &LoginResult{Message: parsed.Message}
	switch {
	case parsed.UserID != nil:
		result.UserID = *parsed.UserID
	case parsed.LegacyID != nil:
		result.UserID = *parsed.LegacyID
	}
	if len(parsed.Permissions.Groups) > 0 {
		result.GroupID = parsed.Permissions.Groups[0].ID
	}
	inputs := make([]FacilityInput, 0, len(parsed.Permissions.Facilities))
	for _, f := range parsed.Permissions.Facilities {
		inputs = append(inputs, FacilityInput{ID: f.ID, Name: f.Name, CompanyID: f.CompanyID})
	}
	result.Facilities = NewFacilityMap(inputs, s.logger)

	s.logger.Info().
		Int("user_id", result.UserID).
		Int("group_id", result.GroupID).
		Int("facilities", result.Facilities.Len()).
		Msg("portal login successful")
	return result, nil
}

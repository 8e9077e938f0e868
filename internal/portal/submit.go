package portal

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	forecast "forecast-sender/internal/forecast/domain"
	"forecast-sender/internal/observability/metrics"
)

// SubmitPath is the consumption forecast endpoint path.
const SubmitPath = "/api/consumption-forecast/save-consumption-forecasts-provider"

// SubmitResult is the server's verdict. Accepted=false with a message is a business failure,
// not an error.
type SubmitResult struct {
	Accepted      bool
	AcceptedCount int
	Message       string
}

type submitResponse struct {
	Success      bool   `json:"success"`
	Message      string `json:"message"`
	SavedRecords int    `json:"savedRecords"`
}

// SubmitURL resolves the endpoint from a configured base or full URL.
func SubmitURL(raw string) string {
	base := NormalizeBaseURL(raw)
	if base == "" || strings.HasSuffix(base, SubmitPath) {
		return base
	}
	return base + SubmitPath
}

// Submitter posts forecast payloads.
type Submitter struct {
	url    string
	tokens TokenProvider
	client *http.Client
	retry  RetryPolicy
	logger zerolog.Logger
}

// SubmitterOption configures the submitter.
type SubmitterOption func(*Submitter)

// WithSubmitHTTPClient overrides the HTTP client.
func WithSubmitHTTPClient(client *http.Client) SubmitterOption {
	return func(s *Submitter) {
		if client != nil {
			s.client = client
		}
	}
}

// WithSubmitRetry overrides the retry policy.
func WithSubmitRetry(policy RetryPolicy) SubmitterOption {
	return func(s *Submitter) {
		s.retry = policy
	}
}

// WithSubmitLogger sets the logger.
func WithSubmitLogger(logger zerolog.Logger) SubmitterOption {
	return func(s *Submitter) {
		s.logger = logger
	}
}

// NewSubmitter constructs a submitter for forecastURL.
func NewSubmitter(forecastURL string, tokens TokenProvider, opts ...SubmitterOption) (*Submitter, error) {
	url := SubmitURL(forecastURL)
	if url == "" {
		return nil, errors.New("portal: empty forecast api url")
	}
	if tokens == nil {
		return nil, errors.New("portal: nil token provider")
	}
	s := &Submitter{
		url:    url,
		tokens: tokens,
		client: NewHTTPClient(0, 0),
		retry:  DefaultRetryPolicy(),
		logger: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// URL returns the resolved endpoint.
func (s *Submitter) URL() string { return s.url }

// Submit validates the payload and posts it. Shape violations fail before any network call.
func (s *Submitter) Submit(ctx context.Context, req forecast.Request) (SubmitResult, error) {
	if err := req.Validate(); err != nil {
		return SubmitResult{}, err
	}

	started := time.Now()
	var parsed submitResponse
	err := s.retry.Do(ctx, "submit", func(ctx context.Context) error {
		// Fetched per attempt; a long wait can outlast the previous token.
		bearer, err := s.tokens.Token(ctx)
		if err != nil {
			return permanent(err)
		}
		httpReq, err := newJSONRequest(ctx, s.url, bearer, req)
		if err != nil {
			return err
		}
		resp, body, err := exchange(ctx, s.client, "submit", httpReq)
		if err != nil {
			return err
		}
		parsed = submitResponse{}
		if err := json.Unmarshal(body, &parsed); err != nil {
			return newParseError("submit", resp, body, err)
		}
		return nil
	})
	if err != nil {
		metrics.ObserveSubmission(metrics.SubmissionError, 0, time.Since(started))
		return SubmitResult{}, err
	}

	result := SubmitResult{Accepted: parsed.Success, AcceptedCount: parsed.SavedRecords, Message: parsed.Message}
	if result.Accepted {
		metrics.ObserveSubmission(metrics.SubmissionAccepted, result.AcceptedCount, time.Since(started))
		s.logger.Info().Int("saved_records", result.AcceptedCount).Msg(result.Message)
	} else {
		metrics.ObserveSubmission(metrics.SubmissionRejected, 0, time.Since(started))
		s.logger.Warn().Str("message", result.Message).Msg("forecast rejected")
	}
	return result, nil
}

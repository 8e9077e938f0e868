package portal

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const bodyPreviewLimit = 500

// ParseError reports a response body that is not the JSON the caller expected.
type ParseError struct {
	Op          string
	URL         string
	StatusCode  int
	ContentType string
	Preview     string
	Err         error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("portal: %s: unparseable response from %s (status %d, content-type %q): %v; body: %s",
		e.Op, e.URL, e.StatusCode, e.ContentType, e.Err, e.Preview)
}

func (e *ParseError) Unwrap() error { return e.Err }

func newParseError(op string, resp *http.Response, body []byte, err error) *ParseError {
	preview := body
	if len(preview) > bodyPreviewLimit {
		preview = preview[:bodyPreviewLimit]
	}
	pe := &ParseError{Op: op, Preview: string(preview), Err: err}
	if resp != nil {
		pe.StatusCode = resp.StatusCode
		pe.ContentType = resp.Header.Get("Content-Type")
		if resp.Request != nil && resp.Request.URL != nil {
			pe.URL = resp.Request.URL.String()
		}
	}
	return pe
}

// TransportError is a connection failure, a timeout or a retryable HTTP status.
type TransportError struct {
	Op            string
	StatusCode    int
	RetryAfter    string
	HasRetryAfter bool
	Timeout       bool
	Err           error
}

func (e *TransportError) Error() string {
	switch {
	case e.StatusCode != 0:
		return fmt.Sprintf("portal: %s: http %d", e.Op, e.StatusCode)
	case e.Timeout:
		return fmt.Sprintf("portal: %s: timeout: %v", e.Op, e.Err)
	default:
		return fmt.Sprintf("portal: %s: %v", e.Op, e.Err)
	}
}

func (e *TransportError) Unwrap() error { return e.Err }

// StatusError is a terminal HTTP status that is neither an auth rejection nor retryable.
type StatusError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("portal: %s: http %d", e.Op, e.StatusCode)
	}
	return fmt.Sprintf("portal: %s: http %d: %s", e.Op, e.StatusCode, e.Body)
}

// AuthRejectionError is a 401 or 403. Retrying with the same credentials cannot succeed.
type AuthRejectionError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *AuthRejectionError) Error() string {
	return fmt.Sprintf("portal: %s: rejected with http %d: %s", e.Op, e.StatusCode, e.Body)
}

// LoginFailedError is a login answered with success=false.
type LoginFailedError struct {
	Message string
}

func (e *LoginFailedError) Error() string {
	return "portal: login failed: " + e.Message
}

// IsAuthRejection reports whether err carries an AuthRejectionError.
func IsAuthRejection(err error) bool {
	var rejected *AuthRejectionError
	return errors.As(err, &rejected)
}

// retryableStatus lists the statuses the retry policy treats as transient.
var retryableStatus = map[int]bool{
	http.StatusInternalServerError: true,
	http.StatusBadGateway:          true,
	http.StatusServiceUnavailable:  true,
	http.StatusGatewayTimeout:      true,
	http.StatusTooManyRequests:     true,
}

// classifyStatus maps a non-2xx response to the error taxonomy.
func classifyStatus(op string, resp *http.Response, body []byte) error {
	preview := string(body)
	if len(preview) > bodyPreviewLimit {
		preview = preview[:bodyPreviewLimit]
	}
	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return &AuthRejectionError{Op: op, StatusCode: resp.StatusCode, Body: preview}
	case retryableStatus[resp.StatusCode]:
		te := &TransportError{Op: op, StatusCode: resp.StatusCode, Err: fmt.Errorf("http %d: %s", resp.StatusCode, preview)}
		if values, ok := resp.Header["Retry-After"]; ok && len(values) > 0 {
			te.HasRetryAfter = true
			te.RetryAfter = values[0]
		}
		return te
	default:
		return &StatusError{Op: op, StatusCode: resp.StatusCode, Body: preview}
	}
}

// classifyTransport wraps a client.Do failure.
func classifyTransport(op string, err error) error {
	te := &TransportError{Op: op, Err: err}
	var timeout interface{ Timeout() bool }
	if errors.As(err, &timeout) && timeout.Timeout() {
		te.Timeout = true
	}
	return te
}

// retryAfterSeconds parses an integer Retry-After value.
func retryAfterSeconds(value string) (time.Duration, bool) {
	seconds, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil || seconds < 0 {
		return 0, false
	}
	return time.Duration(seconds) * time.Second, true
}

package portal

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	forecast "forecast-sender/internal/forecast/domain"
)

func samplePayload(t *testing.T, hours int) forecast.Request {
	t.Helper()
	day := time.Date(2025, time.December, 3, 0, 0, 0, 0, time.FixedZone("UTC+03:00", 3*3600))
	req, err := forecast.NewBuilder().Build(forecast.BuildInput{
		GroupID:    12,
		UserID:     2952,
		FacilityID: 41,
		Day:        day,
		Records:    forecast.SampleRecords("Bursa Akcansa", day)[:hours],
	})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	return req
}

func newTestSubmitter(t *testing.T, url string, tokens TokenProvider) *Submitter {
	t.Helper()
	policy := DefaultRetryPolicy()
	policy.Sleep = noSleep
	submitter, err := NewSubmitter(url, tokens, WithSubmitRetry(policy))
	if err != nil {
		t.Fatalf("NewSubmitter: %v", err)
	}
	return submitter
}

func TestSubmitAccepted(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != SubmitPath {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer T1" {
			t.Errorf("unexpected authorization %q", got)
		}
		var body forecast.Request
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode: %v", err)
		}
		if body.HourCount() != 24 || body.ForecastDataList[0].UnitNo != 41 {
			t.Errorf("unexpected payload %+v", body)
		}
		_, _ = w.Write([]byte(`{"success":true,"message":"Consumption forecasts saved successfully","savedRecords":24}`))
	}))
	defer srv.Close()

	result, err := newTestSubmitter(t, srv.URL, &staticTokens{value: "T1"}).Submit(context.Background(), samplePayload(t, 24))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if !result.Accepted || result.AcceptedCount != 24 {
		t.Fatalf("unexpected result %+v", result)
	}
}

func TestSubmitBusinessFailureIsAResult(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"success":false,"message":"duplicate"}`))
	}))
	defer srv.Close()

	result, err := newTestSubmitter(t, srv.URL, &staticTokens{value: "T1"}).Submit(context.Background(), samplePayload(t, 24))
	if err != nil {
		t.Fatalf("business failure must not be an error: %v", err)
	}
	if result.Accepted || result.Message != "duplicate" {
		t.Fatalf("unexpected result %+v", result)
	}
}

func TestSubmitRejectsShortDayWithoutNetwork(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
	}))
	defer srv.Close()

	_, err := newTestSubmitter(t, srv.URL, &staticTokens{value: "T1"}).Submit(context.Background(), samplePayload(t, 23))
	var verr *forecast.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if atomic.LoadInt32(&calls) != 0 {
		t.Fatalf("expected no network call, got %d", calls)
	}
}

func TestSubmitRetriesTransientStatus(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte(`{"success":true,"message":"ok","savedRecords":24}`))
	}))
	defer srv.Close()

	result, err := newTestSubmitter(t, srv.URL, &staticTokens{value: "T1"}).Submit(context.Background(), samplePayload(t, 24))
	if err != nil || !result.Accepted {
		t.Fatalf("expected success after retry, got %+v %v", result, err)
	}
	if atomic.LoadInt32(&calls) != 2 {
		t.Fatalf("expected 2 calls, got %d", calls)
	}
}

type rotatingTokens struct {
	values []string
	err    error
	calls  int
}

func (r *rotatingTokens) Token(context.Context) (string, error) {
	r.calls++
	if r.err != nil {
		return "", r.err
	}
	return r.values[min(r.calls, len(r.values))-1], nil
}

func (r *rotatingTokens) Invalidate() {}

func TestSubmitFetchesTokenPerAttempt(t *testing.T) {
	var calls int32
	var seen []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = append(seen, r.Header.Get("Authorization"))
		if atomic.AddInt32(&calls, 1) == 1 {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte(`{"success":true,"message":"ok","savedRecords":24}`))
	}))
	defer srv.Close()

	tokens := &rotatingTokens{values: []string{"T1", "T2"}}
	result, err := newTestSubmitter(t, srv.URL, tokens).Submit(context.Background(), samplePayload(t, 24))
	if err != nil || !result.Accepted {
		t.Fatalf("expected success after retry, got %+v %v", result, err)
	}
	if tokens.calls != 2 {
		t.Fatalf("expected a token lookup per attempt, got %d", tokens.calls)
	}
	if len(seen) != 2 || seen[0] != "Bearer T1" || seen[1] != "Bearer T2" {
		t.Fatalf("unexpected bearer sequence %v", seen)
	}
}

func TestSubmitTokenFailureIsNotRetried(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
	}))
	defer srv.Close()

	tokenErr := &TransportError{Op: "token", StatusCode: http.StatusServiceUnavailable}
	tokens := &rotatingTokens{err: tokenErr}
	_, err := newTestSubmitter(t, srv.URL, tokens).Submit(context.Background(), samplePayload(t, 24))
	var terr *TransportError
	if !errors.As(err, &terr) || terr != tokenErr {
		t.Fatalf("expected the token error unchanged, got %v", err)
	}
	if tokens.calls != 1 || atomic.LoadInt32(&calls) != 0 {
		t.Fatalf("expected one token lookup and no submission, got %d/%d", tokens.calls, calls)
	}
}

func TestSubmitUnauthorizedIsTerminal(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	_, err := newTestSubmitter(t, srv.URL, &staticTokens{value: "stale"}).Submit(context.Background(), samplePayload(t, 24))
	if !IsAuthRejection(err) {
		t.Fatalf("expected auth rejection, got %v", err)
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Fatalf("expected one call, got %d", calls)
	}
}

func TestSubmitServerValidationErrorIsTerminal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"detail":"Forecast orders must be 1-24"}`))
	}))
	defer srv.Close()

	_, err := newTestSubmitter(t, srv.URL, &staticTokens{value: "T1"}).Submit(context.Background(), samplePayload(t, 24))
	var serr *StatusError
	if !errors.As(err, &serr) || serr.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected status error 400, got %v", err)
	}
}

package integration_test

import (
	"context"
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	forecast "forecast-sender/internal/forecast/domain"
	"forecast-sender/internal/mockportal"
	pipeline "forecast-sender/internal/pipeline/application"
	"forecast-sender/internal/portal"
)

var zone = time.FixedZone("UTC+03:00", 3*3600)

type memoryRecords struct {
	records []forecast.Record
}

func (m memoryRecords) ListDayRecords(_ context.Context, day time.Time, customer string) ([]forecast.Record, error) {
	start := forecast.DayStart(day)
	end := start.AddDate(0, 0, 1)
	var out []forecast.Record
	for _, r := range m.records {
		if r.PredictionTS.Before(start) || !r.PredictionTS.Before(end) {
			continue
		}
		if customer != "" && r.CustomerName != customer {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

type clientStack struct {
	store     *portal.TokenStore
	manager   *portal.TokenManager
	session   *portal.Session
	submitter *portal.Submitter
}

func newClientStack(t *testing.T, baseURL string, now func() time.Time) clientStack {
	t.Helper()
	creds := portal.Credentials{
		HubURL:    baseURL,
		PortalURL: baseURL,
		Username:  "test_user",
		Password:  "test_password",
		ClientID:  "forecast-sender",
	}
	policy := portal.DefaultRetryPolicy()
	policy.Sleep = func(context.Context, time.Duration) error { return nil }

	opts := []portal.TokenStoreOption{}
	if now != nil {
		opts = append(opts, portal.WithClock(now))
	}
	store := portal.NewTokenStore(opts...)
	auth, err := portal.NewAuthClient(creds, store, portal.WithAuthRetry(policy))
	if err != nil {
		t.Fatalf("NewAuthClient: %v", err)
	}
	manager, err := portal.NewTokenManager(store, auth)
	if err != nil {
		t.Fatalf("NewTokenManager: %v", err)
	}
	session, err := portal.NewSession(creds, manager)
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	submitter, err := portal.NewSubmitter(baseURL, manager, portal.WithSubmitRetry(policy))
	if err != nil {
		t.Fatalf("NewSubmitter: %v", err)
	}
	return clientStack{store: store, manager: manager, session: session, submitter: submitter}
}

// Scenario A: a fresh token is valid and expires at expires_in minus the safety margin.
func TestTokenLifecycleAgainstMock(t *testing.T) {
	srv := httptest.NewServer(mockportal.New(mockportal.DefaultConfig()).Handler())
	defer srv.Close()

	now := time.Date(2025, time.December, 3, 8, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	stack := newClientStack(t, srv.URL, clock)

	token, err := stack.manager.Ensure(context.Background())
	if err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	if token.TTLSeconds != 3600 || !stack.store.IsValid() {
		t.Fatalf("unexpected token %+v", token)
	}
	now = now.Add((3600 - 300 + 1) * time.Second)
	if stack.store.IsValid() {
		t.Fatal("token must be invalid inside the safety margin")
	}
}

// Scenario B: a 23-hour payload never reaches the server.
func TestShortDayRejectedBeforeNetwork(t *testing.T) {
	srv := httptest.NewServer(mockportal.New(mockportal.DefaultConfig()).Handler())
	defer srv.Close()
	stack := newClientStack(t, srv.URL, nil)

	day := time.Date(2025, time.December, 3, 0, 0, 0, 0, zone)
	req, err := forecast.NewBuilder().Build(forecast.BuildInput{
		GroupID: 12, UserID: 2952, FacilityID: 41, Day: day,
		Records: forecast.SampleRecords("Bursa Akcansa", day)[:23],
	})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	_, err = stack.submitter.Submit(context.Background(), req)
	var verr *forecast.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

// Scenario C: token, login and submit succeed and the date records 24 accepted hours.
func TestFullPipelineAgainstMock(t *testing.T) {
	srv := httptest.NewServer(mockportal.New(mockportal.DefaultConfig()).Handler())
	defer srv.Close()
	stack := newClientStack(t, srv.URL, nil)

	day := time.Date(2025, time.December, 3, 0, 0, 0, 0, zone)
	records := memoryRecords{records: forecast.SampleRecords("BURSA AKÇANSA ÇİMENTO SAN. VE TİC. A.Ş.", day)}
	orch, err := pipeline.NewOrchestrator(stack.manager, stack.session, stack.submitter, records, forecast.NewBuilder())
	if err != nil {
		t.Fatalf("NewOrchestrator: %v", err)
	}

	result, err := orch.Run(context.Background(), []time.Time{day}, pipeline.RunOptions{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !result.Outcomes()["2025-12-03"] {
		t.Fatalf("expected success, got %+v", result.Dates[0])
	}
	if result.Dates[0].AcceptedCount() != 24 {
		t.Fatalf("expected 24 accepted records, got %d", result.Dates[0].AcceptedCount())
	}
}

// Scenario D: success=false with HTTP 200 fails the date and keeps the message.
func TestDuplicateSubmissionFailsDate(t *testing.T) {
	cfg := mockportal.DefaultConfig()
	cfg.RejectDuplicates = true
	srv := httptest.NewServer(mockportal.New(cfg).Handler())
	defer srv.Close()
	stack := newClientStack(t, srv.URL, nil)

	day := time.Date(2025, time.December, 3, 0, 0, 0, 0, zone)
	records := memoryRecords{records: forecast.SampleRecords("Ankara Oyak Çimento", day)}
	orch, err := pipeline.NewOrchestrator(stack.manager, stack.session, stack.submitter, records, forecast.NewBuilder())
	if err != nil {
		t.Fatalf("NewOrchestrator: %v", err)
	}

	first, err := orch.Run(context.Background(), []time.Time{day}, pipeline.RunOptions{})
	if err != nil || !first.OK() {
		t.Fatalf("first run must succeed: %+v %v", first, err)
	}
	second, err := orch.Run(context.Background(), []time.Time{day}, pipeline.RunOptions{})
	if err != nil {
		t.Fatalf("business failure must not raise: %v", err)
	}
	dr := second.Dates[0]
	if dr.Success || dr.Customers[0].Message != "duplicate" {
		t.Fatalf("expected duplicate failure, got %+v", dr)
	}
}

func TestBadCredentialsAbortRun(t *testing.T) {
	srv := httptest.NewServer(mockportal.New(mockportal.DefaultConfig()).Handler())
	defer srv.Close()

	creds := portal.Credentials{HubURL: srv.URL, PortalURL: srv.URL, Username: "test_user", Password: "nope", ClientID: "c"}
	store := portal.NewTokenStore()
	auth, err := portal.NewAuthClient(creds, store)
	if err != nil {
		t.Fatalf("NewAuthClient: %v", err)
	}
	manager, _ := portal.NewTokenManager(store, auth)
	session, _ := portal.NewSession(creds, manager)
	submitter, _ := portal.NewSubmitter(srv.URL, manager)

	day := time.Date(2025, time.December, 3, 0, 0, 0, 0, zone)
	orch, err := pipeline.NewOrchestrator(manager, session, submitter, memoryRecords{}, nil)
	if err != nil {
		t.Fatalf("NewOrchestrator: %v", err)
	}
	result, err := orch.Run(context.Background(), []time.Time{day, day.AddDate(0, 0, 1)}, pipeline.RunOptions{})
	if !errors.Is(err, pipeline.ErrRunAborted) || result.Failed != 2 {
		t.Fatalf("expected aborted run, got %+v %v", result, err)
	}
	if !portal.IsAuthRejection(result.Dates[0].Err) {
		t.Fatalf("expected auth rejection cause, got %v", result.Dates[0].Err)
	}
}

func TestTransientFailuresAreRetried(t *testing.T) {
	cfg := mockportal.DefaultConfig()
	cfg.FailRate = 1
	srv := httptest.NewServer(mockportal.New(cfg).Handler())
	defer srv.Close()
	stack := newClientStack(t, srv.URL, nil)

	day := time.Date(2025, time.December, 3, 0, 0, 0, 0, zone)
	req, err := forecast.NewBuilder().Build(forecast.BuildInput{
		GroupID: 12, UserID: 2952, FacilityID: 41, Day: day,
		Records: forecast.SampleRecords("x", day),
	})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	_, err = stack.submitter.Submit(context.Background(), req)
	var terr *portal.TransportError
	if !errors.As(err, &terr) || terr.StatusCode != 503 {
		t.Fatalf("expected exhausted 503, got %v", err)
	}
}

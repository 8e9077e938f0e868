package portal

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"forecast-sender/internal/config"
)

func noSleep(context.Context, time.Duration) error { return nil }

func newTestAuth(t *testing.T, hubURL string, store *TokenStore) *AuthClient {
	t.Helper()
	policy := DefaultRetryPolicy()
	policy.Sleep = noSleep
	client, err := NewAuthClient(Credentials{
		HubURL:    hubURL,
		PortalURL: hubURL,
		Username:  "test_user",
		Password:  "test_password",
		ClientID:  "client-1",
	}, store, WithAuthRetry(policy))
	if err != nil {
		t.Fatalf("NewAuthClient: %v", err)
	}
	return client
}

func TestAcquireTokenSendsPasswordGrant(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/oauth2/token" || r.Method != http.MethodPost {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/x-www-form-urlencoded" {
			t.Errorf("unexpected content type %q", ct)
		}
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse form: %v", err)
		}
		want := map[string]string{
			"grant_type":   "password",
			"username":     "test_user",
			"password":     "test_password",
			"redirect_uri": "myapp://auth",
			"client_id":    "client-1",
			"scope":        "openid",
		}
		for key, value := range want {
			if got := r.PostForm.Get(key); got != value {
				t.Errorf("form %s: got %q want %q", key, got, value)
			}
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"T1","token_type":"Bearer","scope":"openid"}`))
	}))
	defer srv.Close()

	store := NewTokenStore()
	token, err := newTestAuth(t, srv.URL, store).AcquireToken(context.Background())
	if err != nil {
		t.Fatalf("AcquireToken: %v", err)
	}
	if token.Value != "T1" || token.TTLSeconds != DefaultTTLSeconds {
		t.Fatalf("unexpected token %+v", token)
	}
	if !store.IsValid() {
		t.Fatal("store must hold the acquired token")
	}
}

func TestAcquireTokenHonoursExplicitZeroExpiry(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"T0","expires_in":0}`))
	}))
	defer srv.Close()

	store := NewTokenStore()
	token, err := newTestAuth(t, srv.URL, store).AcquireToken(context.Background())
	if err != nil {
		t.Fatalf("AcquireToken: %v", err)
	}
	if token.TTLSeconds != 0 {
		t.Fatalf("expected ttl 0, got %d", token.TTLSeconds)
	}
	if store.IsValid() {
		t.Fatal("zero expiry token must not be valid")
	}
}

func TestAcquireTokenParseErrorCarriesPreview(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte("<html>" + strings.Repeat("x", 2000) + "</html>"))
	}))
	defer srv.Close()

	_, err := newTestAuth(t, srv.URL, NewTokenStore()).AcquireToken(context.Background())
	var perr *ParseError
	if !errors.As(err, &perr) {
		t.Fatalf("expected ParseError, got %v", err)
	}
	if perr.StatusCode != http.StatusOK || perr.ContentType != "text/html" {
		t.Fatalf("unexpected parse error details: %+v", perr)
	}
	if len(perr.Preview) != bodyPreviewLimit {
		t.Fatalf("expected preview truncated to %d, got %d", bodyPreviewLimit, len(perr.Preview))
	}
}

func TestAcquireTokenRejectedIsNotRetried(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		http.Error(w, `{"detail":"Invalid username or password"}`, http.StatusUnauthorized)
	}))
	defer srv.Close()

	store := NewTokenStore()
	_, err := newTestAuth(t, srv.URL, store).AcquireToken(context.Background())
	if !IsAuthRejection(err) {
		t.Fatalf("expected auth rejection, got %v", err)
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Fatalf("expected a single call, got %d", calls)
	}
	if store.IsValid() {
		t.Fatal("store must stay empty")
	}
}

func TestAcquireTokenRetriesServerErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"access_token":"T3","expires_in":120}`))
	}))
	defer srv.Close()

	token, err := newTestAuth(t, srv.URL, NewTokenStore()).AcquireToken(context.Background())
	if err != nil {
		t.Fatalf("AcquireToken: %v", err)
	}
	if token.Value != "T3" || token.TTLSeconds != 120 {
		t.Fatalf("unexpected token %+v", token)
	}
	if atomic.LoadInt32(&calls) != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}
}

func TestAcquireTokenExhaustionReturnsTransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := newTestAuth(t, srv.URL, NewTokenStore()).AcquireToken(context.Background())
	var terr *TransportError
	if !errors.As(err, &terr) || terr.StatusCode != http.StatusBadGateway {
		t.Fatalf("expected transport error 502, got %v", err)
	}
}

func TestCredentialsValidateEnumeratesMissing(t *testing.T) {
	err := Credentials{HubURL: "hub.example"}.Validate()
	var cfgErr *config.ConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected ConfigurationError, got %v", err)
	}
	want := []string{config.EnvPortalURL, config.EnvUsername, config.EnvPassword, config.EnvClientID}
	if strings.Join(cfgErr.Missing, ",") != strings.Join(want, ",") {
		t.Fatalf("unexpected missing list %v", cfgErr.Missing)
	}
}

func TestTokenManagerAcquiresOnlyWhenInvalid(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		_, _ = w.Write([]byte(`{"access_token":"T1","expires_in":3600}`))
	}))
	defer srv.Close()

	store := NewTokenStore()
	manager, err := NewTokenManager(store, newTestAuth(t, srv.URL, store))
	if err != nil {
		t.Fatalf("NewTokenManager: %v", err)
	}
	for i := 0; i < 3; i++ {
		bearer, err := manager.Token(context.Background())
		if err != nil || bearer != "T1" {
			t.Fatalf("Token: %q %v", bearer, err)
		}
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Fatalf("expected one acquisition, got %d", calls)
	}
	manager.Invalidate()
	if manager.Valid() {
		t.Fatal("invalidated manager must be invalid")
	}
	if _, err := manager.Token(context.Background()); err != nil {
		t.Fatalf("Token after invalidate: %v", err)
	}
	if atomic.LoadInt32(&calls) != 2 {
		t.Fatalf("expected re-acquisition, got %d", calls)
	}
}

func TestNormalizeBaseURL(t *testing.T) {
	cases := map[string]string{
		"hub.example.com":          "https://hub.example.com",
		"http://localhost:8001/":   "http://localhost:8001",
		" https://portal.example ": "https://portal.example",
	}
	for in, want := range cases {
		if got := NormalizeBaseURL(in); got != want {
			t.Fatalf("NormalizeBaseURL(%q) = %q, want %q", in, got, want)
		}
	}
	if got := SubmitURL("http://localhost:8001" + SubmitPath); got != "http://localhost:8001"+SubmitPath {
		t.Fatalf("full submit url must be kept, got %q", got)
	}
	if got := SubmitURL("api.example"); got != "https://api.example"+SubmitPath {
		t.Fatalf("base submit url must get the path, got %q", got)
	}
}

package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func envFrom(values map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		value, ok := values[key]
		return value, ok
	}
}

func fullEnv() map[string]string {
	return map[string]string{
		EnvHubURL:         "http://localhost:8001",
		EnvPortalURL:      "http://localhost:8001",
		EnvUsername:       "test_user",
		EnvPassword:       "test_password",
		EnvClientID:       "test_client",
		EnvDBHost:         "localhost",
		EnvDBName:         "forecasts",
		EnvDBUser:         "forecast",
		EnvDBPassword:     "secret",
		EnvForecastAPIURL: "http://localhost:8001",
	}
}

func TestLoadEnumeratesEveryMissingVariable(t *testing.T) {
	env := fullEnv()
	delete(env, EnvUsername)
	delete(env, EnvDBPassword)
	env[EnvHubURL] = "   "

	_, err := LoadWith(envFrom(env))
	var cfgErr *ConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected ConfigurationError, got %v", err)
	}
	want := []string{EnvHubURL, EnvUsername, EnvDBPassword}
	if len(cfgErr.Missing) != len(want) {
		t.Fatalf("missing mismatch: got=%v want=%v", cfgErr.Missing, want)
	}
	for i, key := range want {
		if cfgErr.Missing[i] != key {
			t.Fatalf("missing[%d]: got=%s want=%s", i, cfgErr.Missing[i], key)
		}
		if !strings.Contains(err.Error(), key) {
			t.Fatalf("expected error message to name %s: %v", key, err)
		}
	}
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := LoadWith(envFrom(fullEnv()))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Database.Port != 5432 {
		t.Fatalf("expected default port 5432, got %d", cfg.Database.Port)
	}
	if cfg.Retry.MaxAttempts != 3 || cfg.Retry.BackoffFactor != 2 {
		t.Fatalf("unexpected retry defaults: %+v", cfg.Retry)
	}
	if cfg.Timeouts.Connect != 10*time.Second || cfg.Timeouts.Read != 30*time.Second {
		t.Fatalf("unexpected timeout defaults: %+v", cfg.Timeouts)
	}
	if cfg.TotalMode != TotalModeSum {
		t.Fatalf("expected sum total mode, got %s", cfg.TotalMode)
	}
}

func TestLoadYAMLOverlay(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "forecast.yaml")
	content := `
provider_key: acme
total_mode: average
offset_minutes: 120
retry:
  max_attempts: 5
  backoff_factor: 3
timeouts:
  connect: 2s
  read: 7s
journal:
  enabled: true
  table: submissions_log
notify:
  webhook_url: http://hooks.local/file
  failures_only: true
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write overlay: %v", err)
	}
	env := fullEnv()
	env["FORECAST_CONFIG"] = path
	env["DB_PORT"] = "6543"

	cfg, err := LoadWith(envFrom(env))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ProviderKey != "acme" || cfg.TotalMode != TotalModeAverage || cfg.OffsetMinutes != 120 {
		t.Fatalf("overlay not applied: %+v", cfg)
	}
	if cfg.Retry.MaxAttempts != 5 || cfg.Retry.BackoffFactor != 3 {
		t.Fatalf("retry overlay not applied: %+v", cfg.Retry)
	}
	if cfg.Timeouts.Connect != 2*time.Second || cfg.Timeouts.Read != 7*time.Second {
		t.Fatalf("timeout overlay not applied: %+v", cfg.Timeouts)
	}
	if !cfg.Journal.Enabled || cfg.Journal.Table != "submissions_log" {
		t.Fatalf("journal overlay not applied: %+v", cfg.Journal)
	}
	if cfg.Database.Port != 6543 {
		t.Fatalf("expected env port override, got %d", cfg.Database.Port)
	}
	if cfg.Notify.WebhookURL != "http://hooks.local/file" || !cfg.Notify.FailuresOnly {
		t.Fatalf("notify overlay not applied: %+v", cfg.Notify)
	}

	env["NOTIFY_WEBHOOK_URL"] = "http://hooks.local/env"
	cfg, err = LoadWith(envFrom(env))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Notify.WebhookURL != "http://hooks.local/env" {
		t.Fatalf("expected env webhook override, got %q", cfg.Notify.WebhookURL)
	}
}

func TestLoadRejectsInvalidOptionalValues(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "forecast.yaml")
	if err := os.WriteFile(path, []byte("total_mode: median\n"), 0o600); err != nil {
		t.Fatalf("write overlay: %v", err)
	}
	env := fullEnv()
	env["FORECAST_CONFIG"] = path
	env["DB_PORT"] = "abc"

	_, err := LoadWith(envFrom(env))
	var cfgErr *ConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected ConfigurationError, got %v", err)
	}
	if len(cfgErr.Missing) != 0 {
		t.Fatalf("expected nothing missing, got %v", cfgErr.Missing)
	}
	got := strings.Join(cfgErr.Invalid, ",")
	if !strings.Contains(got, "DB_PORT") || !strings.Contains(got, "total_mode") {
		t.Fatalf("unexpected invalid list: %v", cfgErr.Invalid)
	}
}

func TestDatabaseDSNQuotesValues(t *testing.T) {
	db := Database{Host: "db", Port: 5432, Name: "f", User: "u", Password: "p w'd", SSLMode: "disable"}
	dsn := db.DSN()
	if !strings.Contains(dsn, `password='p w\'d'`) {
		t.Fatalf("password not quoted: %s", dsn)
	}
	if !strings.Contains(dsn, "host=db port=5432") {
		t.Fatalf("unexpected dsn: %s", dsn)
	}
}

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ConfigurationError reports missing or invalid settings. It is raised before any network
// activity and is never retried.
type ConfigurationError struct {
	Missing []string
	Invalid []string
}

func (e *ConfigurationError) Error() string {
	var parts []string
	if len(e.Missing) > 0 {
		parts = append(parts, "missing required settings: "+strings.Join(e.Missing, ", "))
	}
	if len(e.Invalid) > 0 {
		parts = append(parts, "invalid settings: "+strings.Join(e.Invalid, ", "))
	}
	if len(parts) == 0 {
		return "config: invalid configuration"
	}
	return "config: " + strings.Join(parts, "; ")
}

// HasProblems reports whether anything was recorded.
func (e *ConfigurationError) HasProblems() bool {
	return e != nil && (len(e.Missing) > 0 || len(e.Invalid) > 0)
}

// Required environment variable names.
const (
	EnvHubURL         = "HUB_URL"
	EnvPortalURL      = "PORTAL_URL"
	EnvUsername       = "USERNAME"
	EnvPassword       = "PASSWORD"
	EnvClientID       = "CLIENT_ID"
	EnvDBHost         = "DB_HOST"
	EnvDBName         = "DB_NAME"
	EnvDBUser         = "DB_USER"
	EnvDBPassword     = "DB_PASSWORD"
	EnvForecastAPIURL = "FORECAST_API_URL"
)

var requiredEnv = []string{
	EnvHubURL,
	EnvPortalURL,
	EnvUsername,
	EnvPassword,
	EnvClientID,
	EnvDBHost,
	EnvDBName,
	EnvDBUser,
	EnvDBPassword,
	EnvForecastAPIURL,
}

// Total modes for the daily forecast total.
const (
	TotalModeSum     = "sum"
	TotalModeAverage = "average"
)

// Value sources for hourly values.
const (
	ValueSourceModel    = "model"
	ValueSourceCustomer = "customer"
)

// Database holds connection parameters for the forecast store.
type Database struct {
	Host     string `yaml:"-"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"-"`
	User     string `yaml:"-"`
	Password string `yaml:"-"`
	SSLMode  string `yaml:"sslmode"`
}

// DSN renders a pgx keyword/value connection string.
func (d Database) DSN() string {
	return fmt.Sprintf("host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
		quoteDSN(d.Host), d.Port, quoteDSN(d.Name), quoteDSN(d.User), quoteDSN(d.Password), quoteDSN(d.SSLMode))
}

func quoteDSN(value string) string {
	if value != "" && !strings.ContainsAny(value, ` '\`) {
		return value
	}
	value = strings.ReplaceAll(value, `\`, `\\`)
	value = strings.ReplaceAll(value, `'`, `\'`)
	return "'" + value + "'"
}

// Retry configures the shared retry policy.
type Retry struct {
	MaxAttempts   int     `yaml:"max_attempts"`
	BackoffFactor float64 `yaml:"backoff_factor"`
}

// Timeouts configures the HTTP transport.
type Timeouts struct {
	Connect time.Duration `yaml:"connect"`
	Read    time.Duration `yaml:"read"`
}

// Journal configures the submission journal table.
type Journal struct {
	Enabled bool   `yaml:"enabled"`
	Table   string `yaml:"table"`
}

// Notify configures run notifications.
type Notify struct {
	WebhookURL   string `yaml:"webhook_url"`
	FailuresOnly bool   `yaml:"failures_only"`
}

// Log configures logging output.
type Log struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Config is the complete client configuration.
type Config struct {
	HubURL         string `yaml:"-"`
	PortalURL      string `yaml:"-"`
	Username       string `yaml:"-"`
	Password       string `yaml:"-"`
	ClientID       string `yaml:"-"`
	ForecastAPIURL string `yaml:"-"`

	Database Database `yaml:"database"`

	ProviderKey   string `yaml:"provider_key"`
	OffsetMinutes int    `yaml:"offset_minutes"`
	TotalMode     string `yaml:"total_mode"`
	ValueSource   string `yaml:"value_source"`
	Period        int    `yaml:"period"`
	Interval      int    `yaml:"interval"`
	UnitType      int    `yaml:"unit_type"`
	RecordsTable  string `yaml:"records_table"`

	Retry     Retry    `yaml:"retry"`
	Timeouts  Timeouts `yaml:"timeouts"`
	TokenFile string   `yaml:"token_file"`
	Journal   Journal  `yaml:"journal"`
	Notify    Notify   `yaml:"notify"`
	Log       Log      `yaml:"log"`
}

// Defaults returns a configuration with every optional value populated.
func Defaults() Config {
	return Config{
		Database: Database{
			Port:    5432,
			SSLMode: "disable",
		},
		ProviderKey:   "testDemo",
		OffsetMinutes: 180,
		TotalMode:     TotalModeSum,
		ValueSource:   ValueSourceModel,
		Period:        1,
		Interval:      1,
		UnitType:      0,
		RecordsTable:  "customer_forecast_comparisons",
		Retry: Retry{
			MaxAttempts:   3,
			BackoffFactor: 2,
		},
		Timeouts: Timeouts{
			Connect: 10 * time.Second,
			Read:    30 * time.Second,
		},
		TokenFile: "access_token.json",
		Journal: Journal{
			Table: "forecast_submissions",
		},
		Log: Log{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load builds the configuration from the environment and an optional yaml overlay named by
// FORECAST_CONFIG. Every missing required variable is reported in one ConfigurationError.
func Load() (Config, error) {
	return LoadWith(os.LookupEnv)
}

// LoadWith is Load with an injectable environment lookup.
func LoadWith(lookup func(string) (string, bool)) (Config, error) {
	getenv := func(key string) string {
		value, _ := lookup(key)
		return strings.TrimSpace(value)
	}

	cfg := Defaults()
	if path := getenv("FORECAST_CONFIG"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	cfgErr := &ConfigurationError{}
	for _, key := range requiredEnv {
		if getenv(key) == "" {
			cfgErr.Missing = append(cfgErr.Missing, key)
		}
	}

	cfg.HubURL = getenv(EnvHubURL)
	cfg.PortalURL = getenv(EnvPortalURL)
	cfg.Username = getenv(EnvUsername)
	cfg.Password = getenv(EnvPassword)
	cfg.ClientID = getenv(EnvClientID)
	cfg.ForecastAPIURL = getenv(EnvForecastAPIURL)
	cfg.Database.Host = getenv(EnvDBHost)
	cfg.Database.Name = getenv(EnvDBName)
	cfg.Database.User = getenv(EnvDBUser)
	cfg.Database.Password = getenv(EnvDBPassword)

	if value := getenv("DB_PORT"); value != "" {
		port, err := strconv.Atoi(value)
		if err != nil || port <= 0 {
			cfgErr.Invalid = append(cfgErr.Invalid, "DB_PORT")
		} else {
			cfg.Database.Port = port
		}
	}
	cfg.Database.SSLMode = getenvDefault(getenv, "DB_SSLMODE", cfg.Database.SSLMode)
	cfg.TokenFile = getenvDefault(getenv, "TOKEN_FILE", cfg.TokenFile)
	cfg.Notify.WebhookURL = getenvDefault(getenv, "NOTIFY_WEBHOOK_URL", cfg.Notify.WebhookURL)
	cfg.Log.Level = getenvDefault(getenv, "LOG_LEVEL", cfg.Log.Level)
	cfg.Log.Format = getenvDefault(getenv, "LOG_FORMAT", cfg.Log.Format)

	cfgErr.Invalid = append(cfgErr.Invalid, cfg.validateOptional()...)
	if cfgErr.HasProblems() {
		return cfg, cfgErr
	}
	return cfg, nil
}

func (c Config) validateOptional() []string {
	var invalid []string
	switch c.TotalMode {
	case TotalModeSum, TotalModeAverage:
	default:
		invalid = append(invalid, "total_mode")
	}
	switch c.ValueSource {
	case ValueSourceModel, ValueSourceCustomer:
	default:
		invalid = append(invalid, "value_source")
	}
	if c.ProviderKey == "" {
		invalid = append(invalid, "provider_key")
	}
	if c.Retry.MaxAttempts <= 0 {
		invalid = append(invalid, "retry.max_attempts")
	}
	if c.Retry.BackoffFactor <= 0 {
		invalid = append(invalid, "retry.backoff_factor")
	}
	if c.Timeouts.Connect <= 0 {
		invalid = append(invalid, "timeouts.connect")
	}
	if c.Timeouts.Read <= 0 {
		invalid = append(invalid, "timeouts.read")
	}
	if c.Journal.Enabled && c.Journal.Table == "" {
		invalid = append(invalid, "journal.table")
	}
	if c.RecordsTable == "" {
		invalid = append(invalid, "records_table")
	}
	return invalid
}

// Redacted returns a copy that is safe to log.
func (c Config) Redacted() map[string]any {
	return map[string]any{
		"hub_url":          c.HubURL,
		"portal_url":       c.PortalURL,
		"forecast_api_url": c.ForecastAPIURL,
		"username":         c.Username,
		"password":         "***",
		"client_id":        c.ClientID,
		"db_host":          c.Database.Host,
		"db_name":          c.Database.Name,
		"provider_key":     c.ProviderKey,
		"total_mode":       c.TotalMode,
		"token_file":       c.TokenFile,
	}
}

func getenvDefault(getenv func(string) string, key, fallback string) string {
	value := getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

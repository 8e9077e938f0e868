package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"forecast-sender/internal/logging"
	"forecast-sender/internal/mockportal"
)

func main() {
	logger := logging.New(getenvDefault("LOG_LEVEL", "info"), getenvDefault("LOG_FORMAT", "console"), os.Stderr)

	cfg := mockportal.DefaultConfig()
	cfg.Logger = logger
	cfg.TokenTTL = time.Duration(getenvIntDefault("MOCK_PORTAL_TOKEN_TTL_SECONDS", 3600)) * time.Second
	cfg.SweepInterval = time.Duration(getenvIntDefault("MOCK_PORTAL_SWEEP_SECONDS", 300)) * time.Second
	cfg.RateLimit = getenvFloatDefault("MOCK_PORTAL_RATE_LIMIT", 0)
	cfg.Burst = getenvIntDefault("MOCK_PORTAL_BURST", cfg.Burst)
	cfg.FailRate = getenvFloatDefault("MOCK_PORTAL_FAIL_RATE", 0)
	cfg.RejectDuplicates = getenvDefault("MOCK_PORTAL_REJECT_DUPLICATES", "") == "true"
	if key := os.Getenv("MOCK_PORTAL_SIGNING_KEY"); key != "" {
		cfg.SigningKey = []byte(key)
	}
	if users := parseUsers(os.Getenv("MOCK_PORTAL_USERS")); len(users) > 0 {
		cfg.Users = users
	}
	if path := os.Getenv("MOCK_PORTAL_FACILITIES_FILE"); path != "" {
		facilities, err := loadFacilities(path)
		if err != nil {
			logger.Fatal().Err(err).Str("path", path).Msg("load facilities")
		}
		cfg.Facilities = facilities
	}

	srv := mockportal.New(cfg)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go srv.RunSweeper(ctx)

	addr := getenvDefault("MOCK_PORTAL_ADDR", ":8001")
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	users := make([]string, 0, len(cfg.Users))
	for name := range cfg.Users {
		users = append(users, name)
	}
	logger.Info().Str("addr", addr).Strs("users", users).Msg("mock portal listening")
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal().Err(err).Msg("mock portal stopped")
	}
}

// parseUsers reads "user:password,user2:password2".
func parseUsers(raw string) map[string]string {
	users := make(map[string]string)
	for _, pair := range strings.Split(raw, ",") {
		name, password, ok := strings.Cut(strings.TrimSpace(pair), ":")
		if !ok || name == "" {
			continue
		}
		users[name] = password
	}
	return users
}

func loadFacilities(path string) ([]mockportal.Facility, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var facilities []mockportal.Facility
	if err := json.Unmarshal(data, &facilities); err != nil {
		return nil, err
	}
	return facilities, nil
}

func getenvDefault(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvIntDefault(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvFloatDefault(key string, fallback float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"forecast-sender/internal/config"
)

// global flags
var (
	logLevelFlag  string
	logFormatFlag string
)

var errRunFailed = errors.New("one or more dates failed")

var rootCmd = &cobra.Command{
	Use:   "forecast-sender",
	Short: "Submit hourly consumption forecasts to the partner portal",
	Long: `forecast-sender reads hourly consumption forecasts from PostgreSQL, shapes them into
the portal's daily payload and submits one payload per customer and day.

Credentials and database settings come from the environment
(HUB_URL, PORTAL_URL, USERNAME, PASSWORD, CLIENT_ID, DB_HOST, DB_NAME, DB_USER,
DB_PASSWORD, FORECAST_API_URL). FORECAST_CONFIG may name a yaml overlay.`,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevelFlag, "log-level", "", "Log level (debug, info, warn, error); overrides LOG_LEVEL")
	rootCmd.PersistentFlags().StringVar(&logFormatFlag, "log-format", "", "Log format (console, json); overrides LOG_FORMAT")

	rootCmd.SilenceUsage = true
	rootCmd.SilenceErrors = true
}

func execute() int {
	err := rootCmd.Execute()
	if err == nil {
		return 0
	}
	var cfgErr *config.ConfigurationError
	switch {
	case errors.As(err, &cfgErr):
		fmt.Fprintln(os.Stderr, "configuration error:", err)
		return 2
	case errors.Is(err, errRunFailed):
		return 1
	default:
		fmt.Fprintln(os.Stderr, "error:", err)
		return 1
	}
}

package metrics

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
)

const dbQueryTimeout = 5 * time.Second

// RegisterDBMetrics registers connection pool stats for db and, when journalTable is set,
// gauges over the submission journal. Gauges are evaluated at gather time.
func RegisterDBMetrics(reg prometheus.Registerer, db *sql.DB, dbName, journalTable string, logger zerolog.Logger) error {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if db == nil {
		return fmt.Errorf("metrics: nil db")
	}
	if err := reg.Register(collectors.NewDBStatsCollector(db, dbName)); err != nil {
		return err
	}
	if journalTable == "" {
		return nil
	}

	if err := reg.Register(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: metricPrefix + "journal_submissions",
			Help: "Submission journal rows",
		},
		func() float64 {
			return queryCount(db, logger, fmt.Sprintf("SELECT COUNT(*) FROM %s", journalTable))
		},
	)); err != nil {
		return err
	}
	return reg.Register(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: metricPrefix + "journal_failed_submissions",
			Help: "Submission journal rows that were not accepted",
		},
		func() float64 {
			return queryCount(db, logger, fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE success = FALSE", journalTable))
		},
	))
}

func queryCount(db *sql.DB, logger zerolog.Logger, query string) float64 {
	if db == nil {
		return 0
	}
	ctx, cancel := context.WithTimeout(context.Background(), dbQueryTimeout)
	defer cancel()
	var count int64
	if err := db.QueryRowContext(ctx, query).Scan(&count); err != nil {
		logger.Warn().Err(err).Msg("metrics query failed")
		return 0
	}
	if count < 0 {
		return 0
	}
	return float64(count)
}

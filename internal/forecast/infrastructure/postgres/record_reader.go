package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	forecast "forecast-sender/internal/forecast/domain"
)

const (
	defaultRecordsTable = "customer_forecast_comparisons"
	wallClockLayout     = "2006-01-02 15:04:05"
)

var identPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)

// RecordFilter narrows a record query. Zero values disable a filter; End is exclusive.
type RecordFilter struct {
	Customer string
	Start    time.Time
	End      time.Time
	Limit    int
}

// RecordReader reads hourly forecast rows. prediction_ts is stored as a wall clock without
// zone and is reinterpreted in the reader's location.
type RecordReader struct {
	db    *sql.DB
	table string
	loc   *time.Location
}

// ReaderOption configures the reader.
type ReaderOption func(*RecordReader)

// WithRecordsTable overrides the default table name.
func WithRecordsTable(table string) ReaderOption {
	return func(r *RecordReader) {
		if table != "" {
			r.table = table
		}
	}
}

// WithLocation sets the zone the stored wall clocks belong to.
func WithLocation(loc *time.Location) ReaderOption {
	return func(r *RecordReader) {
		if loc != nil {
			r.loc = loc
		}
	}
}

// NewRecordReader constructs a reader.
func NewRecordReader(db *sql.DB, opts ...ReaderOption) (*RecordReader, error) {
	if db == nil {
		return nil, errors.New("record reader: nil db")
	}
	r := &RecordReader{db: db, table: defaultRecordsTable, loc: time.UTC}
	for _, opt := range opts {
		opt(r)
	}
	if !identPattern.MatchString(r.table) {
		return nil, fmt.Errorf("record reader: invalid table name %q", r.table)
	}
	return r, nil
}

// ListDayRecords returns the records of one calendar day, optionally for a single customer.
func (r *RecordReader) ListDayRecords(ctx context.Context, day time.Time, customer string) ([]forecast.Record, error) {
	start := forecast.DayStart(day.In(r.loc))
	return r.List(ctx, RecordFilter{Customer: customer, Start: start, End: start.AddDate(0, 0, 1)})
}

// List returns records matching filter ordered by customer then prediction time.
func (r *RecordReader) List(ctx context.Context, filter RecordFilter) ([]forecast.Record, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("record reader: nil db")
	}
	var (
		where []string
		args  []any
	)
	if filter.Customer != "" {
		args = append(args, filter.Customer)
		where = append(where, fmt.Sprintf("customer_name = $%d", len(args)))
	}
	if !filter.Start.IsZero() {
		args = append(args, filter.Start.In(r.loc).Format(wallClockLayout))
		where = append(where, fmt.Sprintf("prediction_ts >= $%d", len(args)))
	}
	if !filter.End.IsZero() {
		args = append(args, filter.End.In(r.loc).Format(wallClockLayout))
		where = append(where, fmt.Sprintf("prediction_ts < $%d", len(args)))
	}

	query := fmt.Sprintf(`
SELECT customer_name, prediction_ts, model_pred, customer_pred, created_at
FROM %s`, r.table)
	if len(where) > 0 {
		query += "\nWHERE " + strings.Join(where, " AND ")
	}
	query += "\nORDER BY customer_name, prediction_ts"
	if filter.Limit > 0 {
		query += fmt.Sprintf("\nLIMIT %d", filter.Limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("record reader: query: %w", err)
	}
	defer rows.Close()

	var records []forecast.Record
	for rows.Next() {
		var (
			record       forecast.Record
			predictionTS time.Time
			modelPred    sql.NullFloat64
			customerPred sql.NullFloat64
			createdAt    sql.NullTime
		)
		if err := rows.Scan(&record.CustomerName, &predictionTS, &modelPred, &customerPred, &createdAt); err != nil {
			return nil, fmt.Errorf("record reader: scan: %w", err)
		}
		record.PredictionTS = r.wallClock(predictionTS)
		record.ModelPred = modelPred.Float64
		if customerPred.Valid {
			v := customerPred.Float64
			record.CustomerPred = &v
		}
		if createdAt.Valid {
			record.CreatedAt = createdAt.Time
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("record reader: rows: %w", err)
	}
	return records, nil
}

func (r *RecordReader) wallClock(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), r.loc)
}

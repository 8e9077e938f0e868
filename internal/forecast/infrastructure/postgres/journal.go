package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const defaultJournalTable = "forecast_submissions"

// Submission is one journal row: the outcome of one customer/day payload.
type Submission struct {
	RunID        string
	Customer     string
	FacilityID   int
	ForecastDay  time.Time
	Success      bool
	SavedRecords int
	Message      string
	SubmittedAt  time.Time
}

// SubmissionJournal appends submission outcomes to a table.
type SubmissionJournal struct {
	db    *sql.DB
	table string
}

// NewSubmissionJournal constructs a journal writing to table (default forecast_submissions).
func NewSubmissionJournal(db *sql.DB, table string) (*SubmissionJournal, error) {
	if db == nil {
		return nil, errors.New("submission journal: nil db")
	}
	if table == "" {
		table = defaultJournalTable
	}
	if !identPattern.MatchString(table) {
		return nil, fmt.Errorf("submission journal: invalid table name %q", table)
	}
	return &SubmissionJournal{db: db, table: table}, nil
}

// EnsureTable creates the journal table when it does not exist.
func (j *SubmissionJournal) EnsureTable(ctx context.Context) error {
	if j == nil || j.db == nil {
		return errors.New("submission journal: nil db")
	}
	_, err := j.db.ExecContext(ctx, fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	id BIGSERIAL PRIMARY KEY,
	run_id TEXT NOT NULL,
	customer_name TEXT NOT NULL,
	facility_id INTEGER NOT NULL,
	forecast_day DATE NOT NULL,
	success BOOLEAN NOT NULL,
	saved_records INTEGER NOT NULL DEFAULT 0,
	message TEXT NOT NULL DEFAULT '',
	submitted_at TIMESTAMPTZ NOT NULL
)`, j.table))
	return err
}

// Record appends one submission.
func (j *SubmissionJournal) Record(ctx context.Context, s Submission) error {
	if j == nil || j.db == nil {
		return errors.New("submission journal: nil db")
	}
	if s.RunID == "" {
		return errors.New("submission journal: empty run id")
	}
	if s.SubmittedAt.IsZero() {
		s.SubmittedAt = time.Now().UTC()
	}
	_, err := j.db.ExecContext(ctx, fmt.Sprintf(`
INSERT INTO %s (
	run_id, customer_name, facility_id, forecast_day, success, saved_records, message, submitted_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`, j.table),
		s.RunID, s.Customer, s.FacilityID, s.ForecastDay.Format("2006-01-02"), s.Success, s.SavedRecords, s.Message, s.SubmittedAt)
	if err != nil {
		return fmt.Errorf("submission journal: insert: %w", err)
	}
	return nil
}

package application

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	forecast "forecast-sender/internal/forecast/domain"
	"forecast-sender/internal/ids"
	"forecast-sender/internal/observability/metrics"
	"forecast-sender/internal/portal"
)

// ErrRunAborted is returned when no token could be obtained before the first date.
var ErrRunAborted = errors.New("pipeline: run aborted")

// Step is a state of the per-date state machine.
type Step string

const (
	StepNeedToken  Step = "need_token"
	StepNeedLogin  Step = "need_login"
	StepNeedSubmit Step = "need_submit"
	StepDone       Step = "done"
	StepFailed     Step = "failed"
)

// Customer outcome statuses.
const (
	StatusAccepted = metrics.SubmissionAccepted
	StatusRejected = metrics.SubmissionRejected
	StatusError    = metrics.SubmissionError
	StatusSkipped  = metrics.SubmissionSkipped
	StatusDryRun   = metrics.SubmissionDryRun
)

// TokenSource guarantees a valid token before dependent calls.
type TokenSource interface {
	Ensure(ctx context.Context) (portal.Token, error)
	Invalidate()
}

// Authenticator logs into the portal.
type Authenticator interface {
	Login(ctx context.Context) (*portal.LoginResult, error)
}

// ForecastSubmitter posts one payload.
type ForecastSubmitter interface {
	Submit(ctx context.Context, req forecast.Request) (portal.SubmitResult, error)
}

// RecordReader loads one day of forecast records.
type RecordReader interface {
	ListDayRecords(ctx context.Context, day time.Time, customer string) ([]forecast.Record, error)
}

// SubmissionRecord is one customer/day outcome handed to the recorder.
type SubmissionRecord struct {
	RunID        string
	Customer     string
	FacilityID   int
	Day          time.Time
	Success      bool
	SavedRecords int
	Message      string
	At           time.Time
}

// SubmissionRecorder persists outcomes. Recording failures are logged, never fatal.
type SubmissionRecorder interface {
	RecordSubmission(ctx context.Context, record SubmissionRecord) error
}

// Clock returns the current time.
type Clock interface {
	Now() time.Time
}

// SystemClock uses time.Now.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// RunOptions narrows a run.
type RunOptions struct {
	Customer string
	DryRun   bool
}

// CustomerOutcome is the result for one customer on one date.
type CustomerOutcome struct {
	Customer      string
	FacilityID    int
	Status        string
	AcceptedCount int
	Message       string
	Preview       []string
}

// DateResult is the outcome of one target date.
type DateResult struct {
	Date      time.Time
	Success   bool
	FailedAt  Step
	Err       error
	Customers []CustomerOutcome
}

// Message returns the failure reason, if any.
func (d DateResult) Message() string {
	if d.Err != nil {
		return d.Err.Error()
	}
	return ""
}

// AcceptedCount sums accepted records across customers.
func (d DateResult) AcceptedCount() int {
	var total int
	for _, c := range d.Customers {
		total += c.AcceptedCount
	}
	return total
}

// RunResult aggregates one run.
type RunResult struct {
	RunID      string
	StartedAt  time.Time
	FinishedAt time.Time
	DryRun     bool
	Dates      []DateResult
	Succeeded  int
	Failed     int
}

// Outcomes maps each date (2006-01-02) to its success flag.
func (r RunResult) Outcomes() map[string]bool {
	out := make(map[string]bool, len(r.Dates))
	for _, d := range r.Dates {
		out[d.Date.Format(forecast.DayLayout)] = d.Success
	}
	return out
}

// AcceptedTotal sums accepted records across dates.
func (r RunResult) AcceptedTotal() int {
	var total int
	for _, d := range r.Dates {
		total += d.AcceptedCount()
	}
	return total
}

// OK reports whether every date succeeded. Zero dates is a success.
func (r RunResult) OK() bool {
	return r.Failed == 0
}

// Orchestrator drives token -> login -> submit for each target date, sequentially.
type Orchestrator struct {
	tokens    TokenSource
	auth      Authenticator
	submitter ForecastSubmitter
	records   RecordReader
	builder   *forecast.Builder
	recorder  SubmissionRecorder
	clock     Clock
	logger    zerolog.Logger
	preview   int
}

// Option configures the orchestrator.
type Option func(*Orchestrator)

// WithRecorder attaches a submission recorder.
func WithRecorder(recorder SubmissionRecorder) Option {
	return func(o *Orchestrator) {
		o.recorder = recorder
	}
}

// WithClock overrides the clock.
func WithClock(clock Clock) Option {
	return func(o *Orchestrator) {
		if clock != nil {
			o.clock = clock
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(o *Orchestrator) {
		o.logger = logger
	}
}

// WithPreviewHours sets how many leading and trailing hours a dry run logs.
func WithPreviewHours(n int) Option {
	return func(o *Orchestrator) {
		if n >= 0 {
			o.preview = n
		}
	}
}

// NewOrchestrator constructs the orchestrator.
func NewOrchestrator(
	tokens TokenSource,
	auth Authenticator,
	submitter ForecastSubmitter,
	records RecordReader,
	builder *forecast.Builder,
	opts ...Option,
) (*Orchestrator, error) {
	if tokens == nil {
		return nil, errors.New("pipeline: nil token source")
	}
	if auth == nil {
		return nil, errors.New("pipeline: nil authenticator")
	}
	if submitter == nil {
		return nil, errors.New("pipeline: nil submitter")
	}
	if records == nil {
		return nil, errors.New("pipeline: nil record reader")
	}
	if builder == nil {
		builder = forecast.NewBuilder()
	}
	o := &Orchestrator{
		tokens:    tokens,
		auth:      auth,
		submitter: submitter,
		records:   records,
		builder:   builder,
		clock:     SystemClock{},
		logger:    zerolog.Nop(),
		preview:   3,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// Run processes dates in order. Per-date failures are recorded and the run continues; a
// token failure on the first date aborts the run with ErrRunAborted.
func (o *Orchestrator) Run(ctx context.Context, dates []time.Time, opts RunOptions) (RunResult, error) {
	result := RunResult{
		RunID:     ids.NewRunID(),
		StartedAt: o.clock.Now(),
		DryRun:    opts.DryRun,
	}
	logger := o.logger.With().Str("run_id", result.RunID).Logger()
	logger.Info().Int("dates", len(dates)).Bool("dry_run", opts.DryRun).Str("customer", opts.Customer).Msg("run started")

	var login *portal.LoginResult
	for i, day := range dates {
		dr := o.processDate(ctx, logger, result.RunID, day, opts, &login)
		if !dr.Success && dr.FailedAt == StepNeedToken && i == 0 {
			logger.Error().Err(dr.Err).Msg("no token available, aborting run")
			for _, rest := range dates {
				result.Dates = append(result.Dates, DateResult{Date: rest, FailedAt: StepNeedToken, Err: dr.Err})
				metrics.IncPipelineDate(metrics.ResultError)
			}
			result.Failed = len(dates)
			result.FinishedAt = o.clock.Now()
			metrics.MarkRunCompleted(result.FinishedAt)
			return result, fmt.Errorf("%w: %v", ErrRunAborted, dr.Err)
		}

		result.Dates = append(result.Dates, dr)
		if dr.Success {
			result.Succeeded++
			metrics.IncPipelineDate(metrics.ResultSuccess)
		} else {
			result.Failed++
			metrics.IncPipelineDate(metrics.ResultError)
		}
	}

	result.FinishedAt = o.clock.Now()
	metrics.MarkRunCompleted(result.FinishedAt)
	logger.Info().
		Int("succeeded", result.Succeeded).
		Int("failed", result.Failed).
		Int("accepted_records", result.AcceptedTotal()).
		Msg("run finished")
	return result, nil
}

func (o *Orchestrator) processDate(ctx context.Context, logger zerolog.Logger, runID string, day time.Time, opts RunOptions, login **portal.LoginResult) DateResult {
	dr := DateResult{Date: day}
	logger = logger.With().Str("date", day.Format(forecast.DayLayout)).Logger()

	step := StepNeedToken
	for {
		switch step {
		case StepNeedToken:
			if _, err := o.tokens.Ensure(ctx); err != nil {
				return o.fail(logger, dr, step, err)
			}
			step = StepNeedLogin

		case StepNeedLogin:
			if *login == nil {
				session, err := o.auth.Login(ctx)
				if err != nil {
					if portal.IsAuthRejection(err) {
						o.tokens.Invalidate()
					}
					return o.fail(logger, dr, step, err)
				}
				*login = session
			}
			step = StepNeedSubmit

		case StepNeedSubmit:
			customers, err := o.submitDay(ctx, logger, runID, day, opts, *login)
			dr.Customers = customers
			if err != nil {
				return o.fail(logger, dr, step, err)
			}
			step = StepDone

		case StepDone:
			dr.Success = true
			dr.FailedAt = ""
			logger.Info().Int("accepted_records", dr.AcceptedCount()).Msg("date completed")
			return dr
		}
	}
}

func (o *Orchestrator) fail(logger zerolog.Logger, dr DateResult, step Step, err error) DateResult {
	dr.Success = false
	dr.FailedAt = step
	dr.Err = err
	logger.Error().Err(err).Str("step", string(step)).Msg("date failed")
	return dr
}

// submitDay sends one payload per customer. The date succeeds only when at least one payload
// went out and none failed.
func (o *Orchestrator) submitDay(ctx context.Context, logger zerolog.Logger, runID string, day time.Time, opts RunOptions, login *portal.LoginResult) ([]CustomerOutcome, error) {
	records, err := o.records.ListDayRecords(ctx, day, opts.Customer)
	if err != nil {
		return nil, fmt.Errorf("load records: %w", err)
	}
	if len(records) == 0 {
		return nil, forecast.ErrNoRecords
	}

	var (
		outcomes  []CustomerOutcome
		submitted int
		failed    int
		firstErr  error
	)
	for _, group := range forecast.GroupByCustomerDay(records) {
		clog := logger.With().Str("customer", group.Customer).Logger()
		outcome := CustomerOutcome{Customer: group.Customer}

		facility, ok := login.Facilities.Lookup(group.Customer)
		if !ok {
			outcome.Status = StatusSkipped
			outcome.Message = "no facility mapping"
			metrics.ObserveSubmission(metrics.SubmissionSkipped, 0, 0)
			clog.Warn().Msg("customer skipped, no facility mapping")
			outcomes = append(outcomes, outcome)
			continue
		}
		outcome.FacilityID = facility.ID

		req, err := o.builder.Build(forecast.BuildInput{
			GroupID:    login.GroupID,
			UserID:     login.UserID,
			FacilityID: facility.ID,
			Day:        group.Day,
			Records:    group.Records,
		})
		if err == nil {
			err = req.Validate()
		}
		if err != nil {
			outcome.Status = StatusError
			outcome.Message = err.Error()
			failed++
			if firstErr == nil {
				firstErr = fmt.Errorf("%s: %w", group.Customer, err)
			}
			clog.Error().Err(err).Int("records", len(group.Records)).Msg("payload rejected before submission")
			o.record(ctx, clog, runID, group, outcome)
			outcomes = append(outcomes, outcome)
			continue
		}

		if opts.DryRun {
			outcome.Status = StatusDryRun
			outcome.Preview = req.PreviewLines(o.preview)
			submitted++
			metrics.ObserveSubmission(metrics.SubmissionDryRun, 0, 0)
			for _, line := range outcome.Preview {
				clog.Info().Msg(line)
			}
			outcomes = append(outcomes, outcome)
			continue
		}

		res, err := o.submitter.Submit(ctx, req)
		switch {
		case err != nil:
			if portal.IsAuthRejection(err) {
				o.tokens.Invalidate()
			}
			outcome.Status = StatusError
			outcome.Message = err.Error()
			failed++
			if firstErr == nil {
				firstErr = fmt.Errorf("%s: %w", group.Customer, err)
			}
			clog.Error().Err(err).Msg("submission failed")
		case !res.Accepted:
			outcome.Status = StatusRejected
			outcome.Message = res.Message
			failed++
			if firstErr == nil {
				firstErr = fmt.Errorf("%s: rejected: %s", group.Customer, res.Message)
			}
		default:
			outcome.Status = StatusAccepted
			outcome.AcceptedCount = res.AcceptedCount
			outcome.Message = res.Message
			submitted++
		}
		o.record(ctx, clog, runID, group, outcome)
		outcomes = append(outcomes, outcome)
	}

	if failed > 0 {
		return outcomes, firstErr
	}
	if submitted == 0 {
		return outcomes, errors.New("no customer could be submitted")
	}
	return outcomes, nil
}

func (o *Orchestrator) record(ctx context.Context, logger zerolog.Logger, runID string, group forecast.CustomerDay, outcome CustomerOutcome) {
	if o.recorder == nil {
		return
	}
	err := o.recorder.RecordSubmission(ctx, SubmissionRecord{
		RunID:        runID,
		Customer:     group.Customer,
		FacilityID:   outcome.FacilityID,
		Day:          group.Day,
		Success:      outcome.Status == StatusAccepted,
		SavedRecords: outcome.AcceptedCount,
		Message:      outcome.Message,
		At:           o.clock.Now(),
	})
	if err != nil {
		logger.Warn().Err(err).Msg("record submission")
	}
}

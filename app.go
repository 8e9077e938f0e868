package main

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"

	"forecast-sender/internal/config"
	forecast "forecast-sender/internal/forecast/domain"
	forecastrepo "forecast-sender/internal/forecast/infrastructure/postgres"
	"forecast-sender/internal/logging"
	"forecast-sender/internal/notify"
	"forecast-sender/internal/observability/metrics"
	pipeline "forecast-sender/internal/pipeline/application"
	"forecast-sender/internal/portal"
)

// app holds the wired client stack shared by every command.
type app struct {
	cfg       config.Config
	logger    zerolog.Logger
	store     *portal.TokenStore
	tokens    *portal.TokenManager
	session   *portal.Session
	submitter *portal.Submitter
	builder   *forecast.Builder
}

func newApp() (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if logLevelFlag != "" {
		cfg.Log.Level = logLevelFlag
	}
	if logFormatFlag != "" {
		cfg.Log.Format = logFormatFlag
	}
	logger := logging.New(cfg.Log.Level, cfg.Log.Format, os.Stderr)
	logger.Debug().Fields(cfg.Redacted()).Msg("configuration loaded")

	metrics.Init()

	persister, err := portal.NewFileTokenPersister(cfg.TokenFile)
	if err != nil {
		return nil, err
	}
	store := portal.NewTokenStore(
		portal.WithPersister(persister),
		portal.WithStoreLogger(logger),
	)
	if !store.Restore() {
		logger.Debug().Str("token_file", persister.Path()).Msg("no reusable cached token")
	}

	creds := portal.CredentialsFromConfig(cfg)
	httpClient := portal.NewHTTPClient(cfg.Timeouts.Connect, cfg.Timeouts.Read)
	policy := portal.DefaultRetryPolicy()
	policy.MaxAttempts = cfg.Retry.MaxAttempts
	policy.BackoffFactor = cfg.Retry.BackoffFactor
	policy.Logger = logger

	auth, err := portal.NewAuthClient(creds, store,
		portal.WithAuthHTTPClient(httpClient),
		portal.WithAuthRetry(policy),
		portal.WithAuthLogger(logger),
	)
	if err != nil {
		return nil, err
	}
	tokens, err := portal.NewTokenManager(store, auth)
	if err != nil {
		return nil, err
	}
	session, err := portal.NewSession(creds, tokens,
		portal.WithSessionHTTPClient(httpClient),
		portal.WithSessionLogger(logger),
	)
	if err != nil {
		return nil, err
	}
	submitter, err := portal.NewSubmitter(cfg.ForecastAPIURL, tokens,
		portal.WithSubmitHTTPClient(httpClient),
		portal.WithSubmitRetry(policy),
		portal.WithSubmitLogger(logger),
	)
	if err != nil {
		return nil, err
	}

	builder := forecast.NewBuilder(
		forecast.WithProviderKey(cfg.ProviderKey),
		forecast.WithOffsetMinutes(cfg.OffsetMinutes),
		forecast.WithTotalMode(forecast.TotalMode(cfg.TotalMode)),
		forecast.WithValueSource(forecast.ValueSource(cfg.ValueSource)),
		forecast.WithPeriodInterval(cfg.Period, cfg.Interval, cfg.UnitType),
	)

	return &app{
		cfg:       cfg,
		logger:    logger,
		store:     store,
		tokens:    tokens,
		session:   session,
		submitter: submitter,
		builder:   builder,
	}, nil
}

// notifier returns nil when no webhook is configured.
func (a *app) notifier() notify.Notifier {
	if a.cfg.Notify.WebhookURL == "" {
		return nil
	}
	var n notify.Notifier = notify.NewWebhookNotifier(a.cfg.Notify.WebhookURL)
	if a.cfg.Notify.FailuresOnly {
		n = notify.FailuresOnly(n)
	}
	return n
}

func (a *app) openDB(ctx context.Context) (*sql.DB, error) {
	db, err := forecastrepo.Open(ctx, a.cfg.Database.DSN(), a.cfg.Timeouts.Connect)
	if err != nil {
		return nil, err
	}
	a.logger.Info().Str("host", a.cfg.Database.Host).Str("database", a.cfg.Database.Name).Msg("database connected")
	return db, nil
}

func (a *app) orchestrator(records pipeline.RecordReader, recorder pipeline.SubmissionRecorder) (*pipeline.Orchestrator, error) {
	opts := []pipeline.Option{pipeline.WithLogger(a.logger)}
	if recorder != nil {
		opts = append(opts, pipeline.WithRecorder(recorder))
	}
	return pipeline.NewOrchestrator(a.tokens, a.session, a.submitter, records, a.builder, opts...)
}

// journalRecorder adapts the submission journal to the orchestrator's recorder port.
type journalRecorder struct {
	journal *forecastrepo.SubmissionJournal
}

func (r journalRecorder) RecordSubmission(ctx context.Context, rec pipeline.SubmissionRecord) error {
	return r.journal.Record(ctx, forecastrepo.Submission{
		RunID:        rec.RunID,
		Customer:     rec.Customer,
		FacilityID:   rec.FacilityID,
		ForecastDay:  rec.Day,
		Success:      rec.Success,
		SavedRecords: rec.SavedRecords,
		Message:      rec.Message,
		SubmittedAt:  rec.At,
	})
}

// sampleRecords serves generated days for the listed customers instead of database rows.
type sampleRecords struct {
	customers []string
}

func (s sampleRecords) ListDayRecords(_ context.Context, day time.Time, customer string) ([]forecast.Record, error) {
	var out []forecast.Record
	for _, name := range s.customers {
		if customer != "" && name != customer {
			continue
		}
		out = append(out, forecast.SampleRecords(name, day)...)
	}
	return out, nil
}

// summarize logs per-date results and prints dry-run previews to out.
func summarize(logger zerolog.Logger, out io.Writer, result pipeline.RunResult) {
	for _, d := range result.Dates {
		ev := logger.Info()
		if !d.Success {
			ev = logger.Error().Str("failed_at", string(d.FailedAt)).Str("reason", d.Message())
		}
		ev.Str("date", d.Date.Format(forecast.DayLayout)).
			Bool("success", d.Success).
			Int("accepted", d.AcceptedCount()).
			Msg("date result")
		for _, c := range d.Customers {
			for _, line := range c.Preview {
				fmt.Fprintln(out, line)
			}
		}
	}
	logger.Info().
		Str("run_id", result.RunID).
		Int("succeeded", result.Succeeded).
		Int("failed", result.Failed).
		Int("accepted_total", result.AcceptedTotal()).
		Msg("run finished")
}

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	forecast "forecast-sender/internal/forecast/domain"
	forecastrepo "forecast-sender/internal/forecast/infrastructure/postgres"
	"forecast-sender/internal/notify"
	"forecast-sender/internal/observability/metrics"
	pipeline "forecast-sender/internal/pipeline/application"
	"forecast-sender/internal/report"
)

var (
	sendDates           []string
	sendFrom            string
	sendTo              string
	sendCustomer        string
	sendDryRun          bool
	sendReport          string
	sendMetricsTextfile string
)

// sendCmd submits database forecasts for the selected dates.
var sendCmd = &cobra.Command{
	Use:   "send",
	Short: "Read forecasts from PostgreSQL and submit them",
	RunE: func(cmd *cobra.Command, args []string) error {
		if sendReport != "" {
			if _, err := reportFormat(sendReport); err != nil {
				return err
			}
		}
		a, err := newApp()
		if err != nil {
			return err
		}
		dates, err := resolveDates(sendDates, sendFrom, sendTo, a.builder.Location(), time.Now())
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		db, err := a.openDB(ctx)
		if err != nil {
			return err
		}
		defer db.Close()

		reader, err := forecastrepo.NewRecordReader(db,
			forecastrepo.WithRecordsTable(a.cfg.RecordsTable),
			forecastrepo.WithLocation(a.builder.Location()),
		)
		if err != nil {
			return err
		}

		var recorder pipeline.SubmissionRecorder
		if a.cfg.Journal.Enabled {
			journal, err := forecastrepo.NewSubmissionJournal(db, a.cfg.Journal.Table)
			if err != nil {
				return err
			}
			if err := journal.EnsureTable(ctx); err != nil {
				return fmt.Errorf("ensure journal table: %w", err)
			}
			recorder = journalRecorder{journal: journal}
		}

		if sendMetricsTextfile != "" {
			journalTable := ""
			if a.cfg.Journal.Enabled {
				journalTable = a.cfg.Journal.Table
			}
			if err := metrics.RegisterDBMetrics(nil, db, a.cfg.Database.Name, journalTable, a.logger); err != nil {
				a.logger.Warn().Err(err).Msg("register db metrics")
			}
		}

		orch, err := a.orchestrator(reader, recorder)
		if err != nil {
			return err
		}
		return runAndReport(ctx, a, orch, dates, pipeline.RunOptions{Customer: sendCustomer, DryRun: sendDryRun}, sendReport, sendMetricsTextfile)
	},
}

func runAndReport(ctx context.Context, a *app, orch *pipeline.Orchestrator, dates []time.Time, opts pipeline.RunOptions, reportPath, textfile string) error {
	result, runErr := orch.Run(ctx, dates, opts)
	summarize(a.logger, os.Stdout, result)

	if reportPath != "" {
		if err := writeRunReport(reportPath, result); err != nil {
			a.logger.Error().Err(err).Str("path", reportPath).Msg("write report")
		} else {
			a.logger.Info().Str("path", reportPath).Msg("report written")
		}
	}
	if textfile != "" {
		if err := metrics.WriteTextfile(textfile); err != nil {
			a.logger.Error().Err(err).Str("path", textfile).Msg("write metrics textfile")
		}
	}
	if n := a.notifier(); n != nil {
		summary := runSummary(result, reportPath, errors.Is(runErr, pipeline.ErrRunAborted))
		if err := n.Notify(ctx, summary); err != nil {
			a.logger.Warn().Err(err).Msg("run notification failed")
		}
	}

	if runErr != nil {
		if errors.Is(runErr, pipeline.ErrRunAborted) {
			a.logger.Error().Err(runErr).Msg("run aborted")
			return errors.Join(errRunFailed, runErr)
		}
		return runErr
	}
	if !result.OK() {
		return errRunFailed
	}
	return nil
}

func runSummary(result pipeline.RunResult, reportPath string, aborted bool) notify.RunSummary {
	summary := notify.RunSummary{
		RunID:         result.RunID,
		DryRun:        result.DryRun,
		Succeeded:     result.Succeeded,
		Failed:        result.Failed,
		AcceptedTotal: result.AcceptedTotal(),
		ReportPath:    reportPath,
		Aborted:       aborted,
	}
	for _, d := range result.Dates {
		if d.Success {
			continue
		}
		if summary.FailedDates == nil {
			summary.FailedDates = make(map[string]string)
		}
		summary.FailedDates[d.Date.Format(forecast.DayLayout)] = d.Message()
	}
	return summary
}

func writeRunReport(path string, result pipeline.RunResult) error {
	format, err := reportFormat(path)
	if err != nil {
		return err
	}
	var data []byte
	switch format {
	case "pdf":
		data, err = report.BuildRunPDF(result)
	default:
		data, err = report.BuildRunXLSX(result)
	}
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func init() {
	rootCmd.AddCommand(sendCmd)

	sendCmd.Flags().StringArrayVar(&sendDates, "date", nil, "Target day YYYY-MM-DD (repeatable)")
	sendCmd.Flags().StringVar(&sendFrom, "from", "", "First day of an inclusive range (YYYY-MM-DD)")
	sendCmd.Flags().StringVar(&sendTo, "to", "", "Last day of an inclusive range (YYYY-MM-DD)")
	sendCmd.Flags().StringVar(&sendCustomer, "customer", "", "Only submit this customer")
	sendCmd.Flags().BoolVar(&sendDryRun, "dry-run", false, "Build and validate payloads without submitting")
	sendCmd.Flags().StringVar(&sendReport, "report", "", "Write a run report (.xlsx or .pdf)")
	sendCmd.Flags().StringVar(&sendMetricsTextfile, "metrics-textfile", "", "Write prometheus metrics in textfile format")
}

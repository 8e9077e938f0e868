package main

import (
	"time"

	"github.com/spf13/cobra"

	pipeline "forecast-sender/internal/pipeline/application"
)

var (
	sampleCustomers []string
	sampleDates     []string
	sampleDryRun    bool
	sampleReport    string
)

// sendSampleCmd submits generated forecasts, for exercising a portal (or the mock) without a database.
var sendSampleCmd = &cobra.Command{
	Use:   "send-sample",
	Short: "Submit generated forecasts for the given customers",
	RunE: func(cmd *cobra.Command, args []string) error {
		if sampleReport != "" {
			if _, err := reportFormat(sampleReport); err != nil {
				return err
			}
		}
		a, err := newApp()
		if err != nil {
			return err
		}
		dates, err := resolveDates(sampleDates, "", "", a.builder.Location(), time.Now())
		if err != nil {
			return err
		}
		orch, err := a.orchestrator(sampleRecords{customers: sampleCustomers}, nil)
		if err != nil {
			return err
		}
		return runAndReport(cmd.Context(), a, orch, dates, pipeline.RunOptions{DryRun: sampleDryRun}, sampleReport, "")
	},
}

func init() {
	rootCmd.AddCommand(sendSampleCmd)

	sendSampleCmd.Flags().StringArrayVar(&sampleCustomers, "customer", nil, "Customer name to generate (repeatable)")
	sendSampleCmd.Flags().StringArrayVar(&sampleDates, "date", nil, "Target day YYYY-MM-DD (repeatable, default today)")
	sendSampleCmd.Flags().BoolVar(&sampleDryRun, "dry-run", false, "Build and validate payloads without submitting")
	sendSampleCmd.Flags().StringVar(&sampleReport, "report", "", "Write a run report (.xlsx or .pdf)")
	_ = sendSampleCmd.MarkFlagRequired("customer")
}

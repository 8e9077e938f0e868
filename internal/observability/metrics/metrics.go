package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	metricPrefix = "forecast_sender_"

	resultSuccess = "success"
	resultError   = "error"

	submissionAccepted = "accepted"
	submissionRejected = "rejected"
	submissionError    = "error"
	submissionSkipped  = "skipped"
	submissionDryRun   = "dry_run"
)

var (
	registerOnce sync.Once

	tokenAcquisitions *prometheus.CounterVec
	tokenExpiry       prometheus.Gauge

	httpRetries *prometheus.CounterVec

	submissionsTotal  *prometheus.CounterVec
	submissionLatency *prometheus.HistogramVec
	acceptedRecords   prometheus.Counter

	pipelineDates   *prometheus.CounterVec
	pipelineLastRun prometheus.Gauge
)

// Init registers client metrics on the default registry.
func Init() {
	InitWith(prometheus.DefaultRegisterer)
}

// InitWith registers client metrics on reg. Only the first call has an effect.
func InitWith(reg prometheus.Registerer) {
	registerOnce.Do(func() {
		tokenAcquisitions = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "token_acquisitions_total",
				Help: "Total token acquisitions by result",
			},
			[]string{"result"},
		)
		tokenExpiry = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: metricPrefix + "token_expiry_timestamp_seconds",
			Help: "Unix time at which the current bearer token expires",
		})

		httpRetries = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "http_retries_total",
				Help: "Total retried HTTP calls by operation and reason",
			},
			[]string{"operation", "reason"},
		)

		submissionsTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "submissions_total",
				Help: "Total forecast submissions by result",
			},
			[]string{"result"},
		)
		submissionLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "submission_latency_seconds",
				Help:    "Forecast submission latency in seconds, retries included",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"result"},
		)
		acceptedRecords = prometheus.NewCounter(prometheus.CounterOpts{
			Name: metricPrefix + "accepted_records_total",
			Help: "Total hourly records accepted by the forecast API",
		})

		pipelineDates = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "pipeline_dates_total",
				Help: "Total processed target dates by result",
			},
			[]string{"result"},
		)
		pipelineLastRun = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: metricPrefix + "pipeline_last_run_timestamp_seconds",
			Help: "Unix time of the last completed pipeline run",
		})

		reg.MustRegister(
			tokenAcquisitions,
			tokenExpiry,
			httpRetries,
			submissionsTotal,
			submissionLatency,
			acceptedRecords,
			pipelineDates,
			pipelineLastRun,
		)
	})
}

// WriteTextfile writes the default gatherer in the node exporter textfile format.
func WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, prometheus.DefaultGatherer)
}

// ObserveTokenAcquisition records a token request outcome.
func ObserveTokenAcquisition(result string, expiresAt time.Time) {
	if result == "" {
		result = resultSuccess
	}
	if tokenAcquisitions != nil {
		tokenAcquisitions.WithLabelValues(result).Inc()
	}
	if tokenExpiry != nil && !expiresAt.IsZero() {
		tokenExpiry.Set(float64(expiresAt.Unix()))
	}
}

// IncRetry increments the retry counter.
func IncRetry(operation, reason string) {
	if operation == "" {
		operation = "unknown"
	}
	if reason == "" {
		reason = "unknown"
	}
	if httpRetries != nil {
		httpRetries.WithLabelValues(operation, reason).Inc()
	}
}

// ObserveSubmission records a submission outcome and its latency.
func ObserveSubmission(result string, accepted int, duration time.Duration) {
	if result == "" {
		result = submissionError
	}
	if submissionsTotal != nil {
		submissionsTotal.WithLabelValues(result).Inc()
	}
	if submissionLatency != nil && duration > 0 {
		submissionLatency.WithLabelValues(result).Observe(duration.Seconds())
	}
	if acceptedRecords != nil && accepted > 0 {
		acceptedRecords.Add(float64(accepted))
	}
}

// IncPipelineDate increments the processed date counter.
func IncPipelineDate(result string) {
	if result == "" {
		result = resultSuccess
	}
	if pipelineDates != nil {
		pipelineDates.WithLabelValues(result).Inc()
	}
}

// MarkRunCompleted stamps the last run gauge.
func MarkRunCompleted(at time.Time) {
	if pipelineLastRun != nil {
		pipelineLastRun.Set(float64(at.Unix()))
	}
}

// Exported constants for callers.
const (
	ResultSuccess = resultSuccess
	ResultError   = resultError

	SubmissionAccepted = submissionAccepted
	SubmissionRejected = submissionRejected
	SubmissionError    = submissionError
	SubmissionSkipped  = submissionSkipped
	SubmissionDryRun   = submissionDryRun
)

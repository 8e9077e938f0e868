package mockportal

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
)

type serverMetrics struct {
	requests     *prometheus.CounterVec
	activeTokens prometheus.Gauge
	sweptTokens  prometheus.Counter
	savedRecords prometheus.Counter
}

func newServerMetrics(reg prometheus.Registerer) serverMetrics {
	m := serverMetrics{
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mock_portal_requests_total",
				Help: "Total requests by route and status code",
			},
			[]string{"route", "code"},
		),
		activeTokens: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mock_portal_active_tokens",
			Help: "Tokens currently in the token table",
		}),
		sweptTokens: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mock_portal_swept_tokens_total",
			Help: "Expired tokens removed by the sweeper",
		}),
		savedRecords: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mock_portal_saved_records_total",
			Help: "Hourly forecast records accepted",
		}),
	}
	reg.MustRegister(m.requests, m.activeTokens, m.sweptTokens, m.savedRecords)
	return m
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		s.metrics.requests.WithLabelValues(route, strconv.Itoa(rec.status)).Inc()
	})
}

func (s *Server) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.limiter != nil && !s.limiter.Allow() {
			w.Header().Set("Retry-After", "1")
			writeDetail(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

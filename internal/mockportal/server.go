package mockportal

import (
	"context"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

const (
	// DefaultSweepInterval is how often expired tokens are purged.
	DefaultSweepInterval = 5 * time.Minute
	// DefaultTokenTTL is the lifetime of issued tokens.
	DefaultTokenTTL = time.Hour
	// DefaultUserID is returned by the login endpoint.
	DefaultUserID = 2952
)

// Facility is one entry of the login Permissions listing.
type Facility struct {
	ID        int    `json:"id"`
	Name      string `json:"name"`
	CompanyID int    `json:"companyId"`
}

// Config configures the mock server.
type Config struct {
	Users         map[string]string
	UserID        int
	Groups        []int
	Facilities    []Facility
	TokenTTL      time.Duration
	SweepInterval time.Duration
	SigningKey    []byte

	// RateLimit is requests per second across the API routes; zero disables limiting.
	RateLimit float64
	Burst     int
	// FailRate is the probability of answering a forecast submission with 503.
	FailRate float64
	// RejectDuplicates answers a second submission for the same unit and day with success=false.
	RejectDuplicates bool

	Now    func() time.Time
	Logger zerolog.Logger
}

// DefaultConfig returns one test user, one group and a few facilities.
func DefaultConfig() Config {
	return Config{
		Users:  map[string]string{"test_user": "test_password"},
		UserID: DefaultUserID,
		Groups: []int{12},
		Facilities: []Facility{
			{ID: 41, Name: "BURSA AKÇANSA ÇİMENTO SAN. VE TİC. A.Ş.", CompanyID: 3},
			{ID: 7, Name: "Ankara Oyak Çimento", CompanyID: 4},
			{ID: 19, Name: "Met Tüketim", CompanyID: 5},
		},
		TokenTTL:      DefaultTokenTTL,
		SweepInterval: DefaultSweepInterval,
		SigningKey:    []byte("mock-portal-signing-key"),
		Burst:         5,
		Logger:        zerolog.Nop(),
	}
}

type tokenEntry struct {
	Username  string
	ClientID  string
	CreatedAt time.Time
	ExpiresAt time.Time
}

// Server emulates the identity provider, the portal login and the forecast endpoint.
type Server struct {
	cfg    Config
	now    func() time.Time
	logger zerolog.Logger

	mu     sync.Mutex
	tokens map[string]tokenEntry
	saved  map[string]int

	rngMu sync.Mutex
	rng   *rand.Rand

	limiter  *rate.Limiter
	registry *prometheus.Registry
	metrics  serverMetrics
	router   chi.Router
}

// New builds a server from cfg, filling unset fields from DefaultConfig.
func New(cfg Config) *Server {
	def := DefaultConfig()
	if len(cfg.Users) == 0 {
		cfg.Users = def.Users
	}
	if cfg.UserID == 0 {
		cfg.UserID = def.UserID
	}
	if len(cfg.Groups) == 0 {
		cfg.Groups = def.Groups
	}
	if cfg.Facilities == nil {
		cfg.Facilities = def.Facilities
	}
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = def.TokenTTL
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = def.SweepInterval
	}
	if len(cfg.SigningKey) == 0 {
		cfg.SigningKey = def.SigningKey
	}
	if cfg.Burst <= 0 {
		cfg.Burst = def.Burst
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	s := &Server{
		cfg:      cfg,
		now:      now,
		logger:   cfg.Logger,
		tokens:   make(map[string]tokenEntry),
		saved:    make(map[string]int),
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
		registry: prometheus.NewRegistry(),
	}
	if cfg.RateLimit > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.Burst)
	}
	s.metrics = newServerMetrics(s.registry)
	s.router = s.routes()
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", s.handleRoot)
	r.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))

	r.Group(func(api chi.Router) {
		api.Use(s.instrument)
		api.Use(s.rateLimit)
		api.Post("/oauth2/token", s.handleToken)
		api.With(s.requireToken).Post("/Login/Login", s.handleLogin)
		api.With(s.requireToken).Post("/api/consumption-forecast/save-consumption-forecasts-provider", s.handleForecast)
	})
	return r
}

// RunSweeper purges expired tokens every SweepInterval until ctx is done.
func (s *Server) RunSweeper(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep()
		}
	}
}

// Sweep removes expired tokens under the table lock and returns how many were removed.
func (s *Server) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	removed := 0
	for token, entry := range s.tokens {
		if now.After(entry.ExpiresAt) {
			delete(s.tokens, token)
			removed++
		}
	}
	s.metrics.activeTokens.Set(float64(len(s.tokens)))
	if removed > 0 {
		s.metrics.sweptTokens.Add(float64(removed))
		s.logger.Info().Int("removed", removed).Int("active", len(s.tokens)).Msg("expired tokens swept")
	}
	return removed
}

// ActiveTokens returns the size of the token table.
func (s *Server) ActiveTokens() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tokens)
}

// Registry exposes the server's private metrics registry.
func (s *Server) Registry() *prometheus.Registry {
	return s.registry
}

func (s *Server) shouldFail() bool {
	if s.cfg.FailRate <= 0 {
		return false
	}
	s.rngMu.Lock()
	defer s.rngMu.Unlock()
	return s.rng.Float64() < s.cfg.FailRate
}

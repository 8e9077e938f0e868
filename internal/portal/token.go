package portal

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const (
	// SafetyMargin is subtracted from the expiry so renewal happens before the provider rejects the token.
	SafetyMargin = 5 * time.Minute
	// DefaultTTLSeconds applies when the provider omits expires_in.
	DefaultTTLSeconds = 3600
)

// Token is one bearer token. It is replaced wholesale, never mutated.
type Token struct {
	Value      string    `json:"token"`
	IssuedAt   time.Time `json:"created_at"`
	TTLSeconds int       `json:"ttl_seconds"`
	ExpiresAt  time.Time `json:"expiry"`
}

// Clock returns the current time.
type Clock func() time.Time

// TokenPersister stores the single active token across process restarts.
type TokenPersister interface {
	Load() (Token, bool, error)
	Save(Token) error
	Clear() error
}

// TokenStore holds at most one current token.
type TokenStore struct {
	mu        sync.Mutex
	token     Token
	present   bool
	now       Clock
	persister TokenPersister
	logger    zerolog.Logger
}

// TokenStoreOption configures the store.
type TokenStoreOption func(*TokenStore)

// WithClock overrides time.Now.
func WithClock(clock Clock) TokenStoreOption {
	return func(s *TokenStore) {
		if clock != nil {
			s.now = clock
		}
	}
}

// WithPersister attaches durable storage.
func WithPersister(p TokenPersister) TokenStoreOption {
	return func(s *TokenStore) {
		s.persister = p
	}
}

// WithStoreLogger sets the logger.
func WithStoreLogger(logger zerolog.Logger) TokenStoreOption {
	return func(s *TokenStore) {
		s.logger = logger
	}
}

// NewTokenStore constructs an empty store.
func NewTokenStore(opts ...TokenStoreOption) *TokenStore {
	s := &TokenStore{now: time.Now, logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// IsValid reports whether a token is present and now < expiry - SafetyMargin.
func (s *TokenStore) IsValid() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.validLocked()
}

func (s *TokenStore) validLocked() bool {
	if !s.present || s.token.Value == "" || s.token.ExpiresAt.IsZero() {
		return false
	}
	return s.now().Before(s.token.ExpiresAt.Add(-SafetyMargin))
}

// Set records value as the current token expiring ttlSeconds from now. A non-positive
// ttl yields a token that is already invalid.
func (s *TokenStore) Set(value string, ttlSeconds int) Token {
	if ttlSeconds < 0 {
		ttlSeconds = 0
	}
	now := s.now()
	token := Token{
		Value:      value,
		IssuedAt:   now,
		TTLSeconds: ttlSeconds,
		ExpiresAt:  now.Add(time.Duration(ttlSeconds) * time.Second),
	}

	s.mu.Lock()
	s.token = token
	s.present = true
	s.mu.Unlock()

	if s.persister != nil {
		if err := s.persister.Save(token); err != nil {
			s.logger.Warn().Err(err).Msg("persist token")
		}
	}
	return token
}

// Clear drops the current token.
func (s *TokenStore) Clear() {
	s.mu.Lock()
	s.token = Token{}
	s.present = false
	s.mu.Unlock()

	if s.persister != nil {
		if err := s.persister.Clear(); err != nil {
			s.logger.Warn().Err(err).Msg("clear persisted token")
		}
	}
}

// Current returns the token if one is present, valid or not.
func (s *TokenStore) Current() (Token, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token, s.present
}

// Restore loads a persisted token and keeps it only if it is still valid.
func (s *TokenStore) Restore() bool {
	if s.persister == nil {
		return false
	}
	token, ok, err := s.persister.Load()
	if err != nil {
		s.logger.Warn().Err(err).Msg("load persisted token")
		return false
	}
	if !ok {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = token
	s.present = true
	if !s.validLocked() {
		s.token = Token{}
		s.present = false
		s.logger.Debug().Time("expiry", token.ExpiresAt).Msg("persisted token expired")
		return false
	}
	s.logger.Info().Time("expiry", token.ExpiresAt).Msg("restored persisted token")
	return true
}

package mockportal

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

type ctxKey int

const tokenEntryKey ctxKey = iota

type forecastHour struct {
	IsUpdated           bool    `json:"isUpdated"`
	DeliveryStart       string  `json:"deliveryStart"`
	DeliveryEnd         string  `json:"deliveryEnd"`
	DeliveryStartOffset int     `json:"deliveryStartOffset"`
	DeliveryEndOffset   int     `json:"deliveryEndOffset"`
	Order               int     `json:"order"`
	Value               float64 `json:"value"`
}

type forecastData struct {
	UnitType    int            `json:"unitType"`
	UnitNo      int            `json:"unitNo"`
	ProviderKey string         `json:"providerKey"`
	Total       float64        `json:"total"`
	IsUpdated   bool           `json:"isUpdated"`
	ForecastDay string         `json:"forecastDay"`
	Forecasts   []forecastHour `json:"forecasts"`
}

type forecastRequest struct {
	GroupID          int            `json:"groupId"`
	UserID           int            `json:"userId"`
	Period           int            `json:"period"`
	Interval         int            `json:"interval"`
	ForecastDataList []forecastData `json:"forecastDataList"`
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"service": "Mock SmartPulse Server",
		"status":  "running",
		"endpoints": map[string]string{
			"token":    "/oauth2/token",
			"login":    "/Login/Login",
			"forecast": "/api/consumption-forecast/save-consumption-forecasts-provider",
			"metrics":  "/metrics",
		},
	})
}

func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeDetail(w, http.StatusUnprocessableEntity, "invalid form body")
		return
	}
	var missing []string
	for _, field := range []string{"grant_type", "username", "password", "redirect_uri", "client_id", "scope"} {
		if r.PostForm.Get(field) == "" {
			missing = append(missing, field)
		}
	}
	if len(missing) > 0 {
		writeDetail(w, http.StatusUnprocessableEntity, "missing form fields: "+strings.Join(missing, ", "))
		return
	}
	if r.PostForm.Get("grant_type") != "password" {
		writeDetail(w, http.StatusBadRequest, "Unsupported grant_type")
		return
	}
	username := r.PostForm.Get("username")
	password, ok := s.cfg.Users[username]
	if !ok || password != r.PostForm.Get("password") {
		s.logger.Warn().Str("username", username).Bool("known_user", ok).Msg("authentication failed")
		writeDetail(w, http.StatusUnauthorized, "Invalid username or password")
		return
	}

	token, entry, err := s.issueToken(username, r.PostForm.Get("client_id"))
	if err != nil {
		writeDetail(w, http.StatusInternalServerError, "token signing failed")
		return
	}
	s.logger.Info().Str("username", username).Time("expires_at", entry.ExpiresAt).Msg("token issued")
	writeJSON(w, http.StatusOK, map[string]any{
		"access_token": token,
		"token_type":   "Bearer",
		"expires_in":   int(s.cfg.TokenTTL / time.Second),
		"scope":        r.PostForm.Get("scope"),
	})
}

func (s *Server) issueToken(username, clientID string) (string, tokenEntry, error) {
	now := s.now()
	entry := tokenEntry{
		Username:  username,
		ClientID:  clientID,
		CreatedAt: now,
		ExpiresAt: now.Add(s.cfg.TokenTTL),
	}
	claims := jwt.MapClaims{
		"iss":       "mock-portal",
		"sub":       username,
		"client_id": clientID,
		"jti":       uuid.NewString(),
		"iat":       now.Unix(),
		"exp":       entry.ExpiresAt.Unix(),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.cfg.SigningKey)
	if err != nil {
		return "", tokenEntry{}, err
	}

	s.mu.Lock()
	s.tokens[signed] = entry
	s.metrics.activeTokens.Set(float64(len(s.tokens)))
	s.mu.Unlock()
	return signed, entry, nil
}

// requireToken accepts a bearer token that verifies and is still in the token table.
func (s *Server) requireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			writeDetail(w, http.StatusForbidden, "Not authenticated")
			return
		}
		raw := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))

		_, err := jwt.Parse(raw, func(t *jwt.Token) (any, error) {
			return s.cfg.SigningKey, nil
		}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(s.now))
		if err != nil {
			writeDetail(w, http.StatusUnauthorized, "Invalid or expired token")
			return
		}

		s.mu.Lock()
		entry, ok := s.tokens[raw]
		s.mu.Unlock()
		if !ok || !s.now().Before(entry.ExpiresAt) {
			writeDetail(w, http.StatusUnauthorized, "Invalid or expired token")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), tokenEntryKey, entry)))
	})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Username == "" {
		writeDetail(w, http.StatusUnprocessableEntity, "username required")
		return
	}
	entry, _ := r.Context().Value(tokenEntryKey).(tokenEntry)
	if req.Username != entry.Username {
		writeDetail(w, http.StatusForbidden, "Username mismatch with token")
		return
	}

	groups := make([]map[string]int, 0, len(s.cfg.Groups))
	for _, id := range s.cfg.Groups {
		groups = append(groups, map[string]int{"id": id})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "Login successful",
		"userId":  s.cfg.UserID,
		"Permissions": map[string]any{
			"groups":     groups,
			"facilities": s.cfg.Facilities,
		},
	})
}

func (s *Server) handleForecast(w http.ResponseWriter, r *http.Request) {
	var req forecastRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeDetail(w, http.StatusUnprocessableEntity, "invalid forecast body: "+err.Error())
		return
	}
	if len(req.ForecastDataList) == 0 {
		writeDetail(w, http.StatusUnprocessableEntity, "forecastDataList required")
		return
	}

	total := 0
	for _, data := range req.ForecastDataList {
		if len(data.Forecasts) != 24 {
			writeDetail(w, http.StatusBadRequest, fmt.Sprintf("Expected 24 hourly forecasts, got %d", len(data.Forecasts)))
			return
		}
		orders := make([]int, 0, len(data.Forecasts))
		for _, hour := range data.Forecasts {
			orders = append(orders, hour.Order)
		}
		sort.Ints(orders)
		for i, order := range orders {
			if order != i+1 {
				writeDetail(w, http.StatusBadRequest, "Forecast orders must be 1-24")
				return
			}
		}
		total += len(data.Forecasts)
	}

	if s.shouldFail() {
		writeDetail(w, http.StatusServiceUnavailable, "injected failure")
		return
	}

	if s.cfg.RejectDuplicates {
		s.mu.Lock()
		duplicate := false
		for _, data := range req.ForecastDataList {
			if _, ok := s.saved[savedKey(data)]; ok {
				duplicate = true
				break
			}
		}
		if !duplicate {
			for _, data := range req.ForecastDataList {
				s.saved[savedKey(data)] = len(data.Forecasts)
			}
		}
		s.mu.Unlock()
		if duplicate {
			writeJSON(w, http.StatusOK, map[string]any{"success": false, "message": "duplicate", "savedRecords": 0})
			return
		}
	}

	s.metrics.savedRecords.Add(float64(total))
	s.logger.Info().
		Int("group_id", req.GroupID).
		Int("user_id", req.UserID).
		Str("forecast_day", req.ForecastDataList[0].ForecastDay).
		Int("records", total).
		Msg("forecast received")
	writeJSON(w, http.StatusOK, map[string]any{
		"success":      true,
		"message":      "Consumption forecasts saved successfully",
		"savedRecords": total,
	})
}

func savedKey(data forecastData) string {
	return fmt.Sprintf("%d/%s", data.UnitNo, data.ForecastDay)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeDetail(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}

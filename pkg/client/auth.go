package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

var authRefreshesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "dokufetch_auth_refreshes_total",
	Help: "Total login exchanges by outcome",
}, []string{"outcome"})

// Credentials holds the username/password pair used for the login exchange.
type Credentials struct {
	Username string
	Password string
}

// Session owns the short-lived bearer token obtained from the login endpoint
// and refreshes it when the service rejects it.
//
// The token is shared read-mostly across all concurrent requests. Refresh is
// serialized: the mutex is held across the login exchange, and callers that
// observed a token generation older than the current one skip their own
// refresh, so a burst of concurrent 401s triggers at most one login.
type Session struct {
	baseURL    string
	creds      Credentials
	httpClient *http.Client
	logger     zerolog.Logger

	mu         sync.Mutex
	token      string
	generation int
}

// NewSession creates a session for the given service. The token is obtained
// lazily on first use.
func NewSession(baseURL string, creds Credentials, httpClient *http.Client, logger zerolog.Logger) *Session {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Session{
		baseURL:    baseURL,
		creds:      creds,
		httpClient: httpClient,
		logger:     logger,
	}
}

// Token returns the current bearer token and its generation, performing the
// initial login if no token is held yet.
func (s *Session) Token(ctx context.Context) (string, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.token == "" {
		if err := s.loginLocked(ctx); err != nil {
			return "", 0, err
		}
	}
	return s.token, s.generation, nil
}

// Refresh performs the login exchange unconditionally, replacing the held
// token. It fails with ErrAuth if the service rejects the credentials.
func (s *Session) Refresh(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loginLocked(ctx)
}

// refreshIfCurrent refreshes the token only if seenGeneration is still the
// current one. A caller whose request failed against an already-replaced
// token reuses the newer token instead of triggering another login.
func (s *Session) refreshIfCurrent(ctx context.Context, seenGeneration int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.generation != seenGeneration {
		s.logger.Debug().
			Int("seen_generation", seenGeneration).
			Int("current_generation", s.generation).
			Msg("token already refreshed by another request")
		return nil
	}
	return s.loginLocked(ctx)
}

// loginLocked performs the login exchange. Callers must hold s.mu.
func (s *Session) loginLocked(ctx context.Context) error {
	body, err := json.Marshal(map[string]string{
		"username": s.creds.Username,
		"password": s.creds.Password,
	})
	if err != nil {
		return fmt.Errorf("encode login request: %w", err)
	}

	endpoint := s.baseURL + "/api/login"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create login request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		authRefreshesTotal.WithLabelValues("network_error").Inc()
		return fmt.Errorf("login request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		authRefreshesTotal.WithLabelValues("rejected").Inc()
		s.logger.Warn().
			Int("status", resp.StatusCode).
			Msg("login rejected")
		return newStatusError("/api/login", resp.StatusCode)
	}

	var payload struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		authRefreshesTotal.WithLabelValues("decode_error").Inc()
		return fmt.Errorf("decode login response: %w", err)
	}
	if payload.Token == "" {
		authRefreshesTotal.WithLabelValues("decode_error").Inc()
		return fmt.Errorf("%w: login response contained no token", ErrAuth)
	}

	s.token = payload.Token
	s.generation++
	authRefreshesTotal.WithLabelValues("ok").Inc()

	s.logger.Debug().
		Int("generation", s.generation).
		Msg("obtained session token")

	return nil
}

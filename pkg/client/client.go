// Package client provides the authenticated Dokumentlager HTTP client with
// retry/backoff, error classification, and session-token management.
package client

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/arkivtools/dokufetch/pkg/logging"
)

// Prometheus metrics for client operations.
var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dokufetch_requests_total",
		Help: "Total requests by endpoint and status",
	}, []string{"endpoint", "status"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "dokufetch_request_duration_seconds",
		Help:    "Request duration in seconds by endpoint",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
	}, []string{"endpoint"})

	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dokufetch_errors_total",
		Help: "Total request errors by class",
	}, []string{"class"})
)

// Client is the Dokumentlager API client.
type Client struct {
	httpClient *http.Client
	session    *Session
	config     Config
	logger     zerolog.Logger
}

// Config holds the client configuration.
type Config struct {
	// BaseURL of the Dokumentlager service, without trailing slash.
	BaseURL string

	// Credentials for the login exchange.
	Credentials Credentials

	// UserAgent header sent with every request.
	UserAgent string

	// Timeout per HTTP request.
	Timeout time.Duration

	// Retry policy for transient errors.
	Retry RetryConfig
}

// DefaultConfig returns a safe default configuration.
func DefaultConfig(baseURL string, creds Credentials) Config {
	return Config{
		BaseURL:     baseURL,
		Credentials: creds,
		UserAgent:   "dokufetch/0.1.0",
		Timeout:     30 * time.Second,
		Retry:       DefaultRetryConfig(),
	}
}

// New creates a new Dokumentlager client.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base URL is required")
	}
	if cfg.Credentials.Username == "" || cfg.Credentials.Password == "" {
		return nil, fmt.Errorf("credentials are required")
	}
	if cfg.UserAgent == "" {
		return nil, fmt.Errorf("user-agent is required")
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry = DefaultRetryConfig()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	logger := logging.NewLogger("client")

	httpClient := &http.Client{Timeout: cfg.Timeout}

	return &Client{
		httpClient: httpClient,
		session:    NewSession(cfg.BaseURL, cfg.Credentials, httpClient, logger),
		config:     cfg,
		logger:     logger,
	}, nil
}

// Session returns the auth session held by the client.
func (c *Client) Session() *Session {
	return c.session
}

// BaseURL returns the configured service base URL.
func (c *Client) BaseURL() string {
	return c.config.BaseURL
}

// Do performs an authorized HTTP request with retry and error classification.
// Responses with status >= 400 are converted to APIErrors; on success the
// caller owns the response body.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	endpoint := req.URL.Path

	startTime := time.Now()
	defer func() {
		requestDuration.WithLabelValues(endpoint).Observe(time.Since(startTime).Seconds())
	}()

	c.logger.Debug().
		Str("endpoint", endpoint).
		Str("method", req.Method).
		Msg("executing request")

	var out *http.Response

	retryErr := retryWithBackoff(ctx, c.config.Retry, c.logger, func() (ErrorClass, error) {
		resp, err := c.attempt(req)
		if err != nil {
			class := ClassOf(err)
			errorsTotal.WithLabelValues(string(class)).Inc()
			requestsTotal.WithLabelValues(endpoint, string(class)).Inc()
			c.logger.Warn().
				Err(err).
				Str("endpoint", endpoint).
				Str("error_class", string(class)).
				Msg("request failed")
			return class, err
		}

		if resp.StatusCode >= 400 {
			resp.Body.Close()
			apiErr := newStatusError(endpoint, resp.StatusCode)
			errorsTotal.WithLabelValues(string(apiErr.Class)).Inc()
			requestsTotal.WithLabelValues(endpoint, strconv.Itoa(resp.StatusCode)).Inc()
			c.logger.Warn().
				Str("endpoint", endpoint).
				Int("status", resp.StatusCode).
				Str("error_class", string(apiErr.Class)).
				Msg("request error")
			return apiErr.Class, apiErr
		}

		requestsTotal.WithLabelValues(endpoint, strconv.Itoa(resp.StatusCode)).Inc()
		out = resp
		return "", nil
	})

	if retryErr != nil {
		return nil, retryErr
	}
	return out, nil
}

// attempt sends the request once, applying the single refresh-retry rule for
// authorization failures: exactly one refresh and one resend, then ErrAuth.
func (c *Client) attempt(req *http.Request) (*http.Response, error) {
	ctx := req.Context()

	token, generation, err := c.session.Token(ctx)
	if err != nil {
		return nil, err
	}

	resp, err := c.send(req, token)
	if err != nil {
		return nil, err
	}
	if !isAuthStatus(resp.StatusCode) {
		return resp, nil
	}
	resp.Body.Close()

	c.logger.Debug().
		Str("endpoint", req.URL.Path).
		Int("status", resp.StatusCode).
		Msg("authorization failure, refreshing session")

	if err := c.session.refreshIfCurrent(ctx, generation); err != nil {
		return nil, err
	}
	token, _, err = c.session.Token(ctx)
	if err != nil {
		return nil, err
	}

	resp, err = c.send(req, token)
	if err != nil {
		return nil, err
	}
	if isAuthStatus(resp.StatusCode) {
		resp.Body.Close()
		return nil, newStatusError(req.URL.Path, resp.StatusCode)
	}
	return resp, nil
}

// send clones the request (so retries never reuse a consumed request) and
// attaches the standard headers plus the bearer token.
func (c *Client) send(req *http.Request, token string) (*http.Response, error) {
	r := req.Clone(req.Context())
	r.Header.Set("User-Agent", c.config.UserAgent)
	r.Header.Set("Authorization", "Bearer "+token)
	return c.httpClient.Do(r)
}

func isAuthStatus(status int) bool {
	return status == http.StatusUnauthorized || status == http.StatusForbidden
}

// Get performs a GET request against an endpoint path (with optional query)
// relative to the service base URL.
func (c *Client) Get(ctx context.Context, endpoint string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.config.BaseURL+endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	return c.Do(req)
}

// SetHTTPClient sets a custom HTTP client (for testing). The session keeps
// using the same transport.
func (c *Client) SetHTTPClient(client *http.Client) {
	c.httpClient = client
	c.session.httpClient = client
}

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/vaultsandbox/e2ee-go/internal/apierrors"
)

// Defaults for Config fields left at their zero value.
const (
	DefaultTimeout    = 15 * time.Second
	DefaultMaxRetries = 3
	DefaultRateLimit  = rate.Limit(20)
	DefaultRateBurst  = 10

	maxErrorBody = 64 << 10
)

// Config is the struct form of client configuration.
type Config struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
	// MaxRetries of zero uses DefaultMaxRetries; negative disables retries.
	MaxRetries int
	RetryDelay time.Duration
	RetryOn    []int
	// RateLimit is requests per second; zero uses DefaultRateLimit and
	// rate.Inf disables limiting.
	RateLimit rate.Limit
	RateBurst int
	Logger    *zerolog.Logger
}

// Client is the HTTP client for the directory and recovery store.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	retry      *RetryConfig
	limiter    *rate.Limiter
	logger     zerolog.Logger
}

// NewClient creates a client from an explicit Config.
func NewClient(cfg Config) (*Client, error) {
	if cfg.Token == "" {
		return nil, apierrors.ErrMissingToken
	}
	if cfg.BaseURL == "" {
		return nil, apierrors.ErrMissingBaseURL
	}

	retry := DefaultRetryConfig()
	switch {
	case cfg.MaxRetries < 0:
		retry.MaxRetries = 0
	case cfg.MaxRetries > 0:
		retry.MaxRetries = cfg.MaxRetries
	}
	if cfg.RetryDelay > 0 {
		retry.BaseDelay = cfg.RetryDelay
	}
	if len(cfg.RetryOn) > 0 {
		retry.RetryableOn = retryOnCodes(cfg.RetryOn)
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultTimeout}
	}

	limit, burst := cfg.RateLimit, cfg.RateBurst
	if limit == 0 {
		limit = DefaultRateLimit
	}
	if burst <= 0 {
		burst = DefaultRateBurst
	}

	logger := zerolog.Nop()
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}

	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		token:      cfg.Token,
		httpClient: httpClient,
		retry:      retry,
		limiter:    rate.NewLimiter(limit, burst),
		logger:     logger.With().Str("component", "api").Logger(),
	}, nil
}

// Option configures the API client.
type Option func(*Config)

// WithBaseURL sets the base URL.
func WithBaseURL(url string) Option {
	return func(c *Config) { c.BaseURL = url }
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Config) { c.HTTPClient = client }
}

// WithTimeout sets the per-request timeout of the default HTTP client.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Config) {
		c.HTTPClient = &http.Client{Timeout: timeout}
	}
}

// WithRetries sets the number of retries. Zero disables retries.
func WithRetries(retries int) Option {
	return func(c *Config) {
		if retries == 0 {
			retries = -1
		}
		c.MaxRetries = retries
	}
}

// WithRetryDelay sets the base backoff delay.
func WithRetryDelay(d time.Duration) Option {
	return func(c *Config) { c.RetryDelay = d }
}

// WithRetryOn sets the HTTP status codes that trigger a retry.
func WithRetryOn(statusCodes []int) Option {
	return func(c *Config) { c.RetryOn = statusCodes }
}

// WithRateLimit sets the client-side request rate and burst.
func WithRateLimit(limit rate.Limit, burst int) Option {
	return func(c *Config) {
		c.RateLimit = limit
		c.RateBurst = burst
	}
}

// WithLogger sets the logger used for retry diagnostics.
func WithLogger(l zerolog.Logger) Option {
	return func(c *Config) { c.Logger = &l }
}

// New creates a client from a token and options.
func New(token string, opts ...Option) (*Client, error) {
	cfg := Config{Token: token}
	for _, opt := range opts {
		opt(&cfg)
	}
	return NewClient(cfg)
}

// do performs a JSON request with retries. result may be nil.
func (c *Client) do(ctx context.Context, method, path string, body, result any) error {
	var payload []byte
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		payload = data
	}

	url := c.baseURL + path
	for attempt := 0; ; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}

		resp, err := c.send(ctx, method, url, payload)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if !c.retry.ShouldRetry(attempt, 0) {
				return &apierrors.NetworkError{Err: err, URL: url, Attempt: attempt + 1}
			}
			c.logger.Debug().Err(err).Str("method", method).Str("path", path).Int("attempt", attempt+1).Msg("request failed, retrying")
			if err := c.retry.Wait(ctx, attempt, 0); err != nil {
				return err
			}
			continue
		}

		if resp.StatusCode >= 400 && c.retry.ShouldRetry(attempt, resp.StatusCode) {
			hint := parseRetryAfter(resp.Header)
			drainAndClose(resp)
			c.logger.Debug().Int("status", resp.StatusCode).Str("method", method).Str("path", path).Int("attempt", attempt+1).Msg("retryable status, retrying")
			if err := c.retry.Wait(ctx, attempt, hint); err != nil {
				return err
			}
			continue
		}

		return c.handleResponse(resp, result)
	}
}

func (c *Client) send(ctx context.Context, method, url string, payload []byte) (*http.Response, error) {
	var bodyReader io.Reader
	if payload != nil {
		bodyReader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	return c.httpClient.Do(req)
}

func (c *Client) handleResponse(resp *http.Response, result any) error {
	defer drainAndClose(resp)

	if resp.StatusCode >= 400 {
		return parseErrorResponse(resp)
	}

	if result == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("%w: empty body", apierrors.ErrInvalidResponse)
		}
		return fmt.Errorf("%w: %v", apierrors.ErrInvalidResponse, err)
	}
	return nil
}

func parseErrorResponse(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	requestID := resp.Header.Get("X-Request-Id")

	var errResp errorResponse
	if err := json.Unmarshal(body, &errResp); err == nil {
		msg := errResp.Error
		if msg == "" {
			msg = errResp.Message
		}
		if errResp.RequestID != "" {
			requestID = errResp.RequestID
		}
		if msg != "" {
			return &apierrors.APIError{StatusCode: resp.StatusCode, Message: msg, RequestID: requestID}
		}
	}

	return &apierrors.APIError{
		StatusCode: resp.StatusCode,
		Message:    strings.TrimSpace(string(body)),
		RequestID:  requestID,
	}
}

func drainAndClose(resp *http.Response) {
	io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBody))
	resp.Body.Close()
}

// Package client provides the CRM backend HTTP client with bearer
// authentication, exponential backoff retries and classified errors.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Prometheus metrics for CRM API client operations.
var (
	crmRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "crm_api_requests_total",
		Help: "Total CRM API request attempts by endpoint and status",
	}, []string{"endpoint", "status"})

	crmRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "crm_api_request_duration_seconds",
		Help:    "CRM API logical request duration in seconds, retries included",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
	}, []string{"endpoint"})

	crmErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "crm_api_errors_total",
		Help: "Total CRM API attempt errors by class",
	}, []string{"class"})
)

// Client performs requests against the CRM backend.
type Client struct {
	httpClient *http.Client
	baseURL    string
	tokens     TokenProvider
	config     Config
	logger     zerolog.Logger
	sleep      sleepFunc
}

// Config holds the client configuration.
type Config struct {
	// BaseURL of the backend, e.g. "http://localhost:3001". Trailing slashes are ignored.
	BaseURL string

	// Tokens supplies the bearer token for every attempt.
	Tokens TokenProvider

	// UserAgent header sent with every request (optional).
	UserAgent string

	// Timeout is the deadline of a single attempt.
	Timeout time.Duration

	// Retry is the default retry policy, overridable per request.
	Retry RetryConfig
}

// DefaultConfig returns the default configuration for baseURL.
func DefaultConfig(baseURL string, tokens TokenProvider) Config {
	return Config{
		BaseURL:   baseURL,
		Tokens:    tokens,
		UserAgent: "diar-crm-client/0.1.0",
		Timeout:   30 * time.Second,
		Retry:     DefaultRetryConfig(),
	}
}

// New creates a new CRM API client.
func New(cfg Config) (*Client, error) {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		return nil, fmt.Errorf("base url is required")
	}
	if _, err := url.ParseRequestURI(baseURL); err != nil {
		return nil, fmt.Errorf("invalid base url %q: %w", cfg.BaseURL, err)
	}

	if cfg.Tokens == nil {
		return nil, fmt.Errorf("token provider is required")
	}

	if cfg.Retry.MaxRetries < 0 || cfg.Retry.MaxRetries > MaxRetriesLimit {
		return nil, fmt.Errorf("max_retries must be between 0 and %d (got %d)", MaxRetriesLimit, cfg.Retry.MaxRetries)
	}

	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	logger := log.With().Str("component", "crm-client").Logger()

	return &Client{
		httpClient: &http.Client{},
		baseURL:    baseURL,
		tokens:     cfg.Tokens,
		config:     cfg,
		logger:     logger,
		sleep:      sleepContext,
	}, nil
}

// Options describes one logical request.
type Options struct {
	// Method defaults to GET.
	Method string

	// Body is encoded as JSON. []byte and json.RawMessage are sent as-is.
	Body any

	// Header values override the defaults, including Authorization.
	Header http.Header

	// Retry overrides the client's retry policy for this request.
	Retry *RetryConfig

	// SkipAuth sends the request without asking the token provider.
	SkipAuth bool
}

// Response is a successful (2xx) backend response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Do performs one logical request, retrying transient failures. Every
// failure is returned as an *APIError.
func (c *Client) Do(ctx context.Context, path string, opts Options) (*Response, error) {
	method := opts.Method
	if method == "" {
		method = http.MethodGet
	}
	endpoint := normalizePath(path)
	target := c.baseURL + endpoint

	retryCfg := c.config.Retry
	if opts.Retry != nil {
		retryCfg = *opts.Retry
	}

	body, err := encodeBody(opts.Body)
	if err != nil {
		return nil, &APIError{
			ErrorClass: ErrorClassClient,
			Message:    "encode request body",
			Err:        err,
		}
	}

	startTime := time.Now()
	defer func() {
		crmRequestDuration.WithLabelValues(endpoint).Observe(time.Since(startTime).Seconds())
	}()

	logger := c.logger.With().
		Str("endpoint", endpoint).
		Str("method", method).
		Logger()

	logger.Debug().Msg("Executing API request")

	var resp *Response
	err = retryWithBackoff(ctx, retryCfg, c.sleep, logger, func(attempt int) error {
		r, err := c.attempt(ctx, logger, method, target, endpoint, body, opts)
		if err != nil {
			return err
		}
		resp = r
		return nil
	}, func(err error) bool {
		var apiErr *APIError
		if !errors.As(err, &apiErr) {
			return false
		}
		switch apiErr.ErrorClass {
		case ErrorClassNetwork:
			return true
		case ErrorClassAuth, ErrorClassCanceled:
			return false
		}
		return apiErr.StatusCode != 0 && retryCfg.IsRetryableStatus(apiErr.StatusCode)
	})
	if err != nil {
		logger.Error().
			Err(err).
			Str("error_class", string(ClassOf(err))).
			Msg("API request failed")
		return nil, err
	}

	return resp, nil
}

// attempt executes a single HTTP exchange with its own deadline and a
// freshly fetched bearer token.
func (c *Client) attempt(
	ctx context.Context,
	logger zerolog.Logger,
	method, target, endpoint string,
	body []byte,
	opts Options,
) (*Response, error) {
	header := make(http.Header)
	header.Set("Content-Type", "application/json")
	header.Set("Accept", "application/json")
	if c.config.UserAgent != "" {
		header.Set("User-Agent", c.config.UserAgent)
	}

	if !opts.SkipAuth {
		token, err := c.tokens.Token(ctx)
		if err != nil {
			crmErrorsTotal.WithLabelValues(string(ErrorClassAuth)).Inc()
			logger.Warn().Err(err).Msg("Access token unavailable")
			return nil, &APIError{
				StatusCode: http.StatusUnauthorized,
				ErrorClass: ErrorClassAuth,
				Message:    "access token not found, please sign in",
				Err:        err,
			}
		}
		header.Set("Authorization", "Bearer "+token)
	}

	for key, values := range opts.Header {
		header.Del(key)
		for _, value := range values {
			header.Add(key, value)
		}
	}

	attemptCtx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(attemptCtx, method, target, reader)
	if err != nil {
		return nil, &APIError{
			ErrorClass: ErrorClassClient,
			Message:    "create request",
			Err:        err,
		}
	}
	req.Header = header

	httpResp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, c.transportError(ctx, logger, endpoint, err)
	}
	defer httpResp.Body.Close()

	data, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, c.transportError(ctx, logger, endpoint, err)
	}

	crmRequestsTotal.WithLabelValues(endpoint, strconv.Itoa(httpResp.StatusCode)).Inc()

	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		apiErr := newStatusError(httpResp.StatusCode, data)
		crmErrorsTotal.WithLabelValues(string(apiErr.ErrorClass)).Inc()

		logger.Warn().
			Int("status", httpResp.StatusCode).
			Str("error_class", string(apiErr.ErrorClass)).
			Str("message", apiErr.Message).
			RawJSON("details", detailsOrNull(apiErr.Details)).
			Msg("API request error")

		return nil, apiErr
	}

	return &Response{
		StatusCode: httpResp.StatusCode,
		Header:     httpResp.Header,
		Body:       data,
	}, nil
}

// transportError classifies a failure that happened before a full response
// was read. A cancelled caller is not a network problem.
func (c *Client) transportError(ctx context.Context, logger zerolog.Logger, endpoint string, err error) *APIError {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return &APIError{
			ErrorClass: ErrorClassCanceled,
			Message:    "request cancelled",
			Err:        fmt.Errorf("%w: %v", ErrContextCancelled, ctxErr),
		}
	}

	crmErrorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
	crmRequestsTotal.WithLabelValues(endpoint, "network_error").Inc()
	logger.Warn().Err(err).Msg("HTTP request failed")

	return &APIError{
		ErrorClass: ErrorClassNetwork,
		Message:    fmt.Sprintf("unable to connect to the server at %s", c.baseURL),
		Err:        err,
	}
}

// Request performs a request and decodes the response body into T.
//
// Decoding is lenient: an empty or undecodable body yields the zero value of
// T rather than an error. A non-JSON body is returned verbatim when T is a
// string.
func Request[T any](ctx context.Context, c *Client, path string, opts Options) (T, error) {
	resp, err := c.Do(ctx, path, opts)
	if err != nil {
		var zero T
		return zero, err
	}
	return decodeResponse[T](c.logger, resp), nil
}

// CheckHealth probes the backend /health endpoint. It never fails: any error
// collapses to false.
func (c *Client) CheckHealth(ctx context.Context) bool {
	retry := HealthRetryConfig()
	_, err := c.Do(ctx, "/health", Options{
		Method:   http.MethodGet,
		Retry:    &retry,
		SkipAuth: true,
	})
	if err != nil {
		c.logger.Debug().Err(err).Msg("Health check failed")
		return false
	}
	return true
}

// BaseURL returns the normalized backend base URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Close releases idle connections.
func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

// SetHTTPClient replaces the underlying HTTP client, for example to install
// a custom transport.
func (c *Client) SetHTTPClient(client *http.Client) {
	c.httpClient = client
}

func normalizePath(path string) string {
	if strings.HasPrefix(path, "/") {
		return path
	}
	return "/" + path
}

func encodeBody(body any) ([]byte, error) {
	switch b := body.(type) {
	case nil:
		return nil, nil
	case []byte:
		return b, nil
	case json.RawMessage:
		return b, nil
	default:
		return json.Marshal(b)
	}
}

func decodeResponse[T any](logger zerolog.Logger, resp *Response) T {
	var out T
	data := bytes.TrimSpace(resp.Body)
	if len(data) == 0 {
		return out
	}

	contentType := resp.Header.Get("Content-Type")
	if !strings.Contains(contentType, "json") {
		if text, ok := any(&out).(*string); ok {
			*text = string(resp.Body)
			return out
		}
	}

	if err := json.Unmarshal(data, &out); err != nil {
		logger.Debug().
			Err(err).
			Str("content_type", contentType).
			Msg("Response body not decodable, returning empty value")
		var zero T
		return zero
	}
	return out
}

func detailsOrNull(details json.RawMessage) []byte {
	if len(details) == 0 {
		return []byte("null")
	}
	return details
}

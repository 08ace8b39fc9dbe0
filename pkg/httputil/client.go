package httputil

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/wonny/kairos/pkg/logger"
)

// Acquirer gates outbound requests. pkg/ratelimit.Limiter satisfies it.
type Acquirer interface {
	Acquire(ctx context.Context) error
}

// Client is an HTTP client wrapper with retry logic and logging
// ⭐ SSOT: 모든 HTTP 요청은 이 클라이언트를 통해서만 수행
type Client struct {
	httpClient  *http.Client
	logger      *logger.Logger
	retryConfig RetryConfig
	limiter     Acquirer
}

// RetryConfig holds retry configuration
type RetryConfig struct {
	MaxRetries   int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Enabled      bool
}

// New creates a new HTTP client
// ⭐ SSOT: http.Client 인스턴스는 여기서만 생성
func New(log *logger.Logger) *Client {
	return &Client{
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger: log,
		retryConfig: RetryConfig{
			MaxRetries:   3,
			InitialDelay: 1 * time.Second,
			MaxDelay:     10 * time.Second,
			Enabled:      true,
		},
	}
}

// NewWithTimeout creates a client with custom timeout
func NewWithTimeout(log *logger.Logger, timeout time.Duration) *Client {
	client := New(log)
	client.httpClient.Timeout = timeout
	return client
}

// WithRetry configures retry behavior
func (c *Client) WithRetry(maxRetries int, initialDelay time.Duration) *Client {
	c.retryConfig.MaxRetries = maxRetries
	c.retryConfig.InitialDelay = initialDelay
	c.retryConfig.Enabled = true
	return c
}

// DisableRetry disables automatic retry
func (c *Client) DisableRetry() *Client {
	c.retryConfig.Enabled = false
	return c
}

// WithLimiter sets a request limiter for this client
func (c *Client) WithLimiter(limiter Acquirer) *Client {
	c.limiter = limiter
	return c
}

// Get performs a GET request
func (c *Client) Get(ctx context.Context, targetURL string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, targetURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create GET request: %w", err)
	}
	return c.Do(req)
}

// Post performs a POST request with body
func (c *Client) Post(ctx context.Context, targetURL string, contentType string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, targetURL, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create POST request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	return c.Do(req)
}

// PostJSON performs a POST request with JSON body
func (c *Client) PostJSON(ctx context.Context, targetURL string, data interface{}) (*http.Response, error) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal JSON: %w", err)
	}
	return c.Post(ctx, targetURL, "application/json", bytes.NewReader(jsonData))
}

// PostForm performs a POST request with form data
func (c *Client) PostForm(ctx context.Context, targetURL string, formData url.Values) (*http.Response, error) {
	return c.Post(ctx, targetURL, "application/x-www-form-urlencoded", strings.NewReader(formData.Encode()))
}

// Do executes the request with limiter, retry logic and logging
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	if c.limiter != nil {
		if err := c.limiter.Acquire(req.Context()); err != nil {
			return nil, fmt.Errorf("rate limit wait failed: %w", err)
		}
	}

	startTime := time.Now()
	targetURL := req.URL.String()
	method := req.Method

	c.logger.WithFields(map[string]interface{}{
		"method": method,
		"url":    targetURL,
	}).Debug("HTTP request started")

	var resp *http.Response
	var err error
	delay := c.retryConfig.InitialDelay

	attempts := 1
	if c.retryConfig.Enabled {
		attempts = c.retryConfig.MaxRetries + 1
	}

	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-req.Context().Done():
				return nil, req.Context().Err()
			case <-time.After(delay):
			}
			delay *= 2
			if delay > c.retryConfig.MaxDelay {
				delay = c.retryConfig.MaxDelay
			}
		}

		resp, err = c.httpClient.Do(req)
		if err != nil {
			c.logger.WithError(err).WithFields(map[string]interface{}{
				"method":  method,
				"url":     targetURL,
				"attempt": attempt + 1,
			}).Warn("HTTP request failed")
			continue
		}

		// Retry on server errors and rate-limit responses only
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
			c.logger.WithFields(map[string]interface{}{
				"method":  method,
				"url":     targetURL,
				"status":  resp.StatusCode,
				"attempt": attempt + 1,
			}).Warn("HTTP request returned retryable status")
			err = fmt.Errorf("status %d", resp.StatusCode)
			continue
		}

		c.logger.WithFields(map[string]interface{}{
			"method":   method,
			"url":      targetURL,
			"status":   resp.StatusCode,
			"duration": time.Since(startTime),
		}).Debug("HTTP request completed")

		return resp, nil
	}

	return nil, fmt.Errorf("%s %s failed after %d attempts: %w", method, targetURL, attempts, err)
}

// ReadJSON decodes a JSON response body into dest and closes the body.
func ReadJSON(resp *http.Response, dest interface{}) error {
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(body))
	}

	if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

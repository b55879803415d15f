package httpdriver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"time"
)

// Retry/backoff constants, matching the teacher's internal/graph/client.go
// exactly: base 1s, factor 2x, max 60s, +/-25% jitter. maxRetries counts
// retries after the first try, so doRetry makes at most 6 attempts.
const (
	maxRetries     = 5
	baseBackoff    = 1 * time.Second
	maxBackoff     = 60 * time.Second
	backoffFactor  = 2.0
	jitterFraction = 0.25
)

// TokenSource supplies a bearer token for authenticated requests.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// Client is a retrying HTTP client for a generic cloud-drive REST API.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
	Token      TokenSource
	Logger     *slog.Logger

	// sleepFunc is the injectable pacing delay, mirroring the teacher's
	// graph.Client.sleepFunc test-injection point.
	sleepFunc func(ctx context.Context, d time.Duration) error
}

// NewClient constructs a Client with production defaults.
func NewClient(baseURL string, token TokenSource, logger *slog.Logger) *Client {
	return &Client{
		BaseURL:    baseURL,
		HTTPClient: &http.Client{Timeout: 60 * time.Second},
		Token:      token,
		Logger:     logger,
		sleepFunc:  timeSleep,
	}
}

// Do performs a JSON request against path, retrying on transient failures,
// and decodes the response body into out (if non-nil).
func (c *Client) Do(ctx context.Context, method, path string, body, out any) error {
	var bodyBytes []byte

	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("httpdriver: marshaling request body: %w", err)
		}

		bodyBytes = b
	}

	respBody, err := c.doRetry(ctx, method, path, bodyBytes)
	if err != nil {
		return err
	}

	if out == nil || len(respBody) == 0 {
		return nil
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("httpdriver: decoding response body: %w", err)
	}

	return nil
}

// doRetry performs the HTTP call, retrying on network errors or retryable
// status codes up to maxRetries times, mirroring the teacher's
// graph.Client.doRetry.
func (c *Client) doRetry(ctx context.Context, method, path string, body []byte) ([]byte, error) {
	var lastErr error

	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			if err := c.retryBackoff(ctx, attempt, nil); err != nil {
				return nil, err
			}
		}

		respBody, status, headers, err := c.doOnce(ctx, method, path, body)
		if err == nil && status < 300 {
			return respBody, nil
		}

		if err != nil {
			lastErr = err

			continue
		}

		if !isRetryable(status) || attempt == maxRetries {
			return nil, terminalError(status, headers.Get("X-Request-Id"), string(respBody))
		}

		lastErr = c.retryBackoff(ctx, attempt, headers)
		if lastErr != nil {
			return nil, lastErr
		}
	}

	return nil, fmt.Errorf("httpdriver: exhausted retries: %w", lastErr)
}

func (c *Client) doOnce(ctx context.Context, method, path string, body []byte) ([]byte, int, http.Header, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reader)
	if err != nil {
		return nil, 0, nil, err
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	token, err := c.Token.Token(ctx)
	if err != nil {
		return nil, 0, nil, fmt.Errorf("httpdriver: obtaining token: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, 0, nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, resp.Header, err
	}

	return respBody, resp.StatusCode, resp.Header, nil
}

// retryBackoff sleeps before the next attempt, honoring a Retry-After
// header on 429s before falling back to calcBackoff, mirroring the
// teacher's graph.Client.retryBackoff.
func (c *Client) retryBackoff(ctx context.Context, attempt int, headers http.Header) error {
	if headers != nil {
		if ra := headers.Get("Retry-After"); ra != "" {
			if secs, err := parseRetryAfterSeconds(ra); err == nil {
				return c.sleepFunc(ctx, time.Duration(secs)*time.Second)
			}
		}
	}

	return c.sleepFunc(ctx, calcBackoff(attempt))
}

// calcBackoff computes exponential backoff with jitter, mirroring the
// teacher's graph.calcBackoff exactly.
func calcBackoff(attempt int) time.Duration {
	d := float64(baseBackoff) * pow(backoffFactor, attempt)
	if d > float64(maxBackoff) {
		d = float64(maxBackoff)
	}

	jitter := d * jitterFraction * (rand.Float64()*2 - 1)
	d += jitter

	if d < 0 {
		d = 0
	}

	return time.Duration(d)
}

func pow(base float64, exp int) float64 {
	result := 1.0
	for range exp {
		result *= base
	}

	return result
}

func parseRetryAfterSeconds(s string) (int, error) {
	var n int
	_, err := fmt.Sscanf(s, "%d", &n)

	return n, err
}

// timeSleep is the default sleepFunc: waits d or returns ctx.Err() if
// cancelled first, mirroring the teacher's graph.Client.timeSleep.
func timeSleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Package external holds the client for the MET Norway forecast API.
// Outbound calls go through BaseClient, which adds a circuit breaker, bounded
// retries and error mapping.
package external

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"weatherbingo/internal/types"

	"github.com/sony/gobreaker/v2"
)

// breakerTripAfter is the number of consecutive failed attempts that opens
// the breaker.
const breakerTripAfter = 5

// RetryPolicy bounds retries of 429 and 5xx responses. Waits double from
// MinWait and never exceed MaxWait.
type RetryPolicy struct {
	MaxRetries int
	MinWait    time.Duration
	MaxWait    time.Duration
}

// BaseClient sends GET requests through a circuit breaker.
type BaseClient struct {
	client    *http.Client
	breaker   *gobreaker.CircuitBreaker[*http.Response]
	retry     RetryPolicy
	userAgent string
	logger    *slog.Logger
	wait      func(context.Context, time.Duration) error
}

// BaseClientOption configures a BaseClient.
type BaseClientOption func(*BaseClient)

// WithWaitFunc replaces the sleep between retries.
func WithWaitFunc(fn func(context.Context, time.Duration) error) BaseClientOption {
	return func(c *BaseClient) { c.wait = fn }
}

// WithLogger sets the logger used for retry warnings.
func WithLogger(logger *slog.Logger) BaseClientOption {
	return func(c *BaseClient) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewBaseClient creates a BaseClient whose breaker is labelled name.
func NewBaseClient(httpClient *http.Client, name string, retry RetryPolicy, userAgent string, opts ...BaseClientOption) *BaseClient {
	c := &BaseClient{
		client: httpClient,
		breaker: gobreaker.NewCircuitBreaker[*http.Response](gobreaker.Settings{
			Name:        name,
			MaxRequests: 1,
			Interval:    time.Minute,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures > breakerTripAfter
			},
		}),
		retry:     retry,
		userAgent: userAgent,
		logger:    slog.Default(),
		wait:      sleepContext,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func retryable(status int) bool {
	return status == http.StatusTooManyRequests || status >= http.StatusInternalServerError
}

// Do sends req, which must have no body. 429 and 5xx are retried; any other
// status, 304 included, is returned and the caller closes the body. Every
// failure is a *types.AppError.
func (c *BaseClient) Do(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	req.Header.Set("Accept", "application/json")

	var (
		last    *http.Response
		lastErr error
	)
	for attempt := 0; attempt <= c.retry.MaxRetries; attempt++ {
		if last != nil {
			last.Body.Close()
			last = nil
		}

		resp, err := c.breaker.Execute(func() (*http.Response, error) {
			r, err := c.client.Do(req)
			if err != nil {
				return nil, err
			}
			if retryable(r.StatusCode) {
				return r, fmt.Errorf("upstream returned %d", r.StatusCode)
			}
			return r, nil
		})
		if err == nil {
			return resp, nil
		}
		last, lastErr = resp, err

		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) ||
			attempt == c.retry.MaxRetries {
			break
		}

		wait := c.backoff(attempt, resp)
		c.logger.WarnContext(ctx, "retrying upstream request",
			"url", req.URL.Redacted(),
			"attempt", attempt+1,
			"wait", wait.String(),
			"error", err,
		)
		if err := c.wait(ctx, wait); err != nil {
			lastErr = err
			break
		}
	}

	if last != nil {
		last.Body.Close()
	}
	return nil, c.mapError(last, lastErr)
}

// backoff honours a Retry-After given in seconds, capped at MaxWait.
func (c *BaseClient) backoff(attempt int, resp *http.Response) time.Duration {
	if resp != nil {
		if secs, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil && secs > 0 {
			return min(time.Duration(secs)*time.Second, c.retry.MaxWait)
		}
	}
	return min(c.retry.MinWait<<attempt, c.retry.MaxWait)
}

func (c *BaseClient) mapError(resp *http.Response, err error) *types.AppError {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return types.NewAppError(types.ErrCodeUpstreamRateLimited, "circuit breaker is open; upstream service unavailable", err)
	}
	if resp != nil {
		if resp.StatusCode == http.StatusTooManyRequests {
			return types.NewAppError(types.ErrCodeUpstreamRateLimited, "upstream rate limit exceeded", err)
		}
		return types.NewAppError(types.ErrCodeUpstreamUnavailable,
			fmt.Sprintf("upstream returned %d after retries", resp.StatusCode), err)
	}
	// DNS, refused connection, timeout or cancelled context.
	return types.NewAppError(types.ErrCodeUpstreamUnavailable, "upstream request failed", err)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

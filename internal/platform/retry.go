package platform

import (
	"context"
	"math"
	"math/rand"
	"net/http"
	"strconv"
	"time"

	"catalog-sync-service/internal/syncerr"
)

// RetryConfig defines retry behavior for platform API calls
type RetryConfig struct {
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	BackoffFactor  float64
	Jitter         float64 // random jitter factor (0-1)
}

// DefaultRetryConfig returns production-ready retry configuration
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxRetries:     3,
		InitialBackoff: 1 * time.Second,
		MaxBackoff:     30 * time.Second,
		BackoffFactor:  2.0,
		Jitter:         0.1,
	}
}

// Retrier retries platform HTTP calls on transient failures with exponential
// backoff, honoring Retry-After.
type Retrier struct {
	config *RetryConfig
}

// NewRetrier creates a new retrier with the given config
func NewRetrier(config *RetryConfig) *Retrier {
	if config == nil {
		config = DefaultRetryConfig()
	}
	return &Retrier{config: config}
}

func (r *Retrier) shouldRetry(statusCode int, err error) bool {
	// Network errors retry
	if err != nil && statusCode == 0 {
		return true
	}
	switch statusCode {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}

func (r *Retrier) backoff(attempt int, retryAfter time.Duration) time.Duration {
	if retryAfter > 0 {
		return retryAfter
	}
	backoff := float64(r.config.InitialBackoff) * math.Pow(r.config.BackoffFactor, float64(attempt))
	if r.config.Jitter > 0 {
		backoff += backoff * r.config.Jitter * (rand.Float64()*2 - 1)
	}
	if backoff > float64(r.config.MaxBackoff) {
		backoff = float64(r.config.MaxBackoff)
	}
	return time.Duration(backoff)
}

// ParseRetryAfter extracts the Retry-After duration from an HTTP response
func ParseRetryAfter(resp *http.Response) time.Duration {
	if resp == nil {
		return 0
	}
	retryAfter := resp.Header.Get("Retry-After")
	if retryAfter == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(retryAfter); err == nil {
		return time.Duration(seconds) * time.Second
	}
	if t, err := http.ParseTime(retryAfter); err == nil {
		return time.Until(t)
	}
	return 0
}

// RetryableResponseFunc performs one HTTP attempt.
type RetryableResponseFunc func(ctx context.Context) (*http.Response, error)

// DoHTTP executes an HTTP operation with retry logic. The caller owns the
// returned response body.
func (r *Retrier) DoHTTP(ctx context.Context, operation string, fn RetryableResponseFunc) (*http.Response, error) {
	var lastResp *http.Response
	var lastErr error

	for attempt := 0; attempt <= r.config.MaxRetries; attempt++ {
		resp, err := fn(ctx)
		lastResp, lastErr = resp, err

		var retryAfter time.Duration
		if err != nil {
			if !r.shouldRetry(0, err) || attempt >= r.config.MaxRetries {
				return resp, syncerr.Wrap(syncerr.KindPlatformTransient, err, "%s failed", operation)
			}
		} else {
			if resp.StatusCode >= 200 && resp.StatusCode < 300 {
				return resp, nil
			}
			retryAfter = ParseRetryAfter(resp)
			if !r.shouldRetry(resp.StatusCode, nil) || attempt >= r.config.MaxRetries {
				return resp, nil
			}
			resp.Body.Close()
		}

		select {
		case <-ctx.Done():
			return lastResp, ctx.Err()
		case <-time.After(r.backoff(attempt, retryAfter)):
		}
	}

	if lastErr != nil {
		return lastResp, syncerr.Wrap(syncerr.KindPlatformTransient, lastErr, "%s exhausted retries", operation)
	}
	return lastResp, nil
}

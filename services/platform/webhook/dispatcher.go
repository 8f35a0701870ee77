// Package webhook delivers breach notifications to an HTTP endpoint. The
// endpoint is outside our control, so delivery goes through a rate limiter,
// a circuit breaker and bounded retries.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/avast/retry-go/v5"
	"github.com/sony/gobreaker"
	"github.com/upb/risk-enforcer/services/platform"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// ThrottleError signals that the endpoint asked us to back off
type ThrottleError struct {
	RetryAfter time.Duration
	Cause      error
}

func (e *ThrottleError) Error() string {
	return fmt.Sprintf("throttled: retry after %v (cause: %v)", e.RetryAfter, e.Cause)
}

func (e *ThrottleError) Unwrap() error {
	return e.Cause
}

// Config holds webhook dispatcher settings
type Config struct {
	// URL of the receiving endpoint
	URL string

	// Secret sent as a bearer token, empty disables the header
	Secret string

	// Timeout per delivery attempt
	Timeout time.Duration

	// MaxAttempts per dispatch
	MaxAttempts uint

	// RateLimit in requests per second, with RateBurst headroom
	RateLimit float64
	RateBurst int
}

// Dispatcher posts breach notifications as JSON
type Dispatcher struct {
	config     Config
	httpClient *http.Client
	cb         *gobreaker.CircuitBreaker
	limiter    *rate.Limiter
	logger     *zap.Logger
}

// NewDispatcher creates a new webhook dispatcher
func NewDispatcher(config Config, logger *zap.Logger) *Dispatcher {
	if config.Timeout == 0 {
		config.Timeout = 10 * time.Second
	}
	if config.MaxAttempts == 0 {
		config.MaxAttempts = 3
	}
	if config.RateLimit == 0 {
		config.RateLimit = 5
	}
	if config.RateBurst == 0 {
		config.RateBurst = 10
	}

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "webhook-dispatcher",
		MaxRequests: 3,
		Interval:    5 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("webhook circuit breaker state changed",
				zap.String("name", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})

	return &Dispatcher{
		config:     config,
		httpClient: &http.Client{Timeout: config.Timeout},
		cb:         cb,
		limiter:    rate.NewLimiter(rate.Limit(config.RateLimit), config.RateBurst),
		logger:     logger,
	}
}

// Name implements platform.NotificationDispatcher
func (d *Dispatcher) Name() string {
	return "webhook"
}

// Dispatch implements platform.NotificationDispatcher
func (d *Dispatcher) Dispatch(ctx context.Context, notification platform.BreachNotification) error {
	if err := d.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit exceeded: %w", err)
	}

	_, err := d.cb.Execute(func() (interface{}, error) {
		r := retry.New(
			retry.Context(ctx),
			retry.Attempts(d.config.MaxAttempts),
			retry.DelayType(func(n uint, err error, config retry.DelayContext) time.Duration {
				// Honor the endpoint's Retry-After when it throttled us
				var tErr *ThrottleError
				if errors.As(err, &tErr) {
					return tErr.RetryAfter
				}

				return retry.BackOffDelay(n, err, config)
			}),
		)

		return nil, r.Do(func() error {
			tCtx, cancel := context.WithTimeout(ctx, d.config.Timeout)
			defer cancel()

			return d.post(tCtx, notification)
		})
	})

	if err != nil {
		return fmt.Errorf("webhook dispatch failed: %w", err)
	}

	d.logger.Debug("webhook notification delivered",
		zap.String("breach_id", notification.BreachID.String()))
	return nil
}

// post performs a single delivery attempt
func (d *Dispatcher) post(ctx context.Context, notification platform.BreachNotification) error {
	body, err := json.Marshal(notification)
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.config.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	if d.config.Secret != "" {
		req.Header.Set("Authorization", "Bearer "+d.config.Secret)
	}

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("webhook request failed: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusTooManyRequests:
		return &ThrottleError{
			RetryAfter: retryAfter(resp),
			Cause:      fmt.Errorf("webhook endpoint returned status %d", resp.StatusCode),
		}
	default:
		return fmt.Errorf("webhook endpoint returned status %d", resp.StatusCode)
	}
}

// retryAfter reads the Retry-After header in seconds, defaulting to one
// second when absent or malformed
func retryAfter(resp *http.Response) time.Duration {
	if v := resp.Header.Get("Retry-After"); v != "" {
		if seconds, err := strconv.Atoi(v); err == nil && seconds >= 0 {
			return time.Duration(seconds) * time.Second
		}
	}
	return time.Second
}

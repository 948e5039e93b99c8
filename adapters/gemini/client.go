// Package gemini calls Google's Gemini generateContent API to produce
// sector analyses.
package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"

	"github.com/artpar/tradegate/domain/analysis"
	"github.com/artpar/tradegate/domain/upstream"
	"github.com/artpar/tradegate/ports"
)

// Config configures the Gemini client.
type Config struct {
	// APIKey authenticates against the API. Required.
	APIKey string

	// BaseURL is the API origin. Defaults to the public endpoint.
	BaseURL string

	// Model selects the generation model.
	Model string

	// Temperature for generation. Defaults to 0.3.
	Temperature float64

	// Retry governs attempts, backoff, and the per-attempt timeout.
	Retry upstream.RetryPolicy

	// BreakerThreshold is the number of consecutive failed calls that opens
	// the circuit breaker. Zero disables the breaker.
	BreakerThreshold uint32

	// BreakerCooldown is how long the breaker stays open before probing.
	// Defaults to 30s.
	BreakerCooldown time.Duration

	// BreakerProbes is how many calls the half-open breaker lets through.
	// Defaults to 1.
	BreakerProbes uint32
}

// Client is the ports.Analyst implementation backed by Gemini. Every call
// runs with a per-attempt timeout and exponential backoff between attempts;
// an optional circuit breaker sits in front of the whole call.
type Client struct {
	client      *http.Client
	endpoint    string
	baseURL     string
	temperature float64
	policy      upstream.RetryPolicy
	sleeper     ports.Sleeper
	breaker     *gobreaker.TwoStepCircuitBreaker[struct{}]
	logger      zerolog.Logger
}

// New creates a Gemini client.
func New(cfg Config, sleeper ports.Sleeper, logger zerolog.Logger) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini: api key required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	base := strings.TrimSuffix(cfg.BaseURL, "/")
	if _, err := url.Parse(base); err != nil {
		return nil, fmt.Errorf("parse base URL: %w", err)
	}
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	if cfg.Temperature <= 0 {
		cfg.Temperature = defaultTemperature
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry = upstream.DefaultRetryPolicy()
	}

	transport := &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
	}

	c := &Client{
		// Deadlines come from per-attempt contexts, so the http.Client
		// itself carries no timeout.
		client:      &http.Client{Transport: transport},
		endpoint:    fmt.Sprintf("%s/%s/models/%s:generateContent?key=%s", base, apiVersion, cfg.Model, url.QueryEscape(cfg.APIKey)),
		baseURL:     base,
		temperature: cfg.Temperature,
		policy:      cfg.Retry,
		sleeper:     sleeper,
		logger:      logger,
	}

	if cfg.BreakerThreshold > 0 {
		cooldown := cfg.BreakerCooldown
		if cooldown <= 0 {
			cooldown = 30 * time.Second
		}
		probes := cfg.BreakerProbes
		if probes == 0 {
			probes = 1
		}
		c.breaker = gobreaker.NewTwoStepCircuitBreaker[struct{}](gobreaker.Settings{
			Name:        "gemini",
			MaxRequests: probes,
			Timeout:     cooldown,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= cfg.BreakerThreshold
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				event := logger.Info()
				if to == gobreaker.StateOpen {
					event = logger.Warn()
				}
				event.
					Str("breaker", name).
					Str("from", from.String()).
					Str("to", to.String()).
					Msg("circuit breaker state change")
			},
			// Rejections mean the provider answered; only transport
			// failures and retry exhaustion count against it. Caller
			// cancellation is not the provider's fault either.
			IsSuccessful: func(err error) bool {
				return err == nil ||
					errors.Is(err, upstream.ErrRejected) ||
					errors.Is(err, context.Canceled)
			},
		})
	}

	return c, nil
}

var _ ports.Analyst = (*Client)(nil)

// Analyze requests a report for the sector. Transient failures (transport
// errors, attempt timeouts, 5xx, 429) are retried with exponential backoff;
// the slowest possible call runs for upstream.WorstCaseLatency of the
// configured policy before reporting the provider unavailable. Backoff
// happens on the calling goroutine. The returned outcome carries the attempt
// count and latency even when the call fails.
func (c *Client) Analyze(ctx context.Context, sector string) (ports.AnalysisOutcome, error) {
	start := time.Now()
	var outcome ports.AnalysisOutcome

	var done func(error)
	if c.breaker != nil {
		var err error
		done, err = c.breaker.Allow()
		if err != nil {
			outcome.LatencyMs = time.Since(start).Milliseconds()
			return outcome, fmt.Errorf("%w: circuit breaker open", upstream.ErrUnavailable)
		}
	}

	result, attempts, err := c.analyze(ctx, sector)
	if done != nil {
		done(err)
	}

	outcome.Result = result
	outcome.Attempts = attempts
	outcome.LatencyMs = time.Since(start).Milliseconds()
	return outcome, err
}

func (c *Client) analyze(ctx context.Context, sector string) (analysis.Result, int, error) {
	payload, err := json.Marshal(buildRequest(sector, c.temperature))
	if err != nil {
		return analysis.Result{}, 0, fmt.Errorf("encode request: %w", err)
	}

	var lastErr error
	for attempt := 1; attempt <= c.policy.MaxAttempts; attempt++ {
		body, status, err := c.doAttempt(ctx, payload)

		if err == nil && status >= 200 && status < 300 {
			return parseResponse(body, sector), attempt, nil
		}

		if err == nil && !upstream.ShouldRetry(status) {
			// Client errors are final; an identical request cannot do better.
			c.logger.Error().
				Int("status", status).
				Str("sector", sector).
				Str("body", snippet(body)).
				Msg("provider rejected request")
			return analysis.Result{}, attempt, fmt.Errorf("provider returned %d: %w", status, upstream.ErrRejected)
		}

		if err != nil {
			lastErr = err
			c.logger.Warn().
				Err(err).
				Int("attempt", attempt).
				Str("sector", sector).
				Msg("provider attempt failed")
		} else {
			lastErr = fmt.Errorf("provider returned %d", status)
			c.logger.Warn().
				Int("status", status).
				Int("attempt", attempt).
				Str("sector", sector).
				Msg("provider attempt failed")
		}

		if ctx.Err() != nil {
			return analysis.Result{}, attempt, fmt.Errorf("analysis aborted: %w", ctx.Err())
		}
		if attempt < c.policy.MaxAttempts {
			if err := c.sleeper.Sleep(ctx, upstream.Delay(c.policy, attempt)); err != nil {
				return analysis.Result{}, attempt, fmt.Errorf("analysis aborted: %w", err)
			}
		}
	}

	return analysis.Result{}, c.policy.MaxAttempts, fmt.Errorf("%w: %v", upstream.ErrUnavailable, lastErr)
}

// doAttempt executes one POST with the per-attempt timeout applied. The API
// key rides in the query string, so the URL stays out of logs and errors.
func (c *Client) doAttempt(ctx context.Context, payload []byte) ([]byte, int, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, c.policy.AttemptTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, 0, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 10*1024*1024))
	if err != nil {
		return nil, 0, fmt.Errorf("read response: %w", err)
	}

	return body, resp.StatusCode, nil
}

// HealthCheck verifies the provider endpoint is reachable.
func (c *Client) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, c.baseURL, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("provider unreachable: %w", err)
	}
	resp.Body.Close()

	// Any response means the host is reachable.
	return nil
}

// Close releases idle connections.
func (c *Client) Close() {
	c.client.CloseIdleConnections()
}

// snippet bounds a response body for log output.
func snippet(body []byte) string {
	const max = 200
	if len(body) > max {
		return string(body[:max])
	}
	return string(body)
}

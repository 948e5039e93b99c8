// Package app provides application services that orchestrate domain logic.
package app

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"github.com/artpar/tradegate/domain/analysis"
	"github.com/artpar/tradegate/domain/ratelimit"
	"github.com/artpar/tradegate/domain/token"
	"github.com/artpar/tradegate/domain/upstream"
	"github.com/artpar/tradegate/domain/usage"
	"github.com/artpar/tradegate/ports"
)

// GatewayService handles token issuance and analysis requests.
// Per-request state machine:
// Unauthenticated -> Authenticated -> (Admitted | RateLimited) -> (Fulfilled | UpstreamFailed).
type GatewayService struct {
	tokens    ports.TokenStore
	rateLimit ports.RateLimitStore
	analyst   ports.Analyst
	usage     ports.UsageRecorder
	clock     ports.Clock
	random    ports.Random
	idGen     ports.IDGenerator
	logger    zerolog.Logger

	tokenPrefix string
	tokenTTL    time.Duration
	rlConfig    ratelimit.Config
}

// GatewayDeps contains dependencies for GatewayService.
type GatewayDeps struct {
	Tokens    ports.TokenStore
	RateLimit ports.RateLimitStore
	Analyst   ports.Analyst
	Usage     ports.UsageRecorder
	Clock     ports.Clock
	Random    ports.Random
	IDGen     ports.IDGenerator
	Logger    zerolog.Logger
}

// GatewayConfig contains configuration for GatewayService.
type GatewayConfig struct {
	TokenPrefix string
	TokenTTL    time.Duration // Zero = tokens never expire
	RateLimit   ratelimit.Config
}

// NewGatewayService creates a new gateway service.
func NewGatewayService(deps GatewayDeps, cfg GatewayConfig) *GatewayService {
	if cfg.TokenPrefix == "" {
		cfg.TokenPrefix = "tk_"
	}
	if cfg.RateLimit.MaxRequests == 0 {
		cfg.RateLimit.MaxRequests = 5
	}
	if cfg.RateLimit.Window == 0 {
		cfg.RateLimit.Window = 60 * time.Second
	}

	return &GatewayService{
		tokens:      deps.Tokens,
		rateLimit:   deps.RateLimit,
		analyst:     deps.Analyst,
		usage:       deps.Usage,
		clock:       deps.Clock,
		random:      deps.Random,
		idGen:       deps.IDGen,
		logger:      deps.Logger,
		tokenPrefix: cfg.TokenPrefix,
		tokenTTL:    cfg.TokenTTL,
		rlConfig:    cfg.RateLimit,
	}
}

// RateLimitConfig returns the configured admission window parameters.
func (s *GatewayService) RateLimitConfig() ratelimit.Config {
	return s.rlConfig
}

// HandleResult represents the outcome of handling an analysis request.
// The boundary layer only serializes it; no decision-making happens there.
type HandleResult struct {
	Result    *analysis.Result
	Error     *analysis.ErrorResponse
	Identity  string            // Journal identity, safe to log and label
	Headers   map[string]string // Rate limit headers for the response
	Attempts  int               // Provider attempts consumed
	LatencyMs int64             // Provider call latency
}

// IssueToken mints a new access token, stores it, and returns the raw value.
// Issuance is not rate limited. The raw value is returned exactly once; only
// the bcrypt hash is stored.
func (s *GatewayService) IssueToken(ctx context.Context) (string, token.Token, error) {
	now := s.clock.Now()

	material, err := s.random.Bytes(32)
	if err != nil {
		return "", token.Token{}, fmt.Errorf("draw token material: %w", err)
	}

	raw, tok, err := token.FromMaterial(s.tokenPrefix, material, now, s.tokenTTL)
	if err != nil {
		return "", token.Token{}, fmt.Errorf("mint token: %w", err)
	}

	if err := s.tokens.Create(ctx, tok); err != nil {
		return "", token.Token{}, fmt.Errorf("store token: %w", err)
	}

	s.record(usage.Event{
		ID:         s.idGen.New(),
		TokenID:    tok.ID,
		Identity:   token.JournalIdentity(tok),
		Operation:  usage.OpIssueToken,
		StatusCode: 200,
		Timestamp:  now,
	})

	s.logger.Info().
		Str("token_id", tok.ID).
		Msg("access token issued")

	return raw, tok, nil
}

// Analyze runs the full request pipeline: input validation, authentication,
// rate limiting, and the provider call. The gateway performs no retries of
// its own; retry belongs solely to the analyst.
func (s *GatewayService) Analyze(ctx context.Context, req analysis.Request) HandleResult {
	now := s.clock.Now()

	// 1. Validate input shape (PURE). Runs before authentication so a
	// malformed request never charges rate limit quota.
	if !analysis.ValidSector(req.Sector) {
		return HandleResult{Error: &analysis.ErrInvalidSector}
	}

	// 2. Authenticate: format check (PURE), prefix lookup (I/O), hash
	// compare, then the pure validity policy.
	if req.Token == "" {
		return HandleResult{Error: &analysis.ErrMissingToken}
	}

	prefix, valid := token.ValidateFormat(req.Token, s.tokenPrefix)
	if !valid {
		return HandleResult{Error: &analysis.ErrInvalidToken}
	}

	candidates, err := s.tokens.Get(ctx, prefix)
	if err != nil || len(candidates) == 0 {
		return HandleResult{Error: &analysis.ErrInvalidToken}
	}

	var matched token.Token
	found := false
	for _, tok := range candidates {
		if bcrypt.CompareHashAndPassword(tok.Hash, []byte(req.Token)) == nil {
			matched = tok
			found = true
			break
		}
	}
	if !found {
		return HandleResult{Error: &analysis.ErrInvalidToken}
	}

	validation := token.Validate(matched, now)
	if !validation.Valid {
		return HandleResult{Error: validationError(validation.Reason)}
	}

	identity := token.IdentityOf(matched, req.Token)
	journalID := token.JournalIdentity(matched)

	// 3. Rate limit admission (PURE check inside the store's critical
	// section). A rejected attempt does not occupy a window slot.
	decision, err := s.rateLimit.GetAndCheck(ctx, identity, s.rlConfig, now)
	if err != nil {
		s.logger.Error().Err(err).Msg("rate limit store failure")
		return HandleResult{Error: &analysis.ErrRateLimited, Identity: journalID}
	}

	if !decision.Allowed {
		s.logger.Debug().
			Str("identity", journalID).
			Time("reset_at", decision.ResetAt).
			Msg("request rate limited")

		errResp := analysis.ErrRateLimited
		errResp.Message = fmt.Sprintf(
			"Rate limit exceeded: %d requests per %s. Retry after %s",
			decision.Limit, decision.Window, retryAfter(decision, now),
		)

		s.record(usage.Event{
			ID:         s.idGen.New(),
			TokenID:    matched.ID,
			Identity:   journalID,
			Operation:  usage.OpAnalyze,
			Sector:     req.Sector,
			Code:       usage.CodeRateLimited,
			StatusCode: errResp.Status,
			IPAddress:  req.RemoteIP,
			UserAgent:  req.UserAgent,
			Timestamp:  now,
		})

		return HandleResult{
			Error:    &errResp,
			Identity: journalID,
			Headers: map[string]string{
				"X-RateLimit-Remaining": "0",
				"X-RateLimit-Reset":     decision.ResetAt.UTC().Format(time.RFC3339),
				"Retry-After":           retryAfterSeconds(decision, now),
			},
		}
	}

	// 4. Delegate to the provider (I/O). Only the final classification
	// crosses this boundary; intermediate attempt failures stay inside
	// the analyst.
	outcome, err := s.analyst.Analyze(ctx, strings.TrimSpace(req.Sector))
	if err != nil {
		errResp := &analysis.ErrUpstreamUnavailable
		if errors.Is(err, upstream.ErrRejected) {
			errResp = &analysis.ErrUpstreamRejected
		}

		s.logger.Error().
			Err(err).
			Str("identity", journalID).
			Int("attempts", outcome.Attempts).
			Msg("analysis failed")

		s.record(usage.Event{
			ID:         s.idGen.New(),
			TokenID:    matched.ID,
			Identity:   journalID,
			Operation:  usage.OpAnalyze,
			Sector:     req.Sector,
			Code:       errResp.Code,
			StatusCode: errResp.Status,
			LatencyMs:  outcome.LatencyMs,
			Attempts:   outcome.Attempts,
			IPAddress:  req.RemoteIP,
			UserAgent:  req.UserAgent,
			Timestamp:  now,
		})

		return HandleResult{
			Error:     errResp,
			Identity:  journalID,
			Attempts:  outcome.Attempts,
			LatencyMs: outcome.LatencyMs,
		}
	}

	// 5. Return the result with the sector exactly as the caller sent it.
	result := outcome.Result
	result.Sector = req.Sector

	s.record(usage.Event{
		ID:          s.idGen.New(),
		TokenID:     matched.ID,
		Identity:    journalID,
		Operation:   usage.OpAnalyze,
		Sector:      req.Sector,
		StatusCode:  200,
		LatencyMs:   outcome.LatencyMs,
		Attempts:    outcome.Attempts,
		SourceCount: len(result.Sources),
		IPAddress:   req.RemoteIP,
		UserAgent:   req.UserAgent,
		Timestamp:   now,
	})

	go s.tokens.UpdateLastUsed(context.Background(), matched.ID, now)

	return HandleResult{
		Result:   &result,
		Identity: journalID,
		Headers: map[string]string{
			"X-RateLimit-Remaining": strconv.Itoa(decision.Remaining),
			"X-RateLimit-Reset":     decision.ResetAt.UTC().Format(time.RFC3339),
		},
		Attempts:  outcome.Attempts,
		LatencyMs: outcome.LatencyMs,
	}
}

// record queues a usage event when a recorder is wired.
func (s *GatewayService) record(e usage.Event) {
	if s.usage != nil {
		s.usage.Record(e)
	}
}

func validationError(reason string) *analysis.ErrorResponse {
	switch reason {
	case token.ReasonExpired:
		return &analysis.ErrTokenExpired
	case token.ReasonRevoked:
		return &analysis.ErrTokenRevoked
	default:
		return &analysis.ErrInvalidToken
	}
}

func retryAfter(d ratelimit.Decision, now time.Time) time.Duration {
	delay := ratelimit.CalculateDelay(d, now)
	return delay.Round(time.Second)
}

// retryAfterSeconds formats the Retry-After header value, rounding up so a
// caller that waits the advertised time is actually admitted.
func retryAfterSeconds(d ratelimit.Decision, now time.Time) string {
	delay := ratelimit.CalculateDelay(d, now)
	secs := int(delay / time.Second)
	if delay%time.Second != 0 {
		secs++
	}
	if secs < 0 {
		secs = 0
	}
	return strconv.Itoa(secs)
}

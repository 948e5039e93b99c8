package app_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/artpar/tradegate/adapters/clock"
	"github.com/artpar/tradegate/adapters/idgen"
	"github.com/artpar/tradegate/adapters/memory"
	"github.com/artpar/tradegate/adapters/random"
	"github.com/artpar/tradegate/app"
	"github.com/artpar/tradegate/domain/analysis"
	"github.com/artpar/tradegate/domain/ratelimit"
	"github.com/artpar/tradegate/domain/token"
	"github.com/artpar/tradegate/domain/upstream"
	"github.com/artpar/tradegate/domain/usage"
	"github.com/artpar/tradegate/ports"
)

var baseTime = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

// fakeAnalyst is a scriptable ports.Analyst.
type fakeAnalyst struct {
	result   analysis.Result
	err      error
	attempts int
	calls    int
	sectors  []string
}

func (f *fakeAnalyst) Analyze(ctx context.Context, sector string) (ports.AnalysisOutcome, error) {
	f.calls++
	f.sectors = append(f.sectors, sector)
	return ports.AnalysisOutcome{Result: f.result, Attempts: f.attempts}, f.err
}

func (f *fakeAnalyst) HealthCheck(ctx context.Context) error { return nil }

type fixture struct {
	service *app.GatewayService
	tokens  *memory.TokenStore
	usage   *memory.UsageStore
	clock   *clock.Fake
	analyst *fakeAnalyst
}

// directRecorder writes events straight through so tests can assert on the
// journal without flush timing.
type directRecorder struct {
	store ports.UsageStore
}

func (r directRecorder) Record(e usage.Event) {
	r.store.RecordBatch(context.Background(), []usage.Event{e})
}

func (r directRecorder) Flush(ctx context.Context) error { return nil }

func (r directRecorder) Close() error { return nil }

func newFixture(t *testing.T, cfg app.GatewayConfig) *fixture {
	t.Helper()

	tokens := memory.NewTokenStore()
	rl := memory.NewShardedRateLimitStore(memory.ShardedRateLimitConfig{
		CleanupInterval: time.Hour,
	})
	t.Cleanup(func() { rl.Close() })

	usageStore := memory.NewUsageStore()
	fakeClock := clock.NewFake(baseTime)
	analyst := &fakeAnalyst{result: analysis.Result{Report: "report text"}, attempts: 1}

	service := app.NewGatewayService(app.GatewayDeps{
		Tokens:    tokens,
		RateLimit: rl,
		Analyst:   analyst,
		Usage:     directRecorder{usageStore},
		Clock:     fakeClock,
		Random:    random.NewFake(),
		IDGen:     idgen.NewSequential("evt_"),
		Logger:    zerolog.Nop(),
	}, cfg)

	return &fixture{
		service: service,
		tokens:  tokens,
		usage:   usageStore,
		clock:   fakeClock,
		analyst: analyst,
	}
}

func TestIssueToken_UniqueAndImmediatelyValid(t *testing.T) {
	f := newFixture(t, app.GatewayConfig{})
	ctx := context.Background()

	seen := make(map[string]bool)
	for i := 0; i < 20; i++ {
		raw, _, err := f.service.IssueToken(ctx)
		if err != nil {
			t.Fatalf("IssueToken(%d) failed: %v", i, err)
		}
		if seen[raw] {
			t.Fatalf("IssueToken returned duplicate value on call %d", i)
		}
		seen[raw] = true

		if !strings.HasPrefix(raw, "tk_") {
			t.Errorf("token %q missing prefix", raw)
		}

		// Issued token must validate immediately
		result := f.service.Analyze(ctx, analysis.Request{Token: raw, Sector: "IT"})
		if result.Error != nil {
			t.Fatalf("token %d not valid after issuance: %+v", i, result.Error)
		}
	}
}

func TestAnalyze_Success(t *testing.T) {
	f := newFixture(t, app.GatewayConfig{})
	f.analyst.result = analysis.Result{
		Report:  "IT is growing.",
		Sources: []analysis.Source{{URI: "https://x", Title: "X"}},
	}
	ctx := context.Background()

	raw, _, err := f.service.IssueToken(ctx)
	if err != nil {
		t.Fatalf("IssueToken failed: %v", err)
	}

	result := f.service.Analyze(ctx, analysis.Request{Token: raw, Sector: "IT"})
	if result.Error != nil {
		t.Fatalf("Analyze failed: %+v", result.Error)
	}
	if result.Result.Sector != "IT" {
		t.Errorf("sector = %q, want IT", result.Result.Sector)
	}
	if result.Result.Report != "IT is growing." {
		t.Errorf("report = %q", result.Result.Report)
	}
	if len(result.Result.Sources) != 1 || result.Result.Sources[0].URI != "https://x" {
		t.Errorf("sources = %+v", result.Result.Sources)
	}
	if result.Headers["X-RateLimit-Remaining"] != "4" {
		t.Errorf("X-RateLimit-Remaining = %q, want 4", result.Headers["X-RateLimit-Remaining"])
	}
}

func TestAnalyze_SectorReturnedVerbatim(t *testing.T) {
	f := newFixture(t, app.GatewayConfig{})
	ctx := context.Background()

	raw, _, _ := f.service.IssueToken(ctx)

	// Untrimmed, mixed-case input comes back unchanged; the provider sees
	// the trimmed form.
	result := f.service.Analyze(ctx, analysis.Request{Token: raw, Sector: "  Oil - Gas  "})
	if result.Error != nil {
		t.Fatalf("Analyze failed: %+v", result.Error)
	}
	if result.Result.Sector != "  Oil - Gas  " {
		t.Errorf("sector = %q, want original input preserved", result.Result.Sector)
	}
	if got := f.analyst.sectors[0]; got != "Oil - Gas" {
		t.Errorf("provider saw sector %q, want trimmed form", got)
	}
}

func TestAnalyze_InvalidSectorRejectedBeforeAuth(t *testing.T) {
	f := newFixture(t, app.GatewayConfig{})
	ctx := context.Background()

	tests := []struct {
		name   string
		sector string
	}{
		{"too_short", "I"},
		{"too_long", strings.Repeat("a", 51)},
		{"bad_chars", "IT; DROP TABLE"},
		{"empty", ""},
		{"underscore", "tech_sector"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Garbage token: validation must fire before authentication
			result := f.service.Analyze(ctx, analysis.Request{Token: "not-a-token", Sector: tt.sector})
			if result.Error == nil {
				t.Fatal("expected error")
			}
			if result.Error.Code != "invalid_sector" {
				t.Errorf("code = %q, want invalid_sector", result.Error.Code)
			}
		})
	}

	if f.analyst.calls != 0 {
		t.Errorf("provider called %d times for invalid input", f.analyst.calls)
	}
}

func TestAnalyze_InvalidInputDoesNotChargeQuota(t *testing.T) {
	f := newFixture(t, app.GatewayConfig{
		RateLimit: ratelimit.Config{MaxRequests: 2, Window: 60 * time.Second},
	})
	ctx := context.Background()

	raw, _, _ := f.service.IssueToken(ctx)

	// Malformed requests with a valid token
	for i := 0; i < 10; i++ {
		result := f.service.Analyze(ctx, analysis.Request{Token: raw, Sector: "!"})
		if result.Error == nil || result.Error.Code != "invalid_sector" {
			t.Fatalf("expected invalid_sector, got %+v", result.Error)
		}
	}

	// Quota untouched: both slots still available
	for i := 0; i < 2; i++ {
		if result := f.service.Analyze(ctx, analysis.Request{Token: raw, Sector: "IT"}); result.Error != nil {
			t.Fatalf("admission %d failed: %+v", i, result.Error)
		}
	}
}

func TestAnalyze_Unauthenticated(t *testing.T) {
	f := newFixture(t, app.GatewayConfig{})
	ctx := context.Background()

	tests := []struct {
		name     string
		token    string
		wantCode string
	}{
		{"missing", "", "missing_token"},
		{"wrong_prefix", "xx_" + strings.Repeat("a", 64), "invalid_token"},
		{"too_short", "tk_abc", "invalid_token"},
		{"unknown", "tk_" + strings.Repeat("0", 64), "invalid_token"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := f.service.Analyze(ctx, analysis.Request{Token: tt.token, Sector: "IT"})
			if result.Error == nil {
				t.Fatal("expected error")
			}
			if result.Error.Code != tt.wantCode {
				t.Errorf("code = %q, want %q", result.Error.Code, tt.wantCode)
			}
			if result.Error.Status != 401 {
				t.Errorf("status = %d, want 401", result.Error.Status)
			}
		})
	}

	if f.analyst.calls != 0 {
		t.Errorf("provider called %d times without authentication", f.analyst.calls)
	}
}

func TestAnalyze_ExpiredToken(t *testing.T) {
	f := newFixture(t, app.GatewayConfig{TokenTTL: time.Hour})
	ctx := context.Background()

	raw, _, _ := f.service.IssueToken(ctx)

	if result := f.service.Analyze(ctx, analysis.Request{Token: raw, Sector: "IT"}); result.Error != nil {
		t.Fatalf("fresh token rejected: %+v", result.Error)
	}

	f.clock.Advance(2 * time.Hour)

	result := f.service.Analyze(ctx, analysis.Request{Token: raw, Sector: "IT"})
	if result.Error == nil || result.Error.Code != "token_expired" {
		t.Fatalf("expected token_expired, got %+v", result.Error)
	}
}

func TestAnalyze_RevokedToken(t *testing.T) {
	f := newFixture(t, app.GatewayConfig{})
	ctx := context.Background()

	raw, tok, _ := f.service.IssueToken(ctx)
	f.tokens.Revoke(ctx, tok.ID, baseTime)

	result := f.service.Analyze(ctx, analysis.Request{Token: raw, Sector: "IT"})
	if result.Error == nil || result.Error.Code != "token_revoked" {
		t.Fatalf("expected token_revoked, got %+v", result.Error)
	}
}

func TestAnalyze_RateLimitBoundary(t *testing.T) {
	f := newFixture(t, app.GatewayConfig{
		RateLimit: ratelimit.Config{MaxRequests: 5, Window: 60 * time.Second},
	})
	ctx := context.Background()

	raw, _, _ := f.service.IssueToken(ctx)

	// 5 admissions at t=0,1,2,3,4
	for i := 0; i < 5; i++ {
		f.clock.Set(baseTime.Add(time.Duration(i) * time.Second))
		if result := f.service.Analyze(ctx, analysis.Request{Token: raw, Sector: "IT"}); result.Error != nil {
			t.Fatalf("admission at t=%d failed: %+v", i, result.Error)
		}
	}

	// 6th at t=5 rejected
	f.clock.Set(baseTime.Add(5 * time.Second))
	result := f.service.Analyze(ctx, analysis.Request{Token: raw, Sector: "IT"})
	if result.Error == nil || result.Error.Code != "rate_limit_exceeded" {
		t.Fatalf("expected rate_limit_exceeded at t=5, got %+v", result.Error)
	}
	if result.Error.Status != 429 {
		t.Errorf("status = %d, want 429", result.Error.Status)
	}
	if result.Headers["Retry-After"] == "" {
		t.Error("rate limited response missing Retry-After header")
	}
	if !strings.Contains(result.Error.Message, "5 requests per 1m0s") {
		t.Errorf("message %q missing window parameters", result.Error.Message)
	}

	// Window fully expired at t=61: admitted again
	f.clock.Set(baseTime.Add(61 * time.Second))
	if result := f.service.Analyze(ctx, analysis.Request{Token: raw, Sector: "IT"}); result.Error != nil {
		t.Fatalf("admission at t=61 failed: %+v", result.Error)
	}
}

func TestAnalyze_RejectionDoesNotConsumeSlot(t *testing.T) {
	f := newFixture(t, app.GatewayConfig{
		RateLimit: ratelimit.Config{MaxRequests: 5, Window: 60 * time.Second},
	})
	ctx := context.Background()

	raw, _, _ := f.service.IssueToken(ctx)

	for i := 0; i < 5; i++ {
		f.clock.Set(baseTime.Add(time.Duration(i) * time.Second))
		if result := f.service.Analyze(ctx, analysis.Request{Token: raw, Sector: "IT"}); result.Error != nil {
			t.Fatalf("admission %d failed: %+v", i, result.Error)
		}
	}

	// Hammer while full: none of these may take a slot
	f.clock.Set(baseTime.Add(30 * time.Second))
	for i := 0; i < 10; i++ {
		if result := f.service.Analyze(ctx, analysis.Request{Token: raw, Sector: "IT"}); result.Error == nil {
			t.Fatal("expected rejection while window full")
		}
	}

	// One slot frees when the t=0 stamp ages out; a single retry succeeds
	f.clock.Set(baseTime.Add(61 * time.Second))
	if result := f.service.Analyze(ctx, analysis.Request{Token: raw, Sector: "IT"}); result.Error != nil {
		t.Fatalf("admission after one slot freed failed: %+v", result.Error)
	}
}

func TestAnalyze_IdentityIsolation(t *testing.T) {
	f := newFixture(t, app.GatewayConfig{
		RateLimit: ratelimit.Config{MaxRequests: 2, Window: 60 * time.Second},
	})
	ctx := context.Background()

	tokenA, _, _ := f.service.IssueToken(ctx)
	tokenB, _, _ := f.service.IssueToken(ctx)

	// Exhaust A
	for i := 0; i < 2; i++ {
		if result := f.service.Analyze(ctx, analysis.Request{Token: tokenA, Sector: "IT"}); result.Error != nil {
			t.Fatalf("A admission %d failed: %+v", i, result.Error)
		}
	}
	if result := f.service.Analyze(ctx, analysis.Request{Token: tokenA, Sector: "IT"}); result.Error == nil {
		t.Fatal("A should be exhausted")
	}

	// B unaffected at the same timestamps
	for i := 0; i < 2; i++ {
		if result := f.service.Analyze(ctx, analysis.Request{Token: tokenB, Sector: "IT"}); result.Error != nil {
			t.Fatalf("B admission %d failed: %+v", i, result.Error)
		}
	}
}

func TestAnalyze_UpstreamUnavailable(t *testing.T) {
	f := newFixture(t, app.GatewayConfig{})
	f.analyst.err = fmt.Errorf("%w: connection refused", upstream.ErrUnavailable)
	f.analyst.attempts = 5
	ctx := context.Background()

	raw, _, _ := f.service.IssueToken(ctx)

	result := f.service.Analyze(ctx, analysis.Request{Token: raw, Sector: "IT"})
	if result.Error == nil || result.Error.Code != "upstream_unavailable" {
		t.Fatalf("expected upstream_unavailable, got %+v", result.Error)
	}
	if result.Error.Status != 503 {
		t.Errorf("status = %d, want 503", result.Error.Status)
	}
	if result.Attempts != 5 {
		t.Errorf("attempts = %d, want 5", result.Attempts)
	}
	if f.analyst.calls != 1 {
		t.Errorf("gateway called provider %d times, must not retry on its own", f.analyst.calls)
	}
}

func TestAnalyze_UpstreamRejected(t *testing.T) {
	f := newFixture(t, app.GatewayConfig{})
	f.analyst.err = fmt.Errorf("provider returned 400: %w", upstream.ErrRejected)
	f.analyst.attempts = 1
	ctx := context.Background()

	raw, _, _ := f.service.IssueToken(ctx)

	result := f.service.Analyze(ctx, analysis.Request{Token: raw, Sector: "IT"})
	if result.Error == nil || result.Error.Code != "upstream_rejected" {
		t.Fatalf("expected upstream_rejected, got %+v", result.Error)
	}
	if result.Error.Status != 502 {
		t.Errorf("status = %d, want 502", result.Error.Status)
	}
}

func TestAnalyze_UpstreamFailureStillChargesQuota(t *testing.T) {
	f := newFixture(t, app.GatewayConfig{
		RateLimit: ratelimit.Config{MaxRequests: 2, Window: 60 * time.Second},
	})
	f.analyst.err = errors.New("boom")
	ctx := context.Background()

	raw, _, _ := f.service.IssueToken(ctx)

	// Admitted requests consume slots even when the provider fails
	for i := 0; i < 2; i++ {
		result := f.service.Analyze(ctx, analysis.Request{Token: raw, Sector: "IT"})
		if result.Error == nil || result.Error.Code != "upstream_unavailable" {
			t.Fatalf("call %d: %+v", i, result.Error)
		}
	}

	result := f.service.Analyze(ctx, analysis.Request{Token: raw, Sector: "IT"})
	if result.Error == nil || result.Error.Code != "rate_limit_exceeded" {
		t.Fatalf("expected rate_limit_exceeded, got %+v", result.Error)
	}
}

func TestAnalyze_JournalsEvents(t *testing.T) {
	f := newFixture(t, app.GatewayConfig{
		RateLimit: ratelimit.Config{MaxRequests: 1, Window: 60 * time.Second},
	})
	f.analyst.result = analysis.Result{
		Report:  "ok",
		Sources: []analysis.Source{{URI: "https://a", Title: "A"}, {URI: "https://b", Title: "B"}},
	}
	ctx := context.Background()

	raw, tok, _ := f.service.IssueToken(ctx)
	f.service.Analyze(ctx, analysis.Request{Token: raw, Sector: "IT", RemoteIP: "10.0.0.1"})
	f.service.Analyze(ctx, analysis.Request{Token: raw, Sector: "IT"})

	events := f.usage.GetAll()
	if len(events) != 3 {
		t.Fatalf("expected 3 events (issue, success, rate limited), got %d", len(events))
	}

	issue := events[0]
	if issue.Operation != "issue_token" || issue.TokenID != tok.ID {
		t.Errorf("issue event = %+v", issue)
	}

	success := events[1]
	if success.Operation != "analyze" || success.StatusCode != 200 {
		t.Errorf("success event = %+v", success)
	}
	if success.SourceCount != 2 {
		t.Errorf("success SourceCount = %d, want 2", success.SourceCount)
	}
	if success.Identity != tok.ID {
		t.Errorf("journal identity = %q, want non-secret token ID %q", success.Identity, tok.ID)
	}
	if success.Identity == raw {
		t.Error("raw token value leaked into the journal")
	}

	limited := events[2]
	if limited.Code != "rate_limit_exceeded" || limited.StatusCode != 429 {
		t.Errorf("rate limited event = %+v", limited)
	}
}

func TestAnalyze_DevTokenIdentity(t *testing.T) {
	f := newFixture(t, app.GatewayConfig{})
	ctx := context.Background()

	// A token bound to an explicit identity journals under that identity
	raw, tok := token.Generate("tk_", baseTime, 0)
	f.tokens.Create(ctx, tok.WithIdentity("test_user"))

	result := f.service.Analyze(ctx, analysis.Request{Token: raw, Sector: "IT"})
	if result.Error != nil {
		t.Fatalf("Analyze failed: %+v", result.Error)
	}
	if result.Identity != "test_user" {
		t.Errorf("identity = %q, want test_user", result.Identity)
	}
}

func TestGatewayService_Defaults(t *testing.T) {
	f := newFixture(t, app.GatewayConfig{})

	cfg := f.service.RateLimitConfig()
	if cfg.MaxRequests != 5 {
		t.Errorf("default MaxRequests = %d, want 5", cfg.MaxRequests)
	}
	if cfg.Window != 60*time.Second {
		t.Errorf("default Window = %v, want 60s", cfg.Window)
	}
}

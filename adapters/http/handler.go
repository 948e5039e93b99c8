// Package http provides the HTTP binding for the gateway service.
// Handlers only extract request data and serialize results; every decision
// lives in the app and domain layers.
package http

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/artpar/tradegate/adapters/metrics"
	"github.com/artpar/tradegate/app"
	"github.com/artpar/tradegate/domain/analysis"
)

// TokenResponse is the /auth response body.
type TokenResponse struct {
	Token string `json:"token"`
}

// AnalyzeRequest is the /analyze request body.
type AnalyzeRequest struct {
	Sector string `json:"sector"`
}

// AnalyzeResponse is the /analyze success body.
type AnalyzeResponse struct {
	Sector  string          `json:"sector"`
	Report  string          `json:"report"`
	Sources []SourcePayload `json:"sources"`
}

// SourcePayload is one grounding attribution in the response.
type SourcePayload struct {
	URI   string `json:"uri"`
	Title string `json:"title"`
}

// ErrorEnvelope wraps an error response body.
type ErrorEnvelope struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail carries the machine-checkable code and the human reason.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// VersionResponse is the /version body.
type VersionResponse struct {
	Version string `json:"version"`
	Service string `json:"service"`
}

// BuildInfo identifies the running binary.
type BuildInfo struct {
	Version string
}

// GatewayHandler exposes the gateway service over HTTP.
type GatewayHandler struct {
	service *app.GatewayService
	logger  zerolog.Logger
	metrics *metrics.Collector // nil when metrics are disabled
}

// NewGatewayHandler creates a new HTTP gateway handler.
func NewGatewayHandler(service *app.GatewayService, logger zerolog.Logger) *GatewayHandler {
	return &GatewayHandler{service: service, logger: logger}
}

// NewGatewayHandlerWithMetrics creates a handler that also feeds the collector.
func NewGatewayHandlerWithMetrics(service *app.GatewayService, logger zerolog.Logger, m *metrics.Collector) *GatewayHandler {
	return &GatewayHandler{service: service, logger: logger, metrics: m}
}

// IssueToken handles POST /auth.
func (h *GatewayHandler) IssueToken(w http.ResponseWriter, r *http.Request) {
	raw, _, err := h.service.IssueToken(r.Context())
	if err != nil {
		h.logger.Error().Err(err).Msg("token issuance failed")
		writeError(w, &analysis.ErrorResponse{
			Status:  500,
			Code:    "internal_error",
			Message: "Failed to issue token",
		})
		return
	}

	if h.metrics != nil {
		h.metrics.TokensIssued.Inc()
	}

	writeJSON(w, http.StatusOK, TokenResponse{Token: raw})
}

// Analyze handles POST /analyze.
func (h *GatewayHandler) Analyze(w http.ResponseWriter, r *http.Request) {
	var body AnalyzeRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&body); err != nil {
		writeError(w, &analysis.ErrInvalidSector)
		return
	}

	req := analysis.Request{
		Token:     extractToken(r),
		Sector:    body.Sector,
		RemoteIP:  extractIP(r),
		UserAgent: r.UserAgent(),
		TraceID:   middleware.GetReqID(r.Context()),
	}

	result := h.service.Analyze(r.Context(), req)
	h.observe(result)

	for k, v := range result.Headers {
		w.Header().Set(k, v)
	}

	if result.Error != nil {
		writeError(w, result.Error)
		return
	}

	resp := AnalyzeResponse{
		Sector:  result.Result.Sector,
		Report:  result.Result.Report,
		Sources: make([]SourcePayload, 0, len(result.Result.Sources)),
	}
	for _, src := range result.Result.Sources {
		resp.Sources = append(resp.Sources, SourcePayload{URI: src.URI, Title: src.Title})
	}

	writeJSON(w, http.StatusOK, resp)
}

// observe feeds the outcome into the collector.
func (h *GatewayHandler) observe(result app.HandleResult) {
	if h.metrics == nil {
		return
	}

	if result.Error == nil {
		h.metrics.AnalysesTotal.WithLabelValues("success").Inc()
		h.metrics.UpstreamAttempts.Observe(float64(result.Attempts))
		h.metrics.UpstreamDuration.WithLabelValues("success").Observe(float64(result.LatencyMs) / 1000)
		return
	}

	switch result.Error.Code {
	case "missing_token", "invalid_token", "token_expired", "token_revoked":
		h.metrics.AuthFailures.WithLabelValues(result.Error.Code).Inc()
	case "rate_limit_exceeded":
		h.metrics.RateLimitHits.WithLabelValues(result.Identity).Inc()
	case "upstream_unavailable", "upstream_rejected":
		h.metrics.AnalysesTotal.WithLabelValues("error").Inc()
		h.metrics.UpstreamErrors.WithLabelValues(result.Error.Code).Inc()
		h.metrics.UpstreamAttempts.Observe(float64(result.Attempts))
		h.metrics.UpstreamDuration.WithLabelValues("error").Observe(float64(result.LatencyMs) / 1000)
	}
}

// extractToken pulls the access token from the request. Extraction order is
// fixed: Authorization bearer, then X-API-Key, then the api_key query param.
func extractToken(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		if strings.HasPrefix(auth, "Bearer ") {
			return strings.TrimPrefix(auth, "Bearer ")
		}
	}

	if key := r.Header.Get("X-API-Key"); key != "" {
		return key
	}

	if key := r.URL.Query().Get("api_key"); key != "" {
		return key
	}

	return ""
}

// extractIP extracts the client IP from the request.
func extractIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		parts := strings.Split(xff, ",")
		if len(parts) > 0 {
			return strings.TrimSpace(parts[0])
		}
	}

	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}

	addr := r.RemoteAddr
	if idx := strings.LastIndex(addr, ":"); idx != -1 {
		return addr[:idx]
	}
	return addr
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes the error envelope. Only this layer translates error
// kinds into transport status codes.
func writeError(w http.ResponseWriter, err *analysis.ErrorResponse) {
	writeJSON(w, err.Status, ErrorEnvelope{
		Error: ErrorDetail{Code: err.Code, Message: err.Message},
	})
}

// HealthChecker reports whether a collaborator is reachable.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// HealthHandler provides health check endpoints.
type HealthHandler struct {
	upstream HealthChecker
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(upstream HealthChecker) *HealthHandler {
	return &HealthHandler{upstream: upstream}
}

// Liveness returns a simple liveness check.
func (h *HealthHandler) Liveness(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Readiness checks whether the provider endpoint is reachable.
func (h *HealthHandler) Readiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if h.upstream != nil {
		if err := h.upstream.HealthCheck(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "unhealthy",
				"error":  err.Error(),
			})
			return
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// RouterConfig holds optional configuration for the router.
type RouterConfig struct {
	Metrics *metrics.Collector // Enables the metrics middleware and /metrics
	Build   BuildInfo
}

// NewRouter creates the main HTTP router.
func NewRouter(gateway *GatewayHandler, health *HealthHandler, logger zerolog.Logger) chi.Router {
	return NewRouterWithConfig(gateway, health, logger, RouterConfig{})
}

// NewRouterWithConfig creates the main HTTP router with optional config.
// There is deliberately no request timeout middleware: an analysis request
// legitimately outlives ordinary requests while the provider is retried,
// and the per-attempt deadline lives in the provider client.
func NewRouterWithConfig(gateway *GatewayHandler, health *HealthHandler, logger zerolog.Logger, cfg RouterConfig) chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(NewLoggingMiddleware(logger))
	r.Use(middleware.Recoverer)

	if cfg.Metrics != nil {
		r.Use(NewMetricsMiddleware(cfg.Metrics))
	}

	// Health endpoints (no auth)
	r.Get("/health", health.Liveness)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)

	if cfg.Metrics != nil {
		r.Handle("/metrics", promhttp.Handler())
	}

	version := cfg.Build.Version
	if version == "" {
		version = "dev"
	}
	r.Get("/version", func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, http.StatusOK, VersionResponse{Version: version, Service: "tradegate"})
	})

	// Gateway operations
	r.Post("/auth", gateway.IssueToken)
	r.Post("/analyze", gateway.Analyze)

	return r
}

// NewMetricsMiddleware creates middleware that records request metrics.
func NewMetricsMiddleware(m *metrics.Collector) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if strings.HasPrefix(r.URL.Path, "/health") || r.URL.Path == "/metrics" {
				next.ServeHTTP(w, r)
				return
			}

			m.RequestsInFlight.Inc()
			defer m.RequestsInFlight.Dec()

			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			duration := time.Since(start).Seconds()
			status := statusLabel(ww.Status())
			path := metrics.NormalizePath(r.URL.Path)

			m.RequestsTotal.WithLabelValues(r.Method, path, status).Inc()
			m.RequestDuration.WithLabelValues(r.Method, path, status).Observe(duration)
		})
	}
}

// statusLabel returns a string label for the status code.
func statusLabel(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	case status >= 200:
		return "2xx"
	default:
		return "other"
	}
}

// NewLoggingMiddleware creates request logging middleware.
func NewLoggingMiddleware(logger zerolog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			// Health checks and metrics scrapes are noise
			if strings.HasPrefix(r.URL.Path, "/health") || r.URL.Path == "/metrics" {
				return
			}

			logger.Debug().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.Status()).
				Int("bytes", ww.BytesWritten()).
				Dur("duration", time.Since(start)).
				Str("request_id", middleware.GetReqID(r.Context())).
				Msg("http request")
		})
	}
}

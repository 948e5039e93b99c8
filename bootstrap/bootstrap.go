// Package bootstrap wires all dependencies and starts the application.
package bootstrap

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/artpar/tradegate/adapters/clock"
	"github.com/artpar/tradegate/adapters/gemini"
	tghttp "github.com/artpar/tradegate/adapters/http"
	"github.com/artpar/tradegate/adapters/idgen"
	"github.com/artpar/tradegate/adapters/memory"
	"github.com/artpar/tradegate/adapters/metrics"
	"github.com/artpar/tradegate/adapters/random"
	"github.com/artpar/tradegate/adapters/sqlite"
	"github.com/artpar/tradegate/app"
	"github.com/artpar/tradegate/config"
	"github.com/artpar/tradegate/domain/ratelimit"
	"github.com/artpar/tradegate/domain/token"
	"github.com/artpar/tradegate/domain/upstream"
	"github.com/artpar/tradegate/ports"
)

// Version is stamped at build time and reported by /version.
var Version = "dev"

// App represents the running application.
type App struct {
	Config     *config.Config
	Logger     zerolog.Logger
	DB         *sqlite.DB // nil when the usage journal is in memory
	HTTPServer *http.Server
	Metrics    *metrics.Collector
	Gateway    *app.GatewayService
	Tokens     ports.TokenStore

	// Adapters held for ordered teardown
	rateLimit     *memory.ShardedRateLimitStore
	analyst       *gemini.Client
	usageRecorder ports.UsageRecorder
}

// New creates and initializes the application from configuration.
// Nothing listens until Run is called.
func New(cfg *config.Config) (*App, error) {
	logger := setupLogger(cfg.Logging)

	logger.Info().Str("version", Version).Msg("initializing tradegate")

	a := &App{
		Config: cfg,
		Logger: logger,
	}

	if cfg.Metrics.Enabled {
		a.Metrics = metrics.New()
		logger.Info().Msg("prometheus metrics enabled")
	}

	usageStore, err := a.initUsageStore()
	if err != nil {
		return nil, fmt.Errorf("init usage store: %w", err)
	}
	if cfg.Usage.Enabled {
		a.usageRecorder = NewLocalUsageRecorder(usageStore, cfg.Usage.BatchSize, cfg.Usage.FlushInterval, logger)
	}

	a.rateLimit = memory.NewShardedRateLimitStore(memory.ShardedRateLimitConfig{
		NumShards:       cfg.RateLimit.Shards,
		CleanupInterval: cfg.RateLimit.CleanupInterval,
	})

	a.analyst, err = gemini.New(gemini.Config{
		APIKey:      cfg.Upstream.APIKey,
		BaseURL:     cfg.Upstream.BaseURL,
		Model:       cfg.Upstream.Model,
		Temperature: cfg.Upstream.Temperature,
		Retry: upstream.RetryPolicy{
			MaxAttempts:    cfg.Upstream.MaxAttempts,
			BaseDelay:      cfg.Upstream.BaseDelay,
			MaxDelay:       cfg.Upstream.MaxDelay,
			AttemptTimeout: cfg.Upstream.AttemptTimeout,
		},
		BreakerThreshold: breakerThreshold(cfg.Upstream.Breaker),
		BreakerCooldown:  cfg.Upstream.Breaker.OpenDuration,
	}, clock.Real{}, logger)
	if err != nil {
		a.teardownPartial()
		return nil, fmt.Errorf("init upstream client: %w", err)
	}

	a.Tokens = memory.NewTokenStore()

	a.Gateway = app.NewGatewayService(app.GatewayDeps{
		Tokens:    a.Tokens,
		RateLimit: a.rateLimit,
		Analyst:   a.analyst,
		Usage:     a.usageRecorder,
		Clock:     clock.Real{},
		Random:    random.Real{},
		IDGen:     idgen.UUID{},
		Logger:    logger,
	}, app.GatewayConfig{
		TokenPrefix: cfg.Auth.TokenPrefix,
		TokenTTL:    cfg.Auth.TokenTTL,
		RateLimit: ratelimit.Config{
			MaxRequests: cfg.RateLimit.MaxRequests,
			Window:      cfg.RateLimit.Window,
		},
	})

	if cfg.Auth.DevToken {
		if err := a.mintDevToken(); err != nil {
			logger.Warn().Err(err).Msg("failed to mint development token")
		}
	}

	a.initHTTPServer()

	return a, nil
}

func (a *App) initUsageStore() (ports.UsageStore, error) {
	cfg := a.Config

	if cfg.Database.DSN == "" {
		a.Logger.Info().Msg("usage journal kept in memory")
		return memory.NewUsageStore(), nil
	}

	db, err := sqlite.Open(cfg.Database.DSN)
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	a.DB = db
	a.Logger.Info().Str("dsn", cfg.Database.DSN).Msg("usage journal database opened")
	return sqlite.NewUsageStore(db), nil
}

// mintDevToken creates a token at startup and logs the raw value so local
// callers can exercise the API without a separate issuance call.
func (a *App) mintDevToken() error {
	now := time.Now().UTC()
	raw, t := token.Generate(a.Config.Auth.TokenPrefix, now, a.Config.Auth.TokenTTL)
	t = t.WithIdentity("test_user")

	if err := a.Tokens.Create(context.Background(), t); err != nil {
		return err
	}

	a.Logger.Info().
		Str("token", raw).
		Str("token_id", t.ID).
		Msg("development token minted")
	return nil
}

func (a *App) initHTTPServer() {
	cfg := a.Config

	var gateway *tghttp.GatewayHandler
	if a.Metrics != nil {
		gateway = tghttp.NewGatewayHandlerWithMetrics(a.Gateway, a.Logger, a.Metrics)
	} else {
		gateway = tghttp.NewGatewayHandler(a.Gateway, a.Logger)
	}
	health := tghttp.NewHealthHandler(a.analyst)

	router := tghttp.NewRouterWithConfig(gateway, health, a.Logger, tghttp.RouterConfig{
		Metrics: a.Metrics,
		Build:   tghttp.BuildInfo{Version: Version},
	})

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	a.HTTPServer = &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	a.Logger.Info().Str("addr", addr).Msg("http server configured")
}

// Run starts the HTTP server and blocks until shutdown.
func (a *App) Run() error {
	errCh := make(chan error, 1)
	go func() {
		a.Logger.Info().
			Str("addr", a.HTTPServer.Addr).
			Msg("starting http server")
		if err := a.HTTPServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case sig := <-quit:
		a.Logger.Info().Str("signal", sig.String()).Msg("shutting down")
	}

	return a.Shutdown()
}

// Shutdown gracefully stops the application. In-flight requests get the
// configured drain window, then adapters are closed back-to-front.
func (a *App) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), a.Config.Server.ShutdownTimeout)
	defer cancel()

	if a.HTTPServer != nil {
		if err := a.HTTPServer.Shutdown(ctx); err != nil {
			a.Logger.Error().Err(err).Msg("http server shutdown error")
		}
	}

	if a.usageRecorder != nil {
		if err := a.usageRecorder.Close(); err != nil {
			a.Logger.Error().Err(err).Msg("usage recorder close error")
		}
	}

	a.teardownPartial()

	a.Logger.Info().Msg("shutdown complete")
	return nil
}

// teardownPartial closes adapters that are created early in New. It is safe
// to call with any subset of them initialized.
func (a *App) teardownPartial() {
	if a.rateLimit != nil {
		if err := a.rateLimit.Close(); err != nil {
			a.Logger.Error().Err(err).Msg("rate limit store close error")
		}
	}

	if a.analyst != nil {
		a.analyst.Close()
	}

	if a.DB != nil {
		if err := a.DB.Close(); err != nil {
			a.Logger.Error().Err(err).Msg("database close error")
		}
	}
}

func breakerThreshold(cfg config.BreakerConfig) uint32 {
	if !cfg.Enabled {
		return 0
	}
	return cfg.FailureThreshold
}

func setupLogger(cfg config.LoggingConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}

	if cfg.Format == "console" {
		output := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
		return zerolog.New(output).Level(level).With().Timestamp().Logger()
	}

	return zerolog.New(os.Stdout).Level(level).With().Timestamp().Logger()
}

// Package main provides the entrypoint for the airdash export API server.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/airdash/airdash/internal/api"
	"github.com/airdash/airdash/internal/api/handler"
	"github.com/airdash/airdash/internal/api/middleware"
	"github.com/airdash/airdash/internal/auth"
	"github.com/airdash/airdash/internal/catalog"
	"github.com/airdash/airdash/internal/catalog/airqo"
	"github.com/airdash/airdash/internal/config"
	"github.com/airdash/airdash/internal/database"
	"github.com/airdash/airdash/internal/engine"
	"github.com/airdash/airdash/internal/events"
	"github.com/airdash/airdash/internal/export"
	"github.com/airdash/airdash/internal/logging"
	"github.com/airdash/airdash/internal/materialize"
	"github.com/airdash/airdash/internal/provider/resilience"
	"github.com/airdash/airdash/internal/session"
	"github.com/airdash/airdash/internal/telemetry"
	"github.com/airdash/airdash/internal/transfer/analytics"
)

// Version and BuildTime are set at compile time via ldflags.
var (
	Version   = "dev"
	BuildTime = "unknown"
)

const serviceName = "airdash-api"

func main() {
	cfg, err := config.Load()
	if err != nil {
		zerolog.New(os.Stderr).Fatal().Err(err).Msg("invalid configuration")
	}

	log := logging.New(logging.Config{
		Service: serviceName,
		Version: Version,
		Level:   cfg.Log.Level,
		Format:  cfg.Log.Format,
	})
	log.Info().
		Str("build_time", BuildTime).
		Str("env", cfg.Env).
		Msg("starting airdash API")

	if err := run(cfg, log); err != nil {
		log.Fatal().Err(err).Msg("server stopped with error")
	}
	log.Info().Msg("server stopped")
}

func run(cfg *config.Config, log zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize OpenTelemetry
	tp, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName:    serviceName,
		ServiceVersion: Version,
		Environment:    cfg.Env,
		OTLPEndpoint:   cfg.Telemetry.OTLPEndpoint,
		Enabled:        cfg.Telemetry.Enabled,
	})
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("failed to shutdown telemetry")
		}
	}()
	if cfg.Telemetry.Enabled {
		log.Info().
			Str("otlp_endpoint", cfg.Telemetry.OTLPEndpoint).
			Msg("OpenTelemetry initialized")
	}

	metrics, err := middleware.NewMetrics()
	if err != nil {
		return err
	}

	registry := resilience.NewRegistry()

	transport := analytics.NewClient(analytics.ClientConfig{
		BaseURL:  cfg.Analytics.BaseURL,
		Token:    cfg.Analytics.Token,
		Timeout:  cfg.Analytics.Timeout,
		Registry: registry,
		Logger:   log,
	})

	var checks []handler.ReadinessCheck
	cat, closeCatalog, err := openCatalog(ctx, cfg, registry, log)
	if err != nil {
		return err
	}
	defer closeCatalog()
	if pinger, ok := cat.(interface{ Ping(context.Context) error }); ok {
		checks = append(checks, handler.ReadinessCheck{Name: "database", Check: pinger.Ping})
	}

	publisher, closePublisher, err := openPublisher(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closePublisher()

	materializer := materialize.New(materialize.Config{Logger: log})

	sessions := session.NewStore(session.StoreConfig{
		NewEngine: func(sessionID string, limits export.SelectionLimits) *engine.Engine {
			return engine.New(engine.Config{
				Transport:       transport,
				Resolver:        cat,
				Materializer:    materializer,
				Publisher:       publisher,
				Limits:          limits,
				DownloadTimeout: cfg.Export.DownloadTimeout,
				PreviewTimeout:  cfg.Export.PreviewTimeout,
				SessionID:       sessionID,
				Logger:          log,
			})
		},
		TTL:        cfg.Session.TTL,
		MaxPerUser: cfg.Session.MaxPerUser,
		Logger:     log,
	})
	go sessions.Run(ctx)

	var tokens middleware.TokenValidator
	if cfg.Auth.Enabled {
		signingKey := cfg.Auth.SigningKey
		if signingKey == "" {
			signingKey = "local-dev-signing-key-change-in-production"
			log.Warn().Msg("using default JWT signing key - not secure for production")
		}
		tokens = auth.NewJWTService(auth.JWTConfig{
			SigningKey: signingKey,
			Issuer:     cfg.Auth.Issuer,
			Audience:   cfg.Auth.Audience,
		})
	} else {
		log.Warn().Str("user", api.DefaultAnonymousUser).Msg("authentication disabled")
	}

	router := api.NewRouter(api.RouterConfig{
		Version:         Version,
		BuildTime:       BuildTime,
		Logger:          log,
		ServiceName:     serviceName,
		Metrics:         metrics,
		Sessions:        sessions,
		Catalog:         cat,
		Registry:        registry,
		Tokens:          tokens,
		RequireTLS:      cfg.Server.RequireTLS,
		ReadinessChecks: checks,
	})

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info().
			Str("addr", server.Addr).
			Msg("server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case err := <-serverErr:
		return err
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
		return err
	}
	return nil
}

// openCatalog builds the catalog for the configured source.
func openCatalog(ctx context.Context, cfg *config.Config, registry *resilience.Registry, log zerolog.Logger) (catalog.Catalog, func(), error) {
	switch cfg.Catalog.Source {
	case config.CatalogPostgres:
		pool, err := database.Connect(ctx, cfg.Database)
		if err != nil {
			return nil, nil, err
		}
		log.Info().
			Str("host", cfg.Database.Host).
			Int("port", cfg.Database.Port).
			Str("database", cfg.Database.Database).
			Msg("database connected")
		return catalog.NewPostgresCatalog(pool), pool.Close, nil
	case config.CatalogMemory:
		log.Warn().Msg("using empty in-memory catalog")
		return catalog.NewMemoryCatalog(), func() {}, nil
	default:
		return airqo.NewClient(airqo.ClientConfig{
			BaseURL:  cfg.Catalog.BaseURL,
			Token:    cfg.Catalog.Token,
			Timeout:  cfg.Catalog.Timeout,
			Registry: registry,
			Logger:   log,
		}), func() {}, nil
	}
}

// openPublisher returns the Pub/Sub publisher when configured and the
// in-process bus otherwise.
func openPublisher(ctx context.Context, cfg *config.Config, log zerolog.Logger) (events.Publisher, func(), error) {
	if !cfg.PubSub.Enabled() {
		bus := events.NewBus()
		bus.Subscribe(func(e events.Event) {
			log.Debug().
				Str("event", e.Type).
				Str("session_id", e.SessionID).
				Msg("export event")
		})
		return bus, func() {}, nil
	}

	p, err := events.NewPubSubPublisher(ctx, events.PubSubConfig{
		ProjectID: cfg.PubSub.ProjectID,
		Topic:     cfg.PubSub.Topic,
		Logger:    log,
	})
	if err != nil {
		return nil, nil, err
	}
	log.Info().Str("topic", cfg.PubSub.Topic).Msg("publishing events to pubsub")
	return p, func() {
		if err := p.Close(); err != nil {
			log.Error().Err(err).Msg("failed to close pubsub publisher")
		}
	}, nil
}

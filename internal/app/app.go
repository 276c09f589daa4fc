// Package app wires the application together: configuration, logging,
// crypto material, the directory client, the licensing core, and the HTTP
// server with graceful shutdown.
package app

import (
	"context"
	"crypto/ed25519"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"licsvc/internal/config"
	"licsvc/internal/crypto"
	"licsvc/internal/directory"
	"licsvc/internal/infrastructure"
	"licsvc/internal/licensing"
	custommw "licsvc/internal/middleware"
	handlers "licsvc/internal/transport/http"
)

// Version is set at build time.
var Version = "dev"

// Application is the main application container.
type Application struct {
	Config    *config.Config
	Logger    *slog.Logger
	Router    *chi.Mux
	Server    *http.Server
	Service   *licensing.Service
	Directory *directory.Client
	Pool      *licensing.RefreshPool
}

// New constructs the application from configuration.
func New(cfg *config.Config) (*Application, error) {
	logger, err := infrastructure.InitializeLogger(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("logger initialization failed: %w", err)
	}

	codec, err := crypto.NewKeyCodec(cfg.Crypto.Secret, []byte(cfg.Crypto.Salt))
	if err != nil {
		return nil, fmt.Errorf("key codec initialization failed: %w", err)
	}

	verifier, err := buildVerifier(cfg, logger)
	if err != nil {
		return nil, err
	}
	signingKey, err := buildSigningKey(cfg, logger)
	if err != nil {
		return nil, err
	}

	tokens, err := licensing.NewTokenIssuer(signingKey, cfg.Token.Issuer, cfg.Token.TTL, cfg.Token.JitterMax)
	if err != nil {
		return nil, fmt.Errorf("token issuer initialization failed: %w", err)
	}

	dir, err := directory.NewClient(directory.Config{
		BaseURL:      cfg.Directory.BaseURL,
		APIKey:       cfg.Directory.APIKey,
		Timeout:      cfg.Directory.Timeout,
		RetryMax:     cfg.Directory.RetryMax,
		RetryWaitMin: cfg.Directory.RetryWaitMin,
		RetryWaitMax: cfg.Directory.RetryWaitMax,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("directory client initialization failed: %w", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := licensing.NewMetrics(registry)

	pool := licensing.NewRefreshPool(cfg.Cache.RefreshWorkers, cfg.Cache.RefreshBacklog, logger)
	records := licensing.NewRecordCache(licensing.RecordCacheConfig{
		OnlineTTL:  cfg.Cache.OnlineTTL,
		OfflineTTL: cfg.Cache.OfflineTTL,
		MaxEntries: cfg.Cache.MaxEntries,
	}, dir, pool, logger, metrics)

	sessions := licensing.NewSessionCache(cfg.Cache.SessionEntries, cfg.Cache.SessionTTL)
	blacklist := licensing.NewBlacklist(cfg.Cache.SessionEntries,
		licensing.BlacklistTTL(cfg.Token.TTL+cfg.Token.JitterMax, cfg.Cache.BlacklistMaxTTL))

	specs := make([]licensing.ServiceSpec, 0, len(cfg.Services))
	for _, s := range cfg.Services {
		specs = append(specs, licensing.ServiceSpec{ID: s.ID, RequireChecksum: s.RequireChecksum})
	}

	service := licensing.NewService(licensing.ServiceDeps{
		Codec:     codec,
		Verifier:  verifier,
		Tokens:    tokens,
		Sessions:  sessions,
		Blacklist: blacklist,
		Records:   records,
		Repo:      dir,
		Policy:    licensing.NewPolicyValidator(specs),
		Logger:    logger,
		Metrics:   metrics,
	})

	app := &Application{
		Config:    cfg,
		Logger:    logger,
		Service:   service,
		Directory: dir,
		Pool:      pool,
	}
	app.Router = app.buildRouter(registry, sessions, blacklist, records)
	app.Server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      app.Router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}
	return app, nil
}

func (a *Application) buildRouter(registry *prometheus.Registry, sessions *licensing.SessionCache, blacklist *licensing.Blacklist, records *licensing.RecordCache) *chi.Mux {
	r := chi.NewRouter()
	r.Use(custommw.RequestID)
	r.Use(custommw.RequestLogger(a.Logger))
	r.Use(custommw.Recoverer(a.Logger))
	r.Use(chimiddleware.RealIP)
	r.Use(render.SetContentType(render.ContentTypeJSON))

	access := handlers.NewAccessHandler(a.Service, a.Logger, a.Config.Server.RequestTimeout)
	health := handlers.NewHealthHandler(a.Directory, records, sessions, blacklist, Version)

	r.Route("/api/v1/access", func(r chi.Router) {
		if a.Config.RateLimit.Enabled {
			r.Use(custommw.RateLimit(a.Config.RateLimit.RPS, a.Config.RateLimit.Burst))
		}
		r.Mount("/", access.Routes())
	})
	r.Mount("/healthz", health.Routes())
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	return r
}

// Run starts the refresh pool and HTTP server, blocking until shutdown.
func (a *Application) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	a.Pool.Start(ctx)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.Logger.Info("server listening",
			slog.String("addr", a.Server.Addr),
			slog.String("version", Version),
		)
		if err := a.Server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		return a.shutdown()
	})
	return g.Wait()
}

func (a *Application) shutdown() error {
	a.Logger.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), a.Config.Server.ShutdownTimeout)
	defer cancel()

	if err := a.Server.Shutdown(ctx); err != nil {
		a.Logger.Error("server shutdown failed", slog.String("error", err.Error()))
	}
	if err := a.Pool.Stop(a.Config.Server.ShutdownTimeout / 2); err != nil {
		a.Logger.Warn("refresh pool drain incomplete", slog.String("error", err.Error()))
	}
	if err := infrastructure.CloseLogFile(); err != nil {
		return err
	}
	a.Logger.Info("shutdown complete")
	return nil
}

// buildVerifier loads the client public key, generating an ephemeral pair
// in development when none is pinned.
func buildVerifier(cfg *config.Config, logger *slog.Logger) (*crypto.Verifier, error) {
	if cfg.Crypto.ClientPublicKey != "" {
		pub, err := crypto.ParseEd25519PublicKey(cfg.Crypto.ClientPublicKey)
		if err != nil {
			return nil, fmt.Errorf("client public key: %w", err)
		}
		return crypto.NewVerifier(pub), nil
	}
	pub, _, err := crypto.GenerateSigningKeys()
	if err != nil {
		return nil, err
	}
	logger.Warn("no client public key configured, generated ephemeral key; all request signatures will fail until one is pinned")
	return crypto.NewVerifier(pub), nil
}

// buildSigningKey loads the token signing key, generating an ephemeral one
// in development when none is pinned. Ephemeral keys invalidate all
// outstanding tokens on restart.
func buildSigningKey(cfg *config.Config, logger *slog.Logger) (ed25519.PrivateKey, error) {
	if cfg.Token.PrivateKey != "" {
		priv, err := crypto.ParseEd25519PrivateKey(cfg.Token.PrivateKey)
		if err != nil {
			return nil, fmt.Errorf("token private key: %w", err)
		}
		return priv, nil
	}
	_, priv, err := crypto.GenerateSigningKeys()
	if err != nil {
		return nil, err
	}
	logger.Warn("no token signing key configured, generated ephemeral key; outstanding tokens will not survive restarts")
	return priv, nil
}

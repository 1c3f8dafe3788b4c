package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"golang.org/x/sync/errgroup"

	"arcacli/internal/activation"
	"arcacli/internal/admin"
	"arcacli/internal/audit"
	"arcacli/internal/capability"
	"arcacli/internal/config"
	"arcacli/internal/entitlement"
	"arcacli/internal/exporter"
	"arcacli/internal/infrastructure"
	customMiddleware "arcacli/internal/middleware"
	"arcacli/internal/plugin"
	"arcacli/internal/security"
	handlers "arcacli/internal/transport/http"
	"arcacli/pkg/contracts"
)

const AppName = "Arca Gate"

// Application is the composition root. Every service is constructed here
// with its dependencies passed in explicitly; nothing reaches into a
// global registry.
type Application struct {
	Config        *config.Config
	Paths         *config.Paths
	Router        *chi.Mux
	Server        *http.Server
	Logger        *slog.Logger
	OTelProviders *infrastructure.OTelProviders

	Fingerprints *security.FingerprintManager
	Keys         *security.KeySet
	Auditor      *audit.Logger
	Entitlement  *entitlement.Service
	Activation   *activation.Service
	AdminTokens  *admin.TokenService
	AdminGate    *admin.Provider
	BreakGlass   *admin.BreakGlass
	Diagnostics  *admin.DiagnosticsService
	Plugins      *plugin.Loader
}

// NewApplication builds the full service graph from configuration.
func NewApplication() (*Application, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	logger, err := infrastructure.InitializeLogger(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	logger.Info("application starting",
		slog.String("name", AppName),
		slog.String("version", contracts.Version),
		slog.Bool("production", cfg.Production))

	paths, err := config.ResolvePaths(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve paths: %w", err)
	}
	if err := paths.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("failed to ensure directories: %w", err)
	}

	otelProviders, err := infrastructure.InitializeOTel(infrastructure.DefaultOTelConfig(cfg.Production), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize OpenTelemetry: %w", err)
	}

	app := &Application{
		Config:        cfg,
		Paths:         paths,
		Logger:        logger,
		OTelProviders: otelProviders,
	}

	if err := app.initializeServices(); err != nil {
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	app.setupRouter()
	app.createServer()
	return app, nil
}

// initializeServices wires the engine bottom-up: keys, audit, the
// capability engine, then the services layered on top.
func (a *Application) initializeServices() error {
	a.Fingerprints = security.NewFingerprintManager()

	keys, err := security.DeriveKeysFromFingerprint(a.Fingerprints)
	if err != nil {
		return fmt.Errorf("deriving machine keys: %w", err)
	}
	a.Keys = keys

	auditor := audit.NewLogger(a.Paths.AuditLogFile)
	a.Auditor = auditor

	validator, err := capability.NewValidator(keys.SigningKey)
	if err != nil {
		return fmt.Errorf("creating validator: %w", err)
	}
	issuer := capability.NewIssuer(validator)
	store := capability.NewStore(a.Paths.CapabilityStoreFile, keys.EncryptionKey)
	tamper := capability.NewTamperDetector(a.Paths.CapabilityStoreFile, a.Paths.IntegrityFile, keys.SigningKey)

	metrics, err := entitlement.NewMetrics(a.OTelProviders.Meter)
	if err != nil {
		a.Logger.Warn("entitlement metrics unavailable", slog.String("error", err.Error()))
	}

	a.Entitlement = entitlement.NewService(validator, issuer, store, tamper, auditor, entitlement.Options{
		CacheTTL: a.Config.Security.EntitlementCacheTTL,
		Metrics:  metrics,
	})

	codec, err := activation.NewCodec(keys.SigningKey)
	if err != nil {
		return fmt.Errorf("creating activation codec: %w", err)
	}
	ledger := activation.NewLedger(a.Paths.RedeemedLedgerFile)
	a.Activation = activation.NewService(codec, ledger, a.Entitlement, auditor, activation.Config{
		MaxAttempts:   a.Config.Security.MaxRedeemAttempts,
		AttemptWindow: a.Config.Security.AttemptWindow,
		BlockDuration: a.Config.Security.BlockDuration,
	})

	a.AdminTokens = admin.NewTokenService(a.Paths.AdminTokenFile, keys, a.Fingerprints, auditor)
	a.AdminGate = admin.NewProvider(a.AdminTokens, a.Config.Production)
	a.BreakGlass = admin.NewBreakGlass(a.AdminTokens)
	a.Diagnostics = admin.NewDiagnosticsService(a.AdminTokens, a.Fingerprints, a.Entitlement, auditor)

	a.Plugins = plugin.NewLoader(a.Entitlement)
	a.registerFeatures()

	// Grant events reload the feature set so a fresh redemption shows up
	// without restarting the engine.
	a.Entitlement.Subscribe(entitlement.ObserverFunc(func(ctx context.Context, event entitlement.GrantEvent) {
		if err := a.Plugins.Reload(ctx); err != nil {
			a.Logger.ErrorContext(ctx, "feature reload after grant failed",
				slog.String("action", event.Capability.Action),
				slog.String("error", err.Error()),
			)
		}
	}))

	return nil
}

// registerFeatures declares the premium feature factories. Features only
// come into existence when their capability check passes at load time.
func (a *Application) registerFeatures() {
	if err := a.Plugins.Register("csv-export", "export.csv", "", func(ctx context.Context) (plugin.Feature, error) {
		return exporter.NewCSVExporter(a.Paths.DataDir, a.Entitlement, a.Auditor), nil
	}); err != nil {
		a.Logger.Error("feature registration failed", slog.String("feature", "csv-export"), slog.String("error", err.Error()))
	}
}

// setupRouter configures the HTTP router. Ordering: RequestID → RealIP →
// LocalOnly → Logger → Recoverer → SecurityHeaders → RateLimiter.
func (a *Application) setupRouter() {
	r := chi.NewRouter()

	r.Use(customMiddleware.RequestID)
	r.Use(customMiddleware.RealIP)
	r.Use(customMiddleware.LocalOnly(a.Logger))

	r.Group(func(r chi.Router) {
		r.Use(customMiddleware.StructuredLogger(a.Logger))
		r.Use(customMiddleware.Recoverer(a.Logger))
		r.Use(customMiddleware.SecurityHeaders)

		if a.Config.Security.RateLimit.Enabled {
			r.Use(customMiddleware.NewRateLimiter(
				a.Config.Security.RateLimit.RPS,
				a.Config.Security.RateLimit.Burst,
				a.Logger,
			).Handler)
		}

		a.setupAPIRoutes(r)
	})

	if a.OTelProviders.PrometheusHTTP != nil {
		r.Handle("/metrics", a.OTelProviders.PrometheusHTTP)
	}

	a.Router = r
}

// setupAPIRoutes mounts the handler routers under /api.
func (a *Application) setupAPIRoutes(r chi.Router) {
	requestValidator := customMiddleware.NewRequestValidator(a.Logger)

	entitlementHandler := handlers.NewEntitlementHandler(a.Entitlement, requestValidator, a.Logger)
	activationHandler := handlers.NewActivationHandler(a.Activation, requestValidator, a.Logger)
	adminHandler := handlers.NewAdminHandler(a.AdminTokens, a.AdminGate, a.BreakGlass, a.Diagnostics, requestValidator, a.Logger)
	auditHandler := handlers.NewAuditHandler(a.Auditor, requestValidator, a.Logger)
	healthHandler := handlers.NewHealthHandler(a.Entitlement, a.Logger)

	r.Route("/api", func(r chi.Router) {
		r.Use(render.SetContentType(render.ContentTypeJSON))
		r.Use(customMiddleware.Timeout(a.Config.Server.ReadTimeout, a.Logger))

		r.Mount("/health", healthHandler.Routes())
		r.Mount("/entitlement", entitlementHandler.Routes())
		r.Mount("/activation", activationHandler.Routes())
		r.Mount("/admin", adminHandler.Routes())

		r.Route("/admin/gated", func(r chi.Router) {
			r.Use(adminHandler.RequireAdmin)
			r.Mount("/", adminHandler.GatedRoutes())
			r.Mount("/activation", activationHandler.AdminRoutes())
			r.Mount("/audit", auditHandler.Routes())
		})
	})
}

// createServer binds the HTTP server to the loopback interface only.
func (a *Application) createServer() {
	a.Server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", a.Config.Server.Host, a.Config.Server.Port),
		Handler:      a.Router,
		ReadTimeout:  a.Config.Server.ReadTimeout,
		WriteTimeout: a.Config.Server.WriteTimeout,
		IdleTimeout:  a.Config.Server.IdleTimeout,
	}
}

// Start prepares the engine for serving: the development override is
// materialized first, then entitled features load.
func (a *Application) Start(ctx context.Context) error {
	a.Logger.InfoContext(ctx, "starting engine",
		slog.Int("port", a.Config.Server.Port),
		slog.String("data_dir", a.Paths.DataDir))

	a.AdminGate.TryInjectAdminCapabilities(ctx)

	if err := a.Plugins.Load(ctx); err != nil {
		a.Logger.ErrorContext(ctx, "feature load failed", slog.String("error", err.Error()))
	}

	a.Logger.InfoContext(ctx, "engine started",
		slog.String("address", fmt.Sprintf("http://%s", a.Server.Addr)),
		slog.Int("features", len(a.Plugins.Loaded())))
	return nil
}

// Stop shuts the engine down gracefully.
func (a *Application) Stop(ctx context.Context) error {
	a.Logger.InfoContext(ctx, "shutting down engine")

	shutdownCtx, cancel := context.WithTimeout(ctx, a.Config.Server.ShutdownTimeout)
	defer cancel()

	if err := a.Server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown error: %w", err)
	}

	if a.OTelProviders != nil {
		if err := a.OTelProviders.Shutdown(shutdownCtx); err != nil {
			a.Logger.ErrorContext(ctx, "error shutting down OpenTelemetry", slog.String("error", err.Error()))
		}
	}

	infrastructure.CloseLogFile()
	a.Logger.InfoContext(ctx, "engine shutdown complete")
	return nil
}

// Run runs the application until interrupted. The server and the
// shutdown watcher run in one errgroup; either a listener failure or a
// signal winds the whole engine down.
func (a *Application) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := a.Start(ctx); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := a.Server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		a.Logger.Info("shutdown requested")
		stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return a.Stop(stopCtx)
	})

	return g.Wait()
}

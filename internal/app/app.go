package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/wisbric/tollgate/internal/audit"
	"github.com/wisbric/tollgate/internal/config"
	"github.com/wisbric/tollgate/internal/gatewayapi"
	"github.com/wisbric/tollgate/internal/httpserver"
	"github.com/wisbric/tollgate/internal/notify"
	"github.com/wisbric/tollgate/internal/platform"
	"github.com/wisbric/tollgate/internal/seed"
	"github.com/wisbric/tollgate/internal/telemetry"
	"github.com/wisbric/tollgate/pkg/configstore"
	"github.com/wisbric/tollgate/pkg/issuer"
	"github.com/wisbric/tollgate/pkg/jwkscache"
	"github.com/wisbric/tollgate/pkg/keys"
	"github.com/wisbric/tollgate/pkg/pipeline"
	"github.com/wisbric/tollgate/pkg/pkce"
	"github.com/wisbric/tollgate/pkg/revocation"
	"github.com/wisbric/tollgate/pkg/validator"
)

// Run is the main application entry point. It reads config, connects to
// infrastructure, and starts the appropriate mode (api, worker, or
// seed-keys).
func Run(ctx context.Context, cfg *config.Config) error {
	logger := telemetry.NewLogger(cfg.LogFormat, cfg.LogLevel)
	slog.SetDefault(logger)

	logger.Info("starting tollgate",
		"mode", cfg.Mode,
		"listen", cfg.ListenAddr(),
	)

	db, err := platform.NewPostgresPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer db.Close()

	rdb, err := platform.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("connecting to redis: %w", err)
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			logger.Error("closing redis", "error", err)
		}
	}()

	if err := platform.RunMigrations(cfg.DatabaseURL, cfg.MigrationsDir); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	logger.Info("migrations applied")

	metricsReg := telemetry.NewMetricsRegistry(telemetry.All()...)

	components, err := buildComponents(cfg, db, rdb, logger)
	if err != nil {
		return fmt.Errorf("building components: %w", err)
	}

	switch cfg.Mode {
	case "api":
		return runAPI(ctx, cfg, logger, db, rdb, metricsReg, components)
	case "worker":
		return runWorker(ctx, cfg, logger, components)
	case "seed-keys":
		return seed.Run(ctx, components.lifecycle, components.keyStore, components.configStore, logger)
	default:
		return fmt.Errorf("unknown mode: %s", cfg.Mode)
	}
}

// components holds every core collaborator, wired once from cfg and
// shared between API and worker mode (both run against the same storage).
type components struct {
	keyStore    keys.Store
	publisher   *keys.Publisher
	lifecycle   *keys.LifecycleManager
	jwksCache   *jwkscache.Cache
	validator   *validator.Validator
	configStore *configstore.Store
	issuer      *issuer.Issuer
	revStore    *revocation.Store
	revFront    *revocation.BloomFront
	revBus      *revocation.Bus
	revEngine   *revocation.Engine
	pkceStore   *pkce.Store
	pipeline    *pipeline.Pipeline

	providerCfg validator.ProviderConfig
	issuerCfg   issuer.Config
}

func buildComponents(cfg *config.Config, db *pgxpool.Pool, rdb *redis.Client, logger *slog.Logger) (*components, error) {
	// Key lifecycle: store, rotation manager, JWKS publisher.
	keyStore := keys.NewPostgresStore(db)
	publisher := keys.NewPublisher(keyStore)

	var alertNotifier keys.AlertNotifier = keys.NoopNotifier{}
	slackNotifier := notify.NewSlackNotifier(cfg.SlackBotToken, cfg.SlackAlertChannel, logger)
	if slackNotifier.IsEnabled() {
		alertNotifier = slackNotifier
		logger.Info("slack key-rotation alerts enabled", "channel", cfg.SlackAlertChannel)
	} else {
		logger.Info("slack key-rotation alerts disabled (SLACK_BOT_TOKEN not set)")
	}

	lifecyclePolicy := keys.Policy{
		RotationInterval: cfg.KeyRotationInterval,
		PendingGrace:     cfg.KeyRotationGrace,
		Retention:        cfg.KeyRetention,
		ArchiveTTL:       cfg.KeyArchiveTTL,
		MaxAttempts:      cfg.KeyMaxRotationAttempts,
	}
	lifecycle := keys.NewLifecycleManager(keyStore, lifecyclePolicy, logger, alertNotifier)

	// Inbound validation against the external IdP.
	jwksCache := jwkscache.New(nil, cfg.JwksStaleWhileError)
	tokenValidator := validator.New(jwksCache)
	providerCfg := validator.ProviderConfig{
		Issuer:    cfg.ProviderIssuer,
		Audiences: cfg.ProviderAudiences,
		JwksURI:   cfg.ProviderJwksURI,
	}

	// Tiered translation config store. Primary-store providers are
	// registered explicitly here and selected by name; no ambient discovery.
	l1 := configstore.NewL1(cfg.TranslationL1TTL, cfg.TranslationL1MaxSize)
	var l2 *configstore.L2
	if cfg.TranslationL2Enabled {
		l2 = configstore.NewL2(rdb)
	} else {
		l2 = configstore.NewL2(nil)
	}
	providers := []configstore.Provider{
		{Name: "database", Priority: 10, Primary: configstore.NewL3(db)},
	}
	if cfg.TranslationConfigFile != "" {
		providers = append(providers, configstore.Provider{
			Name:     "file",
			Priority: 5,
			Primary:  configstore.NewFilePrimary(cfg.TranslationConfigFile),
		})
	}
	selected, err := configstore.SelectProvider(cfg.TranslationConfigSource, providers)
	if err != nil {
		return nil, err
	}
	configStore := configstore.New(l1, l2, selected.Primary, logger)

	// Downstream issuance.
	iss := issuer.New(keyStore)
	issuerCfg := issuer.Config{
		Issuer:          cfg.Issuer,
		TokenTTL:        cfg.TokenTTL,
		ForwardedClaims: cfg.ForwardedClaims,
		Audience:        cfg.TokenAudience,
		KeyIDFallback:   cfg.KeyIDFallback,
	}

	// Revocation engine: store, Bloom front, bus.
	revStore := revocation.NewStore(rdb)
	revFront := revocation.New(cfg.BloomCapacity, cfg.BloomFalsePositiveRate, revStore)
	revBus := revocation.NewBus(rdb, cfg.RevocationBusChannel, logger)
	revEngine := revocation.NewEngine(revStore, revFront, revBus, revocation.Config{
		Enabled:             cfg.RevocationEnabled,
		CheckUserRevocation: cfg.RevocationCheckUserLevel,
		QueryTimeout:        cfg.RevocationQueryTimeout,
	}, logger)

	// PKCE challenge store.
	pkceStore := pkce.New(rdb)

	// Per-request orchestrator.
	gatewayPipeline := pipeline.New(
		tokenValidator,
		revEngine,
		configStore,
		iss,
		providerCfg,
		issuerCfg,
		cfg.DegradedModeOpen,
		logger,
	)

	return &components{
		keyStore:    keyStore,
		publisher:   publisher,
		lifecycle:   lifecycle,
		jwksCache:   jwksCache,
		validator:   tokenValidator,
		configStore: configStore,
		issuer:      iss,
		revStore:    revStore,
		revFront:    revFront,
		revBus:      revBus,
		revEngine:   revEngine,
		pkceStore:   pkceStore,
		pipeline:    gatewayPipeline,
		providerCfg: providerCfg,
		issuerCfg:   issuerCfg,
	}, nil
}

func runAPI(ctx context.Context, cfg *config.Config, logger *slog.Logger, db *pgxpool.Pool, rdb *redis.Client, metricsReg *prometheus.Registry, c *components) error {
	auditWriter := audit.NewWriter(db, logger)
	auditWriter.Start(ctx)
	defer auditWriter.Close()

	if cfg.RevocationEnabled {
		// Initial Bloom rebuild before serving traffic, so the first requests
		// after a restart aren't decided against an empty filter.
		if err := c.revEngine.RebuildFront(ctx, "startup"); err != nil {
			logger.Error("initial bloom rebuild failed, continuing with an empty filter", "error", err)
		}
		go c.revEngine.RunPeriodicRebuild(ctx, cfg.RevocationRebuildInterval)
		go c.revEngine.Subscribe(ctx)
	}

	if cfg.KeyRotationEnabled {
		go c.lifecycle.Run(ctx)
	}
	if cfg.ProviderJwksURI != "" {
		go c.jwksCache.RunPeriodicRefresh(ctx, cfg.JwksRefreshInterval, cfg.ProviderJwksURI)
	}

	srv := httpserver.NewServer(cfg, logger, db, rdb, metricsReg)

	jwksHandler := gatewayapi.NewJWKSHandler(c.publisher, cfg.JwksPublicTTL, logger)
	srv.Router.Get("/auth/.well-known/jwks.json", jwksHandler.HandleJWKS)

	exchangeHandler := gatewayapi.NewExchangeHandler(c.pipeline, auditWriter, c.pkceStore, cfg.PkceRequired, logger)
	srv.Router.Post("/auth/token", exchangeHandler.HandleExchange)

	pkceHandler := gatewayapi.NewPkceHandler(c.pkceStore, cfg.PkceChallengeTTL)
	srv.Router.Mount("/auth/pkce", pkceHandler.Routes())

	revocationHandler := gatewayapi.NewRevocationHandler(c.revEngine, auditWriter)
	srv.APIRouter.Mount("/revocations", revocationHandler.Routes())

	configHandler := gatewayapi.NewConfigHandler(c.configStore)
	srv.APIRouter.Mount("/config", configHandler.Routes())

	keysHandler := gatewayapi.NewKeysHandler(c.keyStore)
	srv.APIRouter.Mount("/keys", keysHandler.Routes())

	auditHandler := gatewayapi.NewAuditHandler(auditWriter)
	srv.APIRouter.Mount("/audit", auditHandler.Routes())

	httpSrv := &http.Server{
		Addr:         cfg.ListenAddr(),
		Handler:      srv,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("api server listening", "addr", cfg.ListenAddr())
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down api server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// runWorker runs the background-only processes (key lifecycle ticks, Bloom
// rebuilds, bus subscription) without serving HTTP traffic — for deployments
// that split the API surface from the rotation/rebuild loops.
func runWorker(ctx context.Context, cfg *config.Config, logger *slog.Logger, c *components) error {
	logger.Info("worker started")

	if cfg.RevocationEnabled {
		if err := c.revEngine.RebuildFront(ctx, "startup"); err != nil {
			logger.Error("initial bloom rebuild failed, continuing with an empty filter", "error", err)
		}
		go c.revEngine.RunPeriodicRebuild(ctx, cfg.RevocationRebuildInterval)
		go c.revEngine.Subscribe(ctx)
	}

	c.lifecycle.Run(ctx)
	return ctx.Err()
}

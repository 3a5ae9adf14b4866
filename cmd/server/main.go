package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/benvon/portal-identity/internal/config"
	"github.com/benvon/portal-identity/internal/database"
	"github.com/benvon/portal-identity/internal/handlers"
	"github.com/benvon/portal-identity/internal/logger"
	"github.com/benvon/portal-identity/internal/metrics"
	"github.com/benvon/portal-identity/internal/middleware"
	"github.com/benvon/portal-identity/internal/models"
	"github.com/benvon/portal-identity/internal/queue"
	"github.com/benvon/portal-identity/internal/revocation"
	"github.com/benvon/portal-identity/internal/services/account"
	"github.com/benvon/portal-identity/internal/services/bearer"
	"github.com/benvon/portal-identity/internal/services/identity"
	"github.com/benvon/portal-identity/internal/services/oidc"
	"github.com/benvon/portal-identity/internal/settings"
	"github.com/benvon/portal-identity/internal/state"
	"github.com/benvon/portal-identity/internal/telemetry"
	"github.com/benvon/portal-identity/internal/token"
	"github.com/gorilla/mux"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gorilla/mux/otelmux"
	"go.uber.org/zap"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

const (
	serviceName = "portal-identity"

	discoveryCacheTTL   = time.Hour
	jwksCacheTTL        = time.Hour
	keySetCacheTTL      = 5 * time.Minute
	settingsReload      = time.Minute
	nonceSweepInterval  = time.Minute
	dlqCollectInterval  = time.Hour
	dlqRetention        = 24 * time.Hour
	shutdownGracePeriod = 30 * time.Second
)

func main() {
	debugFlag := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	debugMode := cfg.ServerDebugMode || *debugFlag

	zapLogger, err := logger.New(logger.Options{Service: serviceName, Debug: debugMode, Format: cfg.LogFormat})
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer func() { _ = logger.Sync(zapLogger) }()

	zapLogger.Info("starting_server",
		zap.Bool("debug_mode", debugMode),
		zap.String("server_port", cfg.ServerPort),
		zap.String("frontend_url", cfg.FrontendURL),
		zap.String("default_portal_id", cfg.DefaultPortalID),
		zap.String("revocation_backend", cfg.RevocationBackend),
		zap.Bool("otel_enabled", cfg.OTELEnabled),
	)

	tracingEnabled := false
	if cfg.OTELEnabled {
		if cfg.OTELEndpoint == "" {
			zapLogger.Warn("otel_enabled_but_endpoint_not_configured")
		} else if tp, err := telemetry.InitTracer(context.Background(), telemetry.Options{
			ServiceName: serviceName,
			Version:     version,
			Endpoint:    cfg.OTELEndpoint,
			Insecure:    cfg.OTELInsecure,
			SampleRatio: cfg.OTELSampleRatio,
		}); err != nil {
			zapLogger.Warn("failed_to_initialize_otel_tracer", zap.Error(err))
		} else {
			tracingEnabled = true
			zapLogger.Info("otel_tracer_initialized", zap.String("endpoint", cfg.OTELEndpoint))
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := telemetry.Shutdown(shutdownCtx, tp); err != nil {
					zapLogger.Error("failed_to_shutdown_otel_tracer", zap.Error(err))
				}
			}()
		}
	}

	db, err := database.New(cfg.DatabaseURL)
	if err != nil {
		zapLogger.Fatal("failed_to_connect_to_database", zap.Error(err))
	}
	defer func() {
		if err := db.Close(); err != nil {
			zapLogger.Warn("failed_to_close_database_connection", zap.Error(err))
		}
	}()
	if err := database.Migrate(db, zapLogger); err != nil {
		zapLogger.Fatal("failed_to_run_migrations", zap.Error(err))
	}
	zapLogger.Info("connected_to_database")

	var redisClient *redis.Client
	if cfg.UsesRedis() {
		redisClient, err = connectRedis(cfg.RedisURL)
		if err != nil {
			zapLogger.Fatal("failed_to_connect_to_redis", zap.Error(err))
		}
		defer func() {
			if err := redisClient.Close(); err != nil {
				zapLogger.Warn("failed_to_close_redis_connection", zap.Error(err))
			}
		}()
		zapLogger.Info("connected_to_redis")
	}

	var (
		revoked revocation.Store
		nonces  state.NonceStore
	)
	if redisClient != nil {
		revoked = revocation.NewRedisStore(redisClient, "")
		nonces = state.NewRedisNonceStore(redisClient)
	} else {
		revoked = revocation.NewMemoryStore(nil)
		nonces = state.NewMemoryNonceStore(cfg.StateTTL, nonceSweepInterval)
	}

	var (
		publisher  queue.Publisher = queue.NewNopPublisher(zapLogger)
		eventQueue *queue.RabbitMQQueue
	)
	if cfg.RabbitMQURL != "" {
		eventQueue, err = connectQueue(cfg.RabbitMQURL, zapLogger)
		if err != nil {
			zapLogger.Fatal("failed_to_connect_to_rabbitmq_after_retries", zap.Error(err))
		}
		publisher = eventQueue
	}
	defer func() {
		if err := publisher.Close(); err != nil {
			zapLogger.Warn("failed_to_close_event_publisher", zap.Error(err))
		}
	}()

	backgroundCtx, backgroundCancel := context.WithCancel(context.Background())
	defer backgroundCancel()

	// Portal settings come from a YAML file when configured, otherwise from
	// the portals table.
	var source settings.Source
	if cfg.PortalSettingsFile != "" {
		fileSource, err := settings.NewFileSource(cfg.PortalSettingsFile, zapLogger)
		if err != nil {
			zapLogger.Fatal("failed_to_load_portal_settings_file", zap.Error(err))
		}
		go fileSource.Start(backgroundCtx, settingsReload)
		source = fileSource
		zapLogger.Info("portal_settings_from_file", zap.String("path", cfg.PortalSettingsFile))
	} else {
		source = settings.NewDatabaseSource(database.NewPortalRepository(db))
	}
	portals := settings.NewCached(source, cfg.SettingsCacheTTL)

	tokens, err := token.NewCodec(cfg.JWTSecret, cfg.JWTExpiration, token.WithIssuer(cfg.BaseURL))
	if err != nil {
		zapLogger.Fatal("failed_to_create_token_codec", zap.Error(err))
	}
	states, err := state.NewCodec([]byte(cfg.JWTSecret), cfg.StateTTL, nil)
	if err != nil {
		zapLogger.Fatal("failed_to_create_state_codec", zap.Error(err))
	}

	identities := identity.NewService(database.NewIdentityRepository(db), portals, zapLogger,
		identity.WithEventPublisher(publisher))
	accounts := account.NewService(
		database.NewDeveloperRepository(db),
		database.NewAdministratorRepository(db),
		portals, tokens, revoked, zapLogger,
	)

	retry := oidc.RetryPolicy{MaxAttempts: cfg.OIDCMaxAttempts, Backoff: cfg.OIDCRetryBackoff}
	httpClient := oidc.NewHTTPClient(cfg.OIDCHTTPTimeout)
	provider := oidc.NewProvider(portals, httpClient, retry, discoveryCacheTTL, zapLogger)
	jwks := oidc.NewJWKSManager(httpClient, retry, jwksCacheTTL, zapLogger)
	flow := oidc.NewFlow(oidc.FlowDeps{
		Provider:   provider,
		Verifier:   oidc.NewVerifier(jwks, nil),
		States:     states,
		Nonces:     nonces,
		Accounts:   identities,
		Tokens:     tokens,
		HTTPClient: httpClient,
		Retry:      retry,
		Log:        zapLogger,
	})
	bearerAuth := bearer.NewAuthenticator(portals, identities, tokens, zapLogger,
		bearer.WithKeySetCache(bearer.NewKeySetCache(keySetCacheTTL)))

	appMetrics := metrics.New()
	authn := middleware.NewAuthenticator(tokens, revoked, zapLogger)

	rateLimitStore, err := middleware.NewRateLimitStore(redisClient)
	if err != nil {
		zapLogger.Fatal("failed_to_create_rate_limit_store", zap.Error(err))
	}
	rateLimitMW, err := middleware.RateLimit(rateLimitStore, cfg.RateLimit, zapLogger)
	if err != nil {
		zapLogger.Fatal("invalid_rate_limit", zap.String("rate", cfg.RateLimit), zap.Error(err))
	}

	openAPIHandler, err := handlers.NewOpenAPIHandler()
	if err != nil {
		zapLogger.Fatal("failed_to_load_openapi_document", zap.Error(err))
	}
	healthDeps := map[string]handlers.Pinger{"database": db}
	if redisClient != nil {
		healthDeps["redis"] = handlers.PingFunc(func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		})
	}
	if eventQueue != nil {
		healthDeps["rabbitmq"] = eventQueue
	}
	healthChecker := handlers.NewHealthChecker(healthDeps)

	oidcHandler := handlers.NewOIDCHandler(flow, cfg.FrontendURL, cfg.CookieSecure, appMetrics, zapLogger)
	tokenHandler := handlers.NewTokenHandler(bearerAuth, appMetrics, zapLogger)
	developerHandler := handlers.NewDeveloperHandler(accounts, identities, cfg.CookieSecure, appMetrics, zapLogger)
	adminHandler := handlers.NewAdminHandler(accounts, identities, appMetrics, zapLogger)

	// A callback may exhaust the retries of every provider call it makes,
	// and must still end in a redirect rather than a timeout body.
	routeDeadlines := middleware.RouteDeadlines{
		handlers.OIDCCallbackRoute: oidc.CallbackTimeout(retry, cfg.OIDCHTTPTimeout),
	}

	r := mux.NewRouter()

	// In gorilla/mux the first middleware registered is the outermost.
	// Portal runs before Logging and Audit so both can report the tenant.
	r.Use(middleware.Portal(cfg.DefaultPortalID, portals, zapLogger))
	r.Use(appMetrics.Middleware)
	if tracingEnabled {
		r.Use(otelmux.Middleware(serviceName))
		zapLogger.Info("otel_middleware_enabled")
	}
	r.Use(middleware.SecurityHeaders(cfg.EnableHSTS))
	r.Use(middleware.CORS(cfg.FrontendURL, zapLogger))
	r.Use(middleware.MaxRequestSize(middleware.DefaultMaxRequestSize))
	r.Use(middleware.ContentType)
	r.Use(middleware.Timeout(middleware.DefaultRequestTimeout, routeDeadlines))
	r.Use(middleware.ErrorHandler(zapLogger))
	r.Use(middleware.Audit(zapLogger))
	r.Use(middleware.Logging(zapLogger))

	r.HandleFunc("/healthz", healthChecker.HealthCheck).Methods(http.MethodGet)
	r.Handle("/metrics", appMetrics.Handler()).Methods(http.MethodGet)
	openAPIHandler.RegisterRoutes(r)

	apiRouter := r.PathPrefix("/api/v1").Subrouter()

	// Anonymous auth endpoints are rate limited per portal and client.
	publicRouter := apiRouter.NewRoute().Subrouter()
	publicRouter.Use(rateLimitMW)
	oidcHandler.RegisterRoutes(publicRouter, authn.Optional)
	tokenHandler.RegisterRoutes(publicRouter)
	developerHandler.RegisterPublicRoutes(publicRouter)
	adminHandler.RegisterPublicRoutes(publicRouter)

	developerRouter := apiRouter.NewRoute().Subrouter()
	developerRouter.Use(authn.Required)
	developerRouter.Use(middleware.RequirePrincipal(models.PrincipalDeveloper, zapLogger))
	developerRouter.Use(rateLimitMW)
	developerHandler.RegisterRoutes(developerRouter)

	adminRouter := apiRouter.NewRoute().Subrouter()
	adminRouter.Use(authn.Required)
	adminRouter.Use(middleware.RequirePrincipal(models.PrincipalAdministrator, zapLogger))
	adminRouter.Use(rateLimitMW)
	adminHandler.RegisterRoutes(adminRouter)

	// Preflight requests are answered by the CORS middleware before routing
	// reaches this handler.
	r.Methods(http.MethodOptions).HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	srv := &http.Server{
		Addr:           ":" + cfg.ServerPort,
		Handler:        r,
		ReadTimeout:    15 * time.Second,
		WriteTimeout:   middleware.LongestTimeout(middleware.DefaultRequestTimeout, routeDeadlines) + 5*time.Second,
		IdleTimeout:    60 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}

	if eventQueue != nil {
		dlqGC := queue.NewGarbageCollector(eventQueue, dlqCollectInterval, dlqRetention, zapLogger,
			queue.WithPurgeHook(appMetrics.DLQPurged))
		go func() {
			if err := dlqGC.Start(backgroundCtx); err != nil && !errors.Is(err, context.Canceled) {
				zapLogger.Error("dlq_garbage_collector_stopped_with_error", zap.Error(err))
			}
		}()
		zapLogger.Info("started_dlq_garbage_collector",
			zap.Duration("interval", dlqCollectInterval),
			zap.Duration("retention", dlqRetention),
		)
	}

	go func() {
		zapLogger.Info("server_starting", zap.String("port", cfg.ServerPort))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zapLogger.Fatal("server_failed_to_start", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	zapLogger.Info("server_shutting_down")
	backgroundCancel()

	ctx, cancel := context.WithTimeout(context.Background(), shutdownGracePeriod)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		zapLogger.Error("server_forced_to_shutdown", zap.Error(err))
	}

	zapLogger.Info("server_exited")
}

func connectRedis(redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}
	client := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	return client, nil
}

// connectQueue retries with exponential backoff so the server tolerates
// RabbitMQ starting after it.
func connectQueue(amqpURL string, zapLogger *zap.Logger) (*queue.RabbitMQQueue, error) {
	const (
		maxRetries   = 10
		initialDelay = 2 * time.Second
		maxDelay     = 30 * time.Second
	)

	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		q, err := queue.NewRabbitMQQueue(amqpURL, zapLogger)
		if err == nil {
			zapLogger.Info("connected_to_rabbitmq")
			return q, nil
		}
		lastErr = err

		delay := initialDelay * time.Duration(1<<uint(attempt))
		if delay > maxDelay {
			delay = maxDelay
		}
		zapLogger.Warn("failed_to_connect_to_rabbitmq_retrying",
			zap.Int("attempt", attempt+1),
			zap.Int("max_retries", maxRetries),
			zap.Error(err),
			zap.Duration("retry_delay", delay),
		)
		time.Sleep(delay)
	}
	return nil, fmt.Errorf("gave up after %d attempts: %w", maxRetries, lastErr)
}

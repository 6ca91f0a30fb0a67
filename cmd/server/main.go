package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"

	"github.com/eternisai/saimilar/internal/analyzer"
	"github.com/eternisai/saimilar/internal/auth"
	"github.com/eternisai/saimilar/internal/config"
	"github.com/eternisai/saimilar/internal/harness"
	"github.com/eternisai/saimilar/internal/llm"
	"github.com/eternisai/saimilar/internal/logger"
	"github.com/eternisai/saimilar/internal/media"
	"github.com/eternisai/saimilar/internal/orchestrator"
	"github.com/eternisai/saimilar/internal/overlay"
	"github.com/eternisai/saimilar/internal/proxy"
	"github.com/eternisai/saimilar/internal/settings"
	"github.com/eternisai/saimilar/internal/storage/kv"
	"github.com/eternisai/saimilar/internal/storage/pg"
	"github.com/eternisai/saimilar/internal/summary"
	"github.com/eternisai/saimilar/internal/usage"
)

func fatal(log *logger.Logger, msg string, err error) {
	log.Error(msg, slog.String("error", err.Error()))
	os.Exit(1)
}

func main() {
	config.LoadConfig()
	cfg := config.AppConfig

	log := logger.New(logger.FromConfig(cfg.LogLevel, cfg.LogFormat))
	slog.SetDefault(log.Logger)

	log.Info("Setting Gin mode", slog.String("mode", cfg.GinMode))
	gin.SetMode(cfg.GinMode)

	ctx := context.Background()

	tokenValidator, err := NewTokenValidator(ctx, cfg, log)
	if err != nil {
		fatal(log, "Failed to initialize token validator", err)
	}
	authMiddleware := auth.NewMiddleware(tokenValidator)

	// Firestore backs profiles, the user lists and the shared summary cache.
	// Without a project everything is kept in memory.
	var firebaseClient *auth.FirebaseClient
	var profiles auth.ProfileStore = auth.NewMemoryProfileStore()
	var overlays overlay.Store = overlay.NewMemoryStore()
	var globalSummaries summary.GlobalCache
	if cfg.FirebaseProjectID != "" {
		firebaseClient, err = auth.NewFirebaseClient(ctx, cfg.FirebaseProjectID, cfg.FirestoreDatabase, cfg.FirebaseCredJSON)
		if err != nil {
			fatal(log, "Failed to initialize Firestore", err)
		}
		fs := firebaseClient.Firestore()
		profiles = auth.NewFirestoreProfileStore(fs)
		overlays = overlay.NewFirestoreStore(fs)
		if cache := summary.NewFirestoreCache(fs); cache != nil {
			globalSummaries = cache
		}
	}

	var db *pg.Database
	var queries pg.Querier
	if cfg.DatabaseURL != "" {
		db, err = pg.InitDatabase(cfg.DatabaseURL)
		if err != nil {
			fatal(log, "Failed to initialize database", err)
		}
		queries = db.Queries
	}

	var nc *nats.Conn
	var publisher usage.Publisher
	if cfg.NatsURL != "" {
		nc, err = nats.Connect(cfg.NatsURL, nats.Name("saimilar-"+logger.GetInstanceID()))
		if err != nil {
			fatal(log, "Failed to connect to NATS", err)
		}
		publisher = nc
		log.Info("connected to NATS", slog.String("url", nc.ConnectedUrl()))
	}

	store, err := kv.Open(cfg.BadgerDir, log)
	if err != nil {
		fatal(log, "Failed to open key-value store", err)
	}
	if err := store.StartGC(cfg.BadgerGCSchedule); err != nil {
		fatal(log, "Failed to schedule value log GC", err)
	}
	settingsStore := settings.NewStore(store)

	// LLM stack
	catalog, err := llm.NewCatalog(cfg.Catalog, log)
	if err != nil {
		fatal(log, "Failed to build model catalog", err)
	}
	providers, err := llm.NewRegistry(ctx, cfg.Catalog, log)
	if err != nil {
		fatal(log, "Failed to initialize LLM providers", err)
	}
	usageLog := llm.NewUsageLog(cfg.UsageLogMaxEntries)
	ledger := usage.NewLedger(queries, publisher, usage.Config{
		Workers:    cfg.UsageTrackingWorkerPoolSize,
		BufferSize: cfg.UsageTrackingBufferSize,
		Timeout:    time.Duration(cfg.UsageTrackingTimeoutSeconds) * time.Second,
	}, log)
	adapter := llm.NewAdapter(catalog, providers, usageLog, log, ledger)

	// TMDB
	tmdbClient := media.NewClient(media.Config{
		BaseURL:           cfg.TMDBBaseURL,
		APIKey:            cfg.TMDBAPIKey,
		RequestsPerSecond: cfg.TMDBRequestsPerSecond,
		Timeout:           cfg.TMDBTimeout,
	}, log)
	lookup := media.NewLookup(tmdbClient, log)

	intentAnalyzer := analyzer.New(adapter, catalog.AnalyzerDefault().Key, log)
	runner := harness.NewRunner(intentAnalyzer, func(key string) string {
		if model, ok := catalog.Resolve(key); ok && model.DisplayName != "" {
			return model.DisplayName
		}
		return key
	}, cfg.HarnessDelay, log)

	summaries := summary.NewService(adapter, store, globalSummaries, summary.Config{
		DefaultModel: catalog.AnalyzerDefault().Key,
		TTL:          cfg.SummaryCacheTTL,
	}, log)

	manager := orchestrator.NewManager(orchestrator.Deps{
		Analyzer: intentAnalyzer,
		Media:    lookup,
		Overlays: overlays,
		Settings: settingsStore,
		Harness:  runner,
		Logger:   log,
	}, orchestrator.ManagerConfig{
		IdleTimeout:   cfg.SessionIdleTimeout,
		PurgeSchedule: cfg.SessionPurgeSchedule,
	}, log)
	if err := manager.StartPurge(); err != nil {
		fatal(log, "Failed to schedule session purge", err)
	}
	if teardown := orchestrator.NewDistributedTeardown(nc, log, logger.GetInstanceID()); teardown != nil {
		if err := manager.EnableDistributedTeardown(teardown); err != nil {
			fatal(log, "Failed to start distributed session teardown", err)
		}
	}

	// Handlers
	proxyHandler, err := proxy.NewHandler(adapter, catalog, tmdbClient, proxy.Config{ImageBaseURL: cfg.TMDBImageBaseURL}, log)
	if err != nil {
		fatal(log, "Failed to initialize proxies", err)
	}
	sessionHandler := orchestrator.NewHandler(manager, profiles, log)
	summaryHandler := summary.NewHandler(summaries, settingsStore, log)

	var adminLedger *usage.Ledger
	if queries != nil {
		adminLedger = ledger
	}
	adminHandler := usage.NewAdminHandler(profiles, usageLog, adminLedger, log)

	router := gin.New()
	router.Use(gin.Recovery(), logger.RequestID())

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":      "ok",
			"instance_id": logger.GetInstanceID(),
			"sessions":    manager.Count(),
		})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	optional := router.Group("", authMiddleware.OptionalAuth())
	api := optional.Group("/api/v1")
	proxyHandler.RegisterRoutes(optional, api)
	sessionHandler.RegisterRoutes(api)
	summaryHandler.RegisterRoutes(api)

	adminHandler.RegisterRoutes(router.Group("/api/v1", authMiddleware.RequireAuth()))

	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   splitOrigins(cfg.CORSAllowedOrigins),
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Authorization", "Content-Type", logger.RequestIDHeader},
		ExposedHeaders:   []string{logger.RequestIDHeader},
		AllowCredentials: true,
		MaxAge:           600,
	})

	port := ":" + cfg.Port
	srv := &http.Server{
		Addr:              port,
		Handler:           corsHandler.Handler(router),
		ReadHeaderTimeout: 10 * time.Second,
	}

	log.Info("SAImilar API listening",
		slog.String("addr", port),
		slog.Int("models", len(catalog.Models())),
		slog.Bool("firestore", firebaseClient != nil),
		slog.Bool("postgres", db != nil),
		slog.Bool("nats", nc != nil))

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			fatal(log, "Failed to start server", err)
		}
	}()

	// Graceful shutdown.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.ServerShutdownTimeoutSeconds)*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", slog.String("error", err.Error()))
	}

	manager.Shutdown()
	log.Info("Sessions closed")

	ledger.Shutdown()
	log.Info("Usage ledger shutdown complete")

	if err := store.Close(); err != nil {
		log.Warn("failed to close key-value store", slog.String("error", err.Error()))
	}
	if nc != nil {
		if err := nc.Drain(); err != nil {
			log.Warn("failed to drain NATS connection", slog.String("error", err.Error()))
		}
	}
	if db != nil {
		if err := db.Close(); err != nil {
			log.Warn("failed to close database", slog.String("error", err.Error()))
		}
	}
	if firebaseClient != nil {
		if err := firebaseClient.Close(); err != nil {
			log.Warn("failed to close Firestore", slog.String("error", err.Error()))
		}
	}

	log.Info("Server exited")
}

// NewTokenValidator builds the validator named by VALIDATOR_TYPE.
func NewTokenValidator(ctx context.Context, cfg *config.Config, log *logger.Logger) (auth.TokenValidator, error) {
	switch cfg.ValidatorType {
	case "firebase":
		if cfg.FirebaseProjectID == "" {
			return nil, errors.New("firebase project ID is required")
		}
		log.Info("creating Firebase token validator", slog.String("project_id", cfg.FirebaseProjectID))
		return auth.NewFirebaseTokenValidator(ctx, cfg.FirebaseProjectID, cfg.FirebaseCredJSON)

	case "jwk":
		if cfg.JWTJWKSURL == "" {
			return nil, errors.New("JWT_JWKS_URL is required for the jwk validator")
		}
		log.Info("creating JWK token validator", slog.String("jwks_url", cfg.JWTJWKSURL))
		return auth.NewJWTTokenValidator(ctx, cfg.JWTJWKSURL)

	default:
		return nil, errors.New("validator type must be either 'firebase' or 'jwk'")
	}
}

func splitOrigins(raw string) []string {
	var origins []string
	for _, origin := range strings.Split(raw, ",") {
		if origin = strings.TrimSpace(origin); origin != "" {
			origins = append(origins, origin)
		}
	}
	return origins
}

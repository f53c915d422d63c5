package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	clerk "github.com/clerk/clerk-sdk-go/v2"
	gorilllaHandlers "github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"snapfuseAPI/handlers"
	"snapfuseAPI/internal/cache"
	"snapfuseAPI/internal/config"
	"snapfuseAPI/internal/falai"
	"snapfuseAPI/internal/logger"
	"snapfuseAPI/internal/store"
	"snapfuseAPI/internal/types/job"
	"snapfuseAPI/internal/types/subscription"
	"snapfuseAPI/internal/workers"
	"snapfuseAPI/middleware"
	"snapfuseAPI/services"
)

func connectDB(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}

	poolConfig.MaxConns = cfg.DBMaxConns
	poolConfig.MinConns = 5
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute
	poolConfig.HealthCheckPeriod = time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}

func main() {
	if err := godotenv.Load(); err != nil {
		bootLog := zerolog.New(os.Stderr)
		bootLog.Info().Msg("No .env file found")
	}

	cfg, err := config.Load()
	if err != nil {
		bootLog := zerolog.New(os.Stderr)
		bootLog.Fatal().Err(err).Msg("invalid configuration")
	}

	log := logger.New(cfg.Environment)

	clerk.SetKey(cfg.ClerkSecretKey)
	log.Info().Msg("Clerk initialized successfully")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	dbPool, err := connectDB(ctx, cfg)
	cancel()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer func() {
		log.Info().Msg("Closing database connection pool...")
		dbPool.Close()
	}()
	log.Info().Msg("Successfully connected to PostgreSQL")

	if err := store.Migrate(dbPool); err != nil {
		log.Fatal().Err(err).Msg("failed to run migrations")
	}

	var balanceCache *cache.BalanceCache
	if cfg.RedisURL != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		balanceCache, err = cache.New(ctx, cfg.RedisURL)
		cancel()
		if err != nil {
			log.Warn().Err(err).Msg("Redis unavailable, balance cache disabled")
			balanceCache = nil
		} else {
			defer balanceCache.Close()
			log.Info().Msg("Redis balance cache enabled")
		}
	}

	middleware.InitPrometheus()

	// Services
	catalog := subscription.NewCatalog(subscription.PriceIDs(cfg.StripePrices))
	ledger := services.NewLedger(dbPool, balanceCache, log)
	userService := services.NewUserService(ledger, cfg.SignupCredits, log)
	creditService := services.NewCreditService(ledger, log)
	jobService := services.NewJobService(ledger, log)
	falClient := falai.NewClient(cfg.FalBaseURL, cfg.FalKey, &http.Client{Timeout: 20 * time.Second})
	generationService := services.NewGenerationService(jobService, creditService, falClient, services.GenerationConfig{
		ImageModel:   cfg.FalImageModel,
		VideoModel:   cfg.FalVideoModel,
		AppBaseURL:   cfg.AppBaseURL,
		WebhookToken: cfg.FalWebhookToken,
	}, log)
	billingService := services.NewBillingService(ledger, services.NewStripeClient(cfg.StripeSecretKey),
		services.ClerkDirectory{}, catalog, cfg.FrontendURL, log)

	sweeper := workers.NewStaleJobSweeper(jobService, cfg.JobStaleAfter, log)
	scheduler, err := sweeper.Start(cfg.JobSweepSchedule)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to schedule stale job sweeper")
	}

	// Handlers
	userHandler := handlers.NewUserHandler(userService, log)
	creditsHandler := handlers.NewCreditsHandler(creditService, log)
	generationHandler := handlers.NewGenerationHandler(generationService, jobService, log)
	billingHandler := handlers.NewBillingHandler(billingService, catalog, log)
	webhookHandler := handlers.NewWebhookHandler(userService, billingService, jobService, handlers.WebhookSecrets{
		ClerkSecret:  cfg.ClerkWebhookSecret,
		StripeSecret: cfg.StripeWebhookSecret,
		FalToken:     cfg.FalWebhookToken,
	}, log)

	trustedProxies, err := middleware.ParseTrustedProxies(cfg.TrustedProxies)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid TRUSTED_PROXIES")
	}
	rateLimiter := middleware.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst, trustedProxies)
	cleanupCtx, stopCleanup := context.WithCancel(context.Background())
	defer stopCleanup()
	go rateLimiter.Cleanup(cleanupCtx)

	r := mux.NewRouter()
	r.Use(middleware.RequestLogger(log))
	r.Use(middleware.MonitorMiddleware)

	r.Handle("/metrics", middleware.BasicAuth(cfg.MetricsUser, cfg.MetricsPass)(promhttp.Handler()))

	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		w.Header().Set("Content-Type", "application/json")
		if err := dbPool.Ping(ctx); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"status": "unhealthy", "error": "database connection failed"}`))
			return
		}

		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status": "healthy", "service": "snapfuse-api"}`))
	}).Methods("GET")

	webhooks := r.PathPrefix("/webhooks").Subrouter()
	webhooks.HandleFunc("/clerk", webhookHandler.HandleClerkWebhook).Methods("POST")
	webhooks.HandleFunc("/stripe", webhookHandler.HandleStripeWebhook).Methods("POST")
	webhooks.HandleFunc("/falai", webhookHandler.HandleFalWebhook).Methods("POST")

	api := r.PathPrefix("/api/v1").Subrouter()
	api.Use(rateLimiter.Middleware)
	api.HandleFunc("/billing/plans", billingHandler.GetPlans).Methods("GET")

	// -------------------------------------------------------------------------
	// PROTECTED ROUTES (REQUIRE AUTH HEADER)
	// -------------------------------------------------------------------------
	protected := r.PathPrefix("/api/v1").Subrouter()
	protected.Use(middleware.ClerkAuthMiddleware)
	protected.Use(rateLimiter.Middleware)

	protected.HandleFunc("/user", userHandler.GetProfile).Methods("GET")

	protected.HandleFunc("/credits", creditsHandler.GetCredits).Methods("GET")
	protected.HandleFunc("/credits/check", creditsHandler.CheckCredits).Methods("GET")
	protected.HandleFunc("/credits/history", creditsHandler.GetHistory).Methods("GET")

	protected.HandleFunc("/images", generationHandler.CreateImage).Methods("POST")
	protected.HandleFunc("/images", generationHandler.ListJobs(job.KindImage)).Methods("GET")
	protected.HandleFunc("/images/{requestId}", generationHandler.GetJob(job.KindImage)).Methods("GET")
	protected.HandleFunc("/images/{requestId}", generationHandler.DeleteJob(job.KindImage)).Methods("DELETE")

	protected.HandleFunc("/videos", generationHandler.CreateVideo).Methods("POST")
	protected.HandleFunc("/videos", generationHandler.ListJobs(job.KindVideo)).Methods("GET")
	protected.HandleFunc("/videos/{requestId}", generationHandler.GetJob(job.KindVideo)).Methods("GET")
	protected.HandleFunc("/videos/{requestId}", generationHandler.DeleteJob(job.KindVideo)).Methods("DELETE")

	protected.HandleFunc("/billing/checkout/subscription", billingHandler.CreateSubscriptionCheckout).Methods("POST")
	protected.HandleFunc("/billing/checkout/topup", billingHandler.CreateTopupCheckout).Methods("POST")
	protected.HandleFunc("/billing/portal", billingHandler.CreatePortalSession).Methods("POST")
	protected.HandleFunc("/billing/payments", billingHandler.ListPayments).Methods("GET")

	corsHandler := gorilllaHandlers.CORS(
		gorilllaHandlers.AllowedOrigins([]string{cfg.FrontendURL}),
		gorilllaHandlers.AllowedMethods([]string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}),
		gorilllaHandlers.AllowedHeaders([]string{"Content-Type", "Authorization"}),
		gorilllaHandlers.ExposedHeaders([]string{"Content-Length", "X-Request-Id"}),
		gorilllaHandlers.AllowCredentials(),
	)
	recovery := gorilllaHandlers.RecoveryHandler(gorilllaHandlers.PrintRecoveryStack(cfg.IsDevelopment()))

	server := http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      recovery(corsHandler(r)),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 40 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Info().Str("addr", server.Addr).Msg("Starting server")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Error starting server")
		}
	}()

	// Graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	sig := <-sigChan
	log.Info().Str("signal", sig.String()).Msg("Got signal, shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server shutdown error")
	}

	select {
	case <-scheduler.Stop().Done():
	case <-shutdownCtx.Done():
		log.Warn().Msg("stale job sweep still running at shutdown")
	}

	log.Info().Msg("Server shutdown complete")
}

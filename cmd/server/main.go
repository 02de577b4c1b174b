package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/NolanEssertaize/Know-it-backend/internal/api"
	"github.com/NolanEssertaize/Know-it-backend/internal/config"
	"github.com/NolanEssertaize/Know-it-backend/internal/database"
	"github.com/NolanEssertaize/Know-it-backend/internal/metrics"
	"github.com/NolanEssertaize/Know-it-backend/internal/models"
	"github.com/NolanEssertaize/Know-it-backend/internal/ratelimit"
	"github.com/NolanEssertaize/Know-it-backend/internal/services"
	"github.com/NolanEssertaize/Know-it-backend/pkg/logging"

	"github.com/gin-gonic/gin"
)

func main() {
	// Initialize configuration
	if err := config.InitConfig(); err != nil {
		log.Fatal("Failed to initialize config: ", err)
	}
	cfg := config.AppConfig

	// Initialize logging
	logging.InitLogging(cfg.LogLevel, cfg.LogFormat)

	// Initialize database
	if err := database.InitDatabase(cfg); err != nil {
		log.Fatal("Failed to initialize database: ", err)
	}
	defer database.CloseDatabase()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if sqlDB, err := database.GetDB().DB(); err == nil {
		go metrics.StartDBStatsCollector(ctx, sqlDB, 15*time.Second)
	}

	// Rate limiting, shared through Redis when configured
	rates, err := ratelimit.RatesFromConfig(cfg)
	if err != nil {
		log.Fatal("Failed to parse rate limits: ", err)
	}
	var limiter ratelimit.Limiter
	if redisClient := database.GetRedis(); redisClient != nil {
		limiter = ratelimit.NewRedisLimiter(redisClient, rates)
	} else {
		memoryLimiter := ratelimit.NewMemoryLimiter(rates, time.Minute)
		defer memoryLimiter.Stop()
		limiter = memoryLimiter
	}

	verifier := services.NewReceiptVerifier(
		map[models.StorePlatform]services.ProductCatalog{
			models.PlatformApple:  services.NewProductCatalog(cfg.StudentAppleProductID, cfg.UnlimitedAppleProductID),
			models.PlatformGoogle: services.NewProductCatalog(cfg.StudentGoogleProductID, cfg.UnlimitedGoogleProductID),
		},
		storeClients(ctx, cfg),
	)

	subscriptions := services.NewSubscriptionService(
		database.NewSubscriptionRepository(database.GetDB()),
		verifier,
		services.RetryPolicy{MaxAttempts: cfg.VerifyMaxAttempts, InitialInterval: cfg.VerifyRetryInterval()},
	)
	admission := services.NewAdmissionController(subscriptions, database.NewUsageRepository(database.GetDB()))

	replay := services.NewReplayProtection(24 * time.Hour)
	defer replay.Stop()
	notifications := services.NewStoreNotificationService(subscriptions, replay, cfg.AppleBundleID, cfg.GooglePlayPackageName)
	if cfg.AppleRootCAPEM != "" {
		appleVerifier, err := services.NewAppleJWSVerifier(cfg.AppleRootCAPEM)
		if err != nil {
			log.Fatal("Failed to load Apple root certificate: ", err)
		}
		notifications.WithAppleVerifier(appleVerifier)
	} else {
		logging.Warnf("APPLE_ROOT_CA_PEM not set, App Store notification signatures are not checked")
	}

	// Set Gin mode
	gin.SetMode(cfg.Mode)

	// Create Gin engine
	r := gin.Default()

	api.SetupRoutes(r, api.Dependencies{
		Subscriptions:     subscriptions,
		Admission:         admission,
		Notifications:     notifications,
		Limiter:           limiter,
		DB:                database.GetDB(),
		JWTSecret:         cfg.JWTSecretKey,
		JWTAlgorithm:      cfg.JWTAlgorithm,
		NotificationToken: cfg.StoreNotificationToken,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logging.Infof("Starting server on port %s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("Failed to start server: ", err)
		}
	}()

	<-ctx.Done()
	logging.Infof("Shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logging.Errorf("Server shutdown failed: %v", err)
	}
}

// storeClients builds the store clients whose credentials are configured
func storeClients(ctx context.Context, cfg *config.Config) map[models.StorePlatform]services.StoreClient {
	clients := map[models.StorePlatform]services.StoreClient{}
	httpClient := &http.Client{Timeout: cfg.StoreTimeout()}

	if cfg.AppleKeyID != "" {
		apple, err := services.NewAppleStoreClient(services.AppleConfig{
			BundleID:    cfg.AppleBundleID,
			IssuerID:    cfg.AppleIssuerID,
			KeyID:       cfg.AppleKeyID,
			PrivateKey:  cfg.ApplePrivateKey,
			Environment: cfg.AppleEnvironment,
		}, httpClient)
		if err != nil {
			log.Fatal("Failed to initialize App Store client: ", err)
		}
		clients[models.PlatformApple] = apple
	} else {
		logging.Warnf("APPLE_KEY_ID not set, Apple receipts cannot be verified")
	}

	if cfg.GoogleServiceAccountJSON != "" {
		google, err := services.NewGooglePlayClient(ctx, cfg.GooglePlayPackageName, cfg.GoogleServiceAccountJSON, cfg.StoreTimeout())
		if err != nil {
			log.Fatal("Failed to initialize Google Play client: ", err)
		}
		clients[models.PlatformGoogle] = google
	} else {
		logging.Warnf("GOOGLE_SERVICE_ACCOUNT_JSON not set, Google receipts cannot be verified")
	}

	return clients
}

package main

import (
	"context"
	"log"
	"time"

	"immune-me-backend/cache"
	"immune-me-backend/config"
	"immune-me-backend/consumer"
	"immune-me-backend/controllers"
	"immune-me-backend/gateway"
	"immune-me-backend/logger"
	"immune-me-backend/models"
	"immune-me-backend/repository"
	"immune-me-backend/routes"
	"immune-me-backend/services"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func main() {
	ctx := context.Background()

	cfg, err := config.Load(ctx)
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger.Initialize(cfg.Server.Env)
	defer func() { _ = logger.Log.Sync() }()

	db, err := config.ConnectDB(cfg.Database.URL)
	if err != nil {
		logger.Log.Fatal("failed to connect database", zap.Error(err))
	}

	if err := db.AutoMigrate(
		&models.Message{},
		&models.ConsentRecord{},
		&models.MessageTemplate{},
		&models.WebhookEvent{},
	); err != nil {
		logger.Log.Fatal("failed to run migrations", zap.Error(err))
	}

	location, err := time.LoadLocation(cfg.SMS.FacilityTimezone)
	if err != nil {
		logger.Log.Warn("invalid facility timezone, using UTC", zap.String("tz", cfg.SMS.FacilityTimezone))
		location = time.UTC
	}

	messages := repository.NewMessageRepository(db)
	consents := repository.NewConsentRepository(db)
	templates := repository.NewTemplateRepository(db)
	events := repository.NewWebhookEventRepository(db)
	directory := repository.NewRecipientDirectory(db)

	var sentCache *cache.SentCache
	if cfg.Redis.Address != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		sentCache = cache.NewSentCache(rdb, cfg.Redis.TTL())
		logger.Log.Info("sent-message cache enabled", zap.String("redis", cfg.Redis.Address))
	}

	provider := buildProvider(cfg)

	gate := services.NewConsentGate(consents, messages, cfg.Consent.ExpiryDays, logger.Log)
	engine := services.NewTemplateEngine(templates, logger.Log)
	scheduler := services.NewReminderScheduler(messages, gate, location, logger.Log)
	retry := services.NewRetryManager(messages, cfg.Retry.MaxRetries, cfg.Retry.BaseDelay(), cfg.Retry.DeadLetterThreshold, logger.Log)

	workerOpts := services.DeliveryWorkerOptions{
		Messages:    messages,
		Gate:        gate,
		Engine:      engine,
		Provider:    provider,
		Retry:       retry,
		Directory:   directory,
		BatchSize:   cfg.Worker.BatchSize,
		BatchDelay:  cfg.Worker.BatchDelay(),
		Concurrency: cfg.Worker.BatchConcurrency,
		FetchLimit:  cfg.Worker.FetchLimit,
		Log:         logger.Log,
	}
	if sentCache != nil {
		workerOpts.Cache = sentCache
	}
	worker := services.NewDeliveryWorker(workerOpts)

	var cacheLookup services.SentCacheLookup
	if sentCache != nil {
		cacheLookup = sentCache
	}
	processor := services.NewWebhookProcessor(messages, events, gate, cacheLookup, logger.Log)

	reconciler := services.NewReconciliationSync(
		messages, provider, processor,
		cfg.Reconcile.Grace(), cfg.Reconcile.Lookback(), cfg.Reconcile.Delay(),
		logger.Log,
	)

	runner := services.NewCronRunner(worker, reconciler, logger.Log)
	if err := runner.Start(cfg.Worker.Interval(), time.Duration(cfg.Reconcile.IntervalMinutes)*time.Minute); err != nil {
		logger.Log.Fatal("failed to start periodic tasks", zap.Error(err))
	}
	defer runner.Stop()

	if cfg.Queue.SQSQueueURL != "" {
		sqsConsumer, err := consumer.NewSQSConsumer(ctx, cfg.Queue.SQSQueueURL, scheduler, logger.Log)
		if err != nil {
			logger.Log.Fatal("failed to initialize SQS consumer", zap.Error(err))
		}
		go sqsConsumer.Start(ctx)
	}

	r := routes.SetupRouter(routes.Controllers{
		Webhook:  controllers.NewWebhookController(processor, cfg.Webhook.AllowedSources),
		Consent:  controllers.NewConsentController(gate),
		Reminder: controllers.NewReminderController(scheduler, worker, messages),
		Template: controllers.NewTemplateController(templates),
	})

	logger.Log.Info("immune-me backend listening", zap.String("port", cfg.Server.Port))
	if err := r.Run(":" + cfg.Server.Port); err != nil {
		logger.Log.Fatal("server exited", zap.Error(err))
	}
}

func buildProvider(cfg *config.App) gateway.SMSProvider {
	if cfg.SMS.Provider == "twilio" {
		return gateway.NewTwilioProvider(gateway.TwilioOptions{
			AccountSID:         cfg.SMS.TwilioAccountSID,
			AuthToken:          cfg.SMS.TwilioAuthToken,
			FromNumber:         cfg.SMS.TwilioFromNumber,
			CallbackURL:        cfg.SMS.CallbackURL,
			CountryCodes:       cfg.SMS.CountryCodes(),
			RateLimitPerMinute: cfg.SMS.RateLimitPerMinute,
		})
	}

	tokens := gateway.NewTokenManager(
		cfg.SMS.GatewayURL+"/oauth/token",
		cfg.SMS.ClientID,
		cfg.SMS.ClientSecret,
		time.Duration(cfg.SMS.TokenRefreshThreshold)*time.Second,
		logger.Log,
	)
	return gateway.NewClient(gateway.ClientOptions{
		BaseURL:            cfg.SMS.GatewayURL,
		SenderAddress:      cfg.SMS.SenderAddress,
		CallbackURL:        cfg.SMS.CallbackURL,
		CountryCodes:       cfg.SMS.CountryCodes(),
		RateLimitPerMinute: cfg.SMS.RateLimitPerMinute,
		Tokens:             tokens,
	})
}

package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"shop-service/config"
	"shop-service/internal/api"
	"shop-service/internal/auth"
	"shop-service/internal/broker"
	"shop-service/internal/payment"
	"shop-service/internal/redisclient"
	"shop-service/internal/service"
	"shop-service/internal/store"
	"shop-service/internal/util"
	"shop-service/internal/worker"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func main() {

	cfg := config.Load()

	if err := util.InitLogger(cfg.Server.Env); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()

	logger := util.GetLogger()
	logger.Info("Starting shop service", zap.String("env", cfg.Server.Env))

	tp, err := util.InitTracer("shop-service", cfg.Server.Env, cfg.Observ.JaegerEndpoint)
	if err != nil {
		logger.Fatal("Failed to initialize tracer", zap.Error(err))
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			logger.Error("Error shutting down tracer", zap.Error(err))
		}
	}()

	if cfg.Database.AutoMigrate {
		if err := store.RunMigrations(cfg.Database.URL, cfg.Database.MigrationsPath); err != nil {
			logger.Fatal("Failed to run migrations", zap.Error(err))
		}
		logger.Info("Migrations applied", zap.String("path", cfg.Database.MigrationsPath))
	}

	db, err := store.NewStore(cfg.Database.URL, cfg.Business.LockTimeout)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()
	logger.Info("Database connected")

	redisClient, err := redisclient.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		logger.Fatal("Failed to connect to Redis", zap.Error(err))
	}
	defer redisClient.Close()
	logger.Info("Redis connected")

	producer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicOrder)
	defer producer.Close()
	logger.Info("Kafka producer initialized", zap.String("topic", cfg.Kafka.TopicOrder))

	eventPublisher := broker.NewEventPublisher(producer)

	gateway := payment.NewRazorpayClient(payment.Config{
		BaseURL:       cfg.Payment.BaseURL,
		KeyID:         cfg.Payment.KeyID,
		KeySecret:     cfg.Payment.KeySecret,
		WebhookSecret: cfg.Payment.WebhookSecret,
		Timeout:       cfg.Payment.Timeout,
	})
	if cfg.Payment.WebhookSecret == "" {
		logger.Warn("RAZORPAY_WEBHOOK_SECRET not set, every webhook will be rejected")
	}

	var verifier auth.TokenVerifier
	keys := auth.NewJWKSCache(cfg.Auth.JWKSURL, cfg.Auth.JWKSTTL,
		auth.WithMinRefreshInterval(cfg.Auth.JWKSMinRefresh))
	if cfg.Auth.JWKSURL == "" {
		logger.Warn("AUTH0_DOMAIN not set, authenticated routes will reject every request")
	} else if v, err := auth.NewVerifier(keys, cfg.Auth.Issuer, cfg.Auth.Audience); err != nil {
		logger.Warn("Auth misconfigured, authenticated routes will reject every request", zap.Error(err))
	} else {
		verifier = v
	}

	orderService := service.NewOrderService(db, eventPublisher)
	paymentService := service.NewPaymentService(db, gateway, eventPublisher, redisClient, service.PaymentConfig{
		Currency:  cfg.Payment.Currency,
		Timeout:   cfg.Payment.Timeout,
		ReplayTTL: cfg.Business.WebhookReplayTTL,
	})
	accountService := service.NewAccountService(db)
	fulfillmentService := service.NewFulfillmentService(db)

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	fulfillmentConsumer := broker.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicFulfillment, cfg.Kafka.ConsumerGroup)
	fulfillmentWorker := worker.NewFulfillmentWorker(fulfillmentConsumer, fulfillmentService)
	go func() {
		if err := fulfillmentWorker.Start(workerCtx); err != nil && workerCtx.Err() == nil {
			logger.Error("Fulfillment worker error", zap.Error(err))
		}
	}()

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	handler := api.NewHandler(orderService, paymentService, accountService, verifier,
		api.ReadinessCheck{Name: "database", Ping: db.Ping},
		api.ReadinessCheck{Name: "redis", Ping: redisClient.Ping},
	)
	handler.SetupRoutes(router)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("Starting HTTP server", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	workerCancel()
	if err := fulfillmentWorker.Stop(); err != nil {
		logger.Error("Error stopping fulfillment worker", zap.Error(err))
	}

	logger.Info("Server exited")
}

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/go-redis/redis/v8"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"smartengo-backend/internal/api"
	"smartengo-backend/internal/auth"
	"smartengo-backend/internal/db"
	"smartengo-backend/internal/events"
	"smartengo-backend/internal/monitor"
	"smartengo-backend/internal/mw"
	"smartengo-backend/internal/notification"
	"smartengo-backend/internal/service"
	"smartengo-backend/internal/session"
	"smartengo-backend/internal/store"
	"smartengo-backend/internal/util"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP server, the overstay monitor and the notification workers",
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve()
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func serve() error {
	logger := util.GetLogger()

	if cfg.Auth.JWTSecret == "" {
		return errors.New("auth.jwt_secret (or JWT_SECRET) must be set")
	}

	if cfg.Tracing.JaegerEndpoint != "" {
		tp, err := util.InitTracer(cfg.Tracing.ServiceName, cfg.Tracing.JaegerEndpoint)
		if err != nil {
			return fmt.Errorf("failed to initialize tracer: %w", err)
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = tp.Shutdown(ctx)
		}()
	}

	var webpushOptions *webpush.Options
	if cfg.Push.PublicKey != "" && cfg.Push.PrivateKey != "" {
		webpushOptions = &webpush.Options{
			VAPIDPublicKey:  cfg.Push.PublicKey,
			VAPIDPrivateKey: cfg.Push.PrivateKey,
			Subscriber:      cfg.Push.Subject,
			TTL:             cfg.Push.TTL,
		}
	} else {
		logger.Warn("VAPID keys are not configured; push notifications are disabled")
	}

	gormDB, err := db.Init(&cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	if sqlDB, err := gormDB.DB(); err == nil {
		defer sqlDB.Close()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	policy := session.Policy{
		Tariff:                     cfg.Session.Tariff,
		MinManualAmount:            cfg.Session.MinManualAmount,
		Currency:                   cfg.Session.Currency,
		OverstayThreshold:          cfg.Session.OverstayThreshold,
		MaintenanceClearsOccupancy: *cfg.Session.MaintenanceClearsOccupancy,
		SensorKeepsMaintenance:     cfg.Session.SensorKeepsMaintenance,
	}

	appStore := store.NewGormStore(gormDB, policy.OverstayThreshold)
	hub := events.NewHub()

	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()
		bridge := events.NewRedisBridge(rdb, cfg.Redis.Channel, hub)
		go func() {
			if err := bridge.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("Redis bridge stopped", zap.Error(err))
			}
		}()
		logger.Info("Change feed bridged through redis", zap.String("channel", cfg.Redis.Channel))
	}

	if len(cfg.Kafka.Brokers) > 0 {
		publisher := events.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic, hub)
		go func() {
			if err := publisher.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("Kafka publisher stopped", zap.Error(err))
			}
		}()
		logger.Info("Change feed published to kafka", zap.String("topic", cfg.Kafka.Topic))
	}

	var dispatcher service.Dispatcher
	var monitorDispatcher monitor.Dispatcher
	if webpushOptions != nil {
		pool := notification.NewWorkerPool(cfg.WorkerPool.Size, appStore, webpushOptions)
		pool.Start(ctx)
		dispatcher = pool
		monitorDispatcher = pool
	}

	svc := service.NewToiletService(appStore, hub, dispatcher, policy)

	overstay := monitor.NewService(cfg.Monitor, policy.OverstayThreshold, appStore, hub, monitorDispatcher)
	go overstay.Run(ctx)

	cacheTTL := time.Duration(cfg.Server.CacheTTLSeconds) * time.Second
	responseCache := mw.NewReadCache(cacheTTL)
	go responseCache.FlushOnChange(ctx, hub)

	limiter := mw.NewIPRateLimiter(rate.Limit(cfg.Server.RateLimitPerSec), cfg.Server.RateLimitBurst)
	go limiter.RunEviction(ctx, 10*time.Minute)

	router := api.NewRouter(api.Deps{
		Server:  cfg.Server,
		Service: svc,
		Store:   appStore,
		Auth:    auth.NewManager(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL),
		Hub:     hub,
		WebPush: webpushOptions,
		Cache:   responseCache,
		Limiter: limiter,
	})
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	// Shutdown waits for active connections; event streams only end when
	// their subscription closes.
	server.RegisterOnShutdown(hub.Close)

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("HTTP server starting", zap.Int("port", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-stop:
		logger.Info("Shutdown signal received, stopping services")
	case err := <-serverErr:
		return fmt.Errorf("HTTP server ListenAndServe: %w", err)
	}

	// Stop the background loops before draining the server.
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("HTTP server Shutdown: %w", err)
	}

	logger.Info("Server gracefully stopped")
	return nil
}

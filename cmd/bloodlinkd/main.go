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
	"go.uber.org/zap"

	"bloodlink-backend/config"
	"bloodlink-backend/internal/api"
	"bloodlink-backend/internal/db"
	"bloodlink-backend/internal/delivery"
	"bloodlink-backend/internal/drone"
	"bloodlink-backend/internal/dronesync"
	"bloodlink-backend/internal/inventory"
	"bloodlink-backend/internal/jobs"
	"bloodlink-backend/internal/logger"
	"bloodlink-backend/internal/notification"
	"bloodlink-backend/internal/store"
	"bloodlink-backend/internal/validation"
)

func main() {
	// Load configuration
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "./config/config.yaml" // Default path for local development
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration from %s: %v\n", configPath, err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.Log.Level, cfg.Log.Format, "bloodlink-backend")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()
	log.Info("configuration loaded", zap.String("path", configPath))

	gormDB, err := db.Init(&cfg.Database, log)
	if err != nil {
		log.Fatal("failed to initialize database", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	appStore := store.NewGormStore(gormDB)

	// Web push is optional: notifications are stored either way.
	var (
		webpushOptions *webpush.Options
		push           notification.Dispatcher
	)
	if cfg.Push.Enabled() {
		webpushOptions = &webpush.Options{
			VAPIDPublicKey:  cfg.Push.PublicKey,
			VAPIDPrivateKey: cfg.Push.PrivateKey,
			Subscriber:      cfg.Push.Subject,
			TTL:             cfg.Push.TTL,
		}
		pool := notification.NewWorkerPool(cfg.WorkerPool.Size, gormDB, webpushOptions, log)
		pool.Start(ctx)
		push = pool
		log.Info("web push enabled", zap.Int("workers", cfg.WorkerPool.Size))
	} else {
		log.Warn("VAPID keys not configured, web push disabled")
	}

	allocator := inventory.NewAllocator(gormDB, log)
	fanout := notification.NewFanout(gormDB, log, push)
	droneClient := drone.NewClient(appStore, cfg.DroneClient, log)
	orders := delivery.NewStateMachine(gormDB, allocator, fanout, appStore, droneClient, log)
	validator := validation.NewService(gormDB, fanout, log)

	syncLoop := dronesync.NewLoop(appStore, droneClient, cfg.DroneSync, log)
	if cfg.DroneSync.Enabled {
		if err := syncLoop.Start(ctx); err != nil {
			log.Fatal("failed to start drone sync loop", zap.Error(err))
		}
	}

	var reconcileJob *jobs.ReconcileJob
	if cfg.Reconcile.Enabled {
		reconcileJob = jobs.NewReconcileJob(validator, cfg.Reconcile.Schedule, log)
		if err := reconcileJob.Start(); err != nil {
			log.Fatal("failed to start reconcile job", zap.Error(err))
		}
	}

	handler := api.NewHandler(api.Services{
		Store:      appStore,
		Orders:     orders,
		Validation: validator,
		Inventory:  allocator,
		Drones:     droneClient,
		Sync:       syncLoop,
		WebPush:    webpushOptions,
	}, log)
	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: api.NewRouter(handler, cfg.Server),
	}

	go func() {
		log.Info("HTTP server starting", zap.Int("port", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("HTTP server ListenAndServe", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	<-stop
	log.Info("shutdown signal received, stopping services")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown", zap.Error(err))
	}
	if reconcileJob != nil {
		reconcileJob.Stop()
	}
	syncLoop.Stop()
	cancel()

	log.Info("server gracefully stopped")
}

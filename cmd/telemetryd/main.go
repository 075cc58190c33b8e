// telemetryd serves the ShellQuest analytics read API and runs the
// scheduled maintenance jobs (retention cleanup, buffer flushing) for
// a deployment's telemetry store.
package main

import (
	"context"
	"database/sql"
	"flag"
	"net"
	"net/http"
	"os"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/shellquest/telemetry/pkg/analytics"
	"github.com/shellquest/telemetry/pkg/config"
	"github.com/shellquest/telemetry/pkg/httputil"
	"github.com/shellquest/telemetry/pkg/observability"
	"github.com/shellquest/telemetry/pkg/storage"
	"github.com/shellquest/telemetry/pkg/storage/rediscache"
	"github.com/shellquest/telemetry/pkg/storage/s3archive"
)

func main() {
	var (
		configFile = flag.String("config", "", "optional YAML config file overlaying the environment")
		runCleanup = flag.Bool("run-cleanup", false, "run retention cleanup once and exit")
	)
	flag.Parse()

	logrus.SetFormatter(&logrus.JSONFormatter{})

	if *configFile != "" {
		os.Setenv("SHELLQUEST_CONFIG_FILE", *configFile)
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		logrus.WithError(err).Fatal("Failed to load configuration")
	}

	if lvl, err := logrus.ParseLevel(cfg.Observability.LogLevel); err == nil {
		logrus.SetLevel(lvl)
	}

	logger := observability.NewLogger(cfg.LogLevel(), os.Stdout)
	ctx := context.Background()

	providers, err := observability.InitOTel(ctx, observability.OTelConfig{
		Enabled:        cfg.Observability.OTelEnabled,
		Endpoint:       cfg.Observability.OTelEndpoint,
		ServiceName:    cfg.Observability.OTelServiceName,
		ServiceVersion: cfg.Observability.OTelServiceVersion,
		Insecure:       cfg.Observability.OTelInsecure,
	}, logger)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to initialize OpenTelemetry")
	}

	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)

	store, err := storage.Open(cfg.Storage)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to open telemetry store")
	}
	logrus.WithFields(logrus.Fields{
		"driver": cfg.Storage.Driver,
		"dsn":    cfg.Storage.DSN,
	}).Info("Telemetry store opened")

	var redisClient *redis.Client
	engineStore := store
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		engineStore = rediscache.New(store, redisClient, cfg.Redis.TTL, logger, metrics)
		logrus.WithField("addr", cfg.Redis.Addr).Info("Redis read cache enabled")
	}

	engine, err := analytics.NewEngine(ctx, engineStore, analytics.Config{
		BufferSize:       cfg.Engine.BufferSize,
		FlushInterval:    cfg.Engine.FlushInterval,
		MaxPendingEvents: cfg.Engine.MaxPendingEvents,
		Salt:             cfg.Engine.Salt,
		Retention: analytics.RetentionPolicy{
			RetentionDays:  cfg.Engine.RetentionDays,
			ArchiveEnabled: cfg.Engine.ArchiveEnabled,
		},
	}, logger, metrics)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to start analytics engine")
	}

	if cfg.Engine.ArchiveEnabled && cfg.Archive.Bucket != "" {
		archiver, err := s3archive.New(ctx, s3archive.Config{
			Bucket:       cfg.Archive.Bucket,
			Region:       cfg.Archive.Region,
			Endpoint:     cfg.Archive.Endpoint,
			AccessKey:    cfg.Archive.AccessKey,
			SecretKey:    cfg.Archive.SecretKey,
			UsePathStyle: cfg.Archive.UsePathStyle,
			KeyPrefix:    cfg.Archive.KeyPrefix,
		})
		if err != nil {
			logrus.WithError(err).Fatal("Failed to configure archive sink")
		}
		engine.SetArchiver(archiver)
		logrus.WithField("bucket", cfg.Archive.Bucket).Info("Archive-before-purge enabled")
	}

	if *runCleanup {
		events, sessions, err := engine.CleanupOldData(ctx)
		closeErr := engine.Close(ctx)
		store.Close()
		if err != nil {
			logrus.WithError(err).Fatal("Retention cleanup failed")
		}
		if closeErr != nil {
			logrus.WithError(closeErr).Warn("Engine shutdown reported an error")
		}
		logrus.WithFields(logrus.Fields{
			"events_deleted":   events,
			"sessions_deleted": sessions,
		}).Info("Retention cleanup complete")
		return
	}

	var cronRunner *cron.Cron
	if cfg.Cleanup.Schedule != "" {
		cronRunner = cron.New()
		if _, err := cronRunner.AddFunc(cfg.Cleanup.Schedule, func() {
			events, sessions, err := engine.CleanupOldData(context.Background())
			if err != nil {
				logrus.WithError(err).Error("Scheduled cleanup failed")
				return
			}
			logrus.WithFields(logrus.Fields{
				"events_deleted":   events,
				"sessions_deleted": sessions,
			}).Info("Scheduled cleanup complete")
		}); err != nil {
			logrus.WithError(err).Fatalf("Invalid cleanup schedule: %s", cfg.Cleanup.Schedule)
		}
		cronRunner.Start()
		logrus.WithField("schedule", cfg.Cleanup.Schedule).Info("Cleanup job scheduled")
	}

	router := mux.NewRouter()
	router.Use(
		httputil.RequestIDMiddleware,
		httputil.RecoveryMiddleware(logger),
		httputil.LoggingMiddleware(logger),
	)
	analytics.NewHandlers(engine).RegisterRoutes(router)

	health := observability.NewHealthChecker(storeDB(store), redisClient)
	router.HandleFunc("/health", health.Liveness).Methods("GET")
	router.HandleFunc("/ready", health.Readiness).Methods("GET")
	if cfg.Observability.MetricsEnabled {
		router.Handle("/metrics", observability.MetricsHandler(registry)).Methods("GET")
	}

	server := &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdownManager := observability.NewShutdownManager(logger, server, cfg.Server.ShutdownTimeout)
	shutdownManager.RegisterShutdownFunc(func(ctx context.Context) error {
		if cronRunner != nil {
			select {
			case <-cronRunner.Stop().Done():
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		// Engine close flushes to the store, so the store must outlive it.
		if err := engine.Close(ctx); err != nil {
			return err
		}
		return store.Close()
	})
	if redisClient != nil {
		shutdownManager.RegisterShutdownFunc(func(ctx context.Context) error {
			return redisClient.Close()
		})
	}
	shutdownManager.RegisterShutdownFunc(func(ctx context.Context) error {
		return observability.ShutdownOTel(ctx, providers, logger)
	})

	if *configFile != "" {
		stopWatch, err := config.Watch(*configFile, logger, func(next *config.Config) {
			if lvl, err := logrus.ParseLevel(next.Observability.LogLevel); err == nil {
				logrus.SetLevel(lvl)
			}
			logrus.Info("Config file changed; log level applied, other changes take effect on restart")
		})
		if err != nil {
			logrus.WithError(err).Warn("Config watcher unavailable")
		} else {
			defer stopWatch()
		}
	}

	go func() {
		logrus.WithField("addr", server.Addr).Info("Analytics API listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.WithError(err).Fatal("HTTP server failed")
		}
	}()

	if err := shutdownManager.WaitForShutdown(); err != nil {
		logrus.WithError(err).Error("Shutdown finished with errors")
		os.Exit(1)
	}
}

// storeDB unwraps the sql connection when the backend exposes one.
func storeDB(store analytics.Store) *sql.DB {
	if s, ok := store.(interface{ DB() *sql.DB }); ok {
		return s.DB()
	}
	return nil
}

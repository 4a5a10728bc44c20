package main

import (
	"context"
	"database/sql"
	"flag"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron/v3"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"

	"github.com/meridian-cms/audittrail/pkg/audit"
	"github.com/meridian-cms/audittrail/pkg/config"
	"github.com/meridian-cms/audittrail/pkg/middleware"
	"github.com/meridian-cms/audittrail/pkg/observability"
)

func main() {
	configPath := flag.String("config", getEnv("AUDITTRAIL_CONFIG", ""), "Path to the YAML configuration file")
	watchConfig := flag.Bool("watch-config", true, "Reload filter and redaction rules when the config file changes")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		// No logger yet; configuration failures are fatal before startup.
		os.Stderr.WriteString("audittrail: " + err.Error() + "\n")
		os.Exit(1)
	}

	logger := observability.NewLogger(observability.ParseLogLevel(cfg.Observability.LogLevel), os.Stdout)
	logger.WithField("driver", cfg.Storage.Driver).Info("Starting audit trail service")

	metrics := observability.NewMetrics(prometheus.NewRegistry())

	ctx := context.Background()
	providers, err := observability.InitOTel(ctx, observability.OTelConfig{
		Enabled:        cfg.Observability.OTelEnabled,
		Endpoint:       cfg.Observability.OTelEndpoint,
		ServiceName:    cfg.Observability.OTelServiceName,
		ServiceVersion: cfg.Observability.OTelServiceVersion,
		Insecure:       cfg.Observability.OTelInsecure,
	}, logger)
	if err != nil {
		logger.WithError(err).Error("Failed to initialize OpenTelemetry")
		os.Exit(1)
	}

	db, err := sql.Open(cfg.Storage.Driver, cfg.Storage.DSN)
	if err != nil {
		logger.WithError(err).Error("Failed to open database")
		os.Exit(1)
	}
	defer db.Close()
	db.SetMaxOpenConns(cfg.Storage.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Storage.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.Storage.ConnMaxLifetime)
	if err := db.Ping(); err != nil {
		logger.WithError(err).Error("Failed to ping database")
		os.Exit(1)
	}

	store, err := audit.NewDBStore(db, audit.Dialect(cfg.Storage.Driver))
	if err != nil {
		logger.WithError(err).Error("Failed to initialize audit store")
		os.Exit(1)
	}

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()
	}

	pipeline := audit.NewPipeline(
		newFilter(cfg), newRedactor(cfg), store, logger, metrics)
	pipeline.SetEnabled(cfg.Enabled)

	engine := audit.NewEngine(store, logger, metrics)
	if cfg.Archive.Enabled {
		archiver, err := audit.NewS3Archiver(ctx, audit.S3ArchiveOptions{
			Endpoint:     cfg.Archive.Endpoint,
			Region:       cfg.Archive.Region,
			Bucket:       cfg.Archive.Bucket,
			Prefix:       cfg.Archive.Prefix,
			AccessKey:    cfg.Archive.AccessKey,
			SecretKey:    cfg.Archive.SecretKey,
			UsePathStyle: cfg.Archive.UsePathStyle,
		})
		if err != nil {
			logger.WithError(err).Error("Failed to initialize archive target")
			os.Exit(1)
		}
		engine.WithArchiver(archiver)
		logger.WithField("bucket", cfg.Archive.Bucket).Info("Pre-deletion archiving enabled")
	}
	if redisClient != nil {
		engine.WithLocker(audit.NewCleanupLock(redisClient, "", cfg.Redis.LockTTL))
		logger.WithField("addr", cfg.Redis.Addr).Info("Distributed cleanup lock enabled")
	}

	query, err := audit.NewQueryService(store, cfg.Server.DetailCacheSize)
	if err != nil {
		logger.WithError(err).Error("Failed to initialize query service")
		os.Exit(1)
	}

	// live holds the reloadable configuration consumed by handlers and the
	// cleanup schedule.
	live := &liveConfig{cfg: cfg}

	handlers := audit.NewHandlers(pipeline, query, engine, live.policy, live.view, logger)

	router := mux.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(metrics.HTTPMiddleware)
	router.Use(middleware.NewAuthMiddleware().Handler)
	handlers.RegisterRoutes(router)

	var apiHandler http.Handler = router
	if providers != nil {
		apiHandler = otelhttp.NewHandler(router, "audittrail")
	}

	apiServer := &http.Server{
		Addr:         cfg.Server.Host + ":" + cfg.Server.Port,
		Handler:      apiHandler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	healthMux := http.NewServeMux()
	observability.RegisterHealthRoutes(healthMux, observability.NewHealthChecker(db, redisClient))
	if cfg.Observability.MetricsEnabled {
		healthMux.Handle("/metrics", metrics.Handler())
	}
	healthServer := &http.Server{
		Addr:    cfg.Server.Host + ":" + cfg.Server.HealthPort,
		Handler: healthMux,
	}

	scheduler := cron.New()
	if cfg.Deletion.Schedule != "" {
		_, err = scheduler.AddFunc(cfg.Deletion.Schedule, func() {
			deleted, err := engine.RunCleanup(context.Background(), live.policy(), time.Now().UTC())
			if err != nil {
				logger.WithError(err).Warn("Scheduled cleanup did not run")
				return
			}
			logger.WithField("deleted", deleted).Info("Scheduled cleanup finished")
		})
		if err != nil {
			logger.WithError(err).Error("Invalid cleanup schedule")
			os.Exit(1)
		}
		scheduler.Start()
		logger.WithField("schedule", cfg.Deletion.Schedule).Info("Retention cleanup scheduled")
	}

	// Keep the DB pool gauges fresh for the scrape endpoint.
	poolTicker := time.NewTicker(15 * time.Second)
	go func() {
		for range poolTicker.C {
			metrics.UpdateDBStats(db)
		}
	}()

	watchCtx, cancelWatch := context.WithCancel(ctx)
	if *watchConfig && *configPath != "" {
		watcher := config.NewWatcher(*configPath, logger, func(next *config.Config) {
			live.set(next)
			pipeline.SetEnabled(next.Enabled)
			pipeline.SetRules(newFilter(next), newRedactor(next))
		})
		go func() {
			if err := watcher.Watch(watchCtx); err != nil && watchCtx.Err() == nil {
				logger.WithError(err).Warn("Configuration watcher stopped")
			}
		}()
	}

	shutdownManager := observability.NewShutdownManager(logger, cfg.Server.ShutdownTimeout, apiServer, healthServer)
	shutdownManager.RegisterShutdownFunc(func(ctx context.Context) error {
		cancelWatch()
		poolTicker.Stop()
		<-scheduler.Stop().Done()
		return nil
	})
	if providers != nil {
		shutdownManager.RegisterShutdownFunc(func(ctx context.Context) error {
			return observability.ShutdownOTel(ctx, providers, logger)
		})
	}

	group, _ := errgroup.WithContext(ctx)
	group.Go(func() error {
		logger.WithField("addr", apiServer.Addr).Info("Audit log API listening")
		if err := apiServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	group.Go(func() error {
		logger.WithField("addr", healthServer.Addr).Info("Health and metrics endpoint listening")
		if err := healthServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	group.Go(func() error {
		return shutdownManager.WaitForShutdown()
	})

	if err := group.Wait(); err != nil {
		logger.WithError(err).Error("Service exited with error")
		os.Exit(1)
	}
}

// liveConfig guards the hot-reloadable configuration.
type liveConfig struct {
	mu  sync.RWMutex
	cfg *config.Config
}

func (l *liveConfig) set(cfg *config.Config) {
	l.mu.Lock()
	l.cfg = cfg
	l.mu.Unlock()
}

func (l *liveConfig) policy() audit.RetentionPolicy {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.cfg.RetentionPolicy()
}

func (l *liveConfig) view() audit.ConfigView {
	l.mu.RLock()
	defer l.mu.RUnlock()
	cfg := l.cfg

	view := audit.ConfigView{
		Enabled: cfg.Enabled,
		Deletion: audit.DeletionView{
			Enabled: cfg.Deletion.Enabled,
		},
		IndexTableColumns: cfg.AdminPanel.IndexTableColumns,
	}
	policy := cfg.RetentionPolicy()
	view.Deletion.Mode = policy.Mode.String()
	view.Deletion.Value = policy.Value
	view.Deletion.Interval = string(policy.Interval)
	return view
}

func newFilter(cfg *config.Config) *audit.Filter {
	return audit.NewFilter(cfg.Events.Track, cfg.ExcludeEndpoints, cfg.ExcludeContentTypes)
}

func newRedactor(cfg *config.Config) *audit.Redactor {
	return audit.NewRedactor(cfg.RedactedValues)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"bookingsys/internal/api"
	"bookingsys/internal/config"
	"bookingsys/internal/database"
	"bookingsys/internal/domain"
	"bookingsys/internal/events"
	"bookingsys/internal/logging"
	"bookingsys/internal/metrics"
	"bookingsys/internal/notify"
	"bookingsys/internal/repository"
	"bookingsys/internal/service"
	"bookingsys/internal/worker"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}

func run() error {
	cfg, logger, closer, err := loadConfigAndLogger()
	if err != nil {
		return err
	}
	if closer != nil {
		defer (func() { _ = closer.Close() })()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.NewDB(cfg.Database.Path, logging.Component(logger, "database"))
	if err != nil {
		logger.Error().Err(err).Str("db_path", cfg.Database.Path).Msg("init database")
		return err
	}
	defer db.Close()

	catalog := service.NewCatalogService(db, logging.Component(logger, "catalog"))
	users := service.NewUserService(db, logging.Component(logger, "users"))
	if err := catalog.SeedServices(ctx, cfg.Services); err != nil {
		return fmt.Errorf("seed services: %w", err)
	}
	if err := users.SeedUsers(ctx, cfg.Users); err != nil {
		return fmt.Errorf("seed users: %w", err)
	}

	redisClient := initRedis(ctx, cfg, logger)
	if redisClient != nil {
		defer repository.Close(redisClient)
	}
	locker := initLocker(cfg, redisClient, logger)

	bus := events.NewEventBus()
	appointments := service.NewAppointmentService(
		db, db, db,
		locker,
		bus,
		service.SystemClock{},
		service.AppointmentOptions{
			CancellationWindow: cfg.Booking.CancellationWindow,
			PreventOverlap:     cfg.Booking.OverlapCheckEnabled(),
		},
		logging.Component(logger, "appointments"),
	)

	if cfg.Notifications.Enabled {
		notifier := initNotifier(cfg, logger)
		w := worker.NewNotificationWorker(db, db, notifier, redisClient,
			worker.RetryPolicyFromConfig(cfg.Notifications.Retry), logging.Component(logger, "notifications"))
		w.SetPollInterval(cfg.Notifications.Retry.PollInterval)
		w.SetServiceLookup(db)
		w.SetLocation(cfg.App.Location())
		w.Subscribe(bus)
		go w.Start(ctx)
	}

	if cfg.Backup.Enabled {
		backups := database.NewBackupService(db, cfg.Backup, logging.Component(logger, "backup"))
		go backups.Start(ctx)
	}

	startMetrics(ctx, cfg, logger)

	if !cfg.API.Enabled {
		logger.Warn().Msg("API is disabled in config; only background workers are running")
		<-ctx.Done()
		return nil
	}

	deps := api.Dependencies{
		Appointments: appointments,
		Catalog:      catalog,
		Users:        users,
		Exports:      cfg.Exports,
		Location:     cfg.App.Location(),
	}
	auth := api.NewAuthenticator(cfg.API)
	httpServer := api.NewHTTPServer(cfg.API, deps, auth, logger)

	var grpcServer *api.GRPCServer
	if cfg.API.GRPC.Enabled {
		grpcServer, err = api.NewGRPCServer(cfg.API, appointments, auth, logger)
		if err != nil {
			logger.Error().Err(err).Msg("create grpc server")
			return err
		}
	}

	return startServers(ctx, grpcServer, httpServer, cfg, logger)
}

func loadConfigAndLogger() (*config.Config, *zerolog.Logger, io.Closer, error) {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load config: %w", err)
	}

	baseLogger, closer, err := logging.New(cfg.Logging, cfg.App)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("init logger: %w", err)
	}
	return cfg, baseLogger, closer, nil
}

func initRedis(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) *redis.Client {
	if cfg.Redis.Address == "" {
		return nil
	}

	client := repository.NewRedisClient(cfg.Redis)
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := repository.Ping(pingCtx, client); err != nil {
		logger.Warn().Err(err).Msg("redis connection failed, continuing without redis")
		_ = repository.Close(client)
		return nil
	}

	logger.Info().Str("addr", cfg.Redis.Address).Msg("redis connected")
	return client
}

// initLocker prefers a redis lock so several instances can share one
// database. The in-process locker covers single-instance runs and redis outages.
func initLocker(cfg *config.Config, client *redis.Client, logger *zerolog.Logger) domain.Locker {
	memory := repository.NewMemoryLocker(cfg.Booking.LockWait)
	if client == nil {
		return memory
	}
	primary := repository.NewRedisLocker(client, cfg.Booking.LockTTL, cfg.Booking.LockWait)
	return repository.NewFailoverLocker(primary, memory, logging.Component(logger, "locker"))
}

func initNotifier(cfg *config.Config, logger *zerolog.Logger) domain.Notifier {
	fallback := notify.NewLogNotifier(logging.Component(logger, "notify"))
	if cfg.Notifications.Telegram.BotToken == "" {
		return fallback
	}
	tg, err := notify.NewTelegramNotifier(cfg.Notifications.Telegram, logging.Component(logger, "telegram"))
	if err != nil {
		logger.Warn().Err(err).Msg("telegram init failed, notifications go to the log")
		return fallback
	}
	return notify.NewFallbackNotifier(tg, fallback)
}

func startMetrics(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) {
	if !cfg.Monitoring.PrometheusEnabled {
		return
	}

	metrics.Register()
	port := cfg.Monitoring.PrometheusPort
	if port == 0 {
		port = 9090
	}
	go startMetricsServer(ctx, port, logger)
}

func startServers(
	ctx context.Context,
	grpcServer *api.GRPCServer,
	httpServer *api.HTTPServer,
	cfg *config.Config,
	logger *zerolog.Logger,
) error {
	if grpcServer != nil {
		go func() {
			if err := grpcServer.Serve(); err != nil {
				logger.Error().Err(err).Msg("grpc server stopped")
			}
		}()
	}

	if cfg.API.HTTP.Enabled {
		go func() {
			if err := httpServer.Start(); err != nil {
				logger.Error().Err(err).Msg("http server stopped")
			}
		}()
	}

	evt := logger.Info().Int("http_port", cfg.API.HTTP.Port)
	if grpcServer != nil {
		evt = evt.Str("grpc_addr", grpcServer.Addr())
	}
	evt.Msg("API server started")

	<-ctx.Done()
	logger.Info().Msg("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if grpcServer != nil {
		grpcServer.Shutdown(shutdownCtx)
	}
	_ = httpServer.Shutdown(shutdownCtx)

	logger.Info().Msg("API server stopped")
	return nil
}

func startMetricsServer(ctx context.Context, port int, logger *zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error().Err(err).Msg("metrics server error")
	}
}

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

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/ahsanshehayr-ship-it/calculator-Pro-Tools/internal/api"
	"github.com/ahsanshehayr-ship-it/calculator-Pro-Tools/internal/auth"
	"github.com/ahsanshehayr-ship-it/calculator-Pro-Tools/internal/backup"
	"github.com/ahsanshehayr-ship-it/calculator-Pro-Tools/internal/catalog"
	"github.com/ahsanshehayr-ship-it/calculator-Pro-Tools/internal/config"
	"github.com/ahsanshehayr-ship-it/calculator-Pro-Tools/internal/domain"
	"github.com/ahsanshehayr-ship-it/calculator-Pro-Tools/internal/logging"
	"github.com/ahsanshehayr-ship-it/calculator-Pro-Tools/internal/outbox"
	"github.com/ahsanshehayr-ship-it/calculator-Pro-Tools/internal/persistence"
	"github.com/ahsanshehayr-ship-it/calculator-Pro-Tools/internal/persistence/postgres"
	httptransport "github.com/ahsanshehayr-ship-it/calculator-Pro-Tools/internal/transport/http"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "calcpro-api: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tools, err := loadCatalog(cfg.CatalogFile)
	if err != nil {
		return err
	}
	codec := backup.NewCodec(tools, backup.WithMaxTokenLength(cfg.BackupMaxTokenBytes))
	shares := domain.NewShareService(codec, tools, cfg.ShareBaseURL)

	var (
		repo       domain.FeedbackRepository
		dispatcher *outbox.Dispatcher
	)
	if cfg.PostgresURL == "" {
		logger.Warn("POSTGRES_URL not set, feedback is kept in memory")
		repo = persistence.NewInMemoryRepository()
	} else {
		if cfg.MigrateOnStart {
			results, err := postgres.Migrate(ctx, cfg.PostgresURL)
			if err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
			logger.Info("migrations applied", zap.Int("count", len(results)))
		}

		pool, err := pgxpool.New(ctx, cfg.PostgresURL)
		if err != nil {
			return fmt.Errorf("connect to postgres: %w", err)
		}
		defer pool.Close()
		repo = postgres.NewRepository(pool)

		producer := outbox.NewKafkaProducer(cfg.KafkaBrokers)
		defer producer.Close()

		registry := outbox.NewSchemaRegistryClient(cfg.SchemaRegistryURL)
		dispatcher = outbox.NewDispatcher(pool, producer, registry, cfg.OutboxPollInterval, cfg.OutboxBatchSize,
			outbox.WithLogger(logger.Named("outbox")))
		go dispatcher.Start(ctx)
	}
	feedback := domain.NewFeedbackService(repo)

	handler := api.NewHandler(shares, feedback, tools, api.WithLogger(logger.Named("api")))
	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)

	limiter := httptransport.NewRateLimiter(cfg.RateLimitPerMinute, cfg.RateLimitBurst, time.Minute)
	defer limiter.Stop()

	authMiddleware := auth.NewMiddleware(auth.Config{Secret: cfg.JWTSecret, Issuer: cfg.JWTIssuer},
		func(r *http.Request) bool { return !api.RequiresAuth(r) })

	chain := httptransport.Chain(
		httptransport.RequestID,
		httptransport.Logger(logger.Named("http")),
		httptransport.Recovery(logger),
		httptransport.CORS(cfg.CORSAllowedOrigin),
		limiter.Limit,
		authMiddleware.Wrap,
	)
	server := httptransport.NewServer(httptransport.DefaultServerConfig(cfg.HTTPAddress), chain(mux))
	metricsSrv := &http.Server{Addr: cfg.MetricsAddress, Handler: promhttp.Handler(), ReadHeaderTimeout: 5 * time.Second}

	shutdownCh := make(chan os.Signal, 1)
	signal.Notify(shutdownCh, syscall.SIGINT, syscall.SIGTERM)

	serverErr := make(chan error, 2)
	go func() {
		logger.Info("calcpro api listening", zap.String("address", cfg.HTTPAddress), zap.Int("tools", tools.Len()))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- fmt.Errorf("server: %w", err)
		}
	}()
	go func() {
		logger.Info("metrics listening", zap.String("address", cfg.MetricsAddress))
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- fmt.Errorf("metrics server: %w", err)
		}
	}()

	var runErr error
	select {
	case sig := <-shutdownCh:
		logger.Info("shutdown requested", zap.Stringer("signal", sig))
	case runErr = <-serverErr:
		logger.Error("server failed", zap.Error(runErr))
	}
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("metrics server shutdown failed", zap.Error(err))
	}

	if dispatcher != nil {
		dispatcher.Wait()
	}
	return runErr
}

func loadCatalog(path string) (*catalog.Registry, error) {
	if path == "" {
		return catalog.Default(), nil
	}
	tools, err := catalog.LoadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load catalog %s: %w", path, err)
	}
	return tools, nil
}

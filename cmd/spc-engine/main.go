package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pulsestack/pulse-spc/internal/alert"
	"github.com/pulsestack/pulse-spc/internal/api"
	"github.com/pulsestack/pulse-spc/internal/cache"
	"github.com/pulsestack/pulse-spc/internal/config"
	"github.com/pulsestack/pulse-spc/internal/metrics"
	"github.com/pulsestack/pulse-spc/internal/patterns"
	"github.com/pulsestack/pulse-spc/internal/probe"
	"github.com/pulsestack/pulse-spc/internal/repo"
	"github.com/pulsestack/pulse-spc/internal/services"
	"github.com/pulsestack/pulse-spc/internal/spc"
	"github.com/pulsestack/pulse-spc/internal/utils"
	"github.com/pulsestack/pulse-spc/internal/violations"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "", "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		slog.Error("failed to load config", slog.String("path", configPath), slog.Any("error", err))
		os.Exit(1)
	}

	logger := utils.NewLogger(cfg.Logging.Level, cfg.Logging.JSON)
	logger.Info("starting pulse-spc", slog.String("address", cfg.Server.Address))

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		logger.Error("failed to register metrics", slog.Any("error", err))
		os.Exit(1)
	}

	store, err := repo.Open(repo.Config{
		Driver:          cfg.Database.Driver,
		DSN:             cfg.Database.DSN,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	})
	if err != nil {
		logger.Error("failed to open store", slog.Any("error", err))
		os.Exit(1)
	}
	defer store.Close()

	var cacheProvider cache.Provider = cache.NoopProvider{}
	if cfg.Cache.Enabled {
		cacheProvider = cache.NewMemoryProvider()
	}
	defer cacheProvider.Close()

	channels := buildChannels(cfg.Alerts)
	var dispatcher *alert.Dispatcher
	if cfg.Alerts.Enabled && len(channels) > 0 {
		dispatcher = alert.NewDispatcher(channels, store, store, alert.DispatcherConfig{
			MaxConcurrent:  cfg.Alerts.MaxConcurrent,
			AttemptTimeout: cfg.Alerts.AttemptTimeout,
		}, logger)
	}

	tracker := spc.NewTracker()
	recorder := violations.NewRecorder(store, logger)
	lifecycle := violations.NewLifecycle(store, logger)
	miner := patterns.NewMiner(store, logger)

	ingestService := services.NewIngestService(tracker, store, recorder, dispatcher, logger)
	queryService := services.NewQueryService(store, tracker, miner, cacheProvider, cfg.Cache.TTL, logger)

	channelNames := make([]string, 0, len(channels))
	for _, ch := range channels {
		channelNames = append(channelNames, ch.Name())
	}
	handler := api.NewHandler(ingestService, queryService, lifecycle, store, channelNames, logger)

	server, err := api.NewServer(cfg.Server, handler.Router(cfg.Server.APIKey))
	if err != nil {
		logger.Error("failed to create HTTP server", slog.Any("error", err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	fleet := probe.NewFleet(cfg.Probes, ingestService, logger)
	fleet.Start(ctx)

	var metricsServer *http.Server
	if cfg.Server.MetricsAddress != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsServer = &http.Server{
			Addr:         cfg.Server.MetricsAddress,
			Handler:      mux,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 15 * time.Second,
		}
		go func() {
			logger.Info("metrics server listening", slog.String("address", cfg.Server.MetricsAddress))
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server exited", slog.Any("error", err))
				stop()
			}
		}()
	}

	go func() {
		if serveErr := server.Start(); serveErr != nil {
			logger.Error("HTTP server exited", slog.Any("error", serveErr))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulTimeout)
	defer cancel()
	server.Shutdown(shutdownCtx)

	fleet.Wait()

	if dispatcher != nil {
		if err := dispatcher.Close(shutdownCtx); err != nil {
			logger.Warn("alert dispatcher drain incomplete", slog.Any("error", err))
		}
	}

	if metricsServer != nil {
		metricsCtx, cancelMetrics := context.WithTimeout(context.Background(), 5*time.Second)
		if err := metricsServer.Shutdown(metricsCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("metrics server shutdown", slog.Any("error", err))
		}
		cancelMetrics()
	}

	// Give remaining goroutines time to finish logging
	time.Sleep(100 * time.Millisecond)
	logger.Info("pulse-spc stopped")
}

func buildChannels(cfg config.AlertsConfig) []alert.Channel {
	var channels []alert.Channel
	if cfg.WebhookURL != "" {
		channels = append(channels, alert.NewWebhookChannel(cfg.WebhookURL, cfg.AttemptTimeout))
	}
	if cfg.SlackWebhook != "" {
		channels = append(channels, alert.NewSlackChannel(cfg.SlackWebhook, cfg.AttemptTimeout))
	}
	if cfg.Email.Addr != "" && cfg.Email.From != "" && len(cfg.Email.To) > 0 {
		channels = append(channels, alert.NewEmailChannel(cfg.Email.Addr, cfg.Email.From, cfg.Email.To, nil))
	}
	return channels
}

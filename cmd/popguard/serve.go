package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/popguard/internal/config"
	"github.com/fyrsmithlabs/popguard/internal/engine"
	httpapi "github.com/fyrsmithlabs/popguard/internal/http"
	"github.com/fyrsmithlabs/popguard/internal/logging"
	"github.com/fyrsmithlabs/popguard/internal/telemetry"
)

const instrumentationName = "github.com/fyrsmithlabs/popguard"

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the popguard daemon",
		Long: `Run the popguard daemon: the engine behind an HTTP API for the browser
extension. Preference changes in the config file are applied without a
restart; other settings are read at startup only.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, opts)
		},
	}
}

func serve(ctx context.Context, opts *rootOptions) error {
	cfg, path, err := opts.load()
	if err != nil {
		return err
	}

	tel, err := telemetry.New(ctx, telemetry.ConfigFrom(cfg.Observability, version))
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Duration())
		defer cancel()
		_ = tel.Shutdown(shutdownCtx)
	}()

	logCfg, err := logging.ConfigFrom(cfg.Logging)
	if err != nil {
		return fmt.Errorf("invalid logging configuration: %w", err)
	}
	logger, err := logging.NewLogger(logCfg, tel.LoggerProvider())
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()
	zl := logger.Underlying()

	logger.Info(ctx, "starting popguard",
		zap.String("version", version),
		zap.String("config", path),
		zap.String("store", cfg.Store.Driver),
		zap.Bool("telemetry", tel.IsEnabled()))

	st, err := openStore(cfg, zl)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer func() { _ = st.Close() }()

	notifier, closeNotifier, err := buildNotifier(cfg, zl)
	if err != nil {
		return fmt.Errorf("failed to initialize notifications: %w", err)
	}
	defer closeNotifier()

	queue := httpapi.NewQueueChannel(0)
	meter := tel.Meter(instrumentationName)
	eng, err := engine.New(engineConfig(cfg),
		engine.WithStore(st),
		engine.WithNotifier(notifier),
		engine.WithChannel(queue),
		engine.WithLogger(zl),
		engine.WithMeter(meter))
	if err != nil {
		return fmt.Errorf("failed to create engine: %w", err)
	}
	if err := eng.Start(ctx); err != nil {
		return fmt.Errorf("failed to start engine: %w", err)
	}

	srv, err := httpapi.NewServer(eng, queue, logger, &httpapi.Config{
		Host:    cfg.Server.Host,
		Port:    cfg.Server.Port,
		Version: version,
	}, httpapi.WithMeter(meter))
	if err != nil {
		_ = eng.Close(context.Background())
		return fmt.Errorf("failed to create http server: %w", err)
	}

	if w, err := newConfigWatcher(path, zl, func(c *config.Config) {
		applyPreferences(ctx, eng, c, zl)
	}); err != nil {
		logger.Warn(ctx, "config hot reload disabled", zap.Error(err))
	} else {
		go w.Run(ctx)
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case <-ctx.Done():
		logger.Info(ctx, "received shutdown signal")
	case err = <-errCh:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Duration())
	defer cancel()
	if serr := srv.Shutdown(shutdownCtx); serr != nil {
		logger.Warn(shutdownCtx, "http shutdown failed", zap.Error(serr))
	}
	if cerr := eng.Close(shutdownCtx); cerr != nil {
		logger.Warn(shutdownCtx, "engine close failed", zap.Error(cerr))
	}
	logger.Info(shutdownCtx, "popguard stopped")
	return err
}

// applyPreferences pushes the preference part of c into eng.
func applyPreferences(ctx context.Context, eng *engine.Engine, c *config.Config, logger *zap.Logger) {
	prefs := engine.PreferencesFrom(engineConfig(c))
	if err := eng.SetPreferences(ctx, prefs); err != nil {
		logger.Warn("reloaded preferences rejected", zap.Error(err))
		return
	}
	logger.Info("preferences reloaded from config file")
}

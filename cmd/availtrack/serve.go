package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"availtrack/internal/availability"
	"availtrack/internal/config"
	"availtrack/internal/group"
	"availtrack/internal/history"
	"availtrack/internal/logging"
	"availtrack/internal/monitor"
	"availtrack/internal/server"
)

func newServeCommand(configPath *string) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the maintenance scheduler",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.ListenAddr = addr
			}
			return serve(cmd.Context(), cfg, *configPath)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "address for the web server (overrides listen_addr)")
	return cmd
}

func serve(parent context.Context, cfg config.Config, configPath string) error {
	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	reg := buildRegistry(cfg)
	engine := availability.New(store, reg, availability.Options{
		SuspectThreshold: cfg.SuspectThreshold(),
		MergeWorkers:     cfg.MergeWorkers,
		Logger:           logger.Named("availability"),
	})
	queries := history.NewQuerier(store, nil)

	scheduler := monitor.New(engine, cfg.SweepInterval(), cfg.PurgeInterval(), cfg.Retention(), logger.Named("monitor"))
	scheduler.Start()
	defer scheduler.Stop()

	srv := server.New(cfg.ListenAddr, server.Deps{
		Engine:       engine,
		Queries:      queries,
		Groups:       group.NewAggregator(queries, reg),
		Registry:     reg,
		Logger:       logger.Named("http"),
		PushInterval: cfg.PushInterval(),
	})

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("server shutdown", zap.Error(err))
		}
	}()

	logger.Info("availtrack listening",
		zap.String("addr", cfg.ListenAddr),
		zap.String("config", configPath),
		zap.String("storage", cfg.Storage),
		zap.Int("agents", len(cfg.Agents)),
		zap.Int("groups", len(cfg.Groups)))
	if err := srv.Run(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

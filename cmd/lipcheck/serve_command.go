package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/lipcheck/lipcheck/internal/api"
	"github.com/lipcheck/lipcheck/internal/config"
)

const shutdownTimeout = 10 * time.Second

func newServeCommand(cc *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API (default)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), cc)
		},
	}
}

func runServe(ctx context.Context, cc *commandContext) error {
	startTime := time.Now()

	cfg, logger, err := cc.ensureConfig()
	if err != nil {
		return err
	}
	logger.Info("starting lipcheck", "version", config.Version, "data_dir", cfg.DataDir())
	if path := cfg.ConfigPath(); path != "" {
		logger.Info("tunables loaded", "path", path)
	}

	a, err := openApp(cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a.probe(ctx)
	if a.doctor != nil {
		go a.doctor.Run(ctx)
	}
	go a.pruneLoop(ctx)

	apiServer := api.NewServer(api.ServerConfig{
		Addr:           cfg.Addr(),
		Verifier:       a.verifier,
		Runs:           a.runs,
		Doctor:         a.doctor,
		Logger:         logger,
		StartTime:      startTime,
		Version:        config.Version,
		MaxUploadBytes: cfg.MaxUploadBytes(),
	})

	errCh := make(chan error, 1)
	go func() {
		errCh <- apiServer.Start()
	}()

	select {
	case err := <-errCh:
		if err != nil {
			logger.Error("HTTP server error", "error", err)
		}
		return err
	case <-ctx.Done():
	}

	logger.Info("initiating graceful shutdown")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shutdown HTTP server", "error", err)
	}

	logger.Info("shutdown complete")
	return nil
}


package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Abdullah-AboOun/CertifyChain/internal/api"
	"github.com/Abdullah-AboOun/CertifyChain/internal/chain"
	"github.com/Abdullah-AboOun/CertifyChain/internal/database"
	"github.com/Abdullah-AboOun/CertifyChain/internal/metrics"
	"github.com/Abdullah-AboOun/CertifyChain/internal/telemetry"
	"github.com/Abdullah-AboOun/CertifyChain/internal/upload"
)

const shutdownTimeout = 30 * time.Second

func serveCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the record store API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.serve(cmd.Context())
		},
	}
}

func (a *app) serve(parent context.Context) error {
	cfg, logger := a.cfg, a.logger
	if err := cfg.ValidateServer(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if err := cfg.ValidateChain(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("Starting CertifyChain",
		zap.String("version", version),
		zap.String("database", cfg.Database.Type),
		zap.String("contract", cfg.Chain.ContractAddress),
	)

	shutdownTracing, err := telemetry.Setup(ctx, cfg.Tracing, programName, version)
	if err != nil {
		return err
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			logger.Warn("Failed to flush traces", zap.Error(err))
		}
	}()

	db, err := database.New(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer db.Close()

	if err := db.Migrate(); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	m := metrics.New()

	// read-only: the server never signs transactions
	reader, err := chain.Dial(ctx, cfg.Chain, nil, m, logger)
	if err != nil {
		return fmt.Errorf("failed to connect to chain: %w", err)
	}
	defer reader.Close()

	uploads, err := upload.New(ctx, cfg.Upload, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize upload store: %w", err)
	}
	defer uploads.Close()

	router := api.NewRouter(cfg, db, reader, uploads, m, logger)

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Starting HTTP server",
			zap.String("address", srv.Addr),
			zap.Bool("tls", cfg.Server.TLSEnabled),
		)

		var err error
		if cfg.Server.TLSEnabled {
			err = srv.ListenAndServeTLS(cfg.Server.TLSCert, cfg.Server.TLSKey)
		} else {
			err = srv.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	case <-ctx.Done():
	}

	logger.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	logger.Info("Server stopped")
	return nil
}

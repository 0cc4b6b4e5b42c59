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

	transporthttp "github.com/saviocipriano12/pedraum-sub001/internal/transport/http"
)

const shutdownTimeout = 10 * time.Second

func serveCmd(load loader) *cobra.Command {
	var withWorkers bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the checkout, webhook and admin HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := load()
			if err != nil {
				return err
			}

			stopCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			b, err := openBackend(stopCtx, cfg, logger)
			if err != nil {
				return err
			}
			defer b.close()
			eng := newEngine(b, cfg, logger)

			if cfg.Webhook.Secret == "" {
				logger.Warn("webhook signature check disabled", "event", "webhook_secret_missing", "module", "unlock-engine", "layer", "bootstrap")
			}

			handler := transporthttp.NewRouter(transporthttp.Services{
				Resources:  eng.resources,
				Checkout:   eng.checkout,
				Orders:     eng.ledger,
				Reconciler: eng.reconciler,
				Deliveries: eng.reconciler,
				Ready:      b.ready,
			}, transporthttp.RouterConfig{
				CORSOrigins:   cfg.CORSOrigins,
				WebhookSecret: cfg.Webhook.Secret,
				Logger:        logger,
			})

			server := &http.Server{
				Addr:              ":" + cfg.Port,
				Handler:           handler,
				ReadHeaderTimeout: 5 * time.Second,
			}

			workersDone := make(chan error, 1)
			if withWorkers {
				go func() { workersDone <- runWorkers(stopCtx, eng, cfg, logger) }()
			} else {
				close(workersDone)
			}

			logger.Info("api listening", "event", "server_started", "module", "unlock-engine", "layer", "bootstrap", "port", cfg.Port, "workers", withWorkers)

			srvErr := make(chan error, 1)
			go func() {
				srvErr <- server.ListenAndServe()
			}()

			select {
			case err := <-srvErr:
				if err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Error("server error", "event", "server_failed", "module", "unlock-engine", "layer", "bootstrap", "error", err.Error())
				}
				stop()
			case <-stopCtx.Done():
				logger.Info("shutdown signal received, stopping server", "event", "server_stopping", "module", "unlock-engine", "layer", "bootstrap")
			}

			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer shutdownCancel()
			if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("server shutdown error", "event", "server_shutdown_failed", "module", "unlock-engine", "layer", "bootstrap", "error", err.Error())
			}
			if err := <-workersDone; err != nil {
				logger.Error("workers stopped with error", "event", "workers_failed", "module", "unlock-engine", "layer", "bootstrap", "error", err.Error())
			}
			logger.Info("server stopped", "event", "server_stopped", "module", "unlock-engine", "layer", "bootstrap")
			return nil
		},
	}
	cmd.Flags().BoolVar(&withWorkers, "with-workers", false, "also run the sweeper and refund relay in this process")
	return cmd
}

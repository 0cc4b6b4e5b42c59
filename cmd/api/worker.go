package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/saviocipriano12/pedraum-sub001/internal/config"
)

func workerCmd(load loader) *cobra.Command {
	var once bool
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Run the stale-order sweeper and the refund relay",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := load()
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			b, err := openBackend(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer b.close()
			eng := newEngine(b, cfg, logger)

			if once {
				sweep, err := eng.sweeper.SweepOnce(ctx)
				if err != nil {
					return err
				}
				relay, err := eng.refunds.RelayOnce(ctx)
				if err != nil {
					return err
				}
				logger.Info("worker pass finished",
					"event", "worker_pass_finished",
					"module", "unlock-engine",
					"layer", "bootstrap",
					"checked", sweep.Checked,
					"reconciled", sweep.Reconciled,
					"expired", sweep.Expired,
					"sweep_failed", sweep.Failed,
					"refunded", relay.Refunded,
					"refund_retried", relay.Retried,
					"refund_failed", relay.Failed,
				)
				return nil
			}
			return runWorkers(ctx, eng, cfg, logger)
		},
	}
	cmd.Flags().BoolVar(&once, "once", false, "run a single sweep and relay pass, then exit")
	return cmd
}

// runWorkers blocks until ctx is cancelled or a worker fails.
func runWorkers(ctx context.Context, eng *engine, cfg config.Config, logger *slog.Logger) error {
	logger.Info("workers started",
		"event", "workers_started",
		"module", "unlock-engine",
		"layer", "bootstrap",
		"sweep_interval", cfg.Sweep.Interval.String(),
		"refund_interval", cfg.Refunds.Interval.String(),
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return eng.sweeper.Run(gctx, cfg.Sweep.Interval) })
	g.Go(func() error { return eng.refunds.Run(gctx, cfg.Refunds.Interval) })
	return g.Wait()
}

package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/saviocipriano12/pedraum-sub001/internal/config"
	"github.com/saviocipriano12/pedraum-sub001/migrations"
)

func migrateCmd(load loader) *cobra.Command {
	var status bool
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply the embedded Postgres migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := load()
			if err != nil {
				return err
			}
			if cfg.StoreDriver != config.DriverPostgres {
				return fmt.Errorf("migrate needs store_driver=%s, got %s", config.DriverPostgres, cfg.StoreDriver)
			}

			pool, err := openPool(cmd.Context(), cfg.DatabaseURL)
			if err != nil {
				return err
			}
			defer pool.Close()

			if !status {
				if err := migrations.Apply(cmd.Context(), pool); err != nil {
					return fmt.Errorf("apply migrations: %w", err)
				}
				logger.Info("migrations applied", "event", "migrations_applied", "module", "unlock-engine", "layer", "bootstrap")
			}

			statuses, err := migrations.Pending(cmd.Context(), pool)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "MIGRATION\tAPPLIED AT")
			for _, st := range statuses {
				applied := "pending"
				if st.AppliedAt != nil {
					applied = st.AppliedAt.UTC().Format(time.RFC3339)
				}
				fmt.Fprintf(w, "%s\t%s\n", st.Name, applied)
			}
			return w.Flush()
		},
	}
	cmd.Flags().BoolVar(&status, "status", false, "only report which migrations are applied")
	return cmd
}

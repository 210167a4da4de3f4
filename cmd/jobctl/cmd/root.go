package cmd

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"storefront/worker/internal/config"
	"storefront/worker/internal/database"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "jobctl",
	Short: "Submit and inspect image enhancement jobs",
	Long: `jobctl talks directly to the job store and trigger stream used by the
enhancement worker.

Common workflows:

  Apply database migrations:
    jobctl migrate

  Queue an enhancement for a product image:
    jobctl submit --store s1 --product p1 --media m1 --image-url https://cdn/x/photo.jpg

  Check a job:
    jobctl status <job-id>

Configuration is read the same way as the worker: worker.yaml in the working
directory or ./config, overridden by STOREFRONT_WORKER_* environment variables.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load()
		if err != nil {
			return err
		}
		cfg = loaded
		return nil
	},
}

func Execute() error {
	return rootCmd.Execute()
}

func openPool(ctx context.Context) (*pgxpool.Pool, error) {
	if cfg.Postgres.DSN == "" {
		return nil, errors.New("postgres.dsn is required (set STOREFRONT_WORKER_POSTGRES_DSN)")
	}
	return database.NewPostgresPool(ctx, cfg.Postgres)
}

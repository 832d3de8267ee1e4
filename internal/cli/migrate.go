package cli

import (
	"fmt"

	"github.com/gurssagar/finalicp-sub006/internal/config"
	"github.com/gurssagar/finalicp-sub006/internal/db"
	"github.com/gurssagar/finalicp-sub006/migrations"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newMigrateCmd() *cobra.Command {
	migrateCmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		Args:  cobra.NoArgs,
		RunE:  runMigrate,
	}
	migrateCmd.Flags().String("dsn", "", "Postgres DSN (defaults to POSTGRES_DSN)")
	migrateCmd.Flags().Bool("list", false, "List embedded migrations without connecting")
	return migrateCmd
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	list, _ := cmd.Flags().GetBool("list")
	if list {
		files, err := db.PendingCandidates(migrations.FS)
		if err != nil {
			return err
		}
		for _, f := range files {
			fmt.Fprintln(cmd.OutOrStdout(), f)
		}
		return nil
	}

	dsn, _ := cmd.Flags().GetString("dsn")
	if dsn == "" {
		dsn = config.Load().PostgresDSN
	}

	log, err := zap.NewDevelopment()
	if err != nil {
		return err
	}
	defer log.Sync()

	ctx := cmd.Context()
	pool, err := db.NewPostgresPool(ctx, dsn, log)
	if err != nil {
		return fmt.Errorf("connect to postgres: %w", err)
	}
	defer pool.Close()

	return db.RunMigrations(ctx, pool, migrations.FS, log)
}

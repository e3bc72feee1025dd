package cli

import (
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/go-arrower/uow/postgres"
)

func newMigrateCmd(a *app) *cobra.Command {
	var wait time.Duration

	migrateCmd := &cobra.Command{
		Use:   "migrate",
		Short: "Migrate the database schema with the files of postgres.migrations_dir",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			_ = cmd.Help()
		},
	}

	migrateCmd.PersistentFlags().DurationVar(&wait, "wait", 0, "wait up to this long for the database, e.g. 30s")

	migrateCmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply all migrations",
		Args:  cobra.NoArgs,
		RunE: a.run(func(cmd *cobra.Command, _ []string) error {
			pg, err := a.migrator(cmd, wait)
			if err != nil {
				return err
			}

			if err := pg.MigrateUp(); err != nil {
				return err //nolint:wrapcheck // postgres errors are descriptive
			}

			return a.printVersion(cmd, pg)
		}),
	})

	migrateCmd.AddCommand(&cobra.Command{
		Use:   "down [n]",
		Short: "Revert the last n migrations, all of them without n",
		Args:  cobra.MaximumNArgs(1),
		RunE: a.run(func(cmd *cobra.Command, args []string) error {
			steps := 0

			if len(args) == 1 {
				n, err := strconv.Atoi(args[0])
				if err != nil || n < 1 {
					return fmt.Errorf("%w: n must be a positive number, got %q", ErrCommandFailed, args[0])
				}

				steps = n
			}

			pg, err := a.migrator(cmd, wait)
			if err != nil {
				return err
			}

			if err := pg.MigrateDown(steps); err != nil {
				return err //nolint:wrapcheck // postgres errors are descriptive
			}

			return a.printVersion(cmd, pg)
		}),
	})

	migrateCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the applied migration version",
		Args:  cobra.NoArgs,
		RunE: a.run(func(cmd *cobra.Command, _ []string) error {
			pg, err := a.migrator(cmd, wait)
			if err != nil {
				return err
			}

			return a.printVersion(cmd, pg)
		}),
	})

	return migrateCmd
}

func (a *app) migrator(cmd *cobra.Command, wait time.Duration) (*postgres.Handler, error) {
	if a.conf.Postgres.MigrationsDir == "" {
		return nil, fmt.Errorf("%w: postgres.migrations_dir is not set", ErrCommandFailed)
	}

	return a.connect(cmd.Context(), wait)
}

func (a *app) printVersion(cmd *cobra.Command, pg *postgres.Handler) error {
	version, dirty, err := pg.MigrationVersion()
	if err != nil {
		return err //nolint:wrapcheck // postgres errors are descriptive
	}

	a.logger.InfoContext(cmd.Context(), "migration version",
		slog.Uint64("version", uint64(version)),
		slog.Bool("dirty", dirty),
	)

	green := color.New(color.FgGreen, color.Bold).FprintfFunc()
	red := color.New(color.FgRed, color.Bold).FprintfFunc()

	if dirty {
		red(cmd.OutOrStdout(), "version %d (dirty)\n", version)
		return nil
	}

	green(cmd.OutOrStdout(), "version %d\n", version)

	return nil
}

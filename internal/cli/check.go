package cli

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/go-arrower/uow"
	"github.com/go-arrower/uow/alog"
)

func newCheckCmd(a *app) *cobra.Command {
	var wait time.Duration

	checkCmd := &cobra.Command{
		Use:   "check",
		Short: "Check that the database is reachable and a unit of work can be opened on it",
		Args:  cobra.NoArgs,
		RunE: a.run(func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			red := color.New(color.FgRed, color.Bold).FprintlnFunc()

			pg, err := a.connect(ctx, wait)
			if err != nil {
				red(cmd.OutOrStdout(), "database not reachable")
				return err
			}

			u, err := uow.Open(ctx, pg.Open, uow.WithLogger(a.logger), uow.WithTracerProvider(a.tracerProvider))
			if err != nil {
				red(cmd.OutOrStdout(), "could not open a unit of work")
				return err //nolint:wrapcheck // uow errors are descriptive
			}

			if err := u.Dispose(ctx); err != nil {
				a.logger.InfoContext(ctx, "could not dispose unit of work", alog.Error(err))
			}

			version, dirty, err := pg.MigrationVersion()
			if err != nil {
				a.logger.DebugContext(ctx, "no migration version", alog.Error(err))
			}

			a.logger.InfoContext(ctx, "database reachable", slog.String("uow", u.ID().String()))

			green := color.New(color.FgGreen, color.Bold).FprintfFunc()
			green(cmd.OutOrStdout(), "ok")

			if err == nil {
				fmt.Fprintf(cmd.OutOrStdout(), " (migration version %d, dirty: %t)", version, dirty)
			}

			fmt.Fprintln(cmd.OutOrStdout())

			return nil
		}),
	}

	checkCmd.Flags().DurationVar(&wait, "wait", 0, "wait up to this long for the database, e.g. 30s")

	return checkCmd
}

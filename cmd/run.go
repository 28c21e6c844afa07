package cmd

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/condorfx/mailroom/extract"
)

const stopTimeout = 30 * time.Second

// RunCmd starts monitoring and blocks until interrupted.
func RunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start monitoring the confirmations mailbox",
		Long:  "Initializes the ingestion pipeline and polls the mailbox until interrupted.",
	}
	configPath, debug := addCommonFlags(cmd)

	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		c, err := openCore(*configPath, *debug)
		if err != nil {
			return err
		}
		defer c.close()

		pl, err := connect(ctx, c, extract.Discard)
		if err != nil {
			return err
		}
		if err := pl.supervisor.Initialize(ctx); err != nil {
			return err
		}
		if err := pl.supervisor.Start(c.cfg.CheckInterval()); err != nil {
			return err
		}

		<-ctx.Done()
		c.logger.Info().Msg("shutting down")

		stopCtx, cancel := context.WithTimeout(context.Background(), stopTimeout)
		defer cancel()
		return pl.supervisor.Stop(stopCtx)
	}
	return cmd
}

package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/condorfx/mailroom/bus"
	"github.com/condorfx/mailroom/extract"
	"github.com/condorfx/mailroom/tui"
)

// TailCmd runs monitoring with a terminal view over the event stream.
func TailCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Monitor the mailbox with a live event view",
	}
	configPath, debug := addCommonFlags(cmd)
	types := cmd.Flags().StringSlice("type", nil, "only show these event types")
	priorities := cmd.Flags().StringSlice("priority", nil, "only show these priorities (high, medium, low)")
	clientID := cmd.Flags().String("client", "", "only show events for this client id")

	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

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
		defer pl.supervisor.Stop(ctx)

		filter := bus.Filter{ClientID: *clientID}
		for _, t := range *types {
			filter.Types = append(filter.Types, bus.EventType(t))
		}
		for _, p := range *priorities {
			filter.Priorities = append(filter.Priorities, bus.Priority(p))
		}

		status := func() string {
			s := pl.supervisor.Status()
			return fmt.Sprintf("%s | cursor %d | processed %d",
				s.MonitoringEmail, s.LastHistoryID, s.ProcessedMessageCount)
		}
		return tui.NewTail(c.events, filter, status).Run()
	}
	return cmd
}

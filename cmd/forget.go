package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// ForgetCmd removes a message from the dedup ledger so the next poll that
// offers it processes it again.
func ForgetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "forget <message-id>",
		Short: "Allow a processed message to be picked up again",
		Args:  cobra.ExactArgs(1),
	}
	configPath, debug := addCommonFlags(cmd)

	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		c, err := openCore(*configPath, *debug)
		if err != nil {
			return err
		}
		defer c.close()

		id := args[0]
		if err := c.ledger.Forget(id); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "forgot %s\n", id)
		return nil
	}
	return cmd
}

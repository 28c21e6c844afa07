package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/condorfx/mailroom/extract"
)

// CheckCmd runs a single poll tick and prints the result.
func CheckCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Poll the mailbox once and report what was processed",
	}
	configPath, debug := addCommonFlags(cmd)

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
		result, err := pl.supervisor.CheckNow(ctx)
		if err != nil {
			return err
		}

		out, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to encode result: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(out))
		return nil
	}
	return cmd
}

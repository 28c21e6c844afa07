package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/condorfx/mailroom/cmd"
)

func main() {
	root := &cobra.Command{
		Use:   "mailroom",
		Short: "Gmail ingestion for the shared confirmations mailbox",
		Long: "mailroom watches a shared Gmail mailbox for trade confirmations,\n" +
			"processes each message exactly once, and publishes events for\n" +
			"connected consumers.",
		SilenceUsage: true,
	}

	root.AddCommand(
		cmd.RunCmd(),
		cmd.CheckCmd(),
		cmd.StatusCmd(),
		cmd.TailCmd(),
		cmd.ForgetCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// Package cli implements testctl, a terminal client that runs a timed test
// session locally against the candidate REST API.
package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/stemsi/jobportal-backend/internal/config"
)

// Version is set at build time with -ldflags "-X .../internal/cli.Version=...".
var Version = "dev"

// ExecuteContext runs the CLI; cancelling ctx stops a running attempt.
func ExecuteContext(ctx context.Context) error {
	return NewRootCmd(config.Load()).ExecuteContext(ctx)
}

// NewRootCmd builds the testctl command tree.
func NewRootCmd(cfg *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "testctl",
		Short:         "Take an assigned timed test from the terminal",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.AddCommand(NewTakeCmd(cfg))
	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the testctl version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "testctl", Version)
		},
	})
	return cmd
}

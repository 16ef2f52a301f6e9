// Command trackrec inspects, converts and repairs track recordings.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"example.com/radarwire/internal/common"
)

var (
	version   = "dev"
	buildDate = "unknown"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		common.Errorf("%v", err)
		stop()
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "trackrec",
		Short:         "Inspect and manage track recordings",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			level, _ := cmd.Flags().GetString("log-level")
			return common.SetupLogging(common.LogOptions{Level: level})
		},
	}
	cmd.PersistentFlags().String("log-level", "info", "log level: debug, info, warn or error")

	cmd.AddCommand(
		newInspectCmd(),
		newSeekCmd(),
		newReportCmd(),
		newImportPcapCmd(),
		newReindexCmd(),
		newFollowCmd(),
		newVersionCmd(),
	)
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "trackrec %s (built %s)\n", version, buildDate)
		},
	}
}

// parseTime accepts unix seconds or RFC 3339.
func parseTime(s string) (time.Time, error) {
	if secs, err := strconv.ParseUint(s, 10, 32); err == nil {
		return time.Unix(int64(secs), 0).UTC(), nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("time %q: want unix seconds or RFC 3339", s)
	}
	return t.UTC(), nil
}

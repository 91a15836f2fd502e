package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Version information
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	rootCmd := &cobra.Command{
		Use:   "jobber",
		Short: "Jobber background services",
		Long: `Jobber runs the message-driven parts of the marketplace: the notification
service that turns auth and order events into emails, and the users service that
keeps buyer and seller documents in sync with order, review and gig events.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, gitCommit, buildTime),
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "YAML config file (environment variables override it)")

	rootCmd.AddCommand(
		newNotificationCmd(&configPath),
		newUsersCmd(&configPath),
		newPublishCmd(&configPath),
		newHealthCmd(&configPath),
	)

	return rootCmd
}

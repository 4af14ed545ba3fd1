package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

func defaultConfigPath() string {
	if configPath := os.Getenv("CONFIG_PATH"); configPath != "" {
		return configPath
	}
	cwd, err := os.Getwd()
	if err != nil {
		return "config.yaml"
	}
	return filepath.Join(cwd, "config.yaml")
}

func newRootCmd() *cobra.Command {
	var configPath string
	root := &cobra.Command{
		Use:   "opsctl",
		Short: "Operate a contentdesk deployment",
		Long: `opsctl runs maintenance tasks against the database and services
configured for the contentdesk server.

Available commands:
  migrate         - Create missing database tables
  seed-plans      - Insert the default subscription plans
  publish-due     - Publish scheduled posts that are due
  reconcile-jobs  - Poll stale generation jobs and record their results
  realtime-token  - Issue a realtime token for debugging subscriptions
  session-token   - Sign a session token for HMAC development setups`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", defaultConfigPath(), "path to config.yaml")

	root.AddCommand(
		newMigrateCmd(&configPath),
		newSeedPlansCmd(&configPath),
		newPublishDueCmd(&configPath),
		newReconcileJobsCmd(&configPath),
		newRealtimeTokenCmd(&configPath),
		newSessionTokenCmd(&configPath),
	)
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

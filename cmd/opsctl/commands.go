package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/jo-hoe/contentdesk/internal/backend/auth"
	"github.com/jo-hoe/contentdesk/internal/backend/database"
	"github.com/jo-hoe/contentdesk/internal/core"
	"github.com/spf13/cobra"
)

// withCore loads the config and runs fn against a started core service.
func withCore(cmd *cobra.Command, configPath string, fn func(ctx context.Context, service *core.CoreService) error) error {
	config, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	service, err := core.NewCoreService(cmd.Context(), config)
	if err != nil {
		return fmt.Errorf("failed to start core service: %w", err)
	}
	defer func() {
		if err := service.Close(); err != nil {
			slog.Warn("failed to close core service", "error", err)
		}
	}()
	return fn(cmd.Context(), service)
}

func loadConfig(configPath string) (*core.ServiceConfig, error) {
	config, err := core.LoadConfig(configPath)
	if err != nil {
		return nil, err
	}
	slog.SetDefault(core.NewLogger(config.Log, os.Stderr))
	return config, nil
}

func newMigrateCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create missing database tables",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			config, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			db, err := database.NewDatabase(config.Database.Type, config.Database.ConnectionString)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "schema of %s database is up to date\n", config.Database.Type)
			return db.Close()
		},
	}
}

func newSeedPlansCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "seed-plans",
		Short: "Insert the default subscription plans",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withCore(cmd, *configPath, func(ctx context.Context, service *core.CoreService) error {
				added, err := service.SeedPlans(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "added %d plans\n", added)
				return nil
			})
		},
	}
}

func newPublishDueCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "publish-due",
		Short: "Publish scheduled posts that are due",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withCore(cmd, *configPath, func(ctx context.Context, service *core.CoreService) error {
				return service.SweepPosts(ctx)
			})
		},
	}
}

func newReconcileJobsCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile-jobs",
		Short: "Poll stale generation jobs and record their results",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withCore(cmd, *configPath, func(ctx context.Context, service *core.CoreService) error {
				finished, err := service.ReconcileStaleJobs(ctx)
				fmt.Fprintf(cmd.OutOrStdout(), "finished %d jobs\n", finished)
				return err
			})
		},
	}
}

func newRealtimeTokenCmd(configPath *string) *cobra.Command {
	var clientID string
	var channels []string
	cmd := &cobra.Command{
		Use:   "realtime-token",
		Short: "Issue a realtime token for debugging subscriptions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withCore(cmd, *configPath, func(_ context.Context, service *core.CoreService) error {
				token, claims, err := service.Tokens().Issue(clientID, channels)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s\nexpires %s\n", token, claims.ExpiresAt.Format(time.RFC3339))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&clientID, "user", "", "client id the token is issued to")
	cmd.Flags().StringSliceVar(&channels, "channel", nil, "channel the token may subscribe to (repeatable)")
	_ = cmd.MarkFlagRequired("user")
	_ = cmd.MarkFlagRequired("channel")
	return cmd
}

func newSessionTokenCmd(configPath *string) *cobra.Command {
	var userID, email string
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "session-token",
		Short: "Sign a session token for HMAC development setups",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			config, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			if config.Auth.HMACSecret == "" {
				return errors.New("session tokens can only be signed when auth.hmacSecret is configured")
			}
			token, err := auth.SignSessionToken(config.Auth.HMACSecret, config.Auth.Issuer, userID, email, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "user id placed in the subject claim")
	cmd.Flags().StringVar(&email, "email", "", "optional email claim")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

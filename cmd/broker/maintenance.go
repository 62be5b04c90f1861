package main

import (
	"context"
	"encoding/json"
	"fmt"

	broker "github.com/goliatone/go-integration-broker"
	"github.com/goliatone/go-integration-broker/command"
	"github.com/goliatone/go-integration-broker/core"
	sqlstore "github.com/goliatone/go-integration-broker/store/sql"
	"github.com/spf13/cobra"
)

func newMigrateCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			cfg, err := opts.loadConfig(ctx)
			if err != nil {
				return err
			}
			client, err := sqlstore.OpenClient(cfg.Database)
			if err != nil {
				return err
			}
			defer client.Close()
			if err := broker.Migrate(ctx, client, cfg.Database.Driver); err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "migrations applied (%s)\n", cfg.Database.Driver)
			return err
		},
	}
}

func newPruneCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "prune",
		Short: "Delete replay guard entries past retention",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return opts.withBroker(cmd, func(ctx context.Context, b *broker.Broker) error {
				pruned, err := command.Run[command.PruneReplayGuardMessage, int](ctx, b.Facade().Commands().PruneReplayGuard, command.PruneReplayGuardMessage{})
				if err != nil {
					return err
				}
				_, err = fmt.Fprintf(cmd.OutOrStdout(), "pruned %d replay guard entries\n", pruned)
				return err
			})
		},
	}
}

type rotateOptions struct {
	tenant    string
	provider  string
	secret    string
	accountID string
}

func newRotateSecretCmd(opts *rootOptions) *cobra.Command {
	rotate := &rotateOptions{}
	cmd := &cobra.Command{
		Use:   "rotate-secret",
		Short: "Rotate a tenant's webhook secret; prints a generated secret once",
		RunE: func(cmd *cobra.Command, _ []string) error {
			tenant, err := core.ParseTenantID(rotate.tenant)
			if err != nil {
				return err
			}
			provider, err := core.ParseProvider(rotate.provider)
			if err != nil {
				return err
			}
			return opts.withBroker(cmd, func(ctx context.Context, b *broker.Broker) error {
				out, err := command.Run[command.RotateWebhookSecretMessage, core.RotatedWebhookSecret](ctx, b.Facade().Commands().RotateWebhookSecret, command.RotateWebhookSecretMessage{
					Tenant:    tenant,
					Provider:  provider,
					Secret:    rotate.secret,
					AccountID: rotate.accountID,
				})
				if err != nil {
					return err
				}
				encoder := json.NewEncoder(cmd.OutOrStdout())
				encoder.SetIndent("", "  ")
				return encoder.Encode(out)
			})
		},
	}
	cmd.Flags().StringVar(&rotate.tenant, "tenant", "", "Tenant id")
	cmd.Flags().StringVar(&rotate.provider, "provider", "", "Provider: slack, github, google or jira")
	cmd.Flags().StringVar(&rotate.secret, "secret", "", "New secret; generated when empty")
	cmd.Flags().StringVar(&rotate.accountID, "account-id", "", "Provider account id used to route deliveries")
	_ = cmd.MarkFlagRequired("tenant")
	_ = cmd.MarkFlagRequired("provider")
	return cmd
}

package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	broker "github.com/goliatone/go-integration-broker"
	"github.com/spf13/cobra"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP surface and background workers",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			cmd.SetContext(ctx)

			return opts.withBroker(cmd, func(ctx context.Context, b *broker.Broker) error {
				if err := b.Start(ctx); err != nil {
					return err
				}
				return b.Serve(ctx)
			})
		},
	}
	cmd.Flags().BoolVar(&opts.memory, "memory", false, "Keep all state in process memory")
	return cmd
}

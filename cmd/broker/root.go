package main

import (
	"context"
	"fmt"
	"io"

	broker "github.com/goliatone/go-integration-broker"
	"github.com/goliatone/go-integration-broker/adapters/gologger"
	"github.com/goliatone/go-integration-broker/core"
	"github.com/spf13/cobra"
)

type rootOptions struct {
	logLevel  string
	overrides []string
	memory    bool
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:          "broker",
		Short:        "Multi-tenant integration broker",
		Long:         "Receives provider webhooks and OAuth callbacks, verifies them and dispatches normalized events to the workflow orchestrator.",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "info", "Log level: trace, debug, info, warn or error")
	root.PersistentFlags().StringArrayVar(&opts.overrides, "set", nil, "Config override as dotted key=value, e.g. database.dsn=file:broker.db (repeatable)")

	root.AddCommand(
		newServeCmd(opts),
		newMigrateCmd(opts),
		newPruneCmd(opts),
		newRotateSecretCmd(opts),
	)
	return root
}

// loadConfig layers BROKER_ environment variables under --set overrides.
func (o *rootOptions) loadConfig(ctx context.Context) (broker.Config, error) {
	overrides, err := core.ParseOverrides(o.overrides)
	if err != nil {
		return broker.Config{}, err
	}
	return broker.LoadConfig(ctx, overrides)
}

func (o *rootOptions) logger(w io.Writer) *gologger.SlogLogger {
	return gologger.NewJSONLogger(w, o.logLevel)
}

// withBroker builds a broker for one command run and closes it afterwards.
func (o *rootOptions) withBroker(cmd *cobra.Command, run func(context.Context, *broker.Broker) error) error {
	ctx := cmd.Context()
	cfg, err := o.loadConfig(ctx)
	if err != nil {
		return err
	}
	opts := []broker.Option{broker.WithLogger(o.logger(cmd.ErrOrStderr()))}
	if o.memory {
		opts = append(opts, broker.WithMemoryStores())
	}
	b, err := broker.New(ctx, cfg, opts...)
	if err != nil {
		return fmt.Errorf("build broker: %w", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.HTTP.ShutdownTimeout)
		defer cancel()
		_ = b.Close(closeCtx)
	}()
	return run(ctx, b)
}

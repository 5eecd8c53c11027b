package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fixit-services/dispatch/cmd/dispatcher"
	"github.com/fixit-services/dispatch/cmd/migrate"
	"github.com/fixit-services/dispatch/cmd/server"
	"github.com/fixit-services/dispatch/internal/cli"
	"github.com/fixit-services/dispatch/internal/shared/config"
	"github.com/spf13/cobra"
)

func main() {
	// create context cancelled on SIGINT/SIGTERM signals ensuring graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	root := newRootCmd()
	root.SetArgs(cli.NormalizeArgs(os.Args[1:]))

	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var logLevel string

	root := &cobra.Command{
		Use:           "dispatch",
		Short:         "Real-time job dispatch for home-service workers",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cli.PrintUsage(cmd.OutOrStderr())
			return fmt.Errorf("a mode is required")
		},
	}
	root.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override LOG_LEVEL (debug, info, warn, error)")

	// loadConfig reads the environment and applies the flags shared by every mode.
	loadConfig := func() (*config.Config, error) {
		cfg, err := config.Load()
		if err != nil {
			return nil, err
		}
		if logLevel != "" {
			cfg.LogLevel = logLevel
		}
		return cfg, nil
	}

	root.AddCommand(
		newServerCmd(loadConfig),
		newDispatcherCmd(loadConfig),
		newMigrateCmd(loadConfig),
	)
	return root
}

func newServerCmd(loadConfig func() (*config.Config, error)) *cobra.Command {
	var (
		port  int
		embed bool
	)

	cmd := &cobra.Command{
		Use:   cli.ModeServer,
		Short: "Websocket gateway, job lifecycle and operator API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("port") {
				if port <= 0 || port > 65535 {
					return fmt.Errorf("--port must be between 1 and 65535")
				}
				cfg.HTTP.Port = port
			}
			return server.Run(cmd.Context(), cfg, server.Options{EmbedDispatcher: embed})
		},
	}
	cmd.Flags().IntVar(&port, "port", 0, "HTTP port for the websocket and operator API (overrides HTTP_PORT)")
	cmd.Flags().BoolVar(&embed, "embed-dispatcher", true, "Consume job.created messages in this process")
	return cmd
}

func newDispatcherCmd(loadConfig func() (*config.Config, error)) *cobra.Command {
	var metricsPort, prefetch int

	cmd := &cobra.Command{
		Use:   cli.ModeDispatcher,
		Short: "RabbitMQ consumer that broadcasts job offers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("metrics-port") {
				if metricsPort <= 0 || metricsPort > 65535 {
					return fmt.Errorf("--metrics-port must be between 1 and 65535")
				}
				cfg.HTTP.MetricsPort = metricsPort
			}
			if cmd.Flags().Changed("prefetch") {
				if prefetch <= 0 {
					return fmt.Errorf("--prefetch must be > 0")
				}
				cfg.RabbitMQ.Prefetch = prefetch
			}
			return dispatcher.Run(cmd.Context(), cfg)
		},
	}
	cmd.Flags().IntVar(&metricsPort, "metrics-port", 0, "HTTP port for health and metrics (overrides HTTP_METRICS_PORT)")
	cmd.Flags().IntVar(&prefetch, "prefetch", 0, "RabbitMQ prefetch count (overrides RABBITMQ_PREFETCH)")
	return cmd
}

func newMigrateCmd(loadConfig func() (*config.Config, error)) *cobra.Command {
	return &cobra.Command{
		Use:   cli.ModeMigrate,
		Short: "Apply the database schema and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			return migrate.Run(cmd.Context(), cfg)
		},
	}
}

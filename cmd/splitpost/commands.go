// commands.go contains all cobra command definitions and their flag
// configurations. Each command builder creates a command and wires it to its
// handler in handlers.go.
package main

import (
	"github.com/spf13/cobra"
)

const defaultServerURL = "http://127.0.0.1:8337"

// buildServeCmd creates the "serve" command that starts the experiment
// service. This is the primary command for running splitpost in production.
func buildServeCmd() *cobra.Command {
	var (
		configPath string
		debug      bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the splitpost experiment service",
		Long: `Start the experiment service with the lifecycle engine, the HTTP
API, and (if configured) the autopost scheduler.

Graceful shutdown is handled on SIGINT/SIGTERM signals: in-flight publishes
finish and partially-advanced experiments resume on restart.`,
		Example: `  # Start with default config
  splitpost serve

  # Start with custom config
  splitpost serve --config /etc/splitpost/production.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), configPath, debug)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file")
	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging")

	return cmd
}

// buildCreateCmd creates the "create" command that submits an experiment to a
// running server.
func buildCreateCmd() *cobra.Command {
	var (
		serverURL string
		campaign  string
		texts     []string
		tags      []string
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an experiment",
		Example: `  splitpost create --campaign launch-week \
    --text "Ship day! Here's what's new." \
    --text "We just launched. A thread:" \
    --tag launch`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCreate(cmd.Context(), serverURL, campaign, texts, tags)
		},
	}

	cmd.Flags().StringVar(&serverURL, "server", defaultServerURL, "Server base URL")
	cmd.Flags().StringVar(&campaign, "campaign", "", "Campaign id (required)")
	cmd.Flags().StringArrayVar(&texts, "text", nil, "Variant text (repeat per variant)")
	cmd.Flags().StringArrayVar(&tags, "tag", nil, "Tag attached to every variant (repeatable)")
	_ = cmd.MarkFlagRequired("campaign")

	return cmd
}

// buildGetCmd creates the "get" command that prints one experiment.
func buildGetCmd() *cobra.Command {
	var serverURL string

	cmd := &cobra.Command{
		Use:   "get <experiment-id>",
		Short: "Show an experiment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGet(cmd.Context(), serverURL, args[0])
		},
	}

	cmd.Flags().StringVar(&serverURL, "server", defaultServerURL, "Server base URL")

	return cmd
}

// buildListCmd creates the "list" command that prints a campaign's
// experiments.
func buildListCmd() *cobra.Command {
	var (
		serverURL string
		campaign  string
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List a campaign's experiments",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runList(cmd.Context(), serverURL, campaign)
		},
	}

	cmd.Flags().StringVar(&serverURL, "server", defaultServerURL, "Server base URL")
	cmd.Flags().StringVar(&campaign, "campaign", "", "Campaign id (required)")
	_ = cmd.MarkFlagRequired("campaign")

	return cmd
}

// buildStatusCmd creates the "status" command that reports server health and
// experiment counts.
func buildStatusCmd() *cobra.Command {
	var serverURL string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show server status and experiment counts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(cmd.Context(), serverURL)
		},
	}

	cmd.Flags().StringVar(&serverURL, "server", defaultServerURL, "Server base URL")

	return cmd
}

// buildCancelCmd creates the "cancel" command.
func buildCancelCmd() *cobra.Command {
	var serverURL string

	cmd := &cobra.Command{
		Use:   "cancel <experiment-id>",
		Short: "Cancel a running experiment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCancel(cmd.Context(), serverURL, args[0])
		},
	}

	cmd.Flags().StringVar(&serverURL, "server", defaultServerURL, "Server base URL")

	return cmd
}

// Package main provides the CLI entry point for the splitpost variant
// experiment engine.
//
// Splitpost schedules publication of content variants with enforced spacing,
// waits out an evaluation window, scores engagement, and deterministically
// picks a winner (or declares the test inconclusive).
//
// # Basic Usage
//
// Start the server:
//
//	splitpost serve --config splitpost.yaml
//
// Launch an experiment against a running server:
//
//	splitpost create --campaign launch-week --text "Variant A" --text "Variant B"
//
// Inspect it:
//
//	splitpost get <experiment-id>
//
// # Environment Variables
//
//   - SLACK_BOT_TOKEN: Slack bot OAuth token (referenced from the config file)
//   - OPENAI_API_KEY: OpenAI API key for variant generation
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// Build information - populated by ldflags during build.
//
// Example build command:
//
//	go build -ldflags "-X main.version=v1.0.0 -X main.commit=$(git rev-parse HEAD) -X main.date=$(date -u +%Y-%m-%dT%H:%M:%SZ)"
var (
	version = "dev"     // Semantic version (e.g., "v1.0.0")
	commit  = "none"    // Git commit SHA
	date    = "unknown" // Build timestamp
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := buildRootCmd().Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

// buildRootCmd creates the root command with all subcommands attached.
// This is separated from main() to facilitate testing.
func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "splitpost",
		Short: "Splitpost - content variant experiment engine",
		Long: `Splitpost runs A/B experiments over social content: it publishes
variants with enforced spacing, waits an evaluation window, scores engagement,
and deterministically selects a winner.`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		buildServeCmd(),
		buildCreateCmd(),
		buildGetCmd(),
		buildListCmd(),
		buildCancelCmd(),
		buildStatusCmd(),
	)

	return rootCmd
}

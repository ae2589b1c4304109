// handlers.go contains the command handlers invoked by the cobra commands in
// commands.go.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/haasonsaas/splitpost/internal/autopost"
	"github.com/haasonsaas/splitpost/internal/config"
	"github.com/haasonsaas/splitpost/internal/engagement"
	"github.com/haasonsaas/splitpost/internal/experiment"
	"github.com/haasonsaas/splitpost/internal/generate"
	"github.com/haasonsaas/splitpost/internal/observability"
	"github.com/haasonsaas/splitpost/internal/publish"
	slackadapter "github.com/haasonsaas/splitpost/internal/publish/slack"
	"github.com/haasonsaas/splitpost/internal/server"
)

// runServe wires the full service: storage, registry, lifecycle engine,
// Slack adapter, autopost scheduler, and the HTTP API.
func runServe(ctx context.Context, configPath string, debug bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if debug {
		cfg.Logging.Level = "debug"
	}

	logger := observability.NewLogger(cfg.Logging)
	metrics := observability.NewMetrics()

	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	registry := experiment.NewRegistry(store, cfg.Experiment, logger, metrics)

	publisher, source, err := buildSlack(cfg, logger)
	if err != nil {
		return err
	}

	engine := experiment.NewEngine(registry, publisher, source,
		experiment.WithLogger(logger),
		experiment.WithMetrics(metrics),
		experiment.WithTickInterval(cfg.Engine.TickInterval),
	)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := engine.Start(ctx); err != nil {
		return fmt.Errorf("start engine: %w", err)
	}

	var runner *autopost.Runner
	if cfg.Autopost.Enabled {
		generator, err := buildGenerator(cfg)
		if err != nil {
			return err
		}
		runner, err = autopost.NewRunner(registry, generator, cfg.Autopost.Jobs,
			autopost.WithLogger(logger))
		if err != nil {
			return err
		}
		if err := runner.Start(ctx); err != nil {
			return fmt.Errorf("start autopost: %w", err)
		}
	}

	srv := server.New(cfg.Server.Addr(), registry, logger)
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case <-ctx.Done():
		logger.Info(context.Background(), "shutting down")
	case err := <-errCh:
		if err != nil {
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn(shutdownCtx, "http shutdown", "error", err)
	}
	if runner != nil {
		if err := runner.Stop(shutdownCtx); err != nil {
			logger.Warn(shutdownCtx, "autopost shutdown", "error", err)
		}
	}
	if err := engine.Stop(shutdownCtx); err != nil {
		logger.Warn(shutdownCtx, "engine shutdown", "error", err)
	}
	return nil
}

func openStore(cfg *config.Config) (experiment.Store, error) {
	switch cfg.Storage.Driver {
	case "memory":
		return experiment.NewMemoryStore(), nil
	case "sqlite":
		return experiment.NewSQLiteStore(cfg.Storage.Path)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Storage.Driver)
	}
}

// buildSlack returns the configured publisher and engagement source. Without
// Slack credentials the service still runs: publishes fail permanently, which
// keeps local API testing possible with the memory store.
func buildSlack(cfg *config.Config, logger *observability.Logger) (publish.Publisher, engagement.Source, error) {
	if cfg.Slack.BotToken == "" {
		logger.Warn(context.Background(), "slack not configured, publishes will fail")
		return publish.PublisherFunc(func(ctx context.Context, content publish.Content) (string, error) {
				return "", publish.ErrPermanent("no publisher configured", nil)
			}), engagement.SourceFunc(func(ctx context.Context, contentID string) (engagement.Snapshot, error) {
				return engagement.Snapshot{}, engagement.ErrUnavailable
			}), nil
	}
	adapter, err := slackadapter.NewAdapter(cfg.Slack, logger)
	if err != nil {
		return nil, nil, err
	}
	return adapter, adapter, nil
}

func buildGenerator(cfg *config.Config) (generate.Generator, error) {
	if cfg.OpenAI.APIKey == "" {
		return nil, fmt.Errorf("autopost requires an openai api key")
	}
	return generate.NewOpenAIGenerator(cfg.OpenAI.APIKey, cfg.OpenAI.Model)
}

func runCreate(ctx context.Context, serverURL, campaign string, texts, tags []string) error {
	if len(texts) == 0 {
		return fmt.Errorf("at least one --text is required")
	}
	variants := make([]experiment.Variant, len(texts))
	for i, text := range texts {
		variants[i] = experiment.Variant{Text: text, Tags: tags}
	}

	client := newAPIClient(serverURL)
	exp, err := client.createExperiment(ctx, server.CreateRequest{
		CampaignID: campaign,
		Variants:   variants,
	})
	if err != nil {
		return err
	}
	return printJSON(exp)
}

func runGet(ctx context.Context, serverURL, id string) error {
	exp, err := newAPIClient(serverURL).getExperiment(ctx, id)
	if err != nil {
		return err
	}
	return printJSON(exp)
}

func runList(ctx context.Context, serverURL, campaign string) error {
	list, err := newAPIClient(serverURL).listExperiments(ctx, campaign)
	if err != nil {
		return err
	}
	return printJSON(list)
}

func runStatus(ctx context.Context, serverURL string) error {
	status, err := newAPIClient(serverURL).status(ctx)
	if err != nil {
		return err
	}
	return printJSON(status)
}

func runCancel(ctx context.Context, serverURL, id string) error {
	exp, err := newAPIClient(serverURL).cancelExperiment(ctx, id)
	if err != nil {
		return err
	}
	return printJSON(exp)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

package main

import (
	"context"
	"fmt"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/narration-service/internal/app"
	"github.com/book-expert/narration-service/internal/config"
	"github.com/nats-io/nats.go"
	"github.com/spf13/cobra"
)

// Flag names.
const (
	flagConfig    = "config"
	flagVerbose   = "verbose"
	flagText      = "text"
	flagFile      = "file"
	flagOutput    = "output"
	flagWorkers   = "workers"
	flagDataDir   = "data-dir"
	flagSkipClean = "skip-clean"
)

// File names and paths.
const (
	defaultConfigFile  = "narration.toml"
	logFileNameDefault = "narrate.log"
	logFileNameVerbose = "narrate-verbose.log"
	healthCheckTimeout = 10 * time.Second
)

// newRootCommand builds the narrate command tree.
func newRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "narrate",
		Short:         "Narrate scripts through the remote long-audio synthesis service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().String(flagConfig, defaultConfigFile, "Path to the TOML configuration file")
	rootCmd.PersistentFlags().Bool(flagVerbose, false, "Log to a separate verbose log file")

	rootCmd.AddCommand(
		newSynthCommand(),
		newBatchCommand(),
		newCleanCommand(),
		newStatsCommand(),
		newHealthCommand(),
	)

	return rootCmd
}

// environment is what every subcommand needs: configuration, a logger and,
// for synthesis, the assembled pipeline.
type environment struct {
	cfg            *config.Config
	log            *logger.Logger
	natsConnection *nats.Conn
	components     *app.Components
}

// loadEnvironment reads the configuration and opens the logger.
func loadEnvironment(cmd *cobra.Command) (*environment, error) {
	configPath, err := cmd.Flags().GetString(flagConfig)
	if err != nil {
		return nil, err
	}

	verbose, err := cmd.Flags().GetBool(flagVerbose)
	if err != nil {
		return nil, err
	}

	cfg, err := config.LoadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	logFileName := logFileNameDefault
	if verbose {
		logFileName = logFileNameVerbose
	}

	log, err := logger.New(cfg.Paths.BaseLogsDir, logFileName)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	return &environment{cfg: cfg, log: log, natsConnection: nil, components: nil}, nil
}

// openPipeline connects to NATS for the staging bucket and builds the
// pipeline. The CLI registers no metrics.
func (e *environment) openPipeline() error {
	natsConnection, err := nats.Connect(e.cfg.NATS.URL, nats.Name("narrate"))
	if err != nil {
		return fmt.Errorf("failed to connect to NATS at %s: %w", e.cfg.NATS.URL, err)
	}

	e.natsConnection = natsConnection

	jetstreamContext, err := natsConnection.JetStream()
	if err != nil {
		return fmt.Errorf("failed to create JetStream context: %w", err)
	}

	stores, err := app.OpenStores(jetstreamContext, e.cfg.NATS)
	if err != nil {
		return err
	}

	components, err := app.Build(e.cfg, stores.Staging, nil, e.log)
	if err != nil {
		return err
	}

	e.components = components

	return nil
}

// checkHealth fails fast when the synthesis service is unreachable.
func (e *environment) checkHealth(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()

	err := e.components.Client.HealthCheck(ctx)
	if err != nil {
		e.log.Error("Health check failed: %v", err)

		return fmt.Errorf("synthesis service is not healthy: %w", err)
	}

	return nil
}

func (e *environment) Close() {
	if e.components != nil {
		closeErr := e.components.Close()
		if closeErr != nil {
			e.log.Warn("Failed to release pipeline resources: %v", closeErr)
		}
	}

	if e.natsConnection != nil {
		e.natsConnection.Close()
	}

	_ = e.log.Close()
}

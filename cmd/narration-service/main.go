// main package for the narration-service
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/narration-service/internal/app"
	"github.com/book-expert/narration-service/internal/config"
	"github.com/book-expert/narration-service/internal/server"
	"github.com/book-expert/narration-service/internal/worker"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const shutdownTimeout = 10 * time.Second

var errNATSDisconnected = errors.New("nats connection is not connected")

func setupLogger(logPath, fileName string) (*logger.Logger, error) {
	log, err := logger.New(logPath, fileName)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	return log, nil
}

func run() error {
	// 1. Create a temporary logger for the bootstrap process
	bootstrapLog, err := setupLogger(os.TempDir(), "narration-service-bootstrap.log")
	if err != nil {
		// If bootstrap logger fails, we can only print to stderr
		fmt.Fprintf(os.Stderr, "FATAL: Failed to create bootstrap logger: %v\n", err)

		return err
	}

	bootstrapLog.Info("Bootstrap logger created.")

	// 2. Load configuration using the central configurator
	cfg, err := config.Load(bootstrapLog)
	if err != nil {
		bootstrapLog.Error("Failed to load configuration: %v", err)

		return fmt.Errorf("failed to load configuration: %w", err)
	}

	bootstrapLog.Info("Configuration loaded successfully.")

	// 3. Initialize the final logger based on the loaded configuration
	finalLog, err := setupLogger(cfg.Paths.BaseLogsDir, "narration-service.log")
	if err != nil {
		bootstrapLog.Error("Failed to create final logger: %v", err)

		return fmt.Errorf("failed to create final logger: %w", err)
	}

	defer func() {
		closeErr := finalLog.Close()
		if closeErr != nil {
			fmt.Fprintf(os.Stderr, "error closing final logger: %v\n", closeErr)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return serve(ctx, cfg, finalLog)
}

// serve connects to NATS, assembles the pipeline and runs the worker and the
// ops server until ctx is cancelled.
func serve(ctx context.Context, cfg *config.Config, log *logger.Logger) error {
	natsConnection, err := nats.Connect(cfg.NATS.URL, nats.Name("narration-service"))
	if err != nil {
		return fmt.Errorf("failed to connect to NATS at %s: %w", cfg.NATS.URL, err)
	}
	defer natsConnection.Close()

	jetstreamContext, err := natsConnection.JetStream()
	if err != nil {
		return fmt.Errorf("failed to create JetStream context: %w", err)
	}

	stores, err := app.OpenStores(jetstreamContext, cfg.NATS)
	if err != nil {
		return err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	components, err := app.Build(cfg, stores.Staging, registry, log)
	if err != nil {
		return err
	}

	defer func() {
		closeErr := components.Close()
		if closeErr != nil {
			log.Warn("Failed to release pipeline resources: %v", closeErr)
		}
	}()

	natsWorker, err := worker.NewNatsWorker(natsConnection, stores.Scripts, stores.Audio, components.Pipeline, worker.Config{
		Subject:           cfg.NATS.ScriptSubject,
		NotifySubject:     cfg.NATS.AudioChunkCreatedSubject,
		WorkDir:           cfg.Paths.WorkDir,
		MessageTimeout:    cfg.Server.MessageTimeout(),
		MaxConcurrentJobs: cfg.Server.MaxConcurrentJobs,
	}, log)
	if err != nil {
		return fmt.Errorf("failed to create worker: %w", err)
	}

	opsServer := server.New(cfg.Server.Address, registry, log)
	opsServer.RegisterChecker("nats", server.CheckFunc(func(context.Context) error {
		if !natsConnection.IsConnected() {
			return errNATSDisconnected
		}

		return nil
	}))
	opsServer.RegisterChecker("synthesis", components.Client)

	ctx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()

	serverErr := make(chan error, 1)

	go func() {
		startErr := opsServer.Start()
		if startErr != nil {
			log.Error("Ops server failed: %v", startErr)
			cancelRun()
		}

		serverErr <- startErr
	}()

	log.System("Narration-Service successfully initialized. Listening for jobs on subject: %s", cfg.NATS.ScriptSubject)

	workerErr := natsWorker.Run(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	shutdownErr := opsServer.Shutdown(shutdownCtx)
	if shutdownErr != nil {
		log.Warn("Failed to shut down ops server: %v", shutdownErr)
	}

	return errors.Join(workerErr, <-serverErr)
}

func main() {
	err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Service exited with error: %v\n", err)
		os.Exit(1)
	}
}

// Package app assembles the narration pipeline from configuration. It is
// shared by the service and the command line tool.
package app

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/narration-service/internal/artifact"
	"github.com/book-expert/narration-service/internal/config"
	"github.com/book-expert/narration-service/internal/core"
	"github.com/book-expert/narration-service/internal/objectstore"
	"github.com/book-expert/narration-service/internal/pipeline"
	"github.com/book-expert/narration-service/internal/ratelimit"
	"github.com/book-expert/narration-service/internal/script"
	"github.com/book-expert/narration-service/internal/synthesis"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
)

// windowScrapeTimeout bounds the Redis read behind the window gauge.
const windowScrapeTimeout = 2 * time.Second

// Stores are the object store buckets the service works with.
type Stores struct {
	Scripts *objectstore.Store
	Audio   *objectstore.Store
	Staging *objectstore.Store
}

// OpenStores creates or binds the script, audio and staging buckets.
func OpenStores(jetstreamContext nats.JetStreamContext, cfg config.NATSConfig) (*Stores, error) {
	scripts, err := objectstore.New(jetstreamContext, objectstore.Config{
		Bucket:      cfg.ScriptObjectStoreBucket,
		Description: "Narration scripts awaiting synthesis.",
		TTL:         0,
	})
	if err != nil {
		return nil, err
	}

	audio, err := objectstore.New(jetstreamContext, objectstore.Config{
		Bucket:      cfg.AudioObjectStoreBucket,
		Description: "Finished narration audio.",
		TTL:         0,
	})
	if err != nil {
		return nil, err
	}

	staging, err := objectstore.New(jetstreamContext, objectstore.Config{
		Bucket:      cfg.StagingBucket,
		Description: "Raw synthesis output awaiting retrieval.",
		TTL:         cfg.StagingTTL(),
	})
	if err != nil {
		return nil, err
	}

	return &Stores{Scripts: scripts, Audio: audio, Staging: staging}, nil
}

// Components is an assembled pipeline and the resources it holds.
type Components struct {
	Pipeline *pipeline.Pipeline
	Client   *synthesis.HTTPClient
	Metrics  *pipeline.Metrics
	closers  []func() error
}

// Close releases resources such as the Redis connection.
func (c *Components) Close() error {
	var errs []error

	for _, closeFn := range c.closers {
		err := closeFn()
		if err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

// Build wires the limiter, the synthesis stages and the transcoder into a
// pipeline. Metrics are registered with registerer when it is not nil.
func Build(
	cfg *config.Config,
	staging core.StagingStore,
	registerer prometheus.Registerer,
	log *logger.Logger,
) (*Components, error) {
	components := &Components{Pipeline: nil, Client: nil, Metrics: nil, closers: nil}

	if registerer != nil {
		metrics, err := pipeline.NewMetrics(registerer)
		if err != nil {
			return nil, err
		}

		components.Metrics = metrics
	}

	admitter, err := components.newAdmitter(cfg, log)
	if err != nil {
		return nil, err
	}

	components.Client = synthesis.NewHTTPClient(
		cfg.Synthesis.BaseURL,
		cfg.Synthesis.ResolveAPIKey(),
		cfg.Synthesis.RequestTimeout(),
	)

	submitter, err := synthesis.NewSubmitter(components.Client, admitter, synthesis.SubmitterConfig{
		MaxRetries:   cfg.Synthesis.MaxRetries,
		BaseDelay:    cfg.Synthesis.BaseDelay(),
		LanguageCode: cfg.Synthesis.LanguageCode,
		VoiceName:    cfg.Synthesis.VoiceName,
	}, log, synthesis.WithAttemptHook(components.Metrics.AttemptHook()))
	if err != nil {
		return nil, fmt.Errorf("failed to create submitter: %w", err)
	}

	format, err := artifact.ParseFormat(cfg.Output.Format)
	if err != nil {
		return nil, err
	}

	transcoder, err := artifact.NewFFmpegTranscoder(artifact.FFmpegConfig{
		BinaryPath: cfg.Output.FFmpegBinary,
		Format:     format,
		Quality: artifact.Quality{
			Bitrate:    cfg.Output.Bitrate,
			SampleRate: cfg.Output.SampleRate,
			Channels:   cfg.Output.Channels,
		},
	}, log)
	if err != nil {
		return nil, fmt.Errorf("failed to create transcoder: %w", err)
	}

	components.Pipeline = pipeline.New(pipeline.Stages{
		Submitter:  submitter,
		Awaiter:    synthesis.NewAwaiter(components.Client, cfg.Synthesis.PollInterval(), log),
		Retriever:  artifact.NewRetriever(staging, log),
		Transcoder: transcoder,
	}, pipeline.Config{
		AwaitTimeout: cfg.Synthesis.AwaitTimeout(),
		Format:       transcoder.Format(),
	}, log,
		pipeline.WithMetrics(components.Metrics),
		pipeline.WithScriptPreparer(script.NewNormalizer(0)),
	)

	return components, nil
}

func (c *Components) newAdmitter(cfg *config.Config, log *logger.Logger) (core.Admitter, error) {
	hook := ratelimit.WithAdmitHook(c.Metrics.AdmitHook())

	if cfg.RateLimit.Backend != config.BackendRedis {
		limiter, err := ratelimit.NewSlidingWindowLimiter(
			cfg.RateLimit.Name, cfg.RateLimit.MaxRequests, cfg.RateLimit.Window(), log, hook,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create rate limiter: %w", err)
		}

		err = c.Metrics.WatchRateLimitWindow(func() float64 {
			return float64(limiter.Len())
		})
		if err != nil {
			return nil, fmt.Errorf("failed to register rate limit gauge: %w", err)
		}

		return limiter, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Address,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	err := client.Ping(context.Background()).Err()
	if err != nil {
		_ = client.Close()

		return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Redis.Address, err)
	}

	c.closers = append(c.closers, client.Close)

	limiter, err := ratelimit.NewRedisLimiter(
		client, cfg.RateLimit.Name, cfg.RateLimit.MaxRequests, cfg.RateLimit.Window(), log, hook,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create redis rate limiter: %w", err)
	}

	err = c.Metrics.WatchRateLimitWindow(func() float64 {
		ctx, cancel := context.WithTimeout(context.Background(), windowScrapeTimeout)
		defer cancel()

		count, lenErr := limiter.Len(ctx)
		if lenErr != nil {
			log.Warn("Failed to read shared rate limit window: %v", lenErr)

			return math.NaN()
		}

		return float64(count)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to register rate limit gauge: %w", err)
	}

	log.Info("Using shared redis rate limiter at %s", cfg.Redis.Address)

	return limiter, nil
}

package story

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/book-expert/logger"
)

// DefaultMaxWorkers is the batch concurrency when none is configured.
const DefaultMaxWorkers = 3

const (
	logFmtBatchStarted  = "Starting batch generation of %d stories with %d workers"
	logFmtBatchComplete = "Completed: %s"
	logFmtBatchFailed   = "Failed: %s: %v"
	logFmtBatchSummary  = "Batch finished: %d succeeded, %d failed in %s"
	errFmtStoryFailed   = "story %d (%s): %w"
)

// BundleGenerator produces one story bundle.
type BundleGenerator interface {
	Generate(ctx context.Context, req Request) (*Metadata, error)
}

// Outcome is the result of one request of a batch.
type Outcome struct {
	Request  Request
	Metadata *Metadata
	Err      error
}

// Summary reports a finished batch. Outcomes keep the order of the requests.
type Summary struct {
	Outcomes  []Outcome
	Succeeded int
	Failed    int
	Elapsed   time.Duration
}

// BatchRunner generates stories concurrently with a bounded worker count.
type BatchRunner struct {
	generator  BundleGenerator
	maxWorkers int
	log        *logger.Logger
}

// NewBatchRunner creates a BatchRunner; maxWorkers <= 0 selects
// DefaultMaxWorkers.
func NewBatchRunner(generator BundleGenerator, maxWorkers int, log *logger.Logger) *BatchRunner {
	if maxWorkers <= 0 {
		maxWorkers = DefaultMaxWorkers
	}

	return &BatchRunner{
		generator:  generator,
		maxWorkers: maxWorkers,
		log:        log,
	}
}

// Run generates every request. A failed story is logged and never stops its
// siblings; the returned error is the last failure, if any.
func (b *BatchRunner) Run(ctx context.Context, requests []Request) (Summary, error) {
	var (
		waitGroup sync.WaitGroup
		mutex     sync.Mutex
		lastError error
	)

	start := time.Now()
	outcomes := make([]Outcome, len(requests))
	workerPool := make(chan struct{}, b.maxWorkers)

	b.log.Info(logFmtBatchStarted, len(requests), b.maxWorkers)

	for index, req := range requests {
		waitGroup.Add(1)

		go func(index int, req Request) {
			defer waitGroup.Done()

			workerPool <- struct{}{}

			defer func() { <-workerPool }()

			metadata, err := b.generate(ctx, req)
			outcomes[index] = Outcome{Request: req, Metadata: metadata, Err: err}

			if err != nil {
				b.log.Error(logFmtBatchFailed, req.Setting, err)

				mutex.Lock()
				lastError = fmt.Errorf(errFmtStoryFailed, index+1, req.Setting, err)
				mutex.Unlock()

				return
			}

			b.log.Info(logFmtBatchComplete, req.Setting)
		}(index, req)
	}

	waitGroup.Wait()

	summary := Summary{Outcomes: outcomes, Succeeded: 0, Failed: 0, Elapsed: time.Since(start)}

	for _, outcome := range outcomes {
		if outcome.Err != nil {
			summary.Failed++
		} else {
			summary.Succeeded++
		}
	}

	b.log.Info(logFmtBatchSummary, summary.Succeeded, summary.Failed, summary.Elapsed)

	return summary, lastError
}

func (b *BatchRunner) generate(ctx context.Context, req Request) (*Metadata, error) {
	err := ctx.Err()
	if err != nil {
		return nil, err
	}

	return b.generator.Generate(ctx, req)
}

package synthesis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/narration-service/internal/clock"
	"github.com/book-expert/narration-service/internal/core"
)

// DefaultPollInterval is used when an Awaiter is created with a
// non-positive interval.
const DefaultPollInterval = 5 * time.Second

const (
	logFmtPollFailed       = "Polling operation %s for job %s failed: %v"
	logFmtOperationDone    = "Operation %s for job %s completed after %s"
	logFmtOperationTimeout = "Operation %s for job %s still running after %s; remote job left running"
)

// ErrJobHasNoOperation is returned when awaiting a job that was never submitted.
var ErrJobHasNoOperation = errors.New("job has no remote operation")

// Awaiter polls a submitted operation until it completes or a deadline passes.
type Awaiter struct {
	service      core.SynthesisService
	pollInterval time.Duration
	clock        clock.Clock
	log          *logger.Logger
}

// AwaiterOption configures an Awaiter.
type AwaiterOption func(*Awaiter)

// WithAwaitClock replaces the clock used for polling and deadlines.
func WithAwaitClock(c clock.Clock) AwaiterOption {
	return func(a *Awaiter) {
		a.clock = c
	}
}

// NewAwaiter creates an Awaiter polling every pollInterval.
func NewAwaiter(
	service core.SynthesisService,
	pollInterval time.Duration,
	log *logger.Logger,
	opts ...AwaiterOption,
) *Awaiter {
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}

	awaiter := &Awaiter{
		service:      service,
		pollInterval: pollInterval,
		clock:        clock.System{},
		log:          log,
	}

	for _, opt := range opts {
		opt(awaiter)
	}

	return awaiter
}

// Await blocks until job's operation is done, timeout elapses or ctx ends.
// A timeout returns ErrAwaitTimeout and leaves the remote job untouched.
// Failed status polls are logged and polling continues until the deadline.
func (a *Awaiter) Await(ctx context.Context, job *Job, timeout time.Duration) error {
	if job == nil || job.Operation == "" {
		return ErrJobHasNoOperation
	}

	start := a.clock.Now()
	job.Deadline = start.Add(timeout)
	job.State = StateAwaiting

	for {
		op, expired, err := a.poll(ctx, job)

		switch {
		case ctx.Err() != nil:
			return fmt.Errorf("await operation %s: %w", job.Operation, ctx.Err())
		case expired:
			return a.timedOut(job, timeout)
		case err != nil:
			a.log.Warn(logFmtPollFailed, job.Operation, job.ID, err)
		case op.Done && op.ErrorMessage != "":
			job.State = StateFailed

			return fmt.Errorf("%w: operation %s: %s", ErrOperationFailed, job.Operation, op.ErrorMessage)
		case op.Done:
			job.State = StateCompleted
			a.log.Info(logFmtOperationDone, job.Operation, job.ID, a.clock.Now().Sub(start))

			return nil
		}

		remaining := job.Deadline.Sub(a.clock.Now())
		if remaining <= 0 {
			return a.timedOut(job, timeout)
		}

		wait := min(a.pollInterval, remaining)

		select {
		case <-ctx.Done():
			return fmt.Errorf("await operation %s: %w", job.Operation, ctx.Err())
		case <-a.clock.After(wait):
		}
	}
}

// poll fetches the operation status. The call is cut off at job.Deadline;
// expired reports that the cut-off, not the caller, ended a failed poll.
func (a *Awaiter) poll(ctx context.Context, job *Job) (core.Operation, bool, error) {
	pollCtx, cancel := context.WithTimeout(ctx, job.Deadline.Sub(a.clock.Now()))
	defer cancel()

	op, err := a.service.GetOperation(pollCtx, job.Operation)
	expired := err != nil && ctx.Err() == nil && errors.Is(pollCtx.Err(), context.DeadlineExceeded)

	return op, expired, err
}

func (a *Awaiter) timedOut(job *Job, timeout time.Duration) error {
	job.State = StateFailed
	a.log.Warn(logFmtOperationTimeout, job.Operation, job.ID, timeout)

	return fmt.Errorf("%w: operation %s after %s", ErrAwaitTimeout, job.Operation, timeout)
}

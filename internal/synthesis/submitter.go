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

// maxBackoffShift keeps base << attempt from overflowing.
const maxBackoffShift = 30

const (
	logFmtQuotaRetry     = "Quota exhausted for job %s, retrying in %s (attempt %d/%d)"
	logFmtQuotaGaveUp    = "Max retries reached for job %s after %d attempts"
	logFmtSubmitRejected = "Synthesis request for job %s rejected: %v"
	logFmtJobSubmitted   = "Job %s submitted as operation %s (attempt %d)"
)

// Static errors.
var (
	ErrMaxRetriesInvalid = errors.New("max retries must be positive")
	ErrBaseDelayInvalid  = errors.New("base delay must not be negative")
)

// SubmitterConfig controls retries and the voice of submitted jobs.
type SubmitterConfig struct {
	MaxRetries   int
	BaseDelay    time.Duration
	LanguageCode string
	VoiceName    string
}

// AttemptHook observes every submit attempt and its outcome.
type AttemptHook func(attempt int, err error)

// SubmitterOption configures a Submitter.
type SubmitterOption func(*Submitter)

// WithSubmitClock replaces the clock used for backoff sleeps.
func WithSubmitClock(c clock.Clock) SubmitterOption {
	return func(s *Submitter) {
		s.clock = c
	}
}

// WithAttemptHook registers an observer for submit attempts.
func WithAttemptHook(hook AttemptHook) SubmitterOption {
	return func(s *Submitter) {
		s.onAttempt = hook
	}
}

// Submitter starts synthesis jobs, gated by an Admitter and retrying quota
// exhaustion with exponential backoff.
type Submitter struct {
	service   core.SynthesisService
	admitter  core.Admitter
	config    SubmitterConfig
	clock     clock.Clock
	onAttempt AttemptHook
	log       *logger.Logger
}

// NewSubmitter creates a Submitter.
func NewSubmitter(
	service core.SynthesisService,
	admitter core.Admitter,
	cfg SubmitterConfig,
	log *logger.Logger,
	opts ...SubmitterOption,
) (*Submitter, error) {
	if cfg.MaxRetries <= 0 {
		return nil, fmt.Errorf("%w: got %d", ErrMaxRetriesInvalid, cfg.MaxRetries)
	}

	if cfg.BaseDelay < 0 {
		return nil, fmt.Errorf("%w: got %s", ErrBaseDelayInvalid, cfg.BaseDelay)
	}

	submitter := &Submitter{
		service:   service,
		admitter:  admitter,
		config:    cfg,
		clock:     clock.System{},
		onAttempt: nil,
		log:       log,
	}

	for _, opt := range opts {
		opt(submitter)
	}

	return submitter, nil
}

// Backoff returns the delay after a failed attempt: base * 2^attempt.
func Backoff(base time.Duration, attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}

	if attempt > maxBackoffShift {
		attempt = maxBackoffShift
	}

	return base << attempt
}

// Submit starts a synthesis job for text. Quota exhaustion is retried up to
// MaxRetries attempts in total; once they are spent the error matches
// ErrExhausted. Any other failure returns at once matching ErrInvalidRequest.
func (s *Submitter) Submit(ctx context.Context, text string) (*Job, error) {
	job := NewJob()
	req := core.SynthesisRequest{
		Text:         text,
		LanguageCode: s.config.LanguageCode,
		VoiceName:    s.config.VoiceName,
		OutputKey:    job.OutputKey,
	}

	var lastErr error

	for attempt := range s.config.MaxRetries {
		admitErr := s.admitter.Admit(ctx)
		if admitErr != nil {
			return nil, fmt.Errorf("admission for job %s: %w", job.ID, admitErr)
		}

		job.Attempts++

		op, err := s.service.StartSynthesis(ctx, req)
		if s.onAttempt != nil {
			s.onAttempt(attempt, err)
		}

		if err == nil {
			job.Operation = op.Name
			job.SubmittedAt = s.clock.Now()
			job.State = StateSubmitted
			s.log.Info(logFmtJobSubmitted, job.ID, op.Name, job.Attempts)

			return job, nil
		}

		if ctx.Err() != nil {
			return nil, fmt.Errorf("submit job %s: %w", job.ID, ctx.Err())
		}

		if !errors.Is(err, ErrQuotaExhausted) {
			s.log.Error(logFmtSubmitRejected, job.ID, err)

			return nil, invalidRequest(job.ID, err)
		}

		lastErr = err

		if attempt == s.config.MaxRetries-1 {
			break
		}

		delay := Backoff(s.config.BaseDelay, attempt)
		s.log.Warn(logFmtQuotaRetry, job.ID, delay, attempt+1, s.config.MaxRetries)

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("submit job %s: %w", job.ID, ctx.Err())
		case <-s.clock.After(delay):
		}
	}

	s.log.Error(logFmtQuotaGaveUp, job.ID, s.config.MaxRetries)

	return nil, fmt.Errorf("%w: job %s after %d attempts: %w", ErrExhausted, job.ID, s.config.MaxRetries, lastErr)
}

func invalidRequest(jobID string, err error) error {
	if errors.Is(err, ErrInvalidRequest) {
		return fmt.Errorf("submit job %s: %w", jobID, err)
	}

	return fmt.Errorf("submit job %s: %w: %w", jobID, ErrInvalidRequest, err)
}

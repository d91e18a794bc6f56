// Package pipeline turns text into a playable audio file by chaining the
// synthesis stages: submit, await, retrieve and transcode.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/narration-service/internal/artifact"
	"github.com/book-expert/narration-service/internal/clock"
	"github.com/book-expert/narration-service/internal/core"
	"github.com/book-expert/narration-service/internal/synthesis"
)

// DefaultAwaitTimeout bounds how long a run waits for the remote operation.
const DefaultAwaitTimeout = 600 * time.Second

const (
	logFmtRunStarted  = "Starting narration for %s (%d bytes of text)"
	logFmtRunFinished = "Narration for %s finished in %s (job %s, %d submit attempts)"
	logFmtRunFailed   = "Narration for %s failed: %v"
)

// Static errors.
var (
	ErrEmptyText       = errors.New("text cannot be empty")
	ErrEmptyOutputPath = errors.New("output path cannot be empty")
)

// Kind classifies a failed run.
type Kind string

// Failure kinds.
const (
	KindInvalidInput    Kind = "invalid-input"
	KindSubmitExhausted Kind = "submit-exhausted"
	KindSubmitInvalid   Kind = "submit-invalid"
	KindAwaitTimeout    Kind = "await-timeout"
	KindOperationFailed Kind = "operation-failed"
	KindCanceled        Kind = "canceled"
	KindRetrievalFailed Kind = "retrieval-failed"
	KindTranscodeFailed Kind = "transcode-failed"
)

// Error reports which stage of a run failed and why.
type Error struct {
	Kind  Kind
	Stage synthesis.State
	JobID string
	Err   error
}

func (e *Error) Error() string {
	if e.JobID == "" {
		return fmt.Sprintf("narration %s during %s: %v", e.Kind, e.Stage, e.Err)
	}

	return fmt.Sprintf("narration %s during %s (job %s): %v", e.Kind, e.Stage, e.JobID, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the Kind of err, or "" when err is not a pipeline error.
func KindOf(err error) Kind {
	var pipelineErr *Error
	if errors.As(err, &pipelineErr) {
		return pipelineErr.Kind
	}

	return ""
}

// Submitter starts a remote synthesis job.
type Submitter interface {
	Submit(ctx context.Context, text string) (*synthesis.Job, error)
}

// Awaiter waits for a submitted job to finish.
type Awaiter interface {
	Await(ctx context.Context, job *synthesis.Job, timeout time.Duration) error
}

// Retriever moves a staged artifact to a local path.
type Retriever interface {
	Retrieve(ctx context.Context, key, localPath string) error
}

// ScriptPreparer cleans text before it is submitted.
type ScriptPreparer interface {
	Prepare(text string) (string, error)
}

// Stages are the collaborators a Pipeline runs in order.
type Stages struct {
	Submitter  Submitter
	Awaiter    Awaiter
	Retriever  Retriever
	Transcoder core.Transcoder
}

// Config controls a Pipeline.
type Config struct {
	AwaitTimeout time.Duration
	// Format decides the extension of the final file.
	Format artifact.Format
}

// Timings holds how long each stage of a run took.
type Timings struct {
	Submit    time.Duration
	Await     time.Duration
	Retrieve  time.Duration
	Transcode time.Duration
}

// Total is the sum of all stage durations.
func (t Timings) Total() time.Duration {
	return t.Submit + t.Await + t.Retrieve + t.Transcode
}

// Result describes a successful run.
type Result struct {
	Job       *synthesis.Job
	FinalPath string
	Timings   Timings
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithMetrics records runs and stage durations in metrics.
func WithMetrics(metrics *Metrics) Option {
	return func(p *Pipeline) {
		p.metrics = metrics
	}
}

// WithScriptPreparer cleans every text before submission.
func WithScriptPreparer(preparer ScriptPreparer) Option {
	return func(p *Pipeline) {
		p.preparer = preparer
	}
}

// WithClock replaces the clock used for stage timings.
func WithClock(c clock.Clock) Option {
	return func(p *Pipeline) {
		p.clock = c
	}
}

// Pipeline runs the synthesis stages strictly in sequence. It holds no
// per-run state and is safe for concurrent use.
type Pipeline struct {
	stages   Stages
	config   Config
	preparer ScriptPreparer
	metrics  *Metrics
	clock    clock.Clock
	log      *logger.Logger
}

// New creates a Pipeline. Zero config values fall back to
// DefaultAwaitTimeout and artifact.DefaultFormat.
func New(stages Stages, cfg Config, log *logger.Logger, opts ...Option) *Pipeline {
	if cfg.AwaitTimeout <= 0 {
		cfg.AwaitTimeout = DefaultAwaitTimeout
	}

	if cfg.Format == "" {
		cfg.Format = artifact.DefaultFormat
	}

	p := &Pipeline{
		stages:   stages,
		config:   cfg,
		preparer: nil,
		metrics:  nil,
		clock:    clock.System{},
		log:      log,
	}

	for _, opt := range opts {
		opt(p)
	}

	return p
}

// FinalPath returns where a run for outputPath writes its final file.
func (p *Pipeline) FinalPath(outputPath string) string {
	return artifact.WithExtension(outputPath, p.config.Format)
}

// Synthesize narrates text into outputPath, with its extension replaced by
// the configured format. Only a transcoded final file counts as success.
func (p *Pipeline) Synthesize(ctx context.Context, text, outputPath string) error {
	_, err := p.SynthesizeWithResult(ctx, text, outputPath)

	return err
}

// SynthesizeWithResult is Synthesize returning the job and stage timings.
// Failures are returned as *Error.
func (p *Pipeline) SynthesizeWithResult(ctx context.Context, text, outputPath string) (*Result, error) {
	p.metrics.runStarted()

	result, err := p.run(ctx, text, outputPath)
	if err != nil {
		p.metrics.runFinished(string(KindOf(err)))
		p.log.Error(logFmtRunFailed, outputPath, err)

		return nil, err
	}

	p.metrics.runFinished(outcomeDone)
	p.log.Info(logFmtRunFinished, result.FinalPath, result.Timings.Total(), result.Job.ID, result.Job.Attempts)

	return result, nil
}

func (p *Pipeline) run(ctx context.Context, text, outputPath string) (*Result, error) {
	if strings.TrimSpace(text) == "" {
		return nil, &Error{Kind: KindInvalidInput, Stage: synthesis.StateSubmitting, JobID: "", Err: ErrEmptyText}
	}

	if strings.TrimSpace(outputPath) == "" {
		return nil, &Error{Kind: KindInvalidInput, Stage: synthesis.StateSubmitting, JobID: "", Err: ErrEmptyOutputPath}
	}

	if p.preparer != nil {
		prepared, prepareErr := p.preparer.Prepare(text)
		if prepareErr != nil {
			return nil, &Error{Kind: KindInvalidInput, Stage: synthesis.StateSubmitting, JobID: "", Err: prepareErr}
		}

		text = prepared
	}

	finalPath := p.FinalPath(outputPath)
	rawPath := artifact.RawPathFor(finalPath, synthesis.RawExtension)
	result := &Result{Job: nil, FinalPath: finalPath, Timings: Timings{}}

	p.log.Info(logFmtRunStarted, finalPath, len(text))

	start := p.clock.Now()

	job, err := p.stages.Submitter.Submit(ctx, text)
	result.Timings.Submit = p.lap(synthesis.StateSubmitting, &start)

	if err != nil {
		return nil, &Error{Kind: submitKind(err), Stage: synthesis.StateSubmitting, JobID: "", Err: err}
	}

	result.Job = job

	err = p.stages.Awaiter.Await(ctx, job, p.config.AwaitTimeout)
	result.Timings.Await = p.lap(synthesis.StateAwaiting, &start)

	if err != nil {
		return nil, p.fail(job, synthesis.StateAwaiting, awaitKind(err), err)
	}

	job.State = synthesis.StateRetrieving
	err = p.stages.Retriever.Retrieve(ctx, job.OutputKey, rawPath)
	result.Timings.Retrieve = p.lap(synthesis.StateRetrieving, &start)

	if err != nil {
		return nil, p.fail(job, synthesis.StateRetrieving, stageKind(err, KindRetrievalFailed), err)
	}

	job.State = synthesis.StateTranscoding
	err = p.stages.Transcoder.Transcode(ctx, rawPath, finalPath)
	result.Timings.Transcode = p.lap(synthesis.StateTranscoding, &start)

	if err != nil {
		return nil, p.fail(job, synthesis.StateTranscoding, stageKind(err, KindTranscodeFailed), err)
	}

	job.State = synthesis.StateDone

	return result, nil
}

func (p *Pipeline) lap(stage synthesis.State, start *time.Time) time.Duration {
	now := p.clock.Now()
	elapsed := now.Sub(*start)
	*start = now

	p.metrics.observeStage(stage, elapsed)

	return elapsed
}

func (p *Pipeline) fail(job *synthesis.Job, stage synthesis.State, kind Kind, err error) *Error {
	job.State = synthesis.StateFailed

	return &Error{Kind: kind, Stage: stage, JobID: job.ID, Err: err}
}

func isCanceled(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func submitKind(err error) Kind {
	switch {
	case errors.Is(err, synthesis.ErrExhausted):
		return KindSubmitExhausted
	case isCanceled(err):
		return KindCanceled
	default:
		return KindSubmitInvalid
	}
}

func awaitKind(err error) Kind {
	switch {
	case errors.Is(err, synthesis.ErrAwaitTimeout):
		return KindAwaitTimeout
	case errors.Is(err, synthesis.ErrOperationFailed):
		return KindOperationFailed
	case isCanceled(err):
		return KindCanceled
	default:
		return KindOperationFailed
	}
}

func stageKind(err error, fallback Kind) Kind {
	if isCanceled(err) {
		return KindCanceled
	}

	return fallback
}

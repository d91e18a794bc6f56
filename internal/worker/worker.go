// Package worker provides a NATS worker that narrates scripts on request.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/book-expert/events"
	"github.com/book-expert/logger"
	"github.com/book-expert/narration-service/internal/core"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
)

const (
	defaultMessageTimeout = 15 * time.Minute
	defaultMaxJobs        = 1
	queueGroup            = "narration-workers"
	workDirPattern        = "narration-*"
	drainPollInterval     = 10 * time.Millisecond
)

var (
	// ErrTextKeyEmpty indicates an event without a script key.
	ErrTextKeyEmpty = errors.New("text key cannot be empty")
	// ErrEmptyScript indicates the stored script has no content.
	ErrEmptyScript = errors.New("script object is empty")
	// ErrSubjectEmpty indicates a worker without a subject to listen on.
	ErrSubjectEmpty = errors.New("subject cannot be empty")
)

// Narrator turns a script into an audio file. FinalPath reports where a
// run for outputPath leaves its result.
type Narrator interface {
	core.Synthesizer
	FinalPath(outputPath string) string
}

// Config configures a NatsWorker.
type Config struct {
	Subject string
	// NotifySubject, when set, also receives every AudioChunkCreatedEvent.
	NotifySubject     string
	WorkDir           string
	MessageTimeout    time.Duration
	MaxConcurrentJobs int
}

// NatsWorker listens for narration jobs on a NATS subject and processes them.
type NatsWorker struct {
	natsConnection *nats.Conn
	scripts        core.ObjectStore
	audio          core.ObjectStore
	narrator       Narrator
	config         Config
	workerPool     chan struct{}
	inFlight       sync.WaitGroup
	log            *logger.Logger
}

// NewNatsWorker creates a new instance of a NATS worker. Scripts are read
// from scripts and finished audio is written to audio.
func NewNatsWorker(
	natsConnection *nats.Conn,
	scripts core.ObjectStore,
	audio core.ObjectStore,
	narrator Narrator,
	cfg Config,
	log *logger.Logger,
) (*NatsWorker, error) {
	if cfg.Subject == "" {
		return nil, ErrSubjectEmpty
	}

	if cfg.MessageTimeout <= 0 {
		cfg.MessageTimeout = defaultMessageTimeout
	}

	if cfg.MaxConcurrentJobs <= 0 {
		cfg.MaxConcurrentJobs = defaultMaxJobs
	}

	if cfg.WorkDir == "" {
		cfg.WorkDir = os.TempDir()
	}

	return &NatsWorker{
		natsConnection: natsConnection,
		scripts:        scripts,
		audio:          audio,
		narrator:       narrator,
		config:         cfg,
		workerPool:     make(chan struct{}, cfg.MaxConcurrentJobs),
		inFlight:       sync.WaitGroup{},
		log:            log,
	}, nil
}

// Run starts the worker and begins listening for messages. It returns once
// ctx is done and every accepted job has finished.
func (w *NatsWorker) Run(ctx context.Context) error {
	sub, err := w.natsConnection.QueueSubscribe(w.config.Subject, queueGroup, w.dispatch)
	if err != nil {
		return fmt.Errorf("failed to subscribe to subject %s: %w", w.config.Subject, err)
	}

	w.log.Info("Listening for narration jobs on subject: %s", w.config.Subject)

	<-ctx.Done()

	drainErr := sub.Drain()
	if drainErr == nil {
		w.awaitDrained(sub)
	}

	w.inFlight.Wait()

	if drainErr != nil {
		return fmt.Errorf("failed to drain subscription: %w", drainErr)
	}

	return nil
}

// awaitDrained blocks until pending messages have been dispatched, so no
// job starts after Run stops waiting for in-flight work.
func (w *NatsWorker) awaitDrained(sub *nats.Subscription) {
	deadline := time.Now().Add(w.config.MessageTimeout)

	for sub.IsValid() && time.Now().Before(deadline) {
		time.Sleep(drainPollInterval)
	}
}

// dispatch hands the message to a job goroutine once a slot is free. The
// subscription callback blocks while every slot is busy.
func (w *NatsWorker) dispatch(msg *nats.Msg) {
	w.workerPool <- struct{}{}

	w.inFlight.Add(1)

	go func() {
		defer w.inFlight.Done()
		defer func() { <-w.workerPool }()

		w.handleMessage(msg)
	}()
}

func (w *NatsWorker) handleMessage(msg *nats.Msg) {
	ctx, cancel := context.WithTimeout(context.Background(), w.config.MessageTimeout)
	defer cancel()

	event, err := w.parseAndValidateEvent(msg)
	if err != nil {
		w.log.Error("Failed to parse and validate event: %v", err)

		return
	}

	audioKey, processErr := w.processNarrationJob(ctx, event)
	if processErr != nil {
		w.log.Error("Failed to process narration job for event %s: %v", event.Header.WorkflowID, processErr)

		return
	}

	replyEvent := &events.AudioChunkCreatedEvent{
		Header:     event.Header,
		AudioKey:   audioKey,
		PageNumber: event.PageNumber,
		TotalPages: event.TotalPages,
	}

	err = w.publishReplyEvent(msg, replyEvent)
	if err != nil {
		w.log.Error("Failed to publish reply event for workflow %s: %v", event.Header.WorkflowID, err)
	}
}

// processNarrationJob downloads the script, narrates it and uploads the audio.
func (w *NatsWorker) processNarrationJob(ctx context.Context, event *events.TextProcessedEvent) (string, error) {
	textData, err := w.scripts.Download(ctx, event.TextKey)
	if err != nil {
		return "", fmt.Errorf("failed to download text data for key '%s': %w", event.TextKey, err)
	}

	if len(textData) == 0 {
		return "", fmt.Errorf("%w: %s", ErrEmptyScript, event.TextKey)
	}

	jobDir, err := os.MkdirTemp(w.config.WorkDir, workDirPattern)
	if err != nil {
		return "", fmt.Errorf("failed to create work directory: %w", err)
	}

	defer func() {
		removeErr := os.RemoveAll(jobDir)
		if removeErr != nil {
			w.log.Warn("Failed to remove work directory %s: %v", jobDir, removeErr)
		}
	}()

	outputPath := filepath.Join(jobDir, uuid.NewString())

	err = w.narrator.Synthesize(ctx, string(textData), outputPath)
	if err != nil {
		return "", fmt.Errorf("failed to narrate script '%s': %w", event.TextKey, err)
	}

	finalPath := w.narrator.FinalPath(outputPath)

	audioData, err := os.ReadFile(finalPath)
	if err != nil {
		return "", fmt.Errorf("failed to read narrated audio %s: %w", finalPath, err)
	}

	audioKey := uuid.NewString() + filepath.Ext(finalPath)

	err = w.audio.Upload(ctx, audioKey, audioData)
	if err != nil {
		return "", fmt.Errorf("failed to upload audio data for key '%s': %w", audioKey, err)
	}

	w.log.Info("Narrated %s into %s (%d bytes)", event.TextKey, audioKey, len(audioData))

	return audioKey, nil
}

// publishReplyEvent marshals and responds with the AudioChunkCreatedEvent.
func (w *NatsWorker) publishReplyEvent(msg *nats.Msg, replyEvent *events.AudioChunkCreatedEvent) error {
	replyData, err := json.Marshal(replyEvent)
	if err != nil {
		return fmt.Errorf("failed to marshal reply event: %w", err)
	}

	if w.config.NotifySubject != "" {
		publishErr := w.natsConnection.Publish(w.config.NotifySubject, replyData)
		if publishErr != nil {
			w.log.Warn("Failed to publish to %s: %v", w.config.NotifySubject, publishErr)
		}
	}

	if msg.Reply == "" {
		return nil
	}

	err = msg.Respond(replyData)
	if err != nil {
		return fmt.Errorf("failed to publish reply event: %w", err)
	}

	return nil
}

func (w *NatsWorker) parseAndValidateEvent(msg *nats.Msg) (*events.TextProcessedEvent, error) {
	var event events.TextProcessedEvent

	err := json.Unmarshal(msg.Data, &event)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal event: %w", err)
	}

	if event.TextKey == "" {
		return nil, ErrTextKeyEmpty
	}

	if event.Header.WorkflowID == "" {
		event.Header.WorkflowID = uuid.NewString()
	}

	return &event, nil
}

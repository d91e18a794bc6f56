// Package worker_test tests the NATS worker for the narration service.
package worker_test

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/book-expert/events"
	"github.com/book-expert/logger"
	"github.com/book-expert/narration-service/internal/worker"
	"github.com/google/uuid"
	"github.com/nats-io/nats-server/v2/test"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	errMockDownload  = errors.New("mock download error")
	errMockUpload    = errors.New("mock upload error")
	errMockSynthesis = errors.New("mock synthesis error")
)

// mockObjectStore is a mock implementation of the ObjectStore interface.
type mockObjectStore struct {
	DownloadShouldFail bool
	UploadShouldFail   bool
	mu                 sync.Mutex
	objects            map[string][]byte
}

func newMockObjectStore() *mockObjectStore {
	return &mockObjectStore{objects: make(map[string][]byte)}
}

func (m *mockObjectStore) Download(_ context.Context, key string) ([]byte, error) {
	if m.DownloadShouldFail {
		return nil, errMockDownload
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	return m.objects[key], nil
}

func (m *mockObjectStore) Upload(_ context.Context, key string, data []byte) error {
	if m.UploadShouldFail {
		return errMockUpload
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.objects[key] = data

	return nil
}

func (m *mockObjectStore) snapshot() map[string][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()

	copied := make(map[string][]byte, len(m.objects))
	for key, value := range m.objects {
		copied[key] = value
	}

	return copied
}

// mockNarrator writes "audio:<text>" to outputPath with an .mp3 extension.
type mockNarrator struct {
	SynthesizeShouldFail bool
	mu                   sync.Mutex
	texts                []string
}

func (m *mockNarrator) FinalPath(outputPath string) string {
	return outputPath + ".mp3"
}

func (m *mockNarrator) Synthesize(_ context.Context, text, outputPath string) error {
	m.mu.Lock()
	m.texts = append(m.texts, text)
	m.mu.Unlock()

	if m.SynthesizeShouldFail {
		return errMockSynthesis
	}

	return os.WriteFile(m.FinalPath(outputPath), []byte("audio:"+text), 0o600)
}

func createTestNatsClient(t *testing.T) *nats.Conn {
	t.Helper()

	opts := test.DefaultTestOptions
	opts.Port = -1 // Use a random port
	server := test.RunServer(&opts)

	natsConnection, err := nats.Connect(server.ClientURL())
	require.NoError(t, err, "Failed to connect to test NATS server")

	t.Cleanup(func() {
		natsConnection.Close()
		server.Shutdown()
	})

	return natsConnection
}

type testSetup struct {
	worker         *worker.NatsWorker
	scripts        *mockObjectStore
	audio          *mockObjectStore
	narrator       *mockNarrator
	natsConnection *nats.Conn
	workDir        string
}

func setupTest(t *testing.T, notifySubject string) *testSetup {
	t.Helper()

	natsConnection := createTestNatsClient(t)

	testLogger, err := logger.New(t.TempDir(), "worker-test.log")
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = testLogger.Close()
	})

	setup := &testSetup{
		scripts:        newMockObjectStore(),
		audio:          newMockObjectStore(),
		narrator:       &mockNarrator{},
		natsConnection: natsConnection,
		workDir:        t.TempDir(),
	}

	setup.worker, err = worker.NewNatsWorker(natsConnection, setup.scripts, setup.audio, setup.narrator, worker.Config{
		Subject:           "narration.test",
		NotifySubject:     notifySubject,
		WorkDir:           setup.workDir,
		MessageTimeout:    5 * time.Second,
		MaxConcurrentJobs: 2,
	}, testLogger)
	require.NoError(t, err)

	return setup
}

func (s *testSetup) start(t *testing.T) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	errChan := make(chan error, 1)

	go func() {
		errChan <- s.worker.Run(ctx)
	}()

	t.Cleanup(func() {
		cancel()
		assert.NoError(t, <-errChan, "worker.Run should not error on graceful shutdown")
	})

	// The subscription is registered asynchronously; flush until the
	// server knows about it.
	require.Eventually(t, func() bool {
		return s.natsConnection.NumSubscriptions() > 0 && s.natsConnection.Flush() == nil
	}, 2*time.Second, 10*time.Millisecond)
}

func newTextEvent(textKey string) *events.TextProcessedEvent {
	return &events.TextProcessedEvent{
		Header: events.EventHeader{
			Timestamp:  time.Now(),
			WorkflowID: uuid.NewString(),
			EventID:    uuid.NewString(),
			UserID:     "",
			TenantID:   "",
		},
		TextKey:           textKey,
		PNGKey:            "",
		PageNumber:        3,
		TotalPages:        9,
		Voice:             "",
		Seed:              0,
		NGL:               0,
		TopP:              0,
		RepetitionPenalty: 0,
		Temperature:       0,
	}
}

func TestNewNatsWorker_RequiresSubject(t *testing.T) {
	t.Parallel()

	_, err := worker.NewNatsWorker(nil, nil, nil, nil, worker.Config{}, nil)
	require.ErrorIs(t, err, worker.ErrSubjectEmpty)
}

func TestMessageHandler_Success(t *testing.T) {
	t.Parallel()

	setup := setupTest(t, "")
	require.NoError(t, setup.scripts.Upload(context.Background(), "script-key", []byte("Es war einmal.")))
	setup.start(t)

	testEvent := newTextEvent("script-key")
	eventData, err := json.Marshal(testEvent)
	require.NoError(t, err)

	replyMsg, err := setup.natsConnection.Request("narration.test", eventData, 5*time.Second)
	require.NoError(t, err, "Request should succeed and receive a reply")

	var replyEvent events.AudioChunkCreatedEvent

	err = json.Unmarshal(replyMsg.Data, &replyEvent)
	require.NoError(t, err)

	assert.Equal(t, testEvent.Header.WorkflowID, replyEvent.Header.WorkflowID)
	assert.EqualValues(t, 3, replyEvent.PageNumber)
	assert.EqualValues(t, 9, replyEvent.TotalPages)
	assert.True(t, strings.HasSuffix(replyEvent.AudioKey, ".mp3"))

	uploaded := setup.audio.snapshot()
	assert.Equal(t, []byte("audio:Es war einmal."), uploaded[replyEvent.AudioKey])

	entries, err := os.ReadDir(setup.workDir)
	require.NoError(t, err)
	assert.Empty(t, entries, "per-job work directories are removed")
}

func TestMessageHandler_NotifiesSubject(t *testing.T) {
	t.Parallel()

	setup := setupTest(t, "audio.chunk.created")
	require.NoError(t, setup.scripts.Upload(context.Background(), "script-key", []byte("Hallo.")))

	setup.start(t)

	notifications, err := setup.natsConnection.SubscribeSync("audio.chunk.created")
	require.NoError(t, err)
	require.NoError(t, setup.natsConnection.Flush())

	eventData, err := json.Marshal(newTextEvent("script-key"))
	require.NoError(t, err)

	require.NoError(t, setup.natsConnection.Publish("narration.test", eventData))

	notification, err := notifications.NextMsg(5 * time.Second)
	require.NoError(t, err)

	var created events.AudioChunkCreatedEvent
	require.NoError(t, json.Unmarshal(notification.Data, &created))
	assert.NotEmpty(t, created.AudioKey)
}

func TestMessageHandler_Failures(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		prepare func(setup *testSetup)
		textKey string
	}{
		{
			name:    "download fails",
			prepare: func(setup *testSetup) { setup.scripts.DownloadShouldFail = true },
			textKey: "script-key",
		},
		{
			name:    "empty script",
			prepare: func(*testSetup) {},
			textKey: "missing-key",
		},
		{
			name:    "synthesis fails",
			prepare: func(setup *testSetup) { setup.narrator.SynthesizeShouldFail = true },
			textKey: "script-key",
		},
		{
			name:    "upload fails",
			prepare: func(setup *testSetup) { setup.audio.UploadShouldFail = true },
			textKey: "script-key",
		},
		{
			name:    "missing text key",
			prepare: func(*testSetup) {},
			textKey: "",
		},
	}

	for _, testCase := range tests {
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			setup := setupTest(t, "")
			require.NoError(t, setup.scripts.Upload(context.Background(), "script-key", []byte("Text.")))
			testCase.prepare(setup)
			setup.start(t)

			eventData, err := json.Marshal(newTextEvent(testCase.textKey))
			require.NoError(t, err)

			_, err = setup.natsConnection.Request("narration.test", eventData, 300*time.Millisecond)
			require.ErrorIs(t, err, nats.ErrTimeout, "failed jobs send no reply")

			entries, readErr := os.ReadDir(setup.workDir)
			require.NoError(t, readErr)
			assert.Empty(t, entries)
		})
	}
}

func TestMessageHandler_ConcurrentJobs(t *testing.T) {
	t.Parallel()

	setup := setupTest(t, "")
	setup.start(t)

	const jobs = 4

	var waitGroup sync.WaitGroup

	for i := range jobs {
		key := filepath.Join("scripts", uuid.NewString())
		require.NoError(t, setup.scripts.Upload(context.Background(), key, []byte{byte('a' + i)}))

		waitGroup.Add(1)

		go func() {
			defer waitGroup.Done()

			eventData, err := json.Marshal(newTextEvent(key))
			assert.NoError(t, err)

			_, err = setup.natsConnection.Request("narration.test", eventData, 5*time.Second)
			assert.NoError(t, err)
		}()
	}

	waitGroup.Wait()

	assert.Len(t, setup.audio.snapshot(), jobs)
}

// Package objectstore_test tests the NATS object store implementation.
package objectstore_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/book-expert/narration-service/internal/objectstore"
	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats-server/v2/test"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// StartTestServer starts an in-process NATS server with JetStream.
func StartTestServer(t *testing.T) (*server.Server, *nats.Conn) {
	t.Helper()

	opts := test.DefaultTestOptions
	opts.Port = -1
	opts.JetStream = true
	opts.StoreDir = t.TempDir()
	natsServer := test.RunServer(&opts)

	natsConnection, err := nats.Connect(natsServer.ClientURL())
	if err != nil {
		natsServer.Shutdown()
		t.Fatalf("Failed to connect to test NATS server: %v", err)
	}

	t.Cleanup(func() {
		natsConnection.Close()
		natsServer.Shutdown()
	})

	return natsServer, natsConnection
}

func newTestStore(t *testing.T, bucket string) *objectstore.Store {
	t.Helper()

	_, natsConnection := StartTestServer(t)

	jetstreamContext, err := natsConnection.JetStream()
	require.NoError(t, err)

	store, err := objectstore.New(jetstreamContext, objectstore.Config{
		Bucket:      bucket,
		Description: "",
		TTL:         time.Hour,
	})
	require.NoError(t, err)

	return store
}

func TestStore_UploadDownload(t *testing.T) {
	t.Parallel()

	store := newTestStore(t, "scripts")
	ctx := context.Background()
	uploadData := []byte("Es war einmal eine kleine Stadt am Meer.")

	err := store.Upload(ctx, "story.txt", uploadData)
	require.NoError(t, err)

	downloadData, err := store.Download(ctx, "story.txt")
	require.NoError(t, err)
	require.Equal(t, uploadData, downloadData)
	assert.Equal(t, "scripts", store.Bucket())
}

func TestStore_DownloadToFileAndDelete(t *testing.T) {
	t.Parallel()

	store := newTestStore(t, "staging")
	ctx := context.Background()
	payload := []byte("RIFF-staged-audio")

	require.NoError(t, store.Upload(ctx, "0123.wav", payload))

	localPath := filepath.Join(t.TempDir(), "0123.wav")
	require.NoError(t, store.DownloadToFile(ctx, "0123.wav", localPath))

	data, err := os.ReadFile(localPath)
	require.NoError(t, err)
	assert.Equal(t, payload, data)

	require.NoError(t, store.Delete(ctx, "0123.wav"))

	_, err = store.Download(ctx, "0123.wav")
	require.ErrorIs(t, err, nats.ErrObjectNotFound)

	require.NoError(t, store.Delete(ctx, "0123.wav"), "deleting a missing object is not an error")
}

func TestStore_DownloadToFileMissingObject(t *testing.T) {
	t.Parallel()

	store := newTestStore(t, "staging-missing")

	err := store.DownloadToFile(context.Background(), "nope.wav", filepath.Join(t.TempDir(), "nope.wav"))
	require.ErrorIs(t, err, nats.ErrObjectNotFound)
}

func TestNew_BindsToExistingBucket(t *testing.T) {
	t.Parallel()

	_, natsConnection := StartTestServer(t)

	jetstreamContext, err := natsConnection.JetStream()
	require.NoError(t, err)

	first, err := objectstore.New(jetstreamContext, objectstore.Config{Bucket: "audio", Description: "", TTL: 0})
	require.NoError(t, err)
	require.NoError(t, first.Upload(context.Background(), "a.mp3", []byte("mp3")))

	second, err := objectstore.New(jetstreamContext, objectstore.Config{Bucket: "audio", Description: "", TTL: 0})
	require.NoError(t, err)

	data, err := second.Download(context.Background(), "a.mp3")
	require.NoError(t, err)
	assert.Equal(t, []byte("mp3"), data)
}

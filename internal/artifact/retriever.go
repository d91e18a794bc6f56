package artifact

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/book-expert/logger"
	"github.com/book-expert/narration-service/internal/core"
)

const dirPermissions = 0o755

const (
	logFmtRetrieved          = "Retrieved staged artifact %s to %s (%d bytes)"
	logFmtRemoteDeleteFailed = "Failed to delete staged artifact %s after download: %v"
	logFmtRemovePartialFail  = "Failed to remove partial download '%s': %v"
)

// ErrRetrievalFailed is returned when the staged artifact could not be
// downloaded. The remote object is left in place.
var ErrRetrievalFailed = errors.New("artifact retrieval failed")

// Retriever downloads staged artifacts and removes them from staging.
type Retriever struct {
	store core.StagingStore
	log   *logger.Logger
}

// NewRetriever creates a Retriever over store.
func NewRetriever(store core.StagingStore, log *logger.Logger) *Retriever {
	return &Retriever{store: store, log: log}
}

// Retrieve downloads the object at key into localPath. The remote object is
// deleted only after a complete, non-empty download; a failed delete is
// logged and the retrieval still succeeds.
func (r *Retriever) Retrieve(ctx context.Context, key, localPath string) error {
	err := os.MkdirAll(filepath.Dir(localPath), dirPermissions)
	if err != nil {
		return fmt.Errorf("%w: create directory for %s: %w", ErrRetrievalFailed, localPath, err)
	}

	err = r.store.DownloadToFile(ctx, key, localPath)
	if err != nil {
		r.removePartial(localPath)

		return fmt.Errorf("%w: download %s: %w", ErrRetrievalFailed, key, err)
	}

	info, err := os.Stat(localPath)
	if err != nil {
		return fmt.Errorf("%w: stat %s: %w", ErrRetrievalFailed, localPath, err)
	}

	if info.Size() == 0 {
		r.removePartial(localPath)

		return fmt.Errorf("%w: %s downloaded empty", ErrRetrievalFailed, key)
	}

	r.log.Info(logFmtRetrieved, key, localPath, info.Size())

	deleteErr := r.store.Delete(ctx, key)
	if deleteErr != nil {
		r.log.Warn(logFmtRemoteDeleteFailed, key, deleteErr)
	}

	return nil
}

func (r *Retriever) removePartial(localPath string) {
	removeErr := os.Remove(localPath)
	if removeErr != nil && !errors.Is(removeErr, os.ErrNotExist) {
		r.log.Warn(logFmtRemovePartialFail, localPath, removeErr)
	}
}

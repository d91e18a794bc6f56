package story

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/narration-service/internal/fileutil"
)

// Removal reasons.
const (
	ReasonTooShort     = "too short"
	ReasonTooLong      = "too long"
	ReasonMissingCover = "missing cover"
)

const (
	logFmtCleaning      = "Cleaning stories in %s"
	logFmtRemovingStory = "Removing story %s (%s, %s)"
	logFmtRemoveFailed  = "Failed to remove story %s: %v"
	logFmtProbeFailed   = "Failed to read playtime of %s: %v"
	logFmtCleanComplete = "Cleanup complete: %d removed, %s remaining in %d stories"
	logFmtTotalPlaytime = "Total playtime: %s (%d stories)"
	errFmtScanFailed    = "failed to scan story library %s: %w"
	errFmtRemoveStories = "%w: %d of %d invalid stories were not removed"
)

// ErrRemoveFailed is returned by Clean when an invalid bundle could not be
// deleted.
var ErrRemoveFailed = errors.New("story removal failed")

// DurationProber reads the playtime of an audio file.
type DurationProber interface {
	Duration(ctx context.Context, path string) (time.Duration, error)
}

// LibraryConfig sets where bundles live and which ones Clean keeps.
type LibraryConfig struct {
	DataDir      string
	MinDuration  time.Duration
	MaxDuration  time.Duration
	RequireCover bool
}

// Entry is one narrated story found in the library.
type Entry struct {
	Dir       string
	AudioPath string
	Duration  time.Duration
	// Metadata is nil when the bundle has no readable story.json.
	Metadata *Metadata
	Err      error
}

// Title returns the story title, or the bundle directory name.
func (e Entry) Title() string {
	if e.Metadata != nil && e.Metadata.Title != "" {
		return e.Metadata.Title
	}

	return filepath.Base(e.Dir)
}

// Stats totals the playtime of a library.
type Stats struct {
	Stories    int
	Unreadable int
	Total      time.Duration
}

// Removal records a bundle deleted by Clean.
type Removal struct {
	Entry  Entry
	Reason string
}

// CleanReport summarizes a Clean run. Remaining covers the kept stories.
type CleanReport struct {
	Removed   []Removal
	Remaining Stats
}

// Library inspects and prunes the story bundles under a data directory.
type Library struct {
	prober DurationProber
	config LibraryConfig
	log    *logger.Logger
}

// NewLibrary creates a Library. An empty DataDir selects fileutil.DataDir.
func NewLibrary(prober DurationProber, cfg LibraryConfig, log *logger.Logger) *Library {
	if cfg.DataDir == "" {
		cfg.DataDir = fileutil.DataDir()
	}

	return &Library{prober: prober, config: cfg, log: log}
}

// DataDir returns the directory the library scans.
func (l *Library) DataDir() string {
	return l.config.DataDir
}

// Scan returns every audio file inside a bundle directory with its playtime,
// sorted by path. Files whose playtime cannot be read carry Err. A missing
// data directory is an empty library.
func (l *Library) Scan(ctx context.Context) ([]Entry, error) {
	var entries []Entry

	root := filepath.Clean(l.config.DataDir)

	walkErr := filepath.WalkDir(root, func(path string, dirEntry fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) && path == root {
				return fs.SkipAll
			}

			return err
		}

		ctxErr := ctx.Err()
		if ctxErr != nil {
			return ctxErr
		}

		dir := filepath.Dir(path)
		if dirEntry.IsDir() || dir == root || !fileutil.IsAudioFile(path) {
			return nil
		}

		entries = append(entries, l.inspect(ctx, dir, path))

		return nil
	})
	if walkErr != nil {
		return nil, fmt.Errorf(errFmtScanFailed, root, walkErr)
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].AudioPath < entries[j].AudioPath })

	return entries, nil
}

// Stats totals the playtime of every readable story.
func (l *Library) Stats(ctx context.Context) (Stats, error) {
	entries, err := l.Scan(ctx)
	if err != nil {
		return Stats{}, err
	}

	stats := totals(entries)

	l.log.Info(logFmtTotalPlaytime, fileutil.FormatDuration(stats.Total), stats.Stories)

	return stats, nil
}

// Clean removes every bundle whose playtime lies outside
// [MinDuration, MaxDuration] or, when RequireCover is set, that has no
// cover. Unreadable stories are logged and kept.
func (l *Library) Clean(ctx context.Context) (CleanReport, error) {
	l.log.Info(logFmtCleaning, l.config.DataDir)

	entries, err := l.Scan(ctx)
	if err != nil {
		return CleanReport{}, err
	}

	var (
		report  CleanReport
		kept    []Entry
		failed  int
		removed = make(map[string]bool)
	)

	for _, entry := range entries {
		if removed[entry.Dir] {
			continue
		}

		reason := l.rejectReason(entry)
		if reason == "" {
			kept = append(kept, entry)

			continue
		}

		l.log.Info(logFmtRemovingStory, entry.Dir, fileutil.FormatDuration(entry.Duration), reason)

		removeErr := os.RemoveAll(entry.Dir)
		if removeErr != nil {
			l.log.Error(logFmtRemoveFailed, entry.Dir, removeErr)

			failed++

			continue
		}

		removed[entry.Dir] = true
		report.Removed = append(report.Removed, Removal{Entry: entry, Reason: reason})
	}

	var remaining []Entry

	for _, entry := range kept {
		if !removed[entry.Dir] {
			remaining = append(remaining, entry)
		}
	}

	report.Remaining = totals(remaining)

	l.log.Info(logFmtCleanComplete, len(report.Removed),
		fileutil.FormatDuration(report.Remaining.Total), report.Remaining.Stories)

	if failed > 0 {
		return report, fmt.Errorf(errFmtRemoveStories, ErrRemoveFailed, failed, failed+len(report.Removed))
	}

	return report, nil
}

func (l *Library) inspect(ctx context.Context, dir, audioPath string) Entry {
	entry := Entry{Dir: dir, AudioPath: audioPath, Duration: 0, Metadata: nil, Err: nil}

	metadata, metadataErr := LoadMetadata(dir)
	if metadataErr == nil {
		entry.Metadata = metadata
	}

	entry.Duration, entry.Err = l.prober.Duration(ctx, audioPath)
	if entry.Err != nil {
		l.log.Error(logFmtProbeFailed, audioPath, entry.Err)
	}

	return entry
}

func (l *Library) rejectReason(entry Entry) string {
	switch {
	case entry.Err != nil:
		return ""
	case entry.Duration < l.config.MinDuration:
		return ReasonTooShort
	case l.config.MaxDuration > 0 && entry.Duration > l.config.MaxDuration:
		return ReasonTooLong
	case l.config.RequireCover && !fileExists(filepath.Join(entry.Dir, CoverFile)):
		return ReasonMissingCover
	default:
		return ""
	}
}

func totals(entries []Entry) Stats {
	var stats Stats

	for _, entry := range entries {
		if entry.Err != nil {
			stats.Unreadable++

			continue
		}

		stats.Stories++
		stats.Total += entry.Duration
	}

	return stats
}

func fileExists(path string) bool {
	_, err := os.Stat(path)

	return err == nil
}

package artifact

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"github.com/book-expert/logger"
)

// DefaultBinary is looked up on PATH when FFmpegConfig.BinaryPath is empty.
const DefaultBinary = "ffmpeg"

// partSuffix marks output that is still being written.
const partSuffix = ".part"

// maxOutputInError caps how much ffmpeg output is copied into errors.
const maxOutputInError = 2048

const (
	logFmtTranscoded      = "Transcoded %s to %s (%s)"
	logFmtRemoveRawFailed = "Failed to remove raw artifact '%s': %v"
	logFmtRemovePartFail  = "Failed to remove partial output '%s': %v"
	logFmtRemoveStaleFail = "Failed to remove previous output '%s': %v"
)

// ErrTranscodeFailed is returned when the final artifact could not be produced.
// The raw input is left in place.
var ErrTranscodeFailed = errors.New("transcode failed")

// FFmpegConfig configures FFmpegTranscoder.
type FFmpegConfig struct {
	BinaryPath string
	Format     Format
	Quality    Quality
}

// FFmpegTranscoder converts audio files by running the ffmpeg binary.
type FFmpegTranscoder struct {
	binary string
	format Format
	spec   codecSpec
	q      Quality
	log    *logger.Logger
}

// NewFFmpegTranscoder validates cfg and returns a transcoder. Empty fields
// fall back to DefaultBinary, DefaultFormat and DefaultBitrate.
func NewFFmpegTranscoder(cfg FFmpegConfig, log *logger.Logger) (*FFmpegTranscoder, error) {
	if cfg.BinaryPath == "" {
		cfg.BinaryPath = DefaultBinary
	}

	if cfg.Format == "" {
		cfg.Format = DefaultFormat
	}

	spec, ok := codecs[cfg.Format]
	if !ok {
		return nil, fmt.Errorf(errFmtUnknownFormat, ErrUnknownFormat, cfg.Format)
	}

	if cfg.Quality.Bitrate == "" && !spec.lossless {
		cfg.Quality.Bitrate = DefaultBitrate
	}

	qualityErr := cfg.Quality.Validate()
	if qualityErr != nil {
		return nil, qualityErr
	}

	return &FFmpegTranscoder{
		binary: cfg.BinaryPath,
		format: cfg.Format,
		spec:   spec,
		q:      cfg.Quality,
		log:    log,
	}, nil
}

// Format returns the output format.
func (t *FFmpegTranscoder) Format() Format {
	return t.format
}

// Transcode converts srcPath into dstPath. The result is written to a
// sibling .part file and renamed into place, so dstPath either holds a
// complete non-empty file or does not exist; output left by an earlier run
// is removed first. On success srcPath is removed.
func (t *FFmpegTranscoder) Transcode(ctx context.Context, srcPath, dstPath string) error {
	if srcPath == "" || dstPath == "" || srcPath == dstPath {
		return fmt.Errorf("%w: invalid paths %q -> %q", ErrTranscodeFailed, srcPath, dstPath)
	}

	partPath := dstPath + partSuffix

	removeFile(dstPath, logFmtRemoveStaleFail, t.log)

	// #nosec G204 -- binary comes from configuration, paths are passed as arguments
	cmd := exec.CommandContext(ctx, t.binary, t.args(srcPath, partPath)...)

	output, err := cmd.CombinedOutput()
	if err != nil {
		t.removePart(partPath)

		return fmt.Errorf("%w: %s %s -> %s: %w - output: %s",
			ErrTranscodeFailed, t.binary, srcPath, dstPath, err, truncate(output))
	}

	info, err := os.Stat(partPath)
	if err != nil {
		t.removePart(partPath)

		return fmt.Errorf("%w: no output for %s: %w", ErrTranscodeFailed, dstPath, err)
	}

	if info.Size() == 0 {
		t.removePart(partPath)

		return fmt.Errorf("%w: empty output for %s", ErrTranscodeFailed, dstPath)
	}

	err = os.Rename(partPath, dstPath)
	if err != nil {
		t.removePart(partPath)

		return fmt.Errorf("%w: rename %s: %w", ErrTranscodeFailed, partPath, err)
	}

	removeErr := os.Remove(srcPath)
	if removeErr != nil && !errors.Is(removeErr, os.ErrNotExist) {
		t.log.Warn(logFmtRemoveRawFailed, srcPath, removeErr)
	}

	t.log.Info(logFmtTranscoded, srcPath, dstPath, t.format)

	return nil
}

func (t *FFmpegTranscoder) args(srcPath, dstPath string) []string {
	args := []string{
		"-hide_banner",
		"-loglevel", "error",
		"-y",
		"-i", srcPath,
		"-vn",
		"-codec:a", t.spec.codec,
	}

	if t.q.Bitrate != "" && !t.spec.lossless {
		args = append(args, "-b:a", t.q.Bitrate)
	}

	if t.q.SampleRate > 0 {
		args = append(args, "-ar", strconv.Itoa(t.q.SampleRate))
	}

	if t.q.Channels > 0 {
		args = append(args, "-ac", strconv.Itoa(t.q.Channels))
	}

	return append(args, "-f", t.spec.muxer, dstPath)
}

func (t *FFmpegTranscoder) removePart(partPath string) {
	removeFile(partPath, logFmtRemovePartFail, t.log)
}

func removeFile(path, logFmt string, log *logger.Logger) {
	removeErr := os.Remove(path)
	if removeErr != nil && !errors.Is(removeErr, os.ErrNotExist) {
		log.Warn(logFmt, path, removeErr)
	}
}

func truncate(output []byte) string {
	text := strings.TrimSpace(string(output))
	if len(text) > maxOutputInError {
		return text[:maxOutputInError] + "..."
	}

	return text
}

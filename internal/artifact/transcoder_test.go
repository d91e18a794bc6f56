package artifact_test

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/book-expert/narration-service/internal/artifact"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeFFmpegCopy copies the -i input to the last argument.
const fakeFFmpegCopy = `#!/bin/sh
in=""
prev=""
out=""
for arg in "$@"; do
  if [ "$prev" = "-i" ]; then in="$arg"; fi
  prev="$arg"
  out="$arg"
done
printf '%s\n' "$@" > "$(dirname "$out")/args.txt"
cp "$in" "$out"
`

// fakeFFmpegFail writes partial output and exits non-zero.
const fakeFFmpegFail = `#!/bin/sh
out=""
for arg in "$@"; do out="$arg"; done
printf 'partial' > "$out"
echo "Invalid data found when processing input" >&2
exit 1
`

// fakeFFmpegEmpty exits zero without writing anything useful.
const fakeFFmpegEmpty = `#!/bin/sh
out=""
for arg in "$@"; do out="$arg"; done
: > "$out"
`

// writeFakeFFmpeg installs script as an executable and returns its path.
func writeFakeFFmpeg(t *testing.T, script string) string {
	t.Helper()

	if runtime.GOOS == "windows" {
		t.Skip("shell stand-in for ffmpeg requires a POSIX shell")
	}

	path := filepath.Join(t.TempDir(), "ffmpeg")
	require.NoError(t, os.WriteFile(path, []byte(script), 0o700))

	return path
}

func writeRawFile(t *testing.T, dir string) string {
	t.Helper()

	rawPath := filepath.Join(dir, "story.wav")
	require.NoError(t, os.WriteFile(rawPath, []byte("RIFF-raw-audio"), 0o600))

	return rawPath
}

func TestNewFFmpegTranscoder_Validation(t *testing.T) {
	t.Parallel()

	_, err := artifact.NewFFmpegTranscoder(artifact.FFmpegConfig{Format: "opus"}, newTestLogger(t))
	require.ErrorIs(t, err, artifact.ErrUnknownFormat)

	_, err = artifact.NewFFmpegTranscoder(artifact.FFmpegConfig{
		Format:  artifact.FormatMP3,
		Quality: artifact.Quality{Bitrate: "fast"},
	}, newTestLogger(t))
	require.ErrorIs(t, err, artifact.ErrInvalidQuality)

	transcoder, err := artifact.NewFFmpegTranscoder(artifact.FFmpegConfig{}, newTestLogger(t))
	require.NoError(t, err)
	assert.Equal(t, artifact.FormatMP3, transcoder.Format())
}

func TestFFmpegTranscoder_Success(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	rawPath := writeRawFile(t, dir)
	finalPath := filepath.Join(dir, "story.mp3")

	transcoder, err := artifact.NewFFmpegTranscoder(artifact.FFmpegConfig{
		BinaryPath: writeFakeFFmpeg(t, fakeFFmpegCopy),
		Format:     artifact.FormatMP3,
		Quality:    artifact.Quality{Bitrate: "192k"},
	}, newTestLogger(t))
	require.NoError(t, err)

	err = transcoder.Transcode(context.Background(), rawPath, finalPath)
	require.NoError(t, err)

	data, err := os.ReadFile(finalPath)
	require.NoError(t, err)
	assert.NotEmpty(t, data)
	assert.NoFileExists(t, rawPath, "raw artifact must be removed after transcoding")
	assert.NoFileExists(t, finalPath+".part")

	args, err := os.ReadFile(filepath.Join(dir, "args.txt"))
	require.NoError(t, err)

	argList := strings.Split(strings.TrimSpace(string(args)), "\n")
	assert.Contains(t, argList, "libmp3lame")
	assert.Contains(t, argList, "192k")
	assert.Contains(t, argList, "-y")
	assert.Equal(t, finalPath+".part", argList[len(argList)-1])
}

func TestFFmpegTranscoder_FailureKeepsRaw(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		script string
	}{
		{name: "ffmpeg exits non-zero", script: fakeFFmpegFail},
		{name: "ffmpeg writes empty output", script: fakeFFmpegEmpty},
	}

	for _, testCase := range tests {
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			dir := t.TempDir()
			rawPath := writeRawFile(t, dir)
			finalPath := filepath.Join(dir, "story.mp3")

			transcoder, err := artifact.NewFFmpegTranscoder(artifact.FFmpegConfig{
				BinaryPath: writeFakeFFmpeg(t, testCase.script),
				Format:     artifact.FormatMP3,
			}, newTestLogger(t))
			require.NoError(t, err)

			err = transcoder.Transcode(context.Background(), rawPath, finalPath)
			require.ErrorIs(t, err, artifact.ErrTranscodeFailed)

			assert.FileExists(t, rawPath, "raw artifact must survive a failed transcode")
			assert.NoFileExists(t, finalPath)
			assert.NoFileExists(t, finalPath+".part")
		})
	}
}

func TestFFmpegTranscoder_FailureRemovesPreviousOutput(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	rawPath := writeRawFile(t, dir)
	finalPath := filepath.Join(dir, "story.mp3")
	require.NoError(t, os.WriteFile(finalPath, []byte("ID3-from-last-run"), 0o600))

	transcoder, err := artifact.NewFFmpegTranscoder(artifact.FFmpegConfig{
		BinaryPath: writeFakeFFmpeg(t, fakeFFmpegFail),
		Format:     artifact.FormatMP3,
	}, newTestLogger(t))
	require.NoError(t, err)

	err = transcoder.Transcode(context.Background(), rawPath, finalPath)
	require.ErrorIs(t, err, artifact.ErrTranscodeFailed)

	assert.NoFileExists(t, finalPath, "output of an earlier run must not survive a failed transcode")
	assert.FileExists(t, rawPath)
}

func TestFFmpegTranscoder_MissingBinary(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	rawPath := writeRawFile(t, dir)
	finalPath := filepath.Join(dir, "story.mp3")

	transcoder, err := artifact.NewFFmpegTranscoder(artifact.FFmpegConfig{
		BinaryPath: filepath.Join(dir, "no-such-ffmpeg"),
	}, newTestLogger(t))
	require.NoError(t, err)

	err = transcoder.Transcode(context.Background(), rawPath, finalPath)
	require.ErrorIs(t, err, artifact.ErrTranscodeFailed)
	assert.FileExists(t, rawPath)
	assert.NoFileExists(t, finalPath)
}

func TestFFmpegTranscoder_RejectsSamePath(t *testing.T) {
	t.Parallel()

	transcoder, err := artifact.NewFFmpegTranscoder(artifact.FFmpegConfig{}, newTestLogger(t))
	require.NoError(t, err)

	err = transcoder.Transcode(context.Background(), "a.wav", "a.wav")
	require.ErrorIs(t, err, artifact.ErrTranscodeFailed)
}

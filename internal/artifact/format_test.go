package artifact_test

import (
	"testing"

	"github.com/book-expert/narration-service/internal/artifact"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFormat(t *testing.T) {
	t.Parallel()

	tests := []struct {
		input   string
		want    artifact.Format
		wantErr bool
	}{
		{input: "mp3", want: artifact.FormatMP3},
		{input: ".MP3", want: artifact.FormatMP3},
		{input: " flac ", want: artifact.FormatFLAC},
		{input: "m4a", want: artifact.FormatM4A},
		{input: "opus", wantErr: true},
		{input: "", wantErr: true},
	}

	for _, testCase := range tests {
		got, err := artifact.ParseFormat(testCase.input)
		if testCase.wantErr {
			require.ErrorIs(t, err, artifact.ErrUnknownFormat, "input %q", testCase.input)

			continue
		}

		require.NoError(t, err, "input %q", testCase.input)
		assert.Equal(t, testCase.want, got)
	}
}

func TestQualityValidate(t *testing.T) {
	t.Parallel()

	valid := []artifact.Quality{
		{},
		{Bitrate: "128k", SampleRate: 44100, Channels: 2},
		{Bitrate: "320"},
	}
	for _, quality := range valid {
		require.NoError(t, quality.Validate(), "%+v", quality)
	}

	invalid := []artifact.Quality{
		{SampleRate: -1},
		{SampleRate: 400000},
		{Channels: 9},
		{Bitrate: "k"},
		{Bitrate: "12.8k"},
	}
	for _, quality := range invalid {
		require.ErrorIs(t, quality.Validate(), artifact.ErrInvalidQuality, "%+v", quality)
	}
}

func TestWithExtension(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "out/story.mp3", artifact.WithExtension("out/story.wav", artifact.FormatMP3))
	assert.Equal(t, "out/story.mp3", artifact.WithExtension("out/story", artifact.FormatMP3))
	assert.Equal(t, "out/my.story.ogg", artifact.WithExtension("out/my.story.txt", artifact.FormatOGG))
}

func TestRawPathFor(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "out/story.wav", artifact.RawPathFor("out/story.mp3", ".wav"))
	assert.Equal(t, "out/story.raw.wav", artifact.RawPathFor("out/story.wav", ".wav"))
}

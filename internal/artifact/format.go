// Package artifact moves a finished synthesis result from remote staging to a
// playable local file: retrieval of the raw asset, then transcoding.
package artifact

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// Format is a supported output container.
type Format string

// Supported formats.
const (
	FormatWAV  Format = "wav"
	FormatMP3  Format = "mp3"
	FormatFLAC Format = "flac"
	FormatOGG  Format = "ogg"
	FormatM4A  Format = "m4a"
	FormatAAC  Format = "aac"
)

// Defaults for the final artifact.
const (
	DefaultFormat  = FormatMP3
	DefaultBitrate = "128k"
)

// Limits for Quality validation.
const (
	maxSampleRate = 192000
	maxChannels   = 8
)

const (
	errFmtUnknownFormat    = "%w: %q"
	errFmtSampleRateRange  = "%w: sample rate must be between 0 and %d Hz"
	errFmtChannelsRange    = "%w: channels must be between 0 and %d"
	errFmtBitrateMalformed = "%w: bitrate %q must look like 128k"
)

// Static errors.
var (
	ErrUnknownFormat  = errors.New("unknown audio format")
	ErrInvalidQuality = errors.New("invalid quality settings")
)

type codecSpec struct {
	codec string
	muxer string
	// lossless codecs ignore the bitrate.
	lossless bool
}

var codecs = map[Format]codecSpec{
	FormatWAV:  {codec: "pcm_s16le", muxer: "wav", lossless: true},
	FormatMP3:  {codec: "libmp3lame", muxer: "mp3", lossless: false},
	FormatFLAC: {codec: "flac", muxer: "flac", lossless: true},
	FormatOGG:  {codec: "libvorbis", muxer: "ogg", lossless: false},
	FormatM4A:  {codec: "aac", muxer: "ipod", lossless: false},
	FormatAAC:  {codec: "aac", muxer: "adts", lossless: false},
}

// ParseFormat returns the Format named by s, ignoring case and a leading dot.
func ParseFormat(s string) (Format, error) {
	format := Format(strings.ToLower(strings.TrimPrefix(strings.TrimSpace(s), ".")))

	_, ok := codecs[format]
	if !ok {
		return "", fmt.Errorf(errFmtUnknownFormat, ErrUnknownFormat, s)
	}

	return format, nil
}

// Extension returns the file extension for f including the dot.
func (f Format) Extension() string {
	return "." + string(f)
}

// Quality holds the encoder settings of the final artifact. Zero SampleRate
// or Channels keep the values of the source.
type Quality struct {
	Bitrate    string
	SampleRate int
	Channels   int
}

// Validate checks that the settings are within reasonable bounds.
func (q Quality) Validate() error {
	if q.SampleRate < 0 || q.SampleRate > maxSampleRate {
		return fmt.Errorf(errFmtSampleRateRange, ErrInvalidQuality, maxSampleRate)
	}

	if q.Channels < 0 || q.Channels > maxChannels {
		return fmt.Errorf(errFmtChannelsRange, ErrInvalidQuality, maxChannels)
	}

	if q.Bitrate != "" && !validBitrate(q.Bitrate) {
		return fmt.Errorf(errFmtBitrateMalformed, ErrInvalidQuality, q.Bitrate)
	}

	return nil
}

func validBitrate(bitrate string) bool {
	digits := strings.TrimSuffix(strings.ToLower(bitrate), "k")
	if digits == "" {
		return false
	}

	for _, r := range digits {
		if r < '0' || r > '9' {
			return false
		}
	}

	return true
}

// WithExtension replaces the extension of path with the one of format.
func WithExtension(path string, format Format) string {
	return strings.TrimSuffix(path, filepath.Ext(path)) + format.Extension()
}

// RawPathFor returns where the raw artifact for finalPath is staged locally:
// the same stem with rawExt, or stem.raw+rawExt when that would collide.
func RawPathFor(finalPath, rawExt string) string {
	stem := strings.TrimSuffix(finalPath, filepath.Ext(finalPath))

	raw := stem + rawExt
	if raw == finalPath {
		return stem + ".raw" + rawExt
	}

	return raw
}

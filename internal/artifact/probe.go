package artifact

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// DefaultProbeBinary is looked up on PATH when NewFFprobe gets no binary.
const DefaultProbeBinary = "ffprobe"

// ErrProbeFailed is returned when the playtime of a file cannot be read.
var ErrProbeFailed = errors.New("probe failed")

// FFprobe reads audio playtime with the ffprobe binary.
type FFprobe struct {
	binary string
}

// NewFFprobe returns a prober running binary.
func NewFFprobe(binary string) *FFprobe {
	if binary == "" {
		binary = DefaultProbeBinary
	}

	return &FFprobe{binary: binary}
}

// Duration returns the playtime of the audio file at path.
func (p *FFprobe) Duration(ctx context.Context, path string) (time.Duration, error) {
	// #nosec G204 -- binary comes from configuration, path is passed as an argument
	cmd := exec.CommandContext(ctx, p.binary,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	)

	output, err := cmd.Output()
	if err != nil {
		return 0, fmt.Errorf("%w: %s %s: %w", ErrProbeFailed, p.binary, path, err)
	}

	text := strings.TrimSpace(string(output))

	seconds, err := strconv.ParseFloat(text, 64)
	if err != nil || seconds < 0 || math.IsNaN(seconds) || math.IsInf(seconds, 0) {
		return 0, fmt.Errorf("%w: %s: unexpected duration %q", ErrProbeFailed, path, truncate(output))
	}

	return time.Duration(seconds * float64(time.Second)), nil
}

// Package fileutil holds path, naming and formatting helpers shared by the
// narration binaries and the story generator.
package fileutil

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// EnvDataDir overrides the default story data directory.
const EnvDataDir = "NARRATION_DATA_DIR"

const (
	appName                = "narration-service"
	dataDirName            = "stories"
	dotLocalShare          = ".local/share"
	defaultDirPermissions  = 0o750
	invalidCharReplacement = "_"
)

// Data size constants.
const (
	kilobyte = 1024
	megabyte = kilobyte * 1024
	gigabyte = megabyte * 1024
)

const (
	formatSeconds = "%.1fs"
	formatMinutes = "%dm %.1fs"
	formatHours   = "%dh %dm"
	formatGB      = "%.1f GB"
	formatMB      = "%.1f MB"
	formatKB      = "%.1f KB"
	formatBytes   = "%d B"
)

const errFmtFailedToCreateDir = "failed to create directory %s: %w"

var audioExtensions = map[string]bool{
	".wav": true, ".mp3": true, ".flac": true, ".ogg": true, ".m4a": true, ".aac": true,
}

var filenameReplacer = strings.NewReplacer(
	"<", invalidCharReplacement,
	">", invalidCharReplacement,
	":", invalidCharReplacement,
	"\"", invalidCharReplacement,
	"/", invalidCharReplacement,
	"\\", invalidCharReplacement,
	"|", invalidCharReplacement,
	"?", invalidCharReplacement,
	"*", invalidCharReplacement,
)

// DataDir returns where story bundles are written: EnvDataDir when set,
// otherwise ~/.local/share/narration-service/stories.
func DataDir() string {
	if dataDir := os.Getenv(EnvDataDir); dataDir != "" {
		return dataDir
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), appName, dataDirName)
	}

	return filepath.Join(homeDir, dotLocalShare, appName, dataDirName)
}

// EnsureDir creates path and its parents if they do not exist.
func EnsureDir(path string) error {
	mkdirErr := os.MkdirAll(path, defaultDirPermissions)
	if mkdirErr != nil {
		return fmt.Errorf(errFmtFailedToCreateDir, path, mkdirErr)
	}

	return nil
}

// RandomToken returns 2*nBytes hex characters from crypto/rand.
func RandomToken(nBytes int) (string, error) {
	buf := make([]byte, nBytes)

	_, err := rand.Read(buf)
	if err != nil {
		return "", fmt.Errorf("failed to read random bytes: %w", err)
	}

	return hex.EncodeToString(buf), nil
}

// FormatDuration renders d like "45.2s", "5m 30.5s" or "1h 15m".
func FormatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf(formatSeconds, d.Seconds())
	}

	if d < time.Hour {
		minutes := int(d / time.Minute)
		remaining := d - time.Duration(minutes)*time.Minute

		return fmt.Sprintf(formatMinutes, minutes, remaining.Seconds())
	}

	hours := int(d / time.Hour)
	minutes := int((d - time.Duration(hours)*time.Hour) / time.Minute)

	return fmt.Sprintf(formatHours, hours, minutes)
}

// FormatFileSize renders a byte count like "1.2 GB" or "500 B".
func FormatFileSize(bytes int64) string {
	switch {
	case bytes >= gigabyte:
		return fmt.Sprintf(formatGB, float64(bytes)/gigabyte)
	case bytes >= megabyte:
		return fmt.Sprintf(formatMB, float64(bytes)/megabyte)
	case bytes >= kilobyte:
		return fmt.Sprintf(formatKB, float64(bytes)/kilobyte)
	default:
		return fmt.Sprintf(formatBytes, bytes)
	}
}

// IsAudioFile reports whether filename has a common audio extension.
func IsAudioFile(filename string) bool {
	return audioExtensions[strings.ToLower(filepath.Ext(filename))]
}

// SanitizeFilename replaces characters that are invalid in most filesystems.
func SanitizeFilename(filename string) string {
	return filenameReplacer.Replace(strings.TrimSpace(filename))
}

// Package story produces narrated story bundles: a directory holding the
// audio, an optional cover and story.json metadata.
package story

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/narration-service/internal/core"
	"github.com/book-expert/narration-service/internal/fileutil"
)

// Bundle file names.
const (
	MetadataFile     = "story.json"
	CoverFile        = "cover.png"
	DefaultAudioFile = "story.mp3"
)

// dirTokenBytes gives 16 hex characters per bundle directory.
const dirTokenBytes = 8

const metadataPermissions = 0o640

const (
	logFmtGenerating      = "Generating story: %s"
	logFmtCreatedDir      = "Created story directory: %s"
	logFmtCoverFailed     = "Cover generation failed for %s, continuing anyway: %v"
	logFmtSynthesisFailed = "Speech synthesis failed for %s: %v"
	logFmtMetadataFailed  = "Failed to save story metadata to %s: %v"
	logFmtCleanupFailed   = "Failed to remove incomplete story directory %s: %v"
	logFmtStoryComplete   = "Story generation complete: %s"
	errFmtScriptFailed    = "failed to write script for setting %q: %w"
	errFmtSynthesisFailed = "failed to narrate story %q: %w"
	errFmtCreateDirFailed = "failed to create story directory: %w"
	errFmtTokenFailed     = "failed to create story directory name: %w"
)

// ErrEmptyStory is returned when the script writer produced no story text.
var ErrEmptyStory = errors.New("script writer returned an empty story")

// Request describes the story to generate.
type Request struct {
	Setting   string
	Model     string
	WordLimit int
}

// Draft is the text produced by a ScriptWriter.
type Draft struct {
	Title   string
	Summary string
	Story   string
}

// ScriptWriter writes the story text for a request.
type ScriptWriter interface {
	WriteScript(ctx context.Context, req Request) (Draft, error)
}

// CoverArtist draws a cover image for a story summary into outputPath.
type CoverArtist interface {
	DrawCover(ctx context.Context, topic, outputPath string) error
}

// Metadata is persisted as story.json in every bundle.
type Metadata struct {
	Title     string    `json:"title"`
	Summary   string    `json:"summary"`
	Story     string    `json:"story"`
	Setting   string    `json:"setting"`
	Model     string    `json:"model,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	AudioFile string    `json:"audio_file"`
	// Dir is the bundle directory; it is not persisted.
	Dir string `json:"-"`
}

// GeneratorConfig configures a Generator.
type GeneratorConfig struct {
	DataDir string
	// AudioFile is the name of the narration inside each bundle.
	AudioFile string
}

// Generator builds one story bundle per request.
type Generator struct {
	writer      ScriptWriter
	artist      CoverArtist
	synthesizer core.Synthesizer
	config      GeneratorConfig
	now         func() time.Time
	log         *logger.Logger
}

// NewGenerator creates a Generator. artist may be nil to skip covers.
func NewGenerator(
	writer ScriptWriter,
	artist CoverArtist,
	synthesizer core.Synthesizer,
	cfg GeneratorConfig,
	log *logger.Logger,
) *Generator {
	if cfg.DataDir == "" {
		cfg.DataDir = fileutil.DataDir()
	}

	if cfg.AudioFile == "" {
		cfg.AudioFile = DefaultAudioFile
	}

	return &Generator{
		writer:      writer,
		artist:      artist,
		synthesizer: synthesizer,
		config:      cfg,
		now:         time.Now,
		log:         log,
	}
}

// Generate writes the script, draws the cover, narrates the story and saves
// its metadata. A failed cover or metadata write is logged; a failed
// narration removes the bundle and returns the error.
func (g *Generator) Generate(ctx context.Context, req Request) (*Metadata, error) {
	g.log.Info(logFmtGenerating, req.Setting)

	draft, err := g.writer.WriteScript(ctx, req)
	if err != nil {
		return nil, fmt.Errorf(errFmtScriptFailed, req.Setting, err)
	}

	if strings.TrimSpace(draft.Story) == "" {
		return nil, ErrEmptyStory
	}

	storyDir, err := g.createStoryDir()
	if err != nil {
		return nil, err
	}

	if g.artist != nil {
		coverErr := g.artist.DrawCover(ctx, draft.Summary, filepath.Join(storyDir, CoverFile))
		if coverErr != nil {
			g.log.Warn(logFmtCoverFailed, storyDir, coverErr)
		}
	}

	err = g.synthesizer.Synthesize(ctx, draft.Story, filepath.Join(storyDir, g.config.AudioFile))
	if err != nil {
		g.log.Error(logFmtSynthesisFailed, storyDir, err)
		g.removeStoryDir(storyDir)

		return nil, fmt.Errorf(errFmtSynthesisFailed, draft.Title, err)
	}

	metadata := &Metadata{
		Title:     draft.Title,
		Summary:   draft.Summary,
		Story:     draft.Story,
		Setting:   req.Setting,
		Model:     req.Model,
		CreatedAt: g.now().UTC(),
		AudioFile: g.config.AudioFile,
		Dir:       storyDir,
	}

	saveErr := saveMetadata(metadata, filepath.Join(storyDir, MetadataFile))
	if saveErr != nil {
		g.log.Warn(logFmtMetadataFailed, storyDir, saveErr)
	}

	g.log.Info(logFmtStoryComplete, storyDir)

	return metadata, nil
}

func (g *Generator) createStoryDir() (string, error) {
	token, err := fileutil.RandomToken(dirTokenBytes)
	if err != nil {
		return "", fmt.Errorf(errFmtTokenFailed, err)
	}

	storyDir := filepath.Join(g.config.DataDir, token)

	err = fileutil.EnsureDir(storyDir)
	if err != nil {
		return "", fmt.Errorf(errFmtCreateDirFailed, err)
	}

	g.log.Info(logFmtCreatedDir, storyDir)

	return storyDir, nil
}

func (g *Generator) removeStoryDir(storyDir string) {
	removeErr := os.RemoveAll(storyDir)
	if removeErr != nil {
		g.log.Warn(logFmtCleanupFailed, storyDir, removeErr)
	}
}

func saveMetadata(metadata *Metadata, path string) error {
	data, err := json.MarshalIndent(metadata, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	return os.WriteFile(path, data, metadataPermissions)
}

// LoadMetadata reads the story.json of the bundle in storyDir.
func LoadMetadata(storyDir string) (*Metadata, error) {
	data, err := os.ReadFile(filepath.Join(storyDir, MetadataFile))
	if err != nil {
		return nil, fmt.Errorf("failed to read story metadata: %w", err)
	}

	var metadata Metadata

	err = json.Unmarshal(data, &metadata)
	if err != nil {
		return nil, fmt.Errorf("failed to parse story metadata: %w", err)
	}

	metadata.Dir = storyDir

	return &metadata, nil
}

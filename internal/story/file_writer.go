package story

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// summaryWordLimit matches the length of summaries written for covers.
const summaryWordLimit = 45

// FileScriptWriter serves pre-written scripts from disk. Request.Setting
// names the script file; its first markdown heading, or the file name, is
// the title and its first paragraph the summary.
type FileScriptWriter struct{}

// WriteScript reads the script named by req.Setting.
func (FileScriptWriter) WriteScript(_ context.Context, req Request) (Draft, error) {
	data, err := os.ReadFile(req.Setting)
	if err != nil {
		return Draft{}, fmt.Errorf("failed to read script file: %w", err)
	}

	text := strings.TrimSpace(string(data))
	title := strings.TrimSuffix(filepath.Base(req.Setting), filepath.Ext(req.Setting))

	firstLine, rest, _ := strings.Cut(text, "\n")
	if heading, ok := strings.CutPrefix(strings.TrimSpace(firstLine), "#"); ok {
		title = strings.TrimSpace(strings.TrimLeft(heading, "#"))
		text = strings.TrimSpace(rest)
	}

	return Draft{
		Title:   title,
		Summary: summarize(text),
		Story:   text,
	}, nil
}

func summarize(text string) string {
	paragraph, _, _ := strings.Cut(text, "\n\n")

	words := strings.Fields(paragraph)
	if len(words) > summaryWordLimit {
		return strings.Join(words[:summaryWordLimit], " ") + " ..."
	}

	return strings.Join(words, " ")
}

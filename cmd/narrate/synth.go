package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/book-expert/narration-service/internal/fileutil"
	"github.com/spf13/cobra"
)

const defaultOutputFile = "narration"

var (
	errEitherTextOrFile  = errors.New("either --text or --file must be provided")
	errCannotSpecifyBoth = errors.New("cannot specify both --text and --file")
)

func newSynthCommand() *cobra.Command {
	synthCmd := &cobra.Command{
		Use:   "synth",
		Short: "Narrate one text into an audio file",
		Args:  cobra.NoArgs,
		RunE:  runSynth,
	}

	synthCmd.Flags().String(flagText, "", "Text to narrate")
	synthCmd.Flags().String(flagFile, "", "File containing the text to narrate")
	synthCmd.Flags().String(flagOutput, "", "Output path; the extension follows the configured format")

	return synthCmd
}

// readInput returns the text named by --text or --file.
func readInput(cmd *cobra.Command) (string, error) {
	text, err := cmd.Flags().GetString(flagText)
	if err != nil {
		return "", err
	}

	file, err := cmd.Flags().GetString(flagFile)
	if err != nil {
		return "", err
	}

	switch {
	case text == "" && file == "":
		return "", errEitherTextOrFile
	case text != "" && file != "":
		return "", errCannotSpecifyBoth
	case text != "":
		return text, nil
	}

	data, err := os.ReadFile(file)
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", file, err)
	}

	return string(data), nil
}

// outputPathFor returns --output, or a name derived from --file.
func outputPathFor(cmd *cobra.Command) (string, error) {
	outputPath, err := cmd.Flags().GetString(flagOutput)
	if err != nil || outputPath != "" {
		return outputPath, err
	}

	file, err := cmd.Flags().GetString(flagFile)
	if err != nil {
		return "", err
	}

	if file == "" {
		return defaultOutputFile, nil
	}

	stem := strings.TrimSuffix(filepath.Base(file), filepath.Ext(file))

	return fileutil.SanitizeFilename(stem), nil
}

func runSynth(cmd *cobra.Command, _ []string) error {
	text, err := readInput(cmd)
	if err != nil {
		return err
	}

	outputPath, err := outputPathFor(cmd)
	if err != nil {
		return err
	}

	env, err := loadEnvironment(cmd)
	if err != nil {
		return err
	}
	defer env.Close()

	err = env.openPipeline()
	if err != nil {
		return err
	}

	env.log.Info("Processing single text to: %s", outputPath)

	result, err := env.components.Pipeline.SynthesizeWithResult(cmd.Context(), text, outputPath)
	if err != nil {
		env.log.Error("Failed to narrate text: %v", err)

		return err
	}

	size := int64(0)

	info, statErr := os.Stat(result.FinalPath)
	if statErr == nil {
		size = info.Size()
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Generated: %s (%s in %s)\n",
		result.FinalPath, fileutil.FormatFileSize(size), fileutil.FormatDuration(result.Timings.Total()))

	return nil
}

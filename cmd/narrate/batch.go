package main

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"

	"github.com/book-expert/narration-service/internal/artifact"
	"github.com/book-expert/narration-service/internal/fileutil"
	"github.com/book-expert/narration-service/internal/story"
	"github.com/spf13/cobra"
)

var (
	errWorkersInvalid = errors.New("workers must not be negative")
	errNoScripts      = errors.New("no script files to narrate")
)

func newBatchCommand() *cobra.Command {
	batchCmd := &cobra.Command{
		Use:   "batch <script-file>...",
		Short: "Narrate script files into story bundles",
		Long: "Narrate every script file into its own story bundle directory. " +
			"A failed story is reported and the remaining stories continue. " +
			"Afterwards invalid stories are removed as by the clean command and the " +
			"total playtime is reported.",
		Args: cobra.MinimumNArgs(1),
		RunE: runBatch,
	}

	batchCmd.Flags().Int(flagWorkers, 0, "Concurrent stories (defaults to story.max_workers)")
	batchCmd.Flags().String(flagDataDir, "", "Directory for story bundles (defaults to story.data_dir)")
	batchCmd.Flags().Bool(flagSkipClean, false, "Keep invalid stories after the batch")

	return batchCmd
}

func runBatch(cmd *cobra.Command, args []string) error {
	workers, err := cmd.Flags().GetInt(flagWorkers)
	if err != nil {
		return err
	}

	if workers < 0 {
		return errWorkersInvalid
	}

	dataDir, err := cmd.Flags().GetString(flagDataDir)
	if err != nil {
		return err
	}

	skipClean, err := cmd.Flags().GetBool(flagSkipClean)
	if err != nil {
		return err
	}

	env, err := loadEnvironment(cmd)
	if err != nil {
		return err
	}
	defer env.Close()

	if workers == 0 {
		workers = env.cfg.Story.MaxWorkers
	}

	if dataDir == "" {
		dataDir = env.cfg.Story.DataDir
	}

	requests := make([]story.Request, 0, len(args))

	for _, path := range args {
		if fileutil.IsAudioFile(path) {
			env.log.Warn("Skipping audio file passed as script: %s", path)

			continue
		}

		requests = append(requests, story.Request{Setting: path, Model: "", WordLimit: 0})
	}

	if len(requests) == 0 {
		return errNoScripts
	}

	err = env.openPipeline()
	if err != nil {
		return err
	}

	err = env.checkHealth(cmd.Context())
	if err != nil {
		return err
	}

	format, err := artifact.ParseFormat(env.cfg.Output.Format)
	if err != nil {
		return err
	}

	generator := story.NewGenerator(story.FileScriptWriter{}, nil, env.components.Pipeline, story.GeneratorConfig{
		DataDir:   dataDir,
		AudioFile: artifact.WithExtension(story.DefaultAudioFile, format),
	}, env.log)

	summary, batchErr := story.NewBatchRunner(generator, workers, env.log).Run(cmd.Context(), requests)

	printSummary(cmd.OutOrStdout(), summary)

	return errors.Join(batchErr, sweepLibrary(cmd, env.library(dataDir), skipClean))
}

// sweepLibrary removes invalid stories unless skipClean is set, then
// reports the playtime of the whole library.
func sweepLibrary(cmd *cobra.Command, library *story.Library, skipClean bool) error {
	out := cmd.OutOrStdout()

	if !skipClean {
		report, err := library.Clean(cmd.Context())

		fmt.Fprintln(out)
		printCleanReport(out, report)

		if err != nil {
			return err
		}
	}

	stats, err := library.Stats(cmd.Context())
	if err != nil {
		return err
	}

	printStats(out, stats)

	return nil
}

func printSummary(out io.Writer, summary story.Summary) {
	for _, outcome := range summary.Outcomes {
		if outcome.Err != nil {
			fmt.Fprintf(out, "FAILED  %s: %v\n", outcome.Request.Setting, outcome.Err)

			continue
		}

		fmt.Fprintf(out, "OK      %s -> %s\n",
			outcome.Metadata.Title, filepath.Join(outcome.Metadata.Dir, outcome.Metadata.AudioFile))
	}

	fmt.Fprintf(out, "\n%d succeeded, %d failed in %s\n",
		summary.Succeeded, summary.Failed, fileutil.FormatDuration(summary.Elapsed))
}

package main

import (
	"fmt"
	"io"

	"github.com/book-expert/narration-service/internal/artifact"
	"github.com/book-expert/narration-service/internal/fileutil"
	"github.com/book-expert/narration-service/internal/story"
	"github.com/spf13/cobra"
)

func newCleanCommand() *cobra.Command {
	cleanCmd := &cobra.Command{
		Use:   "clean",
		Short: "Remove stories outside the configured playtime or without a cover",
		Long: "Remove every story bundle whose narration is shorter than story.min_duration_minutes " +
			"or longer than story.max_duration_minutes. With story.require_cover, bundles " +
			"without a cover are removed as well. Stories whose playtime cannot be read are kept.",
		Args: cobra.NoArgs,
		RunE: runClean,
	}

	cleanCmd.Flags().String(flagDataDir, "", "Directory of story bundles (defaults to story.data_dir)")

	return cleanCmd
}

func newStatsCommand() *cobra.Command {
	statsCmd := &cobra.Command{
		Use:   "stats",
		Short: "Show the total playtime of all stories",
		Args:  cobra.NoArgs,
		RunE:  runStats,
	}

	statsCmd.Flags().String(flagDataDir, "", "Directory of story bundles (defaults to story.data_dir)")

	return statsCmd
}

// library opens the story library in dataDir, or story.data_dir when empty.
func (e *environment) library(dataDir string) *story.Library {
	if dataDir == "" {
		dataDir = e.cfg.Story.DataDir
	}

	return story.NewLibrary(artifact.NewFFprobe(e.cfg.Output.FFprobeBinary), story.LibraryConfig{
		DataDir:      dataDir,
		MinDuration:  e.cfg.Story.MinDuration(),
		MaxDuration:  e.cfg.Story.MaxDuration(),
		RequireCover: e.cfg.Story.RequireCover,
	}, e.log)
}

func runClean(cmd *cobra.Command, _ []string) error {
	dataDir, err := cmd.Flags().GetString(flagDataDir)
	if err != nil {
		return err
	}

	env, err := loadEnvironment(cmd)
	if err != nil {
		return err
	}
	defer env.Close()

	report, err := env.library(dataDir).Clean(cmd.Context())

	printCleanReport(cmd.OutOrStdout(), report)

	return err
}

func runStats(cmd *cobra.Command, _ []string) error {
	dataDir, err := cmd.Flags().GetString(flagDataDir)
	if err != nil {
		return err
	}

	env, err := loadEnvironment(cmd)
	if err != nil {
		return err
	}
	defer env.Close()

	stats, err := env.library(dataDir).Stats(cmd.Context())
	if err != nil {
		return err
	}

	printStats(cmd.OutOrStdout(), stats)

	return nil
}

func printCleanReport(out io.Writer, report story.CleanReport) {
	for _, removal := range report.Removed {
		fmt.Fprintf(out, "REMOVED %s (%s): %s, %s\n", removal.Entry.Title(), removal.Entry.Dir,
			removal.Reason, fileutil.FormatDuration(removal.Entry.Duration))
	}

	fmt.Fprintf(out, "%d removed, %s remaining in %d stories\n",
		len(report.Removed), fileutil.FormatDuration(report.Remaining.Total), report.Remaining.Stories)
}

func printStats(out io.Writer, stats story.Stats) {
	fmt.Fprintf(out, "Total playtime: %s (%d stories)\n", fileutil.FormatDuration(stats.Total), stats.Stories)

	if stats.Unreadable > 0 {
		fmt.Fprintf(out, "%d stories could not be read\n", stats.Unreadable)
	}
}

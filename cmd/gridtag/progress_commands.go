package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"gridtag/internal/logging"
	"gridtag/internal/progress"
)

func newProgressCommand() *cobra.Command {
	progressCmd := &cobra.Command{
		Use:         "progress",
		Short:       "Inspect or reset batch progress",
		Annotations: map[string]string{"skipConfigLoad": "true"},
	}

	progressCmd.AddCommand(newProgressShowCommand())
	progressCmd.AddCommand(newProgressResetCommand())

	return progressCmd
}

func progressStorePath(args []string) string {
	dir := "."
	if len(args) == 1 {
		dir = args[0]
	}
	return filepath.Join(dir, progress.FileName)
}

func newProgressShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show [directory]",
		Short: "Show progress for a directory",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store := progress.Open(progressStorePath(args), logging.NewNop())
			summary := store.Summary()
			out := cmd.OutOrStdout()

			rows := [][]string{
				{"Processed", fmt.Sprintf("%d", summary.ProcessedCount)},
				{"Failed", fmt.Sprintf("%d", summary.FailedCount)},
				{"Total time", fmt.Sprintf("%.1fs", summary.TotalTime)},
				{"Avg time/image", fmt.Sprintf("%.1fs", summary.AvgTime)},
			}
			fmt.Fprintln(out, renderTable([]string{"Metric", "Value"}, rows, []columnAlignment{alignLeft, alignRight}))

			failures := store.Failures()
			if len(failures) == 0 {
				return nil
			}
			failRows := make([][]string, 0, len(failures))
			for _, failure := range failures {
				failRows = append(failRows, []string{
					filepath.Base(failure.Path),
					fmt.Sprintf("%d", failure.Attempts),
					failure.Error,
				})
			}
			fmt.Fprintln(out, renderTable(
				[]string{"Failed Image", "Attempts", "Last Error"},
				failRows,
				[]columnAlignment{alignLeft, alignRight, alignLeft},
			))
			return nil
		},
	}
}

func newProgressResetCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "reset [directory]",
		Short: "Clear progress for a directory",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store := progress.Open(progressStorePath(args), logging.NewNop())
			if err := store.Reset(); err != nil {
				return fmt.Errorf("reset progress: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Cleared progress at %s\n", store.Path())
			return nil
		},
	}
}

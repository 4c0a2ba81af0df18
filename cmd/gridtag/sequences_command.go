package main

import (
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"gridtag/internal/sequence"
	"gridtag/internal/workflow"
)

func newSequencesCommand(ctx *commandContext) *cobra.Command {
	var (
		seqThreshold  float64
		skipSharpness bool
		verbose       bool
	)

	cmd := &cobra.Command{
		Use:   "sequences [directory]",
		Short: "Preview burst sequences without writing metadata",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("threshold") {
				cfg.Sequences.ThresholdSeconds = seqThreshold
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			logger, err := ctx.buildLogger(cfg, verbose, "")
			if err != nil {
				return err
			}
			runner, err := workflow.New(cfg, logger)
			if err != nil {
				return err
			}

			input := "."
			if len(args) == 1 {
				input = args[0]
			}

			runCtx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			summary, err := runner.Run(runCtx, workflow.RunOptions{
				InputPath:       input,
				DetectSequences: true,
				SequencePreview: true,
				SkipSharpness:   skipSharpness,
			})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(summary.Sequences) == 0 {
				fmt.Fprintln(out, "No sequences detected")
				return nil
			}
			fmt.Fprintln(out, renderSequences(summary.Sequences, !skipSharpness))
			return nil
		},
	}

	cmd.Flags().Float64Var(&seqThreshold, "threshold", 0, "Max gap in seconds between sequence frames")
	cmd.Flags().BoolVar(&skipSharpness, "skip-sharpness", false, "Skip best-frame sharpness scoring")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")

	return cmd
}

func renderSequences(sequences []*sequence.Sequence, scored bool) string {
	headers := []string{"Sequence", "Frames", "Span", "Best Frame"}
	aligns := []columnAlignment{alignLeft, alignRight, alignRight, alignLeft}

	rows := make([][]string, 0, len(sequences))
	for _, seq := range sequences {
		first, last := seq.Span()
		best := seq.BestFrame().Key()
		if !scored {
			best = "-"
		}
		rows = append(rows, []string{
			seq.ID,
			fmt.Sprintf("%d", seq.FrameCount()),
			last.Sub(first).Round(100 * time.Millisecond).String(),
			best,
		})
	}
	return renderTable(headers, rows, aligns)
}

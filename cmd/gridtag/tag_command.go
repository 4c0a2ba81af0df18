package main

import (
	"fmt"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"gridtag/internal/workflow"
)

func newTagCommand(ctx *commandContext) *cobra.Command {
	var (
		resume          bool
		reset           bool
		dryRun          bool
		maxImages       int
		fuzzyNumbers    bool
		profile         string
		serverURL       string
		model           string
		warmUp          bool
		detectSequences bool
		seqThreshold    float64
		skipSharpness   bool
		outputDir       string
		recursive       bool
		verbose         bool
		logFile         string
	)

	cmd := &cobra.Command{
		Use:   "tag [directory|image]",
		Short: "Tag images with AI-generated keywords",
		Long: `Tag analyzes each supported image with a local vision model and writes
the resulting keywords into the file's XMP metadata (or a sidecar for RAW
files). Progress is durable: interrupted batches resume with --resume.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}

			if cmd.Flags().Changed("profile") {
				cfg.Processing.Profile = profile
			}
			if cmd.Flags().Changed("server-url") {
				cfg.Vision.ServerURL = strings.TrimRight(strings.TrimSpace(serverURL), "/")
			}
			if cmd.Flags().Changed("model") {
				cfg.Vision.Model = model
			}
			if cmd.Flags().Changed("fuzzy-numbers") {
				cfg.Processing.FuzzyNumbers = fuzzyNumbers
			}
			if cmd.Flags().Changed("output-dir") {
				cfg.Paths.OutputDir = outputDir
			}
			if cmd.Flags().Changed("recursive") {
				cfg.Processing.Recursive = recursive
			}
			if cmd.Flags().Changed("sequence-threshold") {
				cfg.Sequences.ThresholdSeconds = seqThreshold
			}
			if !cmd.Flags().Changed("max-images") {
				maxImages = cfg.Processing.MaxImages
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			logger, err := ctx.buildLogger(cfg, verbose, logFile)
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
				Resume:          resume,
				Reset:           reset,
				DryRun:          dryRun,
				MaxImages:       maxImages,
				DetectSequences: detectSequences || cfg.Sequences.Enabled,
				SkipSharpness:   skipSharpness,
				WarmUp:          warmUp,
			})
			if summary != nil {
				printSummary(cmd, summary, dryRun)
			}
			return err
		},
	}

	cmd.Flags().BoolVar(&resume, "resume", false, "Skip images already recorded in the progress file")
	cmd.Flags().BoolVar(&reset, "reset", false, "Clear prior progress before starting")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Run inference without writing metadata")
	cmd.Flags().IntVar(&maxImages, "max-images", 0, "Process at most N images (0 = no limit)")
	cmd.Flags().BoolVar(&fuzzyNumbers, "fuzzy-numbers", false, "Record uncertain car numbers as Num:x?")
	cmd.Flags().StringVar(&profile, "profile", "", "Prompt profile (see config validate for the list)")
	cmd.Flags().StringVar(&serverURL, "server-url", "", "Inference server URL")
	cmd.Flags().StringVar(&model, "model", "", "Vision model name (default: best installed)")
	cmd.Flags().BoolVar(&warmUp, "warm-up", false, "Load the model before the first image")
	cmd.Flags().BoolVar(&detectSequences, "detect-sequences", false, "Group burst sequences before tagging")
	cmd.Flags().Float64Var(&seqThreshold, "sequence-threshold", 0, "Max gap in seconds between sequence frames")
	cmd.Flags().BoolVar(&skipSharpness, "skip-sequence-sharpness", false, "Skip best-frame sharpness scoring")
	cmd.Flags().StringVar(&outputDir, "output-dir", "", "Directory for RAW sidecar files (default: alongside originals)")
	cmd.Flags().BoolVar(&recursive, "recursive", true, "Descend into subdirectories")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	cmd.Flags().StringVar(&logFile, "log-file", "", "Additional log file path")

	return cmd
}

func printSummary(cmd *cobra.Command, summary *workflow.Summary, dryRun bool) {
	out := cmd.OutOrStdout()

	if len(summary.Sequences) > 0 {
		fmt.Fprintf(out, "Detected %d sequences\n", len(summary.Sequences))
	}
	if summary.Skipped > 0 {
		fmt.Fprintf(out, "Skipped %d already-processed images\n", summary.Skipped)
	}
	fmt.Fprintf(out, "%d successful, %d failed, %d no car detected\n",
		summary.Processed, summary.Failed, summary.NoCar)
	fmt.Fprintf(out, "Elapsed: %s\n", summary.Elapsed.Round(time.Second))
	if dryRun {
		fmt.Fprintln(out, "Dry run: no metadata was written")
	}
}

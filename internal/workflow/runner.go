// Package workflow drives a full tagging run: scan, sequence detection,
// resume filtering, pipelined inference, keyword writing, and durable
// progress. It owns the single-writer lock on the input directory.
package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"

	"gridtag/internal/config"
	"gridtag/internal/exifdata"
	"gridtag/internal/keywords"
	"gridtag/internal/logging"
	"gridtag/internal/media"
	"gridtag/internal/pipeline"
	"gridtag/internal/progress"
	"gridtag/internal/prompts"
	"gridtag/internal/sequence"
	"gridtag/internal/services"
	"gridtag/internal/sharpness"
	"gridtag/internal/vision"
	"gridtag/internal/xmpwriter"
)

// lockFileName guards against two runs racing on one progress file.
const lockFileName = ".gridtag.lock"

// Analyzer is the vision capability the runner depends on.
type Analyzer interface {
	CheckConnection(ctx context.Context) error
	EnsureModel(ctx context.Context) (string, error)
	WarmUp(ctx context.Context) error
	Analyze(ctx context.Context, imageBase64, prompt string) (string, error)
}

// KeywordWriter is the metadata-writing capability the runner depends on.
type KeywordWriter interface {
	WriteKeywords(ctx context.Context, item media.Item, kws []string, outputDir string, merge bool) (string, error)
}

// Runner executes tagging batches.
type Runner struct {
	cfg    *config.Config
	logger *slog.Logger
	runID  string

	timeSource exifdata.TimeSource
	scorer     *sharpness.Scorer
	encode     pipeline.PrepareFunc[media.Item, string]
	analyzer   Analyzer
	writer     KeywordWriter

	completionPath string
}

// New wires a runner from configuration. Construction fails when exiftool
// is missing, since neither sidecars nor RAW previews work without it.
func New(cfg *config.Config, logger *slog.Logger) (*Runner, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	logger = logging.WithComponent(logger, "workflow")

	writer, err := xmpwriter.New("", logger)
	if err != nil {
		return nil, err
	}

	previews := exifdata.NewPreviewExtractor("", logger)
	encoder := NewEncoder(previews, logger)
	client := vision.NewClient(vision.Config{
		ServerURL:      cfg.Vision.ServerURL,
		Model:          cfg.Vision.Model,
		TimeoutSeconds: cfg.Vision.TimeoutSeconds,
	}, logger)

	return &Runner{
		cfg:            cfg,
		logger:         logger,
		runID:          uuid.NewString(),
		timeSource:     exifdata.NewReader(logger),
		scorer:         sharpness.NewScorer(previews, logger),
		encode:         encoder.Encode,
		analyzer:       client,
		writer:         writer,
		completionPath: CompletionPath(),
	}, nil
}

// RunOptions are the per-invocation controls layered over configuration.
type RunOptions struct {
	InputPath       string
	Resume          bool
	Reset           bool
	DryRun          bool
	MaxImages       int
	DetectSequences bool
	SequencePreview bool
	SkipSharpness   bool
	WarmUp          bool
}

// Summary reports the outcome of one run.
type Summary struct {
	Total        int
	Processed    int
	Failed       int
	NoCar        int
	Skipped      int
	Sequences    []*sequence.Sequence
	Elapsed      time.Duration
	ProgressPath string
}

type itemOutcome struct {
	keywords      []string
	meta          keywords.CarMetadata
	inferenceTime time.Duration
}

// Run executes one batch over opts.InputPath.
func (r *Runner) Run(ctx context.Context, opts RunOptions) (*Summary, error) {
	start := time.Now()
	ctx = services.WithRequestID(ctx, r.runID)
	logger := r.logger.With(logging.String(logging.FieldRunID, r.runID))

	items, err := media.Scan(opts.InputPath, r.cfg.Processing.Recursive)
	if err != nil {
		return nil, services.Wrap(services.ErrValidation, "workflow", "scan", "enumerating input failed", err)
	}
	if len(items) == 0 {
		return nil, services.Wrap(services.ErrValidation, "workflow", "scan",
			fmt.Sprintf("no supported images found in %s", opts.InputPath), nil)
	}
	logger.Info("found images", logging.Int("count", len(items)))

	workDir := opts.InputPath
	if len(items) == 1 && items[0].Path == opts.InputPath {
		workDir = filepath.Dir(opts.InputPath)
	}

	lock := flock.New(filepath.Join(workDir, lockFileName))
	locked, err := lock.TryLock()
	if err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "workflow", "lock", "acquiring run lock failed", err)
	}
	if !locked {
		return nil, services.Wrap(services.ErrConfiguration, "workflow", "lock",
			fmt.Sprintf("another run is active in %s", workDir), nil)
	}
	defer func() {
		if err := lock.Unlock(); err != nil {
			logger.Warn("releasing run lock failed", logging.Error(err))
		}
	}()

	summary := &Summary{}

	// Sequence detection runs on the full scan, before resume filtering,
	// so re-runs see the same groupings.
	if opts.DetectSequences {
		sequences, err := r.detectSequences(ctx, logger, items, opts)
		if err != nil {
			return nil, err
		}
		summary.Sequences = sequences
		if opts.SequencePreview {
			summary.Elapsed = time.Since(start)
			return summary, nil
		}
	}

	store := progress.Open(filepath.Join(workDir, progress.FileName), logger)
	summary.ProgressPath = store.Path()

	if opts.Reset {
		if err := store.Reset(); err != nil {
			return nil, services.Wrap(services.ErrTransient, "workflow", "reset", "resetting progress failed", err)
		}
	}
	if opts.Resume {
		before := len(items)
		kept := items[:0]
		for _, item := range items {
			if !store.IsProcessed(item, true) {
				kept = append(kept, item)
			}
		}
		items = kept
		summary.Skipped = before - len(items)
		if summary.Skipped > 0 {
			logger.Info("resuming", logging.Int("skipped", summary.Skipped))
		}
	}
	if len(items) == 0 {
		logger.Info("all images already processed")
		summary.Elapsed = time.Since(start)
		return summary, nil
	}
	if opts.MaxImages > 0 && len(items) > opts.MaxImages {
		items = items[:opts.MaxImages]
		logger.Info("limited batch size", logging.Int("max_images", opts.MaxImages))
	}
	summary.Total = len(items)

	if err := r.analyzer.CheckConnection(ctx); err != nil {
		return nil, err
	}
	model, err := r.analyzer.EnsureModel(ctx)
	if err != nil {
		return nil, err
	}
	if opts.WarmUp || r.cfg.Vision.WarmUp {
		if err := r.analyzer.WarmUp(ctx); err != nil {
			logger.Warn("model warm-up failed", logging.Error(err))
		}
	}

	prompt, err := prompts.Get(r.cfg.Processing.Profile, r.cfg.Processing.FuzzyNumbers)
	if err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "workflow", "prompt", "resolving prompt failed", err)
	}

	logger.Info("processing batch",
		logging.String(logging.FieldEventType, "batch_start"),
		logging.Int("images", len(items)),
		logging.String("profile", r.cfg.Processing.Profile),
		logging.String("model", model),
		logging.Bool("dry_run", opts.DryRun))

	batch := progress.NewBatch(len(items))
	process := func(ctx context.Context, item media.Item, payload string) (itemOutcome, error) {
		return r.processOne(ctx, item, payload, prompt, opts.DryRun)
	}

	// A configuration failure mid-batch (exiftool gone, server swapped out)
	// would fail every remaining item identically; stop instead.
	batchCtx, stopBatch := context.WithCancel(ctx)
	defer stopBatch()
	var fatalErr error
	onResult := func(result pipeline.Result[media.Item, itemOutcome]) {
		r.recordResult(logger, store, batch, summary, result)
		if result.Err != nil && services.IsFatal(result.Err) && fatalErr == nil {
			fatalErr = result.Err
			stopBatch()
		}
	}

	pipeline.Run(batchCtx, items, r.encode, process, onResult)
	if err := ctx.Err(); err != nil {
		summary.Elapsed = time.Since(start)
		return summary, err
	}
	if fatalErr != nil {
		summary.Elapsed = time.Since(start)
		return summary, fatalErr
	}

	logger.Info("processing complete",
		logging.String(logging.FieldEventType, "batch_complete"),
		logging.Int("successful", summary.Processed),
		logging.Int("failed", summary.Failed),
		logging.Int("no_car", summary.NoCar))

	totalTime := store.Summary().TotalTime
	if err := writeCompletion(r.completionPath, summary, totalTime, opts.DryRun); err != nil {
		logger.Warn("writing completion file failed", logging.Error(err))
	}

	summary.Elapsed = time.Since(start)
	return summary, nil
}

// processOne is the expensive pipeline stage: one inference round-trip
// plus the keyword write.
func (r *Runner) processOne(ctx context.Context, item media.Item, payload, prompt string, dryRun bool) (itemOutcome, error) {
	ctx = services.WithItemKey(ctx, item.Key())
	start := time.Now()
	response, err := r.analyzer.Analyze(ctx, payload, prompt)
	if err != nil {
		return itemOutcome{}, err
	}
	inferenceTime := time.Since(start)

	meta := keywords.ParseResponse(response)
	selected := keywords.Select(meta, r.cfg.Processing.FuzzyNumbers)

	if !dryRun {
		toWrite := selected
		if len(toWrite) == 0 {
			// Marker so resumed runs can tell "processed, nothing found"
			// from "never processed".
			toWrite = []string{keywords.Classified}
		}
		if _, err := r.writer.WriteKeywords(ctx, item, toWrite, r.cfg.Paths.OutputDir, true); err != nil {
			return itemOutcome{}, err
		}
		selected = toWrite
	}

	return itemOutcome{keywords: selected, meta: meta, inferenceTime: inferenceTime}, nil
}

// recordResult makes each item's terminal state durable before the
// pipeline moves on.
func (r *Runner) recordResult(
	logger *slog.Logger,
	store *progress.Store,
	batch *progress.Batch,
	summary *Summary,
	result pipeline.Result[media.Item, itemOutcome],
) {
	itemLogger := logger.With(logging.String(logging.FieldItem, result.Item.Key()))

	if result.Err != nil {
		summary.Failed++
		batch.Update(false, 0)
		if err := store.MarkFailed(result.Item, result.Err); err != nil {
			itemLogger.Error("persisting failure failed", logging.Error(err))
		}
		itemLogger.Warn("processing failed", logging.Error(result.Err))
		return
	}

	outcome := result.Value
	summary.Processed++
	if !outcome.meta.CarDetected {
		summary.NoCar++
	}
	batch.Update(true, outcome.inferenceTime)
	if err := store.MarkProcessed(result.Item, outcome.keywords, outcome.inferenceTime, nil); err != nil {
		itemLogger.Error("persisting progress failed", logging.Error(err))
	}

	itemLogger.Info("tagged",
		logging.Int("keywords", len(outcome.keywords)),
		logging.Duration("inference_time", outcome.inferenceTime),
		logging.String("progress", batch.Line()))
}

// detectSequences clusters the batch, scores frames unless disabled, and
// writes the membership keywords.
func (r *Runner) detectSequences(ctx context.Context, logger *slog.Logger, items []media.Item, opts RunOptions) ([]*sequence.Sequence, error) {
	detector, err := sequence.NewDetector(r.timeSource, logger)
	if err != nil {
		return nil, err
	}

	threshold := time.Duration(r.cfg.Sequences.ThresholdSeconds * float64(time.Second))
	sequences, err := detector.Detect(ctx, items, threshold)
	if err != nil {
		return nil, err
	}
	if len(sequences) == 0 {
		return nil, nil
	}

	if r.cfg.Sequences.Sharpness && !opts.SkipSharpness {
		for i, seq := range sequences {
			logger.Info("scoring sequence",
				logging.String(logging.FieldSequence, seq.ID),
				logging.Int("index", i+1),
				logging.Int("total", len(sequences)))
			r.scorer.ScoreSequence(ctx, seq)
		}
	}

	if opts.SequencePreview || opts.DryRun {
		return sequences, nil
	}

	for _, seq := range sequences {
		for i, frame := range seq.Frames {
			kws := []string{seq.Keyword()}
			if i == seq.BestFrameIndex {
				kws = append(kws, sequence.BestKeyword)
			}
			if _, err := r.writer.WriteKeywords(ctx, frame, kws, r.cfg.Paths.OutputDir, true); err != nil {
				logger.Warn("writing sequence keywords failed",
					logging.String(logging.FieldSequence, seq.ID),
					logging.String(logging.FieldItem, frame.Key()),
					logging.Error(err))
			}
		}
	}
	logger.Info("sequence keywords written", logging.Int("sequences", len(sequences)))
	return sequences, nil
}

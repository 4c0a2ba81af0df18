package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gofrs/flock"

	"gridtag/internal/config"
	"gridtag/internal/exifdata"
	"gridtag/internal/logging"
	"gridtag/internal/media"
	"gridtag/internal/progress"
	"gridtag/internal/services"
	"gridtag/internal/sharpness"
)

const carResponse = `{"car_detected": true, "make": "Porsche", "model": "911 GT3", "color": "red", "numbers": ["911"]}`

type fakeAnalyzer struct {
	mu       sync.Mutex
	calls    []string
	respond  func(path string) (string, error)
	connErr  error
	analyzed bool
}

func (f *fakeAnalyzer) CheckConnection(context.Context) error { return f.connErr }

func (f *fakeAnalyzer) EnsureModel(context.Context) (string, error) {
	return "qwen2.5vl:7b", nil
}

func (f *fakeAnalyzer) WarmUp(context.Context) error { return nil }

func (f *fakeAnalyzer) Analyze(_ context.Context, imageBase64, _ string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.analyzed = true
	f.calls = append(f.calls, imageBase64)
	if f.respond != nil {
		return f.respond(imageBase64)
	}
	return carResponse, nil
}

type writeCall struct {
	path     string
	keywords []string
	merge    bool
}

type fakeWriter struct {
	mu    sync.Mutex
	calls []writeCall
	err   error
}

func (f *fakeWriter) WriteKeywords(_ context.Context, item media.Item, kws []string, _ string, merge bool) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	f.calls = append(f.calls, writeCall{path: item.Path, keywords: append([]string(nil), kws...), merge: merge})
	return item.Path, nil
}

type stubTimes struct {
	times map[string]time.Time
}

func (s *stubTimes) Timestamps(_ context.Context, items []media.Item) (map[string]time.Time, error) {
	out := make(map[string]time.Time, len(items))
	for _, item := range items {
		if ts, ok := s.times[item.Path]; ok {
			out[item.Path] = ts
		}
	}
	return out, nil
}

func writeImages(t *testing.T, dir string, names ...string) []string {
	t.Helper()
	paths := make([]string, 0, len(names))
	for i, name := range names {
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, []byte(fmt.Sprintf("image-%d", i)), 0o644); err != nil {
			t.Fatal(err)
		}
		paths = append(paths, path)
	}
	return paths
}

func newTestRunner(t *testing.T, analyzer Analyzer, writer KeywordWriter) *Runner {
	t.Helper()
	cfg := config.Default()
	return &Runner{
		cfg:        &cfg,
		logger:     logging.NewNop(),
		runID:      "test-run",
		timeSource: &stubTimes{},
		scorer:     sharpness.NewScorer(nil, logging.NewNop()),
		encode: func(_ context.Context, item media.Item) (string, error) {
			return "payload:" + item.Key(), nil
		},
		analyzer:       analyzer,
		writer:         writer,
		completionPath: filepath.Join(t.TempDir(), CompletionFileName),
	}
}

func TestRunTagsEveryImage(t *testing.T) {
	dir := t.TempDir()
	writeImages(t, dir, "a.jpg", "b.jpg", "c.jpg")

	analyzer := &fakeAnalyzer{}
	writer := &fakeWriter{}
	runner := newTestRunner(t, analyzer, writer)

	summary, err := runner.Run(context.Background(), RunOptions{InputPath: dir})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.Total != 3 || summary.Processed != 3 || summary.Failed != 0 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	if len(writer.calls) != 3 {
		t.Fatalf("expected 3 writes, got %d", len(writer.calls))
	}
	for _, call := range writer.calls {
		if !call.merge {
			t.Errorf("expected merge write for %s", call.path)
		}
		if want := "Make:Porsche"; call.keywords[0] != want {
			t.Errorf("first keyword = %q, want %q", call.keywords[0], want)
		}
	}

	store := progress.Open(summary.ProgressPath, logging.NewNop())
	if got := store.Summary().TotalProcessed; got != 3 {
		t.Errorf("store TotalProcessed = %d, want 3", got)
	}

	data, err := os.ReadFile(runner.completionPath)
	if err != nil {
		t.Fatalf("completion file: %v", err)
	}
	var completion map[string]any
	if err := json.Unmarshal(data, &completion); err != nil {
		t.Fatalf("completion json: %v", err)
	}
	if completion["completed"] != true {
		t.Error("completion file not marked completed")
	}
}

func TestRunResumeSkipsProcessed(t *testing.T) {
	dir := t.TempDir()
	writeImages(t, dir, "a.jpg", "b.jpg")

	runner := newTestRunner(t, &fakeAnalyzer{}, &fakeWriter{})
	if _, err := runner.Run(context.Background(), RunOptions{InputPath: dir}); err != nil {
		t.Fatalf("first run: %v", err)
	}

	analyzer := &fakeAnalyzer{}
	second := newTestRunner(t, analyzer, &fakeWriter{})
	summary, err := second.Run(context.Background(), RunOptions{InputPath: dir, Resume: true})
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if summary.Skipped != 2 || summary.Total != 0 {
		t.Fatalf("expected full skip, got %+v", summary)
	}
	if analyzer.analyzed {
		t.Error("resumed run should not re-analyze processed images")
	}
}

func TestRunResumeReprocessesChangedFile(t *testing.T) {
	dir := t.TempDir()
	paths := writeImages(t, dir, "a.jpg", "b.jpg")

	runner := newTestRunner(t, &fakeAnalyzer{}, &fakeWriter{})
	if _, err := runner.Run(context.Background(), RunOptions{InputPath: dir}); err != nil {
		t.Fatalf("first run: %v", err)
	}

	if err := os.WriteFile(paths[0], []byte("re-exported with new content"), 0o644); err != nil {
		t.Fatal(err)
	}
	future := time.Now().Add(time.Hour)
	if err := os.Chtimes(paths[0], future, future); err != nil {
		t.Fatal(err)
	}

	summary, err := newTestRunner(t, &fakeAnalyzer{}, &fakeWriter{}).Run(context.Background(),
		RunOptions{InputPath: dir, Resume: true})
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if summary.Total != 1 || summary.Skipped != 1 {
		t.Fatalf("expected one reprocess, got %+v", summary)
	}
}

func TestRunRecordsFailures(t *testing.T) {
	dir := t.TempDir()
	writeImages(t, dir, "a.jpg", "b.jpg", "c.jpg")

	analyzer := &fakeAnalyzer{
		respond: func(payload string) (string, error) {
			if strings.Contains(payload, "b.jpg") {
				return "", errors.New("model exploded")
			}
			return carResponse, nil
		},
	}
	runner := newTestRunner(t, analyzer, &fakeWriter{})

	summary, err := runner.Run(context.Background(), RunOptions{InputPath: dir})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.Processed != 2 || summary.Failed != 1 {
		t.Fatalf("unexpected summary: %+v", summary)
	}

	store := progress.Open(summary.ProgressPath, logging.NewNop())
	failures := store.Failures()
	if len(failures) != 1 || failures[0].Attempts != 1 {
		t.Fatalf("unexpected failures: %+v", failures)
	}
	if !strings.Contains(failures[0].Error, "model exploded") {
		t.Errorf("failure cause not recorded: %q", failures[0].Error)
	}
}

func TestRunDryRunWritesNothing(t *testing.T) {
	dir := t.TempDir()
	writeImages(t, dir, "a.jpg")

	writer := &fakeWriter{}
	runner := newTestRunner(t, &fakeAnalyzer{}, writer)

	summary, err := runner.Run(context.Background(), RunOptions{InputPath: dir, DryRun: true})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.Processed != 1 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	if len(writer.calls) != 0 {
		t.Errorf("dry run must not write metadata, got %d writes", len(writer.calls))
	}

	data, err := os.ReadFile(runner.completionPath)
	if err != nil {
		t.Fatalf("completion file: %v", err)
	}
	if !strings.Contains(string(data), `"dry_run": true`) {
		t.Error("completion file should record dry_run")
	}
}

func TestRunNoCarGetsMarker(t *testing.T) {
	dir := t.TempDir()
	writeImages(t, dir, "pit.jpg")

	analyzer := &fakeAnalyzer{
		respond: func(string) (string, error) {
			return `{"car_detected": false}`, nil
		},
	}
	writer := &fakeWriter{}
	runner := newTestRunner(t, analyzer, writer)

	summary, err := runner.Run(context.Background(), RunOptions{InputPath: dir})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.NoCar != 1 || summary.Processed != 1 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	if len(writer.calls) != 1 || writer.calls[0].keywords[0] != "NoSubject" {
		t.Fatalf("expected NoSubject write, got %+v", writer.calls)
	}
}

func TestRunEmptyKeywordsFallBackToClassified(t *testing.T) {
	dir := t.TempDir()
	writeImages(t, dir, "blur.jpg")

	analyzer := &fakeAnalyzer{
		respond: func(string) (string, error) {
			return `{"car_detected": true}`, nil
		},
	}
	writer := &fakeWriter{}
	runner := newTestRunner(t, analyzer, writer)

	if _, err := runner.Run(context.Background(), RunOptions{InputPath: dir}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(writer.calls) != 1 || writer.calls[0].keywords[0] != "Classified" {
		t.Fatalf("expected Classified fallback, got %+v", writer.calls)
	}
}

func TestRunMaxImagesLimitsBatch(t *testing.T) {
	dir := t.TempDir()
	writeImages(t, dir, "a.jpg", "b.jpg", "c.jpg", "d.jpg")

	runner := newTestRunner(t, &fakeAnalyzer{}, &fakeWriter{})
	summary, err := runner.Run(context.Background(), RunOptions{InputPath: dir, MaxImages: 2})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.Total != 2 || summary.Processed != 2 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
}

func TestRunRefusesConcurrentBatch(t *testing.T) {
	dir := t.TempDir()
	writeImages(t, dir, "a.jpg")

	held := flock.New(filepath.Join(dir, lockFileName))
	locked, err := held.TryLock()
	if err != nil || !locked {
		t.Fatalf("acquiring test lock: locked=%v err=%v", locked, err)
	}
	defer held.Unlock()

	runner := newTestRunner(t, &fakeAnalyzer{}, &fakeWriter{})
	_, err = runner.Run(context.Background(), RunOptions{InputPath: dir})
	if !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestRunStopsBatchOnFatalFailure(t *testing.T) {
	dir := t.TempDir()
	writeImages(t, dir, "a.jpg", "b.jpg", "c.jpg", "d.jpg")

	analyzer := &fakeAnalyzer{
		respond: func(payload string) (string, error) {
			if strings.Contains(payload, "b.jpg") {
				return "", services.Wrap(services.ErrConfiguration, "vision", "analyze", "server swapped out", nil)
			}
			return carResponse, nil
		},
	}
	runner := newTestRunner(t, analyzer, &fakeWriter{})

	summary, err := runner.Run(context.Background(), RunOptions{InputPath: dir})
	if !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected fatal error surfaced, got %v", err)
	}
	if summary.Processed != 1 || summary.Failed != 1 {
		t.Fatalf("batch should stop after the fatal item: %+v", summary)
	}
}

func TestRunConnectionFailureIsFatal(t *testing.T) {
	dir := t.TempDir()
	writeImages(t, dir, "a.jpg")

	analyzer := &fakeAnalyzer{
		connErr: services.Wrap(services.ErrConfiguration, "vision", "check", "server unreachable", nil),
	}
	runner := newTestRunner(t, analyzer, &fakeWriter{})

	_, err := runner.Run(context.Background(), RunOptions{InputPath: dir})
	if !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestRunSequencePreviewSkipsInference(t *testing.T) {
	dir := t.TempDir()
	paths := writeImages(t, dir, "a.jpg", "b.jpg", "c.jpg")

	base := time.Date(2024, 12, 22, 14, 35, 26, 0, time.UTC)
	analyzer := &fakeAnalyzer{}
	writer := &fakeWriter{}
	runner := newTestRunner(t, analyzer, writer)
	runner.timeSource = &stubTimes{times: map[string]time.Time{
		paths[0]: base,
		paths[1]: base.Add(300 * time.Millisecond),
		paths[2]: base.Add(10 * time.Second),
	}}

	summary, err := runner.Run(context.Background(), RunOptions{
		InputPath:       dir,
		DetectSequences: true,
		SequencePreview: true,
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(summary.Sequences) != 1 || summary.Sequences[0].FrameCount() != 2 {
		t.Fatalf("unexpected sequences: %+v", summary.Sequences)
	}
	if analyzer.analyzed {
		t.Error("preview must not run inference")
	}
	if len(writer.calls) != 0 {
		t.Error("preview must not write keywords")
	}
}

func TestRunWritesSequenceKeywords(t *testing.T) {
	dir := t.TempDir()
	paths := writeImages(t, dir, "a.jpg", "b.jpg")

	base := time.Date(2024, 12, 22, 14, 35, 26, 0, time.UTC)
	writer := &fakeWriter{}
	runner := newTestRunner(t, &fakeAnalyzer{}, writer)
	runner.timeSource = &stubTimes{times: map[string]time.Time{
		paths[0]: base,
		paths[1]: base.Add(200 * time.Millisecond),
	}}

	summary, err := runner.Run(context.Background(), RunOptions{
		InputPath:       dir,
		DetectSequences: true,
		SkipSharpness:   true,
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(summary.Sequences) != 1 {
		t.Fatalf("expected one sequence, got %d", len(summary.Sequences))
	}

	// Two sequence writes precede the two tagging writes.
	if len(writer.calls) != 4 {
		t.Fatalf("expected 4 writes, got %d", len(writer.calls))
	}
	first := writer.calls[0]
	if first.keywords[0] != "Sequence:SEQ_2024-12-22_14-35-26" {
		t.Errorf("unexpected sequence keyword: %v", first.keywords)
	}
	if len(first.keywords) != 2 || first.keywords[1] != "Sequence:Best" {
		t.Errorf("first frame should carry the best marker unscored: %v", first.keywords)
	}
	if len(writer.calls[1].keywords) != 1 {
		t.Errorf("second frame should only carry membership: %v", writer.calls[1].keywords)
	}
}

func TestRunRejectsEmptyDirectory(t *testing.T) {
	runner := newTestRunner(t, &fakeAnalyzer{}, &fakeWriter{})
	_, err := runner.Run(context.Background(), RunOptions{InputPath: t.TempDir()})
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

var _ exifdata.TimeSource = (*stubTimes)(nil)

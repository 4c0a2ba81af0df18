package workflow

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// CompletionFileName is the marker file the Lightroom plugin polls to learn
// that a batch finished. It lives in the system temp directory and
// accumulates stats across consecutive invocations of one export batch.
const CompletionFileName = "gridtag_output.complete"

// CompletionPath returns the completion file location.
func CompletionPath() string {
	return filepath.Join(os.TempDir(), CompletionFileName)
}

type completionStats struct {
	TotalImages     int     `json:"total_images"`
	Successful      int     `json:"successful"`
	Failed          int     `json:"failed"`
	NoCar           int     `json:"no_car"`
	AvgTimePerImage float64 `json:"avg_time_per_image"`
	TotalTime       float64 `json:"total_time"`
}

type completionFile struct {
	Completed bool            `json:"completed"`
	Sequence  int             `json:"sequence"`
	Timestamp time.Time       `json:"timestamp"`
	Stats     completionStats `json:"stats"`
	DryRun    bool            `json:"dry_run"`
}

// writeCompletion appends this run's results to the completion file. The
// sequence number increments per invocation so the plugin can tell a new
// batch finished even when counts are unchanged. totalTime comes from the
// progress store's cumulative counter and is not re-accumulated here.
func writeCompletion(path string, summary *Summary, totalTime float64, dryRun bool) error {
	out := completionFile{
		Completed: true,
		Sequence:  1,
		Timestamp: time.Now(),
		DryRun:    dryRun,
		Stats: completionStats{
			TotalImages: summary.Total,
			Successful:  summary.Processed,
			Failed:      summary.Failed,
			NoCar:       summary.NoCar,
			TotalTime:   totalTime,
		},
	}

	if raw, err := os.ReadFile(path); err == nil {
		var existing completionFile
		if err := json.Unmarshal(raw, &existing); err == nil {
			out.Sequence = existing.Sequence + 1
			out.Stats.TotalImages += existing.Stats.TotalImages
			out.Stats.Successful += existing.Stats.Successful
			out.Stats.Failed += existing.Stats.Failed
			out.Stats.NoCar += existing.Stats.NoCar
		}
	}

	if out.Stats.Successful > 0 {
		out.Stats.AvgTimePerImage = out.Stats.TotalTime / float64(out.Stats.Successful)
	}

	raw, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return fmt.Errorf("encode completion file: %w", err)
	}
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return fmt.Errorf("write completion file: %w", err)
	}
	return nil
}

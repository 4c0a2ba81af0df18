package sequence

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"gridtag/internal/exifdata"
	"gridtag/internal/logging"
	"gridtag/internal/media"
	"gridtag/internal/services"
)

// Detector clusters frames into sequences by capture time.
type Detector struct {
	source exifdata.TimeSource
	logger *slog.Logger
}

// NewDetector constructs a detector backed by the given time source.
func NewDetector(source exifdata.TimeSource, logger *slog.Logger) (*Detector, error) {
	if source == nil {
		return nil, services.Wrap(services.ErrConfiguration, "sequence", "new_detector",
			"no capture-time source available", nil)
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Detector{source: source, logger: logger}, nil
}

type timedFrame struct {
	item    media.Item
	instant time.Time
}

// Detect groups items into sequences. Frames whose gap to the previous
// frame is at most threshold belong to the same run; a gap exactly equal
// to the threshold still counts. Runs with fewer than two frames are
// discarded. Items without a resolvable capture instant never join a
// sequence.
func (d *Detector) Detect(ctx context.Context, items []media.Item, threshold time.Duration) ([]*Sequence, error) {
	if len(items) == 0 {
		return nil, nil
	}
	if threshold <= 0 {
		return nil, fmt.Errorf("sequence threshold must be positive, got %s", threshold)
	}

	timestamps, err := d.source.Timestamps(ctx, items)
	if err != nil {
		return nil, services.Wrap(services.ErrExternalTool, "sequence", "read_timestamps",
			"reading capture timestamps failed", err)
	}
	if len(timestamps) == 0 {
		d.logger.Warn("no capture timestamps found", logging.Int("items", len(items)))
		return nil, nil
	}

	frames := make([]timedFrame, 0, len(timestamps))
	for _, item := range items {
		if instant, ok := timestamps[item.Path]; ok {
			frames = append(frames, timedFrame{item: item, instant: instant})
		}
	}
	// Stable keeps the caller's path ordering for identical instants.
	sort.SliceStable(frames, func(a, b int) bool {
		return frames[a].instant.Before(frames[b].instant)
	})

	var sequences []*Sequence
	var run []timedFrame
	for _, frame := range frames {
		if len(run) == 0 {
			run = append(run, frame)
			continue
		}
		if frame.instant.Sub(run[len(run)-1].instant) <= threshold {
			run = append(run, frame)
			continue
		}
		if seq := materialize(run); seq != nil {
			sequences = append(sequences, seq)
		}
		run = []timedFrame{frame}
	}
	if seq := materialize(run); seq != nil {
		sequences = append(sequences, seq)
	}

	if len(sequences) > 0 {
		total := 0
		for _, seq := range sequences {
			total += seq.FrameCount()
		}
		d.logger.Info("detected sequences",
			logging.Int("sequences", len(sequences)),
			logging.Int("frames", total))
	} else {
		d.logger.Info("no sequences detected")
	}
	return sequences, nil
}

func materialize(run []timedFrame) *Sequence {
	if len(run) < 2 {
		return nil
	}
	seq := &Sequence{
		ID:         ID(run[0].instant),
		Frames:     make([]media.Item, len(run)),
		Timestamps: make([]time.Time, len(run)),
	}
	for i, frame := range run {
		seq.Frames[i] = frame.item
		seq.Timestamps[i] = frame.instant
	}
	return seq
}

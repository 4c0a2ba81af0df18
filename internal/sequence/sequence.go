// Package sequence groups burst-mode frames by capture time and tracks the
// sharpest frame of each group. Racing pan shots arrive as rapid bursts;
// clustering them lets the rest of the batch treat a burst as one subject.
package sequence

import (
	"fmt"
	"time"

	"gridtag/internal/media"
)

// BestKeyword marks the sharpest frame of a sequence for culling filters.
const BestKeyword = "Sequence:Best"

// Sequence is one run of consecutive frames. Frames and Timestamps are
// parallel slices ordered by capture instant; SharpnessScores is filled in
// by scoring and stays empty until then.
type Sequence struct {
	ID              string
	Frames          []media.Item
	Timestamps      []time.Time
	SharpnessScores []float64
	BestFrameIndex  int
}

// FrameCount returns the number of frames in the sequence.
func (s *Sequence) FrameCount() int {
	return len(s.Frames)
}

// BestFrame returns the frame selected as sharpest. Before scoring this is
// the first frame.
func (s *Sequence) BestFrame() media.Item {
	return s.Frames[s.BestFrameIndex]
}

// Keyword returns the membership keyword applied to every frame.
func (s *Sequence) Keyword() string {
	return "Sequence:" + s.ID
}

// Span returns the first and last capture instants of the sequence.
func (s *Sequence) Span() (time.Time, time.Time) {
	return s.Timestamps[0], s.Timestamps[len(s.Timestamps)-1]
}

// ID derives a sequence identifier from the first frame's capture instant.
// The format sorts lexicographically in capture order.
func ID(first time.Time) string {
	return fmt.Sprintf("SEQ_%s", first.Format("2006-01-02_15-04-05"))
}

package main

import (
	"strings"
	"testing"
	"time"

	"gridtag/internal/media"
	"gridtag/internal/sequence"
)

func TestRenderSequences(t *testing.T) {
	base := time.Date(2024, 12, 22, 14, 35, 26, 0, time.UTC)
	seq := &sequence.Sequence{
		ID: sequence.ID(base),
		Frames: []media.Item{
			media.NewItem("/photos/a.jpg"),
			media.NewItem("/photos/b.jpg"),
			media.NewItem("/photos/c.jpg"),
		},
		Timestamps: []time.Time{
			base,
			base.Add(300 * time.Millisecond),
			base.Add(600 * time.Millisecond),
		},
		SharpnessScores: []float64{10, 42, 7},
		BestFrameIndex:  1,
	}

	out := renderSequences([]*sequence.Sequence{seq}, true)
	for _, want := range []string{"SEQ_2024-12-22_14-35-26", "3", "b.jpg"} {
		if !strings.Contains(out, want) {
			t.Errorf("table missing %q:\n%s", want, out)
		}
	}

	unscored := renderSequences([]*sequence.Sequence{seq}, false)
	if !strings.Contains(unscored, "-") {
		t.Errorf("unscored table should blank the best frame:\n%s", unscored)
	}
}

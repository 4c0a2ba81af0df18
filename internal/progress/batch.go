package progress

import (
	"fmt"
	"time"
)

// Batch tracks throughput within a single run for live status lines. It is
// never persisted.
type Batch struct {
	total     int
	completed int
	failed    int
	start     time.Time
	times     []time.Duration

	now func() time.Time
}

// NewBatch constructs a tracker for a run over total items.
func NewBatch(total int) *Batch {
	b := &Batch{total: total, now: time.Now}
	b.start = b.now()
	return b
}

// Update records the outcome of one item.
func (b *Batch) Update(success bool, inferenceTime time.Duration) {
	if success {
		b.completed++
	} else {
		b.failed++
	}
	b.times = append(b.times, inferenceTime)
}

// Remaining returns the number of items not yet attempted.
func (b *Batch) Remaining() int {
	return b.total - b.completed - b.failed
}

// Elapsed returns the wall time since the batch started.
func (b *Batch) Elapsed() time.Duration {
	return b.now().Sub(b.start)
}

// AvgTime returns the mean inference time of attempted items.
func (b *Batch) AvgTime() time.Duration {
	if len(b.times) == 0 {
		return 0
	}
	var sum time.Duration
	for _, t := range b.times {
		sum += t
	}
	return sum / time.Duration(len(b.times))
}

// ETA estimates time to finish from the running average.
func (b *Batch) ETA() time.Duration {
	if len(b.times) == 0 {
		return 0
	}
	return time.Duration(b.Remaining()) * b.AvgTime()
}

// FormatETA renders the ETA compactly: "45s", "12m", "2h 05m".
func (b *Batch) FormatETA() string {
	eta := b.ETA()
	switch {
	case eta < time.Minute:
		return fmt.Sprintf("%.0fs", eta.Seconds())
	case eta < time.Hour:
		return fmt.Sprintf("%.0fm", eta.Minutes())
	default:
		hours := int(eta.Hours())
		mins := int(eta.Minutes()) % 60
		return fmt.Sprintf("%dh %02dm", hours, mins)
	}
}

// Line renders a one-line status for the console.
func (b *Batch) Line() string {
	attempted := b.completed + b.failed
	pct := 0.0
	if b.total > 0 {
		pct = float64(attempted) / float64(b.total) * 100
	}
	return fmt.Sprintf("[%d/%d] %.1f%% complete | %.1fs/img | ETA: %s",
		attempted, b.total, pct, b.AvgTime().Seconds(), b.FormatETA())
}

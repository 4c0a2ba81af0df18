// Package sharpness scores frames by Laplacian variance. Pan shots that
// nail the subject have strong edge content; motion blur and missed focus
// flatten it, so higher variance means a sharper frame.
package sharpness

import (
	"bytes"
	"context"
	"image"
	"io"
	"log/slog"
	"os"

	"golang.org/x/image/draw"

	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/tiff"

	"gridtag/internal/exifdata"
	"gridtag/internal/logging"
	"gridtag/internal/media"
	"gridtag/internal/sequence"
)

// maxScoreEdge caps the longest edge before scoring. Full-resolution RAW
// previews are needlessly slow to convolve; scores only need to be
// comparable within one sequence, and every frame gets the same cap.
const maxScoreEdge = 2500

// Scorer computes per-frame sharpness. RAW files are scored from their
// embedded preview via the extractor.
type Scorer struct {
	previews *exifdata.PreviewExtractor
	logger   *slog.Logger
}

// NewScorer constructs a scorer. The extractor may be nil, in which case
// RAW files score zero.
func NewScorer(previews *exifdata.PreviewExtractor, logger *slog.Logger) *Scorer {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Scorer{previews: previews, logger: logger}
}

// ScoreFile returns the Laplacian variance for one frame. Unreadable or
// undecodable frames score 0.0 rather than failing the batch; a zero keeps
// the frame eligible only if every frame in its sequence is equally
// unreadable.
func (s *Scorer) ScoreFile(ctx context.Context, item media.Item) float64 {
	var reader io.Reader

	if item.IsRAW() {
		if s.previews == nil {
			s.logger.Warn("no preview extractor, scoring RAW as zero",
				logging.String("item", item.Key()))
			return 0.0
		}
		data, err := s.previews.Extract(ctx, item)
		if err != nil {
			s.logger.Warn("could not extract preview",
				logging.String("item", item.Key()), logging.Error(err))
			return 0.0
		}
		reader = bytes.NewReader(data)
	} else {
		file, err := os.Open(item.Path)
		if err != nil {
			s.logger.Warn("could not open image",
				logging.String("item", item.Key()), logging.Error(err))
			return 0.0
		}
		defer file.Close()
		reader = file
	}

	img, _, err := image.Decode(reader)
	if err != nil {
		s.logger.Warn("could not decode image",
			logging.String("item", item.Key()), logging.Error(err))
		return 0.0
	}

	gray := grayscale(img, maxScoreEdge)
	return laplacianVariance(gray)
}

// ScoreSequence scores every frame and records the sharpest as the best
// frame. Ties go to the earliest frame.
func (s *Scorer) ScoreSequence(ctx context.Context, seq *sequence.Sequence) {
	scores := make([]float64, len(seq.Frames))
	best := 0
	for i, frame := range seq.Frames {
		scores[i] = s.ScoreFile(ctx, frame)
		if scores[i] > scores[best] {
			best = i
		}
		s.logger.Debug("scored frame",
			logging.String("item", frame.Key()),
			logging.Float64("sharpness", scores[i]))
	}
	seq.SharpnessScores = scores
	seq.BestFrameIndex = best
}

// grayscale converts img to 8-bit gray, downscaling first when the longest
// edge exceeds maxEdge.
func grayscale(img image.Image, maxEdge int) *image.Gray {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	longest := w
	if h > longest {
		longest = h
	}
	if longest > maxEdge {
		scale := float64(maxEdge) / float64(longest)
		w = int(float64(w) * scale)
		h = int(float64(h) * scale)
		scaled := image.NewGray(image.Rect(0, 0, w, h))
		draw.ApproxBiLinear.Scale(scaled, scaled.Bounds(), img, bounds, draw.Src, nil)
		return scaled
	}
	gray := image.NewGray(image.Rect(0, 0, w, h))
	draw.Draw(gray, gray.Bounds(), img, bounds.Min, draw.Src)
	return gray
}

// laplacianVariance convolves the 4-neighbor Laplacian kernel over the
// interior and returns the variance of the response.
func laplacianVariance(gray *image.Gray) float64 {
	bounds := gray.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if w < 3 || h < 3 {
		return 0.0
	}

	n := 0
	var sum, sumSq float64
	for y := 1; y < h-1; y++ {
		for x := 1; x < w-1; x++ {
			center := float64(gray.GrayAt(x, y).Y)
			lap := float64(gray.GrayAt(x-1, y).Y) +
				float64(gray.GrayAt(x+1, y).Y) +
				float64(gray.GrayAt(x, y-1).Y) +
				float64(gray.GrayAt(x, y+1).Y) -
				4*center
			sum += lap
			sumSq += lap * lap
			n++
		}
	}

	mean := sum / float64(n)
	return sumSq/float64(n) - mean*mean
}

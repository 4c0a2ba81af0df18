package exifdata

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"

	"gridtag/internal/logging"
	"gridtag/internal/media"
)

var commandContext = exec.CommandContext

// previewTags are tried in quality order. JpgFromRaw is full resolution,
// OtherImage is a mid-size preview, PreviewImage is a small last resort.
var previewTags = []string{"-JpgFromRaw", "-OtherImage", "-PreviewImage"}

// minPreviewBytes rejects thumbnail-sized output; anything smaller is too
// degraded for sharpness scoring or inference.
const minPreviewBytes = 10000

// PreviewExtractor pulls the embedded preview JPEG out of a RAW file via
// exiftool.
type PreviewExtractor struct {
	binary string
	logger *slog.Logger
}

// NewPreviewExtractor constructs an extractor. An empty binary defaults to
// exiftool on PATH.
func NewPreviewExtractor(binary string, logger *slog.Logger) *PreviewExtractor {
	if binary == "" {
		binary = "exiftool"
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &PreviewExtractor{binary: binary, logger: logger}
}

// Extract returns the best embedded preview found in item. It tries each
// known preview tag in quality order and returns the first plausible JPEG.
func (e *PreviewExtractor) Extract(ctx context.Context, item media.Item) ([]byte, error) {
	for _, tag := range previewTags {
		cmd := commandContext(ctx, e.binary, tag, "-b", item.Path)
		var stdout bytes.Buffer
		cmd.Stdout = &stdout
		if err := cmd.Run(); err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			e.logger.Debug("preview tag failed",
				logging.String("tag", tag),
				logging.String("path", item.Path),
				logging.Error(err))
			continue
		}
		data := stdout.Bytes()
		if len(data) > minPreviewBytes {
			e.logger.Debug("extracted preview",
				logging.String("tag", tag),
				logging.String("path", item.Path),
				logging.Int("bytes", len(data)))
			return data, nil
		}
	}
	return nil, fmt.Errorf("no usable embedded preview in %s", item.Path)
}

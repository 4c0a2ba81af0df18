package workflow

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"image"
	"image/jpeg"
	"log/slog"
	"os"

	"golang.org/x/image/draw"

	_ "image/png"

	_ "golang.org/x/image/tiff"

	"gridtag/internal/exifdata"
	"gridtag/internal/logging"
	"gridtag/internal/media"
)

// normalizeSize is the longest edge sent to the vision model. 2500px keeps
// door numbers legible without shipping a 45MB TIFF over the wire.
const normalizeSize = 2500

const (
	jpegQuality        = 85
	largeJPEGThreshold = 2 << 20
)

// Encoder prepares images for inference: RAW previews are extracted,
// oversized images are resized to normalizeSize, and everything is
// delivered as base64-encoded JPEG.
type Encoder struct {
	previews *exifdata.PreviewExtractor
	logger   *slog.Logger
}

// NewEncoder constructs an encoder.
func NewEncoder(previews *exifdata.PreviewExtractor, logger *slog.Logger) *Encoder {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Encoder{previews: previews, logger: logger}
}

// Encode returns the base64 payload for one item. Small JPEGs pass through
// untouched; everything else is decoded, resized, and re-encoded.
func (e *Encoder) Encode(ctx context.Context, item media.Item) (string, error) {
	if item.IsRAW() {
		if e.previews == nil {
			return "", fmt.Errorf("no preview extractor for RAW file %s", item.Key())
		}
		data, err := e.previews.Extract(ctx, item)
		if err != nil {
			return "", err
		}
		normalized, err := normalizeBytes(data)
		if err != nil {
			// Previews are already JPEG; ship as-is if resizing fails.
			e.logger.Warn("could not normalize preview, using original",
				logging.String("item", item.Key()), logging.Error(err))
			normalized = data
		}
		return base64.StdEncoding.EncodeToString(normalized), nil
	}

	raw, err := os.ReadFile(item.Path)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", item.Path, err)
	}

	ext := item.Ext()
	if ext == ".jpg" || ext == ".jpeg" {
		if len(raw) <= largeJPEGThreshold {
			return base64.StdEncoding.EncodeToString(raw), nil
		}
	}

	normalized, err := normalizeBytes(raw)
	if err != nil {
		e.logger.Warn("could not normalize image, using original",
			logging.String("item", item.Key()), logging.Error(err))
		normalized = raw
	}
	return base64.StdEncoding.EncodeToString(normalized), nil
}

// normalizeBytes decodes an image, caps the longest edge at normalizeSize,
// and re-encodes as JPEG.
func normalizeBytes(data []byte) ([]byte, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}

	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	longest := max(w, h)
	if longest > normalizeSize {
		scale := float64(normalizeSize) / float64(longest)
		scaledW := int(float64(w) * scale)
		scaledH := int(float64(h) * scale)
		scaled := image.NewRGBA(image.Rect(0, 0, scaledW, scaledH))
		draw.CatmullRom.Scale(scaled, scaled.Bounds(), img, bounds, draw.Src, nil)
		img = scaled
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}

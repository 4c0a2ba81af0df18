package exifdata

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/evanoberholster/imagemeta"

	"gridtag/internal/logging"
	"gridtag/internal/media"
)

// Reader resolves capture instants by decoding EXIF blocks directly. It
// reads only the metadata region of each file, so batches of large RAW
// files stay cheap.
type Reader struct {
	logger *slog.Logger
}

// NewReader constructs a Reader.
func NewReader(logger *slog.Logger) *Reader {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Reader{logger: logger}
}

var _ TimeSource = (*Reader)(nil)

// Timestamps returns the capture instant for each item that carries one,
// keyed by item path. DateTimeOriginal wins over CreateDate; items with
// neither are omitted.
func (r *Reader) Timestamps(ctx context.Context, items []media.Item) (map[string]time.Time, error) {
	out := make(map[string]time.Time, len(items))
	for _, item := range items {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		instant, ok := r.readOne(item)
		if ok {
			out[item.Path] = instant
		}
	}
	r.logger.Debug("resolved capture timestamps",
		logging.Int("resolved", len(out)),
		logging.Int("total", len(items)))
	return out, nil
}

func (r *Reader) readOne(item media.Item) (time.Time, bool) {
	file, err := os.Open(item.Path)
	if err != nil {
		r.logger.Debug("skipping unreadable file", logging.String("path", item.Path), logging.Error(err))
		return time.Time{}, false
	}
	defer file.Close()

	meta, err := imagemeta.Decode(file)
	if err != nil {
		r.logger.Debug("no decodable metadata", logging.String("path", item.Path), logging.Error(err))
		return time.Time{}, false
	}

	if ts := meta.DateTimeOriginal(); !ts.IsZero() {
		return ts, true
	}
	if ts := meta.CreateDate(); !ts.IsZero() {
		return ts, true
	}
	return time.Time{}, false
}

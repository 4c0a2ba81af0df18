// Package exifdata reads capture metadata from image files. Timestamps are
// decoded in-process; RAW preview extraction shells out to exiftool because
// vendor preview layouts are too varied to parse by hand.
package exifdata

import (
	"context"
	"time"

	"gridtag/internal/media"
)

// TimeSource resolves capture instants for a batch of items. Items whose
// timestamp is missing or unreadable are absent from the returned map; that
// is not an error.
type TimeSource interface {
	Timestamps(ctx context.Context, items []media.Item) (map[string]time.Time, error)
}

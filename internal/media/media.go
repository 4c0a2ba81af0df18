// Package media identifies source images and enumerates them from disk.
// Items carry a stable filename key for progress tracking plus a cheap
// content signature used to detect edits between runs.
package media

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// rawExtensions lists formats that cannot carry embedded keywords and need
// an XMP sidecar. Preview extraction is also required before pixel work.
var rawExtensions = map[string]struct{}{
	".nef": {}, ".cr2": {}, ".cr3": {}, ".arw": {},
	".raf": {}, ".orf": {}, ".rw2": {}, ".dng": {}, ".raw": {},
}

// embeddableExtensions lists formats that accept in-file metadata.
var embeddableExtensions = map[string]struct{}{
	".jpg": {}, ".jpeg": {}, ".tif": {}, ".tiff": {}, ".png": {},
}

// Item is a handle to one source image. Components share items by value;
// only the signature is recomputed as the file changes on disk.
type Item struct {
	Path string
}

// NewItem builds an item from a filesystem path.
func NewItem(path string) Item {
	return Item{Path: path}
}

// Key returns the stable identity used to index progress records. It is
// filename-based rather than the full path so a relocated directory keeps
// its history.
func (i Item) Key() string {
	return filepath.Base(i.Path)
}

// Ext returns the lowercase file extension including the dot.
func (i Item) Ext() string {
	return strings.ToLower(filepath.Ext(i.Path))
}

// IsRAW reports whether the item is a camera RAW file.
func (i Item) IsRAW() bool {
	_, ok := rawExtensions[i.Ext()]
	return ok
}

// SupportsEmbedding reports whether keywords can be written into the file
// itself instead of a sidecar.
func (i Item) SupportsEmbedding() bool {
	_, ok := embeddableExtensions[i.Ext()]
	return ok
}

// Signature computes the item's current content signature from file size
// and modification time. It is a cheap change detector, not a hash.
func (i Item) Signature() (string, error) {
	info, err := os.Stat(i.Path)
	if err != nil {
		return "", fmt.Errorf("stat %s: %w", i.Path, err)
	}
	return fmt.Sprintf("%d:%d", info.Size(), info.ModTime().UnixNano()), nil
}

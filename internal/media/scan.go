package media

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// supportedExtensions are the formats the batch accepts as input.
var supportedExtensions = map[string]struct{}{
	".jpg": {}, ".jpeg": {}, ".png": {}, ".tif": {}, ".tiff": {},
	".nef": {}, ".cr2": {}, ".arw": {}, ".dng": {},
	".raf": {}, ".orf": {}, ".rw2": {},
}

// Scan enumerates supported images under path, which may name a single
// file or a directory. Lightroom cache directories (*.lrdata) are skipped
// entirely. Results are sorted by full path so batches enumerate in the
// same order on every run.
func Scan(path string, recursive bool) ([]Item, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}

	if !info.IsDir() {
		if !isSupported(path) {
			return nil, fmt.Errorf("unsupported file type: %s", path)
		}
		return []Item{NewItem(path)}, nil
	}

	var items []Item
	err = filepath.WalkDir(path, func(entry string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if entry == path {
				return nil
			}
			if strings.HasSuffix(d.Name(), ".lrdata") {
				return filepath.SkipDir
			}
			if !recursive {
				return filepath.SkipDir
			}
			return nil
		}
		if isSupported(entry) {
			items = append(items, NewItem(entry))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", path, err)
	}

	sort.Slice(items, func(a, b int) bool { return items[a].Path < items[b].Path })
	return items, nil
}

func isSupported(path string) bool {
	_, ok := supportedExtensions[strings.ToLower(filepath.Ext(path))]
	return ok
}

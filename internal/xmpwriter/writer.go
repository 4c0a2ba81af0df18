// Package xmpwriter attaches keyword metadata to images via exiftool.
// RAW formats get an XMP sidecar; JPEG and TIFF carry the keywords
// embedded. Keywords are written as pipe-separated hierarchy paths under
// an "AI Keywords" root, which Lightroom renders as an expandable tree.
package xmpwriter

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"

	"gridtag/internal/logging"
	"gridtag/internal/media"
	"gridtag/internal/services"
)

// Root is the top of the keyword hierarchy in Lightroom's keyword list.
const Root = "AI Keywords"

var commandContext = exec.CommandContext

// Writer shells out to exiftool for all metadata writes.
type Writer struct {
	binary string
	logger *slog.Logger
}

// New constructs a Writer, resolving exiftool on PATH when binary is
// empty. A missing exiftool is a configuration error: nothing can be
// tagged without it.
func New(binary string, logger *slog.Logger) (*Writer, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	if binary == "" {
		resolved, err := exec.LookPath("exiftool")
		if err != nil {
			return nil, services.Wrap(services.ErrConfiguration, "xmpwriter", "new",
				"exiftool not found on PATH", err)
		}
		binary = resolved
	}
	return &Writer{binary: binary, logger: logger}, nil
}

// TargetPath returns where keywords for item are written: the item itself
// for embeddable formats, an XMP sidecar for RAW. A non-empty outputDir
// redirects sidecars there.
func TargetPath(item media.Item, outputDir string) string {
	if !item.IsRAW() {
		return item.Path
	}
	stem := strings.TrimSuffix(filepath.Base(item.Path), filepath.Ext(item.Path))
	if outputDir != "" {
		return filepath.Join(outputDir, stem+".xmp")
	}
	return filepath.Join(filepath.Dir(item.Path), stem+".xmp")
}

// HierarchicalPaths expands Category:Value keywords into every level of
// the keyword tree. Lightroom only nests correctly when the root and each
// intermediate node are present. Keywords without a category become
// direct children of the root.
func HierarchicalPaths(keywords []string) []string {
	paths := map[string]struct{}{Root: {}}
	for _, keyword := range keywords {
		keyword = strings.TrimSpace(keyword)
		if keyword == "" {
			continue
		}
		category, value, ok := strings.Cut(keyword, ":")
		if !ok {
			paths[Root+"|"+keyword] = struct{}{}
			continue
		}
		paths[Root+"|"+category] = struct{}{}
		paths[Root+"|"+category+"|"+value] = struct{}{}
	}

	out := make([]string, 0, len(paths))
	for path := range paths {
		out = append(out, path)
	}
	sort.Strings(out)
	return out
}

// WriteKeywords durably attaches keywords for item and returns the path
// they were written to. With merge the keywords are added to whatever is
// already present; without it the Subject field is replaced. Writing the
// same keywords twice is harmless: the hierarchy paths are a set.
func (w *Writer) WriteKeywords(ctx context.Context, item media.Item, keywords []string, outputDir string, merge bool) (string, error) {
	if len(keywords) == 0 {
		return "", nil
	}

	target := TargetPath(item, outputDir)
	if err := w.ensureSidecar(ctx, item, target); err != nil {
		return "", err
	}

	paths := HierarchicalPaths(keywords)
	args := []string{"-overwrite_original"}
	if !merge {
		args = append(args, "-Subject=")
	}
	for _, path := range paths {
		args = append(args, "-Subject+="+path)
	}
	for _, path := range paths {
		args = append(args, "-XMP-lr:HierarchicalSubject+="+path)
	}
	args = append(args, target)

	cmd := commandContext(ctx, w.binary, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", services.Wrap(services.ErrExternalTool, "xmpwriter", "write_keywords",
			fmt.Sprintf("exiftool failed for %s: %s", target, strings.TrimSpace(stderr.String())), err)
	}

	w.logger.Debug("wrote keywords",
		logging.String("target", target),
		logging.Int("keywords", len(keywords)))
	return target, nil
}

// ensureSidecar creates a missing XMP sidecar from the source image so the
// sidecar starts with the camera's metadata rather than empty.
func (w *Writer) ensureSidecar(ctx context.Context, item media.Item, target string) error {
	if !strings.EqualFold(filepath.Ext(target), ".xmp") {
		return nil
	}
	if _, err := os.Stat(target); err == nil {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("ensure sidecar directory: %w", err)
	}

	cmd := commandContext(ctx, w.binary, "-o", target, item.Path)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return services.Wrap(services.ErrExternalTool, "xmpwriter", "create_sidecar",
			fmt.Sprintf("creating sidecar %s failed: %s", target, strings.TrimSpace(stderr.String())), err)
	}
	return nil
}

// ReadKeywords returns the flat Subject keywords currently on path, or nil
// when the file does not exist.
func (w *Writer) ReadKeywords(ctx context.Context, path string) ([]string, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, nil
	}

	cmd := commandContext(ctx, w.binary, "-Subject", "-s", "-s", "-s", path)
	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	if err := cmd.Run(); err != nil {
		return nil, services.Wrap(services.ErrExternalTool, "xmpwriter", "read_keywords",
			fmt.Sprintf("reading keywords from %s failed", path), err)
	}

	var keywords []string
	for _, part := range strings.Split(strings.TrimSpace(stdout.String()), ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			keywords = append(keywords, trimmed)
		}
	}
	return keywords, nil
}

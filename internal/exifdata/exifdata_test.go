package exifdata

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"gridtag/internal/media"
)

func TestReaderOmitsFilesWithoutTimestamps(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "noexif.jpg")
	if err := os.WriteFile(path, []byte("not a real image"), 0o644); err != nil {
		t.Fatal(err)
	}

	reader := NewReader(nil)
	timestamps, err := reader.Timestamps(context.Background(), []media.Item{media.NewItem(path)})
	if err != nil {
		t.Fatalf("Timestamps returned error: %v", err)
	}
	if len(timestamps) != 0 {
		t.Fatalf("expected no timestamps, got %v", timestamps)
	}
}

func TestReaderHonorsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	reader := NewReader(nil)
	_, err := reader.Timestamps(ctx, []media.Item{media.NewItem("/tmp/anything.jpg")})
	if err == nil {
		t.Fatal("expected error from cancelled context")
	}
}

func TestPreviewExtractorPicksFirstPlausibleTag(t *testing.T) {
	var capturedTags []string
	original := commandContext
	commandContext = func(ctx context.Context, name string, args ...string) *exec.Cmd {
		capturedTags = append(capturedTags, args[0])
		mode := "empty"
		if args[0] == "-OtherImage" {
			mode = "preview"
		}
		cmd := exec.CommandContext(ctx, os.Args[0], "-test.run=TestHelperProcess")
		cmd.Env = append(os.Environ(), "GO_WANT_HELPER_PROCESS=1", "EXIF_HELPER_MODE="+mode)
		return cmd
	}
	t.Cleanup(func() { commandContext = original })

	extractor := NewPreviewExtractor("", nil)
	data, err := extractor.Extract(context.Background(), media.NewItem("/photos/DSC_0001.NEF"))
	if err != nil {
		t.Fatalf("Extract returned error: %v", err)
	}
	if len(data) <= minPreviewBytes {
		t.Fatalf("preview too small: %d bytes", len(data))
	}
	want := []string{"-JpgFromRaw", "-OtherImage"}
	if strings.Join(capturedTags, ",") != strings.Join(want, ",") {
		t.Fatalf("tags tried = %v, want %v", capturedTags, want)
	}
}

func TestPreviewExtractorRejectsThumbnails(t *testing.T) {
	original := commandContext
	commandContext = func(ctx context.Context, name string, args ...string) *exec.Cmd {
		cmd := exec.CommandContext(ctx, os.Args[0], "-test.run=TestHelperProcess")
		cmd.Env = append(os.Environ(), "GO_WANT_HELPER_PROCESS=1", "EXIF_HELPER_MODE=thumbnail")
		return cmd
	}
	t.Cleanup(func() { commandContext = original })

	extractor := NewPreviewExtractor("", nil)
	if _, err := extractor.Extract(context.Background(), media.NewItem("/photos/DSC_0001.NEF")); err == nil {
		t.Fatal("expected error when only thumbnail-sized previews exist")
	}
}

func TestHelperProcess(t *testing.T) {
	if os.Getenv("GO_WANT_HELPER_PROCESS") != "1" {
		return
	}
	switch os.Getenv("EXIF_HELPER_MODE") {
	case "preview":
		fmt.Print(strings.Repeat("j", 20000))
	case "thumbnail":
		fmt.Print(strings.Repeat("j", 512))
	case "empty":
	}
	os.Exit(0)
}

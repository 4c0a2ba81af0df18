package media

import (
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"
)

func writeFile(t *testing.T, path string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestItemKeyAndClassification(t *testing.T) {
	raw := NewItem("/photos/event/DSC_0042.NEF")
	if raw.Key() != "DSC_0042.NEF" {
		t.Fatalf("key = %q", raw.Key())
	}
	if !raw.IsRAW() || raw.SupportsEmbedding() {
		t.Fatal("NEF should be RAW and not embeddable")
	}

	jpg := NewItem("/photos/event/DSC_0042.jpg")
	if jpg.IsRAW() || !jpg.SupportsEmbedding() {
		t.Fatal("JPG should be embeddable and not RAW")
	}
}

func TestSignatureChangesWithFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "frame.jpg")
	writeFile(t, path)
	item := NewItem(path)

	first, err := item.Signature()
	if err != nil {
		t.Fatal(err)
	}

	if err := os.WriteFile(path, []byte("edited contents"), 0o644); err != nil {
		t.Fatal(err)
	}
	future := time.Now().Add(2 * time.Second)
	if err := os.Chtimes(path, future, future); err != nil {
		t.Fatal(err)
	}

	second, err := item.Signature()
	if err != nil {
		t.Fatal(err)
	}
	if first == second {
		t.Fatalf("signature did not change after edit: %q", first)
	}
}

func TestScanFiltersAndSorts(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "b.jpg"))
	writeFile(t, filepath.Join(dir, "a.NEF"))
	writeFile(t, filepath.Join(dir, "notes.txt"))
	writeFile(t, filepath.Join(dir, "nested", "c.cr2"))
	writeFile(t, filepath.Join(dir, "Previews.lrdata", "cache.jpg"))

	items, err := Scan(dir, true)
	if err != nil {
		t.Fatal(err)
	}

	var keys []string
	for _, item := range items {
		keys = append(keys, item.Key())
	}
	want := []string{"a.NEF", "b.jpg", "c.cr2"}
	if len(keys) != len(want) {
		t.Fatalf("keys = %v, want %v", keys, want)
	}
	if !sort.SliceIsSorted(items, func(a, b int) bool { return items[a].Path < items[b].Path }) {
		t.Fatalf("scan results not sorted: %v", keys)
	}
	for i, k := range want {
		if keys[i] != k {
			t.Fatalf("keys = %v, want %v", keys, want)
		}
	}
}

func TestScanNonRecursive(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "top.jpg"))
	writeFile(t, filepath.Join(dir, "nested", "deep.jpg"))

	items, err := Scan(dir, false)
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 1 || items[0].Key() != "top.jpg" {
		t.Fatalf("items = %+v", items)
	}
}

func TestScanSingleFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "solo.arw")
	writeFile(t, path)

	items, err := Scan(path, true)
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 1 || items[0].Path != path {
		t.Fatalf("items = %+v", items)
	}

	if _, err := Scan(filepath.Join(filepath.Dir(path), "missing.jpg"), true); err == nil {
		t.Fatal("expected error for missing path")
	}
}

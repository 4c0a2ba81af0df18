package deps

import (
	"os"
	"path/filepath"
	"testing"
)

func TestCheckBinaries(t *testing.T) {
	binDir := t.TempDir()
	present := filepath.Join(binDir, "present")
	script := []byte("#!/bin/sh\nexit 0\n")
	if err := os.WriteFile(present, script, 0o755); err != nil {
		t.Fatalf("write stub: %v", err)
	}
	reqs := []Requirement{
		{Name: "Present", Command: present},
		{Name: "Missing", Command: "clearly-not-present-binary"},
	}

	results := CheckBinaries(reqs)
	if len(results) != len(reqs) {
		t.Fatalf("expected %d results, got %d", len(reqs), len(results))
	}
	if !results[0].Available {
		t.Fatalf("expected first requirement to be available, got %#v", results[0])
	}
	if results[1].Available {
		t.Fatal("expected missing binary to be unavailable")
	}
	if results[1].Detail == "" {
		t.Fatal("expected detail message for missing binary")
	}
}

func TestMissingRequired(t *testing.T) {
	statuses := []Status{
		{Name: "ExifTool", Available: false},
		{Name: "Optional tool", Available: false, Optional: true},
		{Name: "Present tool", Available: true},
	}

	missing := MissingRequired(statuses)
	if len(missing) != 1 || missing[0] != "ExifTool" {
		t.Fatalf("missing = %v, want [ExifTool]", missing)
	}
}

func TestRequiredIncludesExiftool(t *testing.T) {
	var found bool
	for _, req := range Required() {
		if req.Command == "exiftool" && !req.Optional {
			found = true
		}
	}
	if !found {
		t.Fatal("exiftool must be a required dependency")
	}
}

package logging_test

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	"gridtag/internal/logging"
)

func newFileLogger(t *testing.T, format, level string) (*slog.Logger, string) {
	t.Helper()

	logPath := filepath.Join(t.TempDir(), "out.log")
	logger, err := logging.New(logging.Options{
		Format:      format,
		Level:       level,
		OutputPaths: []string{logPath},
	})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	return logger, logPath
}

func readLog(t *testing.T, path string) string {
	t.Helper()
	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	return string(content)
}

func TestConsoleLineFormat(t *testing.T) {
	logger, logPath := newFileLogger(t, "console", "info")
	logger = logging.WithComponent(logger, "vision")

	logger.Info("model resolved",
		logging.String("model", "qwen2.5vl:7b"),
		logging.Int("candidates", 5))

	content := readLog(t, logPath)
	line := strings.TrimRight(content, "\n")
	if matched, _ := regexp.MatchString(`^\d{2}:\d{2}:\d{2} INFO vision: model resolved`, line); !matched {
		t.Fatalf("unexpected line prefix: %q", line)
	}
	if !strings.Contains(line, "model=qwen2.5vl:7b") {
		t.Errorf("missing string attr: %q", line)
	}
	if !strings.Contains(line, "candidates=5") {
		t.Errorf("missing int attr: %q", line)
	}
	if strings.Contains(line, "component=") {
		t.Errorf("component should render as prefix, not attr: %q", line)
	}
}

func TestConsoleQuotesAwkwardValues(t *testing.T) {
	logger, logPath := newFileLogger(t, "console", "info")

	logger.Warn("processing failed",
		logging.String("item", "pit lane.jpg"),
		logging.Error(errors.New("exit status 1")))

	content := readLog(t, logPath)
	if !strings.Contains(content, `item="pit lane.jpg"`) {
		t.Errorf("value with space should be quoted: %q", content)
	}
	if !strings.Contains(content, `error="exit status 1"`) {
		t.Errorf("error attr should render quoted: %q", content)
	}
	if !strings.Contains(content, " WARN ") {
		t.Errorf("missing level label: %q", content)
	}
}

func TestConsoleLevelFiltering(t *testing.T) {
	logger, logPath := newFileLogger(t, "console", "warn")

	logger.Debug("noise")
	logger.Info("still noise")
	logger.Warn("kept")

	content := readLog(t, logPath)
	if strings.Contains(content, "noise") {
		t.Errorf("records below warn should be dropped: %q", content)
	}
	if !strings.Contains(content, "kept") {
		t.Errorf("warn record missing: %q", content)
	}
}

func TestJSONHandlerFieldNames(t *testing.T) {
	logger, logPath := newFileLogger(t, "json", "info")

	logger.Info("batch complete", logging.Int("successful", 12))

	content := readLog(t, logPath)
	for _, want := range []string{`"ts":`, `"level":"info"`, `"msg":"batch complete"`, `"successful":12`} {
		if !strings.Contains(content, want) {
			t.Errorf("json output missing %s: %q", want, content)
		}
	}
}

func TestNewRejectsUnknownFormat(t *testing.T) {
	_, err := logging.New(logging.Options{Format: "xml"})
	if err == nil || !strings.Contains(err.Error(), "format") {
		t.Fatalf("expected format error, got %v", err)
	}
}

func TestNopLoggerDiscardsEverything(t *testing.T) {
	logger := logging.NewNop()
	if logger.Enabled(context.Background(), slog.LevelError) {
		t.Fatal("nop logger should report disabled at every level")
	}
	logger.Error("dropped", logging.String("key", "value"))
}

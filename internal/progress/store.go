// Package progress persists per-item batch state so interrupted runs can
// resume without re-tagging. State lives in one JSON file alongside the
// images; records are keyed by filename so a relocated shoot directory
// keeps its history.
package progress

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"gridtag/internal/logging"
	"gridtag/internal/media"
)

// FileName is the progress file written into the input directory.
const FileName = ".gridtag_progress.json"

const stateVersion = 1

// ProcessedRecord captures one successfully tagged image.
type ProcessedRecord struct {
	Path          string            `json:"path"`
	Signature     string            `json:"signature"`
	ProcessedAt   time.Time         `json:"processed_at"`
	Keywords      []string          `json:"keywords"`
	InferenceTime float64           `json:"inference_time"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

// FailedRecord captures the latest failure for an image, with a running
// attempt count across runs.
type FailedRecord struct {
	Path     string    `json:"path"`
	FailedAt time.Time `json:"failed_at"`
	Error    string    `json:"error"`
	Attempts int       `json:"attempts"`
}

// Stats holds cumulative counters across all runs of a batch.
type Stats struct {
	TotalProcessed int     `json:"total_processed"`
	TotalFailed    int     `json:"total_failed"`
	TotalTime      float64 `json:"total_time"`
}

// Summary is Stats plus derived figures for reporting.
type Summary struct {
	Stats
	ProcessedCount int
	FailedCount    int
	AvgTime        float64
}

type state struct {
	Version   int                        `json:"version"`
	Created   time.Time                  `json:"created"`
	Updated   time.Time                  `json:"updated"`
	Processed map[string]ProcessedRecord `json:"processed"`
	Failed    map[string]FailedRecord    `json:"failed"`
	Stats     Stats                      `json:"stats"`
}

func freshState() state {
	return state{
		Version:   stateVersion,
		Created:   time.Now(),
		Processed: make(map[string]ProcessedRecord),
		Failed:    make(map[string]FailedRecord),
	}
}

// Store is the durable progress tracker. All mutating operations persist
// the full state synchronously before returning.
type Store struct {
	path   string
	logger *slog.Logger

	mu   sync.Mutex
	data state
}

// Open loads the store at path, starting fresh when the file is missing or
// unreadable. A corrupt progress file costs re-processing, never the batch.
func Open(path string, logger *slog.Logger) *Store {
	if logger == nil {
		logger = logging.NewNop()
	}
	store := &Store{path: path, logger: logger, data: freshState()}

	raw, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			logger.Warn("could not read progress file", logging.String("path", path), logging.Error(err))
		}
		return store
	}

	var loaded state
	if err := json.Unmarshal(raw, &loaded); err != nil {
		logger.Warn("progress file corrupt, starting fresh",
			logging.String("path", path), logging.Error(err))
		return store
	}
	if loaded.Processed == nil {
		loaded.Processed = make(map[string]ProcessedRecord)
	}
	if loaded.Failed == nil {
		loaded.Failed = make(map[string]FailedRecord)
	}
	store.data = loaded
	logger.Debug("loaded progress", logging.Int("processed", len(loaded.Processed)))
	return store
}

// Path returns the backing file path.
func (s *Store) Path() string {
	return s.path
}

// IsProcessed reports whether item already has a processed record. With
// verifySignature the file's current signature must also match the stored
// one; an edited file counts as unprocessed so it gets re-tagged.
func (s *Store) IsProcessed(item media.Item, verifySignature bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.data.Processed[item.Key()]
	if !ok {
		return false
	}
	if verifySignature {
		if entry.Signature != currentSignature(item) {
			s.logger.Debug("file changed since processing", logging.String("item", item.Key()))
			return false
		}
	}
	return true
}

// MarkProcessed upserts a processed record for item, recomputing the
// signature at call time. A prior failed record for the same key is
// removed and its counter decremented.
func (s *Store) MarkProcessed(item media.Item, keywords []string, inferenceTime time.Duration, metadata map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := item.Key()
	s.data.Processed[key] = ProcessedRecord{
		Path:          item.Path,
		Signature:     currentSignature(item),
		ProcessedAt:   time.Now(),
		Keywords:      keywords,
		InferenceTime: inferenceTime.Seconds(),
		Metadata:      metadata,
	}
	s.data.Stats.TotalProcessed++
	s.data.Stats.TotalTime += inferenceTime.Seconds()

	if _, failed := s.data.Failed[key]; failed {
		delete(s.data.Failed, key)
		s.data.Stats.TotalFailed--
	}
	return s.persist()
}

// MarkFailed upserts a failed record for item, incrementing its attempt
// count. Every call also bumps the cumulative failed counter.
func (s *Store) MarkFailed(item media.Item, cause error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := item.Key()
	attempts := s.data.Failed[key].Attempts + 1
	s.data.Failed[key] = FailedRecord{
		Path:     item.Path,
		FailedAt: time.Now(),
		Error:    cause.Error(),
		Attempts: attempts,
	}
	s.data.Stats.TotalFailed++
	return s.persist()
}

// Reset discards all tracked state and persists the empty aggregate.
func (s *Store) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.data = freshState()
	s.logger.Info("progress tracking reset", logging.String("path", s.path))
	return s.persist()
}

// Summary returns cumulative statistics with derived counts.
func (s *Store) Summary() Summary {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := Summary{
		Stats:          s.data.Stats,
		ProcessedCount: len(s.data.Processed),
		FailedCount:    len(s.data.Failed),
	}
	if out.TotalProcessed > 0 {
		out.AvgTime = out.TotalTime / float64(out.TotalProcessed)
	}
	return out
}

// Failures returns the failed records sorted by key.
func (s *Store) Failures() []FailedRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	keys := make([]string, 0, len(s.data.Failed))
	for key := range s.data.Failed {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	out := make([]FailedRecord, 0, len(keys))
	for _, key := range keys {
		out = append(out, s.data.Failed[key])
	}
	return out
}

// Keywords returns the recorded keywords for every processed image.
func (s *Store) Keywords() map[string][]string {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string][]string, len(s.data.Processed))
	for key, entry := range s.data.Processed {
		out[key] = append([]string(nil), entry.Keywords...)
	}
	return out
}

// persist writes the full state atomically. Callers hold s.mu.
func (s *Store) persist() error {
	s.data.Updated = time.Now()

	raw, err := json.MarshalIndent(s.data, "", "  ")
	if err != nil {
		return fmt.Errorf("encode progress: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("ensure progress directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".progress-*.tmp")
	if err != nil {
		return fmt.Errorf("create progress temp file: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write progress: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("sync progress: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close progress temp file: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("replace progress file: %w", err)
	}
	return nil
}

func currentSignature(item media.Item) string {
	sig, err := item.Signature()
	if err != nil {
		return ""
	}
	return sig
}

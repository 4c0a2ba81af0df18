package testsupport

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/pelletier/go-toml/v2"

	"gridtag/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// It defaults common fields and applies any provided options.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.OutputDir = filepath.Join(base, "sidecars")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Vision.ServerURL = "http://127.0.0.1:0"

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	return builder.cfg
}

// WithServerURL overrides the inference server endpoint on the test config.
func WithServerURL(url string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Vision.ServerURL = url
	}
}

// WithProfile sets the prompt profile on the test config.
func WithProfile(profile string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Processing.Profile = profile
	}
}

// WithSequences enables sequence detection with the given threshold.
func WithSequences(thresholdSeconds float64) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Sequences.Enabled = true
		b.cfg.Sequences.ThresholdSeconds = thresholdSeconds
	}
}

// WriteConfigFile serializes cfg to a TOML file under a fresh temp dir and
// returns its path, for tests exercising the config resolution chain.
func WriteConfigFile(t testing.TB, cfg *config.Config) string {
	t.Helper()

	data, err := toml.Marshal(cfg)
	if err != nil {
		t.Fatalf("marshal config: %v", err)
	}
	path := filepath.Join(t.TempDir(), "gridtag.toml")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

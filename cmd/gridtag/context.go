package main

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/mattn/go-isatty"

	"gridtag/internal/config"
	"gridtag/internal/logging"
)

type commandContext struct {
	configFlag *string

	configOnce sync.Once
	config     *config.Config
	configErr  error
}

func newCommandContext(configFlag *string) *commandContext {
	return &commandContext{configFlag: configFlag}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, _, _, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		if err := cfg.EnsureDirectories(); err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

// buildLogger assembles the run logger from configuration plus per-command
// flags. Console output downgrades to JSON when stderr is not a terminal so
// piped logs stay parseable.
func (c *commandContext) buildLogger(cfg *config.Config, verbose bool, logFile string) (*slog.Logger, error) {
	level := cfg.Logging.Level
	if verbose {
		level = "debug"
	}

	format := cfg.Logging.Format
	if format == "console" && !isTerminal(os.Stderr) {
		format = "json"
	}

	outputs := []string{"stderr"}
	switch {
	case strings.TrimSpace(logFile) != "":
		outputs = append(outputs, logFile)
	case cfg.Paths.LogDir != "":
		outputs = append(outputs, filepath.Join(cfg.Paths.LogDir, "gridtag.log"))
	}

	return logging.New(logging.Options{
		Level:       level,
		Format:      format,
		OutputPaths: outputs,
	})
}

func isTerminal(f *os.File) bool {
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

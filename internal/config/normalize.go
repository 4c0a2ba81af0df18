package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeVision()
	c.normalizeProcessing()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = defaultLogDir
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	if c.Paths.OutputDir, err = expandPath(c.Paths.OutputDir); err != nil {
		return fmt.Errorf("paths.output_dir: %w", err)
	}
	return nil
}

func (c *Config) normalizeVision() {
	if c.Vision.ServerURL == "" {
		if value, ok := os.LookupEnv("GRIDTAG_SERVER_URL"); ok {
			c.Vision.ServerURL = value
		}
	}
	c.Vision.ServerURL = strings.TrimRight(strings.TrimSpace(c.Vision.ServerURL), "/")
	if c.Vision.ServerURL == "" {
		c.Vision.ServerURL = defaultServerURL
	}
	c.Vision.Model = strings.TrimSpace(c.Vision.Model)
	if c.Vision.TimeoutSeconds <= 0 {
		c.Vision.TimeoutSeconds = defaultVisionTimeout
	}
}

func (c *Config) normalizeProcessing() {
	c.Processing.Profile = strings.ToLower(strings.TrimSpace(c.Processing.Profile))
	if c.Processing.Profile == "" {
		c.Processing.Profile = defaultProfile
	}
	if c.Processing.MaxImages < 0 {
		c.Processing.MaxImages = 0
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}

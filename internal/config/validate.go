package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"gridtag/internal/prompts"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateVision(); err != nil {
		return err
	}
	if err := c.validateSequences(); err != nil {
		return err
	}
	if err := c.validateProcessing(); err != nil {
		return err
	}
	return c.validateLogging()
}

func (c *Config) validateVision() error {
	parsed, err := url.Parse(c.Vision.ServerURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return fmt.Errorf("vision.server_url must be a valid URL, got %q", c.Vision.ServerURL)
	}
	if c.Vision.TimeoutSeconds <= 0 {
		return errors.New("vision.timeout_seconds must be positive")
	}
	return nil
}

func (c *Config) validateSequences() error {
	if c.Sequences.ThresholdSeconds <= 0 {
		return errors.New("sequences.threshold_seconds must be positive")
	}
	return nil
}

func (c *Config) validateProcessing() error {
	if !prompts.IsValidProfile(c.Processing.Profile) {
		return fmt.Errorf("processing.profile %q is unknown; valid profiles: %s",
			c.Processing.Profile, strings.Join(prompts.AvailableProfiles(), ", "))
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format must be console or json, got %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be debug, info, warn, or error, got %q", c.Logging.Level)
	}
	return nil
}

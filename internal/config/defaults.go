package config

const (
	defaultLogDir            = "~/.local/share/gridtag/logs"
	defaultServerURL         = "http://localhost:11434"
	defaultVisionTimeout     = 300
	defaultSequenceThreshold = 0.5
	defaultProfile           = "racing-porsche"
	defaultLogFormat         = "console"
	defaultLogLevel          = "info"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			LogDir: defaultLogDir,
		},
		Vision: Vision{
			ServerURL:      defaultServerURL,
			TimeoutSeconds: defaultVisionTimeout,
		},
		Sequences: Sequences{
			Enabled:          false,
			ThresholdSeconds: defaultSequenceThreshold,
			Sharpness:        true,
		},
		Processing: Processing{
			Profile:   defaultProfile,
			Recursive: true,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}

package app

import "github.com/campusconnect/ecsbridge/pkg/logger"

// ConfigureLogging initialises the global logger with the provided level,
// defaulting to info.
func ConfigureLogging(level string) error {
	if level == "" {
		level = "info"
	}
	return logger.Init(level)
}

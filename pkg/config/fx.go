package config

import (
	"os"

	"go.uber.org/fx"
)

// ConfigFile is the project configuration file looked up in the working
// directory.
const ConfigFile = "caretaker.yaml"

var Module = fx.Module("config", fx.Provide(
	// Attempts to load the configuration from caretaker.yaml if it exists.
	// Returns nil if the file doesn't exist, allowing commands that don't
	// require config (like help, version) to function properly.
	func() (*Config, error) {
		if _, err := os.Stat(ConfigFile); os.IsNotExist(err) {
			return nil, nil
		}

		return LoadFile(ConfigFile)
	},
))

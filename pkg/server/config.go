package server

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// LoadConfigFile reads a YAML config file and overlays it on base. Fields
// absent from the file keep their base values, so flag defaults survive a
// sparse file and flags can still override after loading.
func LoadConfigFile(path string, base Config) (Config, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path from user-provided CLI flag
	if err != nil {
		return base, fmt.Errorf("server: read config: %w", err)
	}
	cfg := base
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return base, fmt.Errorf("server: parse config: %w", err)
	}
	return cfg, nil
}

package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// DiscoverConfigPath finds a config file by checking standard locations.
// Priority order: $EXECGW_CONFIG, ~/.config/execgw/config.yaml,
// /etc/execgw/config.yaml, ./config.yaml.
func DiscoverConfigPath() (string, error) {
	if path := os.Getenv("EXECGW_CONFIG"); path != "" {
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}

	candidates := make([]string, 0, 3)
	if homeDir, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(homeDir, ".config", "execgw", "config.yaml"))
	}
	candidates = append(candidates, "/etc/execgw/config.yaml", "./config.yaml")

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}

	return "", fmt.Errorf("no config found (checked: $EXECGW_CONFIG, ~/.config/execgw, /etc/execgw, ./config.yaml)")
}

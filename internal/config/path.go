package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
)

const configFileName = "config.jsonc"

// ResolvePath applies CLI/XDG/home fallback rules for the config file location.
func ResolvePath(explicit string) (string, error) {
	if strings.TrimSpace(explicit) != "" {
		return explicit, nil
	}

	if xdg := strings.TrimSpace(os.Getenv("XDG_CONFIG_HOME")); xdg != "" {
		return filepath.Join(xdg, "pulselink", configFileName), nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", errors.New("unable to resolve user home for config fallback")
	}

	return filepath.Join(home, ".config", "pulselink", configFileName), nil
}

// DefaultStorePath returns the database location used when store.path is unset.
func DefaultStorePath() (string, error) {
	if xdg := strings.TrimSpace(os.Getenv("XDG_DATA_HOME")); xdg != "" {
		return filepath.Join(xdg, "pulselink", "pulselink.db"), nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", errors.New("unable to resolve user home for store fallback")
	}
	return filepath.Join(home, ".local", "share", "pulselink", "pulselink.db"), nil
}

// StorePath returns store.path, or DefaultStorePath when it is unset.
func (c Config) StorePath() (string, error) {
	if path := strings.TrimSpace(c.Store.Path); path != "" {
		return path, nil
	}
	return DefaultStorePath()
}

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Loaded is a parsed config together with where it came from.
type Loaded struct {
	Path     string
	Exists   bool
	Config   Config
	Warnings []Warning
}

// Load reads the config at explicitPath (or the XDG fallback), applies it over
// Default, validates it and settles store.path. A missing file is not an
// error: the daemon runs on defaults and the caller gets a warning.
func Load(explicitPath string) (Loaded, error) {
	path, err := ResolvePath(explicitPath)
	if err != nil {
		return Loaded{}, err
	}
	loaded := Loaded{Path: path, Config: Default()}

	content, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		loaded.Warnings = []Warning{{Message: fmt.Sprintf("config file %q not found; using defaults", path)}}
	case err != nil:
		return Loaded{}, fmt.Errorf("read config %q: %w", path, err)
	default:
		loaded.Exists = true
		loaded.Config, loaded.Warnings, err = Parse(string(content), loaded.Config)
		if err != nil {
			return Loaded{}, fmt.Errorf("parse config %q: %w", path, err)
		}
	}

	if err := loaded.settleStorePath(); err != nil {
		return Loaded{}, err
	}
	return loaded, nil
}

// settleStorePath anchors a relative store.path at the config file's
// directory and rejects a path that names a directory.
func (l *Loaded) settleStorePath() error {
	configured := strings.TrimSpace(l.Config.Store.Path)
	if configured != "" && !filepath.IsAbs(configured) {
		l.Config.Store.Path = filepath.Join(filepath.Dir(l.Path), configured)
	}

	path, err := l.Config.StorePath()
	if err != nil {
		return err
	}
	if info, err := os.Stat(path); err == nil && info.IsDir() {
		return fmt.Errorf("store.path %q is a directory; point it at a database file", path)
	}
	return nil
}

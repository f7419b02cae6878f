// ABOUTME: XDG-based data directory resolution for the visigoth CLI.
// ABOUTME: Checks XDG_DATA_HOME, falls back to ~/.local/share/visigoth.
package main

import (
	"fmt"
	"os"
	"path/filepath"
)

// defaultDataDir returns the default directory for run data and the index.
func defaultDataDir() (string, error) {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "visigoth"), nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}

	return filepath.Join(home, ".local", "share", "visigoth"), nil
}

// resolveDataDir prefers an explicit override and falls back to the XDG
// default.
func resolveDataDir(override string) (string, error) {
	if override != "" {
		return override, nil
	}
	return defaultDataDir()
}

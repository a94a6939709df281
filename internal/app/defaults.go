package app

import (
	"fmt"
	"os"
	"path/filepath"
)

// Defaults holds the resolved locations the tool works from.
type Defaults struct {
	ConfigPath string
	BaseDir    string
	LogDir     string
}

// GetDefaults resolves application paths, checking environment variables first.
// Environment variables:
//   - IMMICH_MIGRATE_CONFIG: config file location (default: ~/.config/immich-migrate.toml)
//   - IMMICH_MIGRATE_HOME: base directory for tool data (default: ~/.local/share/immich-migrate)
func GetDefaults() (Defaults, error) {
	configPath, err := getConfigPath()
	if err != nil {
		return Defaults{}, err
	}

	baseDir, err := getBaseDir()
	if err != nil {
		return Defaults{}, err
	}

	return Defaults{
		ConfigPath: configPath,
		BaseDir:    baseDir,
		LogDir:     filepath.Join(baseDir, "log"),
	}, nil
}

// getConfigPath returns the config file path, checking IMMICH_MIGRATE_CONFIG
// first, then falling back to the default ~/.config/immich-migrate.toml.
func getConfigPath() (string, error) {
	if path := os.Getenv("IMMICH_MIGRATE_CONFIG"); path != "" {
		return path, nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(homeDir, ".config", "immich-migrate.toml"), nil
}

// getBaseDir returns the base data directory, checking IMMICH_MIGRATE_HOME
// first, then falling back to the XDG default ~/.local/share/immich-migrate.
func getBaseDir() (string, error) {
	if path := os.Getenv("IMMICH_MIGRATE_HOME"); path != "" {
		return path, nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(homeDir, ".local", "share", "immich-migrate"), nil
}

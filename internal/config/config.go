package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config is the main configuration for immich-migrate.
type Config struct {
	ServerURL string `toml:"server_url"`
	// APIKey holds the credential in plaintext. Leave it empty and use
	// `immich-migrate config set-key` to store it encrypted instead.
	APIKey   string `toml:"api_key,omitempty"`
	DeviceID string `toml:"device_id"`
	BaseDir  string `toml:"base_dir"`
	LogDir   string `toml:"log_dir"`

	Upload     UploadConfig     `toml:"upload"`
	Scan       ScanConfig       `toml:"scan"`
	Database   DatabaseConfig   `toml:"database"`
	Encryption EncryptionConfig `toml:"encryption"`
}

// UploadConfig tunes the scheduler. Zero values fall back to the engine
// defaults (4 workers, 3 attempts, 1s backoff base).
type UploadConfig struct {
	Parallel         int `toml:"parallel,omitempty"`
	MaxAttempts      int `toml:"max_attempts,omitempty"`
	RetryBaseDelayMS int `toml:"retry_base_delay_ms,omitempty"`
}

// ScanConfig holds walker-related settings. Extra extensions extend the
// built-in media allow-lists (e.g. ".dng" as an image format).
type ScanConfig struct {
	Ignore         []string `toml:"ignore"`
	ExtraImageExts []string `toml:"extra_image_extensions,omitempty"`
	ExtraVideoExts []string `toml:"extra_video_extensions,omitempty"`
}

// DatabaseConfig configures the run-history store.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type DatabaseConfig struct {
	Type    string `toml:"type"`               // "sqlite" or "memory"
	DataDir string `toml:"data_dir,omitempty"` // only used for type=sqlite
}

// EncryptionConfig holds the age key pair and credential file locations.
type EncryptionConfig struct {
	Type           string `toml:"type"` // "age" (default) or "test"
	RecipientPath  string `toml:"recipient_path"`
	IdentityPath   string `toml:"identity_path"`
	CredentialPath string `toml:"credential_path"`
}

// NewConfig creates a Config with the provided values and default paths.
func NewConfig(deviceID, baseDir string) *Config {
	return &Config{
		DeviceID: deviceID,
		BaseDir:  baseDir,
		LogDir:   filepath.Join(baseDir, "log"),
		Database: DatabaseConfig{
			Type:    "sqlite",
			DataDir: filepath.Join(baseDir, "db"),
		},
		Encryption: EncryptionConfig{
			RecipientPath:  filepath.Join(baseDir, "keys", "immich-migrate.pub"),
			IdentityPath:   filepath.Join(baseDir, "keys", "immich-migrate.key"),
			CredentialPath: filepath.Join(baseDir, "credentials", "api_key.age"),
		},
	}
}

// Manager handles reading and writing configuration.
type Manager struct{}

// Read decodes a Config from the provided reader.
func (m *Manager) Read(r io.Reader) (*Config, error) {
	var cfg Config
	if _, err := toml.NewDecoder(r).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return &cfg, nil
}

// Write encodes a Config to the provided writer.
func (m *Manager) Write(w io.Writer, cfg *Config) error {
	if err := toml.NewEncoder(w).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

// ReadFromFile reads a Config from the specified file path.
func ReadFromFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	cfg, err := m.Read(f)
	if err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}
	return cfg, nil
}

// WriteToFile writes a Config to the specified file path, creating the
// parent directory if needed.
func WriteToFile(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	if err := m.Write(f, cfg); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}
	return nil
}

// Init initializes a new config file at the specified path with the provided Config.
func Init(path string, cfg *Config) error {
	// Check if config already exists
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := WriteToFile(path, cfg); err != nil {
		return fmt.Errorf("initializing config: %w", err)
	}
	return nil
}

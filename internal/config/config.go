package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/bundleup/bundleup/internal/utils"
	"github.com/google/uuid"
)

const (
	configDir  = ".config/bundleup"
	configFile = "config.yml"

	defaultDataDir = ".local/share/bundleup"
)

type Config struct {
	ServerURL     string `yaml:"server_url"`
	DeploymentKey string `yaml:"deployment_key"`
	Platform      string `yaml:"platform"`
	AppVersion    string `yaml:"app_version"`

	// DeviceID is generated on first load and persisted.
	DeviceID string `yaml:"device_id,omitempty"`

	DataDir        string `yaml:"data_dir,omitempty"`
	BaselineBundle string `yaml:"baseline_bundle,omitempty"`

	ConfirmWindowSeconds int  `yaml:"confirm_window_seconds,omitempty"`
	DisableTelemetry     bool `yaml:"disable_telemetry,omitempty"`
}

func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}
	return filepath.Join(home, configDir, configFile), nil
}

// Load reads the config at path (or the default location when path is
// empty), applies defaults, and persists a freshly generated device id
// the first time one is needed.
func Load(path string) (*Config, error) {
	if path == "" {
		var err error
		path, err = DefaultPath()
		if err != nil {
			return nil, err
		}
	}

	var cfg Config
	if ok, _ := utils.FileExists(path); ok {
		if err := utils.FileReader(path, utils.FileTypeYAML, &cfg); err != nil {
			return nil, err
		}
	}

	if cfg.DataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get user home directory: %w", err)
		}
		cfg.DataDir = filepath.Join(home, defaultDataDir)
	}

	if cfg.DeviceID == "" {
		cfg.DeviceID = uuid.NewString()
		if err := cfg.Save(path); err != nil {
			return nil, err
		}
	}

	return &cfg, nil
}

func (c *Config) Save(path string) error {
	if path == "" {
		var err error
		path, err = DefaultPath()
		if err != nil {
			return err
		}
	}
	return utils.CreateFile(path, c, utils.FileTypeYAML, 0o644)
}

func (c *Config) ConfirmWindow() time.Duration {
	if c.ConfirmWindowSeconds <= 0 {
		return 0
	}
	return time.Duration(c.ConfirmWindowSeconds) * time.Second
}

// Derived layout under DataDir. The pre- and post-boot state files are
// deliberately two separate documents: the launcher must be able to read
// its copy even when the application-side one is unreadable or stale.

func (c *Config) BundlesDir() string {
	return filepath.Join(c.DataDir, "bundles")
}

func (c *Config) AssetsDir() string {
	return filepath.Join(c.DataDir, "assets")
}

func (c *Config) PreBootStatePath() string {
	return filepath.Join(c.DataDir, "state", "guard.json")
}

func (c *Config) PostBootStatePath() string {
	return filepath.Join(c.DataDir, "state", "runtime.json")
}

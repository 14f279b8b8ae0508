package config

import (
	"errors"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	env "github.com/caarlos0/env/v11"
)

// Config represents ~/.chatline/config.toml. Environment variables
// override file values, so tokens can stay out of the file entirely.
type Config struct {
	APIBaseURL string `toml:"api_base_url" env:"CHATLINE_API_URL"`
	WSURL      string `toml:"ws_url" env:"CHATLINE_WS_URL"`
	Token      string `toml:"token" env:"CHATLINE_TOKEN"`
	UserID     string `toml:"user_id" env:"CHATLINE_USER_ID"`
	MirrorPath string `toml:"mirror_path" env:"CHATLINE_MIRROR_PATH"`
	LogPath    string `toml:"log_path" env:"CHATLINE_LOG_PATH"`
}

// DefaultPath returns ~/.chatline/config.toml.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".chatline", "config.toml"), nil
}

// Load reads config from the given path and applies environment
// overrides. A missing file is not an error; the env alone can carry a
// full config.
func Load(path string) (*Config, error) {
	var cfg Config
	if _, err := toml.DecodeFile(path, &cfg); err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	if err := env.Parse(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks that the fields every command needs are present.
func (c *Config) Validate() error {
	if c.APIBaseURL == "" {
		return errors.New("api_base_url is required")
	}
	if c.WSURL == "" {
		return errors.New("ws_url is required")
	}
	if c.Token == "" {
		return errors.New("token is required")
	}
	if c.UserID == "" {
		return errors.New("user_id is required")
	}
	return nil
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}

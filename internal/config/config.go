package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the shell's startup configuration.
// Values come from defaults, then the optional YAML file, then command-line flags.
type Config struct {
	AppID      string        `yaml:"app_id"`
	DataDir    string        `yaml:"data_dir"`
	ListenAddr string        `yaml:"listen_addr"`
	LogLevel   string        `yaml:"log_level"`
	Sidecar    SidecarConfig `yaml:"sidecar"`
}

type SidecarConfig struct {
	// Name is the sidecar's bundle name, resolved next to the host executable.
	Name string `yaml:"name"`
	// Path bypasses name resolution.
	Path        string        `yaml:"path"`
	Args        []string      `yaml:"args"`
	Env         []string      `yaml:"env"`
	CallTimeout time.Duration `yaml:"call_timeout"`
}

func Default() *Config {
	return &Config{
		AppID:      "com.sidecarshell.app",
		ListenAddr: "127.0.0.1:0",
		LogLevel:   "info",
		Sidecar: SidecarConfig{
			Name: "backend",
		},
	}
}

// Load reads path over the defaults. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.AppID == "" {
		return errors.New("app_id is required")
	}
	if c.Sidecar.Name == "" && c.Sidecar.Path == "" {
		return errors.New("one of sidecar.name or sidecar.path is required")
	}
	if c.Sidecar.CallTimeout < 0 {
		return errors.New("sidecar.call_timeout must not be negative")
	}
	return nil
}

package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// UserConfig represents ~/.syncloop/config.yaml.
type UserConfig struct {
	CurrentProfile string             `yaml:"current-profile"`
	Profiles       map[string]Profile `yaml:"profiles"`
}

// Profile represents a single named configuration profile.
type Profile struct {
	Host   string `yaml:"host,omitempty"`
	Token  string `yaml:"token,omitempty"`
	Email  string `yaml:"email,omitempty"`
	Output string `yaml:"output,omitempty"`
}

func newUserConfig() *UserConfig {
	return &UserConfig{
		CurrentProfile: "default",
		Profiles:       map[string]Profile{},
	}
}

// ActiveProfile returns the profile to use based on the override or
// current-profile. A missing current profile is empty; a missing override is
// an error.
func (c *UserConfig) ActiveProfile(override string) (Profile, error) {
	name := c.CurrentProfile
	if override != "" {
		name = override
	}
	if p, ok := c.Profiles[name]; ok {
		return p, nil
	}
	if override != "" {
		return Profile{}, fmt.Errorf("profile %q not found", override)
	}
	return Profile{}, nil
}

// ActiveProfileName returns the name ActiveProfile resolves to.
func (c *UserConfig) ActiveProfileName(override string) string {
	if override != "" {
		return override
	}
	if c.CurrentProfile == "" {
		return "default"
	}
	return c.CurrentProfile
}

// ConfigDir returns the path to ~/.syncloop/.
func ConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".syncloop")
}

// ConfigPath returns the path to ~/.syncloop/config.yaml.
func ConfigPath() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}

// LoadUserConfig reads ~/.syncloop/config.yaml.
func LoadUserConfig() (*UserConfig, error) {
	path := ConfigPath()
	data, err := os.ReadFile(path) //nolint:gosec // path is under the user's home
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg UserConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if cfg.Profiles == nil {
		cfg.Profiles = map[string]Profile{}
	}
	return &cfg, nil
}

// loadOrNewUserConfig returns the saved config or an empty one.
func loadOrNewUserConfig() *UserConfig {
	cfg, err := LoadUserConfig()
	if err != nil {
		return newUserConfig()
	}
	return cfg
}

// SaveUserConfig writes ~/.syncloop/config.yaml.
func SaveUserConfig(cfg *UserConfig) error {
	dir := ConfigDir()
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return os.WriteFile(ConfigPath(), data, 0o600)
}

// updateProfile applies fn to the named profile and saves the config.
func updateProfile(name string, fn func(*Profile)) error {
	cfg := loadOrNewUserConfig()
	if cfg.CurrentProfile == "" {
		cfg.CurrentProfile = "default"
	}
	if name == "" {
		name = cfg.CurrentProfile
	}
	p := cfg.Profiles[name]
	fn(&p)
	cfg.Profiles[name] = p
	return SaveUserConfig(cfg)
}

// Package config stores hookctl connection profiles in a YAML file.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Environment variables that override the resolved profile.
const (
	EnvServerURL  = "HOOKCTL_SERVER_URL"
	EnvAdminToken = "HOOKCTL_ADMIN_TOKEN"
	EnvCredential = "HOOKCTL_CREDENTIAL"
	EnvNATSURL    = "HOOKCTL_NATS_URL"
)

type Config struct {
	CurrentProfile string              `yaml:"current_profile"`
	Profiles       map[string]*Profile `yaml:"profiles"`
	Defaults       Profile             `yaml:"defaults"`
	path           string
}

// Profile points hookctl at one ingest deployment.
type Profile struct {
	ServerURL  string `yaml:"server_url,omitempty"`
	AdminToken string `yaml:"admin_token,omitempty"`
	// Credential is an instance API key used by "send".
	Credential string `yaml:"credential,omitempty"`
	NATSURL    string `yaml:"nats_url,omitempty"`
}

func Default() *Config {
	return &Config{
		CurrentProfile: "default",
		Profiles:       make(map[string]*Profile),
		Defaults: Profile{
			ServerURL: "http://localhost:8088",
			NATSURL:   "nats://localhost:4222",
		},
	}
}

func defaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".hookctl", "config.yaml"), nil
}

func Load(cfgFile string) (*Config, error) {
	if cfgFile == "" {
		p, err := defaultPath()
		if err != nil {
			return nil, err
		}
		cfgFile = p
	}

	cfg := Default()
	cfg.path = cfgFile

	data, err := os.ReadFile(cfgFile)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", cfgFile, err)
	}
	if cfg.Profiles == nil {
		cfg.Profiles = make(map[string]*Profile)
	}

	return cfg, nil
}

func (c *Config) Save() error {
	if c.path == "" {
		p, err := defaultPath()
		if err != nil {
			return err
		}
		c.path = p
	}

	if err := os.MkdirAll(filepath.Dir(c.path), 0700); err != nil {
		return err
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}

	return os.WriteFile(c.path, data, 0600)
}

// SaveProfile stores p under name, makes it current and writes the file.
func (c *Config) SaveProfile(name string, p Profile) error {
	if c.Profiles == nil {
		c.Profiles = make(map[string]*Profile)
	}
	c.Profiles[name] = &p
	c.CurrentProfile = name
	return c.Save()
}

func (c *Config) GetProfile(name string) (*Profile, error) {
	if name == "" {
		name = c.CurrentProfile
	}

	profile, ok := c.Profiles[name]
	if !ok {
		return nil, fmt.Errorf("profile '%s' not found", name)
	}

	return profile, nil
}

func (c *Config) RemoveProfile(name string) error {
	if _, ok := c.Profiles[name]; !ok {
		return fmt.Errorf("profile '%s' not found", name)
	}

	delete(c.Profiles, name)

	if c.CurrentProfile == name {
		c.CurrentProfile = ""
	}

	return c.Save()
}

// Resolve layers the defaults, the named profile and environment overrides.
// An unknown profile is an error unless it is "default" or empty.
func (c *Config) Resolve(name string) (Profile, error) {
	resolved := c.Defaults

	if name == "" {
		name = c.CurrentProfile
	}
	if p, ok := c.Profiles[name]; ok {
		overlay(&resolved, *p)
	} else if name != "" && name != "default" {
		return Profile{}, fmt.Errorf("profile '%s' not found", name)
	}

	overlay(&resolved, Profile{
		ServerURL:  os.Getenv(EnvServerURL),
		AdminToken: os.Getenv(EnvAdminToken),
		Credential: os.Getenv(EnvCredential),
		NATSURL:    os.Getenv(EnvNATSURL),
	})
	return resolved, nil
}

func overlay(dst *Profile, src Profile) {
	if src.ServerURL != "" {
		dst.ServerURL = src.ServerURL
	}
	if src.AdminToken != "" {
		dst.AdminToken = src.AdminToken
	}
	if src.Credential != "" {
		dst.Credential = src.Credential
	}
	if src.NATSURL != "" {
		dst.NATSURL = src.NATSURL
	}
}

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Profile is a per-deployment YAML overlay. Only set fields override the
// environment-derived config; pointers distinguish "absent" from zero.
type Profile struct {
	Name     string `yaml:"name"`
	LogLevel string `yaml:"log_level,omitempty"`
	Debug    *bool  `yaml:"debug,omitempty"`

	StoreBackend string `yaml:"store_backend,omitempty"`
	CacheBackend string `yaml:"cache_backend,omitempty"`

	RateLimitRequests *int   `yaml:"rate_limit_requests,omitempty"`
	RateLimitWindow   string `yaml:"rate_limit_window,omitempty"`

	SyncBatchSize    *int   `yaml:"sync_batch_size,omitempty"`
	SyncBatchTimeout string `yaml:"sync_batch_timeout,omitempty"`
}

// LoadProfile loads a deployment profile by name. It searches the profiles
// directory for profile_<name>.yaml.
func LoadProfile(profilesDir, name string) (*Profile, error) {
	name = strings.ToLower(name)
	path := filepath.Join(profilesDir, fmt.Sprintf("profile_%s.yaml", name))

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load profile %q: %w", name, err)
	}

	var profile Profile
	if err := yaml.Unmarshal(data, &profile); err != nil {
		return nil, fmt.Errorf("parse profile %q: %w", name, err)
	}
	if profile.Name == "" {
		profile.Name = name
	}
	return &profile, nil
}

// Apply overlays the profile on the config. Invalid duration strings are an
// error rather than silently ignored.
func (p *Profile) Apply(cfg *Config) error {
	if p.LogLevel != "" {
		cfg.LogLevel = p.LogLevel
	}
	if p.Debug != nil {
		cfg.Debug = *p.Debug
	}
	if p.StoreBackend != "" {
		cfg.StoreBackend = p.StoreBackend
	}
	if p.CacheBackend != "" {
		cfg.CacheBackend = p.CacheBackend
	}
	if p.RateLimitRequests != nil {
		cfg.RateLimitRequests = *p.RateLimitRequests
	}
	if p.RateLimitWindow != "" {
		d, err := time.ParseDuration(p.RateLimitWindow)
		if err != nil {
			return fmt.Errorf("profile %q: bad rate_limit_window: %w", p.Name, err)
		}
		cfg.RateLimitWindow = d
	}
	if p.SyncBatchSize != nil {
		cfg.SyncBatchSize = *p.SyncBatchSize
	}
	if p.SyncBatchTimeout != "" {
		d, err := time.ParseDuration(p.SyncBatchTimeout)
		if err != nil {
			return fmt.Errorf("profile %q: bad sync_batch_timeout: %w", p.Name, err)
		}
		cfg.SyncBatchTimeout = d
	}
	return nil
}

// Package config loads the timecat configuration from YAML.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration.
type Config struct {
	Recording RecordingConfig `yaml:"recording"`
	Replay    ReplayConfig    `yaml:"replay"`
	Browser   BrowserConfig   `yaml:"browser"`
	Server    ServerConfig    `yaml:"server"`
}

// RecordingConfig controls capture.
type RecordingConfig struct {
	Watchers      []string      `yaml:"watchers"` // mouse | dom | form | terminate; empty = all
	MouseThrottle time.Duration `yaml:"mouse_throttle"`
	FlushWindow   time.Duration `yaml:"flush_window"`
	Store         StoreConfig   `yaml:"store"`
	// Scripts are the player script URLs written into exported pages.
	Scripts []string `yaml:"scripts"`
}

// StoreConfig locates the record database.
type StoreConfig struct {
	Path string `yaml:"path"`
	// Synchronous overrides PRAGMA synchronous (OFF, NORMAL, FULL, EXTRA).
	Synchronous string `yaml:"synchronous"`
}

// ReplayConfig controls playback.
type ReplayConfig struct {
	Autoplay      *bool         `yaml:"autoplay"`
	Speed         float64       `yaml:"speed"`
	StrictRemoval bool          `yaml:"strict_removal"`
	TickInterval  time.Duration `yaml:"tick_interval"`
	// FollowInterval is how often a followed store is polled for new
	// records. Default: 200ms.
	FollowInterval time.Duration `yaml:"follow_interval"`
}

// AutoplayEnabled reports the autoplay setting, true when unset.
func (r ReplayConfig) AutoplayEnabled() bool {
	return r.Autoplay == nil || *r.Autoplay
}

// BrowserConfig controls Chrome.
type BrowserConfig struct {
	Remote           string   `yaml:"remote"`
	Headless         *bool    `yaml:"headless"`
	Stealth          bool     `yaml:"stealth"`
	ResourceBlocking []string `yaml:"resource_blocking"`
}

// HeadlessEnabled reports the headless setting, true when unset.
func (b BrowserConfig) HeadlessEnabled() bool {
	return b.Headless == nil || *b.Headless
}

// ServerConfig controls the HTTP control surface.
type ServerConfig struct {
	Addr    string `yaml:"addr"`
	MaxBody int64  `yaml:"max_body"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	var cfg Config
	cfg.applyDefaults()
	return &cfg
}

// LoadFile reads a YAML configuration file.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML configuration and applies defaults.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Recording.FlushWindow <= 0 {
		c.Recording.FlushWindow = 50 * time.Millisecond
	}
	if c.Recording.Store.Path == "" {
		c.Recording.Store.Path = "timecat.db"
	}
	if c.Replay.Speed <= 0 {
		c.Replay.Speed = 1
	}
	if c.Replay.TickInterval <= 0 {
		c.Replay.TickInterval = 16 * time.Millisecond
	}
	if c.Server.Addr == "" {
		c.Server.Addr = ":8420"
	}
	if c.Server.MaxBody <= 0 {
		c.Server.MaxBody = 32 << 20
	}
}

func (c *Config) validate() error {
	for _, w := range c.Recording.Watchers {
		switch w {
		case "mouse", "dom", "form", "terminate":
		default:
			return fmt.Errorf("config: unknown watcher %q", w)
		}
	}
	switch strings.ToUpper(c.Recording.Store.Synchronous) {
	case "", "OFF", "NORMAL", "FULL", "EXTRA":
	default:
		return fmt.Errorf("config: unknown store synchronous mode %q", c.Recording.Store.Synchronous)
	}
	if c.Recording.MouseThrottle < 0 {
		return fmt.Errorf("config: negative mouse_throttle")
	}
	return nil
}

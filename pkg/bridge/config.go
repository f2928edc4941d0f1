// Copyright 2024-2026 Aiku AI

package bridge

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// Config holds the full bridge configuration.
type Config struct {
	Source struct {
		// Token is the source bot token. Required.
		Token string `yaml:"token"`
	} `yaml:"source"`

	Destination struct {
		// Token is the destination bot token. Required.
		Token string `yaml:"token"`
		// ChatID is the forum-style chat all sub-channels live in. Required.
		ChatID int64 `yaml:"chat_id"`
	} `yaml:"destination"`

	Database struct {
		// Path is the on-disk location of the persistence store.
		Path string `yaml:"path"`
	} `yaml:"database"`

	Bridge struct {
		WelcomeMessage bool     `yaml:"welcome_message"`
		ProfilePicSync bool     `yaml:"profile_pic_sync"`
		PollIntervalMs int      `yaml:"poll_interval_ms"`
		MaxDedupWindow int      `yaml:"max_dedup_window"`
		BlockedTerms   []string `yaml:"blocked_terms"`
		MaxConversions int      `yaml:"max_conversions"`
		TempDir        string   `yaml:"temp_dir"`
	} `yaml:"bridge"`

	Logging struct {
		Level string `yaml:"level"`
	} `yaml:"logging"`
}

// DefaultConfig returns a config with every optional knob at its default.
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.Database.Path = "topicbridge.db"
	cfg.Bridge.WelcomeMessage = true
	cfg.Bridge.ProfilePicSync = true
	cfg.Bridge.PollIntervalMs = 2000
	cfg.Bridge.MaxDedupWindow = DefaultDedupWindow
	cfg.Bridge.MaxConversions = 2
	cfg.Logging.Level = "info"
	return cfg
}

// LoadConfig reads and validates the YAML config at path.
func LoadConfig(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.PostProcess(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// PostProcess validates required fields and normalizes defaults. Missing
// credentials fail fast: the bridge never leaves the uninitialized state
// without them.
func (c *Config) PostProcess() error {
	if c.Source.Token == "" {
		return fmt.Errorf("config: source.token is required")
	}
	if c.Destination.Token == "" {
		return fmt.Errorf("config: destination.token is required")
	}
	if c.Destination.ChatID == 0 {
		return fmt.Errorf("config: destination.chat_id is required")
	}
	if c.Bridge.PollIntervalMs <= 0 {
		c.Bridge.PollIntervalMs = 2000
	}
	if c.Bridge.MaxDedupWindow <= 0 {
		c.Bridge.MaxDedupWindow = DefaultDedupWindow
	}
	if c.Bridge.MaxConversions <= 0 {
		c.Bridge.MaxConversions = 2
	}
	return nil
}

// PollInterval returns the source poll interval as a duration.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Bridge.PollIntervalMs) * time.Millisecond
}

// WatchBlockedTerms reloads the blocked-term list into the filter whenever
// the config file changes. It blocks until ctx is done and is intended to
// run in its own goroutine. Reload errors keep the previous terms.
func WatchBlockedTerms(ctx context.Context, path string, filter *TermFilter, log zerolog.Logger) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create config watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(path); err != nil {
		return fmt.Errorf("failed to watch %s: %w", path, err)
	}

	log = log.With().Str("component", "config_watcher").Logger()
	log.Info().Str("path", path).Msg("Watching config for blocked-term changes")

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !event.Op.Has(fsnotify.Write) && !event.Op.Has(fsnotify.Create) {
				continue
			}
			cfg, err := LoadConfig(path)
			if err != nil {
				log.Warn().Err(err).Msg("Config reload failed, keeping previous terms")
				continue
			}
			filter.SetTerms(cfg.Bridge.BlockedTerms)
			log.Info().Int("terms", len(cfg.Bridge.BlockedTerms)).Msg("Reloaded blocked terms")
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Warn().Err(err).Msg("Config watcher error")
		}
	}
}

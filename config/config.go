package config

import (
	"fmt"
	"os"
	"scrollfeed/bluesky"
	"scrollfeed/feed"
	"time"

	"github.com/BurntSushi/toml"
)

// TomlBluesky configures the connection to the Bluesky AppView
type TomlBluesky struct {
	Host            string        `toml:"host"`
	UserAgent       string        `toml:"user_agent"`
	PageSize        int64         `toml:"page_size"`
	Timeout         time.Duration `toml:"timeout"`
	MaxRetries      uint64        `toml:"max_retries"`
	CursorCacheSize int           `toml:"cursor_cache_size"`
}

// TomlDefaults are the view settings used when a client sends none
type TomlDefaults struct {
	Filter         string `toml:"filter"`
	IncludeAdult   bool   `toml:"include_adult"`
	RemoveTracking bool   `toml:"remove_tracking"`
}

// TomlTracking lists query parameters stripped on top of the built-in ones
type TomlTracking struct {
	Params []string `toml:"params"`
}

// TomlLanguages turns on language detection for posts that declare none
type TomlLanguages struct {
	Detect []string `toml:"detect"`
}

// TomlConfig represents the top-level configuration
type TomlConfig struct {
	Bluesky   TomlBluesky   `toml:"bluesky"`
	Defaults  TomlDefaults  `toml:"defaults"`
	Tracking  TomlTracking  `toml:"tracking"`
	Languages TomlLanguages `toml:"languages"`
}

func Default() *TomlConfig {
	fetcher := bluesky.DefaultFetcherConfig()
	return &TomlConfig{
		Bluesky: TomlBluesky{
			Host:            bluesky.DefaultAppViewHost,
			UserAgent:       "scrollfeed",
			PageSize:        fetcher.PageSize,
			Timeout:         fetcher.Timeout,
			MaxRetries:      fetcher.MaxRetries,
			CursorCacheSize: fetcher.CursorCacheSize,
		},
		Defaults: TomlDefaults{
			Filter:         string(feed.FilterOverview),
			RemoveTracking: true,
		},
	}
}

// LoadConfig reads path on top of the defaults. An empty path returns the
// defaults.
func LoadConfig(path string) (*TomlConfig, error) {
	config := Default()
	if path == "" {
		return config, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	if err := toml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config file %s: %w", path, err)
	}

	return config, nil
}

func (c *TomlConfig) Validate() error {
	if c.Bluesky.Host == "" {
		return fmt.Errorf("bluesky.host must be set")
	}
	if c.Bluesky.PageSize < 1 || c.Bluesky.PageSize > 100 {
		return fmt.Errorf("bluesky.page_size must be between 1 and 100, got %d", c.Bluesky.PageSize)
	}
	if c.Bluesky.Timeout < 0 {
		return fmt.Errorf("bluesky.timeout must not be negative")
	}
	if _, err := feed.ParseFilterMode(c.Defaults.Filter); err != nil {
		return fmt.Errorf("defaults.filter: %w", err)
	}
	if len(c.Languages.Detect) == 1 {
		return fmt.Errorf("languages.detect needs at least two languages")
	}
	return nil
}

// DefaultMode is the parsed defaults.filter
func (c *TomlConfig) DefaultMode() feed.FilterMode {
	mode, err := feed.ParseFilterMode(c.Defaults.Filter)
	if err != nil {
		return feed.FilterOverview
	}
	return mode
}

func (c *TomlConfig) DefaultSide() feed.SideConfig {
	return feed.SideConfig{
		RemoveTrackingParams: c.Defaults.RemoveTracking,
		IncludeAdult:         c.Defaults.IncludeAdult,
	}
}

func (c *TomlConfig) FetcherConfig() bluesky.FetcherConfig {
	return bluesky.FetcherConfig{
		PageSize:        c.Bluesky.PageSize,
		Timeout:         c.Bluesky.Timeout,
		MaxRetries:      c.Bluesky.MaxRetries,
		CursorCacheSize: c.Bluesky.CursorCacheSize,
		TrackingParams:  c.Tracking.Params,
		DetectLanguages: c.Languages.Detect,
	}
}

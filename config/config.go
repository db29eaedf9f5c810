package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

const DefaultPath = "config/snapfeed.toml"

// TomlHive configures the Hive API nodes
type TomlHive struct {
	Nodes          []string `toml:"nodes"`
	TimeoutSeconds int      `toml:"timeout_seconds"`
}

// TomlFeed configures the snaps pager and its filters
type TomlFeed struct {
	ContainerAuthor    string `toml:"container_author"`
	CommunityTag       string `toml:"community_tag"`
	PageMinSize        int    `toml:"page_min_size"`
	ContainerPageLimit int    `toml:"container_page_limit"`
	LookAhead          int    `toml:"look_ahead"`
	MaxRounds          int    `toml:"max_rounds"`
	Concurrency        int    `toml:"concurrency"`
	RetryAttempts      int    `toml:"retry_attempts"`
	FollowingPageSize  int    `toml:"following_page_size"`
	FollowingMaxPages  int    `toml:"following_max_pages"`
}

type TomlServer struct {
	Hostname          string `toml:"hostname"`
	Port              int    `toml:"port"`
	SessionTTLMinutes int    `toml:"session_ttl_minutes"`
}

type TomlArchive struct {
	RetentionDays        int `toml:"retention_days"`
	IndexIntervalMinutes int `toml:"index_interval_minutes"`
}

// TomlConfig represents the top-level configuration
type TomlConfig struct {
	Hive    TomlHive    `toml:"hive"`
	Feed    TomlFeed    `toml:"feed"`
	Server  TomlServer  `toml:"server"`
	Archive TomlArchive `toml:"archive"`
}

// Default returns the configuration used when no file is present
func Default() *TomlConfig {
	return &TomlConfig{
		Hive: TomlHive{
			Nodes:          []string{"https://api.hive.blog", "https://api.deathwing.me"},
			TimeoutSeconds: 30,
		},
		Feed: TomlFeed{
			ContainerAuthor:    "peak.snaps",
			CommunityTag:       "hive-173115",
			PageMinSize:        10,
			ContainerPageLimit: 10,
			LookAhead:          1,
			MaxRounds:          8,
			Concurrency:        1,
			RetryAttempts:      3,
			FollowingPageSize:  100,
			FollowingMaxPages:  10,
		},
		Server: TomlServer{
			Hostname:          "localhost",
			Port:              3000,
			SessionTTLMinutes: 30,
		},
		Archive: TomlArchive{
			RetentionDays:        90,
			IndexIntervalMinutes: 5,
		},
	}
}

// LoadConfig reads the TOML file at path on top of the defaults. A missing
// file is not an error when allowMissing is set.
func LoadConfig(path string, allowMissing bool) (*TomlConfig, error) {
	config := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if allowMissing && errors.Is(err, fs.ErrNotExist) {
			return config, nil
		}
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
	if len(c.Hive.Nodes) == 0 {
		return errors.New("hive.nodes must not be empty")
	}
	if c.Feed.ContainerAuthor == "" {
		return errors.New("feed.container_author must not be empty")
	}
	if c.Feed.PageMinSize < 1 {
		return fmt.Errorf("feed.page_min_size must be at least 1, got %d", c.Feed.PageMinSize)
	}
	for name, value := range map[string]int{
		"feed.container_page_limit": c.Feed.ContainerPageLimit,
		"feed.look_ahead":           c.Feed.LookAhead,
		"feed.max_rounds":           c.Feed.MaxRounds,
		"feed.concurrency":          c.Feed.Concurrency,
		"feed.retry_attempts":       c.Feed.RetryAttempts,
		"feed.following_page_size":  c.Feed.FollowingPageSize,
		"feed.following_max_pages":  c.Feed.FollowingMaxPages,
	} {
		if value < 0 {
			return fmt.Errorf("%s must not be negative, got %d", name, value)
		}
	}
	if c.Feed.FollowingPageSize > 999 {
		return fmt.Errorf("feed.following_page_size must be at most 999, got %d", c.Feed.FollowingPageSize)
	}
	return nil
}

func (h TomlHive) Timeout() time.Duration {
	return time.Duration(h.TimeoutSeconds) * time.Second
}

func (s TomlServer) SessionTTL() time.Duration {
	return time.Duration(s.SessionTTLMinutes) * time.Minute
}

func (a TomlArchive) Retention() time.Duration {
	return time.Duration(a.RetentionDays) * 24 * time.Hour
}

func (a TomlArchive) IndexInterval() time.Duration {
	return time.Duration(a.IndexIntervalMinutes) * time.Minute
}

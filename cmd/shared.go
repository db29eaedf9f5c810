package cmd

import (
	"snapfeed/config"
	"snapfeed/feeds"
	"snapfeed/hive"

	"github.com/urfave/cli/v2"
)

// loadConfig reads the configuration file. The default path may be missing,
// an explicitly set one may not.
func loadConfig(ctx *cli.Context) (*config.TomlConfig, error) {
	path := ctx.String("config")
	return config.LoadConfig(path, path == config.DefaultPath)
}

func hiveClient(cfg *config.TomlConfig) *hive.Client {
	return hive.NewClient(cfg.Hive.Nodes, cfg.Hive.Timeout())
}

func pagerConfig(cfg *config.TomlConfig) feeds.PagerConfig {
	return feeds.PagerConfig{
		ContainerAuthor:    cfg.Feed.ContainerAuthor,
		ContainerPageLimit: cfg.Feed.ContainerPageLimit,
		LookAhead:          cfg.Feed.LookAhead,
		MaxRounds:          cfg.Feed.MaxRounds,
		Concurrency:        cfg.Feed.Concurrency,
		RetryAttempts:      cfg.Feed.RetryAttempts,
	}
}

func filterFactory(cfg *config.TomlConfig, client *hive.Client) feeds.FilterFactory {
	return feeds.FilterFactory{
		Tag:               cfg.Feed.CommunityTag,
		Following:         client,
		FollowingPageSize: cfg.Feed.FollowingPageSize,
		FollowingMaxPages: cfg.Feed.FollowingMaxPages,
	}
}

func databaseFlag() *cli.StringFlag {
	return &cli.StringFlag{
		Name:    "database",
		Aliases: []string{"d"},
		Value:   "feed.db",
		Usage:   "SQLite database file location",
		EnvVars: []string{"SNAPFEED_DATABASE"},
	}
}

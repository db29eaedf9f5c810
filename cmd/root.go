/*
Copyright © 2023 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
)

func RootApp() *cli.App {
	return &cli.App{
		Name:  "snapfeed",
		Usage: "Incremental feed of Hive snaps",
		Description: `Snapfeed pages through the short posts ("snaps") published as
		replies to the container posts of a Hive account, newest first.

		Snaps can be filtered by community tag, by the accounts a user
		follows, or passed through unfiltered. The feed is served over an
		HTTP API with per-client sessions, and can be archived to an SQLite
		database by the indexer.

		Flags can generally be set via environment variables, e.g.:

		--config => SNAPFEED_CONFIG=config/snapfeed.toml
		--port => SNAPFEED_PORT=3000
		`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Value:   "config/snapfeed.toml",
				Usage:   "Path to the TOML configuration file",
				EnvVars: []string{"SNAPFEED_CONFIG"},
			},
			&cli.StringFlag{
				Name:    "log-level",
				Value:   "info",
				Usage:   "Log level (trace, debug, info, warn, error)",
				EnvVars: []string{"SNAPFEED_LOG_LEVEL"},
			},
		},
		Before: func(ctx *cli.Context) error {
			level, err := log.ParseLevel(ctx.String("log-level"))
			if err != nil {
				return err
			}
			log.SetLevel(level)
			return nil
		},
		Commands: []*cli.Command{
			serveCmd(),
			fetchCmd(),
			historyCmd(),
			indexCmd(),
			migrateCmd(),
			rollbackCmd(),
			tidyCmd(),
		},
		Action: func(ctx *cli.Context) error {
			// Show help if no command is specified
			return ctx.App.Run([]string{"", "help"})
		},
	}
}

func Execute() {
	if err := RootApp().Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

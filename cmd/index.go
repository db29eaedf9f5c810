/*
Copyright © 2023 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"os"
	"os/signal"
	"syscall"

	"snapfeed/db"
	"snapfeed/feeds"
	"snapfeed/indexer"
	"snapfeed/query"

	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
)

func indexCmd() *cli.Command {
	return &cli.Command{
		Name:  "index",
		Usage: "Archive new snaps to the database",
		Description: `Polls the newest snaps that pass the filter and writes them to the
SQLite database. Runs until interrupted unless --once is given.

Snaps older than the configured retention are removed periodically.`,
		Flags: []cli.Flag{
			databaseFlag(),
			&cli.StringFlag{
				Name:    "filter",
				Aliases: []string{"f"},
				Value:   feeds.ModeCommunity,
				Usage:   "Feed filter: community or all",
			},
			&cli.BoolFlag{
				Name:  "once",
				Usage: "Poll once and exit",
			},
		},
		Action: func(ctx *cli.Context) error {
			cfg, err := loadConfig(ctx)
			if err != nil {
				return err
			}

			database := ctx.String("database")
			if err := db.Migrate(database); err != nil {
				return err
			}
			writer, err := db.NewWriter(database)
			if err != nil {
				return err
			}
			defer writer.Close()

			client := hiveClient(cfg)
			filters := filterFactory(cfg, client)
			mode := ctx.String("filter")
			// Validate the mode before polling
			if _, err := filters.New(mode, ""); err != nil {
				return err
			}

			ix := indexer.New(client, pagerConfig(cfg), func() query.FilterStrategy {
				filter, _ := filters.New(mode, "")
				return filter
			}, writer, nil, indexer.Config{
				Interval:  cfg.Archive.IndexInterval(),
				Retention: cfg.Archive.Retention(),
				BatchSize: cfg.Feed.PageMinSize,
			})

			if ctx.Bool("once") {
				archived, err := ix.Poll(ctx.Context)
				if err != nil {
					return err
				}
				log.WithFields(log.Fields{
					"database": database,
					"archived": archived,
				}).Info("Indexed snaps")
				return nil
			}

			runCtx, stop := signal.NotifyContext(ctx.Context, os.Interrupt, syscall.SIGTERM)
			defer stop()
			ix.Run(runCtx)
			return nil
		},
	}
}

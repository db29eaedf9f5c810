/*
Copyright © 2023 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"time"

	"snapfeed/db"

	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
)

func tidyCmd() *cli.Command {
	return &cli.Command{
		Name:  "tidy",
		Usage: "Tidy up the database",
		Description: `Tidy up the database by removing snaps that are old.

		Removes snaps older than the retention period, 90 days unless
		configured otherwise. Can be run as a cron job to keep the
		database size down.`,
		Flags: []cli.Flag{
			databaseFlag(),
			&cli.IntFlag{
				Name:    "retention-days",
				Usage:   "Remove snaps older than this many days",
				EnvVars: []string{"SNAPFEED_RETENTION_DAYS"},
			},
		},
		Action: func(ctx *cli.Context) error {
			cfg, err := loadConfig(ctx)
			if err != nil {
				return err
			}

			retention := cfg.Archive.Retention()
			if ctx.IsSet("retention-days") {
				retention = time.Duration(ctx.Int("retention-days")) * 24 * time.Hour
			}

			database := ctx.String("database")
			deleted, err := db.Tidy(ctx.Context, database, retention)
			if err != nil {
				return err
			}

			log.WithFields(log.Fields{
				"database": database,
				"deleted":  deleted,
			}).Info("Database tidied")
			return nil
		},
	}
}

/*
Copyright © 2023 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"snapfeed/db"

	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
)

func migrateCmd() *cli.Command {
	return &cli.Command{
		Name:        "migrate",
		Usage:       "Create or upgrade the snap archive",
		Description: `Applies pending migrations to the SQLite snap archive, creating the file if needed.`,
		Flags: []cli.Flag{
			databaseFlag(),
		},
		Action: func(ctx *cli.Context) error {
			database := ctx.String("database")
			log.WithField("database", database).Info("Database configured")
			return db.Migrate(database)
		},
	}
}

func rollbackCmd() *cli.Command {
	return &cli.Command{
		Name:        "rollback",
		Usage:       "Undo the last archive migration",
		Description: `Rolls the SQLite snap archive back by one migration step`,
		Flags: []cli.Flag{
			databaseFlag(),
		},
		Action: func(ctx *cli.Context) error {
			database := ctx.String("database")
			log.WithField("database", database).Info("Database configured")
			return db.Rollback(database)
		},
	}
}

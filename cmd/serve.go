/*
Copyright © 2023 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"snapfeed/db"
	"snapfeed/indexer"
	"snapfeed/query"
	"snapfeed/server"

	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
)

func serveCmd() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Serve the snaps feed",
		Description: `Starts the snapfeed HTTP server.

Serves the snaps feed with per-client sessions, wallet history and community
information over HTTP. With --index the newest community snaps are polled into
the SQLite database and streamed to dashboard clients.`,
		Flags: []cli.Flag{
			databaseFlag(),
			&cli.StringFlag{
				Name:    "hostname",
				Aliases: []string{"n"},
				Usage:   "The hostname where the server is running",
				EnvVars: []string{"SNAPFEED_HOSTNAME"},
			},
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Port to listen on, defaults to the configured port",
				EnvVars: []string{"SNAPFEED_PORT"},
			},
			&cli.BoolFlag{
				Name:    "index",
				Usage:   "Poll new snaps into the database while serving",
				EnvVars: []string{"SNAPFEED_INDEX"},
			},
			&cli.BoolFlag{
				Name:    "archive",
				Usage:   "Serve archive routes from the database",
				EnvVars: []string{"SNAPFEED_ARCHIVE"},
			},
		},
		Action: func(ctx *cli.Context) error {
			cfg, err := loadConfig(ctx)
			if err != nil {
				return err
			}

			hostname := cfg.Server.Hostname
			if ctx.IsSet("hostname") {
				hostname = ctx.String("hostname")
			}
			port := cfg.Server.Port
			if ctx.IsSet("port") {
				port = ctx.Int("port")
			}
			database := ctx.String("database")

			client := hiveClient(cfg)
			filters := filterFactory(cfg, client)
			broadcaster := server.NewBroadcaster()
			sessions := server.NewRegistry(cfg.Server.SessionTTL())

			serverConfig := &server.ServerConfig{
				Hostname:    hostname,
				Source:      client,
				Pager:       pagerConfig(cfg),
				Filters:     filters,
				PageMinSize: cfg.Feed.PageMinSize,
				Wallet:      client,
				Community:   client,
				Broadcaster: broadcaster,
				Sessions:    sessions,
			}

			var writer *db.Writer
			if ctx.Bool("index") || ctx.Bool("archive") {
				log.WithField("database", database).Info("Database configured")
				if err := db.Migrate(database); err != nil {
					return fmt.Errorf("migrate database: %w", err)
				}
				reader, err := db.NewReader(database)
				if err != nil {
					return err
				}
				defer reader.Close()
				serverConfig.Archive = reader
			}
			if ctx.Bool("index") {
				writer, err = db.NewWriter(database)
				if err != nil {
					return err
				}
				defer writer.Close()
			}

			runCtx, stop := signal.NotifyContext(ctx.Context, os.Interrupt, syscall.SIGTERM)
			defer stop()

			app := server.Server(serverConfig)
			var wg sync.WaitGroup

			wg.Add(1)
			go func() {
				defer wg.Done()
				sessions.Run(runCtx, time.Minute)
			}()

			if writer != nil {
				ix := indexer.New(client, pagerConfig(cfg), func() query.FilterStrategy {
					filter, _ := filters.New("", "")
					return filter
				}, writer, broadcaster, indexer.Config{
					Interval:  cfg.Archive.IndexInterval(),
					Retention: cfg.Archive.Retention(),
					BatchSize: cfg.Feed.PageMinSize,
				})

				wg.Add(1)
				go func() {
					defer wg.Done()
					ix.Run(runCtx)
				}()
			}

			go func() {
				<-runCtx.Done()
				log.Info("Gracefully shutting down...")
				broadcaster.Shutdown()
				if err := app.ShutdownWithTimeout(60 * time.Second); err != nil {
					log.Error("Error shutting down server: ", err)
				}
			}()

			log.WithFields(log.Fields{
				"hostname": hostname,
				"port":     port,
			}).Info("Starting server")

			if err := app.Listen(fmt.Sprintf(":%d", port)); err != nil {
				stop()
				wg.Wait()
				return err
			}

			stop()
			wg.Wait()
			log.Info("Done!")
			return nil
		},
	}
}

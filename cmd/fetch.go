/*
Copyright © 2023 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"encoding/json"
	"errors"
	"io"
	"os"
	"strings"

	"snapfeed/feeds"
	"snapfeed/models"

	"github.com/cqroot/prompt"
	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
)

func fetchCmd() *cli.Command {
	return &cli.Command{
		Name:  "fetch",
		Usage: "Print snaps to the command line",
		Description: `Pages through the snaps feed and prints every snap that passes
the filter to the command line, newest container first.

Returns each snap as a JSON object on a single line. Use a tool like jq to
process the output.

Prints all other log messages to stderr.`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "filter",
				Aliases: []string{"f"},
				Value:   feeds.ModeCommunity,
				Usage:   "Feed filter: community, all or following",
			},
			&cli.StringFlag{
				Name:    "account",
				Aliases: []string{"a"},
				Usage:   "Viewing account for the following filter",
				EnvVars: []string{"SNAPFEED_ACCOUNT"},
			},
			&cli.IntFlag{
				Name:    "batches",
				Aliases: []string{"b"},
				Value:   1,
				Usage:   "Number of batches to fetch",
			},
			&cli.IntFlag{
				Name:    "limit",
				Aliases: []string{"l"},
				Usage:   "Minimum snaps per batch, defaults to the configured page size",
			},
		},
		Action: func(ctx *cli.Context) error {
			// Keep stdout for snaps
			log.SetOutput(os.Stderr)

			cfg, err := loadConfig(ctx)
			if err != nil {
				return err
			}

			mode := ctx.String("filter")
			account := ctx.String("account")
			if mode == feeds.ModeFollowing && account == "" {
				account, err = prompt.New().Ask("Account:").Input("")
				if err != nil {
					return err
				}
				account = strings.TrimPrefix(strings.TrimSpace(account), "@")
				if account == "" {
					return errors.New("the following filter needs an account")
				}
			}

			limit := cfg.Feed.PageMinSize
			if ctx.IsSet("limit") {
				limit = ctx.Int("limit")
			}

			client := hiveClient(cfg)
			filter, err := filterFactory(cfg, client).New(mode, account)
			if err != nil {
				return err
			}

			pager := feeds.NewPager(client, pagerConfig(cfg), filter)
			list := feeds.NewList()

			for batchNo := 0; batchNo < ctx.Int("batches") && pager.HasMore(); batchNo++ {
				batch, err := pager.FetchNextBatch(ctx.Context, limit)
				if err != nil {
					return err
				}
				printed, err := writeBatch(os.Stdout, list, batch)
				if err != nil {
					return err
				}
				log.WithFields(log.Fields{
					"batch":  batchNo + 1,
					"snaps":  printed,
					"cursor": pager.Cursor().ContainerID,
				}).Info("Fetched batch")
			}

			return nil
		},
	}
}

// writeBatch prints the snaps of batch that list does not hold yet, one JSON
// object per line
func writeBatch(w io.Writer, list *feeds.List, batch []models.Item) (int, error) {
	encoder := json.NewEncoder(w)
	added := list.Merge(batch)
	for _, item := range added {
		if err := encoder.Encode(item); err != nil {
			return 0, err
		}
	}
	return len(added), nil
}

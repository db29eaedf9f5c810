/*
Copyright © 2023 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"encoding/json"
	"errors"
	"os"

	"snapfeed/wallet"

	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
)

func historyCmd() *cli.Command {
	return &cli.Command{
		Name:  "history",
		Usage: "Print an account's wallet transactions",
		Description: `Pages backwards through an account's operation history and prints
transfers, power ups and downs, savings transfers and reward claims as JSON
objects, one per line, newest first.

Prints all other log messages to stderr.`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "account",
				Aliases: []string{"a"},
				Usage:   "Account to show the history of",
				EnvVars: []string{"SNAPFEED_ACCOUNT"},
			},
			&cli.IntFlag{
				Name:  "pages",
				Value: 1,
				Usage: "Number of history pages to fetch",
			},
			&cli.IntFlag{
				Name:  "limit",
				Value: wallet.DefaultPageLimit,
				Usage: "Operations per page",
			},
			&cli.BoolFlag{Name: "incoming", Value: true, Usage: "Include incoming transfers"},
			&cli.BoolFlag{Name: "outgoing", Value: true, Usage: "Include outgoing transfers"},
			&cli.BoolFlag{Name: "rewards", Value: true, Usage: "Include reward claims"},
			&cli.BoolFlag{Name: "power", Value: true, Usage: "Include power ups and downs"},
			&cli.BoolFlag{Name: "savings", Value: true, Usage: "Include savings transfers"},
		},
		Action: func(ctx *cli.Context) error {
			log.SetOutput(os.Stderr)

			account := ctx.String("account")
			if account == "" {
				return errors.New("please specify an account with --account")
			}

			cfg, err := loadConfig(ctx)
			if err != nil {
				return err
			}

			filter := wallet.Filter{
				Incoming:    ctx.Bool("incoming"),
				Outgoing:    ctx.Bool("outgoing"),
				Rewards:     ctx.Bool("rewards"),
				PowerUpDown: ctx.Bool("power"),
				Savings:     ctx.Bool("savings"),
			}

			history := wallet.NewHistory(hiveClient(cfg), account, ctx.Int("limit"))
			encoder := json.NewEncoder(os.Stdout)

			for pageNo := 0; pageNo < ctx.Int("pages") && history.HasMore(); pageNo++ {
				page, err := history.Next(ctx.Context)
				if err != nil {
					return err
				}
				for _, tx := range filter.Apply(account, page.Transactions) {
					if err := encoder.Encode(tx); err != nil {
						return err
					}
				}
				log.WithFields(log.Fields{
					"page":        pageNo + 1,
					"oldestIndex": page.OldestIndex,
				}).Info("Fetched history page")
			}

			return nil
		},
	}
}

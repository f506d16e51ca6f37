package main

import (
	"fmt"
	"log"
	"os"

	"github.com/urfave/cli/v2"
)

var (
	// Version information (set via ldflags during build)
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func main() {
	app := &cli.App{
		Name:  "paygate",
		Usage: "Solana payment gateway CLI",
		Description: `A command-line tool for managing and debugging the paygate service.

Use this CLI to inspect the pending-transaction ledger and drive the HTTP API.`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		Commands: []*cli.Command{
			{
				Name:  "db",
				Usage: "Ledger inspection commands",
				Subcommands: []*cli.Command{
					listTransactionsCommand(),
					getTransactionCommand(),
					expireStaleCommand(),
				},
			},
			clientCommands(),
		},
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "database-url",
				Usage:   "Database connection URL",
				EnvVars: []string{"DATABASE_URL"},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

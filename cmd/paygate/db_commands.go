package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/urfave/cli/v2"

	"github.com/milton-labs/paygate/service/db"
)

// getStore connects to the database using the global --database-url flag.
func getStore(c *cli.Context) (*db.Store, func(), error) {
	databaseURL := c.String("database-url")
	if databaseURL == "" {
		return nil, nil, fmt.Errorf("database URL is required (set DATABASE_URL or --database-url)")
	}

	pool, err := pgxpool.New(context.Background(), databaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	return db.NewStore(pool), pool.Close, nil
}

func outputJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func listTransactionsCommand() *cli.Command {
	return &cli.Command{
		Name:    "list-transactions",
		Usage:   "List a sender's pending transactions, newest first",
		Aliases: []string{"ls"},
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "sender",
				Aliases:  []string{"s"},
				Usage:    "Sender wallet address",
				Required: true,
			},
			&cli.IntFlag{
				Name:  "limit",
				Value: 20,
				Usage: "Maximum rows to return",
			},
			&cli.IntFlag{
				Name:  "offset",
				Value: 0,
				Usage: "Rows to skip",
			},
			&cli.BoolFlag{
				Name:    "json",
				Aliases: []string{"j"},
				Usage:   "Output as JSON",
			},
		},
		Action: func(c *cli.Context) error {
			store, closer, err := getStore(c)
			if err != nil {
				return err
			}
			defer closer()

			txns, err := store.ListPendingTransactionsBySender(context.Background(), db.ListPendingTransactionsParams{
				Sender: c.String("sender"),
				Limit:  int32(c.Int("limit")),
				Offset: int32(c.Int("offset")),
			})
			if err != nil {
				return fmt.Errorf("failed to list transactions: %w", err)
			}

			if c.Bool("json") {
				return outputJSON(txns)
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tTOKEN\tAMOUNT\tSTATUS\tCREATED\tEXPIRES")
			for _, txn := range txns {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
					txn.ID,
					txn.TokenID,
					txn.HumanAmount,
					txn.Status,
					txn.CreatedAt.Format(time.RFC3339),
					txn.ExpiresAt.Format(time.RFC3339),
				)
			}
			w.Flush()

			fmt.Fprintf(os.Stderr, "\nTotal: %d transactions\n", len(txns))
			return nil
		},
	}
}

func getTransactionCommand() *cli.Command {
	return &cli.Command{
		Name:      "get-transaction",
		Usage:     "Get one ledger record",
		Aliases:   []string{"get"},
		ArgsUsage: "<transaction-id>",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: transaction id")
			}

			store, closer, err := getStore(c)
			if err != nil {
				return err
			}
			defer closer()

			txn, err := store.GetPendingTransaction(context.Background(), c.Args().Get(0))
			if err != nil {
				return fmt.Errorf("failed to get transaction: %w", err)
			}

			return outputJSON(txn)
		},
	}
}

func expireStaleCommand() *cli.Command {
	return &cli.Command{
		Name:  "expire-stale",
		Usage: "Mark all overdue pending transactions as expired",
		Action: func(c *cli.Context) error {
			store, closer, err := getStore(c)
			if err != nil {
				return err
			}
			defer closer()

			n, err := store.ExpireStale(context.Background(), time.Now().UTC())
			if err != nil {
				return fmt.Errorf("failed to expire stale transactions: %w", err)
			}

			fmt.Printf("expired %d transactions\n", n)
			return nil
		},
	}
}

package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/milton-labs/paygate/client"
	"github.com/milton-labs/paygate/service/gateway"
)

// serverFlags are shared by all HTTP client commands.
func serverFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "server",
			Aliases: []string{"s"},
			Value:   "http://localhost:8080",
			Usage:   "HTTP server URL",
			EnvVars: []string{"PAYGATE_SERVER_URL"},
		},
		&cli.StringFlag{
			Name:    "auth-token",
			Usage:   "Bearer token for the API",
			EnvVars: []string{"PAYGATE_AUTH_TOKEN"},
		},
		&cli.StringFlag{
			Name:    "api-secret",
			Usage:   "HMAC secret for signing mutating requests",
			EnvVars: []string{"API_SECRET"},
		},
	}
}

func getClient(c *cli.Context) *client.Client {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	return client.NewClient(c.String("server"), c.String("auth-token"), c.String("api-secret"), nil, logger)
}

func clientCommands() *cli.Command {
	return &cli.Command{
		Name:  "client",
		Usage: "HTTP client commands for the paygate API",
		Subcommands: []*cli.Command{
			transferCommand(),
			purchaseCommand(),
			submitCommand(),
			statusCommand(),
			tokenInfoCommand(),
			registerWebhookCommand(),
		},
	}
}

func transferCommand() *cli.Command {
	return &cli.Command{
		Name:  "transfer",
		Usage: "Build an unsigned transfer transaction",
		Flags: append(serverFlags(),
			&cli.StringFlag{Name: "sender", Required: true, Usage: "Sender wallet address"},
			&cli.StringFlag{Name: "recipient", Required: true, Usage: "Recipient wallet address"},
			&cli.StringFlag{Name: "token", Value: "SOL", Usage: "Token id or mint address"},
			&cli.StringFlag{Name: "amount", Required: true, Usage: "Display-unit amount, e.g. '1.5'"},
			&cli.StringFlag{Name: "memo", Usage: "Optional memo"},
		),
		Action: func(c *cli.Context) error {
			result, err := getClient(c).BuildTransfer(c.Context, gateway.TransferRequest{
				Sender:    c.String("sender"),
				Recipient: c.String("recipient"),
				TokenID:   c.String("token"),
				Amount:    c.String("amount"),
				Memo:      c.String("memo"),
			})
			if err != nil {
				return err
			}
			return outputJSON(result)
		},
	}
}

func purchaseCommand() *cli.Command {
	return &cli.Command{
		Name:  "purchase",
		Usage: "Build an unsigned MILTON purchase transaction",
		Flags: append(serverFlags(),
			&cli.StringFlag{Name: "buyer", Required: true, Usage: "Buyer wallet address"},
			&cli.StringFlag{Name: "payment-token", Value: "SOL", Usage: "Payment token (SOL or USDC)"},
			&cli.StringFlag{Name: "payment-amount", Required: true, Usage: "Payment amount in display units"},
			&cli.StringFlag{Name: "milton-amount", Required: true, Usage: "MILTON amount in display units"},
			&cli.Int64Flag{Name: "slippage-bps", Value: 100, Usage: "Allowed price deviation in basis points"},
			&cli.StringFlag{Name: "memo", Usage: "Optional memo"},
		),
		Action: func(c *cli.Context) error {
			result, err := getClient(c).BuildPurchase(c.Context, gateway.PurchaseRequest{
				Buyer:          c.String("buyer"),
				PaymentTokenID: c.String("payment-token"),
				PaymentAmount:  c.String("payment-amount"),
				MiltonAmount:   c.String("milton-amount"),
				SlippageBps:    c.Int64("slippage-bps"),
				Memo:           c.String("memo"),
			})
			if err != nil {
				return err
			}
			return outputJSON(result)
		},
	}
}

func submitCommand() *cli.Command {
	return &cli.Command{
		Name:      "submit",
		Usage:     "Submit a signed transaction",
		ArgsUsage: "<transaction-id> <signed-tx-base64>",
		Flags:     serverFlags(),
		Action: func(c *cli.Context) error {
			if c.NArg() != 2 {
				return fmt.Errorf("requires two arguments: transaction id and signed transaction")
			}
			result, err := getClient(c).Submit(c.Context, c.Args().Get(0), c.Args().Get(1))
			if err != nil {
				return err
			}
			return outputJSON(result)
		},
	}
}

func statusCommand() *cli.Command {
	return &cli.Command{
		Name:      "status",
		Usage:     "Report the status of a pending transaction",
		ArgsUsage: "<transaction-id>",
		Flags:     serverFlags(),
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires one argument: transaction id")
			}
			result, err := getClient(c).Status(c.Context, c.Args().Get(0))
			if err != nil {
				return err
			}
			return outputJSON(result)
		},
	}
}

func tokenInfoCommand() *cli.Command {
	return &cli.Command{
		Name:      "token-info",
		Usage:     "Fetch token metadata and the treasury balance",
		ArgsUsage: "<token-id>",
		Flags:     serverFlags(),
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires one argument: token id")
			}
			info, err := getClient(c).TokenInfo(c.Context, c.Args().Get(0))
			if err != nil {
				return err
			}
			return outputJSON(info)
		},
	}
}

func registerWebhookCommand() *cli.Command {
	return &cli.Command{
		Name:      "register-webhook",
		Usage:     "Register a settlement callback URL for a wallet",
		ArgsUsage: "<wallet> <url>",
		Flags:     serverFlags(),
		Action: func(c *cli.Context) error {
			if c.NArg() != 2 {
				return fmt.Errorf("requires two arguments: wallet and callback URL")
			}
			if err := getClient(c).RegisterWebhook(c.Context, c.Args().Get(0), c.Args().Get(1)); err != nil {
				return err
			}
			fmt.Println("webhook registered")
			return nil
		},
	}
}

package main

import (
	"context"
	"fmt"

	"github.com/brojonat/walletlink/service/sdk"
	"github.com/brojonat/walletlink/service/wallet"
	"github.com/urfave/cli/v2"
)

func connectCommand() *cli.Command {
	return &cli.Command{
		Name:      "connect",
		Usage:     "Start a wallet connect on a chain",
		ArgsUsage: "CHAIN WALLET_NAME",
		Description: `Ask a chain's bridge to connect the named wallet. A wallet host must be
attached to the chain's command stream for the request to go through.

Example:
  walletctl chain connect ethereum MetaMask`,
		Action: func(c *cli.Context) error {
			if c.NArg() != 2 {
				return fmt.Errorf("chain and wallet name are required")
			}
			chain, err := wallet.ParseChain(c.Args().Get(0))
			if err != nil {
				return err
			}
			walletName := c.Args().Get(1)

			ctx, cancel := context.WithTimeout(c.Context, c.Duration("timeout"))
			defer cancel()

			state, err := newClient(c).Connect(ctx, chain, walletName)
			if err != nil {
				return fmt.Errorf("failed to connect: %w", err)
			}
			if c.Bool("json") {
				return printJSON(c.App.Writer, state)
			}
			fmt.Fprintf(c.App.Writer, "✓ Connect requested\n")
			fmt.Fprintf(c.App.Writer, "  Chain:  %s\n", chain)
			fmt.Fprintf(c.App.Writer, "  Wallet: %s\n", walletName)
			return nil
		},
	}
}

func pushCommand() *cli.Command {
	return &cli.Command{
		Name:      "push",
		Usage:     "Report a chain's SDK status as a wallet host",
		ArgsUsage: "CHAIN",
		Description: `Push a native SDK status for a chain, as a wallet host would.

Examples:
  walletctl chain push solana --connected --account <pubkey> --wallet-name Phantom
  walletctl chain push solana                       # disconnected
  walletctl chain push solana --error "User rejected the request."`,
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "connected",
				Usage: "SDK reports a connected account",
			},
			&cli.StringFlag{
				Name:  "account",
				Usage: "Account address as the SDK reports it",
			},
			&cli.StringFlag{
				Name:  "wallet-name",
				Usage: "Wallet name as the SDK reports it",
			},
			&cli.BoolFlag{
				Name:  "pending",
				Usage: "SDK is still connecting or restoring",
			},
			&cli.StringFlag{
				Name:  "error",
				Usage: "Error the SDK reported",
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("chain is required")
			}
			chain, err := wallet.ParseChain(c.Args().Get(0))
			if err != nil {
				return err
			}
			status := sdk.Status{
				Connected:  c.Bool("connected"),
				Pending:    c.Bool("pending"),
				Account:    c.String("account"),
				WalletName: c.String("wallet-name"),
				Error:      c.String("error"),
			}

			ctx, cancel := context.WithTimeout(c.Context, c.Duration("timeout"))
			defer cancel()

			if err := newClient(c).PushStatus(ctx, chain, status); err != nil {
				return fmt.Errorf("failed to push status: %w", err)
			}
			if !c.Bool("json") {
				fmt.Fprintf(c.App.Writer, "✓ Status pushed for %s\n", chain)
			}
			return nil
		},
	}
}

func discoverCommand() *cli.Command {
	return &cli.Command{
		Name:      "discover",
		Usage:     "List supported Bitcoin wallets among the given globals",
		ArgsUsage: "GLOBAL [GLOBAL...]",
		Description: `Filter a list of defined browser globals down to supported Bitcoin wallets.

Example:
  walletctl bitcoin discover window.unisat XverseProviders.BitcoinProvider`,
		Action: func(c *cli.Context) error {
			if c.NArg() == 0 {
				return fmt.Errorf("at least one global is required")
			}

			ctx, cancel := context.WithTimeout(c.Context, c.Duration("timeout"))
			defer cancel()

			wallets, err := newClient(c).DiscoverBitcoin(ctx, c.Args().Slice())
			if err != nil {
				return fmt.Errorf("failed to discover wallets: %w", err)
			}
			if c.Bool("json") {
				return printJSON(c.App.Writer, wallets)
			}
			if len(wallets) == 0 {
				fmt.Fprintf(c.App.Writer, "No supported Bitcoin wallets found\n")
				return nil
			}
			for _, w := range wallets {
				fmt.Fprintf(c.App.Writer, "%-10s %-10s %s\n", w.ID, w.Name, w.Global)
			}
			return nil
		},
	}
}

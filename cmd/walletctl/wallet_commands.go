package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/brojonat/walletlink/client"
	"github.com/brojonat/walletlink/service/wallet"
	"github.com/urfave/cli/v2"
)

func stateCommand() *cli.Command {
	return &cli.Command{
		Name:    "state",
		Aliases: []string{"get"},
		Usage:   "Show the connected wallet and session state",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "jq",
				Usage: "jq filter applied to the state before printing (e.g. '.wallet.address')",
			},
		},
		Action: func(c *cli.Context) error {
			ctx, cancel := context.WithTimeout(c.Context, c.Duration("timeout"))
			defer cancel()

			state, err := newClient(c).GetState(ctx)
			if err != nil {
				return fmt.Errorf("failed to get wallet state: %w", err)
			}

			if filter := c.String("jq"); filter != "" {
				return printFiltered(c.App.Writer, filter, state)
			}
			if c.Bool("json") {
				return printJSON(c.App.Writer, state)
			}
			printState(c.App.Writer, *state)
			return nil
		},
	}
}

func disconnectCommand() *cli.Command {
	return &cli.Command{
		Name:  "disconnect",
		Usage: "Disconnect whichever chain owns the connection",
		Action: func(c *cli.Context) error {
			ctx, cancel := context.WithTimeout(c.Context, c.Duration("timeout"))
			defer cancel()

			state, err := newClient(c).RequestDisconnect(ctx)
			if err != nil {
				return fmt.Errorf("failed to request disconnect: %w", err)
			}
			if c.Bool("json") {
				return printJSON(c.App.Writer, state)
			}
			fmt.Fprintf(c.App.Writer, "✓ Disconnect requested\n")
			return nil
		},
	}
}

func clearErrorCommand() *cli.Command {
	return &cli.Command{
		Name:  "clear-error",
		Usage: "Dismiss the current connection error",
		Action: func(c *cli.Context) error {
			ctx, cancel := context.WithTimeout(c.Context, c.Duration("timeout"))
			defer cancel()

			if err := newClient(c).ClearError(ctx); err != nil {
				return fmt.Errorf("failed to clear error: %w", err)
			}
			if !c.Bool("json") {
				fmt.Fprintf(c.App.Writer, "✓ Error cleared\n")
			}
			return nil
		},
	}
}

func watchCommand() *cli.Command {
	return &cli.Command{
		Name:  "watch",
		Usage: "Stream wallet state changes",
		Description: `Stream wallet state changes from the server via SSE.

With --until, the command exits as soon as a state satisfies every filter.

Example:
  walletctl wallet watch --until '.wallet.chain == "solana"' --wait 2m`,
		Flags: []cli.Flag{
			&cli.StringSliceFlag{
				Name:  "until",
				Usage: "jq filter that ends the watch once truthy (repeatable, all must match)",
			},
			&cli.DurationFlag{
				Name:  "wait",
				Usage: "Give up after this long (0 waits forever)",
			},
		},
		Action: func(c *cli.Context) error {
			codes, err := compileFilters(c.StringSlice("until"))
			if err != nil {
				return err
			}

			ctx, cancel := context.WithCancel(c.Context)
			defer cancel()
			if wait := c.Duration("wait"); wait > 0 {
				ctx, cancel = context.WithTimeout(ctx, wait)
				defer cancel()
			}

			sigChan := make(chan os.Signal, 1)
			signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
			defer signal.Stop(sigChan)
			go func() {
				select {
				case <-sigChan:
					cancel()
				case <-ctx.Done():
				}
			}()

			matched := false
			err = newClient(c).StreamState(ctx, func(state wallet.State) error {
				if c.Bool("json") {
					if err := printJSONLine(c.App.Writer, state); err != nil {
						return err
					}
				} else {
					printState(c.App.Writer, state)
				}
				if len(codes) == 0 {
					return nil
				}
				v, err := jqValue(state)
				if err != nil {
					return err
				}
				ok, err := matchAll(codes, v)
				if err != nil {
					return fmt.Errorf("jq filter error: %w", err)
				}
				if ok {
					matched = true
					return client.ErrStopStream
				}
				return nil
			})
			if err != nil {
				return fmt.Errorf("watch failed: %w", err)
			}
			if len(codes) > 0 && !matched {
				return fmt.Errorf("no matching state before the watch ended")
			}
			return nil
		},
	}
}

func printState(w io.Writer, state wallet.State) {
	fmt.Fprintln(w, "━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	f := state.Wallet
	if f.Connected {
		fmt.Fprintf(w, "Wallet:      connected\n")
		fmt.Fprintf(w, "Chain:       %s\n", f.Chain)
		fmt.Fprintf(w, "Kind:        %s\n", f.WalletKind)
		fmt.Fprintf(w, "Address:     %s\n", f.Address)
		if f.ConnectedAt != nil {
			fmt.Fprintf(w, "Since:       %s\n", f.ConnectedAt.Format(time.RFC3339))
		}
	} else {
		fmt.Fprintf(w, "Wallet:      not connected\n")
	}
	if state.Session.IsConnecting {
		fmt.Fprintf(w, "Connecting:  yes\n")
	}
	if state.Session.DisconnectRequested {
		fmt.Fprintf(w, "Disconnect:  requested\n")
	}
	if state.Session.Error != "" {
		fmt.Fprintf(w, "Error:       %s\n", state.Session.Error)
	}
}

func printJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal output: %w", err)
	}
	fmt.Fprintln(w, string(data))
	return nil
}

func printJSONLine(w io.Writer, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal output: %w", err)
	}
	fmt.Fprintln(w, string(data))
	return nil
}

// printFiltered prints every jq result, strings raw and everything else as JSON.
func printFiltered(w io.Writer, filter string, v any) error {
	codes, err := compileFilters([]string{filter})
	if err != nil {
		return err
	}
	in, err := jqValue(v)
	if err != nil {
		return err
	}
	results, err := runFilter(codes[0], in)
	if err != nil {
		return fmt.Errorf("jq filter error: %w", err)
	}
	for _, res := range results {
		if s, ok := res.(string); ok {
			fmt.Fprintln(w, s)
			continue
		}
		if err := printJSONLine(w, res); err != nil {
			return err
		}
	}
	return nil
}

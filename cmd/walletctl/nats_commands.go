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

	natspkg "github.com/brojonat/walletlink/service/nats"
	"github.com/brojonat/walletlink/service/wallet"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/urfave/cli/v2"
)

// subscribeCommand streams wallet fact events from JetStream.
func subscribeCommand() *cli.Command {
	return &cli.Command{
		Name:      "subscribe",
		Usage:     "Subscribe to wallet fact events",
		ArgsUsage: "[chain|none]",
		Description: `Subscribe to wallet fact events published to NATS JetStream.

Events are published to the subject wallets.{chain}, with wallets.none for
disconnects. Without an argument every subject is streamed.

Example:
  walletctl nats subscribe solana --json`,
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "all",
				Usage: "Replay retained events instead of only new ones",
			},
		},
		Action: func(c *cli.Context) error {
			subject, err := factSubject(c.Args().First())
			if err != nil {
				return err
			}

			ctx, cancel := context.WithCancel(c.Context)
			defer cancel()

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

			nc, err := natspkg.Connect(c.String("nats-url"), "walletctl")
			if err != nil {
				return err
			}
			defer nc.Close()

			js, err := jetstream.New(nc)
			if err != nil {
				return fmt.Errorf("failed to create JetStream context: %w", err)
			}

			deliver := jetstream.DeliverNewPolicy
			if c.Bool("all") {
				deliver = jetstream.DeliverAllPolicy
			}
			cons, err := js.OrderedConsumer(ctx, natspkg.StreamName, jetstream.OrderedConsumerConfig{
				FilterSubjects: []string{subject},
				DeliverPolicy:  deliver,
			})
			if err != nil {
				return fmt.Errorf("failed to create consumer: %w", err)
			}

			jsonOutput := c.Bool("json")
			if !jsonOutput {
				fmt.Fprintf(os.Stderr, "📡 Subscribed to %s (Ctrl+C to stop)\n\n", subject)
			}

			cc, err := cons.Consume(func(msg jetstream.Msg) {
				var event natspkg.FactEvent
				if err := json.Unmarshal(msg.Data(), &event); err != nil {
					fmt.Fprintf(os.Stderr, "Error parsing event: %v\n", err)
					return
				}
				if jsonOutput {
					printJSONLine(c.App.Writer, event)
					return
				}
				printFactEvent(c.App.Writer, event)
			})
			if err != nil {
				return fmt.Errorf("failed to start consuming: %w", err)
			}
			defer cc.Stop()

			<-ctx.Done()
			return nil
		},
	}
}

// factSubject maps a chain argument to its JetStream subject.
func factSubject(arg string) (string, error) {
	switch arg {
	case "":
		return natspkg.StreamSubjects, nil
	case "none":
		return natspkg.SubjectFor(wallet.ChainNone), nil
	}
	chain, err := wallet.ParseChain(arg)
	if err != nil {
		return "", err
	}
	return natspkg.SubjectFor(chain), nil
}

func printFactEvent(w io.Writer, e natspkg.FactEvent) {
	fmt.Fprintln(w, "━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	if e.Connected {
		fmt.Fprintf(w, "Connected:  %s (%s)\n", e.Chain, e.WalletKind)
		fmt.Fprintf(w, "Address:    %s\n", e.Address)
	} else {
		fmt.Fprintf(w, "Disconnected\n")
	}
	if e.PreviousChain != "" {
		fmt.Fprintf(w, "Previous:   %s\n", e.PreviousChain)
	}
	fmt.Fprintf(w, "Published:  %s\n", e.PublishedAt.Format(time.RFC3339))
}

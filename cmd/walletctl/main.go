package main

import (
	"fmt"
	"log"
	"log/slog"
	"os"
	"time"

	"github.com/brojonat/walletlink/client"
	"github.com/urfave/cli/v2"
)

var (
	// Version information (set via ldflags during build)
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "walletctl",
		Usage: "Multi-chain wallet connection service CLI",
		Description: `A command-line tool for inspecting and driving a walletd server.

Use this CLI to read the connected wallet, request disconnects, act as a
wallet host for a chain, and follow wallet fact events over NATS.`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		Commands: []*cli.Command{
			{
				Name:  "wallet",
				Usage: "Connected wallet commands",
				Subcommands: []*cli.Command{
					stateCommand(),
					disconnectCommand(),
					clearErrorCommand(),
					watchCommand(),
				},
			},
			{
				Name:  "chain",
				Usage: "Per-chain bridge commands",
				Subcommands: []*cli.Command{
					connectCommand(),
					pushCommand(),
				},
			},
			{
				Name:  "bitcoin",
				Usage: "Bitcoin wallet discovery commands",
				Subcommands: []*cli.Command{
					discoverCommand(),
				},
			},
			{
				Name:  "nats",
				Usage: "NATS wallet fact streaming commands",
				Subcommands: []*cli.Command{
					subscribeCommand(),
				},
			},
			{
				Name:  "server",
				Usage: "Server utility commands",
				Subcommands: []*cli.Command{
					healthCommand(),
					versionCommand(),
				},
			},
		},
		// Global flags available to all commands
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "server-url",
				Aliases: []string{"s"},
				Usage:   "walletd HTTP server URL",
				EnvVars: []string{"WALLETLINK_SERVER_URL"},
				Value:   "http://localhost:8080",
			},
			&cli.StringFlag{
				Name:    "nats-url",
				Usage:   "NATS server URL",
				EnvVars: []string{"NATS_URL"},
				Value:   "nats://localhost:4222",
			},
			&cli.DurationFlag{
				Name:  "timeout",
				Usage: "Request timeout",
				Value: 10 * time.Second,
			},
			&cli.BoolFlag{
				Name:    "json",
				Aliases: []string{"j"},
				Usage:   "Output in JSON format",
			},
		},
	}
}

// newClient builds an API client from the global flags.
func newClient(c *cli.Context) *client.Client {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelError,
	}))
	return client.NewClient(c.String("server-url"), nil, logger)
}

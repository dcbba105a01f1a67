// Command spotify-reverse-sync keeps a destination playlist in sync with a
// source playlist, newest additions first.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v3"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newCommand().Run(ctx, os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		stop()
		os.Exit(1)
	}
}

func newCommand() *cli.Command {
	return &cli.Command{
		Name:  "spotify-reverse-sync",
		Usage: "Mirror a Spotify playlist into another one, newest tracks first",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "env-file",
				Usage: "Path to a .env file loaded before reading the environment",
				Value: ".env",
			},
		},
		Action: runDaemon,
		Commands: []*cli.Command{
			{
				Name:   "run",
				Usage:  "Run the sync on its schedule until interrupted (default)",
				Action: runDaemon,
			},
			{
				Name:   "once",
				Usage:  "Run a single sync cycle and exit",
				Action: runOnce,
			},
		},
	}
}

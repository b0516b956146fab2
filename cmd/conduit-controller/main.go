// Package main provides the conduit controller: plan definitions, instance
// history and dispatch to nodes.
package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/dukex/conduit/pkg/cmd"
	"github.com/dukex/conduit/pkg/log"
	cli "github.com/urfave/cli/v3"
)

const defaultPort = 8080

type runFunc func(ctx context.Context, logger *slog.Logger, config Config) error

func newCommand(action runFunc) *cli.Command {
	flags := []cli.Flag{
		&cli.IntFlag{
			Name:    "port",
			Aliases: []string{"p"},
			Usage:   "Port to serve the controller on",
			Value:   defaultPort,
			Sources: cli.EnvVars("PORT"),
		},
		&cli.StringFlag{
			Name:     "database-url",
			Usage:    "Persistence URL (memory://, file://path, postgres://..., redis://...)",
			Required: true,
			Sources:  cli.EnvVars("DATABASE_URL"),
		},
		&cli.StringFlag{
			Name:    "node-url",
			Usage:   "Root URL of the node that runs plans when a start request names none",
			Sources: cli.EnvVars("NODE_URL"),
		},
		&cli.StringFlag{
			Name:    "public-url",
			Usage:   "URL nodes use to reach this controller; defaults to the URL of each start request",
			Sources: cli.EnvVars("PUBLIC_URL"),
		},
		&cli.BoolFlag{
			Name:    "queue-plan-updates",
			Usage:   "Write plan status updates through the status update pipeline",
			Value:   false,
			Sources: cli.EnvVars("QUEUE_PLAN_UPDATES"),
		},
		&cli.BoolFlag{
			Name:    "queue-action-updates",
			Usage:   "Write action status updates through the status update pipeline",
			Value:   true,
			Sources: cli.EnvVars("QUEUE_ACTION_UPDATES"),
		},
		&cli.StringFlag{
			Name:    "redrive-schedule",
			Usage:   "Cron schedule to redrive dead-lettered status updates; empty (default) leaves them parked",
			Sources: cli.EnvVars("REDRIVE_SCHEDULE"),
		},
		&cli.BoolFlag{
			Name:    "sign-plan",
			Usage:   "Sign plans before sending them to nodes",
			Sources: cli.EnvVars("SIGN_PLAN"),
		},
		&cli.StringFlag{
			Name:    "signing-key",
			Usage:   "Path to the base64 ed25519 private key used with --sign-plan",
			Sources: cli.EnvVars("SIGNING_KEY_PATH"),
		},
	}

	return &cli.Command{
		Name:                  "conduit-controller",
		Usage:                 "Serve plan definitions and instance history and dispatch plans to nodes",
		EnableShellCompletion: true,
		Flags:                 append(flags, cmd.CommonFlags()...),
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"))

			config, err := configFromCommand(command)
			if err != nil {
				return err
			}

			return action(ctx, log.WithModule("conduit-controller"), config)
		},
	}
}

func main() {
	err := newCommand(run).Run(context.Background(), os.Args)
	if err != nil {
		log.WithModule("conduit-controller").Error("Controller stopped", "error", err)
		os.Exit(1)
	}
}

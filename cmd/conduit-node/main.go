// Package main provides the conduit node: it runs the plans controllers send it.
package main

import (
	"context"
	"log/slog"
	"os"
	"runtime"
	"time"

	"github.com/dukex/conduit/pkg/client"
	"github.com/dukex/conduit/pkg/cmd"
	"github.com/dukex/conduit/pkg/log"
	cli "github.com/urfave/cli/v3"
)

const defaultPort = 8000

type runFunc func(ctx context.Context, logger *slog.Logger, config Config) error

func newCommand(action runFunc) *cli.Command {
	flags := []cli.Flag{
		&cli.IntFlag{
			Name:    "port",
			Aliases: []string{"p"},
			Usage:   "Port to serve the node on",
			Value:   defaultPort,
			Sources: cli.EnvVars("PORT"),
		},
		&cli.StringFlag{
			Name:    "node-id",
			Aliases: []string{"id"},
			Usage:   "Custom node ID (auto-generated if not provided)",
			Sources: cli.EnvVars("NODE_ID"),
		},
		&cli.IntFlag{
			Name:    "max-concurrency",
			Usage:   "Plans run at the same time; the rest wait in the queue",
			Value:   runtime.NumCPU(),
			Sources: cli.EnvVars("MAX_CONCURRENCY"),
		},
		&cli.StringFlag{
			Name:    "controller-url",
			Usage:   "Controller URL for status reports; defaults to the Referer of each start request",
			Sources: cli.EnvVars("CONTROLLER_URL"),
		},
		&cli.StringFlag{
			Name:    "audit-root",
			Usage:   "Directory for per-instance audit logs and result plans; empty disables them",
			Sources: cli.EnvVars("AUDIT_ROOT"),
		},
		&cli.BoolFlag{
			Name:    "serialize-result-plan",
			Usage:   "Write the final plan of each instance under --audit-root",
			Sources: cli.EnvVars("SERIALIZE_RESULT_PLAN"),
		},
		&cli.BoolFlag{
			Name:    "verify-plan-signature",
			Usage:   "Reject plans without a valid signature",
			Sources: cli.EnvVars("VERIFY_PLAN_SIGNATURE"),
		},
		&cli.StringFlag{
			Name:    "verification-key",
			Usage:   "Path to the base64 ed25519 public key used with --verify-plan-signature",
			Sources: cli.EnvVars("VERIFICATION_KEY_PATH"),
		},
		&cli.BoolFlag{
			Name:    "impersonate",
			Usage:   "Run plans as the identity that started them",
			Sources: cli.EnvVars("IMPERSONATE"),
		},
		&cli.IntFlag{
			Name:    "report-attempts",
			Usage:   "Attempts per status report sent to the controller",
			Value:   client.DefaultReportAttempts,
			Sources: cli.EnvVars("REPORT_ATTEMPTS"),
		},
		&cli.DurationFlag{
			Name:    "report-delay",
			Usage:   "Delay between status report attempts",
			Value:   client.DefaultReportDelay,
			Sources: cli.EnvVars("REPORT_DELAY"),
		},
		&cli.DurationFlag{
			Name:    "drain-timeout",
			Usage:   "How long shutdown waits for admitted plans",
			Value:   5 * time.Minute,
			Sources: cli.EnvVars("DRAIN_TIMEOUT"),
		},
		&cli.StringFlag{
			Name:    "plugins-path",
			Usage:   "Path to the directory containing action plugins",
			Value:   "./plugins",
			Sources: cli.EnvVars("PLUGINS_PATH"),
		},
	}

	return &cli.Command{
		Name:                  "conduit-node",
		Usage:                 "Run plans sent by conduit controllers",
		EnableShellCompletion: true,
		Flags:                 append(flags, cmd.CommonFlags()...),
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"))

			config, err := configFromCommand(command)
			if err != nil {
				return err
			}

			logger := log.WithModule("conduit-node").With("node_id", config.Node.NodeID)

			return action(ctx, logger, config)
		},
	}
}

func main() {
	err := newCommand(run).Run(context.Background(), os.Args)
	if err != nil {
		log.WithModule("conduit-node").Error("Node stopped", "error", err)
		os.Exit(1)
	}
}

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/dukex/conduit/pkg/channels/kafka"
	"github.com/dukex/conduit/pkg/cmd"
	"github.com/dukex/conduit/pkg/eventbus"
	"github.com/dukex/conduit/pkg/execution"
	"github.com/dukex/conduit/pkg/node"
	"github.com/dukex/conduit/pkg/runner"
	"github.com/dukex/conduit/pkg/signature"
	"github.com/dukex/conduit/pkg/web"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"
	cli "github.com/urfave/cli/v3"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 30 * time.Second

// Config is everything the node command reads from flags.
type Config struct {
	Port            int `validate:"min=1,max=65535"`
	Node            node.Config
	VerificationKey string `validate:"required_if=VerifySignature true"`
	VerifySignature bool
	DrainTimeout    time.Duration `validate:"min=0"`
	PluginsPath     string
	EventBus        string `validate:"omitempty,oneof=kafka gochannel"`
	Kafka           kafka.Config
	OTEL            bool
	Credentials     web.Credentials
}

func configFromCommand(command *cli.Command) (Config, error) {
	creds, err := cmd.Credentials(command)
	if err != nil {
		return Config{}, err
	}

	nodeID := command.String("node-id")
	if nodeID == "" {
		nodeID = "node-" + uuid.New().String()[:8]
	}

	config := Config{
		Port: command.Int("port"),
		Node: node.Config{
			NodeID:              nodeID,
			MaxConcurrency:      command.Int("max-concurrency"),
			AuditRoot:           command.String("audit-root"),
			SerializeResultPlan: command.Bool("serialize-result-plan"),
			ControllerURL:       command.String("controller-url"),
			VerifySignature:     command.Bool("verify-plan-signature"),
			Impersonate:         command.Bool("impersonate"),
			ReportAttempts:      command.Int("report-attempts"),
			ReportDelay:         command.Duration("report-delay"),
		},
		VerificationKey: command.String("verification-key"),
		VerifySignature: command.Bool("verify-plan-signature"),
		DrainTimeout:    command.Duration("drain-timeout"),
		PluginsPath:     command.String("plugins-path"),
		EventBus:        command.String("event-bus"),
		Kafka:           cmd.KafkaConfig(command, "conduit-node"),
		OTEL:            command.Bool("otel"),
		Credentials:     creds,
	}

	err = validator.New().Struct(config)
	if err != nil {
		return Config{}, fmt.Errorf("invalid node configuration: %w", err)
	}

	return config, nil
}

func run(ctx context.Context, logger *slog.Logger, config Config) error {
	ctx, stop := cmd.SignalContext(ctx)
	defer stop()

	logger.InfoContext(ctx, "Initializing conduit node",
		"port", config.Port, "max_concurrency", config.Node.MaxConcurrency)

	flush, err := cmd.SetupTracing(ctx, logger, config.OTEL, "conduit-node")
	if err != nil {
		return err
	}
	defer flush()

	reg, err := cmd.NewRegistry(logger, config.PluginsPath)
	if err != nil {
		return err
	}

	opts := []node.Option{node.WithLogger(logger)}

	if config.VerifySignature {
		opts = append(opts, node.WithKeyLocator(signature.FileKeyLocator{PublicKeyPath: config.VerificationKey}))
	}

	if config.EventBus != "" {
		bus, err := cmd.NewEventBus(config.EventBus, logger, config.Kafka)
		if err != nil {
			return err
		}

		defer func() {
			err := bus.Close()
			if err != nil {
				logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
			}
		}()

		reporter := eventbus.NewReporter(bus, config.Node.NodeID, logger)
		opts = append(opts, node.WithReporterFactory(func(node.StartRequest) (execution.Reporter, func(context.Context) error, error) {
			return reporter, func(context.Context) error { return nil }, nil
		}))
	}

	// Plans outlive the signal context so a shutdown can drain them.
	service, err := node.NewService(context.WithoutCancel(ctx), config.Node, runner.New(reg, logger), opts...)
	if err != nil {
		return err
	}

	app := (&web.App{
		Name:        "conduit-node",
		Node:        web.NewNodeHandlers(service),
		Credentials: config.Credentials,
	}).App()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return app.Listen(":"+strconv.Itoa(config.Port), fiber.ListenConfig{DisableStartupMessage: true})
	})

	g.Go(func() error {
		select {
		case <-gctx.Done():
		case <-service.ShutdownRequested():
			logger.Info("Shutdown requested by drainstop")
		}

		drainCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), config.DrainTimeout)
		defer cancel()

		err := service.Close(drainCtx)
		if err != nil {
			logger.Warn("Plans still running at shutdown", "error", err)
		}

		shutdownCtx, cancelShutdown := context.WithTimeout(context.WithoutCancel(gctx), shutdownTimeout)
		defer cancelShutdown()

		return app.ShutdownWithContext(shutdownCtx)
	})

	err = g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	logger.Info("Node stopped")

	return nil
}

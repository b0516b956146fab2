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
	"github.com/dukex/conduit/pkg/controller"
	"github.com/dukex/conduit/pkg/signature"
	"github.com/dukex/conduit/pkg/statusupdate"
	"github.com/dukex/conduit/pkg/web"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	cli "github.com/urfave/cli/v3"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 30 * time.Second

// Config is everything the controller command reads from flags.
type Config struct {
	Port            int    `validate:"min=1,max=65535"`
	DatabaseURL     string `validate:"required"`
	Controller      controller.Config
	RedriveSchedule string
	SigningKey      string `validate:"required_if=SignPlan true"`
	SignPlan        bool
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

	config := Config{
		Port:        command.Int("port"),
		DatabaseURL: command.String("database-url"),
		Controller: controller.Config{
			NodeURL:            command.String("node-url"),
			PublicURL:          command.String("public-url"),
			SignPlan:           command.Bool("sign-plan"),
			QueuePlanUpdates:   command.Bool("queue-plan-updates"),
			QueueActionUpdates: command.Bool("queue-action-updates"),
		},
		RedriveSchedule: command.String("redrive-schedule"),
		SigningKey:      command.String("signing-key"),
		SignPlan:        command.Bool("sign-plan"),
		EventBus:        command.String("event-bus"),
		Kafka:           cmd.KafkaConfig(command, "conduit-controller"),
		OTEL:            command.Bool("otel"),
		Credentials:     creds,
	}

	err = validator.New().Struct(config)
	if err != nil {
		return Config{}, fmt.Errorf("invalid controller configuration: %w", err)
	}

	return config, nil
}

func run(ctx context.Context, logger *slog.Logger, config Config) error {
	ctx, stop := cmd.SignalContext(ctx)
	defer stop()

	logger.InfoContext(ctx, "Initializing conduit controller", "port", config.Port)

	flush, err := cmd.SetupTracing(ctx, logger, config.OTEL, "conduit-controller")
	if err != nil {
		return err
	}
	defer flush()

	gateway, err := cmd.NewPersistence(ctx, logger, config.DatabaseURL)
	if err != nil {
		return err
	}

	defer func() {
		err := gateway.Close(context.WithoutCancel(ctx))
		if err != nil {
			logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
		}
	}()

	pipeline := statusupdate.New(gateway, statusupdate.WithLogger(logger))
	pipeline.Start(ctx)
	defer pipeline.Stop()

	opts := []controller.Option{controller.WithLogger(logger)}
	if config.SignPlan {
		opts = append(opts, controller.WithKeyLocator(signature.FileKeyLocator{PrivateKeyPath: config.SigningKey}))
	}

	service, err := controller.NewService(config.Controller, gateway, pipeline, opts...)
	if err != nil {
		return err
	}

	if config.RedriveSchedule != "" {
		redrive, err := service.ScheduleRedrive(config.RedriveSchedule)
		if err != nil {
			return err
		}

		defer redrive.Stop()
	}

	app := (&web.App{
		Name:        "conduit-controller",
		Controller:  web.NewControllerHandlers(service),
		Credentials: config.Credentials,
	}).App()

	g, gctx := errgroup.WithContext(ctx)

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

		err = service.SubscribeEvents(gctx, bus)
		if err != nil {
			return err
		}
	}

	g.Go(func() error {
		return app.Listen(":"+strconv.Itoa(config.Port), fiber.ListenConfig{DisableStartupMessage: true})
	})

	g.Go(func() error {
		<-gctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), shutdownTimeout)
		defer cancel()

		return app.ShutdownWithContext(shutdownCtx)
	})

	err = g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	logger.Info("Controller stopped")

	return nil
}

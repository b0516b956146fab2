package cmd

import (
	"context"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/dukex/conduit/pkg/channels/kafka"
	"github.com/dukex/conduit/pkg/otelhelper"
	"github.com/dukex/conduit/pkg/web"
	cli "github.com/urfave/cli/v3"
)

// CommonFlags are shared by the node and controller commands.
func CommonFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "log-level",
			Usage:   "Log level (debug, info, warn, error)",
			Value:   "info",
			Sources: cli.EnvVars("LOG_LEVEL"),
		},
		&cli.BoolFlag{
			Name:    "otel",
			Usage:   "Export traces over OTLP/HTTP",
			Sources: cli.EnvVars("OTEL_ENABLED"),
		},
		&cli.StringSliceFlag{
			Name:    "basic-auth",
			Usage:   "Accepted user:password pairs; when unset any caller is admitted",
			Sources: cli.EnvVars("BASIC_AUTH"),
		},
		&cli.StringFlag{
			Name:    "event-bus",
			Usage:   "Status event bus (kafka, gochannel); empty reports over HTTP only",
			Sources: cli.EnvVars("EVENT_BUS_TYPE"),
		},
		&cli.StringFlag{
			Name:    "kafka-brokers",
			Usage:   "Comma separated Kafka brokers",
			Value:   "localhost:9092",
			Sources: cli.EnvVars("KAFKA_BROKERS"),
		},
	}
}

// KafkaConfig reads the Kafka flags for serviceName.
func KafkaConfig(command *cli.Command, serviceName string) kafka.Config {
	return kafka.Config{
		Brokers:     kafka.ParseBrokers(command.String("kafka-brokers")),
		ServiceName: serviceName,
		OTELEnabled: command.Bool("otel"),
	}
}

// Credentials reads the basic-auth flag.
func Credentials(command *cli.Command) (web.Credentials, error) {
	return web.ParseCredentials(command.StringSlice("basic-auth"))
}

// SetupTracing installs the OTLP tracer provider when enabled. The returned
// function flushes it and is safe to call when tracing is off.
func SetupTracing(ctx context.Context, logger *slog.Logger, enabled bool, serviceName string) (func(), error) {
	if !enabled {
		return func() {}, nil
	}

	shutdown, err := otelhelper.NewTracerProvider(ctx, serviceName)
	if err != nil {
		return nil, err
	}

	return func() {
		err := shutdown(context.WithoutCancel(ctx))
		if err != nil {
			logger.Error("Failed to shutdown tracer provider", "error", err)
		}
	}, nil
}

// SignalContext is cancelled on SIGINT or SIGTERM.
func SignalContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
}

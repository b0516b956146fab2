package main

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func parse(t *testing.T, args ...string) (Config, error) {
	t.Helper()

	var got Config

	err := newCommand(func(_ context.Context, _ *slog.Logger, config Config) error {
		got = config

		return nil
	}).Run(t.Context(), append([]string{"conduit-node"}, args...))

	return got, err
}

func TestCommand_Defaults(t *testing.T) {
	config, err := parse(t)
	require.NoError(t, err)

	assert.Equal(t, defaultPort, config.Port)
	assert.Contains(t, config.Node.NodeID, "node-")
	assert.Positive(t, config.Node.MaxConcurrency)
	assert.Equal(t, 5*time.Minute, config.DrainTimeout)
	assert.Empty(t, config.EventBus)
	assert.Empty(t, config.Credentials)
}

func TestCommand_Flags(t *testing.T) {
	config, err := parse(t,
		"--node-id", "node-a",
		"--max-concurrency", "3",
		"--controller-url", "http://controller:8080/controller",
		"--basic-auth", "ops:secret",
		"--event-bus", "kafka",
		"--kafka-brokers", "k1:9092, k2:9092",
		"--report-delay", "2s",
	)
	require.NoError(t, err)

	assert.Equal(t, "node-a", config.Node.NodeID)
	assert.Equal(t, 3, config.Node.MaxConcurrency)
	assert.Equal(t, "http://controller:8080/controller", config.Node.ControllerURL)
	assert.Equal(t, "secret", config.Credentials["ops"])
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, config.Kafka.Brokers)
	assert.Equal(t, "conduit-node", config.Kafka.ServiceName)
	assert.Equal(t, 2*time.Second, config.Node.ReportDelay)
}

func TestCommand_Invalid(t *testing.T) {
	_, err := parse(t, "--verify-plan-signature")
	require.Error(t, err)

	_, err = parse(t, "--event-bus", "rabbitmq")
	require.Error(t, err)

	_, err = parse(t, "--max-concurrency", "0")
	require.Error(t, err)

	_, err = parse(t, "--basic-auth", "nopassword")
	require.Error(t, err)
}

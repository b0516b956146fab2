package cmd

import (
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/dukex/conduit/pkg/channels/kafka"
	"github.com/dukex/conduit/pkg/persistence/file"
	"github.com/dukex/conduit/pkg/persistence/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePersistenceProvider(t *testing.T) {
	tests := map[string]string{
		"memory://":                       "memory",
		"postgres://user@db/conduit":      "postgres",
		"postgresql://user@db/conduit":    "postgresql",
		"redis://localhost:6379/0":        "redis",
		"file:///var/lib/conduit":         "file",
		"./data":                          "file",
		"mongodb://localhost:27017/plans": "file",
	}

	for url, expected := range tests {
		assert.Equal(t, expected, parsePersistenceProvider(url), url)
	}
}

func TestNewPersistence(t *testing.T) {
	gateway, err := NewPersistence(t.Context(), slog.Default(), "memory://")
	require.NoError(t, err)
	assert.IsType(t, &memory.Persistence{}, gateway)

	gateway, err = NewPersistence(t.Context(), slog.Default(), "file://"+filepath.Join(t.TempDir(), "store"))
	require.NoError(t, err)
	assert.IsType(t, &file.Persistence{}, gateway)

	_, err = NewPersistence(t.Context(), slog.Default(), "file://")
	require.Error(t, err)
}

func TestNewEventBus(t *testing.T) {
	bus, err := NewEventBus("gochannel", slog.Default(), kafka.Config{})
	require.NoError(t, err)
	require.NoError(t, bus.Close())

	_, err = NewEventBus("kafka", slog.Default(), kafka.Config{ServiceName: "conduit"})
	require.ErrorIs(t, err, kafka.ErrNoBrokers)

	_, err = NewEventBus("rabbitmq", slog.Default(), kafka.Config{})
	require.Error(t, err)
}

func TestNewRegistry(t *testing.T) {
	reg, err := NewRegistry(slog.Default(), filepath.Join(t.TempDir(), "missing"))
	require.NoError(t, err)
	assert.Equal(t, []string{"http", "log", "wait"}, reg.GetAvailableActions())
}

package registry

import (
	"context"
	"log/slog"
	"testing"

	"github.com/dukex/conduit/pkg/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockAction struct {
	config map[string]any
}

func (m *mockAction) Execute(context.Context, protocol.ActionContext, *slog.Logger) (any, error) {
	return "success", nil
}

type mockFactory struct{}

func (mockFactory) ID() string { return "mock" }

func (mockFactory) Create(config map[string]any) (protocol.Action, error) {
	return &mockAction{config: config}, nil
}

func (mockFactory) Schema() map[string]any {
	return map[string]any{
		"type":     "object",
		"required": []string{"target"},
		"properties": map[string]any{
			"target": map[string]any{"type": "string"},
		},
	}
}

func TestRegistry_RegisterAndCreateAction(t *testing.T) {
	r := NewRegistry(slog.Default())
	r.RegisterAction(mockFactory{})

	assert.True(t, r.IsActionRegistered("mock"))

	action, err := r.CreateAction("mock", map[string]any{"target": "x"})
	require.NoError(t, err)
	assert.Equal(t, "x", action.(*mockAction).config["target"])
}

func TestRegistry_CreateActionValidatesConfig(t *testing.T) {
	r := NewRegistry(slog.Default())
	r.RegisterAction(mockFactory{})

	_, err := r.CreateAction("mock", map[string]any{"target": 12})
	require.ErrorIs(t, err, ErrInvalidConfig)

	_, err = r.CreateAction("mock", nil)
	require.ErrorIs(t, err, ErrInvalidConfig)
}

func TestRegistry_UnknownAction(t *testing.T) {
	r := NewRegistry(slog.Default())

	_, err := r.CreateAction("nope", nil)
	require.ErrorIs(t, err, ErrActionNotRegistered)
	assert.False(t, r.IsActionRegistered("nope"))
}

func TestRegisterDefaultActions(t *testing.T) {
	r := NewRegistry(slog.Default())
	r.RegisterDefaultActions()

	assert.Equal(t, []string{"http", "log", "wait"}, r.GetAvailableActions())

	_, err := r.CreateAction("log", map[string]any{"message": "hello"})
	require.NoError(t, err)

	_, err = r.CreateAction("http", map[string]any{"url": "http://localhost/x", "method": "GET"})
	require.NoError(t, err)

	_, err = r.CreateAction("wait", map[string]any{"duration": "10ms"})
	require.NoError(t, err)

	_, err = r.CreateAction("http", map[string]any{"method": "GET"})
	require.ErrorIs(t, err, ErrInvalidConfig)
}

func TestLoadActionPlugins_MissingDirectory(t *testing.T) {
	r := NewRegistry(slog.Default())

	factories, err := r.LoadActionPlugins(t.TempDir())
	require.NoError(t, err)
	assert.Empty(t, factories)

	require.NoError(t, r.LoadAndRegisterPlugins(""))
	assert.Empty(t, r.GetAvailableActions())
}

// Package cmd provides common initialization functions for command-line applications.
package cmd

import (
	"log/slog"

	"github.com/dukex/conduit/pkg/registry"
)

// NewRegistry registers the native actions and the action plugins found
// under pluginsPath.
func NewRegistry(log *slog.Logger, pluginsPath string) (*registry.Registry, error) {
	reg := registry.NewRegistry(log)
	reg.RegisterDefaultActions()

	err := reg.LoadAndRegisterPlugins(pluginsPath)
	if err != nil {
		return nil, err
	}

	log.Info("Registered actions", "actions", reg.GetAvailableActions())

	return reg, nil
}

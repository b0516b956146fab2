package registry

import (
	"github.com/dukex/conduit/pkg/actions/httprequest"
	logaction "github.com/dukex/conduit/pkg/actions/log"
	"github.com/dukex/conduit/pkg/actions/wait"
)

// RegisterDefaultActions registers the built-in handlers: log, http and wait.
func (r *Registry) RegisterDefaultActions() {
	r.RegisterAction(logaction.NewActionFactory())
	r.RegisterAction(httprequest.NewActionFactory())
	r.RegisterAction(wait.NewActionFactory())
}

// LoadAndRegisterPlugins registers every action plugin found under pluginsPath.
func (r *Registry) LoadAndRegisterPlugins(pluginsPath string) error {
	if pluginsPath == "" {
		return nil
	}

	factories, err := r.LoadActionPlugins(pluginsPath)
	if err != nil {
		return err
	}

	for _, f := range factories {
		r.RegisterAction(f)
	}

	return nil
}

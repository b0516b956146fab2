// Package web serves the node and controller HTTP surfaces.
package web

import (
	"github.com/dukex/conduit/pkg/client"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	"github.com/gofiber/fiber/v3/middleware/logger"
)

// App carries the handlers to mount; a nil handler set is not mounted, so
// one process can serve a node, a controller or both.
type App struct {
	Node        *NodeHandlers
	Controller  *ControllerHandlers
	Credentials Credentials
	Name        string
}

func (a *App) App() *fiber.App {
	// Handlers keep query values beyond the request, e.g. dynamic parameters.
	app := fiber.New(fiber.Config{Immutable: true, AppName: a.Name})
	app.Use(cors.New())
	app.Use(logger.New(logger.Config{
		DisableColors: true,
	}))

	app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())
	app.Get(healthcheck.DefaultReadinessEndpoint, healthcheck.NewHealthChecker())

	app.Get("/", func(c fiber.Ctx) error {
		return c.SendString(a.Name)
	})

	auth := Authenticate(a.Credentials)

	if a.Node != nil {
		RegisterNodeRoutes(app.Group(client.NodePrefix, auth), a.Node)
	}

	if a.Controller != nil {
		RegisterControllerRoutes(app.Group(client.ControllerPrefix, auth), a.Controller)
	}

	return app
}

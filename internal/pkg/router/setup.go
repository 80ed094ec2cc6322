package router

import (
	"context"

	"github.com/gofiber/fiber/v2"

	"github.com/ManuelReschke/FiscalFox/app/controllers"
)

// Router installs a group of routes on the app.
type Router interface {
	InstallRouter(app *fiber.App)
}

// Options carries what the routers need from main.
type Options struct {
	Fiscal         *controllers.FiscalController
	InternalAPIKey string
	RateLimitMax   int
	// LimiterStorage shares rate limit counters between instances; nil keeps
	// them in memory.
	LimiterStorage fiber.Storage
	// Ready reports whether the dependencies are reachable.
	Ready func(ctx context.Context) error
}

func InstallRouter(app *fiber.App, opts Options) {
	// Health probes first so they are never rate limited.
	setup(app, NewHealthRouter(opts.Ready), NewApiRouter(opts))
}

func setup(app *fiber.App, router ...Router) {
	for _, r := range router {
		r.InstallRouter(app)
	}
}

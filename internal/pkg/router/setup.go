package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/ManuelReschke/MarktBoost/app/controllers"
)

// Router installs a group of routes on the app.
type Router interface {
	InstallRouter(app *fiber.App)
}

// Options configure the optional pieces of the HTTP surface.
type Options struct {
	// RateLimit is the number of /api requests per minute and client; 0 disables it.
	RateLimit int
	// LimiterStorage backs the rate limiter; nil keeps counters in memory.
	LimiterStorage fiber.Storage
	// OpenAPIFile is served at /docs/api when it exists.
	OpenAPIFile string
}

func InstallRouter(app *fiber.App, svc *controllers.Services, opts Options) {
	// metrics and docs first so the /api limiter does not count them
	setup(app, NewMetricsRouter(), NewDocsRouter(opts.OpenAPIFile), NewApiRouter(svc, opts))
}

func setup(app *fiber.App, router ...Router) {
	for _, r := range router {
		r.InstallRouter(app)
	}
}

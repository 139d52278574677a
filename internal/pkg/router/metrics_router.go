package router

import (
	"os"

	"github.com/gofiber/contrib/swagger"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsRouter serves the Prometheus registry at /metrics.
type MetricsRouter struct{}

func (MetricsRouter) InstallRouter(app *fiber.App) {
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))
}

func NewMetricsRouter() *MetricsRouter {
	return &MetricsRouter{}
}

// DocsRouter serves the OpenAPI document at /docs/api/v1.
type DocsRouter struct {
	file string
}

func (d DocsRouter) InstallRouter(app *fiber.App) {
	if d.file == "" {
		return
	}
	if _, err := os.Stat(d.file); err != nil {
		log.Warnf("[Router] OpenAPI file %s not found, /docs/api disabled", d.file)
		return
	}
	app.Use(swagger.New(swagger.Config{
		BasePath: "/docs/api/",
		FilePath: d.file,
		Path:     "v1",
	}))
}

func NewDocsRouter(file string) *DocsRouter {
	return &DocsRouter{file: file}
}

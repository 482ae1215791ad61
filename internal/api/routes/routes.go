package routes

import (
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/godata/exporter/internal/api/handlers"
	"github.com/godata/exporter/internal/api/middleware"
	"github.com/godata/exporter/internal/auth"
)

// Options carries what the export routes need besides the handlers.
type Options struct {
	JWTSecret   string
	ServiceKeys middleware.ServiceKeys
	// CreateLimit throttles job creation per owner.
	CreateLimit middleware.RatePolicy
}

// Register mounts the export API. Health and metrics stay unauthenticated.
func Register(e *echo.Echo, h *handlers.Handlers, health echo.HandlerFunc, opts Options) {
	e.GET("/health", health)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	api := e.Group("/api/v1")
	api.Use(middleware.Auth(opts.JWTSecret, opts.ServiceKeys))

	read := middleware.RequireScope(auth.ScopeRead)
	write := middleware.RequireScope(auth.ScopeWrite)

	api.POST("/exports", h.CreateExport, write, middleware.RateLimit(opts.CreateLimit, middleware.PerJobOwner))
	api.GET("/exports", h.ListExports, read)
	api.GET("/exports/:id", h.GetExport, read)
	api.GET("/exports/:id/watch", h.WatchExport, read)
	api.POST("/exports/:id/cancel", h.CancelExport, write)
	api.GET("/exports/:id/download", h.DownloadExport, read)
}

package router

import (
	"github.com/marketplace/backend/internal/interfaces/http/handler"
	"github.com/marketplace/backend/internal/interfaces/http/middleware"
)

// ImportRoutes builds the /import route group. Every route requires a caller
// identity; job routes also tag the active span with the job ID.
func ImportRoutes(h *handler.ImportHandler) *DomainGroup {
	routes := NewDomainGroup("import", "/import").
		Use(middleware.RequireUser(), middleware.TracingAttributeInjector())

	routes.GET("/template", h.Template)

	routes.Group("jobs", "/jobs").
		POST("", h.Create).
		GET("", h.List).
		GET("/:id", h.Get).
		DELETE("/:id", h.Delete).
		POST("/:id/file", h.Submit).
		GET("/:id/errors", h.Errors).
		POST("/:id/pause", h.Pause).
		POST("/:id/resume", h.Resume).
		POST("/:id/cancel", h.Cancel).
		POST("/:id/retry", h.Retry)

	return routes
}

// SystemRoutes builds the /system route group
func SystemRoutes(h *handler.SystemHandler) *DomainGroup {
	return NewDomainGroup("system", "/system").
		GET("/info", h.GetSystemInfo).
		GET("/ping", h.Ping)
}

// README: HTTP router registration.
package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"dispatch/internal/http/handlers"
	"dispatch/internal/http/middleware"
	"dispatch/internal/infra"
	"dispatch/internal/metrics"
)

type RouterDeps struct {
	Verifier  infra.TokenVerifier
	Orders    handlers.Orders
	Allocator handlers.Allocator
	ETA       handlers.Estimator
	Drivers   handlers.Drivers
	Location  handlers.Positions
	Jobs      handlers.JobRunner
}

func NewRouter(deps RouterDeps) *gin.Engine {
	r := gin.New()
	r.Use(middleware.Logging(), middleware.Recovery())

	r.GET("/health", func(c *gin.Context) {
		c.String(http.StatusOK, "OK")
	})
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{})))

	api := r.Group("/api", middleware.Auth(deps.Verifier))
	driverOnly := middleware.RequireRole(middleware.RoleDriver)
	adminOnly := middleware.RequireRole(middleware.RoleAdmin)

	orderHandler := handlers.NewOrderHandler(deps.Orders, deps.Allocator, deps.ETA)
	api.POST("/orders", orderHandler.Create)
	api.GET("/orders/:id", orderHandler.Get)
	api.GET("/orders/:id/eta", orderHandler.ETA)
	api.POST("/orders/:id/allocate", adminOnly, orderHandler.Allocate)
	api.POST("/orders/:id/finish", driverOnly, orderHandler.Finish)

	locationHandler := handlers.NewLocationHandler(deps.Location)
	api.PUT("/drivers/:id/location", locationHandler.Update)

	driverHandler := handlers.NewDriverHandler(deps.Drivers, deps.Orders)
	api.POST("/drivers/:id/arrive", driverHandler.Arrive)
	api.POST("/drivers/:id/ratings", driverHandler.Rate)

	if deps.Jobs != nil {
		adminHandler := handlers.NewAdminHandler(deps.Jobs)
		api.GET("/admin/jobs", adminOnly, adminHandler.ListJobs)
		api.POST("/admin/jobs/:name/run", adminOnly, adminHandler.RunJob)
	}
	return r
}

// Package api exposes the administrative REST surface: server settings,
// participant flags, mapping and filter configuration, directory tree
// mapping and manual sync triggers.
package api

import (
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"

	"github.com/campusconnect/ecsbridge/internal/middleware"
	"github.com/campusconnect/ecsbridge/internal/worker"
)

// NewRouter builds the Gin engine, wires middleware and registers routes.
func NewRouter(db *gorm.DB, poller *worker.Poller, adminToken string) (*gin.Engine, error) {
	if db == nil {
		return nil, fmt.Errorf("database handle must be provided")
	}
	if poller == nil {
		return nil, fmt.Errorf("poller must be provided")
	}

	r := gin.New()

	r.Use(middleware.Recovery())
	r.Use(middleware.Logger())
	r.Use(middleware.Metrics())

	r.GET("/health", Health(db))
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	serverHandler, err := NewServerHandler(db, poller)
	if err != nil {
		return nil, err
	}
	participantHandler, err := NewParticipantHandler(db)
	if err != nil {
		return nil, err
	}
	mappingHandler := NewMappingHandler(poller.Importer().Mapper())
	directoryHandler, err := NewDirectoryHandler(db, poller)
	if err != nil {
		return nil, err
	}
	exportHandler := NewExportHandler(poller.Publisher())

	api := r.Group("/api")
	api.Use(middleware.AdminAuth(adminToken))

	ecs := api.Group("/ecs")
	{
		ecs.GET("", serverHandler.List)
		ecs.POST("", serverHandler.Create)
		ecs.GET("/:id", serverHandler.Get)
		ecs.PUT("/:id", serverHandler.Update)
		ecs.DELETE("/:id", serverHandler.Delete)
		ecs.POST("/:id/sync", serverHandler.Sync)

		ecs.GET("/:id/participants", participantHandler.List)
		ecs.PUT("/:id/participants/:mid", participantHandler.UpdateFlags)

		ecs.GET("/:id/filter", serverHandler.GetFilter)
		ecs.PUT("/:id/filter", serverHandler.SetFilter)

		ecs.GET("/:id/directories", directoryHandler.ListTrees)
		ecs.GET("/:id/directories/:root", directoryHandler.GetTree)
		ecs.PUT("/:id/directories/:root/mode", directoryHandler.SetMode)
		ecs.PUT("/:id/directories/:root/map/:dir", directoryHandler.MapDirectory)

		ecs.GET("/:id/exports", exportHandler.List)
		ecs.POST("/:id/exports", exportHandler.Flag)
	}

	mappings := api.Group("/mappings")
	{
		mappings.GET("", mappingHandler.Get)
		mappings.PUT("/import/:field", mappingHandler.SetImport)
		mappings.PUT("/export/:field", mappingHandler.SetExport)
	}

	return r, nil
}

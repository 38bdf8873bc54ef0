// Package http exposes the service over a small JSON API: health, sync
// queue control and profile operations through the service layer.
package http

import (
	"github.com/gin-gonic/gin"

	"github.com/akovalev/syncbridge/internal/remote"
	"github.com/akovalev/syncbridge/internal/services"
	"github.com/akovalev/syncbridge/internal/storage"
	"github.com/akovalev/syncbridge/internal/syncer"
)

// RouterConfig carries the dependencies the controllers need.
type RouterConfig struct {
	Store          *storage.Store
	Remote         *remote.Client
	SyncService    *syncer.Service
	ProfileService *services.ProfileService
	TriggerDrain   func(reason string) error
	Version        string
}

// NewRouter builds the gin engine with all routes registered.
func NewRouter(cfg RouterConfig) *gin.Engine {
	router := gin.Default()

	health := NewHealthController(cfg.Store, cfg.Remote, cfg.Version)
	router.GET("/health", health.Status)

	sync := NewSyncController(cfg.SyncService, cfg.TriggerDrain)
	api := router.Group("/api")
	{
		api.GET("/sync/status", sync.Status)
		api.POST("/sync/trigger", sync.Trigger)
		api.POST("/sync/retry-failed", sync.RetryFailed)
		api.DELETE("/sync/queue", sync.ClearQueue)
	}

	if cfg.ProfileService != nil {
		profiles := NewProfileController(cfg.ProfileService)
		api.GET("/profiles/:id", profiles.Get)
		api.POST("/profiles/:id", profiles.Create)
		api.PATCH("/profiles/:id", profiles.Update)
		api.DELETE("/profiles/:id", profiles.Delete)
	}

	return router
}

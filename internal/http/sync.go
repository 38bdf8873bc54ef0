package http

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/akovalev/syncbridge/internal/syncer"
)

// SyncController exposes queue inspection and control. Triggering goes
// through the durable task queue rather than draining inline, so a trigger
// accepted here survives a restart.
type SyncController struct {
	service *syncer.Service
	trigger func(reason string) error
}

func NewSyncController(service *syncer.Service, trigger func(reason string) error) *SyncController {
	return &SyncController{
		service: service,
		trigger: trigger,
	}
}

// Status returns queue counts and the last successful sync time.
func (s *SyncController) Status(c *gin.Context) {
	status, err := s.service.Status()
	if err != nil {
		c.IndentedJSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.IndentedJSON(http.StatusOK, status)
}

// Trigger enqueues a drain request.
func (s *SyncController) Trigger(c *gin.Context) {
	if s.trigger == nil {
		c.IndentedJSON(http.StatusServiceUnavailable, gin.H{"error": "sync trigger not configured"})
		return
	}
	if err := s.trigger("api"); err != nil {
		c.IndentedJSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.IndentedJSON(http.StatusAccepted, gin.H{"message": "sync triggered"})
}

// RetryFailed resets permanently failed items back to pending.
func (s *SyncController) RetryFailed(c *gin.Context) {
	reset, err := s.service.RetryFailed()
	if err != nil {
		c.IndentedJSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.IndentedJSON(http.StatusOK, gin.H{"reset": reset})
}

// ClearQueue drops every queued item, synced or not.
func (s *SyncController) ClearQueue(c *gin.Context) {
	if err := s.service.ClearQueue(); err != nil {
		c.IndentedJSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.IndentedJSON(http.StatusOK, gin.H{"message": "queue cleared"})
}

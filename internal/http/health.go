package http

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/akovalev/syncbridge/internal/remote"
	"github.com/akovalev/syncbridge/internal/storage"
)

type HealthResponse struct {
	Status  string            `json:"status"`
	Time    string            `json:"time"`
	Version string            `json:"version,omitempty"`
	Checks  map[string]string `json:"checks"`
}

type HealthController struct {
	store   *storage.Store
	remote  *remote.Client
	version string
}

func NewHealthController(store *storage.Store, rc *remote.Client, version string) *HealthController {
	return &HealthController{
		store:   store,
		remote:  rc,
		version: version,
	}
}

func (h *HealthController) Status(c *gin.Context) {
	checks := make(map[string]string)
	status := "healthy"

	if h.store != nil {
		if err := h.store.Ping(); err != nil {
			checks["storage"] = "error: " + err.Error()
			status = "unhealthy"
		} else {
			checks["storage"] = "ok"
		}
	} else {
		checks["storage"] = "not configured"
	}

	// Remote being down is degraded, not unhealthy: the whole point of
	// this service is to keep working offline.
	if h.remote != nil && h.remote.IsAvailable() {
		checks["remote"] = "configured"
	} else {
		checks["remote"] = "unavailable"
	}

	health := HealthResponse{
		Status:  status,
		Time:    time.Now().Format(time.RFC3339),
		Version: h.version,
		Checks:  checks,
	}

	statusCode := http.StatusOK
	if status != "healthy" {
		statusCode = http.StatusServiceUnavailable
	}

	c.IndentedJSON(statusCode, health)
}

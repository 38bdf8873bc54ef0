package tasks

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/mikestefanello/backlite"

	"github.com/akovalev/syncbridge/internal/syncer"
)

// DrainQueueTask requests one drain of the sync queue. Scheduled runs and
// manual triggers both enqueue this task, so a requested drain survives a
// restart.
type DrainQueueTask struct {
	Reason string `json:"reason"`
}

// Config returns the queue configuration for drain tasks.
func (t DrainQueueTask) Config() backlite.QueueConfig {
	return backlite.QueueConfig{
		Name:        "sync_drain",
		MaxAttempts: 3,
		Backoff:     30 * time.Second,
		Timeout:     5 * time.Minute,
		Retention: &backlite.Retention{
			Duration:   24 * time.Hour,
			OnlyFailed: false,
			Data:       &backlite.RetainData{OnlyFailed: true},
		},
	}
}

// DrainProcessor creates a processor function for DrainQueueTask.
func DrainProcessor(service *syncer.Service) backlite.QueueProcessor[DrainQueueTask] {
	return func(ctx context.Context, task DrainQueueTask) error {
		if service == nil {
			return fmt.Errorf("sync service not configured")
		}

		result, err := service.ProcessQueue(ctx)
		if err != nil {
			return fmt.Errorf("drain sync queue (%s): %w", task.Reason, err)
		}

		if result.Processed > 0 || result.Failed > 0 {
			log.Printf("[TASK] Sync drain (%s): %d processed, %d permanently failed",
				task.Reason, result.Processed, result.Failed)
		}
		return nil
	}
}

// NewDrainQueue creates a backlite queue for drain tasks.
func NewDrainQueue(service *syncer.Service) backlite.Queue {
	return backlite.NewQueue(DrainProcessor(service))
}

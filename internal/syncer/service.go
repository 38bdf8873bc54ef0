// Package syncer drains the offline write queue against the remote backend.
//
// A drain walks pending items in enqueue order, replaying each against its
// table: inserts as upserts (so a redelivered item cannot duplicate a row),
// updates through the per-table key policy or the preferences procedure,
// deletes by key. Item failures never abort the rest of the drain.
package syncer

import (
	"context"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"github.com/akovalev/syncbridge/internal/database/preferences"
	"github.com/akovalev/syncbridge/internal/database/queue"
	"github.com/akovalev/syncbridge/internal/remote"
	"github.com/akovalev/syncbridge/internal/storage"
)

// LastSyncKey is the storage key recording the last successful item sync.
const LastSyncKey = "last_sync_time"

// Result summarizes one drain: Processed items were synced and removed;
// Failed items crossed the attempt limit and were marked permanently
// failed. Items that failed below the limit stay pending and count in
// neither field.
type Result struct {
	Processed int `json:"processed"`
	Failed    int `json:"failed"`
}

// QueueStatus is the queue snapshot surfaced to status endpoints.
type QueueStatus struct {
	Pending    int        `json:"pending"`
	Failed     int        `json:"failed"`
	Total      int        `json:"total"`
	Processing bool       `json:"processing"`
	LastSyncAt *time.Time `json:"last_sync_at,omitempty"`
}

// Service processes the sync queue. At most one drain runs at a time.
type Service struct {
	remote      *remote.Client
	queue       *queue.Store
	kv          *storage.Store
	maxAttempts int
	itemTimeout time.Duration

	processing atomic.Bool
}

// NewService creates a sync service.
func NewService(rc *remote.Client, q *queue.Store, kv *storage.Store, maxAttempts int, itemTimeout time.Duration) *Service {
	if maxAttempts <= 0 {
		maxAttempts = queue.MaxAttempts
	}
	if itemTimeout <= 0 {
		itemTimeout = 15 * time.Second
	}
	return &Service{
		remote:      rc,
		queue:       q,
		kv:          kv,
		maxAttempts: maxAttempts,
		itemTimeout: itemTimeout,
	}
}

// ProcessQueue drains pending items. A second concurrent call returns a
// zero Result immediately without touching the queue; so does a drain while
// the remote is unavailable.
func (s *Service) ProcessQueue(ctx context.Context) (Result, error) {
	if !s.processing.CompareAndSwap(false, true) {
		return Result{}, nil
	}
	defer s.processing.Store(false)

	if !s.remote.IsAvailable() {
		return Result{}, nil
	}

	items, err := s.queue.Load()
	if err != nil {
		return Result{}, fmt.Errorf("load queue: %w", err)
	}

	var result Result
	for _, item := range items {
		if item.Status != queue.StatusPending || item.Attempts >= s.maxAttempts {
			continue
		}
		if ctx.Err() != nil {
			return result, ctx.Err()
		}

		replayErr := s.replay(ctx, item)
		if replayErr == nil {
			if err := s.removeItem(item.ID); err != nil {
				return result, err
			}
			result.Processed++
			s.recordSyncTime()
			continue
		}

		log.Printf("Sync replay failed for %s %s/%s (attempt %d): %v",
			item.Operation, item.TableName, item.RecordID, item.Attempts+1, replayErr)

		exhausted, err := s.markAttempt(item.ID)
		if err != nil {
			return result, err
		}
		if exhausted {
			result.Failed++
		}
	}

	return result, nil
}

// IsProcessing reports whether a drain is currently in flight.
func (s *Service) IsProcessing() bool {
	return s.processing.Load()
}

// Status returns queue counts, the processing flag and the last sync time.
func (s *Service) Status() (QueueStatus, error) {
	items, err := s.queue.Load()
	if err != nil {
		return QueueStatus{}, err
	}

	status := QueueStatus{
		Total:      len(items),
		Processing: s.processing.Load(),
	}
	for _, item := range items {
		switch item.Status {
		case queue.StatusPending:
			status.Pending++
		case queue.StatusFailed:
			status.Failed++
		}
	}

	if last, err := s.LastSyncTime(); err == nil {
		status.LastSyncAt = last
	}
	return status, nil
}

// RetryFailed resets every permanently failed item back to pending with a
// fresh attempt counter, returning how many were reset.
func (s *Service) RetryFailed() (int, error) {
	reset := 0
	_, err := s.queue.Update(func(items []queue.Item) []queue.Item {
		reset = 0
		now := time.Now()
		for i := range items {
			if items[i].Status == queue.StatusFailed {
				items[i].Status = queue.StatusPending
				items[i].Attempts = 0
				items[i].UpdatedAt = now
				reset++
			}
		}
		return items
	})
	if err != nil {
		return 0, err
	}
	return reset, nil
}

// ClearQueue empties the queue entirely. Destructive; part of full
// app-data reset.
func (s *Service) ClearQueue() error {
	return s.queue.Clear()
}

// LastSyncTime returns when an item last synced successfully, or nil.
func (s *Service) LastSyncTime() (*time.Time, error) {
	raw, err := s.kv.Get(LastSyncKey)
	if err != nil {
		return nil, err
	}
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", LastSyncKey, err)
	}
	return &t, nil
}

// replay applies one queued operation against its table.
func (s *Service) replay(ctx context.Context, item queue.Item) error {
	opCtx, cancel := context.WithTimeout(ctx, s.itemTimeout)
	defer cancel()

	switch item.Operation {
	case queue.OpInsert:
		_, err := s.remote.Table(item.TableName).Upsert(opCtx, item.Data)
		return err

	case queue.OpUpdate:
		if item.TableName == preferences.TableName {
			args := map[string]any{"user_id": item.RecordID}
			for field, value := range item.Data {
				args[field] = value
			}
			_, err := s.remote.RPC(opCtx, preferences.UpdateRPC, args)
			return err
		}
		_, err := s.remote.Table(item.TableName).Update(opCtx, primaryKeyFor(item.TableName), item.RecordID, item.Data)
		return err

	case queue.OpDelete:
		return s.remote.Table(item.TableName).Delete(opCtx, primaryKeyFor(item.TableName), item.RecordID)

	default:
		return fmt.Errorf("unknown operation %q", item.Operation)
	}
}

// primaryKeyFor resolves the key column used for keyed replays.
// User-scoped singleton tables key on user_id; everything else on id.
func primaryKeyFor(table string) string {
	switch table {
	case "user_subscriptions", "user_preferences":
		return "user_id"
	default:
		return "id"
	}
}

func (s *Service) removeItem(id string) error {
	_, err := s.queue.Update(func(items []queue.Item) []queue.Item {
		kept := items[:0]
		for _, item := range items {
			if item.ID != id {
				kept = append(kept, item)
			}
		}
		return kept
	})
	return err
}

// markAttempt increments an item's attempt counter, marking it failed when
// the limit is reached. Returns whether the item became permanently failed.
func (s *Service) markAttempt(id string) (bool, error) {
	exhausted := false
	_, err := s.queue.Update(func(items []queue.Item) []queue.Item {
		exhausted = false
		for i := range items {
			if items[i].ID != id {
				continue
			}
			items[i].Attempts++
			items[i].UpdatedAt = time.Now()
			if items[i].Attempts >= s.maxAttempts {
				items[i].Status = queue.StatusFailed
				exhausted = true
			}
			break
		}
		return items
	})
	return exhausted, err
}

func (s *Service) recordSyncTime() {
	if err := s.kv.Set(LastSyncKey, time.Now().Format(time.RFC3339)); err != nil {
		log.Printf("Failed to record last sync time: %v", err)
	}
}

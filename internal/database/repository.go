package database

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/akovalev/syncbridge/internal/database/queue"
	"github.com/akovalev/syncbridge/internal/remote"
	"github.com/akovalev/syncbridge/internal/storage"
)

// SyncData describes the write to enqueue if an online mutation cannot be
// delivered.
type SyncData struct {
	RecordID  string
	Operation queue.Operation
	Data      map[string]any
}

// Repository carries the collaborators every entity repository shares.
type Repository struct {
	Remote *remote.Client
	Cache  *storage.Store
	Queue  *queue.Store

	// Table is the remote table this repository writes to.
	Table string

	// PrimaryKey is the column realtime filters are built on.
	PrimaryKey string

	// Timeout bounds each online operation attempt so one stuck call
	// cannot block the caller indefinitely.
	Timeout time.Duration
}

// NewRepository builds a base repository for one remote table.
func NewRepository(rc *remote.Client, cache *storage.Store, q *queue.Store, table, primaryKey string, timeout time.Duration) *Repository {
	if primaryKey == "" {
		primaryKey = "id"
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Repository{
		Remote:     rc,
		Cache:      cache,
		Queue:      q,
		Table:      table,
		PrimaryKey: primaryKey,
		Timeout:    timeout,
	}
}

// Execute runs an operation with the shared fallback policy:
//
//  1. Remote unavailable → offline path: enqueue sync (if any), then serve
//     the offline op as a plain success, or fail with ErrOfflineNoFallback.
//  2. Online op succeeds → success.
//  3. Online op fails → enqueue sync first (a write is never silently
//     dropped even if the offline read-back also fails), then serve the
//     offline op as a degraded response carrying the original error.
func Execute[T any](ctx context.Context, r *Repository, online func(context.Context) (*T, error), offline func(context.Context) (*T, error), sync *SyncData) Response[T] {
	if !r.Remote.IsAvailable() {
		return executeOffline(ctx, r, offline, sync)
	}

	opCtx, cancel := context.WithTimeout(ctx, r.Timeout)
	data, err := online(opCtx)
	cancel()
	if err == nil {
		return Ok(data)
	}

	// Enqueue before attempting the fallback.
	if sync != nil {
		r.AddToSyncQueue(sync.RecordID, sync.Operation, sync.Data)
	}

	if offline != nil {
		fallback, fbErr := offline(ctx)
		if fbErr == nil {
			return Degraded(fallback, err)
		}
		log.Printf("Offline fallback for %s failed: %v", r.Table, fbErr)
	}
	return Fail[T](err)
}

func executeOffline[T any](ctx context.Context, r *Repository, offline func(context.Context) (*T, error), sync *SyncData) Response[T] {
	if sync != nil {
		r.AddToSyncQueue(sync.RecordID, sync.Operation, sync.Data)
	}

	if offline == nil {
		return Fail[T](ErrOfflineNoFallback)
	}

	data, err := offline(ctx)
	if err != nil {
		return Fail[T](err)
	}
	// Offline-served data is still a success; the UI should not treat
	// cached state as an error.
	return Ok(data)
}

// AddToSyncQueue records a write for later replay. Best effort: a queue
// persistence failure is logged, not propagated, so a degraded response
// still reaches the caller.
func (r *Repository) AddToSyncQueue(recordID string, op queue.Operation, data map[string]any) {
	if r.Queue == nil {
		return
	}
	if _, err := r.Queue.Enqueue(r.Table, recordID, op, data); err != nil {
		log.Printf("Failed to enqueue %s %s for %s: %v", op, r.Table, recordID, err)
	}
}

// SubscribeToChanges opens a realtime subscription scoped to one record of
// this repository's table. Returns nil when the remote is unavailable.
func (r *Repository) SubscribeToChanges(ctx context.Context, recordID string, handler func(remote.ChangeEvent)) (*remote.Subscription, error) {
	if !r.Remote.IsAvailable() {
		return nil, nil
	}
	filter := fmt.Sprintf("%s=eq.%s", r.PrimaryKey, recordID)
	return r.Remote.SubscribeToChanges(ctx, r.Table, filter, handler)
}

// ReadCached loads and decodes a cached entity. A missing key is an error:
// the caller has no fallback value to serve.
func ReadCached[T any](cache *storage.Store, key string) (*T, error) {
	raw, err := cache.Get(key)
	if err != nil {
		return nil, fmt.Errorf("read cache %s: %w", key, err)
	}
	if raw == "" {
		return nil, fmt.Errorf("no cached value for %s", key)
	}
	var value T
	if err := json.Unmarshal([]byte(raw), &value); err != nil {
		return nil, fmt.Errorf("decode cache %s: %w", key, err)
	}
	return &value, nil
}

// WriteCached stores an entity as the last known good state. Best effort:
// failures are logged so a successful remote result is never discarded over
// a cache problem.
func WriteCached[T any](cache *storage.Store, key string, value *T) {
	raw, err := json.Marshal(value)
	if err != nil {
		log.Printf("Failed to encode cache %s: %v", key, err)
		return
	}
	if err := cache.Set(key, string(raw)); err != nil {
		log.Printf("Failed to write cache %s: %v", key, err)
	}
}

// MergeCached applies a shallow merge of updates onto the cached entity and
// persists the result, returning the merged value. Used as the offline
// fallback for update operations.
func MergeCached[T any](cache *storage.Store, key string, updates map[string]any) (*T, error) {
	raw, err := cache.Get(key)
	if err != nil {
		return nil, fmt.Errorf("read cache %s: %w", key, err)
	}

	merged := make(map[string]any)
	if raw != "" {
		if err := json.Unmarshal([]byte(raw), &merged); err != nil {
			return nil, fmt.Errorf("decode cache %s: %w", key, err)
		}
	}
	for field, value := range updates {
		merged[field] = value
	}

	encoded, err := json.Marshal(merged)
	if err != nil {
		return nil, fmt.Errorf("encode cache %s: %w", key, err)
	}

	var value T
	if err := json.Unmarshal(encoded, &value); err != nil {
		return nil, fmt.Errorf("decode merged %s: %w", key, err)
	}
	if err := cache.Set(key, string(encoded)); err != nil {
		return nil, fmt.Errorf("write cache %s: %w", key, err)
	}
	return &value, nil
}

// Package queue persists the ordered list of pending offline writes.
//
// The whole queue is one JSON blob under the sync_queue storage key.
// Mutations are serialized in-process by a mutex and protected across
// writers by the store's compare-and-swap versioning, so an enqueue racing
// a drain cannot lose either side's change.
package queue

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/akovalev/syncbridge/internal/storage"
)

// StorageKey is the key the serialized queue lives under. Stable for
// migration compatibility.
const StorageKey = "sync_queue"

const (
	// DefaultCapacity bounds the queue; oldest items are evicted first.
	DefaultCapacity = 100

	// MaxAttempts is the replay limit before an item is marked failed.
	MaxAttempts = 3

	casRetries = 5
)

// Operation is the kind of write an item replays.
type Operation string

const (
	OpInsert Operation = "insert"
	OpUpdate Operation = "update"
	OpDelete Operation = "delete"
)

// Status is an item's lifecycle state. Items only move pending→synced
// (removed) or pending→failed; failed items stay put until an explicit
// retry resets them.
type Status string

const (
	StatusPending Status = "pending"
	StatusSynced  Status = "synced"
	StatusFailed  Status = "failed"
)

// Item is one queued write operation, kept opaque enough to replay later.
type Item struct {
	ID        string         `json:"id"`
	TableName string         `json:"table_name"`
	RecordID  string         `json:"record_id"`
	Operation Operation      `json:"operation"`
	Data      map[string]any `json:"data"`
	Status    Status         `json:"sync_status"`
	Attempts  int            `json:"attempts"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// Store owns all reads and writes of the persisted queue.
type Store struct {
	kv       *storage.Store
	capacity int

	mu sync.Mutex
}

// NewStore creates a queue store with the default capacity.
func NewStore(kv *storage.Store) *Store {
	return NewStoreWithCapacity(kv, DefaultCapacity)
}

// NewStoreWithCapacity creates a queue store with an explicit capacity.
func NewStoreWithCapacity(kv *storage.Store, capacity int) *Store {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Store{kv: kv, capacity: capacity}
}

// Load returns the current queue contents in enqueue order.
func (s *Store) Load() ([]Item, error) {
	raw, err := s.kv.Get(StorageKey)
	if err != nil {
		return nil, fmt.Errorf("load sync queue: %w", err)
	}
	return decode(raw)
}

// Enqueue appends a pending item, evicting from the front when the queue
// is at capacity, and returns the stored item.
func (s *Store) Enqueue(table, recordID string, op Operation, data map[string]any) (Item, error) {
	now := time.Now()
	item := Item{
		ID:        itemID(table, recordID, now),
		TableName: table,
		RecordID:  recordID,
		Operation: op,
		Data:      data,
		Status:    StatusPending,
		Attempts:  0,
		CreatedAt: now,
		UpdatedAt: now,
	}

	_, err := s.Update(func(items []Item) []Item {
		if len(items) >= s.capacity {
			// Lossy under pressure: drop the oldest to make room.
			items = items[len(items)-s.capacity+1:]
		}
		return append(items, item)
	})
	if err != nil {
		return Item{}, err
	}
	return item, nil
}

// Update applies fn to the queue under the store's concurrency discipline
// and persists the result, returning the new contents. fn may be retried
// on version conflicts and must be pure.
func (s *Store) Update(fn func(items []Item) []Item) ([]Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var lastErr error
	for attempt := 0; attempt < casRetries; attempt++ {
		raw, version, err := s.kv.GetVersioned(StorageKey)
		if err != nil {
			return nil, fmt.Errorf("load sync queue: %w", err)
		}

		items, err := decode(raw)
		if err != nil {
			return nil, err
		}

		items = fn(items)

		encoded, err := json.Marshal(items)
		if err != nil {
			return nil, fmt.Errorf("encode sync queue: %w", err)
		}

		err = s.kv.SetVersioned(StorageKey, string(encoded), version)
		if err == nil {
			return items, nil
		}
		if !errors.Is(err, storage.ErrVersionConflict) {
			return nil, fmt.Errorf("persist sync queue: %w", err)
		}
		lastErr = err
	}
	return nil, fmt.Errorf("persist sync queue: %w", lastErr)
}

// Clear empties the whole queue. Destructive; used for full app-data reset.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.kv.Remove(StorageKey); err != nil {
		return fmt.Errorf("clear sync queue: %w", err)
	}
	return nil
}

// Capacity returns the configured maximum queue length.
func (s *Store) Capacity() int {
	return s.capacity
}

func decode(raw string) ([]Item, error) {
	if raw == "" {
		return nil, nil
	}
	var items []Item
	if err := json.Unmarshal([]byte(raw), &items); err != nil {
		return nil, fmt.Errorf("decode sync queue: %w", err)
	}
	return items, nil
}

// itemID combines table, record and creation time with a random suffix so
// rapid operations on the same record never collide.
func itemID(table, recordID string, now time.Time) string {
	return fmt.Sprintf("%s_%s_%d_%s", table, recordID, now.UnixMilli(), uuid.NewString()[:8])
}

// Package preferences provides the offline-capable repository for user
// preferences. Preference updates go through the update_user_preferences
// procedure, both live and on queue replay.
package preferences

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/akovalev/syncbridge/internal/database"
	"github.com/akovalev/syncbridge/internal/database/queue"
	"github.com/akovalev/syncbridge/internal/remote"
	"github.com/akovalev/syncbridge/internal/storage"
)

// CacheKey is the storage key holding the last known preferences state.
const CacheKey = "userPreferences"

// TableName is the remote table preferences live in. Its primary key is
// user_id, not id.
const TableName = "user_preferences"

// UpdateRPC is the stored procedure preference updates are routed through.
const UpdateRPC = "update_user_preferences"

// Preferences is the user preferences entity.
type Preferences struct {
	UserID               string `json:"user_id"`
	Theme                string `json:"theme"`
	Language             string `json:"language"`
	NotificationsEnabled bool   `json:"notifications_enabled"`
	EmailUpdates         bool   `json:"email_updates"`
	UpdatedAt            string `json:"updated_at"`
}

// Repository handles all preferences operations.
type Repository struct {
	base *database.Repository
}

// NewRepository creates a preferences repository.
func NewRepository(rc *remote.Client, cache *storage.Store, q *queue.Store, timeout time.Duration) *Repository {
	return &Repository{
		base: database.NewRepository(rc, cache, q, TableName, "user_id", timeout),
	}
}

// Get fetches preferences by user ID with read-through caching.
func (r *Repository) Get(ctx context.Context, userID string) database.Response[Preferences] {
	if userID == "" {
		return database.Fail[Preferences](fmt.Errorf("user id is required"))
	}

	online := func(ctx context.Context) (*Preferences, error) {
		row, err := r.base.Remote.Table(TableName).SelectOne(ctx, "user_id", userID)
		if err != nil {
			return nil, err
		}
		p, err := fromRow(row)
		if err != nil {
			return nil, err
		}
		database.WriteCached(r.base.Cache, CacheKey, p)
		return p, nil
	}
	offline := func(ctx context.Context) (*Preferences, error) {
		return database.ReadCached[Preferences](r.base.Cache, CacheKey)
	}

	return database.Execute(ctx, r.base, online, offline, nil)
}

// Create inserts default preferences for a user.
func (r *Repository) Create(ctx context.Context, userID string) database.Response[Preferences] {
	if userID == "" {
		return database.Fail[Preferences](fmt.Errorf("user id is required"))
	}

	row := defaultRow(userID)

	online := func(ctx context.Context) (*Preferences, error) {
		stored, err := r.base.Remote.Table(TableName).Insert(ctx, row)
		if err != nil {
			return nil, err
		}
		p, err := fromRow(stored)
		if err != nil {
			return nil, err
		}
		database.WriteCached(r.base.Cache, CacheKey, p)
		return p, nil
	}
	offline := func(ctx context.Context) (*Preferences, error) {
		p, err := fromRow(row)
		if err != nil {
			return nil, err
		}
		database.WriteCached(r.base.Cache, CacheKey, p)
		return p, nil
	}

	sync := &database.SyncData{RecordID: userID, Operation: queue.OpInsert, Data: row}
	return database.Execute(ctx, r.base, online, offline, sync)
}

// Update patches preferences through the update procedure, falling back to
// a direct keyed update when the procedure is not exposed.
func (r *Repository) Update(ctx context.Context, userID string, updates map[string]any) database.Response[Preferences] {
	if userID == "" {
		return database.Fail[Preferences](fmt.Errorf("user id is required"))
	}
	if len(updates) == 0 {
		return database.Fail[Preferences](fmt.Errorf("no updates provided"))
	}

	patch := make(map[string]any, len(updates)+1)
	for field, value := range updates {
		patch[field] = value
	}
	patch["updated_at"] = time.Now().Format(time.RFC3339)

	online := func(ctx context.Context) (*Preferences, error) {
		args := map[string]any{"user_id": userID}
		for field, value := range patch {
			args[field] = value
		}
		raw, err := r.base.Remote.RPC(ctx, UpdateRPC, args)
		var p *Preferences
		if err != nil {
			stored, updErr := r.base.Remote.Table(TableName).Update(ctx, "user_id", userID, patch)
			if updErr != nil {
				return nil, updErr
			}
			p, err = fromRow(stored)
		} else {
			p, err = fromRaw(raw)
		}
		if err != nil {
			return nil, err
		}
		database.WriteCached(r.base.Cache, CacheKey, p)
		return p, nil
	}
	offline := func(ctx context.Context) (*Preferences, error) {
		return database.MergeCached[Preferences](r.base.Cache, CacheKey, updates)
	}

	sync := &database.SyncData{RecordID: userID, Operation: queue.OpUpdate, Data: updates}
	return database.Execute(ctx, r.base, online, offline, sync)
}

// Delete removes a user's preferences row and clears the cache.
func (r *Repository) Delete(ctx context.Context, userID string) database.Response[bool] {
	if userID == "" {
		return database.Fail[bool](fmt.Errorf("user id is required"))
	}

	deleted := true
	online := func(ctx context.Context) (*bool, error) {
		if err := r.base.Remote.Table(TableName).Delete(ctx, "user_id", userID); err != nil {
			return nil, err
		}
		if err := r.base.Cache.Remove(CacheKey); err != nil {
			return nil, err
		}
		return &deleted, nil
	}
	offline := func(ctx context.Context) (*bool, error) {
		if err := r.base.Cache.Remove(CacheKey); err != nil {
			return nil, err
		}
		return &deleted, nil
	}

	sync := &database.SyncData{RecordID: userID, Operation: queue.OpDelete}
	return database.Execute(ctx, r.base, online, offline, sync)
}

// Subscribe streams remote changes to one user's preferences.
func (r *Repository) Subscribe(ctx context.Context, userID string, handler func(remote.ChangeEvent)) (*remote.Subscription, error) {
	return r.base.SubscribeToChanges(ctx, userID, handler)
}

func defaultRow(userID string) map[string]any {
	return map[string]any{
		"user_id":               userID,
		"theme":                 "system",
		"language":              "en",
		"notifications_enabled": true,
		"email_updates":         false,
		"updated_at":            time.Now().Format(time.RFC3339),
	}
}

func fromRow(row map[string]any) (*Preferences, error) {
	encoded, err := json.Marshal(row)
	if err != nil {
		return nil, fmt.Errorf("encode preferences row: %w", err)
	}
	return fromRaw(encoded)
}

func fromRaw(raw []byte) (*Preferences, error) {
	var p Preferences
	if err := json.Unmarshal(raw, &p); err == nil {
		return &p, nil
	}
	var list []Preferences
	if err := json.Unmarshal(raw, &list); err != nil || len(list) == 0 {
		return nil, fmt.Errorf("decode preferences: unexpected shape")
	}
	return &list[0], nil
}

// Package profile provides the offline-capable repository for user
// profiles.
//
// # Usage
//
//	repo := profile.NewRepository(remoteClient, store, queueStore, timeout)
//	resp := repo.Update(ctx, "u1", map[string]any{"full_name": "Ann"})
package profile

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

// CacheKey is the storage key holding the last known profile state.
const CacheKey = "userData"

// TableName is the remote table profiles live in.
const TableName = "profiles"

// Profile is the user profile entity.
type Profile struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	FullName  string `json:"full_name"`
	AvatarURL string `json:"avatar_url"`
	Bio       string `json:"bio"`
	Website   string `json:"website"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

// CreateParams are the caller-supplied fields for a new profile; anything
// unset is defaulted before the remote call.
type CreateParams struct {
	Email     string
	FullName  string
	AvatarURL string
	Bio       string
	Website   string
}

// Repository handles all profile operations.
type Repository struct {
	base *database.Repository
}

// NewRepository creates a profile repository.
func NewRepository(rc *remote.Client, cache *storage.Store, q *queue.Store, timeout time.Duration) *Repository {
	return &Repository{
		base: database.NewRepository(rc, cache, q, TableName, "id", timeout),
	}
}

// Get fetches a profile by user ID, caching it on success and serving the
// cache when offline.
func (r *Repository) Get(ctx context.Context, userID string) database.Response[Profile] {
	if userID == "" {
		return database.Fail[Profile](fmt.Errorf("user id is required"))
	}

	online := func(ctx context.Context) (*Profile, error) {
		row, err := r.base.Remote.Table(TableName).SelectOne(ctx, "id", userID)
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
	offline := func(ctx context.Context) (*Profile, error) {
		return database.ReadCached[Profile](r.base.Cache, CacheKey)
	}

	return database.Execute(ctx, r.base, online, offline, nil)
}

// Create inserts a new profile. The online path tries the create_profile
// procedure first and falls back to a direct insert when the procedure is
// not exposed; exactly one of the two runs to completion.
func (r *Repository) Create(ctx context.Context, userID string, params CreateParams) database.Response[Profile] {
	if userID == "" {
		return database.Fail[Profile](fmt.Errorf("user id is required"))
	}

	row := newRow(userID, params)

	online := func(ctx context.Context) (*Profile, error) {
		raw, err := r.base.Remote.RPC(ctx, "create_profile", row)
		if err != nil {
			stored, insErr := r.base.Remote.Table(TableName).Insert(ctx, row)
			if insErr != nil {
				return nil, insErr
			}
			p, convErr := fromRow(stored)
			if convErr != nil {
				return nil, convErr
			}
			database.WriteCached(r.base.Cache, CacheKey, p)
			return p, nil
		}
		p, err := fromRaw(raw)
		if err != nil {
			return nil, err
		}
		database.WriteCached(r.base.Cache, CacheKey, p)
		return p, nil
	}
	offline := func(ctx context.Context) (*Profile, error) {
		// Optimistic local echo of the new profile.
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

// Update patches a profile. Offline, the updates are shallow-merged into
// the cached profile and queued for replay.
func (r *Repository) Update(ctx context.Context, userID string, updates map[string]any) database.Response[Profile] {
	if userID == "" {
		return database.Fail[Profile](fmt.Errorf("user id is required"))
	}
	if len(updates) == 0 {
		return database.Fail[Profile](fmt.Errorf("no updates provided"))
	}

	patch := make(map[string]any, len(updates)+1)
	for field, value := range updates {
		patch[field] = value
	}
	patch["updated_at"] = time.Now().Format(time.RFC3339)

	online := func(ctx context.Context) (*Profile, error) {
		args := map[string]any{"user_id": userID}
		for field, value := range patch {
			args[field] = value
		}
		raw, err := r.base.Remote.RPC(ctx, "update_profile", args)
		var p *Profile
		if err != nil {
			stored, updErr := r.base.Remote.Table(TableName).Update(ctx, "id", userID, patch)
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
	offline := func(ctx context.Context) (*Profile, error) {
		return database.MergeCached[Profile](r.base.Cache, CacheKey, updates)
	}

	sync := &database.SyncData{RecordID: userID, Operation: queue.OpUpdate, Data: updates}
	return database.Execute(ctx, r.base, online, offline, sync)
}

// Delete removes a profile by ID. The service layer requires explicit
// confirmation before calling this; delete has no undo.
func (r *Repository) Delete(ctx context.Context, userID string) database.Response[bool] {
	if userID == "" {
		return database.Fail[bool](fmt.Errorf("user id is required"))
	}

	deleted := true
	online := func(ctx context.Context) (*bool, error) {
		if err := r.base.Remote.Table(TableName).Delete(ctx, "id", userID); err != nil {
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

// Subscribe streams remote changes to one profile. Returns nil offline.
func (r *Repository) Subscribe(ctx context.Context, userID string, handler func(remote.ChangeEvent)) (*remote.Subscription, error) {
	return r.base.SubscribeToChanges(ctx, userID, handler)
}

// newRow fills defaults for unset fields: timestamps now, optional fields
// null.
func newRow(userID string, params CreateParams) map[string]any {
	now := time.Now().Format(time.RFC3339)
	row := map[string]any{
		"id":         userID,
		"email":      params.Email,
		"created_at": now,
		"updated_at": now,
	}
	for field, value := range map[string]string{
		"full_name":  params.FullName,
		"avatar_url": params.AvatarURL,
		"bio":        params.Bio,
		"website":    params.Website,
	} {
		if value != "" {
			row[field] = value
		} else {
			row[field] = nil
		}
	}
	return row
}

func fromRow(row map[string]any) (*Profile, error) {
	encoded, err := json.Marshal(row)
	if err != nil {
		return nil, fmt.Errorf("encode profile row: %w", err)
	}
	return fromRaw(encoded)
}

// fromRaw decodes a profile from either an object or a one-element array,
// which is how procedure results come back.
func fromRaw(raw []byte) (*Profile, error) {
	var p Profile
	if err := json.Unmarshal(raw, &p); err == nil {
		return &p, nil
	}
	var list []Profile
	if err := json.Unmarshal(raw, &list); err != nil || len(list) == 0 {
		return nil, fmt.Errorf("decode profile: unexpected shape")
	}
	return &list[0], nil
}

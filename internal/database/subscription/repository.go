// Package subscription provides the offline-capable repository for user
// subscriptions, including the plan lifecycle helpers.
//
// Plan changes here only set status, auto_renew and end_date from a fixed
// plan→duration policy table; no payment processing happens in this layer.
package subscription

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

// CacheKey is the storage key holding the last known subscription state.
const CacheKey = "user_subscription"

// TableName is the remote table subscriptions live in. Its primary key is
// user_id, not id.
const TableName = "user_subscriptions"

// Subscription states.
const (
	StatusActive    = "active"
	StatusCancelled = "cancelled"
)

// planDurations maps a plan name to its validity period.
var planDurations = map[string]time.Duration{
	"free":    365 * 24 * time.Hour,
	"pro":     30 * 24 * time.Hour,
	"premium": 30 * 24 * time.Hour,
}

// Subscription is the user subscription entity.
type Subscription struct {
	UserID    string `json:"user_id"`
	Plan      string `json:"plan"`
	Status    string `json:"status"`
	StartDate string `json:"start_date"`
	EndDate   string `json:"end_date"`
	AutoRenew bool   `json:"auto_renew"`
	UpdatedAt string `json:"updated_at"`
}

// Repository handles all subscription operations.
type Repository struct {
	base *database.Repository
}

// NewRepository creates a subscription repository.
func NewRepository(rc *remote.Client, cache *storage.Store, q *queue.Store, timeout time.Duration) *Repository {
	return &Repository{
		base: database.NewRepository(rc, cache, q, TableName, "user_id", timeout),
	}
}

// Get fetches a subscription by user ID with read-through caching.
func (r *Repository) Get(ctx context.Context, userID string) database.Response[Subscription] {
	if userID == "" {
		return database.Fail[Subscription](fmt.Errorf("user id is required"))
	}

	online := func(ctx context.Context) (*Subscription, error) {
		row, err := r.base.Remote.Table(TableName).SelectOne(ctx, "user_id", userID)
		if err != nil {
			return nil, err
		}
		s, err := fromRow(row)
		if err != nil {
			return nil, err
		}
		database.WriteCached(r.base.Cache, CacheKey, s)
		return s, nil
	}
	offline := func(ctx context.Context) (*Subscription, error) {
		return database.ReadCached[Subscription](r.base.Cache, CacheKey)
	}

	return database.Execute(ctx, r.base, online, offline, nil)
}

// Create starts a subscription on the given plan.
func (r *Repository) Create(ctx context.Context, userID, plan string) database.Response[Subscription] {
	if userID == "" {
		return database.Fail[Subscription](fmt.Errorf("user id is required"))
	}
	duration, ok := planDurations[plan]
	if !ok {
		return database.Fail[Subscription](fmt.Errorf("unknown plan: %s", plan))
	}

	now := time.Now()
	row := map[string]any{
		"user_id":    userID,
		"plan":       plan,
		"status":     StatusActive,
		"start_date": now.Format(time.RFC3339),
		"end_date":   now.Add(duration).Format(time.RFC3339),
		"auto_renew": true,
		"updated_at": now.Format(time.RFC3339),
	}

	online := func(ctx context.Context) (*Subscription, error) {
		stored, err := r.base.Remote.Table(TableName).Insert(ctx, row)
		if err != nil {
			return nil, err
		}
		s, err := fromRow(stored)
		if err != nil {
			return nil, err
		}
		database.WriteCached(r.base.Cache, CacheKey, s)
		return s, nil
	}
	offline := func(ctx context.Context) (*Subscription, error) {
		s, err := fromRow(row)
		if err != nil {
			return nil, err
		}
		database.WriteCached(r.base.Cache, CacheKey, s)
		return s, nil
	}

	sync := &database.SyncData{RecordID: userID, Operation: queue.OpInsert, Data: row}
	return database.Execute(ctx, r.base, online, offline, sync)
}

// Update patches a subscription row by user_id.
func (r *Repository) Update(ctx context.Context, userID string, updates map[string]any) database.Response[Subscription] {
	if userID == "" {
		return database.Fail[Subscription](fmt.Errorf("user id is required"))
	}
	if len(updates) == 0 {
		return database.Fail[Subscription](fmt.Errorf("no updates provided"))
	}

	patch := make(map[string]any, len(updates)+1)
	for field, value := range updates {
		patch[field] = value
	}
	patch["updated_at"] = time.Now().Format(time.RFC3339)

	online := func(ctx context.Context) (*Subscription, error) {
		stored, err := r.base.Remote.Table(TableName).Update(ctx, "user_id", userID, patch)
		if err != nil {
			return nil, err
		}
		s, err := fromRow(stored)
		if err != nil {
			return nil, err
		}
		database.WriteCached(r.base.Cache, CacheKey, s)
		return s, nil
	}
	offline := func(ctx context.Context) (*Subscription, error) {
		return database.MergeCached[Subscription](r.base.Cache, CacheKey, updates)
	}

	sync := &database.SyncData{RecordID: userID, Operation: queue.OpUpdate, Data: updates}
	return database.Execute(ctx, r.base, online, offline, sync)
}

// UpgradePlan moves a user to a new plan, extending end_date by the plan's
// validity period from now.
func (r *Repository) UpgradePlan(ctx context.Context, userID, plan string) database.Response[Subscription] {
	duration, ok := planDurations[plan]
	if !ok {
		return database.Fail[Subscription](fmt.Errorf("unknown plan: %s", plan))
	}

	return r.Update(ctx, userID, map[string]any{
		"plan":       plan,
		"status":     StatusActive,
		"auto_renew": true,
		"end_date":   time.Now().Add(duration).Format(time.RFC3339),
	})
}

// Cancel turns off auto-renewal; the subscription stays usable until its
// current end_date.
func (r *Repository) Cancel(ctx context.Context, userID string) database.Response[Subscription] {
	return r.Update(ctx, userID, map[string]any{
		"status":     StatusCancelled,
		"auto_renew": false,
	})
}

// Reactivate restores auto-renewal on a cancelled subscription.
func (r *Repository) Reactivate(ctx context.Context, userID string) database.Response[Subscription] {
	return r.Update(ctx, userID, map[string]any{
		"status":     StatusActive,
		"auto_renew": true,
	})
}

// Delete removes a subscription row and clears the cache.
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

// Subscribe streams remote changes to one user's subscription.
func (r *Repository) Subscribe(ctx context.Context, userID string, handler func(remote.ChangeEvent)) (*remote.Subscription, error) {
	return r.base.SubscribeToChanges(ctx, userID, handler)
}

// PlanDuration exposes the policy table for callers that render expiry.
func PlanDuration(plan string) (time.Duration, bool) {
	d, ok := planDurations[plan]
	return d, ok
}

func fromRow(row map[string]any) (*Subscription, error) {
	encoded, err := json.Marshal(row)
	if err != nil {
		return nil, fmt.Errorf("encode subscription row: %w", err)
	}
	var s Subscription
	if err := json.Unmarshal(encoded, &s); err == nil {
		return &s, nil
	}
	var list []Subscription
	if err := json.Unmarshal(encoded, &list); err != nil || len(list) == 0 {
		return nil, fmt.Errorf("decode subscription: unexpected shape")
	}
	return &list[0], nil
}

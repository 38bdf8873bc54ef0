package subscription

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/akovalev/syncbridge/internal/database"
	"github.com/akovalev/syncbridge/internal/database/queue"
	"github.com/akovalev/syncbridge/internal/remote"
	"github.com/akovalev/syncbridge/internal/storage"
)

func setupTest(t *testing.T, handler http.Handler) (*Repository, *queue.Store, *storage.Store) {
	dbPath := "./test_subs_" + strings.ReplaceAll(t.Name(), "/", "_") + ".db"

	store, err := storage.Open(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() {
		store.Close()
		os.Remove(dbPath)
	})

	cfg := remote.Config{Timeout: 2 * time.Second}
	if handler != nil {
		server := httptest.NewServer(handler)
		t.Cleanup(server.Close)
		cfg.BaseURL = server.URL
		cfg.APIKey = "key"
	}

	q := queue.NewStore(store)
	return NewRepository(remote.NewClient(cfg), store, q, 2*time.Second), q, store
}

func echoHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		_ = json.NewEncoder(w).Encode([]map[string]any{body})
	})
}

func TestCreate_AppliesPlanDuration(t *testing.T) {
	tests := []struct {
		plan string
		want time.Duration
	}{
		{"free", 365 * 24 * time.Hour},
		{"pro", 30 * 24 * time.Hour},
		{"premium", 30 * 24 * time.Hour},
	}

	for _, tt := range tests {
		t.Run(tt.plan, func(t *testing.T) {
			repo, _, _ := setupTest(t, echoHandler())

			resp := repo.Create(context.Background(), "u1", tt.plan)
			require.True(t, resp.Success)
			assert.Equal(t, tt.plan, resp.Data.Plan)
			assert.Equal(t, StatusActive, resp.Data.Status)
			assert.True(t, resp.Data.AutoRenew)

			start, err := time.Parse(time.RFC3339, resp.Data.StartDate)
			require.NoError(t, err)
			end, err := time.Parse(time.RFC3339, resp.Data.EndDate)
			require.NoError(t, err)
			assert.InDelta(t, tt.want.Seconds(), end.Sub(start).Seconds(), 2)
		})
	}
}

func TestCreate_UnknownPlanRejectedLocally(t *testing.T) {
	repo, q, _ := setupTest(t, nil)

	resp := repo.Create(context.Background(), "u1", "enterprise")
	assert.False(t, resp.Success)
	require.Error(t, resp.Err)
	assert.Contains(t, resp.Err.Error(), "unknown plan")

	// Rejected before anything is queued.
	items, err := q.Load()
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestCancel_KeepsAccessUntilEndDate(t *testing.T) {
	repo, q, store := setupTest(t, nil)

	database.WriteCached(store, CacheKey, &Subscription{
		UserID:    "u1",
		Plan:      "pro",
		Status:    StatusActive,
		EndDate:   "2027-01-01T00:00:00Z",
		AutoRenew: true,
	})

	resp := repo.Cancel(context.Background(), "u1")
	require.True(t, resp.Success)
	assert.Equal(t, StatusCancelled, resp.Data.Status)
	assert.False(t, resp.Data.AutoRenew)
	// end_date is untouched: access runs out on its own.
	assert.Equal(t, "2027-01-01T00:00:00Z", resp.Data.EndDate)

	items, err := q.Load()
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, queue.OpUpdate, items[0].Operation)
	assert.Equal(t, StatusCancelled, items[0].Data["status"])
}

func TestReactivate(t *testing.T) {
	repo, _, store := setupTest(t, nil)

	database.WriteCached(store, CacheKey, &Subscription{
		UserID: "u1", Plan: "pro", Status: StatusCancelled,
	})

	resp := repo.Reactivate(context.Background(), "u1")
	require.True(t, resp.Success)
	assert.Equal(t, StatusActive, resp.Data.Status)
	assert.True(t, resp.Data.AutoRenew)
}

func TestUpgradePlan_ExtendsFromNow(t *testing.T) {
	repo, _, store := setupTest(t, nil)

	database.WriteCached(store, CacheKey, &Subscription{
		UserID: "u1", Plan: "free", Status: StatusActive,
	})

	resp := repo.UpgradePlan(context.Background(), "u1", "premium")
	require.True(t, resp.Success)
	assert.Equal(t, "premium", resp.Data.Plan)

	end, err := time.Parse(time.RFC3339, resp.Data.EndDate)
	require.NoError(t, err)
	assert.InDelta(t, (30 * 24 * time.Hour).Seconds(), time.Until(end).Seconds(), 5)
}

func TestUpgradePlan_UnknownPlan(t *testing.T) {
	repo, _, _ := setupTest(t, nil)

	resp := repo.UpgradePlan(context.Background(), "u1", "bogus")
	assert.False(t, resp.Success)
	assert.Error(t, resp.Err)
}

func TestGet_OfflineServesCache(t *testing.T) {
	repo, _, store := setupTest(t, nil)

	database.WriteCached(store, CacheKey, &Subscription{UserID: "u1", Plan: "pro"})

	resp := repo.Get(context.Background(), "u1")
	require.True(t, resp.Success)
	assert.Equal(t, "pro", resp.Data.Plan)
}

func TestPlanDuration(t *testing.T) {
	d, ok := PlanDuration("free")
	assert.True(t, ok)
	assert.Equal(t, 365*24*time.Hour, d)

	_, ok = PlanDuration("bogus")
	assert.False(t, ok)
}

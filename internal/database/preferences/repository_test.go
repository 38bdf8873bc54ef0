package preferences

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
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
	dbPath := "./test_prefs_" + t.Name() + ".db"

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

func TestCreate_SendsDefaults(t *testing.T) {
	var body map[string]any
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&body)
		_ = json.NewEncoder(w).Encode([]map[string]any{body})
	})
	repo, _, _ := setupTest(t, handler)

	resp := repo.Create(context.Background(), "u1")
	require.True(t, resp.Success)

	assert.Equal(t, "u1", body["user_id"])
	assert.Equal(t, "system", body["theme"])
	assert.Equal(t, "en", body["language"])
	assert.Equal(t, true, body["notifications_enabled"])
	assert.Equal(t, false, body["email_updates"])

	assert.Equal(t, "system", resp.Data.Theme)
	assert.True(t, resp.Data.NotificationsEnabled)
}

func TestCreate_OfflineQueuesDefaults(t *testing.T) {
	repo, q, _ := setupTest(t, nil)

	resp := repo.Create(context.Background(), "u1")
	require.True(t, resp.Success)
	assert.Equal(t, "en", resp.Data.Language)

	items, err := q.Load()
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, TableName, items[0].TableName)
	assert.Equal(t, queue.OpInsert, items[0].Operation)
	assert.Equal(t, "system", items[0].Data["theme"])
}

func TestUpdate_GoesThroughProcedure(t *testing.T) {
	var rpcArgs map[string]any
	var patched bool
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/rest/v1/rpc/"+UpdateRPC {
			_ = json.NewDecoder(r.Body).Decode(&rpcArgs)
			_ = json.NewEncoder(w).Encode(map[string]any{
				"user_id": "u1", "theme": "dark", "language": "en",
			})
			return
		}
		patched = true
		w.WriteHeader(http.StatusOK)
	})
	repo, q, _ := setupTest(t, handler)

	resp := repo.Update(context.Background(), "u1", map[string]any{"theme": "dark"})
	require.True(t, resp.Success)
	assert.Equal(t, "dark", resp.Data.Theme)

	assert.Equal(t, "u1", rpcArgs["user_id"])
	assert.Equal(t, "dark", rpcArgs["theme"])
	assert.False(t, patched)

	items, err := q.Load()
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestUpdate_FallsBackToDirectPatch(t *testing.T) {
	var patched bool
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/rest/v1/rpc/"+UpdateRPC {
			w.WriteHeader(http.StatusNotFound)
			_ = json.NewEncoder(w).Encode(map[string]any{"message": "function not found"})
			return
		}
		patched = true
		assert.Equal(t, http.MethodPatch, r.Method)
		assert.Contains(t, r.URL.RawQuery, "user_id=eq.u1")
		_ = json.NewEncoder(w).Encode([]map[string]any{
			{"user_id": "u1", "theme": "dark"},
		})
	})
	repo, _, _ := setupTest(t, handler)

	resp := repo.Update(context.Background(), "u1", map[string]any{"theme": "dark"})
	require.True(t, resp.Success)
	assert.True(t, patched)
	assert.Equal(t, "dark", resp.Data.Theme)
}

func TestUpdate_OfflineMergesIntoCache(t *testing.T) {
	repo, q, store := setupTest(t, nil)

	database.WriteCached(store, CacheKey, &Preferences{
		UserID: "u1", Theme: "light", Language: "en", NotificationsEnabled: true,
	})

	resp := repo.Update(context.Background(), "u1", map[string]any{"theme": "dark"})
	require.True(t, resp.Success)
	assert.Equal(t, "dark", resp.Data.Theme)
	assert.Equal(t, "en", resp.Data.Language)

	items, err := q.Load()
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, queue.OpUpdate, items[0].Operation)
	assert.Equal(t, map[string]any{"theme": "dark"}, items[0].Data)
}

func TestGet_OfflineServesCache(t *testing.T) {
	repo, _, store := setupTest(t, nil)

	database.WriteCached(store, CacheKey, &Preferences{UserID: "u1", Theme: "dark"})

	resp := repo.Get(context.Background(), "u1")
	require.True(t, resp.Success)
	assert.Equal(t, "dark", resp.Data.Theme)
}

func TestDelete_OfflineQueuesAndClearsCache(t *testing.T) {
	repo, q, store := setupTest(t, nil)

	database.WriteCached(store, CacheKey, &Preferences{UserID: "u1"})

	resp := repo.Delete(context.Background(), "u1")
	require.True(t, resp.Success)

	raw, err := store.Get(CacheKey)
	require.NoError(t, err)
	assert.Empty(t, raw)

	items, err := q.Load()
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, queue.OpDelete, items[0].Operation)
}

package database

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/akovalev/syncbridge/internal/database/queue"
	"github.com/akovalev/syncbridge/internal/remote"
	"github.com/akovalev/syncbridge/internal/storage"
)

type testEntity struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

func setupTestRepo(t *testing.T, available bool) (*Repository, func()) {
	dbPath := "./test_repo_" + t.Name() + ".db"

	store, err := storage.Open(dbPath)
	require.NoError(t, err)

	cfg := remote.Config{Timeout: time.Second}
	if available {
		// No requests are issued in these tests; the online func is
		// supplied directly. The client only needs to report available.
		cfg.BaseURL = "https://backend.test"
		cfg.APIKey = "key"
	}

	repo := NewRepository(remote.NewClient(cfg), store, queue.NewStore(store), "profiles", "id", time.Second)

	cleanup := func() {
		store.Close()
		os.Remove(dbPath)
	}
	return repo, cleanup
}

func TestExecute_OnlineSuccess(t *testing.T) {
	repo, cleanup := setupTestRepo(t, true)
	defer cleanup()

	online := func(ctx context.Context) (*testEntity, error) {
		return &testEntity{ID: "u1", Name: "live"}, nil
	}
	offline := func(ctx context.Context) (*testEntity, error) {
		t.Fatal("offline fallback must not run when online succeeds")
		return nil, nil
	}

	resp := Execute(context.Background(), repo, online, offline, nil)
	assert.True(t, resp.Success)
	assert.NoError(t, resp.Err)
	require.NotNil(t, resp.Data)
	assert.Equal(t, "live", resp.Data.Name)
}

func TestExecute_OnlineFailure_DegradedFallback(t *testing.T) {
	repo, cleanup := setupTestRepo(t, true)
	defer cleanup()

	remoteErr := errors.New("backend exploded")
	online := func(ctx context.Context) (*testEntity, error) {
		return nil, remoteErr
	}
	offline := func(ctx context.Context) (*testEntity, error) {
		return &testEntity{ID: "u1", Name: "cached"}, nil
	}
	sync := &SyncData{RecordID: "u1", Operation: queue.OpUpdate, Data: map[string]any{"name": "x"}}

	resp := Execute(context.Background(), repo, online, offline, sync)

	// Fallback data with the original error, not a success.
	assert.False(t, resp.Success)
	assert.ErrorIs(t, resp.Err, remoteErr)
	require.NotNil(t, resp.Data)
	assert.Equal(t, "cached", resp.Data.Name)

	// The write was queued for replay.
	items, err := repo.Queue.Load()
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "u1", items[0].RecordID)
	assert.Equal(t, queue.OpUpdate, items[0].Operation)
	assert.Equal(t, queue.StatusPending, items[0].Status)
}

func TestExecute_OnlineFailure_EnqueuesEvenIfFallbackFails(t *testing.T) {
	repo, cleanup := setupTestRepo(t, true)
	defer cleanup()

	online := func(ctx context.Context) (*testEntity, error) {
		return nil, errors.New("backend exploded")
	}
	offline := func(ctx context.Context) (*testEntity, error) {
		return nil, errors.New("cache empty too")
	}
	sync := &SyncData{RecordID: "u1", Operation: queue.OpInsert, Data: map[string]any{"id": "u1"}}

	resp := Execute(context.Background(), repo, online, offline, sync)

	assert.False(t, resp.Success)
	assert.Nil(t, resp.Data)
	assert.Contains(t, resp.Err.Error(), "backend exploded")

	// Enqueue happens before the fallback, so the write survives.
	items, err := repo.Queue.Load()
	require.NoError(t, err)
	require.Len(t, items, 1)
}

func TestExecute_Offline_ServesFallbackAsSuccess(t *testing.T) {
	repo, cleanup := setupTestRepo(t, false)
	defer cleanup()

	offline := func(ctx context.Context) (*testEntity, error) {
		return &testEntity{ID: "u1", Name: "cached"}, nil
	}

	resp := Execute[testEntity](context.Background(), repo, nil, offline, nil)
	assert.True(t, resp.Success)
	assert.NoError(t, resp.Err)
	assert.Equal(t, "cached", resp.Data.Name)
}

func TestExecute_Offline_EnqueuesWrite(t *testing.T) {
	repo, cleanup := setupTestRepo(t, false)
	defer cleanup()

	offline := func(ctx context.Context) (*testEntity, error) {
		return &testEntity{ID: "u1"}, nil
	}
	sync := &SyncData{RecordID: "u1", Operation: queue.OpDelete}

	resp := Execute(context.Background(), repo, nil, offline, sync)
	assert.True(t, resp.Success)

	items, err := repo.Queue.Load()
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, queue.OpDelete, items[0].Operation)
}

func TestExecute_Offline_NoFallback(t *testing.T) {
	repo, cleanup := setupTestRepo(t, false)
	defer cleanup()

	resp := Execute[testEntity](context.Background(), repo, nil, nil, nil)
	assert.False(t, resp.Success)
	assert.Nil(t, resp.Data)
	assert.ErrorIs(t, resp.Err, ErrOfflineNoFallback)
}

func TestExecute_Offline_FallbackError(t *testing.T) {
	repo, cleanup := setupTestRepo(t, false)
	defer cleanup()

	offline := func(ctx context.Context) (*testEntity, error) {
		return nil, errors.New("nothing cached")
	}

	resp := Execute(context.Background(), repo, nil, offline, nil)
	assert.False(t, resp.Success)
	assert.Contains(t, resp.Err.Error(), "nothing cached")
}

func TestReadCached_MissingKeyIsError(t *testing.T) {
	repo, cleanup := setupTestRepo(t, false)
	defer cleanup()

	_, err := ReadCached[testEntity](repo.Cache, "userData")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no cached value")
}

func TestWriteCached_ReadCached_Roundtrip(t *testing.T) {
	repo, cleanup := setupTestRepo(t, false)
	defer cleanup()

	WriteCached(repo.Cache, "userData", &testEntity{ID: "u1", Name: "Ann"})

	got, err := ReadCached[testEntity](repo.Cache, "userData")
	require.NoError(t, err)
	assert.Equal(t, "Ann", got.Name)
}

func TestMergeCached_ShallowMerge(t *testing.T) {
	repo, cleanup := setupTestRepo(t, false)
	defer cleanup()

	WriteCached(repo.Cache, "userData", &testEntity{ID: "u1", Name: "Ann"})

	merged, err := MergeCached[testEntity](repo.Cache, "userData", map[string]any{"name": "Bea"})
	require.NoError(t, err)
	assert.Equal(t, "u1", merged.ID)
	assert.Equal(t, "Bea", merged.Name)

	// The merge is persisted, not just returned.
	got, err := ReadCached[testEntity](repo.Cache, "userData")
	require.NoError(t, err)
	assert.Equal(t, "Bea", got.Name)
}

func TestMergeCached_EmptyCacheStartsFresh(t *testing.T) {
	repo, cleanup := setupTestRepo(t, false)
	defer cleanup()

	merged, err := MergeCached[testEntity](repo.Cache, "userData", map[string]any{"id": "u1"})
	require.NoError(t, err)
	assert.Equal(t, "u1", merged.ID)
}

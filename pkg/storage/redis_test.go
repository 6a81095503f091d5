//go:build integration

package storage

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/redis"

	"github.com/riverinsight/riverd/pkg/meander"
)

// setupRedisContainer starts a redis container for testing.
func setupRedisContainer(t *testing.T) string {
	t.Helper()

	ctx := context.Background()

	redisContainer, err := redis.Run(ctx, "redis:7-alpine")
	if err != nil {
		t.Fatalf("failed to start redis container: %v", err)
	}

	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(redisContainer); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	endpoint, err := redisContainer.ConnectionString(ctx)
	if err != nil {
		t.Fatalf("failed to get redis endpoint: %v", err)
	}
	addr := endpoint
	if len(endpoint) > 8 && endpoint[:8] == "redis://" {
		addr = endpoint[8:]
	}
	return addr
}

func TestRedisRunStore_New_Success(t *testing.T) {
	addr := setupRedisContainer(t)

	store, err := NewRedisRunStore(addr, "", 0, time.Minute)
	if err != nil {
		t.Fatalf("NewRedisRunStore() error = %v", err)
	}
	defer store.Close()

	if err := store.Ping(context.Background()); err != nil {
		t.Errorf("Ping() error = %v", err)
	}
}

func TestRedisRunStore_New_EmptyAddr(t *testing.T) {
	if _, err := NewRedisRunStore("", "", 0, time.Minute); err == nil {
		t.Fatal("expected error for empty address, got nil")
	}
}

func TestRedisRunStore_PutOnce_Get(t *testing.T) {
	addr := setupRedisContainer(t)
	store, err := NewRedisRunStore(addr, "", 0, time.Minute)
	if err != nil {
		t.Fatalf("NewRedisRunStore() error = %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	run := testRun("2025_3", 3)

	if err := store.PutOnce(ctx, "2025_3", run); err != nil {
		t.Fatalf("PutOnce() error = %v", err)
	}

	got, err := store.Get(ctx, "2025_3")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Key != run.Key || got.Steps() != run.Steps() {
		t.Errorf("Get() = %v/%d steps, want %v/%d steps", got.Key, got.Steps(), run.Key, run.Steps())
	}
	for s := range run.Predictions {
		for i, v := range run.Predictions[s] {
			if got.Predictions[s][i] != v {
				t.Fatalf("prediction[%d][%d] = %v, want %v", s, i, got.Predictions[s][i], v)
			}
		}
	}
}

func TestRedisRunStore_Get_Missing(t *testing.T) {
	addr := setupRedisContainer(t)
	store, err := NewRedisRunStore(addr, "", 0, time.Minute)
	if err != nil {
		t.Fatalf("NewRedisRunStore() error = %v", err)
	}
	defer store.Close()

	if _, err := store.Get(context.Background(), "2030_1"); !errors.Is(err, meander.ErrRunNotFound) {
		t.Errorf("Get() error = %v, want ErrRunNotFound", err)
	}
}

func TestRedisRunStore_PutOnce_WriteOnce(t *testing.T) {
	addr := setupRedisContainer(t)
	store, err := NewRedisRunStore(addr, "", 0, time.Minute)
	if err != nil {
		t.Fatalf("NewRedisRunStore() error = %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	if err := store.PutOnce(ctx, "2025_3", testRun("2025_3", 3)); err != nil {
		t.Fatalf("first PutOnce() error = %v", err)
	}
	if err := store.PutOnce(ctx, "2025_3", testRun("2025_3", 5)); !errors.Is(err, meander.ErrCacheOverwrite) {
		t.Fatalf("second PutOnce() error = %v, want ErrCacheOverwrite", err)
	}
}

func TestRedisRunStore_PutOnce_ConcurrentSingleWinner(t *testing.T) {
	addr := setupRedisContainer(t)
	store, err := NewRedisRunStore(addr, "", 0, time.Minute)
	if err != nil {
		t.Fatalf("NewRedisRunStore() error = %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	var wins int64
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := store.PutOnce(ctx, "2026_1", testRun("2026_1", 5))
			if err == nil {
				atomic.AddInt64(&wins, 1)
			} else if !errors.Is(err, meander.ErrCacheOverwrite) {
				t.Errorf("PutOnce() error = %v", err)
			}
		}()
	}
	wg.Wait()

	if wins != 1 {
		t.Errorf("%d concurrent PutOnce() calls won, want exactly 1", wins)
	}
}

func TestRedisRunStore_DeleteAndClear(t *testing.T) {
	addr := setupRedisContainer(t)
	store, err := NewRedisRunStore(addr, "", 0, time.Minute)
	if err != nil {
		t.Fatalf("NewRedisRunStore() error = %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	for _, key := range []string{"2025_1", "2025_2", "2025_3"} {
		if err := store.PutOnce(ctx, key, testRun(key, 1)); err != nil {
			t.Fatalf("PutOnce(%s) error = %v", key, err)
		}
	}

	if err := store.Delete(ctx, "2025_2"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := store.Get(ctx, "2025_2"); !errors.Is(err, meander.ErrRunNotFound) {
		t.Errorf("Get() after Delete() error = %v, want ErrRunNotFound", err)
	}

	if err := store.Clear(ctx); err != nil {
		t.Fatalf("Clear() error = %v", err)
	}
	for _, key := range []string{"2025_1", "2025_3"} {
		if _, err := store.Get(ctx, key); !errors.Is(err, meander.ErrRunNotFound) {
			t.Errorf("Get(%s) after Clear() error = %v, want ErrRunNotFound", key, err)
		}
	}
}

func TestRedisRunStore_InvalidKey(t *testing.T) {
	addr := setupRedisContainer(t)
	store, err := NewRedisRunStore(addr, "", 0, time.Minute)
	if err != nil {
		t.Fatalf("NewRedisRunStore() error = %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	if err := store.PutOnce(ctx, "2025 3", testRun("2025_3", 1)); err == nil {
		t.Error("expected error for key with space, got nil")
	}
	if _, err := store.Get(ctx, ""); err == nil {
		t.Error("expected error for empty key, got nil")
	}
}

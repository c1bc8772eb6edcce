package scheduler

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"cassandra/internal/history"
	"cassandra/internal/storage"
)

func setupTestStore(t *testing.T) *storage.SessionStore {
	t.Helper()
	db, err := storage.Open(filepath.Join(t.TempDir(), "scheduler_test.db"))
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return storage.NewSessionStore(db)
}

func TestSessionManager(t *testing.T) {
	ctx := context.Background()

	t.Run("Create and Get", func(t *testing.T) {
		sm := NewSessionManager(setupTestStore(t), 10)

		sess, err := sm.Create(ctx, "")
		if err != nil {
			t.Fatalf("failed to create session: %v", err)
		}
		if sess.ID == "" {
			t.Error("expected non-empty session ID")
		}

		got, err := sm.Get(ctx, sess.ID)
		if err != nil {
			t.Fatalf("failed to get session: %v", err)
		}
		if got != sess {
			t.Error("expected the cached session instance")
		}
	})

	t.Run("Get cache miss loads turns and summary", func(t *testing.T) {
		store := setupTestStore(t)
		sm := NewSessionManager(store, 10)

		if _, err := store.Create(ctx, "stored"); err != nil {
			t.Fatalf("create: %v", err)
		}
		store.AppendTurn(ctx, "stored", history.Turn{Role: history.RoleUser, Content: "hi"})
		store.AppendTurn(ctx, "stored", history.Turn{Role: history.RoleAssistant, Content: "hello"})
		store.SaveSummary(ctx, "stored", "said hi", 1, 1)

		sess, err := sm.Get(ctx, "stored")
		if err != nil {
			t.Fatalf("failed to get session: %v", err)
		}
		if sess.Log.Len() != 2 {
			t.Errorf("expected 2 turns, got %d", sess.Log.Len())
		}
		if sess.Summary() != "said hi" {
			t.Errorf("expected restored summary, got %q", sess.Summary())
		}
	})

	t.Run("Get not found", func(t *testing.T) {
		sm := NewSessionManager(setupTestStore(t), 10)

		if _, err := sm.Get(ctx, "non-existent"); err != ErrSessionNotFound {
			t.Errorf("expected ErrSessionNotFound, got %v", err)
		}
	})

	t.Run("GetOrCreate", func(t *testing.T) {
		sm := NewSessionManager(setupTestStore(t), 10)

		first, err := sm.GetOrCreate(ctx, "named")
		if err != nil {
			t.Fatalf("GetOrCreate failed: %v", err)
		}
		second, err := sm.GetOrCreate(ctx, "named")
		if err != nil {
			t.Fatalf("GetOrCreate failed: %v", err)
		}
		if first != second {
			t.Error("expected the same session on second call")
		}

		fresh, err := sm.GetOrCreate(ctx, "")
		if err != nil || fresh.ID == "" || fresh.ID == "named" {
			t.Errorf("expected a new generated session, got %v, %v", fresh, err)
		}
	})

	t.Run("Delete", func(t *testing.T) {
		sm := NewSessionManager(setupTestStore(t), 10)

		sess, _ := sm.Create(ctx, "")
		if err := sm.Delete(ctx, sess.ID); err != nil {
			t.Fatalf("failed to delete: %v", err)
		}
		if _, err := sm.Get(ctx, sess.ID); err != ErrSessionNotFound {
			t.Errorf("expected ErrSessionNotFound after delete, got %v", err)
		}
		if err := sm.Delete(ctx, sess.ID); err != ErrSessionNotFound {
			t.Errorf("expected ErrSessionNotFound on second delete, got %v", err)
		}
	})

	t.Run("LRU eviction", func(t *testing.T) {
		sm := NewSessionManager(setupTestStore(t), 2)

		a, _ := sm.Create(ctx, "a")
		time.Sleep(5 * time.Millisecond)
		sm.Create(ctx, "b")
		time.Sleep(5 * time.Millisecond)
		sm.Get(ctx, "a")
		time.Sleep(5 * time.Millisecond)
		sm.Create(ctx, "c")

		if sm.Len() != 2 {
			t.Errorf("expected 2 cached sessions, got %d", sm.Len())
		}
		got, err := sm.Get(ctx, "a")
		if err != nil || got != a {
			t.Error("recently used session should stay cached")
		}

		// b was evicted from memory but is still in the store
		b, err := sm.Get(ctx, "b")
		if err != nil || b.ID != "b" {
			t.Errorf("expected b to reload from store, got %v", err)
		}
	})

	t.Run("Evict idle", func(t *testing.T) {
		sm := NewSessionManager(setupTestStore(t), 10)

		sm.Create(ctx, "old")
		time.Sleep(5 * time.Millisecond)
		cutoff := time.Now()
		time.Sleep(5 * time.Millisecond)
		sm.Create(ctx, "new")

		if n := sm.Evict(cutoff); n != 1 {
			t.Errorf("expected 1 evicted, got %d", n)
		}
		if sm.Len() != 1 {
			t.Errorf("expected 1 cached session, got %d", sm.Len())
		}
	})

	t.Run("Clear and Invalidate", func(t *testing.T) {
		sm := NewSessionManager(setupTestStore(t), 10)

		sm.Create(ctx, "x")
		sm.Create(ctx, "y")
		sm.Invalidate("x")
		if sm.Len() != 1 {
			t.Errorf("expected 1 after invalidate, got %d", sm.Len())
		}
		sm.Clear()
		if sm.Len() != 0 {
			t.Errorf("expected 0 after clear, got %d", sm.Len())
		}
	})
}

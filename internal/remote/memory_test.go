package remote

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestMemoryRepositoryCRUD(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	if _, err := repo.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get() = %v for missing doc, want ErrNotFound", err)
	}

	doc := SessionDoc{
		ID:        "1",
		Title:     "first",
		Messages:  []MessageDoc{{Role: "user", Content: "hi"}},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := repo.Put(ctx, doc); err != nil {
		t.Fatalf("Put() error: %v", err)
	}

	got, err := repo.Get(ctx, "1")
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if got.Title != "first" || len(got.Messages) != 1 {
		t.Errorf("Get() = %+v", got)
	}

	// Put replaces the whole document
	doc.Title = "renamed"
	repo.Put(ctx, doc)
	got, _ = repo.Get(ctx, "1")
	if got.Title != "renamed" {
		t.Errorf("Title = %q after overwrite, want %q", got.Title, "renamed")
	}

	if err := repo.Delete(ctx, "1"); err != nil {
		t.Fatalf("Delete() error: %v", err)
	}
	if _, err := repo.Get(ctx, "1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get() = %v after delete, want ErrNotFound", err)
	}
	// Deleting again is a no-op
	if err := repo.Delete(ctx, "1"); err != nil {
		t.Errorf("second Delete() error: %v", err)
	}
}

func TestMemoryRepositoryListOrder(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	repo.Put(ctx, SessionDoc{ID: "a", UpdatedAt: base})
	repo.Put(ctx, SessionDoc{ID: "b", UpdatedAt: base.Add(time.Hour)})
	repo.Put(ctx, SessionDoc{ID: "c", UpdatedAt: base.Add(time.Minute)})

	docs, err := repo.List(ctx)
	if err != nil {
		t.Fatalf("List() error: %v", err)
	}
	want := []string{"b", "c", "a"}
	if len(docs) != len(want) {
		t.Fatalf("List() returned %d docs, want %d", len(docs), len(want))
	}
	for i, id := range want {
		if docs[i].ID != id {
			t.Errorf("docs[%d].ID = %s, want %s", i, docs[i].ID, id)
		}
	}
}

func TestMemoryRepositorySubscribe(t *testing.T) {
	repo := NewMemoryRepository()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := repo.Subscribe(ctx)
	if err != nil {
		t.Fatalf("Subscribe() error: %v", err)
	}

	now := time.Now()
	repo.Put(context.Background(), SessionDoc{ID: "1", UpdatedAt: now})

	select {
	case docs := <-ch:
		if len(docs) != 1 || docs[0].ID != "1" {
			t.Errorf("notification = %+v", docs)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no change notification delivered")
	}

	cancel()
	select {
	case _, ok := <-ch:
		if ok {
			// A buffered notification may still drain first
			if _, ok := <-ch; ok {
				t.Error("channel still open after context cancellation")
			}
		}
	case <-time.After(2 * time.Second):
		t.Fatal("channel not closed after cancellation")
	}
}

func TestMemoryRepositoryFailureHooks(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()
	boom := errors.New("boom")

	repo.PutErr = boom
	if err := repo.Put(ctx, SessionDoc{ID: "1"}); !errors.Is(err, boom) {
		t.Errorf("Put() = %v, want injected error", err)
	}
	repo.PutErr = nil

	repo.PutErrFor = map[string]error{"2": boom}
	if err := repo.Put(ctx, SessionDoc{ID: "1"}); err != nil {
		t.Errorf("Put(1) = %v, want nil", err)
	}
	if err := repo.Put(ctx, SessionDoc{ID: "2"}); !errors.Is(err, boom) {
		t.Errorf("Put(2) = %v, want injected error", err)
	}

	repo.DeleteErr = boom
	if err := repo.Delete(ctx, "1"); !errors.Is(err, boom) {
		t.Errorf("Delete() = %v, want injected error", err)
	}

	repo.ListErr = boom
	if _, err := repo.List(ctx); !errors.Is(err, boom) {
		t.Errorf("List() = %v, want injected error", err)
	}
}

func TestMemoryRepositoryStatsMerge(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()
	now := time.Now()

	repo.PutStats(ctx, UserStats{TotalChats: 3, LastChatCountUpdate: now})
	repo.PutStats(ctx, UserStats{LastLoginAt: now})

	stats, err := repo.GetStats(ctx)
	if err != nil {
		t.Fatalf("GetStats() error: %v", err)
	}
	if stats.TotalChats != 3 {
		t.Errorf("TotalChats = %d after login-only merge, want 3", stats.TotalChats)
	}
	if stats.LastLoginAt.IsZero() {
		t.Error("LastLoginAt not merged")
	}
}

package chat

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"neuroai/internal/remote"
)

func legacySessions(n int) []*Session {
	base := time.Date(2025, 5, 1, 9, 0, 0, 0, time.UTC)
	out := make([]*Session, 0, n)
	for i := 0; i < n; i++ {
		ts := base.Add(time.Duration(i) * time.Hour)
		out = append(out, &Session{
			ID:        newSessionID(ts),
			Title:     fmt.Sprintf("legacy %d", i),
			Messages:  []Message{{Role: RoleUser, Content: fmt.Sprintf("question %d", i)}},
			CreatedAt: ts,
			UpdatedAt: ts,
		})
	}
	return out
}

func TestMigrateAllSessions(t *testing.T) {
	cache := &fakeCache{}
	cache.seed(t, legacySessions(3))
	repo := remote.NewMemoryRepository()

	m := NewMigrator(cache, repo, testLogger())
	summary := m.Run(context.Background())

	if !summary.Success {
		t.Fatalf("Run() failed: %s", summary.Message)
	}
	if summary.Count != 3 {
		t.Errorf("Count = %d, want 3", summary.Count)
	}
	if summary.Message != "Successfully migrated 3 chat sessions" {
		t.Errorf("Message = %q", summary.Message)
	}
	if repo.Len() != 3 {
		t.Errorf("remote holds %d docs, want 3", repo.Len())
	}
	if !cache.cleared {
		t.Error("legacy cache not cleared after successful migration")
	}
	stats, _ := repo.GetStats(context.Background())
	if stats.TotalChats != 3 {
		t.Errorf("TotalChats = %d, want 3", stats.TotalChats)
	}
	if stats.MigratedAt.IsZero() {
		t.Error("MigratedAt not recorded")
	}
}

func TestMigrateSkipsFailingSessions(t *testing.T) {
	sessions := legacySessions(3)
	cache := &fakeCache{}
	cache.seed(t, sessions)
	repo := remote.NewMemoryRepository()
	repo.PutErrFor = map[string]error{sessions[1].ID: errors.New("write refused")}

	m := NewMigrator(cache, repo, testLogger())
	summary := m.Run(context.Background())

	if !summary.Success {
		t.Fatalf("Run() failed: %s", summary.Message)
	}
	if summary.Count != 2 {
		t.Errorf("Count = %d, want 2", summary.Count)
	}
	if summary.Message != "Successfully migrated 2 chat sessions" {
		t.Errorf("Message = %q", summary.Message)
	}
	if !cache.cleared {
		t.Error("cache must clear when at least one session migrated")
	}
}

func TestMigrateKeepsCacheWhenNothingMigrated(t *testing.T) {
	cache := &fakeCache{}
	cache.seed(t, legacySessions(2))
	repo := remote.NewMemoryRepository()
	repo.PutErr = errors.New("backend down")

	m := NewMigrator(cache, repo, testLogger())
	summary := m.Run(context.Background())

	if summary.Count != 0 {
		t.Errorf("Count = %d, want 0", summary.Count)
	}
	if cache.cleared {
		t.Error("cache cleared although no session made it across")
	}
	if len(cache.blob) == 0 {
		t.Error("legacy blob lost")
	}
}

func TestMigrateEmptyCache(t *testing.T) {
	m := NewMigrator(&fakeCache{}, remote.NewMemoryRepository(), testLogger())
	summary := m.Run(context.Background())

	if !summary.Success || summary.Message != "No local data to migrate" {
		t.Errorf("summary = %+v", summary)
	}
}

func TestMigrateEmptyCollection(t *testing.T) {
	cache := &fakeCache{blob: []byte("[]")}
	m := NewMigrator(cache, remote.NewMemoryRepository(), testLogger())
	summary := m.Run(context.Background())

	if !summary.Success || summary.Message != "No valid sessions to migrate" {
		t.Errorf("summary = %+v", summary)
	}
}

func TestMigrateMalformedBlob(t *testing.T) {
	cache := &fakeCache{blob: []byte("{not json")}
	m := NewMigrator(cache, remote.NewMemoryRepository(), testLogger())
	summary := m.Run(context.Background())

	if summary.Success {
		t.Error("Success = true for malformed blob")
	}
	if summary.Message != "Failed to migrate local data" {
		t.Errorf("Message = %q", summary.Message)
	}
}

func TestMigrateUnreadableCache(t *testing.T) {
	cache := &fakeCache{loadErr: errors.New("disk error")}
	m := NewMigrator(cache, remote.NewMemoryRepository(), testLogger())
	summary := m.Run(context.Background())

	if summary.Success {
		t.Error("Success = true for unreadable cache")
	}
}

func TestMigrateRerunIsNoop(t *testing.T) {
	cache := &fakeCache{}
	cache.seed(t, legacySessions(2))
	repo := remote.NewMemoryRepository()

	m := NewMigrator(cache, repo, testLogger())
	first := m.Run(context.Background())
	if first.Count != 2 {
		t.Fatalf("first run migrated %d, want 2", first.Count)
	}

	second := m.Run(context.Background())
	if second.Message != "No local data to migrate" {
		t.Errorf("second run = %+v, want clean no-op", second)
	}
	if repo.Len() != 2 {
		t.Errorf("remote holds %d docs after rerun, want 2", repo.Len())
	}
}

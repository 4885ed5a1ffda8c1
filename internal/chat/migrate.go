package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"neuroai/internal/logging"
	"neuroai/internal/remote"
)

// MigrationSummary reports the outcome of one legacy migration run
type MigrationSummary struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Count   int    `json:"count"`
}

// Migrator copies the legacy local-only session collection into the remote
// repository. It runs at most once per authenticated sign-in, after a
// repository becomes available.
type Migrator struct {
	cache  LocalCache
	repo   remote.Repository
	logger *logging.Logger
}

// NewMigrator creates a migration coordinator
func NewMigrator(cache LocalCache, repo remote.Repository, logger *logging.Logger) *Migrator {
	return &Migrator{cache: cache, repo: repo, logger: logger}
}

// RecordLogin stamps the sign-in time into the remote user statistics
func (m *Migrator) RecordLogin(ctx context.Context) error {
	return m.repo.PutStats(ctx, remote.UserStats{LastLoginAt: time.Now()})
}

// Run migrates every legacy session individually. A failure on one session
// is logged and skipped, never aborting the rest. The legacy cache is
// cleared, and the remote chat count set to the migrated total, only when at
// least one session made it across.
func (m *Migrator) Run(ctx context.Context) MigrationSummary {
	blob, err := m.cache.LoadSessionBlob(ctx)
	if err != nil {
		m.logger.Error("migration aborted, legacy cache unreadable: %v", err)
		return MigrationSummary{Success: false, Message: "Failed to migrate local data"}
	}
	if len(blob) == 0 {
		return MigrationSummary{Success: true, Message: "No local data to migrate"}
	}

	var sessions []*Session
	if err := json.Unmarshal(blob, &sessions); err != nil {
		m.logger.Error("migration aborted, legacy cache malformed: %v", err)
		return MigrationSummary{Success: false, Message: "Failed to migrate local data"}
	}
	if len(sessions) == 0 {
		return MigrationSummary{Success: true, Message: "No valid sessions to migrate"}
	}

	migrated := 0
	for _, s := range sessions {
		doc := docFromSession(s)
		if err := m.repo.Put(ctx, doc); err != nil {
			m.logger.Error("failed to migrate session %s, skipping: %v", s.ID, err)
			continue
		}
		migrated++
	}

	if migrated > 0 {
		if err := m.cache.ClearSessionBlob(ctx); err != nil {
			m.logger.Error("failed to clear legacy cache after migration: %v", err)
		}
		now := time.Now()
		err := m.repo.PutStats(ctx, remote.UserStats{
			TotalChats:          migrated,
			LastChatCountUpdate: now,
			MigratedAt:          now,
		})
		if err != nil {
			m.logger.Warn("failed to record migrated chat count: %v", err)
		}
	}

	m.logger.Info("migrated %d of %d legacy sessions", migrated, len(sessions))
	return MigrationSummary{
		Success: true,
		Message: fmt.Sprintf("Successfully migrated %d chat sessions", migrated),
		Count:   migrated,
	}
}

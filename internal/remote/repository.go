// Package remote defines the boundary to the durable, user-scoped document
// store that mirrors chat sessions across devices. Documents are written
// whole; there are no cross-document transactions.
package remote

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when no document exists for the given key
var ErrNotFound = errors.New("remote: document not found")

// MessageDoc is one message inside a session document
type MessageDoc struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// SessionDoc is the JSON shape of one session in the document store
type SessionDoc struct {
	ID        string       `json:"id"`
	Title     string       `json:"title"`
	Messages  []MessageDoc `json:"messages"`
	CreatedAt time.Time    `json:"createdAt"`
	UpdatedAt time.Time    `json:"updatedAt"`
}

// UserStats is the derived per-user statistics document. Counts are
// recomputed by recount, never incremented, so they self-heal after
// partial failures.
type UserStats struct {
	TotalChats          int       `json:"totalChats"`
	LastLoginAt         time.Time `json:"lastLoginAt,omitempty"`
	LastChatCountUpdate time.Time `json:"lastChatCountUpdate,omitempty"`
	MigratedAt          time.Time `json:"migratedAt,omitempty"`
}

// Repository is a keyed document store scoped to one user
type Repository interface {
	// Put writes the whole session document for the given key
	Put(ctx context.Context, doc SessionDoc) error

	// Get reads the session document for the given key
	Get(ctx context.Context, id string) (*SessionDoc, error)

	// List returns all session documents ordered by updatedAt descending
	List(ctx context.Context) ([]SessionDoc, error)

	// Delete removes the session document for the given key
	Delete(ctx context.Context, id string) error

	// Subscribe delivers the ordered session list whenever it changes.
	// The channel closes when ctx is done or the feed fails.
	Subscribe(ctx context.Context) (<-chan []SessionDoc, error)

	// PutStats merges the user statistics document
	PutStats(ctx context.Context, stats UserStats) error

	// GetStats reads the user statistics document
	GetStats(ctx context.Context) (*UserStats, error)
}

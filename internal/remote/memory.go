package remote

import (
	"context"
	"sort"
	"sync"
)

// MemoryRepository is a mutex-guarded in-process Repository used for tests
// and for running without a document-store service. Failure hooks let tests
// exercise rollback and migration error paths.
type MemoryRepository struct {
	mu    sync.Mutex
	docs  map[string]SessionDoc
	stats UserStats
	subs  []chan []SessionDoc

	// PutErr, DeleteErr and ListErr, when set, fail the corresponding
	// operation. PutErrFor fails puts for specific document ids only.
	PutErr    error
	DeleteErr error
	ListErr   error
	PutErrFor map[string]error
}

// NewMemoryRepository creates an empty in-memory repository
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{docs: make(map[string]SessionDoc)}
}

// Put writes the whole session document for the given key
func (r *MemoryRepository) Put(ctx context.Context, doc SessionDoc) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.PutErr != nil {
		return r.PutErr
	}
	if err, ok := r.PutErrFor[doc.ID]; ok {
		return err
	}
	r.docs[doc.ID] = doc
	r.notifyLocked()
	return nil
}

// Get reads the session document for the given key
func (r *MemoryRepository) Get(ctx context.Context, id string) (*SessionDoc, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	doc, ok := r.docs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &doc, nil
}

// List returns all session documents ordered by updatedAt descending
func (r *MemoryRepository) List(ctx context.Context) ([]SessionDoc, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ListErr != nil {
		return nil, r.ListErr
	}
	return r.listLocked(), nil
}

func (r *MemoryRepository) listLocked() []SessionDoc {
	docs := make([]SessionDoc, 0, len(r.docs))
	for _, doc := range r.docs {
		docs = append(docs, doc)
	}
	sort.Slice(docs, func(i, j int) bool {
		if docs[i].UpdatedAt.Equal(docs[j].UpdatedAt) {
			return docs[i].ID > docs[j].ID
		}
		return docs[i].UpdatedAt.After(docs[j].UpdatedAt)
	})
	return docs
}

// Delete removes the session document for the given key
func (r *MemoryRepository) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.DeleteErr != nil {
		return r.DeleteErr
	}
	delete(r.docs, id)
	r.notifyLocked()
	return nil
}

// Subscribe delivers the ordered session list whenever it changes
func (r *MemoryRepository) Subscribe(ctx context.Context) (<-chan []SessionDoc, error) {
	ch := make(chan []SessionDoc, 8)
	r.mu.Lock()
	r.subs = append(r.subs, ch)
	r.mu.Unlock()

	go func() {
		<-ctx.Done()
		r.mu.Lock()
		for i, sub := range r.subs {
			if sub == ch {
				r.subs = append(r.subs[:i], r.subs[i+1:]...)
				close(ch)
				break
			}
		}
		r.mu.Unlock()
	}()
	return ch, nil
}

func (r *MemoryRepository) notifyLocked() {
	docs := r.listLocked()
	for _, sub := range r.subs {
		select {
		case sub <- docs:
		default:
		}
	}
}

// PutStats merges the user statistics document
func (r *MemoryRepository) PutStats(ctx context.Context, stats UserStats) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if stats.TotalChats != 0 || !stats.LastChatCountUpdate.IsZero() {
		r.stats.TotalChats = stats.TotalChats
		r.stats.LastChatCountUpdate = stats.LastChatCountUpdate
	}
	if !stats.LastLoginAt.IsZero() {
		r.stats.LastLoginAt = stats.LastLoginAt
	}
	if !stats.MigratedAt.IsZero() {
		r.stats.MigratedAt = stats.MigratedAt
	}
	return nil
}

// GetStats reads the user statistics document
func (r *MemoryRepository) GetStats(ctx context.Context) (*UserStats, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	stats := r.stats
	return &stats, nil
}

// Len reports the number of stored documents
func (r *MemoryRepository) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.docs)
}

package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"neuroai/internal/llm"
	"neuroai/internal/logging"
	"neuroai/internal/remote"
)

// ErrBusy is returned when a submission arrives while a response stream is
// already in flight. Only one stream may run per engine at any instant.
var ErrBusy = errors.New("chat: a response stream is already in flight")

// LocalCache is the synchronous key-value boundary holding the entire
// session collection as one serialized blob. It backs the engine when no
// remote repository is bound and is the legacy-migration source.
type LocalCache interface {
	LoadSessionBlob(ctx context.Context) ([]byte, error)
	SaveSessionBlob(ctx context.Context, blob []byte) error
	ClearSessionBlob(ctx context.Context) error
}

// Engine owns the ordered session collection and mediates between the
// in-memory copy, the local cache, and the remote repository. All mutation
// goes through its methods; the remote store is a mirror, never the source
// of truth for the open session while a stream is in flight.
type Engine struct {
	provider llm.Provider
	cache    LocalCache
	repo     remote.Repository // nil when no remote repository is bound
	mirror   *mirror
	logger   *logging.Logger

	mu          sync.Mutex
	sessions    []*Session // ordered by UpdatedAt descending
	currentID   string
	state       StreamState
	cancel      context.CancelFunc
	watchCancel context.CancelFunc // stops the remote subscription
	lastID      int64

	listener func(Event)
	now      func() time.Time
	bg       sync.WaitGroup
}

// NewEngine creates an engine. repo may be nil for local-only operation.
func NewEngine(provider llm.Provider, cache LocalCache, repo remote.Repository, logger *logging.Logger) *Engine {
	e := &Engine{
		provider: provider,
		cache:    cache,
		repo:     repo,
		logger:   logger,
		now:      time.Now,
	}
	if repo != nil {
		e.mirror = newMirror(repo, logger)
	}
	return e
}

// SetListener registers the presentation-layer event callback. Events are
// delivered from engine goroutines; the listener must not block.
func (e *Engine) SetListener(fn func(Event)) {
	e.mu.Lock()
	e.listener = fn
	e.mu.Unlock()
}

// Load performs the cold load: remote collection if a repository is bound,
// otherwise the local cache; a fresh empty session if neither has data.
// The head of the ordered collection becomes current.
func (e *Engine) Load(ctx context.Context) error {
	var sessions []*Session

	if e.repo != nil {
		docs, err := e.repo.List(ctx)
		if err != nil {
			e.logger.Error("cold load from remote failed, continuing local-only: %v", err)
		} else {
			sessions = make([]*Session, 0, len(docs))
			for i := range docs {
				sessions = append(sessions, sessionFromDoc(&docs[i]))
			}
			e.logger.Info("loaded %d sessions from remote", len(sessions))
		}
	}

	if sessions == nil && e.cache != nil {
		blob, err := e.cache.LoadSessionBlob(ctx)
		if err != nil {
			e.logger.Error("cold load from local cache failed: %v", err)
		} else if len(blob) > 0 {
			if err := json.Unmarshal(blob, &sessions); err != nil {
				e.logger.Error("local cache holds malformed session blob: %v", err)
				sessions = nil
			} else {
				e.logger.Info("loaded %d sessions from local cache", len(sessions))
			}
		}
	}

	e.mu.Lock()
	e.sessions = sessions
	e.sortLocked()
	if len(e.sessions) > 0 {
		e.currentID = e.sessions[0].ID
		e.mu.Unlock()
	} else {
		e.mu.Unlock()
		e.CreateSession()
	}

	if e.repo != nil {
		wctx, cancel := context.WithCancel(context.Background())
		e.mu.Lock()
		e.watchCancel = cancel
		e.mu.Unlock()
		go e.watchRemote(wctx)
	}
	return nil
}

// CreateSession persists the previous current session if it holds messages,
// then inserts a fresh empty session at the head of the collection and makes
// it current. An in-flight stream is cancelled first.
func (e *Engine) CreateSession() SessionInfo {
	e.Cancel()

	e.mu.Lock()
	var prev *Session
	if cur := e.currentLocked(); cur != nil && len(cur.Messages) > 0 {
		cur.Title = Title(cur.Messages)
		cur.UpdatedAt = e.now()
		prev = cur.clone()
	}

	s := &Session{
		ID:        e.nextIDLocked(),
		Title:     DefaultTitle,
		Messages:  []Message{},
		CreatedAt: e.now(),
		UpdatedAt: e.now(),
	}
	e.sessions = append([]*Session{s}, e.sessions...)
	e.currentID = s.ID
	info := sessionInfo(s)
	created := s.clone()
	e.mu.Unlock()

	// The previous session's persist must not block the switch
	if prev != nil {
		e.mirrorSession(prev)
	}
	e.persistLocal()
	e.mirrorSession(created)
	e.scheduleRecount()
	e.emit(Event{Type: "sessions"})

	e.logger.Info("created session %s", info.ID)
	return info
}

// LoadSession makes the given session current. Unknown ids are a logged
// no-op since they are reachable through stale UI state.
func (e *Engine) LoadSession(id string) {
	e.Cancel()

	e.mu.Lock()
	if e.findLocked(id) == nil {
		e.mu.Unlock()
		e.logger.Warn("load of unknown session %s ignored", id)
		return
	}
	e.currentID = id
	e.mu.Unlock()
	e.emit(Event{Type: "sessions", SessionID: id})
}

// DeleteSession removes the session optimistically and issues the remote
// delete through the session's write queue. A remote failure rolls the local
// collection back to its pre-delete state and is returned to the caller. When
// the collection emptied, the fresh replacement session is created only after
// the remote delete has settled, so a rollback has nothing extra to undo.
func (e *Engine) DeleteSession(ctx context.Context, id string) error {
	e.Cancel()

	e.mu.Lock()
	idx := -1
	for i, s := range e.sessions {
		if s.ID == id {
			idx = i
			break
		}
	}
	if idx == -1 {
		e.mu.Unlock()
		e.logger.Warn("delete of unknown session %s ignored", id)
		return nil
	}

	prevSessions := make([]*Session, len(e.sessions))
	copy(prevSessions, e.sessions)
	prevCurrent := e.currentID

	e.sessions = append(e.sessions[:idx:idx], e.sessions[idx+1:]...)
	if e.currentID == id {
		if len(e.sessions) > 0 {
			e.currentID = e.sessions[0].ID
		} else {
			e.currentID = ""
		}
	}
	needFresh := len(e.sessions) == 0
	e.mu.Unlock()

	e.persistLocal()
	e.emit(Event{Type: "sessions"})

	if e.repo != nil {
		done := e.mirror.enqueue(id, "delete", func(opCtx context.Context) error {
			return e.repo.Delete(opCtx, id)
		})
		var err error
		select {
		case err = <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
		if err != nil {
			// Compensating inverse mutation: restore the pre-delete collection
			e.mu.Lock()
			e.sessions = prevSessions
			e.currentID = prevCurrent
			e.mu.Unlock()
			e.persistLocal()
			e.emit(Event{Type: "sessions"})
			return fmt.Errorf("chat: remote delete of session %s failed, deletion undone: %w", id, err)
		}
	}

	if needFresh {
		e.CreateSession()
	} else {
		e.scheduleRecount()
	}
	e.logger.Info("deleted session %s", id)
	return nil
}

// Sessions returns the ordered session list for the sidebar
func (e *Engine) Sessions() []SessionInfo {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]SessionInfo, 0, len(e.sessions))
	for _, s := range e.sessions {
		out = append(out, sessionInfo(s))
	}
	return out
}

// Messages returns a copy of the current session's message log
func (e *Engine) Messages() []Message {
	e.mu.Lock()
	defer e.mu.Unlock()
	cur := e.currentLocked()
	if cur == nil {
		return nil
	}
	out := make([]Message, len(cur.Messages))
	copy(out, cur.Messages)
	return out
}

// CurrentID returns the id of the current session, or "" when none exists
func (e *Engine) CurrentID() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.currentID
}

// State returns the stream consumer state
func (e *Engine) State() StreamState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// ProviderStatus reports the most recent health probe result
func (e *Engine) ProviderStatus() llm.Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.provider.Health().Status()
}

// SetProvider swaps the provider after a configuration change. An in-flight
// stream keeps the adapter it started with.
func (e *Engine) SetProvider(p llm.Provider) {
	e.mu.Lock()
	old := e.provider
	e.provider = p
	e.mu.Unlock()
	old.Health().Stop()
	p.Health().Start()
	e.logger.Info("provider switched to %s", p.Name())
}

// Cancel aborts the in-flight stream, if any. Idempotent; cancelling a
// completed or failed stream is a no-op. Partial output is kept.
func (e *Engine) Cancel() {
	e.mu.Lock()
	cancel := e.cancel
	e.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Flush waits for queued remote writes and background recounts. Used at
// shutdown so pending mirror work is not lost.
func (e *Engine) Flush() {
	if e.mirror != nil {
		e.mirror.flush()
	}
	e.bg.Wait()
}

// Close cancels any stream, ends the remote subscription and stops the
// mirror queues
func (e *Engine) Close() {
	e.Cancel()
	e.mu.Lock()
	watchCancel := e.watchCancel
	e.watchCancel = nil
	e.mu.Unlock()
	if watchCancel != nil {
		watchCancel()
	}
	e.bg.Wait()
	if e.mirror != nil {
		e.mirror.close()
	}
}

// currentLocked returns the current session; callers hold e.mu
func (e *Engine) currentLocked() *Session {
	return e.findLocked(e.currentID)
}

func (e *Engine) findLocked(id string) *Session {
	for _, s := range e.sessions {
		if s.ID == id {
			return s
		}
	}
	return nil
}

// nextIDLocked allocates a creation-timestamp id, bumping by a millisecond
// when two sessions are created inside the same one
func (e *Engine) nextIDLocked() string {
	id := e.now().UnixMilli()
	if id <= e.lastID {
		id = e.lastID + 1
	}
	e.lastID = id
	return newSessionID(time.UnixMilli(id))
}

// sortLocked restores updatedAt-descending order; equal timestamps keep
// their current relative order so newest-inserted stays on top
func (e *Engine) sortLocked() {
	sort.SliceStable(e.sessions, func(i, j int) bool {
		return e.sessions[i].UpdatedAt.After(e.sessions[j].UpdatedAt)
	})
}

func sessionInfo(s *Session) SessionInfo {
	return SessionInfo{
		ID:           s.ID,
		Title:        s.Title,
		MessageCount: len(s.Messages),
		CreatedAt:    s.CreatedAt,
		UpdatedAt:    s.UpdatedAt,
	}
}

// emit delivers an event to the presentation listener, if any
func (e *Engine) emit(ev Event) {
	e.mu.Lock()
	fn := e.listener
	e.mu.Unlock()
	if fn != nil {
		fn(ev)
	}
}

// persistLocal writes the whole collection to the local cache blob. Skipped
// when a remote repository is bound: the blob then only serves as the
// legacy-migration source and must not be refilled with mirrored sessions.
func (e *Engine) persistLocal() {
	if e.cache == nil || e.repo != nil {
		return
	}
	e.mu.Lock()
	blob, err := json.Marshal(e.sessions)
	e.mu.Unlock()
	if err != nil {
		e.logger.Error("failed to serialize session collection: %v", err)
		return
	}
	if err := e.cache.SaveSessionBlob(context.Background(), blob); err != nil {
		e.logger.Error("failed to write local session cache: %v", err)
	}
}

// mirrorSession schedules an asynchronous whole-document remote write for
// the given snapshot. Failures are logged, never surfaced to the
// conversation.
func (e *Engine) mirrorSession(snapshot *Session) {
	if e.repo == nil {
		return
	}
	doc := docFromSession(snapshot)
	e.mirror.enqueue(snapshot.ID, "save", func(ctx context.Context) error {
		return e.repo.Put(ctx, doc)
	})
}

// scheduleRecount recomputes the user's chat count by counting the full
// remote collection. Recount rather than increment keeps the statistic
// correct under concurrent deletes.
func (e *Engine) scheduleRecount() {
	if e.repo == nil {
		return
	}
	e.bg.Add(1)
	go func() {
		defer e.bg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		docs, err := e.repo.List(ctx)
		if err != nil {
			e.logger.Warn("chat count recount failed: %v", err)
			return
		}
		err = e.repo.PutStats(ctx, remote.UserStats{
			TotalChats:          len(docs),
			LastChatCountUpdate: e.now(),
		})
		if err != nil {
			e.logger.Warn("chat count update failed: %v", err)
			return
		}
		e.logger.Debug("chat count updated to %d", len(docs))
	}()
}

// watchRemote applies change notifications from the remote subscription.
// The in-flight session always wins locally; remote copies of other
// sessions replace the local ones.
func (e *Engine) watchRemote(ctx context.Context) {
	ch, err := e.repo.Subscribe(ctx)
	if err != nil {
		e.logger.Warn("remote subscription unavailable: %v", err)
		return
	}
	for docs := range ch {
		e.mu.Lock()
		if e.state != StateIdle {
			e.mu.Unlock()
			continue
		}
		cur := e.currentLocked()
		merged := make([]*Session, 0, len(docs))
		seenCurrent := false
		for i := range docs {
			if cur != nil && docs[i].ID == cur.ID {
				merged = append(merged, cur)
				seenCurrent = true
				continue
			}
			merged = append(merged, sessionFromDoc(&docs[i]))
		}
		if cur != nil && !seenCurrent {
			merged = append([]*Session{cur}, merged...)
		}
		e.sessions = merged
		e.sortLocked()
		e.mu.Unlock()
		e.emit(Event{Type: "sessions"})
	}
}

func sessionFromDoc(doc *remote.SessionDoc) *Session {
	msgs := make([]Message, 0, len(doc.Messages))
	for _, m := range doc.Messages {
		msgs = append(msgs, Message{Role: Role(m.Role), Content: m.Content})
	}
	return &Session{
		ID:        doc.ID,
		Title:     doc.Title,
		Messages:  msgs,
		CreatedAt: doc.CreatedAt,
		UpdatedAt: doc.UpdatedAt,
	}
}

func docFromSession(s *Session) remote.SessionDoc {
	msgs := make([]remote.MessageDoc, 0, len(s.Messages))
	for _, m := range s.Messages {
		msgs = append(msgs, remote.MessageDoc{Role: string(m.Role), Content: m.Content})
	}
	return remote.SessionDoc{
		ID:        s.ID,
		Title:     s.Title,
		Messages:  msgs,
		CreatedAt: s.CreatedAt,
		UpdatedAt: s.UpdatedAt,
	}
}

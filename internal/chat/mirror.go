package chat

import (
	"context"
	"sync"

	"neuroai/internal/logging"
	"neuroai/internal/remote"
)

// mirror applies remote repository operations asynchronously. Operations for
// the same session run on one FIFO queue so a newer write can never overtake
// an older one; different sessions proceed concurrently.
type mirror struct {
	repo   remote.Repository
	logger *logging.Logger

	mu     sync.Mutex
	queues map[string]chan queuedOp
	closed bool
	wg     sync.WaitGroup
}

type queuedOp struct {
	name string
	op   func(ctx context.Context) error
	done chan error
}

const mirrorQueueDepth = 64

func newMirror(repo remote.Repository, logger *logging.Logger) *mirror {
	return &mirror{
		repo:   repo,
		logger: logger,
		queues: make(map[string]chan queuedOp),
	}
}

// enqueue schedules op on the session's queue and returns a channel that
// receives the operation's result. Failures are logged either way.
func (m *mirror) enqueue(sessionID, name string, op func(ctx context.Context) error) <-chan error {
	done := make(chan error, 1)

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		done <- context.Canceled
		return done
	}
	q, ok := m.queues[sessionID]
	if !ok {
		q = make(chan queuedOp, mirrorQueueDepth)
		m.queues[sessionID] = q
		m.wg.Add(1)
		go m.drain(sessionID, q)
	}

	// The send happens under the lock: flush and close also close queues
	// under it, so a queue can never be closed between the closed check and
	// the send. drain never takes the lock, so a full queue still empties.
	q <- queuedOp{name: name, op: op, done: done}
	m.mu.Unlock()
	return done
}

// drain is the single worker for one session's queue
func (m *mirror) drain(sessionID string, q chan queuedOp) {
	defer m.wg.Done()
	log := m.logger.WithContext("session", sessionID)
	for item := range q {
		err := item.op(context.Background())
		if err != nil {
			log.Error("remote %s failed: %v", item.name, err)
		} else {
			log.Debug("remote %s applied", item.name)
		}
		item.done <- err
	}
}

// flush blocks until every queued operation has been applied
func (m *mirror) flush() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	queues := m.queues
	m.queues = make(map[string]chan queuedOp)
	m.closed = true
	for _, q := range queues {
		close(q)
	}
	m.mu.Unlock()
	m.wg.Wait()

	m.mu.Lock()
	m.closed = false
	m.mu.Unlock()
}

// close drains and permanently stops the mirror
func (m *mirror) close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	for _, q := range m.queues {
		close(q)
	}
	m.queues = make(map[string]chan queuedOp)
	m.mu.Unlock()
	m.wg.Wait()
}

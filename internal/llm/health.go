package llm

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"neuroai/internal/logging"
)

// Status is the tri-state provider connection status. It starts unknown and
// is refreshed by the periodic probe and by failed calls. Never persisted.
type Status int32

const (
	StatusUnknown Status = iota
	StatusConnected
	StatusDisconnected
)

func (s Status) String() string {
	switch s {
	case StatusConnected:
		return "connected"
	case StatusDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// DefaultProbeInterval is how often the health probe runs
const DefaultProbeInterval = 30 * time.Second

// Monitor runs a liveness probe on a fixed interval and keeps the most
// recent result. Send/Stream consult it to fail fast instead of making
// doomed round trips.
type Monitor struct {
	probe    func(ctx context.Context) error
	interval time.Duration
	status   atomic.Int32
	logger   *logging.Logger

	mu      sync.Mutex
	stop    chan struct{}
	stopped bool
}

// NewMonitor creates a monitor around a probe function
func NewMonitor(probe func(ctx context.Context) error, interval time.Duration, logger *logging.Logger) *Monitor {
	if interval <= 0 {
		interval = DefaultProbeInterval
	}
	return &Monitor{
		probe:    probe,
		interval: interval,
		logger:   logger,
	}
}

// Start begins periodic probing. The first probe runs immediately.
func (m *Monitor) Start() {
	m.mu.Lock()
	if m.stop != nil {
		m.mu.Unlock()
		return
	}
	m.stop = make(chan struct{})
	stop := m.stop
	m.mu.Unlock()

	go func() {
		m.runProbe()
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.runProbe()
			case <-stop:
				return
			}
		}
	}()
}

// Stop halts probing. Idempotent.
func (m *Monitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stop != nil && !m.stopped {
		close(m.stop)
		m.stopped = true
	}
}

// Status returns the most recent probe result
func (m *Monitor) Status() Status {
	return Status(m.status.Load())
}

// MarkDisconnected records a failed call without waiting for the next probe
func (m *Monitor) MarkDisconnected() {
	if m.status.Swap(int32(StatusDisconnected)) != int32(StatusDisconnected) {
		m.logger.Warn("provider marked disconnected")
	}
}

// checkLive returns ErrDisconnected when the most recent probe reported the
// backend unreachable. An unknown status does not block the call.
func (m *Monitor) checkLive() error {
	if m.Status() == StatusDisconnected {
		return ErrDisconnected
	}
	return nil
}

func (m *Monitor) runProbe() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	prev := m.Status()
	if err := m.probe(ctx); err != nil {
		m.status.Store(int32(StatusDisconnected))
		if prev != StatusDisconnected {
			m.logger.Warn("health probe failed: %v", err)
		}
		return
	}
	m.status.Store(int32(StatusConnected))
	if prev == StatusDisconnected {
		m.logger.Info("provider connection restored")
	}
}

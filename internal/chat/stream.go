package chat

import (
	"context"
	"errors"
	"io"

	"neuroai/internal/llm"
)

// Submit appends the text as a user message to the current session and
// drives one response stream against the provider. Exactly one stream may be
// in flight; ErrBusy is returned otherwise. When the most recent health
// probe reports the backend unreachable the submission fails immediately
// with llm.ErrDisconnected and no fragment is ever produced.
func (e *Engine) Submit(text string) error {
	e.mu.Lock()
	if e.state != StateIdle {
		e.mu.Unlock()
		return ErrBusy
	}

	cur := e.currentLocked()
	if cur == nil {
		e.mu.Unlock()
		e.CreateSession()
		e.mu.Lock()
		cur = e.currentLocked()
	}

	firstMessage := len(cur.Messages) == 0
	cur.Messages = append(cur.Messages, Message{Role: RoleUser, Content: text})
	cur.UpdatedAt = e.now()
	if firstMessage {
		cur.Title = Title(cur.Messages)
	}

	if e.provider.Health().Status() == llm.StatusDisconnected {
		cur.Messages = append(cur.Messages, Message{Role: RoleSystem, Content: failureNotice})
		snapshot := cur.clone()
		e.mu.Unlock()
		e.sortAndPersist(snapshot)
		e.logger.Warn("submission refused, provider disconnected")
		return llm.ErrDisconnected
	}

	e.state = StateSending
	sctx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel
	prov := e.provider
	history := providerHistory(cur.Messages[:len(cur.Messages)-1])
	snapshot := cur.clone()
	sessionID := cur.ID
	e.mu.Unlock()

	e.sortAndPersist(snapshot)
	e.emit(Event{Type: "state", SessionID: sessionID, State: StateSending.String()})

	go e.consume(sctx, prov, sessionID, text, history)
	return nil
}

// consume runs the stream consumer state machine for one submission:
// Sending until the first fragment, Streaming while fragments concatenate
// onto the assistant message, then Completed or Failed.
func (e *Engine) consume(ctx context.Context, prov llm.Provider, sessionID, prompt string, history []llm.Message) {
	stream, err := prov.Stream(ctx, prompt, history)
	if err != nil {
		e.finishFailed(sessionID, err, false)
		return
	}
	defer stream.Close()

	gotFirst := false
	for {
		frag, err := stream.Recv()
		if err == io.EOF {
			break
		}
		if err != nil {
			e.finishFailed(sessionID, err, gotFirst)
			return
		}
		if frag == "" {
			continue
		}
		if !e.applyFragment(sessionID, frag, &gotFirst) {
			return
		}
	}
	e.finishCompleted(sessionID)
}

// applyFragment grows the in-progress assistant message. The first fragment
// appends the empty assistant placeholder and moves the consumer to
// Streaming; every later fragment concatenates onto that same message.
// Returns false when the session vanished mid-stream.
func (e *Engine) applyFragment(sessionID, frag string, gotFirst *bool) bool {
	e.mu.Lock()
	s := e.findLocked(sessionID)
	if s == nil {
		e.cancel = nil
		e.state = StateIdle
		e.mu.Unlock()
		e.logger.Warn("session %s removed mid-stream, dropping response", sessionID)
		return false
	}

	first := !*gotFirst
	if first {
		*gotFirst = true
		e.state = StateStreaming
		s.Messages = append(s.Messages, Message{Role: RoleAssistant})
	}
	s.Messages[len(s.Messages)-1].Content += frag
	e.mu.Unlock()

	if first {
		e.emit(Event{Type: "state", SessionID: sessionID, State: StateStreaming.String()})
	}
	e.emit(Event{Type: "fragment", SessionID: sessionID, Fragment: frag})
	return true
}

// finishCompleted seals the assistant message and returns the consumer to
// idle. The finished session is persisted and mirrored.
func (e *Engine) finishCompleted(sessionID string) {
	e.mu.Lock()
	e.state = StateIdle
	e.cancel = nil
	var snapshot *Session
	if s := e.findLocked(sessionID); s != nil {
		s.UpdatedAt = e.now()
		snapshot = s.clone()
	}
	e.mu.Unlock()

	if snapshot != nil {
		e.sortAndPersist(snapshot)
	}
	e.emit(Event{Type: "state", SessionID: sessionID, State: StateIdle.String()})
	e.logger.Debug("stream for session %s completed", sessionID)
}

// finishFailed handles every adapter error, Cancelled and Disconnected
// included. Partial assistant output is kept; when no assistant message was
// created yet a fixed system notice is appended instead.
func (e *Engine) finishFailed(sessionID string, cause error, gotFirst bool) {
	e.mu.Lock()
	e.state = StateIdle
	e.cancel = nil
	var snapshot *Session
	if s := e.findLocked(sessionID); s != nil {
		if !gotFirst {
			s.Messages = append(s.Messages, Message{Role: RoleSystem, Content: failureNotice})
		}
		s.UpdatedAt = e.now()
		snapshot = s.clone()
	}
	e.mu.Unlock()

	if snapshot != nil {
		e.sortAndPersist(snapshot)
	}
	e.emit(Event{Type: "state", SessionID: sessionID, State: StateIdle.String()})

	switch {
	case errors.Is(cause, llm.ErrCancelled):
		e.logger.Info("stream for session %s cancelled", sessionID)
	case errors.Is(cause, llm.ErrDisconnected):
		e.logger.Warn("stream for session %s refused, provider disconnected", sessionID)
	default:
		e.logger.Error("stream for session %s failed: %v", sessionID, cause)
	}
}

// sortAndPersist restores collection order after an UpdatedAt change, then
// persists locally and mirrors the snapshot remotely
func (e *Engine) sortAndPersist(snapshot *Session) {
	e.mu.Lock()
	e.sortLocked()
	e.mu.Unlock()
	e.persistLocal()
	e.mirrorSession(snapshot)
}

// providerHistory converts the session log for the provider boundary.
// System entries are local failure notices and stay out of the model's
// conversation context.
func providerHistory(messages []Message) []llm.Message {
	out := make([]llm.Message, 0, len(messages))
	for _, m := range messages {
		if m.Role != RoleUser && m.Role != RoleAssistant {
			continue
		}
		out = append(out, llm.Message{Role: string(m.Role), Content: m.Content})
	}
	return out
}

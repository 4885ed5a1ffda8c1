package chat

import (
	"strconv"
	"time"
)

// Role identifies the author of a message
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Message is one entry in a session's conversation log
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Session is one conversation thread with an ordered message log and metadata.
// The ID is a creation timestamp rendered as a string; it doubles as the
// remote document key.
type Session struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Messages  []Message `json:"messages"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// newSessionID derives a session identifier from a creation time
func newSessionID(t time.Time) string {
	return strconv.FormatInt(t.UnixMilli(), 10)
}

// clone returns a deep copy of the session
func (s *Session) clone() *Session {
	c := *s
	c.Messages = make([]Message, len(s.Messages))
	copy(c.Messages, s.Messages)
	return &c
}

// SessionInfo is the sidebar-facing summary of a session
type SessionInfo struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	MessageCount int       `json:"message_count"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// StreamState tracks the lifecycle of one submission
type StreamState int

const (
	StateIdle StreamState = iota
	StateSending
	StateStreaming
)

func (s StreamState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSending:
		return "sending"
	case StateStreaming:
		return "streaming"
	default:
		return "unknown"
	}
}

// Event is pushed to the presentation layer as the engine's state changes
type Event struct {
	Type      string `json:"type"` // "fragment", "state", "sessions"
	SessionID string `json:"session_id,omitempty"`
	Fragment  string `json:"fragment,omitempty"`
	State     string `json:"state,omitempty"`
}

// failureNotice is appended as a system message when a stream fails before
// producing any assistant output
const failureNotice = "Sorry, I couldn't process your request. Please try again!"
